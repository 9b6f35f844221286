package menu

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"
)

// Lang is a supported interface language code.
type Lang string

const (
	LangUK Lang = "uk"
	LangEN Lang = "en"
)

// Langs lists the supported languages in picker order.
var Langs = []Lang{LangUK, LangEN}

// ParseLang accepts a supported language code in any casing.
func ParseLang(raw string) (Lang, bool) {
	l := Lang(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Langs {
		if l == known {
			return l, true
		}
	}
	return "", false
}

func (l Lang) tag() language.Tag {
	return language.Make(string(l))
}

//go:embed locales/*.yaml
var localeFS embed.FS

type catalogFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

// Catalog holds the localized strings for every supported language.
type Catalog struct {
	fallback Lang
	keys     map[Lang]map[string]struct{}
	printers map[Lang]*message.Printer
}

// LoadCatalog reads the embedded locale tables.
func LoadCatalog(fallback Lang) (*Catalog, error) {
	return LoadCatalogFS(localeFS, fallback)
}

// LoadCatalogFS reads locales/*.yaml from fsys. Every supported language must be present.
func LoadCatalogFS(fsys fs.FS, fallback Lang) (*Catalog, error) {
	if _, ok := ParseLang(string(fallback)); !ok {
		return nil, fmt.Errorf("unsupported fallback language %q", fallback)
	}
	paths, err := fs.Glob(fsys, "locales/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locales: %w", err)
	}
	sort.Strings(paths)

	builder := catalog.NewBuilder(catalog.Fallback(fallback.tag()))
	c := &Catalog{
		fallback: fallback,
		keys:     map[Lang]map[string]struct{}{},
		printers: map[Lang]*message.Printer{},
	}
	for _, path := range paths {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", path, err)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse locale %s: %w", path, err)
		}
		lang, ok := ParseLang(file.Locale)
		if !ok {
			return nil, fmt.Errorf("locale %s: unsupported language %q", path, file.Locale)
		}
		if _, dup := c.keys[lang]; dup {
			return nil, fmt.Errorf("locale %s: language %q already loaded", path, lang)
		}
		keys := make(map[string]struct{}, len(file.Messages))
		for key, value := range file.Messages {
			if err := builder.SetString(lang.tag(), key, value); err != nil {
				return nil, fmt.Errorf("locale %s: key %q: %w", path, key, err)
			}
			keys[key] = struct{}{}
		}
		c.keys[lang] = keys
	}

	for _, lang := range Langs {
		if _, ok := c.keys[lang]; !ok {
			return nil, fmt.Errorf("missing locale table for %q", lang)
		}
		c.printers[lang] = message.NewPrinter(lang.tag(), message.Catalog(builder))
	}
	return c, nil
}

// Fallback is the language used for users without a stored preference.
func (c *Catalog) Fallback() Lang {
	return c.fallback
}

// Text renders key in lang, formatting args into the localized template.
func (c *Catalog) Text(lang Lang, key string, args ...any) string {
	p, ok := c.printers[lang]
	if !ok {
		p = c.printers[c.fallback]
	}
	return p.Sprintf(key, args...)
}

// Has reports whether lang defines key.
func (c *Catalog) Has(lang Lang, key string) bool {
	_, ok := c.keys[lang][key]
	return ok
}

// Keys returns the sorted keys defined for lang.
func (c *Catalog) Keys(lang Lang) []string {
	out := make([]string, 0, len(c.keys[lang]))
	for key := range c.keys[lang] {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
