// Package menu is the stateless conversation state machine. All state a user
// carries between updates lives in the callback token they press next.
package menu

import (
	"sort"
	"strings"

	"support-gateway/internal/inbox"
)

const (
	navPrefix  = "nav:"
	langPrefix = "lang:"
)

// NavToken is the callback token that opens screen id.
func NavToken(id ScreenID) string {
	return navPrefix + string(id)
}

// LangToken is the callback token that selects lang.
func LangToken(lang Lang) string {
	return langPrefix + string(lang)
}

// Result is the outcome of one input.
type Result struct {
	Screen Screen
	// SetLanguage is non-empty when the input picked a language that must be stored.
	SetLanguage Lang
}

// Machine renders screens and interprets tokens and commands.
type Machine struct {
	cat     *Catalog
	siteURL string
}

// New builds a Machine. siteURL adds website buttons when non-empty.
func New(cat *Catalog, siteURL string) *Machine {
	return &Machine{cat: cat, siteURL: strings.TrimSpace(siteURL)}
}

// Catalog exposes the locale table used for rendering.
func (m *Machine) Catalog() *Catalog {
	return m.cat
}

// Render builds screen id in lang. Unknown ids render the unknown screen.
func (m *Machine) Render(id ScreenID, lang Lang) Screen {
	def, ok := screens[id]
	if !ok {
		id, def = ScreenUnknown, screens[ScreenUnknown]
	}
	r := renderCtx{cat: m.cat, lang: lang, siteURL: m.siteURL}
	s := def.build(r)
	s.ID = id
	if def.parent != "" {
		s.Rows = append(s.Rows, []Button{r.nav(def.backKey, def.parent)})
	}
	return s
}

// HandleToken interprets a button press. Stale or malformed tokens yield the unknown screen.
func (m *Machine) HandleToken(token string, lang Lang) Result {
	token = strings.TrimSpace(token)
	switch {
	case strings.HasPrefix(token, langPrefix):
		picked, ok := ParseLang(strings.TrimPrefix(token, langPrefix))
		if !ok {
			return Result{Screen: m.Render(ScreenUnknown, lang)}
		}
		return Result{Screen: m.Render(ScreenMain, picked), SetLanguage: picked}
	case strings.HasPrefix(token, navPrefix):
		id := ScreenID(strings.TrimPrefix(token, navPrefix))
		if _, ok := screens[id]; ok {
			return Result{Screen: m.Render(id, lang)}
		}
	}
	return Result{Screen: m.Render(ScreenUnknown, lang)}
}

var commandScreens = map[string]ScreenID{
	"menu":        ScreenMain,
	"help":        ScreenHelp,
	"language":    ScreenLanguage,
	"catalog":     ScreenCatalog,
	"contact":     ScreenContact,
	"request":     ScreenRequest,
	"auto":        ScreenRequestAuto,
	"moto":        ScreenRequestMoto,
	"partnership": ScreenRequestPartnership,
}

// ParseCommand splits "/name@bot payload" into its lower-cased name and payload.
// ok is false for text that is not a slash command.
func ParseCommand(text string) (name, payload string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// IsDirective reports whether text is a command the machine resolves to a screen.
func IsDirective(text string) bool {
	name, _, ok := ParseCommand(text)
	if !ok {
		return false
	}
	if name == "start" {
		return true
	}
	_, known := commandScreens[name]
	return known
}

// HandleCommand resolves a slash command. hasPreference reports whether the user
// already picked a language; without one /start opens the language picker.
// ok is false when text is not a known directive.
func (m *Machine) HandleCommand(text string, lang Lang, hasPreference bool) (Screen, bool) {
	name, payload, ok := ParseCommand(text)
	if !ok {
		return Screen{}, false
	}
	if name == "start" {
		if !hasPreference {
			return m.Render(ScreenLanguage, lang), true
		}
		if id, deep := commandScreens[strings.ToLower(payload)]; deep {
			return m.Render(id, lang), true
		}
		return m.Render(ScreenMain, lang), true
	}
	id, known := commandScreens[name]
	if !known {
		return Screen{}, false
	}
	return m.Render(id, lang), true
}

// CategoryFromPrompt recovers the intake category from the text of a prompt the
// user replied to, in any language.
func (m *Machine) CategoryFromPrompt(text string) (inbox.Category, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	for _, def := range screens {
		if def.category == "" {
			continue
		}
		for _, lang := range Langs {
			if m.cat.Text(lang, "prompt."+string(def.category)) == text {
				return def.category, true
			}
		}
	}
	return "", false
}

func sortScreenIDs(ids []ScreenID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
