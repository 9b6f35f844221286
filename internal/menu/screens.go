package menu

import (
	"strings"

	"support-gateway/internal/inbox"
)

// ScreenID names one node of the menu tree.
type ScreenID string

const (
	ScreenMain               ScreenID = "main"
	ScreenLanguage           ScreenID = "language"
	ScreenCatalog            ScreenID = "catalog"
	ScreenCatalogAuto        ScreenID = "catalog:auto"
	ScreenCatalogMoto        ScreenID = "catalog:moto"
	ScreenContact            ScreenID = "contact"
	ScreenHelp               ScreenID = "help"
	ScreenRequest            ScreenID = "request"
	ScreenRequestAuto        ScreenID = "request:auto"
	ScreenRequestMoto        ScreenID = "request:moto"
	ScreenRequestGeneral     ScreenID = "request:general"
	ScreenRequestPartnership ScreenID = "request:partnership"
	ScreenAck                ScreenID = "ack"
	ScreenUnknown            ScreenID = "unknown"
	ScreenError              ScreenID = "error"
)

// Button is one inline keyboard button. Exactly one of Token, URL or WebAppURL is set.
type Button struct {
	Label     string
	Token     string
	URL       string
	WebAppURL string
}

// Screen is the rendered output of the state machine.
type Screen struct {
	ID   ScreenID
	Text string
	Rows [][]Button
	// Prompt, when set, is sent as a separate force-reply message so the
	// user's answer carries the prompt back in reply_to_message.
	Prompt string
}

// Tokens returns every callback token on the screen in display order.
func (s Screen) Tokens() []string {
	var out []string
	for _, row := range s.Rows {
		for _, b := range row {
			if b.Token != "" {
				out = append(out, b.Token)
			}
		}
	}
	return out
}

type renderCtx struct {
	cat     *Catalog
	lang    Lang
	siteURL string
}

func (r renderCtx) t(key string) string {
	return r.cat.Text(r.lang, key)
}

func (r renderCtx) nav(labelKey string, to ScreenID) Button {
	return Button{Label: r.t(labelKey), Token: NavToken(to)}
}

type screenDef struct {
	parent   ScreenID
	backKey  string
	build    func(r renderCtx) Screen
	category inbox.Category
}

// screens is the menu tree. Every entry except the root names a fixed parent
// that its back button leads to.
var screens = map[ScreenID]screenDef{
	ScreenMain: {build: func(r renderCtx) Screen {
		rows := [][]Button{
			{r.nav("button.auto", ScreenRequestAuto), r.nav("button.moto", ScreenRequestMoto)},
			{r.nav("button.partnership", ScreenRequestPartnership), r.nav("button.catalog", ScreenCatalog)},
			{r.nav("button.request", ScreenRequest)},
			{r.nav("button.contact", ScreenContact), r.nav("button.help", ScreenHelp)},
			{r.nav("button.language", ScreenLanguage)},
		}
		if r.siteURL != "" {
			rows = append(rows, []Button{{Label: r.t("button.website"), WebAppURL: r.siteURL}})
		}
		return Screen{Text: r.t("welcome"), Rows: rows}
	}},
	ScreenLanguage: {parent: ScreenMain, backKey: "button.back", build: func(r renderCtx) Screen {
		return Screen{Text: r.t("language.title"), Rows: [][]Button{{
			{Label: "🇺🇦 Українська", Token: LangToken(LangUK)},
			{Label: "🇬🇧 English", Token: LangToken(LangEN)},
		}}}
	}},
	ScreenCatalog: {parent: ScreenMain, backKey: "button.back", build: func(r renderCtx) Screen {
		rows := [][]Button{
			{r.nav("button.autoBrands", ScreenCatalogAuto)},
			{r.nav("button.motoBrands", ScreenCatalogMoto)},
		}
		if r.siteURL != "" {
			rows = append(rows, []Button{{Label: r.t("button.search"), URL: strings.TrimRight(r.siteURL, "/") + "/search"}})
		}
		return Screen{Text: r.t("catalog.intro"), Rows: rows}
	}},
	ScreenCatalogAuto: {parent: ScreenCatalog, backKey: "button.back", build: func(r renderCtx) Screen {
		return Screen{Text: r.t("catalog.auto"), Rows: [][]Button{{r.nav("button.orderAuto", ScreenRequestAuto)}}}
	}},
	ScreenCatalogMoto: {parent: ScreenCatalog, backKey: "button.back", build: func(r renderCtx) Screen {
		return Screen{Text: r.t("catalog.moto"), Rows: [][]Button{{r.nav("button.orderMoto", ScreenRequestMoto)}}}
	}},
	ScreenContact: {parent: ScreenMain, backKey: "button.back", build: func(r renderCtx) Screen {
		var rows [][]Button
		if r.siteURL != "" {
			rows = append(rows, []Button{{Label: r.t("button.website"), URL: r.siteURL}})
		}
		return Screen{Text: r.t("contact.text"), Rows: rows}
	}},
	ScreenHelp: {parent: ScreenMain, backKey: "button.back", build: func(r renderCtx) Screen {
		return Screen{Text: r.t("help.text")}
	}},
	ScreenRequest: {parent: ScreenMain, backKey: "button.back", build: func(r renderCtx) Screen {
		return Screen{Text: r.t("request.title"), Rows: [][]Button{
			{r.nav("category.automotive", ScreenRequestAuto), r.nav("category.motorcycle", ScreenRequestMoto)},
			{r.nav("category.general", ScreenRequestGeneral), r.nav("category.partnership", ScreenRequestPartnership)},
		}}
	}},
	ScreenRequestAuto:        intake(inbox.CategoryAutomotive),
	ScreenRequestMoto:        intake(inbox.CategoryMotorcycle),
	ScreenRequestGeneral:     intake(inbox.CategoryGeneral),
	ScreenRequestPartnership: intake(inbox.CategoryPartnership),
	ScreenAck: {parent: ScreenMain, backKey: "button.mainMenu", build: func(r renderCtx) Screen {
		return Screen{Text: r.t("ack.text")}
	}},
	ScreenUnknown: {parent: ScreenMain, backKey: "button.mainMenu", build: func(r renderCtx) Screen {
		return Screen{Text: r.t("unknown.text")}
	}},
	ScreenError: {parent: ScreenMain, backKey: "button.mainMenu", build: func(r renderCtx) Screen {
		return Screen{Text: r.t("error.text")}
	}},
}

func intake(category inbox.Category) screenDef {
	return screenDef{
		parent:   ScreenRequest,
		backKey:  "button.back",
		category: category,
		build: func(r renderCtx) Screen {
			return Screen{
				Text:   r.t("request." + string(category)),
				Prompt: r.t("prompt." + string(category)),
			}
		},
	}
}

// Parent returns the fixed back target of id. The root has none.
func Parent(id ScreenID) (ScreenID, bool) {
	def, ok := screens[id]
	if !ok || def.parent == "" {
		return "", false
	}
	return def.parent, true
}

// ScreenIDs lists every screen in the tree, sorted.
func ScreenIDs() []ScreenID {
	out := make([]ScreenID, 0, len(screens))
	for id := range screens {
		out = append(out, id)
	}
	sortScreenIDs(out)
	return out
}
