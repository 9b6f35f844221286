package menu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-gateway/internal/inbox"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	cat, err := LoadCatalog(LangUK)
	require.NoError(t, err)
	return New(cat, "https://example.com")
}

func backToken(s Screen) string {
	if len(s.Rows) == 0 {
		return ""
	}
	last := s.Rows[len(s.Rows)-1]
	return last[len(last)-1].Token
}

func TestBackNavigationReachesMain(t *testing.T) {
	m := newTestMachine(t)

	for _, id := range ScreenIDs() {
		current := m.Render(id, LangEN)
		steps := 0
		for current.ID != ScreenMain {
			parent, ok := Parent(current.ID)
			require.True(t, ok, "screen %s has no parent", current.ID)
			require.Equal(t, NavToken(parent), backToken(current), "screen %s", current.ID)

			current = m.HandleToken(backToken(current), LangEN).Screen
			steps++
			require.LessOrEqual(t, steps, len(ScreenIDs()), "cycle from %s", id)
		}
	}
}

func TestEveryNavTokenResolves(t *testing.T) {
	m := newTestMachine(t)

	for _, lang := range Langs {
		for _, id := range ScreenIDs() {
			for _, token := range m.Render(id, lang).Tokens() {
				res := m.HandleToken(token, lang)
				if strings.HasPrefix(token, navPrefix) {
					assert.Equal(t, ScreenID(strings.TrimPrefix(token, navPrefix)), res.Screen.ID, token)
				} else {
					assert.Equal(t, ScreenMain, res.Screen.ID, token)
				}
			}
		}
	}
}

func TestStartWithoutPreferenceShowsLanguagePicker(t *testing.T) {
	m := newTestMachine(t)

	screen, ok := m.HandleCommand("/start", LangUK, false)
	require.True(t, ok)
	assert.Equal(t, ScreenLanguage, screen.ID)
	require.Len(t, screen.Rows[0], 2)
	assert.Equal(t, LangToken(LangUK), screen.Rows[0][0].Token)
	assert.Equal(t, LangToken(LangEN), screen.Rows[0][1].Token)

	res := m.HandleToken(screen.Rows[0][1].Token, LangUK)
	assert.Equal(t, LangEN, res.SetLanguage)
	assert.Equal(t, ScreenMain, res.Screen.ID)
	assert.Contains(t, res.Screen.Text, "Welcome to OneCompany")
}

func TestStartWithPreferenceShowsMainMenu(t *testing.T) {
	m := newTestMachine(t)

	screen, ok := m.HandleCommand("/start", LangEN, true)
	require.True(t, ok)
	assert.Equal(t, ScreenMain, screen.ID)

	screen, ok = m.HandleCommand("/start@SupportBot catalog", LangEN, true)
	require.True(t, ok)
	assert.Equal(t, ScreenCatalog, screen.ID)

	screen, ok = m.HandleCommand("/start bogus", LangEN, true)
	require.True(t, ok)
	assert.Equal(t, ScreenMain, screen.ID)
}

func TestCommands(t *testing.T) {
	m := newTestMachine(t)

	cases := map[string]ScreenID{
		"/menu":        ScreenMain,
		"/HELP":        ScreenHelp,
		"/language":    ScreenLanguage,
		"/catalog":     ScreenCatalog,
		"/contact":     ScreenContact,
		"/request":     ScreenRequest,
		"/auto":        ScreenRequestAuto,
		"/moto@bot":    ScreenRequestMoto,
		"/partnership": ScreenRequestPartnership,
	}
	for text, want := range cases {
		screen, ok := m.HandleCommand(text, LangUK, true)
		require.True(t, ok, text)
		assert.Equal(t, want, screen.ID, text)
		assert.True(t, IsDirective(text), text)
	}

	_, ok := m.HandleCommand("/unsubscribe", LangUK, true)
	assert.False(t, ok)
	assert.False(t, IsDirective("/unsubscribe"))
	assert.False(t, IsDirective("hello there"))
}

func TestUnknownTokenFallsBack(t *testing.T) {
	m := newTestMachine(t)

	for _, token := range []string{"", "nav:nowhere", "lang:ru", "buy:42"} {
		res := m.HandleToken(token, LangUK)
		assert.Equal(t, ScreenUnknown, res.Screen.ID, token)
		assert.Empty(t, res.SetLanguage, token)
		assert.Equal(t, NavToken(ScreenMain), backToken(res.Screen))
	}
}

func TestIntakeScreensPromptAndRecoverCategory(t *testing.T) {
	m := newTestMachine(t)

	cases := map[ScreenID]inbox.Category{
		ScreenRequestAuto:        inbox.CategoryAutomotive,
		ScreenRequestMoto:        inbox.CategoryMotorcycle,
		ScreenRequestGeneral:     inbox.CategoryGeneral,
		ScreenRequestPartnership: inbox.CategoryPartnership,
	}
	for id, want := range cases {
		for _, lang := range Langs {
			screen := m.Render(id, lang)
			require.NotEmpty(t, screen.Prompt, id)
			got, ok := m.CategoryFromPrompt(screen.Prompt)
			require.True(t, ok, id)
			assert.Equal(t, want, got, id)
		}
	}

	_, ok := m.CategoryFromPrompt("some unrelated bot message")
	assert.False(t, ok)
}

func TestMainMenuWebsiteButton(t *testing.T) {
	cat, err := LoadCatalog(LangUK)
	require.NoError(t, err)

	with := New(cat, "https://example.com").Render(ScreenMain, LangUK)
	last := with.Rows[len(with.Rows)-1]
	assert.Equal(t, "https://example.com", last[0].WebAppURL)

	without := New(cat, "").Render(ScreenMain, LangUK)
	for _, row := range without.Rows {
		for _, b := range row {
			assert.Empty(t, b.WebAppURL)
		}
	}
}
