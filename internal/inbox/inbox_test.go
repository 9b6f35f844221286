package inbox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusIgnoresCase(t *testing.T) {
	s, err := ParseStatus(" archived ")
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, s)

	_, err = ParseStatus("COMPLETED")
	assert.True(t, errors.Is(err, ErrInvalidStatus))
}

func TestParseCategoryAliases(t *testing.T) {
	cases := map[string]Category{
		"":            CategoryGeneral,
		"auto":        CategoryAutomotive,
		"Moto":        CategoryMotorcycle,
		"partnership": CategoryPartnership,
	}
	for raw, want := range cases {
		got, err := ParseCategory(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseCategory("boats")
	assert.ErrorIs(t, err, ErrInvalidCategory)
}

func TestStatusAfterReplyKeepsArchived(t *testing.T) {
	assert.Equal(t, StatusReplied, StatusAfterReply(StatusNew))
	assert.Equal(t, StatusReplied, StatusAfterReply(StatusRead))
	assert.Equal(t, StatusReplied, StatusAfterReply(StatusReplied))
	assert.Equal(t, StatusArchived, StatusAfterReply(StatusArchived))
}

func TestNormalizeRequiresSender(t *testing.T) {
	_, err := NewMessage{Body: "hello"}.Normalize()
	assert.ErrorIs(t, err, ErrMissingSender)

	n, err := NewMessage{SenderEmail: " a@b.c ", Handle: "@someone"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", n.SenderEmail)
	assert.Equal(t, "someone", n.Handle)
	assert.Equal(t, ChannelWeb, n.Channel)
	assert.Equal(t, KindIncoming, n.Kind)
	assert.Equal(t, CategoryGeneral, n.Category)
	assert.NotNil(t, n.Metadata)
}

func TestPlaceholderEmail(t *testing.T) {
	addr := PlaceholderEmail(42)
	assert.Equal(t, "tg42@telegram.invalid", addr)
	assert.True(t, IsPlaceholderEmail(addr))
	assert.False(t, IsPlaceholderEmail("client@example.com"))
}

func TestLikePatternEscapesWildcards(t *testing.T) {
	assert.Equal(t, "", Filter{}.LikePattern())
	assert.Equal(t, `%50\%\_off%`, Filter{Query: "50%_OFF"}.LikePattern())
}

func TestStatsAdd(t *testing.T) {
	var s Stats
	s.Add(StatusNew, CategoryAutomotive, 2)
	s.Add(StatusArchived, CategoryGeneral, 1)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.New)
	assert.Equal(t, 1, s.Archived)
	assert.Equal(t, 2, s.ByCategory[CategoryAutomotive])
}
