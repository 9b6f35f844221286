package repo

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"support-gateway/internal/inbox"
)

func TestListConditionsNumbersPlaceholders(t *testing.T) {
	where, args := listConditions(inbox.Filter{
		Status:   inbox.StatusNew,
		Category: inbox.CategoryMotorcycle,
		Query:    "Chain",
	}, func(n int) string { return fmt.Sprintf("$%d", n) }, "LOWER")

	assert.Equal(t,
		` WHERE status = $1 AND category = $2 AND (LOWER(sender_name) LIKE $3 ESCAPE '\' OR LOWER(body) LIKE $4 ESCAPE '\')`,
		where)
	assert.Equal(t, []any{"NEW", "motorcycle", "%chain%", "%chain%"}, args)
}

func TestListConditionsEmptyFilter(t *testing.T) {
	where, args := listConditions(inbox.Filter{}, func(int) string { return "?" }, sqliteLower)
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestMetadataJSON(t *testing.T) {
	raw, err := toJSON(nil)
	assert.NoError(t, err)
	assert.Equal(t, "{}", raw)
	assert.Equal(t, map[string]string{}, fromJSON("not json"))
}
