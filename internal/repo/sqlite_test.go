package repo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-gateway/internal/inbox"
	"support-gateway/migrations"
)

func newTestSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "inbox.db"), logger)
	require.NoError(t, err)
	t.Cleanup(r.Close)

	require.NoError(t, r.RunMigrations(ctx, migrations.SQLite()))

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	r.now = func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Second)
	}
	return r
}

func TestSQLiteMigrationsAreIdempotent(t *testing.T) {
	r := newTestSQLite(t)
	require.NoError(t, r.RunMigrations(context.Background(), migrations.SQLite()))

	var versions []string
	require.NoError(t, r.db.Select(&versions, `SELECT version FROM schema_migrations`))
	assert.Equal(t, []string{"001_init"}, versions)
}

func TestSQLiteCreateAndGetMessage(t *testing.T) {
	ctx := context.Background()
	r := newTestSQLite(t)

	created, err := r.CreateMessage(ctx, inbox.NewMessage{
		Channel:     inbox.ChannelTelegram,
		SenderName:  "Olena",
		SenderEmail: inbox.PlaceholderEmail(77),
		ChatUserID:  77,
		ChatID:      77,
		Handle:      "@olena",
		Body:        "Need a quote for brake pads",
		Category:    inbox.CategoryAutomotive,
		Metadata:    map[string]string{"language": "uk"},
		UpdateID:    1001,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, inbox.StatusNew, created.Status)

	got, err := r.GetMessage(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Olena", got.SenderName)
	assert.Equal(t, "olena", got.Handle)
	assert.Equal(t, int64(77), got.ChatUserID)
	assert.Equal(t, inbox.CategoryAutomotive, got.Category)
	assert.Equal(t, "uk", got.Metadata["language"])
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
	assert.Empty(t, got.Replies)
	assert.Nil(t, got.RepliedAt)
}

func TestSQLiteCreateRequiresSender(t *testing.T) {
	r := newTestSQLite(t)
	_, err := r.CreateMessage(context.Background(), inbox.NewMessage{Body: "anonymous"})
	assert.ErrorIs(t, err, inbox.ErrMissingSender)
}

func TestSQLiteGetMissingMessage(t *testing.T) {
	r := newTestSQLite(t)
	_, err := r.GetMessage(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, inbox.ErrNotFound)

	_, err = r.UpdateStatus(context.Background(), "does-not-exist", inbox.StatusRead)
	assert.ErrorIs(t, err, inbox.ErrNotFound)

	_, err = r.AppendReply(context.Background(), "does-not-exist", "hi")
	assert.ErrorIs(t, err, inbox.ErrNotFound)

	assert.ErrorIs(t, r.DeleteMessage(context.Background(), "does-not-exist"), inbox.ErrNotFound)
}

func TestSQLiteListNewestFirstWithFilters(t *testing.T) {
	ctx := context.Background()
	r := newTestSQLite(t)

	first, err := r.CreateMessage(ctx, inbox.NewMessage{SenderName: "Alice", Body: "wheel alignment", Category: inbox.CategoryAutomotive})
	require.NoError(t, err)
	second, err := r.CreateMessage(ctx, inbox.NewMessage{SenderName: "Bob", Body: "helmet sizes", Category: inbox.CategoryMotorcycle})
	require.NoError(t, err)
	third, err := r.CreateMessage(ctx, inbox.NewMessage{SenderName: "Carol", Body: "50% off?", Category: inbox.CategoryGeneral})
	require.NoError(t, err)

	all, err := r.ListMessages(ctx, inbox.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	moto, err := r.ListMessages(ctx, inbox.Filter{Category: inbox.CategoryMotorcycle})
	require.NoError(t, err)
	require.Len(t, moto, 1)
	assert.Equal(t, second.ID, moto[0].ID)

	byName, err := r.ListMessages(ctx, inbox.Filter{Query: "ALI"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, first.ID, byName[0].ID)

	literal, err := r.ListMessages(ctx, inbox.Filter{Query: "50%"})
	require.NoError(t, err)
	require.Len(t, literal, 1)
	assert.Equal(t, third.ID, literal[0].ID)

	_, err = r.UpdateStatus(ctx, first.ID, inbox.StatusArchived)
	require.NoError(t, err)
	archived, err := r.ListMessages(ctx, inbox.Filter{Status: inbox.StatusArchived})
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, first.ID, archived[0].ID)

	limited, err := r.ListMessages(ctx, inbox.Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLiteListMatchesCyrillicIgnoringCase(t *testing.T) {
	ctx := context.Background()
	r := newTestSQLite(t)

	olena, err := r.CreateMessage(ctx, inbox.NewMessage{SenderName: "Олена", Body: "Потрібен Акрапович"})
	require.NoError(t, err)
	_, err = r.CreateMessage(ctx, inbox.NewMessage{SenderName: "Taras", Body: "helmet"})
	require.NoError(t, err)

	for _, q := range []string{"Олена", "олена", "ОЛЕНА", "Акрапович", "акрапович"} {
		got, err := r.ListMessages(ctx, inbox.Filter{Query: q})
		require.NoError(t, err, q)
		require.Len(t, got, 1, q)
		assert.Equal(t, olena.ID, got[0].ID, q)
	}
}

func TestSQLiteStatusTransitionsAreUnrestricted(t *testing.T) {
	ctx := context.Background()
	r := newTestSQLite(t)

	msg, err := r.CreateMessage(ctx, inbox.NewMessage{SenderName: "Dana"})
	require.NoError(t, err)

	for _, status := range []inbox.Status{inbox.StatusArchived, inbox.StatusRead, inbox.StatusNew, inbox.StatusReplied} {
		updated, err := r.UpdateStatus(ctx, msg.ID, status)
		require.NoError(t, err)
		assert.Equal(t, status, updated.Status)

		reread, err := r.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, status, reread.Status)
	}

	_, err = r.UpdateStatus(ctx, msg.ID, inbox.Status("DONE"))
	assert.ErrorIs(t, err, inbox.ErrInvalidStatus)
}

func TestSQLiteAppendReplyMarksReplied(t *testing.T) {
	ctx := context.Background()
	r := newTestSQLite(t)

	msg, err := r.CreateMessage(ctx, inbox.NewMessage{SenderName: "Eve", Body: "question"})
	require.NoError(t, err)

	updated, err := r.AppendReply(ctx, msg.ID, "first answer")
	require.NoError(t, err)
	assert.Equal(t, inbox.StatusReplied, updated.Status)
	require.NotNil(t, updated.RepliedAt)
	require.Len(t, updated.Replies, 1)
	assert.Equal(t, "first answer", updated.Replies[0].Text)

	updated, err = r.AppendReply(ctx, msg.ID, "second answer")
	require.NoError(t, err)
	require.Len(t, updated.Replies, 2)
	assert.Equal(t, "second answer", updated.Replies[1].Text)
	assert.True(t, updated.Replies[1].SentAt.Equal(*updated.RepliedAt))

	_, err = r.AppendReply(ctx, msg.ID, "")
	assert.ErrorIs(t, err, inbox.ErrEmptyReply)
}

func TestSQLiteAppendReplyKeepsArchived(t *testing.T) {
	ctx := context.Background()
	r := newTestSQLite(t)

	msg, err := r.CreateMessage(ctx, inbox.NewMessage{SenderName: "Finn"})
	require.NoError(t, err)
	_, err = r.UpdateStatus(ctx, msg.ID, inbox.StatusArchived)
	require.NoError(t, err)

	updated, err := r.AppendReply(ctx, msg.ID, "late answer")
	require.NoError(t, err)
	assert.Equal(t, inbox.StatusArchived, updated.Status)
	assert.Len(t, updated.Replies, 1)
}

func TestSQLiteConcurrentAppendsKeepEveryReply(t *testing.T) {
	ctx := context.Background()
	r := newTestSQLite(t)

	msg, err := r.CreateMessage(ctx, inbox.NewMessage{SenderName: "Gus"})
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.AppendReply(ctx, msg.ID, fmt.Sprintf("reply-%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := r.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, got.Replies, n)
	want := make([]string, 0, n)
	texts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		want = append(want, fmt.Sprintf("reply-%d", i))
		texts = append(texts, got.Replies[i].Text)
	}
	assert.ElementsMatch(t, want, texts)
	assert.Equal(t, inbox.StatusReplied, got.Status)
}

func TestSQLiteDeleteRemovesReplies(t *testing.T) {
	ctx := context.Background()
	r := newTestSQLite(t)

	msg, err := r.CreateMessage(ctx, inbox.NewMessage{SenderName: "Hana"})
	require.NoError(t, err)
	_, err = r.AppendReply(ctx, msg.ID, "bye")
	require.NoError(t, err)

	require.NoError(t, r.DeleteMessage(ctx, msg.ID))
	_, err = r.GetMessage(ctx, msg.ID)
	assert.ErrorIs(t, err, inbox.ErrNotFound)

	var left int
	require.NoError(t, r.db.Get(&left, `SELECT COUNT(*) FROM inbox_replies`))
	assert.Zero(t, left)
}

func TestSQLiteStats(t *testing.T) {
	ctx := context.Background()
	r := newTestSQLite(t)

	a, err := r.CreateMessage(ctx, inbox.NewMessage{SenderName: "A", Category: inbox.CategoryAutomotive})
	require.NoError(t, err)
	b, err := r.CreateMessage(ctx, inbox.NewMessage{SenderName: "B", Category: inbox.CategoryAutomotive})
	require.NoError(t, err)
	_, err = r.CreateMessage(ctx, inbox.NewMessage{SenderName: "C", Category: inbox.CategoryPartnership})
	require.NoError(t, err)

	_, err = r.UpdateStatus(ctx, a.ID, inbox.StatusRead)
	require.NoError(t, err)
	_, err = r.AppendReply(ctx, b.ID, "done")
	require.NoError(t, err)

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.New)
	assert.Equal(t, 1, stats.Read)
	assert.Equal(t, 1, stats.Replied)
	assert.Equal(t, 0, stats.Archived)
	assert.Equal(t, 2, stats.ByCategory[inbox.CategoryAutomotive])
	assert.Equal(t, 1, stats.ByCategory[inbox.CategoryPartnership])
}

func TestSQLiteLanguagePreference(t *testing.T) {
	ctx := context.Background()
	r := newTestSQLite(t)

	_, ok, err := r.GetLanguage(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.SetLanguage(ctx, 42, "en"))
	lang, ok, err := r.GetLanguage(ctx, 42)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "en", lang)

	require.NoError(t, r.SetLanguage(ctx, 42, "uk"))
	lang, _, err = r.GetLanguage(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "uk", lang)
}
