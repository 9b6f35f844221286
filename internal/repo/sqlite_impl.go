package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"support-gateway/internal/inbox"
)

// -- Inbox --

func (r *SQLiteRepository) CreateMessage(ctx context.Context, in inbox.NewMessage) (*inbox.Message, error) {
	n, err := in.Normalize()
	if err != nil {
		return nil, err
	}
	row, err := newMessageRow(uuid.NewString(), n, r.now())
	if err != nil {
		return nil, err
	}

	const q = `
INSERT INTO inbox_messages (id, channel, kind, sender_name, sender_email, sender_phone, chat_user_id, chat_id,
    chat_handle, body, category, metadata, status, update_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err = r.db.ExecContext(ctx, q,
		row.ID, row.Channel, row.Kind, row.SenderName, row.SenderEmail, row.SenderPhone,
		row.ChatUserID, row.ChatID, row.Handle, row.Body, row.Category, row.Metadata,
		row.Status, row.UpdateID, row.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert inbox message: %w", err)
	}
	msg := row.toMessage()
	return &msg, nil
}

func (r *SQLiteRepository) GetMessage(ctx context.Context, id string) (*inbox.Message, error) {
	return r.getMessage(ctx, r.db, id)
}

func (r *SQLiteRepository) getMessage(ctx context.Context, q sqlx.QueryerContext, id string) (*inbox.Message, error) {
	var row messageRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+messageColumns+` FROM inbox_messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, inbox.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get inbox message: %w", err)
	}
	msgs := []inbox.Message{row.toMessage()}
	if err := r.loadReplies(ctx, q, msgs); err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

func (r *SQLiteRepository) ListMessages(ctx context.Context, filter inbox.Filter) ([]inbox.Message, error) {
	where, args := listConditions(filter, func(int) string { return "?" }, sqliteLower)
	q := `SELECT ` + messageColumns + ` FROM inbox_messages` + where + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list inbox messages: %w", err)
	}
	msgs := make([]inbox.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toMessage())
	}
	if err := r.loadReplies(ctx, r.db, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *SQLiteRepository) loadReplies(ctx context.Context, q sqlx.QueryerContext, msgs []inbox.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	query, args, err := sqlx.In(`
SELECT message_id, body, sent_at
FROM inbox_replies
WHERE message_id IN (?)
ORDER BY seq ASC;
`, ids)
	if err != nil {
		return fmt.Errorf("build inbox replies query: %w", err)
	}
	var replies []replyRow
	if err := sqlx.SelectContext(ctx, q, &replies, query, args...); err != nil {
		return fmt.Errorf("list inbox replies: %w", err)
	}
	attachReplies(msgs, replies)
	return nil
}

func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status inbox.Status) (*inbox.Message, error) {
	if _, err := inbox.ParseStatus(string(status)); err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE inbox_messages SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return nil, fmt.Errorf("update inbox status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, inbox.ErrNotFound
	}
	return r.GetMessage(ctx, id)
}

func (r *SQLiteRepository) AppendReply(ctx context.Context, id, text string) (*inbox.Message, error) {
	if text == "" {
		return nil, inbox.ErrEmptyReply
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append reply: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.GetContext(ctx, &current, `SELECT status FROM inbox_messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, inbox.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read inbox status: %w", err)
	}

	sentAt := r.now()
	if _, err := tx.ExecContext(ctx, `INSERT INTO inbox_replies (id, message_id, body, sent_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), id, text, sentAt); err != nil {
		return nil, fmt.Errorf("insert inbox reply: %w", err)
	}
	next := inbox.StatusAfterReply(inbox.Status(current))
	if _, err := tx.ExecContext(ctx, `UPDATE inbox_messages SET status = ?, replied_at = ? WHERE id = ?`,
		string(next), sentAt, id); err != nil {
		return nil, fmt.Errorf("mark inbox message replied: %w", err)
	}

	msg, err := r.getMessage(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append reply: %w", err)
	}
	return msg, nil
}

func (r *SQLiteRepository) DeleteMessage(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM inbox_replies WHERE message_id = ?`, id); err != nil {
		return fmt.Errorf("delete inbox replies: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM inbox_messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete inbox message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return inbox.ErrNotFound
	}
	return tx.Commit()
}

func (r *SQLiteRepository) Stats(ctx context.Context) (inbox.Stats, error) {
	stats := inbox.Stats{ByCategory: map[inbox.Category]int{}}
	var groups []struct {
		Status   string `db:"status"`
		Category string `db:"category"`
		N        int    `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &groups, `
SELECT status, category, COUNT(*) AS n
FROM inbox_messages
GROUP BY status, category;
`); err != nil {
		return stats, fmt.Errorf("inbox stats: %w", err)
	}
	for _, g := range groups {
		stats.Add(inbox.Status(g.Status), inbox.Category(g.Category), g.N)
	}
	return stats, nil
}

// -- Preferences --

func (r *SQLiteRepository) GetLanguage(ctx context.Context, userID int64) (string, bool, error) {
	var lang string
	err := r.db.GetContext(ctx, &lang, `SELECT language FROM user_preferences WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get language preference: %w", err)
	}
	return lang, true, nil
}

func (r *SQLiteRepository) SetLanguage(ctx context.Context, userID int64, language string) error {
	const q = `
INSERT INTO user_preferences (user_id, language, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    language = excluded.language,
    updated_at = excluded.updated_at;
`
	if _, err := r.db.ExecContext(ctx, q, userID, language, r.now()); err != nil {
		return fmt.Errorf("set language preference: %w", err)
	}
	return nil
}
