package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"support-gateway/internal/inbox"
)

const pgMessageColumns = `id, channel, kind, sender_name, sender_email, sender_phone, chat_user_id, chat_id,
chat_handle, body, category, metadata::text AS metadata, status, update_id, created_at, replied_at`

// PostgresRepository provides typed access to Postgres resources.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
	now    func() time.Time
}

var _ Repository = (*PostgresRepository)(nil)

// New opens a new connection pool to the database with the desired search_path.
func New(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo"),
		schema: schema,
		now:    utcNow,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, r.pool, filesystem)
}

// WithTx executes fn within a database transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, fn)
}

// CreateMessage stores a new inbox record with status NEW.
func (r *PostgresRepository) CreateMessage(ctx context.Context, in inbox.NewMessage) (*inbox.Message, error) {
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
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13, $14, $15);
`
	_, err = r.pool.Exec(ctx, q,
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

// GetMessage returns one message with its replies.
func (r *PostgresRepository) GetMessage(ctx context.Context, id string) (*inbox.Message, error) {
	return r.getMessage(ctx, r.pool, id)
}

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PostgresRepository) getMessage(ctx context.Context, q pgQuerier, id string) (*inbox.Message, error) {
	rows, err := q.Query(ctx, `SELECT `+pgMessageColumns+` FROM inbox_messages WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get inbox message: %w", err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[messageRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, inbox.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan inbox message: %w", err)
	}
	msgs := []inbox.Message{row.toMessage()}
	if err := r.loadReplies(ctx, q, msgs); err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

// ListMessages returns messages newest first.
func (r *PostgresRepository) ListMessages(ctx context.Context, filter inbox.Filter) ([]inbox.Message, error) {
	where, args := listConditions(filter, func(n int) string { return fmt.Sprintf("$%d", n) }, "LOWER")
	q := `SELECT ` + pgMessageColumns + ` FROM inbox_messages` + where + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list inbox messages: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[messageRow])
	if err != nil {
		return nil, fmt.Errorf("scan inbox messages: %w", err)
	}

	msgs := make([]inbox.Message, 0, len(records))
	for _, rec := range records {
		msgs = append(msgs, rec.toMessage())
	}
	if err := r.loadReplies(ctx, r.pool, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *PostgresRepository) loadReplies(ctx context.Context, q pgQuerier, msgs []inbox.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	rows, err := q.Query(ctx, `
SELECT message_id, body, sent_at
FROM inbox_replies
WHERE message_id = ANY($1::text[])
ORDER BY seq ASC;
`, ids)
	if err != nil {
		return fmt.Errorf("list inbox replies: %w", err)
	}
	replies, err := pgx.CollectRows(rows, pgx.RowToStructByName[replyRow])
	if err != nil {
		return fmt.Errorf("scan inbox replies: %w", err)
	}
	attachReplies(msgs, replies)
	return nil
}

// UpdateStatus sets the status of a message. Any status may follow any other.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status inbox.Status) (*inbox.Message, error) {
	if _, err := inbox.ParseStatus(string(status)); err != nil {
		return nil, err
	}
	ct, err := r.pool.Exec(ctx, `UPDATE inbox_messages SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return nil, fmt.Errorf("update inbox status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return nil, inbox.ErrNotFound
	}
	return r.GetMessage(ctx, id)
}

// AppendReply adds an operator reply and moves the message to REPLIED under a row lock,
// so concurrent appends on one message are all kept.
func (r *PostgresRepository) AppendReply(ctx context.Context, id, text string) (*inbox.Message, error) {
	if text == "" {
		return nil, inbox.ErrEmptyReply
	}
	var msg *inbox.Message
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx, `SELECT status FROM inbox_messages WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return inbox.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock inbox message: %w", err)
		}

		sentAt := r.now()
		if _, err := tx.Exec(ctx, `
INSERT INTO inbox_replies (id, message_id, body, sent_at)
VALUES ($1, $2, $3, $4);
`, uuid.NewString(), id, text, sentAt); err != nil {
			return fmt.Errorf("insert inbox reply: %w", err)
		}

		next := inbox.StatusAfterReply(inbox.Status(current))
		if _, err := tx.Exec(ctx, `UPDATE inbox_messages SET status = $2, replied_at = $3 WHERE id = $1`,
			id, string(next), sentAt); err != nil {
			return fmt.Errorf("mark inbox message replied: %w", err)
		}

		msg, err = r.getMessage(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// DeleteMessage removes a message and its replies.
func (r *PostgresRepository) DeleteMessage(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM inbox_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete inbox message: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return inbox.ErrNotFound
	}
	return nil
}

// Stats counts messages per status and category.
func (r *PostgresRepository) Stats(ctx context.Context) (inbox.Stats, error) {
	stats := inbox.Stats{ByCategory: map[inbox.Category]int{}}
	rows, err := r.pool.Query(ctx, `
SELECT status, category, COUNT(*)
FROM inbox_messages
GROUP BY status, category;
`)
	if err != nil {
		return stats, fmt.Errorf("inbox stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, category string
		var n int
		if err := rows.Scan(&status, &category, &n); err != nil {
			return stats, fmt.Errorf("scan inbox stats: %w", err)
		}
		stats.Add(inbox.Status(status), inbox.Category(category), n)
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate inbox stats: %w", err)
	}
	return stats, nil
}

// GetLanguage returns the stored language for a chat user, if any.
func (r *PostgresRepository) GetLanguage(ctx context.Context, userID int64) (string, bool, error) {
	var lang string
	err := r.pool.QueryRow(ctx, `SELECT language FROM user_preferences WHERE user_id = $1`, userID).Scan(&lang)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get language preference: %w", err)
	}
	return lang, true, nil
}

// SetLanguage upserts the language for a chat user.
func (r *PostgresRepository) SetLanguage(ctx context.Context, userID int64, language string) error {
	const q = `
INSERT INTO user_preferences (user_id, language, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET
    language = EXCLUDED.language,
    updated_at = EXCLUDED.updated_at;
`
	if _, err := r.pool.Exec(ctx, q, userID, language, r.now()); err != nil {
		return fmt.Errorf("set language preference: %w", err)
	}
	return nil
}
