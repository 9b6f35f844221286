package repo

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"support-gateway/internal/inbox"
)

// messageRow mirrors the inbox_messages table.
type messageRow struct {
	ID          string       `db:"id"`
	Channel     string       `db:"channel"`
	Kind        string       `db:"kind"`
	SenderName  string       `db:"sender_name"`
	SenderEmail string       `db:"sender_email"`
	SenderPhone string       `db:"sender_phone"`
	ChatUserID  int64        `db:"chat_user_id"`
	ChatID      int64        `db:"chat_id"`
	Handle      string       `db:"chat_handle"`
	Body        string       `db:"body"`
	Category    string       `db:"category"`
	Metadata    string       `db:"metadata"`
	Status      string       `db:"status"`
	UpdateID    int64        `db:"update_id"`
	CreatedAt   time.Time    `db:"created_at"`
	RepliedAt   sql.NullTime `db:"replied_at"`
}

// replyRow mirrors the inbox_replies table.
type replyRow struct {
	MessageID string    `db:"message_id"`
	Body      string    `db:"body"`
	SentAt    time.Time `db:"sent_at"`
}

const messageColumns = `id, channel, kind, sender_name, sender_email, sender_phone, chat_user_id, chat_id,
chat_handle, body, category, metadata, status, update_id, created_at, replied_at`

func (row messageRow) toMessage() inbox.Message {
	msg := inbox.Message{
		ID:          row.ID,
		Channel:     inbox.Channel(row.Channel),
		Kind:        inbox.Kind(row.Kind),
		SenderName:  row.SenderName,
		SenderEmail: row.SenderEmail,
		SenderPhone: row.SenderPhone,
		ChatUserID:  row.ChatUserID,
		ChatID:      row.ChatID,
		Handle:      row.Handle,
		Body:        row.Body,
		Category:    inbox.Category(row.Category),
		Metadata:    fromJSON(row.Metadata),
		Status:      inbox.Status(row.Status),
		UpdateID:    row.UpdateID,
		CreatedAt:   row.CreatedAt.UTC(),
		Replies:     []inbox.Reply{},
	}
	if row.RepliedAt.Valid {
		t := row.RepliedAt.Time.UTC()
		msg.RepliedAt = &t
	}
	return msg
}

func newMessageRow(id string, n inbox.NewMessage, createdAt time.Time) (messageRow, error) {
	meta, err := toJSON(n.Metadata)
	if err != nil {
		return messageRow{}, err
	}
	return messageRow{
		ID:          id,
		Channel:     string(n.Channel),
		Kind:        string(n.Kind),
		SenderName:  n.SenderName,
		SenderEmail: n.SenderEmail,
		SenderPhone: n.SenderPhone,
		ChatUserID:  n.ChatUserID,
		ChatID:      n.ChatID,
		Handle:      n.Handle,
		Body:        n.Body,
		Category:    string(n.Category),
		Metadata:    meta,
		Status:      string(inbox.StatusNew),
		UpdateID:    n.UpdateID,
		CreatedAt:   createdAt,
	}, nil
}

// attachReplies groups replies onto their messages, preserving the reply order.
func attachReplies(msgs []inbox.Message, replies []replyRow) {
	idx := make(map[string]int, len(msgs))
	for i := range msgs {
		idx[msgs[i].ID] = i
	}
	for _, r := range replies {
		i, ok := idx[r.MessageID]
		if !ok {
			continue
		}
		msgs[i].Replies = append(msgs[i].Replies, inbox.Reply{Text: r.Body, SentAt: r.SentAt.UTC()})
	}
}

// listConditions renders the WHERE clause for a filter. ph returns the
// placeholder for the n-th bound argument (1-based); lower names the SQL
// function that case-folds text the same way strings.ToLower does.
func listConditions(f inbox.Filter, ph func(n int) string, lower string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, "status = "+ph(len(args)))
	}
	if f.Category != "" {
		args = append(args, string(f.Category))
		conds = append(conds, "category = "+ph(len(args)))
	}
	if pattern := f.LikePattern(); pattern != "" {
		args = append(args, pattern)
		nameArg := ph(len(args))
		args = append(args, pattern)
		bodyArg := ph(len(args))
		conds = append(conds, fmt.Sprintf(
			`(%[1]s(sender_name) LIKE %[2]s ESCAPE '\' OR %[1]s(body) LIKE %[3]s ESCAPE '\')`, lower, nameArg, bodyArg))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func toJSON(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

func fromJSON(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func utcNow() time.Time {
	return time.Now().UTC()
}
