// Package inbox holds the support inbox record shared by the chat gateway,
// the public contact form and the admin API.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no message has the requested id.
	ErrNotFound = errors.New("inbox message not found")
	// ErrMissingSender is returned when neither a sender name nor an e-mail is present.
	ErrMissingSender = errors.New("inbox message needs a sender name or e-mail")
	// ErrInvalidStatus is returned for status values outside the lifecycle.
	ErrInvalidStatus = errors.New("invalid inbox status")
	// ErrInvalidCategory is returned for unknown categories.
	ErrInvalidCategory = errors.New("invalid inbox category")
	// ErrEmptyReply is returned when an operator reply has no text.
	ErrEmptyReply = errors.New("reply text is empty")
)

// Status is the triage state of a message.
type Status string

const (
	StatusNew      Status = "NEW"
	StatusRead     Status = "READ"
	StatusReplied  Status = "REPLIED"
	StatusArchived Status = "ARCHIVED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusNew, StatusRead, StatusReplied, StatusArchived}

// ParseStatus accepts any casing of a known status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Statuses {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// StatusAfterReply is the status a message moves to when an operator reply is appended.
// Archived messages stay archived.
func StatusAfterReply(current Status) Status {
	if current == StatusArchived {
		return StatusArchived
	}
	return StatusReplied
}

// Category classifies what the sender is asking about.
type Category string

const (
	CategoryGeneral     Category = "general"
	CategoryAutomotive  Category = "automotive"
	CategoryMotorcycle  Category = "motorcycle"
	CategoryPartnership Category = "partnership"
)

// Categories lists every known category.
var Categories = []Category{CategoryGeneral, CategoryAutomotive, CategoryMotorcycle, CategoryPartnership}

// ParseCategory accepts known categories and the short aliases used by the site forms.
// An empty value maps to general.
func ParseCategory(raw string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "general":
		return CategoryGeneral, nil
	case "automotive", "auto", "car":
		return CategoryAutomotive, nil
	case "motorcycle", "moto":
		return CategoryMotorcycle, nil
	case "partnership", "partner":
		return CategoryPartnership, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
}

// Channel is the transport a message arrived through and replies go back through.
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelWeb      Channel = "web"
)

// Kind distinguishes menu traffic from actionable requests.
type Kind string

const (
	KindIncoming    Kind = "incoming"
	KindCommand     Kind = "command"
	KindContactForm Kind = "contact_form"
)

// Reply is one operator answer. Replies are append-only.
type Reply struct {
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

// Message is one inbound support contact.
type Message struct {
	ID          string            `json:"id"`
	Channel     Channel           `json:"channel"`
	Kind        Kind              `json:"kind"`
	SenderName  string            `json:"userName"`
	SenderEmail string            `json:"email,omitempty"`
	SenderPhone string            `json:"phone,omitempty"`
	ChatUserID  int64             `json:"telegramId,omitempty"`
	ChatID      int64             `json:"chatId,omitempty"`
	Handle      string            `json:"username,omitempty"`
	Body        string            `json:"messageText"`
	Category    Category          `json:"category"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Status      Status            `json:"status"`
	UpdateID    int64             `json:"updateId,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	RepliedAt   *time.Time        `json:"repliedAt,omitempty"`
	Replies     []Reply           `json:"replies"`
}

// NewMessage carries the caller-supplied fields of a message; id, status and
// timestamps are assigned by the store.
type NewMessage struct {
	Channel     Channel
	Kind        Kind
	SenderName  string
	SenderEmail string
	SenderPhone string
	ChatUserID  int64
	ChatID      int64
	Handle      string
	Body        string
	Category    Category
	Metadata    map[string]string
	UpdateID    int64
}

// Normalize trims the input, fills defaults and enforces the sender rule.
func (n NewMessage) Normalize() (NewMessage, error) {
	n.SenderName = strings.TrimSpace(n.SenderName)
	n.SenderEmail = strings.TrimSpace(n.SenderEmail)
	n.SenderPhone = strings.TrimSpace(n.SenderPhone)
	n.Handle = strings.TrimPrefix(strings.TrimSpace(n.Handle), "@")
	if n.SenderName == "" && n.SenderEmail == "" {
		return n, ErrMissingSender
	}
	if n.Channel == "" {
		n.Channel = ChannelWeb
	}
	if n.Kind == "" {
		n.Kind = KindIncoming
	}
	if n.Category == "" {
		n.Category = CategoryGeneral
	}
	if n.Metadata == nil {
		n.Metadata = map[string]string{}
	}
	return n, nil
}

// PlaceholderEmail synthesizes a non-routable address for senders known only by chat id.
func PlaceholderEmail(chatUserID int64) string {
	return fmt.Sprintf("tg%d@telegram.invalid", chatUserID)
}

// IsPlaceholderEmail reports whether addr was produced by PlaceholderEmail.
func IsPlaceholderEmail(addr string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(addr)), ".invalid")
}

// Filter narrows a listing. Zero values match everything.
type Filter struct {
	Status   Status
	Category Category
	Query    string
	Limit    int
}

// LikePattern returns the lower-cased SQL LIKE pattern for Query with wildcards escaped by '\'.
func (f Filter) LikePattern() string {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return ""
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

// Stats aggregates the inbox on read.
type Stats struct {
	Total      int              `json:"total"`
	New        int              `json:"new"`
	Read       int              `json:"read"`
	Replied    int              `json:"replied"`
	Archived   int              `json:"archived"`
	ByCategory map[Category]int `json:"byCategory"`
}

// Add folds n messages with the given status and category into the totals.
func (s *Stats) Add(status Status, category Category, n int) {
	if s.ByCategory == nil {
		s.ByCategory = map[Category]int{}
	}
	s.Total += n
	switch status {
	case StatusNew:
		s.New += n
	case StatusRead:
		s.Read += n
	case StatusReplied:
		s.Replied += n
	case StatusArchived:
		s.Archived += n
	}
	s.ByCategory[category] += n
}

// Store is the persistence contract shared by the gateway and the admin API.
// Writes are atomic per message record.
type Store interface {
	CreateMessage(ctx context.Context, msg NewMessage) (*Message, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, filter Filter) ([]Message, error)
	UpdateStatus(ctx context.Context, id string, status Status) (*Message, error)
	AppendReply(ctx context.Context, id, text string) (*Message, error)
	DeleteMessage(ctx context.Context, id string) error
	Stats(ctx context.Context) (Stats, error)
}
