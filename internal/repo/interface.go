package repo

import (
	"context"
	"io/fs"

	"support-gateway/internal/inbox"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Inbox
	inbox.Store

	// Preferences
	Preferences
}

// Preferences stores the interface language chosen per chat user.
// Concurrent writes for the same user resolve last-writer-wins.
type Preferences interface {
	GetLanguage(ctx context.Context, userID int64) (string, bool, error)
	SetLanguage(ctx context.Context, userID int64, language string) error
}
