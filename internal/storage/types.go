package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage. Empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DispatchRecord is one finished dispatch, successful or not.
type DispatchRecord struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Trigger   string    `json:"trigger"`
	Platform  string    `json:"platform"`
	Target    string    `json:"target"`
	Question  string    `json:"question,omitempty"`
	Attempts  int       `json:"attempts"`
	OK        bool      `json:"ok"`
	Skipped   string    `json:"skipped,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
}

// Store is the persistence API used by the dispatcher and the app.
type Store interface {
	AppendDispatch(ctx context.Context, r DispatchRecord) error
	// RecentDispatches returns up to limit records, newest first.
	RecentDispatches(ctx context.Context, limit int) ([]DispatchRecord, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	// GetDedup reports the stored expiry for key. Expired keys may still be returned;
	// callers compare until with their clock.
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}
