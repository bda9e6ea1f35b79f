// Package mail defines the mailbox boundary the agents work against.
// Implementations wrap a real provider; tests use in-memory fakes.
package mail

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors mailbox implementations return so callers can distinguish
// retryable conditions from permanent ones.
var (
	ErrAuthExpired     = errors.New("mailbox authorization expired")
	ErrRateLimited     = errors.New("mailbox rate limited")
	ErrTransient       = errors.New("transient mailbox error")
	ErrMessageNotFound = errors.New("message not found")
)

// EmailSummary is the slice of a message the agents operate on. Bodies are
// truncated by the provider; agents never see raw MIME.
type EmailSummary struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"thread_id,omitempty"`
	From     string    `json:"from"`
	To       []string  `json:"to,omitempty"`
	Subject  string    `json:"subject"`
	Snippet  string    `json:"snippet"`
	Received time.Time `json:"received"`
	Unread   bool      `json:"unread"`
	Labels   []string  `json:"labels,omitempty"`
}

// Filter narrows a mailbox fetch.
type Filter struct {
	Max       int       // cap on returned messages; 0 means provider default
	Since     time.Time // only messages received after this instant
	From      []string  // restrict to these sender addresses
	OlderThan time.Time // only messages received before this instant
	Label     string    // restrict to one label/folder
}

// Confirmation reports a mutation the mailbox performed.
type Confirmation struct {
	MessageID string
	Action    string
}

// Mailbox is the provider-facing interface. All methods honor ctx
// cancellation; mutations return a Confirmation describing what was done.
type Mailbox interface {
	FetchUnread(ctx context.Context, f Filter) ([]EmailSummary, error)
	Fetch(ctx context.Context, f Filter) ([]EmailSummary, error)
	Archive(ctx context.Context, messageID string) (Confirmation, error)
	Trash(ctx context.Context, messageID string) (Confirmation, error)
	Label(ctx context.Context, messageID, label string) (Confirmation, error)
	SendReply(ctx context.Context, messageID, body string) (Confirmation, error)
}
