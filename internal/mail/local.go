package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Folder names inside the local mailbox file.
const (
	folderInbox   = "inbox"
	folderArchive = "archive"
	folderTrash   = "trash"
)

// storedMessage is one message plus its mailbox-side state.
type storedMessage struct {
	EmailSummary
	Folder string `json:"folder"`
}

// sentReply records an outgoing reply for inspection.
type sentReply struct {
	MessageID string    `json:"message_id"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

// mailboxFile is the on-disk JSON document.
type mailboxFile struct {
	Messages []storedMessage `json:"messages"`
	Sent     []sentReply     `json:"sent,omitempty"`
}

// LocalMailbox is a Mailbox backed by a single JSON file. It exists for
// development and offline use; a real provider implements the same interface.
// Every operation reloads and rewrites the file under a lock, which is fine
// at local-mailbox scale.
type LocalMailbox struct {
	path string
	mu   sync.Mutex
}

// NewLocal opens (or creates) a local mailbox file at path.
func NewLocal(path string) (*LocalMailbox, error) {
	m := &LocalMailbox{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := m.save(mailboxFile{}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("checking mailbox file: %w", err)
	}
	return m, nil
}

func (m *LocalMailbox) load() (mailboxFile, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return mailboxFile{}, fmt.Errorf("reading mailbox: %w", err)
	}
	var f mailboxFile
	if err := json.Unmarshal(data, &f); err != nil {
		return mailboxFile{}, fmt.Errorf("parsing mailbox: %w", err)
	}
	return f, nil
}

func (m *LocalMailbox) save(f mailboxFile) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("creating mailbox directory: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("writing mailbox: %w", err)
	}
	return nil
}

// Deliver appends messages to the inbox. Used by seeding tools and tests.
func (m *LocalMailbox) Deliver(emails ...EmailSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.load()
	if err != nil {
		return err
	}
	for _, e := range emails {
		f.Messages = append(f.Messages, storedMessage{EmailSummary: e, Folder: folderInbox})
	}
	return m.save(f)
}

func (m *LocalMailbox) FetchUnread(ctx context.Context, filter Filter) ([]EmailSummary, error) {
	return m.fetch(ctx, filter, true)
}

func (m *LocalMailbox) Fetch(ctx context.Context, filter Filter) ([]EmailSummary, error) {
	return m.fetch(ctx, filter, false)
}

func (m *LocalMailbox) fetch(ctx context.Context, filter Filter, unreadOnly bool) ([]EmailSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.load()
	if err != nil {
		return nil, err
	}

	var out []EmailSummary
	for _, msg := range f.Messages {
		if msg.Folder != folderInbox {
			continue
		}
		if unreadOnly && !msg.Unread {
			continue
		}
		if !matchesFilter(msg.EmailSummary, filter) {
			continue
		}
		out = append(out, msg.EmailSummary)
	}

	// Newest first, then cap.
	sort.Slice(out, func(i, j int) bool { return out[i].Received.After(out[j].Received) })
	if filter.Max > 0 && len(out) > filter.Max {
		out = out[:filter.Max]
	}
	return out, nil
}

func matchesFilter(e EmailSummary, f Filter) bool {
	if !f.Since.IsZero() && !e.Received.After(f.Since) {
		return false
	}
	if !f.OlderThan.IsZero() && !e.Received.Before(f.OlderThan) {
		return false
	}
	if len(f.From) > 0 {
		found := false
		for _, addr := range f.From {
			if e.From == addr {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Label != "" {
		found := false
		for _, l := range e.Labels {
			if l == f.Label {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *LocalMailbox) Archive(ctx context.Context, messageID string) (Confirmation, error) {
	return m.move(ctx, messageID, folderArchive, "archive")
}

func (m *LocalMailbox) Trash(ctx context.Context, messageID string) (Confirmation, error) {
	return m.move(ctx, messageID, folderTrash, "trash")
}

func (m *LocalMailbox) move(ctx context.Context, messageID, folder, action string) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.load()
	if err != nil {
		return Confirmation{}, err
	}
	for i := range f.Messages {
		if f.Messages[i].ID == messageID {
			f.Messages[i].Folder = folder
			if err := m.save(f); err != nil {
				return Confirmation{}, err
			}
			return Confirmation{MessageID: messageID, Action: action}, nil
		}
	}
	return Confirmation{}, fmt.Errorf("%s %s: %w", action, messageID, ErrMessageNotFound)
}

func (m *LocalMailbox) Label(ctx context.Context, messageID, label string) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.load()
	if err != nil {
		return Confirmation{}, err
	}
	for i := range f.Messages {
		if f.Messages[i].ID != messageID {
			continue
		}
		for _, l := range f.Messages[i].Labels {
			if l == label {
				return Confirmation{MessageID: messageID, Action: "label " + label}, nil
			}
		}
		f.Messages[i].Labels = append(f.Messages[i].Labels, label)
		if err := m.save(f); err != nil {
			return Confirmation{}, err
		}
		return Confirmation{MessageID: messageID, Action: "label " + label}, nil
	}
	return Confirmation{}, fmt.Errorf("label %s: %w", messageID, ErrMessageNotFound)
}

func (m *LocalMailbox) SendReply(ctx context.Context, messageID, body string) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.load()
	if err != nil {
		return Confirmation{}, err
	}
	for i := range f.Messages {
		if f.Messages[i].ID == messageID {
			f.Sent = append(f.Sent, sentReply{MessageID: messageID, Body: body, SentAt: time.Now().UTC()})
			f.Messages[i].Unread = false
			if err := m.save(f); err != nil {
				return Confirmation{}, err
			}
			return Confirmation{MessageID: messageID, Action: "reply"}, nil
		}
	}
	return Confirmation{}, fmt.Errorf("reply %s: %w", messageID, ErrMessageNotFound)
}
