package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"voicepager/internal/alert"
)

var (
	ErrClosed        = errors.New("storage: closed")
	ErrUnknownDriver = errors.New("storage: unknown driver")
)

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only
}

// Message is a stored notification email.
type Message struct {
	alert.RawMessage
	ReceivedAt time.Time `json:"receivedAt"`
}

// Store is the mailbox the pipeline reads from. It also keeps the relay
// cursor: the fingerprint of the last alert pushed.
type Store interface {
	alert.Source
	// Put inserts or replaces messages by ID.
	Put(ctx context.Context, msgs ...Message) error
	// MarkRead clears the unread flag and reports how many messages changed.
	MarkRead(ctx context.Context, ids ...string) (int, error)
	GetCursor(ctx context.Context) (string, error)
	PutCursor(ctx context.Context, fingerprint string) error
	Close() error
}

// matches applies the query's sender and unread filters.
func matches(q alert.Query, m Message) bool {
	if q.UnreadOnly && !m.Unread {
		return false
	}
	if len(q.Senders) == 0 {
		return true
	}
	sender := strings.ToLower(m.Sender)
	for _, s := range q.Senders {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" && strings.Contains(sender, s) {
			return true
		}
	}
	return false
}

// newestFirst orders by receive time descending, then ID ascending.
func newestFirst(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.After(b.ReceivedAt)
		}
		return a.ID < b.ID
	})
}

func validate(msgs []Message) error {
	for i, m := range msgs {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("storage: message %d has an empty id", i)
		}
	}
	return nil
}
