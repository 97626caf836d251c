package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicepager/internal/alert"
	logx "voicepager/pkg/logx"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func msg(id, sender string, unread bool, age time.Duration) Message {
	return Message{
		RawMessage: alert.RawMessage{ID: id, Subject: "s-" + id, Body: "b-" + id, Sender: sender, Unread: unread},
		ReceivedAt: base.Add(-age),
	}
}

func drivers(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			s, err := Open(Config{}, logx.Nop())
			require.NoError(t, err)
			return s
		},
		"file": func(t *testing.T) Store {
			s, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "mail.db")}, logx.Nop())
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "mail.sqlite")}, logx.Nop())
			require.NoError(t, err)
			return s
		},
	}
}

func ids(msgs []alert.RawMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestStoreContract(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			defer s.Close()

			require.NoError(t, s.Put(ctx,
				msg("b", "Google Voice <voice-noreply@google.com>", true, time.Minute),
				msg("a", "Google Voice <voice-noreply@google.com>", true, time.Minute),
				msg("c", "5551234567.x@txt.voice.google.com", true, 0),
				msg("d", "news@example.com", true, 0),
				msg("e", "voice-noreply@google.com", false, 2*time.Minute),
			))

			q := alert.Query{Senders: []string{"TXT.voice.google.com", "voice-noreply@google.com"}, UnreadOnly: true}
			got, err := s.Candidates(ctx, q)
			require.NoError(t, err)
			if diff := cmp.Diff([]string{"c", "a", "b"}, ids(got)); diff != "" {
				t.Fatalf("order mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, "s-c", got[0].Subject)
			assert.True(t, got[0].Unread)

			q.Limit = 2
			got, err = s.Candidates(ctx, q)
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "a"}, ids(got))

			all, err := s.Candidates(ctx, alert.Query{})
			require.NoError(t, err)
			assert.Len(t, all, 5)

			n, err := s.MarkRead(ctx, "a", "e", "missing")
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			got, err = s.Candidates(ctx, alert.Query{Senders: []string{"google.com"}, UnreadOnly: true})
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "b"}, ids(got))

			// Re-putting replaces the stored copy.
			upd := msg("b", "voice-noreply@google.com", true, 0)
			upd.Subject = "updated"
			require.NoError(t, s.Put(ctx, upd))
			got, err = s.Candidates(ctx, alert.Query{Senders: []string{"voice-noreply"}, UnreadOnly: true, Limit: 1})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "updated", got[0].Subject)

			cur, err := s.GetCursor(ctx)
			require.NoError(t, err)
			assert.Empty(t, cur)
			require.NoError(t, s.PutCursor(ctx, "9dpnv5UeF75tnsNX"))
			cur, err = s.GetCursor(ctx)
			require.NoError(t, err)
			assert.Equal(t, "9dpnv5UeF75tnsNX", cur)
		})
	}
}

func TestPutRejectsEmptyID(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			require.Error(t, s.Put(context.Background(), msg(" ", "x", true, 0)))
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "redis"}, logx.Logger{})
	require.ErrorIs(t, err, ErrUnknownDriver)
}

func TestMemoryClosed(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Close())
	_, err := s.Candidates(context.Background(), alert.Query{})
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.Put(context.Background(), msg("a", "x", true, 0)), ErrClosed)
}

func TestFileStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mail.db")
	cfg := Config{Driver: "file", Path: path}

	s, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, msg("a", "voice-noreply@google.com", true, 0), msg("b", "voice-noreply@google.com", true, time.Second)))
	require.NoError(t, s.(*fileStore).Compact())
	_, err = s.MarkRead(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, s.PutCursor(ctx, "fp1"))

	// Simulate a crash: drop the handle without Close so state lives in
	// snapshot + journal, and leave a torn record at the end.
	fs := s.(*fileStore)
	_, err = fs.journal.WriteString(`{"op":"put","msgs":[{"id":"torn"`)
	require.NoError(t, err)
	require.NoError(t, fs.journal.Close())

	s2, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	got, err := s2.Candidates(ctx, alert.Query{UnreadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))
	cur, err := s2.GetCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fp1", cur)

	// Appends after the torn line still replay.
	require.NoError(t, s2.PutCursor(ctx, "fp2"))
	require.NoError(t, s2.(*fileStore).journal.Close())
	s3, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	cur, err = s3.GetCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fp2", cur)

	// Close compacts into the snapshot and empties the journal.
	require.NoError(t, s3.Close())
	st, err := os.Stat(filepath.Join(filepath.Dir(path), "mail.journal.jsonl"))
	require.NoError(t, err)
	assert.Zero(t, st.Size())
}

func TestSQLiteReopen(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "nested", "mail.sqlite"), BusyTimeout: time.Second}

	s, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, msg("a", "voice-noreply@google.com", true, 0)))
	require.NoError(t, s.PutCursor(ctx, "fp"))
	require.NoError(t, s.Close())

	s, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Candidates(ctx, alert.Query{UnreadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))
	cur, err := s.GetCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fp", cur)
}
