package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"voicepager/internal/alert"
	logx "voicepager/pkg/logx"
)

// compactEvery is the number of journal records that triggers a snapshot.
const compactEvery = 500

// fileStore persists a memStore as:
//
//	<prefix>.snapshot.json  full state, replaced atomically on compaction
//	<prefix>.journal.jsonl  operations appended since the snapshot
type fileStore struct {
	log logx.Logger
	mem *memStore

	mu       sync.Mutex // serializes journal writes; taken before mem.mu
	journal  *os.File
	snapPath string
	writes   int
}

type journalOp struct {
	Op     string    `json:"op"` // put, read, cursor
	Msgs   []Message `json:"msgs,omitempty"`
	IDs    []string  `json:"ids,omitempty"`
	Cursor string    `json:"cursor,omitempty"`
}

type snapshot struct {
	Messages []Message `json:"messages"`
	Cursor   string    `json:"cursor"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage: path is required for the file driver")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	s := &fileStore{
		log:      log,
		mem:      newMemStore(),
		snapPath: prefix + ".snapshot.json",
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	journalPath := prefix + ".journal.jsonl"
	skipped, err := s.replay(journalPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if skipped > 0 {
		log.Warn("skipped corrupt journal records", logx.Int("count", skipped), logx.String("path", journalPath))
	}

	s.journal, err = os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := terminateLastLine(s.journal); err != nil {
		_ = s.journal.Close()
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("messages", len(s.mem.msgs)))
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	s.mem.putLocked(snap.Messages)
	s.mem.cursor = snap.Cursor
	return nil
}

// replay applies journal records in order. A torn final line from a crash
// is skipped along with any other undecodable record.
func (s *fileStore) replay(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			skipped++
			continue
		}
		s.apply(op)
	}
	return skipped, sc.Err()
}

// terminateLastLine keeps a torn tail from swallowing the next record.
func terminateLastLine(f *os.File) error {
	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, st.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

func (s *fileStore) apply(op journalOp) int {
	switch op.Op {
	case "put":
		s.mem.putLocked(op.Msgs)
	case "read":
		return s.mem.markReadLocked(op.IDs)
	case "cursor":
		s.mem.cursor = op.Cursor
	}
	return 0
}

// commit journals op and then applies it to the index.
func (s *fileStore) commit(op journalOp) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return 0, ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(op); err != nil {
		return 0, err
	}

	s.mem.mu.Lock()
	n := s.apply(op)
	s.mem.mu.Unlock()

	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compaction failed", logx.Err(err))
		}
	}
	return n, nil
}

func (s *fileStore) Candidates(ctx context.Context, q alert.Query) ([]alert.RawMessage, error) {
	s.mu.Lock()
	closed := s.journal == nil
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return s.mem.Candidates(ctx, q)
}

func (s *fileStore) Put(_ context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := validate(msgs); err != nil {
		return err
	}
	_, err := s.commit(journalOp{Op: "put", Msgs: msgs})
	return err
}

func (s *fileStore) MarkRead(_ context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.commit(journalOp{Op: "read", IDs: ids})
}

func (s *fileStore) GetCursor(ctx context.Context) (string, error) {
	return s.mem.GetCursor(ctx)
}

func (s *fileStore) PutCursor(_ context.Context, fingerprint string) error {
	_, err := s.commit(journalOp{Op: "cursor", Cursor: fingerprint})
	return err
}

// Compact writes a snapshot and truncates the journal.
func (s *fileStore) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	return s.compactLocked()
}

func (s *fileStore) compactLocked() error {
	s.mem.mu.RLock()
	snap := snapshot{Cursor: s.mem.cursor, Messages: make([]Message, 0, len(s.mem.msgs))}
	for _, m := range s.mem.msgs {
		snap.Messages = append(snap.Messages, m)
	}
	s.mem.mu.RUnlock()
	newestFirst(snap.Messages)

	tmp := s.snapPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

// Close compacts and closes the journal.
func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	cerr := s.compactLocked()
	err := s.journal.Close()
	s.journal = nil
	_ = s.mem.Close()
	return errors.Join(cerr, err)
}
