package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"voicepager/internal/alert"
	logx "voicepager/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage: path is required for the sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite serializes writers anyway and pragmas are per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", p, err)
		}
	}
	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Candidates(ctx context.Context, q alert.Query) ([]alert.RawMessage, error) {
	var (
		where []string
		args  []any
	)
	if q.UnreadOnly {
		where = append(where, "unread = 1")
	}
	var senders []string
	for _, snd := range q.Senders {
		if snd = strings.ToLower(strings.TrimSpace(snd)); snd != "" {
			senders = append(senders, "instr(lower(sender), ?) > 0")
			args = append(args, snd)
		}
	}
	if len(senders) > 0 {
		where = append(where, "("+strings.Join(senders, " OR ")+")")
	}

	query := "SELECT id, subject, body, sender, unread FROM messages"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY received_at DESC, id ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()

	var out []alert.RawMessage
	for rows.Next() {
		var m alert.RawMessage
		if err := rows.Scan(&m.ID, &m.Subject, &m.Body, &m.Sender, &m.Unread); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Put(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := validate(msgs); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages(id, subject, body, sender, unread, received_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subject = excluded.subject,
			body = excluded.body,
			sender = excluded.sender,
			unread = excluded.unread,
			received_at = excluded.received_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range msgs {
		if _, err := stmt.ExecContext(ctx, m.ID, m.Subject, m.Body, m.Sender, m.Unread, m.ReceivedAt.UnixMilli()); err != nil {
			return fmt.Errorf("put %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) MarkRead(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx, "UPDATE messages SET unread = 0 WHERE unread = 1 AND id IN ("+marks+")", args...)
	if err != nil {
		return 0, s.wrap(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) GetCursor(ctx context.Context) (string, error) {
	var fp string
	err := s.db.QueryRowContext(ctx, "SELECT fingerprint FROM cursor WHERE id = 1").Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return fp, s.wrap(err)
}

func (s *sqliteStore) PutCursor(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursor(id, fingerprint, updated_at) VALUES(1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET fingerprint = excluded.fingerprint, updated_at = excluded.updated_at`,
		fingerprint, time.Now().UnixMilli())
	return s.wrap(err)
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) wrap(err error) error {
	if errors.Is(err, sql.ErrConnDone) || (err != nil && strings.Contains(err.Error(), "database is closed")) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}
