package app

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"voicepager/internal/mailparse"
	"voicepager/internal/storage"
)

// Ingest parses .eml files in parallel and stores them as unread. Nothing
// is stored when any file fails to parse. Messages without a Date header
// are stamped with the ingest time.
func (a *App) Ingest(ctx context.Context, paths []string) ([]storage.Message, error) {
	msgs, err := ParseFiles(ctx, paths, time.Now())
	if err != nil {
		return nil, err
	}
	if err := a.store.Put(ctx, msgs...); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ParseFiles parses every path, preserving input order.
func ParseFiles(ctx context.Context, paths []string, now time.Time) ([]storage.Message, error) {
	out := make([]storage.Message, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			env, err := mailparse.Parse(f)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			received := env.Date
			if received.IsZero() {
				received = now
			}
			out[i] = storage.Message{RawMessage: env.Raw(true), ReceivedAt: received}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
