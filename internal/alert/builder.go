package alert

import (
	"context"
	"errors"
	"fmt"

	logx "voicepager/pkg/logx"
)

// Query is what the builder asks of the message source.
type Query struct {
	// Senders are matched as case-insensitive substrings of the sender, OR'ed.
	Senders    []string
	UnreadOnly bool
	Limit      int
}

// Source supplies candidate messages. Ordering only has to be stable within
// one call.
type Source interface {
	Candidates(ctx context.Context, q Query) ([]RawMessage, error)
}

// Builder runs the pipeline: fetch, fingerprint, short-circuit, classify,
// format. It holds no per-call state and is safe for concurrent use.
type Builder struct {
	src      Source
	opts     Options
	classify func(RawMessage) (Record, error)
	log      logx.Logger
}

func NewBuilder(src Source, opts Options, log logx.Logger) *Builder {
	opts = opts.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Builder{src: src, opts: opts, classify: NewClassifier(opts).Classify, log: log}
}

// Options returns the effective (defaulted) options.
func (b *Builder) Options() Options { return b.opts }

// Build runs one invocation. The only error it returns wraps ErrFetch.
func (b *Builder) Build(ctx context.Context, lastHash string) (Response, error) {
	if b.src == nil {
		return Response{}, fmt.Errorf("%w: no message source", ErrFetch)
	}
	msgs, err := b.src.Candidates(ctx, Query{
		Senders:    b.opts.Vocabulary.FetchSenders,
		UnreadOnly: true,
		Limit:      b.opts.MaxMessages,
	})
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	// Sources may return whole threads; only unread messages count.
	unread := make([]RawMessage, 0, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if !m.Unread {
			continue
		}
		unread = append(unread, m)
		ids = append(ids, m.ID)
	}
	if len(unread) == 0 {
		b.log.Debug("no candidates")
		return EmptyResponse(), nil
	}

	fp := Fingerprint(ids, b.opts.FingerprintLength)
	if lastHash != "" && fp == lastHash {
		b.log.Debug("fingerprint unchanged", logx.String("fingerprint", fp), logx.Int("candidates", len(unread)))
		return Response{
			HasMessages: true,
			Unchanged:   true,
			Count:       len(unread),
			Fingerprint: fp,
			State:       StateUnchanged,
		}, nil
	}

	records := make([]Record, 0, len(unread))
	for _, m := range unread {
		rec, err := b.classify(m)
		if err != nil {
			if !errors.Is(err, ErrUnclassifiable) {
				b.log.Warn("classify failed", logx.String("id", m.ID), logx.Err(err))
			} else {
				b.log.Debug("message dropped", logx.String("id", m.ID), logx.String("reason", err.Error()))
			}
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		b.log.Debug("no classifiable candidates", logx.Int("candidates", len(unread)))
		resp := EmptyResponse()
		resp.State = StateNoClassifiable
		return resp, nil
	}

	b.log.Debug("alert built",
		logx.String("fingerprint", fp),
		logx.Int("candidates", len(unread)),
		logx.Int("classified", len(records)),
	)
	return Response{
		HasMessages: true,
		Count:       len(records),
		Fingerprint: fp,
		AlertText:   Format(records),
		State:       StateEmit,
	}, nil
}
