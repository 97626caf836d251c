// Package relay pushes alert digests to a Telegram chat on a cron schedule.
// The last pushed fingerprint is kept in the store so each digest is sent
// once, across restarts.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"voicepager/internal/alert"
	"voicepager/internal/transport"
	logx "voicepager/pkg/logx"
)

const (
	DefaultSchedule    = "@every 1m"
	defaultSendTimeout = 15 * time.Second
)

// parser accepts 5- or 6-field specs and descriptors (@every, @hourly).
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a schedule spec; "" means DefaultSchedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	if strings.TrimSpace(spec) == "" {
		spec = DefaultSchedule
	}
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("relay schedule %q: %w", spec, err)
	}
	return s, nil
}

type Config struct {
	Enabled     bool
	Schedule    string
	Timezone    string
	Target      transport.ChatTarget
	SendTimeout time.Duration
}

type Pipeline interface {
	Build(ctx context.Context, lastHash string) (alert.Response, error)
}

// Cursor persists the fingerprint of the last pushed digest.
type Cursor interface {
	GetCursor(ctx context.Context) (string, error)
	PutCursor(ctx context.Context, fingerprint string) error
}

// Outcome describes one relay run.
type Outcome struct {
	RunID       string
	State       alert.State
	Fingerprint string
	Sent        bool
}

type Relay struct {
	log    logx.Logger
	cursor Cursor
	sender transport.Sender

	mu   sync.Mutex
	cfg  Config
	pipe Pipeline
	c    *cron.Cron
	base context.Context
	stop context.CancelFunc

	runMu sync.Mutex
}

func New(cfg Config, pipe Pipeline, cursor Cursor, sender transport.Sender, log logx.Logger) (*Relay, error) {
	if cursor == nil || sender == nil {
		return nil, errors.New("relay: cursor and sender are required")
	}
	if _, err := ParseSchedule(cfg.Schedule); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Relay{cfg: cfg, pipe: pipe, cursor: cursor, sender: sender, log: log.Component("relay")}, nil
}

func (r *Relay) SetPipeline(p Pipeline) {
	r.mu.Lock()
	r.pipe = p
	r.mu.Unlock()
}

// RunOnce builds against the stored fingerprint and pushes the digest when
// it changed. The cursor advances only after a successful send. Concurrent
// calls are serialized.
func (r *Relay) RunOnce(ctx context.Context) (Outcome, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	r.mu.Lock()
	cfg, pipe := r.cfg, r.pipe
	r.mu.Unlock()

	out := Outcome{RunID: uuid.NewString()}
	log := r.log.With(logx.String("run_id", out.RunID))
	if pipe == nil {
		return out, errors.New("relay: pipeline not configured")
	}
	if cfg.Target.IsZero() {
		return out, errors.New("relay: chat target not configured")
	}

	last, err := r.cursor.GetCursor(ctx)
	if err != nil {
		return out, fmt.Errorf("relay: read cursor: %w", err)
	}
	resp, err := pipe.Build(ctx, last)
	if err != nil {
		return out, err
	}
	out.State = resp.State
	out.Fingerprint = resp.Fingerprint
	if resp.State != alert.StateEmit {
		log.Debug("nothing to push", logx.String("state", resp.State.String()))
		return out, nil
	}

	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	err = r.sender.SendText(sctx, cfg.Target, resp.AlertText, &transport.SendOptions{DisablePreview: true})
	cancel()
	if err != nil {
		return out, fmt.Errorf("relay: send: %w", err)
	}
	out.Sent = true

	if err := r.cursor.PutCursor(ctx, resp.Fingerprint); err != nil {
		// The digest went out but may be pushed again next run.
		return out, fmt.Errorf("relay: write cursor: %w", err)
	}
	log.Info("digest pushed", logx.Int("count", resp.Count), logx.String("fingerprint", resp.Fingerprint))
	return out, nil
}

// Start schedules RunOnce. Runs never overlap; a tick that arrives while a
// run is in progress is skipped.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.base == nil {
		r.base = ctx
	}
	if r.c != nil || !r.cfg.Enabled {
		return nil
	}
	return r.startLocked()
}

func (r *Relay) startLocked() error {
	sched, err := ParseSchedule(r.cfg.Schedule)
	if err != nil {
		return err
	}
	loc := time.Local
	if tz := strings.TrimSpace(r.cfg.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return fmt.Errorf("relay timezone: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(r.base)
	cl := cronLogger{log: r.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(sched, cron.FuncJob(func() {
		if _, err := r.RunOnce(runCtx); err != nil && runCtx.Err() == nil {
			r.log.Warn("relay run failed", logx.Err(err))
		}
	}))
	c.Start()
	r.c, r.stop = c, cancel
	r.log.Info("relay started", logx.String("schedule", r.cfg.Schedule), logx.String("tz", loc.String()))
	return nil
}

// Stop halts the schedule and waits for an in-flight run, bounded by ctx.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	c, cancel := r.detachLocked()
	r.mu.Unlock()
	return waitStopped(ctx, c, cancel)
}

func (r *Relay) detachLocked() (*cron.Cron, context.CancelFunc) {
	c, cancel := r.c, r.stop
	r.c, r.stop = nil, nil
	return c, cancel
}

// waitStopped must run without r.mu held: an in-flight run takes it.
func waitStopped(ctx context.Context, c *cron.Cron, cancel context.CancelFunc) error {
	if c == nil {
		return nil
	}
	done := c.Stop().Done()
	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// Reconfigure applies cfg, rebuilding the schedule only when timing changed.
func (r *Relay) Reconfigure(ctx context.Context, cfg Config) error {
	if _, err := ParseSchedule(cfg.Schedule); err != nil {
		return err
	}
	r.mu.Lock()
	prev := r.cfg
	r.cfg = cfg
	if r.base == nil {
		r.base = ctx
	}
	var (
		c      *cron.Cron
		cancel context.CancelFunc
	)
	retime := prev.Schedule != cfg.Schedule || prev.Timezone != cfg.Timezone
	if r.c != nil && (!cfg.Enabled || retime) {
		c, cancel = r.detachLocked()
	}
	r.mu.Unlock()

	if err := waitStopped(ctx, c, cancel); err != nil {
		return err
	}
	if !cfg.Enabled {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return nil
	}
	return r.startLocked()
}

// cronLogger routes robfig/cron's logr-style calls into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
