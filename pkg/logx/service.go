package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"voicepager/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig mirrors log events at or above MinLevel into a chat.
type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

const defaultLogPath = "./voicepager.log"

// Service owns the active sinks. Apply swaps them without invalidating
// loggers handed out earlier.
type Service struct {
	mu   sync.Mutex
	root atomic.Pointer[zerolog.Logger]
	file *os.File
	tg   *telegramSink
}

// New builds the service and applies cfg. sender may be nil, in which case
// the Telegram sink stays inert.
func New(cfg Config, sender transport.Sender) (*Service, Logger) {
	s := &Service{tg: newTelegramSink(sender)}
	boot := zerolog.New(newConsoleWriter(os.Stderr)).Level(ParseLevel(cfg.Level, LevelInfo)).With().Timestamp().Logger()
	s.root.Store(&boot)
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	writers := make([]io.Writer, 0, 3)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogPath
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	s.tg.configure(cfg.Telegram)
	if cfg.Telegram.Enabled {
		writers = append(writers, s.tg)
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close flushes queued chat messages (bounded by ctx) and closes the file sink.
func (s *Service) Close(ctx context.Context) error {
	s.tg.stop(ctx)

	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}

const (
	tgQueueSize   = 128
	tgSendTimeout = 10 * time.Second
)

type tgItem struct {
	to   transport.ChatTarget
	text string
}

// telegramSink is a zerolog.LevelWriter that never blocks the caller:
// events over the rate limit or beyond the queue are dropped.
type telegramSink struct {
	sender transport.Sender

	mu       sync.Mutex
	to       transport.ChatTarget
	minLevel Level
	limiter  *rate.Limiter
	closed   bool

	queue     chan tgItem
	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	dropped   atomic.Uint64
}

func newTelegramSink(sender transport.Sender) *telegramSink {
	return &telegramSink{
		sender:   sender,
		minLevel: LevelWarn,
		limiter:  rate.NewLimiter(1, 1),
		queue:    make(chan tgItem, tgQueueSize),
		done:     make(chan struct{}),
	}
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	t.mu.Lock()
	t.to = transport.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	t.minLevel = ParseLevel(cfg.MinLevel, LevelWarn)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	t.mu.Unlock()

	if cfg.Enabled && t.sender != nil {
		t.startOnce.Do(func() { go t.run() })
	}
}

func (t *telegramSink) Write(p []byte) (int, error) { return t.WriteLevel(LevelInfo, p) }

func (t *telegramSink) WriteLevel(level Level, p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.sender == nil || t.to.IsZero() || level < t.minLevel || !t.limiter.Allow() {
		return len(p), nil
	}
	text := renderEvent(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case t.queue <- tgItem{to: t.to, text: text}:
	default:
		t.dropped.Add(1)
	}
	return len(p), nil
}

func (t *telegramSink) run() {
	defer close(t.done)
	for it := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), tgSendTimeout)
		_ = t.sender.SendText(ctx, it.to, it.text, &transport.SendOptions{DisablePreview: true, Silent: true})
		cancel()
	}
}

func (t *telegramSink) stop(ctx context.Context) {
	started := false
	t.startOnce.Do(func() { close(t.done) })
	select {
	case <-t.done:
	default:
		started = true
	}
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.queue)
		t.mu.Unlock()
	})
	if !started {
		return
	}
	select {
	case <-t.done:
	case <-ctx.Done():
	}
}

// DroppedChatEvents counts events the Telegram sink discarded because its
// queue was full.
func (s *Service) DroppedChatEvents() uint64 { return s.tg.dropped.Load() }
