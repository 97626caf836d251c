package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "voicepager/internal/runtime/supervisor"
	logx "voicepager/pkg/logx"
)

const defaultAddr = "127.0.0.1:8787"

var ErrInsecureBind = errors.New("server: non-loopback address requires a token or allow_insecure")

type Config struct {
	Enabled       bool
	Addr          string
	Path          string
	Token         string
	AllowInsecure bool
	RatePerSec    float64
	Burst         int
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) handlerConfig() HandlerConfig {
	return HandlerConfig{Path: c.Path, Token: c.Token, RatePerSec: c.RatePerSec, Burst: c.Burst, Pprof: c.Pprof}
}

// Service owns the listener. The HTTP server runs under a supervisor
// restart loop and is rebuilt when Reconfigure changes anything.
type Service struct {
	log logx.Logger

	mu      sync.Mutex
	base    context.Context
	cfg     Config
	pipe    Pipeline
	handler *Handler
	sup     *rtsup.Supervisor
	addr    string
	ready   chan struct{}
}

func New(cfg Config, p Pipeline, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, pipe: p, log: log.Component("http")}
}

// SetPipeline swaps the pipeline without restarting the listener.
func (s *Service) SetPipeline(p Pipeline) {
	s.mu.Lock()
	s.pipe = p
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h.SetPipeline(p)
	}
}

// Addr is the bound address, or "" when not listening.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Ready is closed once the current run is listening.
func (s *Service) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready == nil {
		s.ready = make(chan struct{})
	}
	return s.ready
}

// Start launches the listener. The first ctx passed becomes the parent of
// every later restart, so short-lived reload contexts never bound it.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.base == nil {
		s.base = ctx
	}
	ctx = s.base
	if s.sup != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return nil
	}
	cfg := s.cfg
	addr := listenAddr(cfg)
	if err := CheckPath(cfg.Path); err != nil {
		s.mu.Unlock()
		s.log.Error("refusing to listen", logx.String("path", cfg.Path), logx.Err(err))
		return err
	}
	if cfg.Token == "" && !cfg.AllowInsecure && !isLoopbackAddr(addr) {
		s.mu.Unlock()
		s.log.Error("refusing to listen", logx.String("addr", addr), logx.Err(ErrInsecureBind))
		return ErrInsecureBind
	}
	if s.ready == nil {
		s.ready = make(chan struct{})
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	sup := s.sup
	s.mu.Unlock()

	if cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("serving without a token on a non-loopback address", logx.String("addr", addr))
	}
	sup.GoRestart("http.serve", func(ctx context.Context) error {
		return s.serveOnce(ctx, cfg, addr)
	}, rtsup.WithBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

// newHandler runs before the listener is bound so a bad route table can
// never strand an open socket.
func (s *Service) newHandler(cfg Config) (h *Handler, err error) {
	if err := CheckPath(cfg.Path); err != nil {
		return nil, err
	}
	defer func() {
		if rec := recover(); rec != nil {
			h, err = nil, fmt.Errorf("server: build handler: %v", rec)
		}
	}()
	s.mu.Lock()
	p := s.pipe
	s.mu.Unlock()
	return NewHandler(cfg.handlerConfig(), p, s.log), nil
}

func (s *Service) serveOnce(ctx context.Context, cfg Config, addr string) error {
	h, err := s.newHandler(cfg)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	h.SetPipeline(s.pipe)
	s.handler = h
	s.addr = ln.Addr().String()
	ready := s.ready
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.handler == h {
			s.handler = nil
			s.addr = ""
		}
		s.mu.Unlock()
	}()

	srv := &http.Server{
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	s.log.Info("listening",
		logx.String("addr", ln.Addr().String()),
		logx.String("path", h.path),
		logx.Bool("token_set", cfg.Token != ""),
	)
	if ready != nil {
		select {
		case <-ready:
		default:
			close(ready)
		}
	}

	err = srv.Serve(ln)
	if ctx.Err() != nil {
		<-stopped
		return nil
	}
	_ = srv.Close()
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}

// Stop shuts the listener down, waiting at most until ctx ends.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.addr = ""
	s.handler = nil
	s.ready = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("stopped")
	return err
}

// Reconfigure applies cfg, restarting the listener only when a setting
// that the running server captured has changed.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		return s.Stop(ctx)
	case !running:
		return s.Start(ctx)
	case prev != cfg:
		if err := s.Stop(ctx); err != nil {
			return err
		}
		return s.Start(ctx)
	}
	return nil
}

func listenAddr(cfg Config) string {
	if a := strings.TrimSpace(cfg.Addr); a != "" {
		return a
	}
	return defaultAddr
}

// isLoopbackAddr reports whether host:port binds only to loopback. An empty
// host means every interface.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || strings.TrimSpace(host) == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
