// Package app wires configuration, storage, the triage pipeline, the HTTP
// poll endpoint and the push relay into one daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"voicepager/internal/alert"
	"voicepager/internal/config"
	"voicepager/internal/relay"
	"voicepager/internal/runtime/supervisor"
	"voicepager/internal/server"
	"voicepager/internal/storage"
	"voicepager/internal/transport"
	"voicepager/internal/transport/telegram"
	logx "voicepager/pkg/logx"
)

type Options struct {
	// Offline skips the Telegram connection. The relay and chat log
	// mirroring stay off.
	Offline bool
}

type App struct {
	opts Options

	cfgm  *config.Manager
	root  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	http  *server.Service
	relay *relay.Relay

	mu      sync.Mutex
	builder *alert.Builder
	sup     *supervisor.Supervisor
}

func New(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	var sender transport.Sender
	if cfg.NeedsTelegram() && !opts.Offline {
		tc, _ := telegramConfig(cfg)
		chat, err := telegram.New(tc)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sender = chat
	}

	logs, log := logx.New(logConfig(cfg), sender)

	sc, _ := storageConfig(cfg)
	store, err := storage.Open(sc, log)
	if err != nil {
		_ = logs.Close(context.Background())
		return nil, err
	}
	log.Debug("storage opened", logx.String("driver", sc.Driver))

	builder := alert.NewBuilder(store, cfg.Pipeline.Options(), log.Component("pipeline"))
	hc, _ := httpConfig(cfg)
	a := &App{
		opts:    opts,
		cfgm:    cfgm,
		root:    log,
		log:     log.Component("app"),
		logs:    logs,
		store:   store,
		builder: builder,
		http:    server.New(hc, builder, log),
	}
	if sender != nil {
		rc, _ := relayConfig(cfg)
		if a.relay, err = relay.New(rc, builder, store, sender, log); err != nil {
			_ = store.Close()
			_ = logs.Close(context.Background())
			return nil, err
		}
	}
	return a, nil
}

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Store() storage.Store { return a.store }

// HTTPAddr is the bound poll endpoint address, or "" when not listening.
func (a *App) HTTPAddr() string { return a.http.Addr() }

// HTTPReady is closed once the poll endpoint is listening.
func (a *App) HTTPReady() <-chan struct{} { return a.http.Ready() }

func (a *App) pipeline() *alert.Builder {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.builder
}

// Check runs the pipeline once against the store.
func (a *App) Check(ctx context.Context, lastHash string) (alert.Response, error) {
	return a.pipeline().Build(ctx, lastHash)
}

// Push runs one relay pass outside the schedule.
func (a *App) Push(ctx context.Context) (relay.Outcome, error) {
	if a.relay == nil {
		return relay.Outcome{}, errors.New("relay unavailable: telegram.token and relay.chat_id are required")
	}
	return a.relay.RunOnce(ctx)
}

// Done is closed when the daemon context ends (fatal task error or Stop).
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return sup.Context().Done()
}

// Err is the first fatal task error, if any.
func (a *App) Err() error {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Err()
}

// Start launches the long-running parts: poll endpoint, relay schedule,
// config watcher and the reload fan-out.
func (a *App) Start(ctx context.Context) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(a.root.Component("supervisor")), supervisor.WithCancelOnError(true))
	a.mu.Lock()
	a.sup = sup
	a.mu.Unlock()

	a.cfgm.SetLogger(a.root)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	if err := a.http.Start(sup.Context()); err != nil {
		sup.Cancel()
		return err
	}
	if a.relay != nil {
		if err := a.relay.Start(sup.Context()); err != nil {
			sup.Cancel()
			return err
		}
	}

	sub := a.cfgm.Subscribe(8)
	last := a.cfgm.Get()
	sup.Go("config.reload", func(ctx context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.apply(ctx, last, next)
				last = next
			}
		}
	})
	sup.GoRestart("config.watch", a.cfgm.Watch)

	a.log.Info("started", logx.String("config", a.cfgm.Path()), logx.Bool("relay", a.relay != nil))
	return nil
}

// Run starts the daemon, reports readiness to systemd and blocks until ctx
// ends or a task fails for good.
func (a *App) Run(ctx context.Context, stopTimeout time.Duration) error {
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return err
	}
	a.notify(daemon.SdNotifyReady)

	<-a.Done()
	a.notify(daemon.SdNotifyStopping)

	sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	fatal := a.Err()
	if err := a.Stop(sctx); err != nil && fatal == nil {
		return err
	}
	return fatal
}

func (a *App) notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		a.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		a.log.Debug("systemd notified", logx.String("state", state))
	}
}

// Stop tears everything down in reverse order. It is safe on an App that
// was never started.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()

	var errs []error
	if sup != nil {
		if err := sup.Stop(ctx); errors.Is(err, context.DeadlineExceeded) {
			errs = append(errs, err)
		}
	}
	if a.relay != nil {
		errs = append(errs, a.relay.Stop(ctx))
	}
	errs = append(errs, a.http.Stop(ctx))
	errs = append(errs, a.store.Close())
	a.log.Debug("stopped")
	errs = append(errs, a.logs.Close(ctx))
	return errors.Join(errs...)
}
