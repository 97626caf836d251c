package app

import (
	"context"
	"strings"

	"voicepager/internal/alert"
	"voicepager/internal/config"
	logx "voicepager/pkg/logx"
)

// apply fans a committed config revision out to the running components.
// Storage and Telegram credentials are bound at startup and only take
// effect after a restart.
func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, fields := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload had no effective changes")
		return
	}
	a.log.Info("applying config", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)

	for _, section := range sections {
		switch section {
		case "logging":
			lc := logConfig(next)
			if a.opts.Offline {
				lc.Telegram.Enabled = false
			}
			a.logs.Apply(lc)
		case "pipeline":
			b := alert.NewBuilder(a.store, next.Pipeline.Options(), a.root.Component("pipeline"))
			a.mu.Lock()
			a.builder = b
			a.mu.Unlock()
			a.http.SetPipeline(b)
			if a.relay != nil {
				a.relay.SetPipeline(b)
			}
		case "http":
			hc, err := httpConfig(next)
			if err == nil {
				err = a.http.Reconfigure(ctx, hc)
			}
			if err != nil {
				a.log.Error("http reconfigure failed", logx.Err(err))
			}
		case "relay":
			if a.relay == nil {
				if next.Relay.Enabled {
					a.log.Warn("relay enabled without a Telegram connection; restart to apply")
				}
				continue
			}
			rc, err := relayConfig(next)
			if err == nil {
				err = a.relay.Reconfigure(ctx, rc)
			}
			if err != nil {
				a.log.Error("relay reconfigure failed", logx.Err(err))
			}
		case "storage", "telegram":
			a.log.Warn("config section changed; restart to apply", logx.String("section", section))
		}
	}
}
