package app

import (
	"strings"
	"time"

	"voicepager/internal/config"
	"voicepager/internal/relay"
	"voicepager/internal/server"
	"voicepager/internal/storage"
	"voicepager/internal/transport"
	"voicepager/internal/transport/telegram"
	logx "voicepager/pkg/logx"
)

func logConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func httpConfig(cfg *config.Config) (server.Config, error) {
	h := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 5*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, 10*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 60*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	return server.Config{
		Enabled:       h.IsEnabled(),
		Addr:          strings.TrimSpace(h.Addr),
		Path:          strings.TrimSpace(h.Path),
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		RatePerSec:    h.RatePerSec,
		Burst:         h.Burst,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
		Pprof:         h.Pprof,
	}, nil
}

func storageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func relayConfig(cfg *config.Config) (relay.Config, error) {
	r := cfg.Relay
	if _, err := relay.ParseSchedule(r.Schedule); err != nil {
		return relay.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("relay.send_timeout", r.SendTimeout, 15*time.Second)
	if err != nil {
		return relay.Config{}, err
	}
	return relay.Config{
		Enabled:     r.Enabled,
		Schedule:    r.Schedule,
		Timezone:    r.Timezone,
		Target:      transport.ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID},
		SendTimeout: timeout,
	}, nil
}

func telegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:   cfg.Telegram.Token,
		APIURL:  cfg.Telegram.APIURL,
		Timeout: timeout,
	}, nil
}

// validate runs the checks that need component packages. It backs the
// config manager's reload validator.
func validate(cfg *config.Config) error {
	if _, err := httpConfig(cfg); err != nil {
		return err
	}
	if _, err := storageConfig(cfg); err != nil {
		return err
	}
	if _, err := relayConfig(cfg); err != nil {
		return err
	}
	_, err := telegramConfig(cfg)
	return err
}
