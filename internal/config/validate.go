package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"voicepager/internal/server"
)

const (
	EnvHTTPToken     = "VOICEPAGER_HTTP_TOKEN"
	EnvTelegramToken = "VOICEPAGER_TELEGRAM_TOKEN"
)

// applyEnv lets secrets live outside the config file. Non-empty variables win.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvHTTPToken); ok && trim(v) != "" {
		cfg.HTTP.Token = trim(v)
	}
	if v, ok := lookup(EnvTelegramToken); ok && trim(v) != "" {
		cfg.Telegram.Token = trim(v)
	}
}

var storageDrivers = map[string]bool{"": true, "memory": true, "file": true, "sqlite": true}

// Validate checks the parts of cfg that can be checked without touching the
// network or the filesystem.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	durations := []struct{ field, raw string }{
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.write_timeout", cfg.HTTP.WriteTimeout},
		{"http.idle_timeout", cfg.HTTP.IdleTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"relay.send_timeout", cfg.Relay.SendTimeout},
		{"telegram.timeout", cfg.Telegram.Timeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.field, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	p := cfg.Pipeline
	if p.MaxMessages < 0 || p.MaxPreviewLength < 0 || p.FingerprintLength < 0 {
		errs = append(errs, errors.New("pipeline: limits must be >= 0"))
	}
	if p.FingerprintLength > 24 {
		errs = append(errs, fmt.Errorf("pipeline.fingerprint_length: %d exceeds 24", p.FingerprintLength))
	}
	if v := p.Vocabulary; v != nil && (trim(v.TextGatewayDomain) == "" || trim(v.ProductHost) == "") {
		errs = append(errs, errors.New("pipeline.vocabulary: text_gateway_domain and product_host are required"))
	}

	drv := strings.ToLower(trim(cfg.Storage.Driver))
	if !storageDrivers[drv] {
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if (drv == "file" || drv == "sqlite") && trim(cfg.Storage.Path) == "" {
		errs = append(errs, fmt.Errorf("storage.path: required for driver %q", drv))
	}

	if cfg.HTTP.RatePerSec < 0 || cfg.HTTP.Burst < 0 {
		errs = append(errs, errors.New("http: rate_per_sec and burst must be >= 0"))
	}
	if path := trim(cfg.HTTP.Path); path != "" && !strings.HasPrefix(path, "/") {
		errs = append(errs, fmt.Errorf("http.path: %q must start with /", path))
	} else if err := server.CheckPath(path); err != nil {
		errs = append(errs, fmt.Errorf("http.path: %w", err))
	}

	if cfg.Relay.Enabled && cfg.Relay.ChatID == 0 {
		errs = append(errs, errors.New("relay.chat_id: required when relay is enabled"))
	}
	if tz := trim(cfg.Relay.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("relay.timezone: %w", err))
		}
	}
	if cfg.Logging.Telegram.Enabled && cfg.Logging.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("logging.telegram.chat_id: required when enabled"))
	}
	if cfg.NeedsTelegram() && trim(cfg.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token: required (or set %s)", EnvTelegramToken))
	}
	return errors.Join(errs...)
}
