package config

import (
	"strings"

	"voicepager/internal/alert"
)

// Config is the on-disk daemon configuration. Durations are Go duration
// strings ("250ms", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Pipeline PipelineConfig `json:"pipeline"`
	HTTP     HTTPConfig     `json:"http"`
	Storage  StorageConfig  `json:"storage"`
	Relay    RelayConfig    `json:"relay"`
	Telegram TelegramConfig `json:"telegram"`
}

type LoggingConfig struct {
	Level    string            `json:"level"`
	Console  bool              `json:"console"`
	File     LogFileConfig     `json:"file"`
	Telegram LogTelegramConfig `json:"telegram"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LogTelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// PipelineConfig tunes the triage pipeline. Zero values fall back to the
// pipeline defaults.
type PipelineConfig struct {
	MaxMessages       int               `json:"max_messages,omitempty"`
	MaxPreviewLength  int               `json:"max_preview_length,omitempty"`
	FingerprintLength int               `json:"fingerprint_length,omitempty"`
	Senders           []string          `json:"senders,omitempty"`
	Vocabulary        *VocabularyConfig `json:"vocabulary,omitempty"`
}

type VocabularyConfig struct {
	TextGatewayDomain   string   `json:"text_gateway_domain"`
	NotificationSenders []string `json:"notification_senders"`
	ProductPhrase       string   `json:"product_phrase"`
	VendorToken         string   `json:"vendor_token"`
	ProductHost         string   `json:"product_host"`
}

// Options maps the pipeline section onto builder options.
func (p PipelineConfig) Options() alert.Options {
	opts := alert.DefaultOptions()
	if p.MaxMessages > 0 {
		opts.MaxMessages = p.MaxMessages
	}
	if p.MaxPreviewLength > 0 {
		opts.MaxPreviewLength = p.MaxPreviewLength
	}
	if p.FingerprintLength > 0 {
		opts.FingerprintLength = p.FingerprintLength
	}
	if v := p.Vocabulary; v != nil {
		opts.Vocabulary.TextGatewayDomain = v.TextGatewayDomain
		opts.Vocabulary.NotificationSenders = v.NotificationSenders
		opts.Vocabulary.ProductPhrase = v.ProductPhrase
		opts.Vocabulary.VendorToken = v.VendorToken
		opts.Vocabulary.ProductHost = v.ProductHost
	}
	if len(p.Senders) > 0 {
		opts.Vocabulary.FetchSenders = p.Senders
	}
	return opts
}

type HTTPConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Addr    string `json:"addr"`
	Path    string `json:"path,omitempty"`
	Token   string `json:"token,omitempty"`
	// AllowInsecure permits a non-loopback listener without a token.
	AllowInsecure bool    `json:"allow_insecure,omitempty"`
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	Burst         int     `json:"burst,omitempty"`
	ReadTimeout   string  `json:"read_timeout,omitempty"`
	WriteTimeout  string  `json:"write_timeout,omitempty"`
	IdleTimeout   string  `json:"idle_timeout,omitempty"`
	// Pprof exposes /debug/pprof/ on the poll listener, behind the token.
	Pprof bool `json:"pprof,omitempty"`
}

// IsEnabled defaults to true when omitted.
func (h HTTPConfig) IsEnabled() bool { return h.Enabled == nil || *h.Enabled }

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type RelayConfig struct {
	Enabled     bool   `json:"enabled"`
	Schedule    string `json:"schedule,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	ChatID      int64  `json:"chat_id,omitempty"`
	ThreadID    int    `json:"thread_id,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

type TelegramConfig struct {
	Token   string `json:"token,omitempty"`
	APIURL  string `json:"api_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// NeedsTelegram reports whether any component sends chat messages.
func (c *Config) NeedsTelegram() bool {
	return c.Relay.Enabled || c.Logging.Telegram.Enabled
}

func trim(s string) string { return strings.TrimSpace(s) }
