package config

import (
	"reflect"

	logx "voicepager/pkg/logx"
)

// SummarizeChange lists the sections that differ between two revisions and
// log fields describing the new values. Secrets are reported only as
// set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		sections []string
		fields   []logx.Field
	)
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		sections = append(sections, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Pipeline, newCfg.Pipeline) {
		sections = append(sections, "pipeline")
		opts := newCfg.Pipeline.Options()
		fields = append(fields,
			logx.Int("pipeline.max_messages", opts.MaxMessages),
			logx.Int("pipeline.max_preview_length", opts.MaxPreviewLength),
			logx.Strings("pipeline.senders", opts.Vocabulary.FetchSenders),
		)
	}
	if HTTPChanged(oldCfg.HTTP, newCfg.HTTP) {
		sections = append(sections, "http")
		fields = append(fields,
			logx.Bool("http.enabled", newCfg.HTTP.IsEnabled()),
			logx.String("http.addr", trim(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", trim(newCfg.HTTP.Token) != ""),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		sections = append(sections, "storage")
		fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Relay != newCfg.Relay {
		sections = append(sections, "relay")
		fields = append(fields,
			logx.Bool("relay.enabled", newCfg.Relay.Enabled),
			logx.String("relay.schedule", newCfg.Relay.Schedule),
		)
	}
	if oldCfg.Telegram != newCfg.Telegram {
		sections = append(sections, "telegram")
		fields = append(fields, logx.Bool("telegram.token_set", trim(newCfg.Telegram.Token) != ""))
	}
	return sections, fields
}

// HTTPChanged compares listener settings by value, treating an omitted
// enabled flag like an explicit true.
func HTTPChanged(a, b HTTPConfig) bool {
	if a.IsEnabled() != b.IsEnabled() {
		return true
	}
	a.Enabled, b.Enabled = nil, nil
	return a != b
}
