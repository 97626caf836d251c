package alert

import (
	"errors"
	"strings"
)

var (
	// ErrFetch wraps any failure of the message source. It is the only pipeline
	// error that reaches the transport boundary.
	ErrFetch = errors.New("fetch candidates")

	// ErrUnclassifiable is returned by the classifier when no rule matches.
	// The builder drops such messages silently.
	ErrUnclassifiable = errors.New("no recognizable kind")
)

// Kind is the type of a classified notification.
type Kind int

const (
	KindUnknown Kind = iota
	MissedCall
	Voicemail
	Text
)

func (k Kind) String() string {
	switch k {
	case MissedCall:
		return "missed_call"
	case Voicemail:
		return "voicemail"
	case Text:
		return "text"
	default:
		return "unknown"
	}
}

// RawMessage is a candidate notification email as supplied by the store.
// The pipeline never mutates it.
type RawMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Sender  string `json:"sender"`
	Unread  bool   `json:"unread"`
}

// Record is one classified alert.
type Record struct {
	Kind    Kind
	Phone   string
	Preview string
}

// UnknownPhone is used when no phone pattern matches the subject or body.
const UnknownPhone = "Unknown"

// Vocabulary names the gateway-specific strings used by classification,
// preview cleanup and fetching.
type Vocabulary struct {
	// TextGatewayDomain marks senders that only relay text messages.
	TextGatewayDomain string
	// NotificationSenders are the generic notification addresses/domains.
	NotificationSenders []string
	// ProductPhrase is matched against the subject (e.g. "google voice").
	ProductPhrase string
	// VendorToken is loosely matched against the sender (e.g. "google").
	VendorToken string
	// ProductHost is the host of system-injected links stripped from previews.
	ProductHost string
	// FetchSenders is the sender filter handed to the message source.
	FetchSenders []string
}

// DefaultVocabulary returns the Google Voice vocabulary.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		TextGatewayDomain:   "txt.voice.google.com",
		NotificationSenders: []string{"voice-noreply@google.com", "voice.google.com"},
		ProductPhrase:       "google voice",
		VendorToken:         "google",
		ProductHost:         "voice.google.com",
		FetchSenders:        []string{"txt.voice.google.com", "voice-noreply@google.com"},
	}
}

func (v Vocabulary) normalized() Vocabulary {
	out := Vocabulary{
		TextGatewayDomain: strings.ToLower(strings.TrimSpace(v.TextGatewayDomain)),
		ProductPhrase:     strings.ToLower(strings.TrimSpace(v.ProductPhrase)),
		VendorToken:       strings.ToLower(strings.TrimSpace(v.VendorToken)),
		ProductHost:       strings.ToLower(strings.TrimSpace(v.ProductHost)),
	}
	for _, s := range v.NotificationSenders {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out.NotificationSenders = append(out.NotificationSenders, s)
		}
	}
	for _, s := range v.FetchSenders {
		if s = strings.TrimSpace(s); s != "" {
			out.FetchSenders = append(out.FetchSenders, s)
		}
	}
	return out
}

// Options configures one pipeline. The zero value of a field means "use the
// default".
//
// Defaults:
//   - MaxMessages: 10
//   - MaxPreviewLength: 100 (runes, an ellipsis is appended past it)
//   - FingerprintLength: 16
//   - Vocabulary: DefaultVocabulary()
type Options struct {
	MaxMessages       int
	MaxPreviewLength  int
	FingerprintLength int
	Vocabulary        Vocabulary
}

const (
	DefaultMaxMessages       = 10
	DefaultMaxPreviewLength  = 100
	DefaultFingerprintLength = 16
)

func DefaultOptions() Options {
	return Options{
		MaxMessages:       DefaultMaxMessages,
		MaxPreviewLength:  DefaultMaxPreviewLength,
		FingerprintLength: DefaultFingerprintLength,
		Vocabulary:        DefaultVocabulary(),
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxMessages <= 0 {
		o.MaxMessages = def.MaxMessages
	}
	if o.MaxPreviewLength <= 0 {
		o.MaxPreviewLength = def.MaxPreviewLength
	}
	if o.FingerprintLength <= 0 {
		o.FingerprintLength = def.FingerprintLength
	}
	if o.Vocabulary.isZero() {
		o.Vocabulary = def.Vocabulary
	}
	o.Vocabulary = o.Vocabulary.normalized()
	return o
}

func (v Vocabulary) isZero() bool {
	return v.TextGatewayDomain == "" && len(v.NotificationSenders) == 0 &&
		v.ProductPhrase == "" && v.VendorToken == "" && v.ProductHost == "" &&
		len(v.FetchSenders) == 0
}
