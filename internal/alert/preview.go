package alert

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// BoilerplateMarker is one entry of the ordered footer table. Unless Inline
// is set, the marker and everything after it is removed.
type BoilerplateMarker struct {
	Name   string
	Re     *regexp.Regexp
	Inline bool
}

func trailing(name, phrase string) BoilerplateMarker {
	return BoilerplateMarker{Name: name, Re: regexp.MustCompile(`(?is)` + phrase + `.*`)}
}

// DefaultBoilerplateMarkers are applied in order after product links have
// been removed.
var DefaultBoilerplateMarkers = []BoilerplateMarker{
	trailing("respond-to-text", `To respond to this text message`),
	trailing("listen-to-voicemail", `To listen to this voicemail`),
	trailing("play-message", `play message`),
	trailing("call-back", `call back`),
	trailing("your-account", `YOUR ACCOUNT`),
	trailing("email-was-sent", `This email was sent`),
	trailing("vendor-llc", `Google LLC`),
	trailing("do-not-share", `Do not share`),
	trailing("horizontal-rule", `-{3,}`),
	{Name: "image-placeholder", Re: regexp.MustCompile(`(?i)\[image:.*?\]`), Inline: true},
}

const ellipsis = "..."

var (
	reManyNewlines = regexp.MustCompile(`\n{3,}`)
)

// PreviewExtractor produces a cleaned, length-bounded excerpt of a body.
type PreviewExtractor struct {
	maxLen   int
	markers  []BoilerplateMarker
	linkBrkt *regexp.Regexp
	linkBare *regexp.Regexp
}

// NewPreviewExtractor strips links to productHost and the given markers
// (DefaultBoilerplateMarkers when none are passed). maxLen <= 0 selects
// DefaultMaxPreviewLength.
func NewPreviewExtractor(productHost string, maxLen int, markers ...BoilerplateMarker) *PreviewExtractor {
	if maxLen <= 0 {
		maxLen = DefaultMaxPreviewLength
	}
	if len(markers) == 0 {
		markers = DefaultBoilerplateMarkers
	}
	p := &PreviewExtractor{maxLen: maxLen, markers: markers}
	if host := strings.TrimSpace(productHost); host != "" {
		q := regexp.QuoteMeta(host)
		p.linkBrkt = regexp.MustCompile(`(?i)<https?://` + q + `[^>]*>`)
		p.linkBare = regexp.MustCompile(`(?i)https?://` + q + `\S*`)
	}
	return p
}

// Extract runs the cleanup steps in order: product links, boilerplate,
// whitespace, truncation. Link stripping must come first since some footer
// variants embed a marker phrase inside the link.
func (p *PreviewExtractor) Extract(body string) string {
	text := body
	if p.linkBrkt != nil {
		text = p.linkBrkt.ReplaceAllString(text, "")
		text = p.linkBare.ReplaceAllString(text, "")
	}
	for _, m := range p.markers {
		text = m.Re.ReplaceAllString(text, "")
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = reManyNewlines.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	return truncateRunes(text, p.maxLen)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + ellipsis
		}
		i++
	}
	return s
}
