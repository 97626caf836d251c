package alert

import (
	"regexp"
	"strings"
)

// PhonePattern is one entry in the ordered phone pattern table.
type PhonePattern struct {
	Name string
	Re   *regexp.Regexp
}

// DefaultPhonePatterns is ordered from most to least specific. The first
// pattern that matches anywhere in the text wins.
var DefaultPhonePatterns = []PhonePattern{
	{Name: "international", Re: regexp.MustCompile(`\+1[- ]?\d{3}[- ]?\d{3}[- ]?\d{4}`)},
	{Name: "parenthesized-area", Re: regexp.MustCompile(`\(\d{3}\)[- ]?\d{3}[- ]?\d{4}`)},
	{Name: "separated", Re: regexp.MustCompile(`\d{3}[- ]?\d{3}[- ]?\d{4}`)},
	{Name: "digit-run", Re: regexp.MustCompile(`\d{10,11}`)},
}

// PhoneExtractor finds and normalizes a phone number in free text.
type PhoneExtractor struct {
	patterns []PhonePattern
}

// NewPhoneExtractor uses DefaultPhonePatterns when patterns is empty.
func NewPhoneExtractor(patterns ...PhonePattern) *PhoneExtractor {
	if len(patterns) == 0 {
		patterns = DefaultPhonePatterns
	}
	return &PhoneExtractor{patterns: patterns}
}

// Extract returns the normalized number and true, or ("", false) when no
// pattern matches.
func (p *PhoneExtractor) Extract(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, pat := range p.patterns {
		if m := pat.Re.FindString(text); m != "" {
			return NormalizePhone(m), true
		}
	}
	return "", false
}

// NormalizePhone formats a matched substring as AAA-BBB-CCCC. A leading
// country code "1" on an 11 digit number is dropped. Anything that does not
// reduce to exactly 10 digits is returned unmodified.
func NormalizePhone(matched string) string {
	var b strings.Builder
	for _, r := range matched {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	if len(d) != 10 {
		return matched
	}
	return d[:3] + "-" + d[3:6] + "-" + d[6:]
}
