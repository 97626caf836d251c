package alert

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestPreview() *PreviewExtractor {
	return NewPreviewExtractor("voice.google.com", DefaultMaxPreviewLength)
}

func TestPreviewTruncation(t *testing.T) {
	t.Parallel()
	p := newTestPreview()

	long := strings.Repeat("a", 150)
	got := p.Extract(long)
	assert.Equal(t, strings.Repeat("a", 100)+"...", got)

	short := "Running ten minutes late, order without me"
	assert.Equal(t, short, p.Extract(short))

	exact := strings.Repeat("b", 100)
	assert.Equal(t, exact, p.Extract(exact))
}

func TestPreviewTruncationCountsRunes(t *testing.T) {
	t.Parallel()
	p := NewPreviewExtractor("voice.google.com", 3)
	assert.Equal(t, "héé...", p.Extract("héééé"))
}

func TestPreviewStripsBoilerplate(t *testing.T) {
	t.Parallel()
	p := newTestPreview()
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "respond footer",
			body: "Are you around?\n\nTo respond to this text message, reply to this email or visit Google Voice.\n\nYOUR ACCOUNT <https://voice.google.com>",
			want: "Are you around?",
		},
		{
			name: "voicemail play link",
			body: "Hey it's Sam, call me when you can.\nplay message\n",
			want: "Hey it's Sam, call me when you can.",
		},
		{
			name: "case insensitive account footer",
			body: "See you soon\nYour Account Help Center",
			want: "See you soon",
		},
		{
			name: "horizontal rule",
			body: "Lunch at noon?\n-----\nsent via gateway",
			want: "Lunch at noon?",
		},
		{
			name: "inline image placeholder",
			body: "Look [image: Google Voice] here",
			want: "Look  here",
		},
		{
			name: "vendor footer",
			body: "ok\n\nGoogle LLC 1600 Amphitheatre Parkway",
			want: "ok",
		},
		{
			name: "do not share",
			body: "Your code is 4411\nDo not share this code with anyone",
			want: "Your code is 4411",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, p.Extract(tt.body))
		})
	}
}

func TestPreviewKeepsUserLinks(t *testing.T) {
	t.Parallel()
	p := newTestPreview()
	body := "Menu is at https://example.com/menu <https://voice.google.com/u/0/messages?x=1> https://voice.google.com/abc"
	assert.Equal(t, "Menu is at https://example.com/menu", p.Extract(body))
}

func TestPreviewStripsLinksBeforeMarkers(t *testing.T) {
	t.Parallel()
	p := newTestPreview()
	// The link path contains a marker phrase; it must be removed as a link
	// first so the text after it survives.
	body := "first <https://voice.google.com/call-back---x> second"
	assert.Equal(t, "first  second", p.Extract(body))
}

func TestPreviewWhitespace(t *testing.T) {
	t.Parallel()
	p := newTestPreview()
	assert.Equal(t, "a\n\nb", p.Extract("\r\n  a\r\n\r\n\r\n\r\nb  \r\n"))
	assert.Equal(t, "", p.Extract("   \n\n"))
}
