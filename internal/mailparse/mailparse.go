// Package mailparse turns RFC 5322 notification emails into pipeline
// messages: decoded subject and sender, a stable ID, and a plain-text body.
package mailparse

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"voicepager/internal/alert"
)

// maxPartDepth bounds multipart nesting.
const maxPartDepth = 8

var ErrEmpty = errors.New("mailparse: empty message")

type Envelope struct {
	ID      string
	Subject string
	From    string
	Date    time.Time
	// Body is text/plain when present, otherwise the text rendering of text/html.
	Body     string
	FromHTML bool
}

// Raw converts the envelope to a pipeline candidate.
func (e Envelope) Raw(unread bool) alert.RawMessage {
	return alert.RawMessage{ID: e.ID, Subject: e.Subject, Body: e.Body, Sender: e.From, Unread: unread}
}

var words = &mime.WordDecoder{CharsetReader: charsetReader}

// Parse reads one message. Without a Message-Id header the ID is a digest
// of the raw bytes, so re-ingesting the same file is idempotent.
func Parse(r io.Reader) (Envelope, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Envelope{}, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return Envelope{}, ErrEmpty
	}
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return Envelope{}, fmt.Errorf("mailparse: %w", err)
	}

	env := Envelope{
		ID:      messageID(msg.Header.Get("Message-Id"), raw),
		Subject: decodeHeader(msg.Header.Get("Subject")),
		From:    decodeHeader(msg.Header.Get("From")),
	}
	if d, err := msg.Header.Date(); err == nil {
		env.Date = d
	}

	var b bodies
	if err := b.walk(msg.Header, msg.Body, 0); err != nil {
		return Envelope{}, fmt.Errorf("mailparse: body: %w", err)
	}
	switch {
	case b.plain != "":
		env.Body = b.plain
	case b.html != "":
		env.Body = HTMLToText(b.html)
		env.FromHTML = true
	}
	return env, nil
}

func messageID(header string, raw []byte) string {
	id := strings.Trim(strings.TrimSpace(header), "<>")
	if id != "" {
		return id
	}
	sum := sha256.Sum256(raw)
	return "sha256-" + hex.EncodeToString(sum[:16])
}

func decodeHeader(v string) string {
	out, err := words.DecodeHeader(v)
	if err != nil {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(out)
}

type partHeader interface {
	Get(key string) string
}

type bodies struct {
	plain string
	html  string
}

func (b *bodies) walk(h partHeader, body io.Reader, depth int) error {
	if depth > maxPartDepth {
		return errors.New("multipart nesting too deep")
	}
	ctype := h.Get("Content-Type")
	if ctype == "" {
		ctype = "text/plain; charset=us-ascii"
	}
	media, params, err := mime.ParseMediaType(ctype)
	if err != nil {
		// Malformed type: treat as plain text like most mail clients do.
		media, params = "text/plain", map[string]string{}
	}
	if disp, _, _ := mime.ParseMediaType(h.Get("Content-Disposition")); disp == "attachment" {
		return nil
	}

	if strings.HasPrefix(media, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			p, err := mr.NextRawPart()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := b.walk(p.Header, p, depth+1); err != nil {
				return err
			}
		}
	}

	if media != "text/plain" && media != "text/html" {
		return nil
	}
	if (media == "text/plain" && b.plain != "") || (media == "text/html" && b.html != "") {
		return nil
	}
	data, err := io.ReadAll(transferDecoder(h.Get("Content-Transfer-Encoding"), body))
	if err != nil {
		return err
	}
	text := strings.TrimSpace(toUTF8(params["charset"], data))
	if media == "text/plain" {
		b.plain = text
	} else {
		b.html = text
	}
	return nil
}

func transferDecoder(enc string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(enc)) {
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	default:
		return r
	}
}

// toUTF8 decodes data from its declared charset. Undeclared, ASCII and
// unknown charsets pass through when already valid UTF-8.
func toUTF8(charset string, data []byte) string {
	if enc := lookupCharset(charset); enc != nil {
		if out, err := enc.NewDecoder().Bytes(data); err == nil {
			return string(out)
		}
	}
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "\uFFFD")
}

// lookupCharset resolves a MIME charset label by the WHATWG table, so
// windows-1252 gets its 0x80-0x9F punctuation. UTF-8 and ASCII labels
// return nil.
func lookupCharset(label string) encoding.Encoding {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil
	}
	return enc
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc := lookupCharset(charset)
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
	return enc.NewDecoder().Reader(input), nil
}
