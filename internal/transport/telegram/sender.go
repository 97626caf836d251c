// Package telegram is a send-only Telegram Bot API client used for alert
// pushes and chat log mirroring.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"voicepager/internal/transport"
)

// textLimit stays under the Bot API's 4096-character ceiling.
const textLimit = 4000

type Config struct {
	Token string
	// APIURL overrides the Bot API endpoint (self-hosted API servers, tests).
	APIURL  string
	Timeout time.Duration
}

// Sender implements transport.Sender on top of telebot.
type Sender struct {
	bot *tele.Bot
}

var _ transport.Sender = (*Sender)(nil)

// New validates the token against getMe.
func New(cfg Config) (*Sender, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram: token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		URL:    strings.TrimRight(cfg.APIURL, "/"),
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Sender{bot: b}, nil
}

// Username is the bot account name reported by getMe.
func (s *Sender) Username() string {
	if s.bot == nil || s.bot.Me == nil {
		return ""
	}
	return s.bot.Me.Username
}

// SendText delivers text, splitting it across messages when it exceeds the
// per-message limit. It stops at the first failed chunk.
func (s *Sender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	if to.IsZero() {
		return errors.New("telegram: chat id is empty")
	}
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	for _, chunk := range SplitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			DisableNotification:   opt.Silent,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SplitText cuts s into chunks of at most limit runes. Cuts prefer a blank
// line, then a newline, in the last two thirds of the window.
func SplitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	var out []string
	for len(rs) > 0 {
		if len(rs) <= limit {
			out = append(out, string(rs))
			break
		}
		cut := cutPoint(rs[:limit], limit/3)
		out = append(out, strings.TrimRight(string(rs[:cut]), "\n"))
		rs = rs[cut:]
		for len(rs) > 0 && rs[0] == '\n' {
			rs = rs[1:]
		}
	}
	return out
}

func cutPoint(window []rune, floor int) int {
	for i := len(window) - 1; i > floor; i-- {
		if window[i] == '\n' && window[i-1] == '\n' {
			return i + 1
		}
	}
	for i := len(window) - 1; i > floor; i-- {
		if window[i] == '\n' {
			return i + 1
		}
	}
	return len(window)
}
