package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicepager/internal/transport"
)

func TestSplitTextShort(t *testing.T) {
	assert.Equal(t, []string{"hello"}, SplitText("hello", 10))
}

func TestSplitTextPrefersBlankLine(t *testing.T) {
	s := "=== 2 New ===\n\nVoicemail From 1\nabc\n\nText From 2\nxyz"
	got := SplitText(s, 40)
	require.Len(t, got, 2)
	assert.Equal(t, "=== 2 New ===\n\nVoicemail From 1\nabc", got[0])
	assert.Equal(t, "Text From 2\nxyz", got[1])
}

func TestSplitTextHardCut(t *testing.T) {
	got := SplitText(strings.Repeat("é", 25), 10)
	require.Len(t, got, 3)
	assert.Equal(t, strings.Repeat("é", 10), got[0])
	assert.Equal(t, strings.Repeat("é", 5), got[2])
}

type fakeBotAPI struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeBotAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			io.WriteString(w, `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Pager","username":"pager_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode sendMessage: %v", err)
			}
			f.mu.Lock()
			f.texts = append(f.texts, body["text"].(string))
			f.mu.Unlock()
			io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":-100,"type":"group"},"text":"ok"}}`)
		default:
			http.NotFound(w, r)
		}
	})
}

func TestSenderSendText(t *testing.T) {
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	s, err := New(Config{Token: "123:abc", APIURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "pager_bot", s.Username())

	err = s.SendText(context.Background(), transport.ChatTarget{ChatID: -100}, "=== 1 New: 1 Text ===", nil)
	require.NoError(t, err)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []string{"=== 1 New: 1 Text ==="}, api.texts)
}

func TestSenderRejectsEmptyInputs(t *testing.T) {
	_, err := New(Config{Token: "  "})
	require.Error(t, err)

	s := &Sender{}
	require.Error(t, s.SendText(context.Background(), transport.ChatTarget{}, "x", nil))
}
