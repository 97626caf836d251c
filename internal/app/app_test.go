package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicepager/internal/alert"
	"voicepager/internal/config"
)

const baseConfig = `logging:
  level: error
  console: true
storage:
  driver: file
  path: %STORE%
http:
  addr: 127.0.0.1:0
  path: /alerts
`

const missedCallEML = `From: Google Voice <voice-noreply@google.com>
To: me@example.com
Subject: New missed call from (415) 555-1234
Message-Id: <call-1@example.com>
Date: Mon, 12 Oct 2026 10:00:00 +0000

You missed a call.
`

const voicemailEML = `From: Google Voice <voice-noreply@google.com>
To: me@example.com
Subject: New voicemail from +1 212-555-0100
Message-Id: <vm-1@example.com>
Date: Mon, 12 Oct 2026 11:00:00 +0000

Call me back when free
play message
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	body = strings.ReplaceAll(body, "%STORE%", filepath.Join(dir, "store"))
	path := filepath.Join(dir, "voicepager.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func writeEML(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(body, "\n", "\r\n")), 0o644))
	return path
}

func newApp(t *testing.T, body string) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	a, err := New(writeConfig(t, dir, body), Options{Offline: true})
	require.NoError(t, err)
	return a, dir
}

func TestNewRejectsBadSchedule(t *testing.T) {
	dir := t.TempDir()
	_, err := New(writeConfig(t, dir, baseConfig+"relay:\n  schedule: \"whenever\"\n"), Options{Offline: true})
	require.Error(t, err)
}

func TestIngestCheckMarkRead(t *testing.T) {
	ctx := context.Background()
	a, dir := newApp(t, baseConfig)
	defer func() { require.NoError(t, a.Stop(ctx)) }()

	msgs, err := a.Ingest(ctx, []string{
		writeEML(t, dir, "call.eml", missedCallEML),
		writeEML(t, dir, "vm.eml", voicemailEML),
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "call-1@example.com", msgs[0].ID)
	assert.True(t, msgs[0].Unread)
	assert.Equal(t, 2026, msgs[0].ReceivedAt.Year())

	resp, err := a.Check(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, alert.StateEmit, resp.State)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t,
		"=== 2 New: 1 Call, 1 VM ===\n\nVoicemail From 212-555-0100\nCall me back when free\n\nMissed Call From 415-555-1234",
		resp.AlertText,
	)

	again, err := a.Check(ctx, resp.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, alert.StateUnchanged, again.State)

	n, err := a.Store().MarkRead(ctx, "call-1@example.com", "vm-1@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	resp, err = a.Check(ctx, resp.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, alert.StateNoCandidates, resp.State)
}

func TestIngestIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	a, dir := newApp(t, baseConfig)
	defer func() { require.NoError(t, a.Stop(ctx)) }()

	_, err := a.Ingest(ctx, []string{
		writeEML(t, dir, "call.eml", missedCallEML),
		filepath.Join(dir, "missing.eml"),
	})
	require.Error(t, err)

	resp, err := a.Check(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, alert.StateNoCandidates, resp.State)
}

func TestPushWithoutTelegram(t *testing.T) {
	a, _ := newApp(t, baseConfig)
	defer func() { require.NoError(t, a.Stop(context.Background())) }()
	_, err := a.Push(context.Background())
	require.Error(t, err)
}

func get(t *testing.T, a *App, path string) (int, map[string]any) {
	t.Helper()
	addr := a.HTTPAddr()
	if addr == "" {
		return 0, nil
	}
	resp, err := http.Get("http://" + addr + path)
	if err != nil {
		return 0, nil
	}
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func TestServeAndHotReload(t *testing.T) {
	a, dir := newApp(t, baseConfig)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	select {
	case <-a.HTTPReady():
	case <-time.After(5 * time.Second):
		t.Fatal("http endpoint never became ready")
	}

	code, body := get(t, a, "/alerts")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["hasMessages"])

	// Adding a token restarts the listener and starts rejecting anonymous polls.
	writeConfig(t, dir, baseConfig+"  token: s3cret\n")
	changed, err := a.cfgm.Reload(ctx)
	require.NoError(t, err)
	require.True(t, changed)

	require.Eventually(t, func() bool {
		code, _ := get(t, a, "/alerts")
		return code == http.StatusUnauthorized
	}, 5*time.Second, 50*time.Millisecond)
	require.Eventually(t, func() bool {
		code, _ := get(t, a, "/alerts?token=s3cret")
		return code == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	require.NoError(t, a.Stop(sctx))
	assert.NoError(t, a.Err())
}

func TestApplyPipelineChange(t *testing.T) {
	ctx := context.Background()
	a, dir := newApp(t, baseConfig)
	defer func() { require.NoError(t, a.Stop(ctx)) }()

	_, err := a.Ingest(ctx, []string{
		writeEML(t, dir, "call.eml", missedCallEML),
		writeEML(t, dir, "vm.eml", voicemailEML),
	})
	require.NoError(t, err)

	prev := a.Config()
	next, err := config.Decode("next.yaml", []byte(strings.ReplaceAll(baseConfig, "%STORE%", filepath.Join(dir, "store"))+"pipeline:\n  max_messages: 1\n"))
	require.NoError(t, err)
	a.apply(ctx, prev, next)

	resp, err := a.Check(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Count)
	assert.Contains(t, resp.AlertText, "Voicemail From 212-555-0100")
}
