package alert

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "voicepager/pkg/logx"
)

type fakeSource struct {
	msgs  []RawMessage
	err   error
	calls int
	last  Query
}

func (f *fakeSource) Candidates(_ context.Context, q Query) ([]RawMessage, error) {
	f.calls++
	f.last = q
	if f.err != nil {
		return nil, f.err
	}
	return f.msgs, nil
}

func sampleMessages() []RawMessage {
	return []RawMessage{
		{
			ID:      "m1",
			Subject: "New missed call from (415) 555-1234",
			Body:    "You missed a call.",
			Sender:  "voice-noreply@google.com",
			Unread:  true,
		},
		{
			ID:      "m2",
			Subject: "New voicemail from +1 212-555-0100",
			Body:    "Call me back when free\nplay message",
			Sender:  "voice-noreply@google.com",
			Unread:  true,
		},
		{
			ID:      "m3",
			Subject: "Weekly digest",
			Body:    "Nothing here",
			Sender:  "news@example.com",
			Unread:  true,
		},
	}
}

func TestBuildNoCandidates(t *testing.T) {
	t.Parallel()
	b := NewBuilder(&fakeSource{}, Options{}, logx.Nop())

	resp, err := b.Build(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, StateNoCandidates, resp.State)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hasMessages":false,"count":0,"fingerprint":"","alertText":""}`, string(raw))
}

func TestBuildQueryUsesOptions(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	opts := DefaultOptions()
	opts.MaxMessages = 3
	_, err := NewBuilder(src, opts, logx.Nop()).Build(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 3, src.last.Limit)
	assert.True(t, src.last.UnreadOnly)
	assert.Equal(t, DefaultVocabulary().FetchSenders, src.last.Senders)
}

func TestBuildEmitDropsUnclassifiable(t *testing.T) {
	t.Parallel()
	src := &fakeSource{msgs: sampleMessages()}
	b := NewBuilder(src, DefaultOptions(), logx.Nop())

	resp, err := b.Build(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, StateEmit, resp.State)
	assert.True(t, resp.HasMessages)
	assert.Equal(t, 2, resp.Count)
	// The dropped digest still contributes to the fingerprint.
	assert.Equal(t, Fingerprint([]string{"m1", "m2", "m3"}, 16), resp.Fingerprint)
	assert.Equal(t,
		"=== 2 New: 1 Call, 1 VM ===\n\nMissed Call From 415-555-1234\n\nVoicemail From 212-555-0100\nCall me back when free",
		resp.AlertText,
	)
}

func TestBuildSkipsClassifyErrors(t *testing.T) {
	t.Parallel()
	src := &fakeSource{msgs: sampleMessages()}
	b := NewBuilder(src, DefaultOptions(), logx.Nop())
	classify := b.classify
	b.classify = func(m RawMessage) (Record, error) {
		if m.ID == "m1" {
			return Record{}, errors.New("rule panicked")
		}
		return classify(m)
	}

	resp, err := b.Build(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, StateEmit, resp.State)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t,
		"=== 1 New: 1 VM ===\n\nVoicemail From 212-555-0100\nCall me back when free",
		resp.AlertText,
	)
}

func TestBuildChangeDetection(t *testing.T) {
	t.Parallel()
	src := &fakeSource{msgs: sampleMessages()}
	b := NewBuilder(src, DefaultOptions(), logx.Nop())

	first, err := b.Build(context.Background(), "")
	require.NoError(t, err)
	require.NotEmpty(t, first.Fingerprint)

	second, err := b.Build(context.Background(), first.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, StateUnchanged, second.State)
	assert.True(t, second.Unchanged)
	assert.True(t, second.HasMessages)
	// Raw candidate count, not the classified count.
	assert.Equal(t, 3, second.Count)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)

	raw, err := json.Marshal(second)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "alertText")
	assert.JSONEq(t, `{"hasMessages":true,"unchanged":true,"count":3,"fingerprint":"`+first.Fingerprint+`"}`, string(raw))

	third, err := b.Build(context.Background(), "stale-hash")
	require.NoError(t, err)
	assert.Equal(t, StateEmit, third.State)
}

func TestBuildSkipsReadMessages(t *testing.T) {
	t.Parallel()
	msgs := sampleMessages()
	msgs[0].Unread = false
	src := &fakeSource{msgs: msgs}

	resp, err := NewBuilder(src, DefaultOptions(), logx.Nop()).Build(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, Fingerprint([]string{"m2", "m3"}, 16), resp.Fingerprint)
}

func TestBuildNoClassifiable(t *testing.T) {
	t.Parallel()
	src := &fakeSource{msgs: sampleMessages()[2:]}

	resp, err := NewBuilder(src, DefaultOptions(), logx.Nop()).Build(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, StateNoClassifiable, resp.State)
	assert.False(t, resp.HasMessages)
	assert.Zero(t, resp.Count)
	assert.Empty(t, resp.Fingerprint)
	assert.Empty(t, resp.AlertText)
}

func TestBuildFetchFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("mailbox offline")
	b := NewBuilder(&fakeSource{err: boom}, DefaultOptions(), logx.Nop())

	_, err := b.Build(context.Background(), "")
	require.ErrorIs(t, err, ErrFetch)
	require.ErrorIs(t, err, boom)

	_, err = NewBuilder(nil, DefaultOptions(), logx.Nop()).Build(context.Background(), "")
	require.ErrorIs(t, err, ErrFetch)
}

func TestFailureResponseJSON(t *testing.T) {
	t.Parallel()
	raw, err := json.Marshal(FailureResponse(errors.New("boom")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"hasMessages":false,"count":0,"error":"boom"}`, string(raw))

	var back Response
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, StateFailed, back.State)
	assert.Equal(t, "boom", back.Error)
}
