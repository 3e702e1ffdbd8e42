package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rahul/dealdesk/internal/agent"
	"github.com/rahul/dealdesk/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTurns struct {
	got  []agent.TurnRequest
	resp *agent.TurnResponse
	err  error
}

func (f *fakeTurns) HandleTurn(_ context.Context, req agent.TurnRequest) (*agent.TurnResponse, error) {
	f.got = append(f.got, req)
	return f.resp, f.err
}

func postTurn(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/turns", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPServer_Turn(t *testing.T) {
	turns := &fakeTurns{resp: &agent.TurnResponse{
		Text:              "Created 12 Elm St.",
		EntityRef:         "p1",
		EntityDisplayName: "12 Elm St",
		Executor:          "portfolio",
	}}
	h := NewHTTPServer(turns, nil, nil).Handler()

	rec := postTurn(t, h, `{"session_id":"s1","text":"add 12 Elm St","entity_ref":"p0"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, map[string]string{
		"text":                "Created 12 Elm St.",
		"entity_ref":          "p1",
		"entity_display_name": "12 Elm St",
	}, got)
	require.Len(t, turns.got, 1)
	assert.Equal(t, agent.TurnRequest{SessionID: "s1", Text: "add 12 Elm St", EntityRef: "p0"}, turns.got[0])
}

func TestHTTPServer_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		status     int
		retryAfter string
	}{
		{"invalid", agent.ErrInvalidRequest, http.StatusBadRequest, ""},
		{"engine down", &agent.TurnError{Op: "engine", Retryable: true, Err: agent.ErrEngineUnavailable}, http.StatusServiceUnavailable, retryAfterSeconds},
		{"timeout", &agent.TurnError{Op: "engine", Retryable: true, Err: agent.ErrTurnTimeout}, http.StatusServiceUnavailable, retryAfterSeconds},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHTTPServer(&fakeTurns{err: tc.err}, nil, observability.NewNopLogger()).Handler()
			rec := postTurn(t, h, `{"session_id":"s1","text":"hi"}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.retryAfter, rec.Header().Get("Retry-After"))
			assert.NotContains(t, rec.Body.String(), "disk on fire")
		})
	}
}

func TestHTTPServer_BadBody(t *testing.T) {
	turns := &fakeTurns{}
	h := NewHTTPServer(turns, nil, nil).Handler()
	rec := postTurn(t, h, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, turns.got)
}

func TestHTTPServer_HealthAndMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	metrics.Escalated("portfolio")
	h := NewHTTPServer(&fakeTurns{}, metrics.Handler(), nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dealdesk_escalations_total{target="portfolio"} 1`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/turns", bytes.NewReader(nil)))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestConverse(t *testing.T) {
	turns := &fakeTurns{resp: &agent.TurnResponse{Text: "Hello."}}
	assert.Equal(t, "Hello.", converse(context.Background(), turns, nil, TelegramSessionID(42), "hi"))
	assert.Equal(t, "telegram:42", turns.got[0].SessionID)

	assert.Empty(t, converse(context.Background(), turns, nil, "s", "   "))
	assert.Len(t, turns.got, 1)

	turns.err = &agent.TurnError{Op: "engine", Retryable: true, Err: agent.ErrEngineUnavailable}
	assert.Equal(t, busyReply, converse(context.Background(), turns, nil, DiscordSessionID("c9"), "hi"))
	assert.Equal(t, "discord:c9", turns.got[1].SessionID)

	turns.err = errors.New("corrupt row")
	assert.Equal(t, failedReply, converse(context.Background(), turns, nil, "s", "hi"))

	turns.err = &agent.TurnError{Op: "engine", Err: context.Canceled}
	assert.Empty(t, converse(context.Background(), turns, nil, "s", "hi"))
}

func TestChunk(t *testing.T) {
	assert.Equal(t, []string{"short"}, chunk("short", 10))
	assert.Nil(t, chunk("", 10))

	parts := chunk("aaaa\nbbbb\ncccc", 10)
	assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, parts)

	long := strings.Repeat("x", 25)
	parts = chunk(long, 10)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, parts)
}
