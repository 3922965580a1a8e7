package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/care-relay/backend/internal/model/chat"
	"github.com/zhouzirui/care-relay/backend/internal/service/assistant"
	"github.com/zhouzirui/care-relay/backend/internal/service/assistant/assistanttest"
	chatService "github.com/zhouzirui/care-relay/backend/internal/service/chat"
	"github.com/zhouzirui/care-relay/backend/internal/service/session"
	"github.com/zhouzirui/care-relay/backend/pkg/utils"
)

const allowedOrigin = "http://localhost:5173"

func setupRouter(client *assistanttest.Client, rateLimit int) http.Handler {
	svc := chatService.NewService(session.NewRegistry(client, session.Options{}), nil, zerolog.Nop())
	return NewRouter(svc, Options{
		AllowedOrigins: []string{allowedOrigin},
		RateLimit:      rateLimit,
		RateWindow:     time.Minute,
		Logger:         zerolog.Nop(),
	})
}

func postChat(t *testing.T, h http.Handler, body any, origin string) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	switch b := body.(type) {
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	r := setupRouter(&assistanttest.Client{}, 0)

	for _, origin := range []string{"", "http://evil.example"} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	}
}

func TestChatSuccess(t *testing.T) {
	client := &assistanttest.Client{}
	r := setupRouter(client, 0)

	for _, msg := range []string{"a", strings.Repeat("m", chat.MaxMessageLength)} {
		rec := postChat(t, r, chat.Request{SessionID: "demo", Message: msg}, allowedOrigin)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp chat.Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "demo", resp.SessionID)
		assert.Equal(t, "echo: "+msg, resp.Answer)
		assert.Len(t, resp.Items, 1)
	}
	assert.Equal(t, 1, client.Starts())
}

func TestChatWithoutOriginHeader(t *testing.T) {
	rec := postChat(t, setupRouter(&assistanttest.Client{}, 0), chat.Request{SessionID: "demo", Message: "hi"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChatInvalidBody(t *testing.T) {
	client := &assistanttest.Client{}
	r := setupRouter(client, 0)

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"empty message", chat.Request{SessionID: "demo"}, "message"},
		{"long message", chat.Request{SessionID: "demo", Message: strings.Repeat("m", chat.MaxMessageLength+1)}, "message"},
		{"missing session", map[string]string{"message": "hi"}, "sessionId"},
		{"wrong session type", `{"sessionId":123,"message":"hi"}`, "sessionId"},
		{"malformed json", `{"sessionId":`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postChat(t, r, tt.body, allowedOrigin)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			body := decodeError(t, rec)
			assert.EqualValues(t, 400, body["status"])
			assert.Equal(t, "Invalid request body", body["message"])
			details, ok := body["details"].(map[string]any)
			require.True(t, ok)
			if tt.field != "" {
				fields := details["fieldErrors"].(map[string]any)
				assert.Contains(t, fields, tt.field)
			} else {
				assert.NotEmpty(t, details["formErrors"])
			}
		})
	}
	assert.Equal(t, 0, client.Starts())
}

func TestChatAssistantFailureIsGeneric(t *testing.T) {
	client := &assistanttest.Client{Run: func(context.Context, string, string) (*assistant.Turn, error) {
		return nil, errors.New("secret upstream detail")
	}}
	rec := postChat(t, setupRouter(client, 0), chat.Request{SessionID: "demo", Message: "hi"}, allowedOrigin)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"status":500,"message":"Assistant request failed"}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestChatPreconditionFailures(t *testing.T) {
	tests := []struct {
		initErr error
		message string
	}{
		{assistant.ErrCredentialMissing, "Assistant credential is not set"},
		{errors.New("create ark chat model: dial"), "Assistant initialization failed"},
	}
	for _, tt := range tests {
		svc := chatService.NewService(nil, tt.initErr, zerolog.Nop())
		r := NewRouter(svc, Options{Logger: zerolog.Nop()})

		rec := postChat(t, r, chat.Request{SessionID: "demo", Message: "hi"}, "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, tt.message, decodeError(t, rec)["message"])
	}
}

func TestCORSBlocked(t *testing.T) {
	client := &assistanttest.Client{}
	rec := postChat(t, setupRouter(client, 0), chat.Request{SessionID: "demo", Message: "hi"}, "http://evil.example")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "CORS origin not allowed", decodeError(t, rec)["message"])
	assert.Equal(t, 0, client.Starts())
}

func TestNotFound(t *testing.T) {
	r := setupRouter(&assistanttest.Client{}, 0)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/nope"},
		{http.MethodGet, "/api/nope"},
		{http.MethodGet, "/api/chat"},
		{http.MethodDelete, "/health"},
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))

		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.path)
		assert.Equal(t, utils.ErrorPayload{Status: 404, Message: "Route not found"}, decodePayload(t, rec))
	}
}

func decodePayload(t *testing.T, rec *httptest.ResponseRecorder) utils.ErrorPayload {
	t.Helper()
	var out utils.ErrorPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRateLimit(t *testing.T) {
	r := setupRouter(&assistanttest.Client{}, 3)

	var limited int
	for i := 0; i < 5; i++ {
		rec := postChat(t, r, chat.Request{SessionID: "demo", Message: "hi"}, allowedOrigin)
		if rec.Code == http.StatusTooManyRequests {
			limited++
			continue
		}
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 2, limited)

	// health is outside the limited group
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebClientServed(t *testing.T) {
	rec := httptest.NewRecorder()
	setupRouter(&assistanttest.Client{}, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Care Companion Chat")
}

func TestRateLimitCountsWebSocketFrames(t *testing.T) {
	client := &assistanttest.Client{}
	srv := httptest.NewServer(setupRouter(client, 2))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/chat/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	// 握手本身占用一次额度
	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"sessionId":"ws","message":"hi"}`)))
		var frame struct {
			Type   string `json:"type"`
			Status int    `json:"status"`
		}
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == "reply" {
			statuses = append(statuses, http.StatusOK)
		} else {
			statuses = append(statuses, frame.Status)
		}
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, statuses)
	assert.Len(t, client.Threads(), 1)
}
