package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/campusmarket/internal/models"
	"github.com/tOgg1/campusmarket/internal/stream"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := zerolog.Nop()
	client, err := NewClient(Config{
		BaseURL:           server.URL,
		SessionToken:      "session-token",
		RequestsPerSecond: 1000,
		Burst:             1000,
		BreakerFailures:   3,
		BreakerTimeout:    time.Minute,
		Logger:            &logger,
	})
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)

	_, err = NewClient(Config{BaseURL: "ftp://example.com"})
	require.Error(t, err)

	client, err := NewClient(Config{BaseURL: "https://market.example.edu/"})
	require.NoError(t, err)
	assert.Equal(t, "https://market.example.edu/api/conversations", client.endpoint("/api/conversations", nil))
}

func TestListConversations(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "bare array", body: `[{"_id":"c1","participants":["u1","u2"],"unreadCount":{"u1":2},"isActive":true}]`},
		{name: "envelope", body: `{"conversations":[{"_id":"c1","participants":[{"_id":"u1"},{"_id":"u2"}],"unreadCount":2,"isActive":true}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/api/conversations", r.URL.Path)
				assert.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))
				assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
				_, _ = io.WriteString(w, tt.body)
			}))

			list, err := client.ListConversations(context.Background())
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "c1", list[0].ID)
			assert.Equal(t, 2, list[0].UnreadFor("u1"))
			assert.True(t, list[0].HasParticipant("u2"))
		})
	}
}

func TestListMessagesFillsConversation(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations/c%201/messages", r.URL.EscapedPath())
		_, _ = io.WriteString(w, `{"messages":[{"_id":"m1","content":"hi","sender":"u2","createdAt":"2026-02-01T10:00:00Z"}]}`)
	}))

	messages, err := client.ListMessages(context.Background(), "c 1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "c 1", messages[0].ConversationID)
	assert.Equal(t, "u2", messages[0].Sender.ID)
}

func TestSendMessage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body models.OutgoingMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body.Content)
		assert.Equal(t, "client-1", body.ClientID)

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"_id":"m9","content":"hello","sender":{"_id":"u1"},"clientId":"client-1"}`)
	}))

	sent, err := client.SendMessage(context.Background(), "c1", models.OutgoingMessage{Content: "hello", ClientID: "client-1"})
	require.NoError(t, err)
	assert.Equal(t, "m9", sent.ID)
	assert.Equal(t, "c1", sent.ConversationID)
	assert.Equal(t, "client-1", sent.ClientID)
}

func TestMarkReadAndCompleteTrade(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/api/conversations/c1/read":
			w.WriteHeader(http.StatusNoContent)
		case "/api/conversations/c1/complete-trade":
			_, _ = io.WriteString(w, `{"conversation":{"_id":"c1","isCompleted":true,"isActive":false,"buyerId":"b1"}}`)
		}
	}))

	require.NoError(t, client.MarkRead(context.Background(), "c1"))
	conv, err := client.CompleteTrade(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, conv.IsCompleted)
	assert.Equal(t, "b1", conv.BuyerID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"PATCH /api/conversations/c1/read",
		"POST /api/conversations/c1/complete-trade",
	}, paths)
}

func TestStatusErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		body   string
		kind   error
	}{
		{status: http.StatusUnauthorized, body: `{"error":"token expired"}`, kind: models.ErrAuthorization},
		{status: http.StatusForbidden, body: `{"message":"only the seller can complete"}`, kind: models.ErrAuthorization},
		{status: http.StatusNotFound, body: `not here`, kind: models.ErrNotFound},
		{status: http.StatusConflict, body: `{"error":"trade already completed"}`, kind: models.ErrAlreadyCompleted},
		{status: http.StatusServiceUnavailable, body: ``, kind: models.ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))

			_, err := client.CompleteTrade(context.Background(), "c1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.StatusCode)
		})
	}
}

func TestBreakerOpensOnServerErrorsOnly(t *testing.T) {
	var hits atomic.Int32
	var status atomic.Int32
	status.Store(http.StatusBadRequest)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(int(status.Load()))
	}))

	for i := 0; i < 5; i++ {
		_, err := client.ListConversations(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, client.BreakerState())

	status.Store(http.StatusInternalServerError)
	for i := 0; i < 3; i++ {
		_, _ = client.ListConversations(context.Background())
	}
	assert.Equal(t, gobreaker.StateOpen, client.BreakerState())

	before := hits.Load()
	_, err := client.ListConversations(context.Background())
	require.ErrorIs(t, err, models.ErrNetwork)
	assert.Equal(t, before, hits.Load(), "open breaker short-circuits")
}

func TestNetworkErrorIsClassified(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	logger := zerolog.Nop()
	client, err := NewClient(Config{BaseURL: url, Logger: &logger})
	require.NoError(t, err)

	_, err = client.ListConversations(context.Background())
	require.ErrorIs(t, err, models.ErrNetwork)
}

func TestFetchStreamToken(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations/c1/token", r.URL.Path)
		_, _ = io.WriteString(w, `{"token":"scoped"}`)
	}))
	token, err := client.FetchStreamToken(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "scoped", token)
}

func TestOpenStream(t *testing.T) {
	var _ stream.Transport = (*Client)(nil)

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("token") {
		case "good":
			assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, ":heartbeat\n\ndata: {\"type\":\"connected\"}\n\n")
		case "json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{}`)
		case "unavailable":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))

	body, err := client.Open(context.Background(), "c1", "good")
	require.NoError(t, err)
	scanner := stream.NewScanner(body)
	require.True(t, scanner.Next())
	assert.True(t, scanner.Event().IsComment())
	require.True(t, scanner.Next())
	assert.Equal(t, stream.FrameHandshake, stream.DecodeFrame([]byte(scanner.Event().Data)).Kind())
	require.NoError(t, body.Close())

	_, err = client.Open(context.Background(), "c1", "bad")
	require.ErrorIs(t, err, models.ErrAuthorization)
	assert.False(t, errors.Is(err, models.ErrConnection))

	_, err = client.Open(context.Background(), "c1", "unavailable")
	require.ErrorIs(t, err, models.ErrConnection)

	_, err = client.Open(context.Background(), "c1", "json")
	require.ErrorIs(t, err, models.ErrConnection)
}
