// Package api is the HTTP client for the marketplace chat backend: REST
// calls for conversations, messages, read receipts and trades, plus the
// server-sent event transport for the push channel.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/tOgg1/campusmarket/internal/logging"
	"github.com/tOgg1/campusmarket/internal/models"
)

// Defaults for Config.
const (
	DefaultTimeout           = 15 * time.Second
	DefaultRequestsPerSecond = 10
	DefaultBurst             = 20
	DefaultBreakerFailures   = 5
	DefaultBreakerTimeout    = 30 * time.Second
	DefaultUserAgent         = "campusmarket/1"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the backend origin, e.g. https://market.example.edu.
	BaseURL string

	// SessionToken authenticates REST calls as a bearer token.
	SessionToken string

	UserAgent string
	Timeout   time.Duration

	// RequestsPerSecond and Burst bound outbound REST traffic.
	RequestsPerSecond float64
	Burst             int

	// BreakerFailures consecutive transport or 5xx failures open the
	// circuit for BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	// HTTPClient overrides the REST client. The stream client never
	// times out and is derived from its transport.
	HTTPClient *http.Client

	Logger *zerolog.Logger
}

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	baseURL   *url.URL
	token     string
	userAgent string
	http      *http.Client
	stream    *http.Client
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	logger    zerolog.Logger
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("api: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api: unsupported scheme %q", base.Scheme)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = DefaultBreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = DefaultBreakerTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	logger := logging.Component("api")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	streamClient := &http.Client{Transport: httpClient.Transport}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "campusmarket-api",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Client errors say nothing about backend health.
		IsSuccessful: func(err error) bool {
			var statusErr *StatusError
			if errors.As(err, &statusErr) {
				return statusErr.StatusCode < 500
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &Client{
		baseURL:   base,
		token:     cfg.SessionToken,
		userAgent: cfg.UserAgent,
		http:      httpClient,
		stream:    streamClient,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker:   breaker,
		logger:    logger,
	}, nil
}

// ListConversations fetches the caller's conversation summaries.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &raw); err != nil {
		return nil, err
	}
	var list []models.Conversation
	if err := decodeEnvelope(raw, "conversations", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ListMessages fetches the full history of a conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, conversationPath(conversationID, "messages"), nil, &raw); err != nil {
		return nil, err
	}
	var list []models.Message
	if err := decodeEnvelope(raw, "messages", &list); err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].ConversationID == "" {
			list[i].ConversationID = conversationID
		}
	}
	return list, nil
}

// MarkRead confirms the caller has read a conversation.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPatch, conversationPath(conversationID, "read"), nil, nil)
}

// SendMessage posts a message and returns the server copy.
func (c *Client) SendMessage(ctx context.Context, conversationID string, msg models.OutgoingMessage) (models.Message, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, conversationPath(conversationID, "messages"), msg, &raw); err != nil {
		return models.Message{}, err
	}
	var out models.Message
	if err := decodeEnvelope(raw, "message", &out); err != nil {
		return models.Message{}, err
	}
	if out.ConversationID == "" {
		out.ConversationID = conversationID
	}
	return out, nil
}

// CompleteTrade asks the server to complete the trade. Only the seller
// is allowed; the server answers 403 otherwise.
func (c *Client) CompleteTrade(ctx context.Context, conversationID string) (models.Conversation, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, conversationPath(conversationID, "complete-trade"), nil, &raw); err != nil {
		return models.Conversation{}, err
	}
	var out models.Conversation
	if len(raw) == 0 {
		return out, nil
	}
	if err := decodeEnvelope(raw, "conversation", &out); err != nil {
		return models.Conversation{}, err
	}
	return out, nil
}

// FetchStreamToken requests a push-channel token scoped to one
// conversation.
func (c *Client) FetchStreamToken(ctx context.Context, conversationID string) (string, error) {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodGet, conversationPath(conversationID, "token"), nil, &body); err != nil {
		return "", err
	}
	if body.Token == "" {
		return "", fmt.Errorf("%w: empty stream token", models.ErrParse)
	}
	return body.Token, nil
}

// SessionToken returns the bearer token REST calls use.
func (c *Client) SessionToken() string {
	return c.token
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func conversationPath(conversationID, suffix string) string {
	return "/api/conversations/" + url.PathEscape(conversationID) + "/" + suffix
}

// endpoint joins an escaped path onto the base URL.
func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.RawPath = strings.TrimRight(c.baseURL.EscapedPath(), "/") + path
	if unescaped, err := url.PathUnescape(u.RawPath); err == nil {
		u.Path = unescaped
	} else {
		u.Path = u.RawPath
	}
	u.RawQuery = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, in any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", models.ErrNetwork, err)
	}

	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	requestID := uuid.NewString()
	started := time.Now()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, nil), body)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		c.decorate(req, requestID)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, newStatusError(method, path, resp.StatusCode, data)
		}
		return data, nil
	})

	event := c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Str("request_id", requestID).
		Dur("elapsed", time.Since(started))
	if err != nil {
		event.Err(err).Msg("request failed")
		return classify(method, path, err)
	}
	event.Msg("request ok")

	data, _ := result.([]byte)
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %v", models.ErrParse, method, path, err)
	}
	return nil
}

func (c *Client) decorate(req *http.Request, requestID string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// classify maps transport failures onto the shared error kinds.
// StatusError already unwraps to its kind.
func classify(method, path string, err error) error {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return statusErr
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %s %s: backend unavailable: %v", models.ErrNetwork, method, path, err)
	default:
		return fmt.Errorf("%w: %s %s: %v", models.ErrNetwork, method, path, err)
	}
}

// decodeEnvelope accepts either the bare value or {"<key>": value}.
func decodeEnvelope(raw json.RawMessage, key string, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty response", models.ErrParse)
	}
	if trimmed[0] == '{' {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err == nil {
			if inner, ok := envelope[key]; ok {
				trimmed = inner
			}
		}
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", models.ErrParse, key, err)
	}
	return nil
}
