package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/tOgg1/campusmarket/internal/clock"
	"github.com/tOgg1/campusmarket/internal/logging"
	"github.com/tOgg1/campusmarket/internal/models"
)

// tokenSkew is how early a cached stream token is considered expired.
const tokenSkew = 30 * time.Second

// ErrNotJWT is returned by InspectToken for opaque tokens.
var ErrNotJWT = errors.New("token is not a JWT")

// TokenClaims is what the client reads from a token. Signatures are
// not verified here; the server does that.
type TokenClaims struct {
	Subject        string
	UserID         string
	ConversationID string
	ExpiresAt      time.Time
}

// Identity returns the user the token was issued to.
func (c TokenClaims) Identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// ExpiredAt reports whether the token is expired at now, allowing skew.
func (c TokenClaims) ExpiredAt(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(c.ExpiresAt)
}

// InspectToken decodes a JWT without verifying it.
func InspectToken(token string) (TokenClaims, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return TokenClaims{}, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return TokenClaims{}, ErrNotJWT
	}

	out := TokenClaims{
		UserID:         stringClaim(claims, "userId", "user_id", "id"),
		ConversationID: stringClaim(claims, "conversationId", "conversation_id"),
	}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}

func stringClaim(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// StreamTokenFetcher requests scoped push-channel tokens.
type StreamTokenFetcher interface {
	FetchStreamToken(ctx context.Context, conversationID string) (string, error)
}

// TokenProviderOptions configures a TokenProvider.
type TokenProviderOptions struct {
	// SessionToken is the caller's REST bearer token.
	SessionToken string

	// AllowSessionFallback hands the session token to the push channel
	// when no scoped token can be obtained. Off by default; every use is
	// logged as a warning.
	AllowSessionFallback bool

	Clock  clock.Clock
	Logger *zerolog.Logger
}

// TokenProvider issues stream tokens per conversation, caching them
// until shortly before they expire.
type TokenProvider struct {
	fetcher       StreamTokenFetcher
	sessionToken  string
	allowFallback bool
	clock         clock.Clock
	logger        zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedToken
}

type cachedToken struct {
	token  string
	claims TokenClaims
}

// NewTokenProvider creates a TokenProvider.
func NewTokenProvider(fetcher StreamTokenFetcher, opts TokenProviderOptions) *TokenProvider {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	logger := logging.Component("stream-token")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &TokenProvider{
		fetcher:       fetcher,
		sessionToken:  opts.SessionToken,
		allowFallback: opts.AllowSessionFallback,
		clock:         opts.Clock,
		logger:        logger,
		cache:         make(map[string]cachedToken),
	}
}

// StreamToken returns a token for conversationID's push channel.
func (p *TokenProvider) StreamToken(ctx context.Context, conversationID string) (string, error) {
	if conversationID == "" {
		return "", errors.New("stream token: conversation id is required")
	}

	now := p.clock.Now()
	p.mu.Lock()
	cached, ok := p.cache[conversationID]
	p.mu.Unlock()
	if ok && !cached.claims.ExpiredAt(now, tokenSkew) {
		return cached.token, nil
	}

	token, err := p.fetcher.FetchStreamToken(ctx, conversationID)
	if err != nil {
		if p.allowFallback && p.sessionToken != "" && ctx.Err() == nil {
			p.logger.Warn().
				Err(err).
				Str("conversation_id", conversationID).
				Msg("scoped stream token unavailable, using session token for push channel")
			return p.sessionToken, nil
		}
		return "", fmt.Errorf("stream token: %w", err)
	}

	claims, err := InspectToken(token)
	switch {
	case errors.Is(err, ErrNotJWT):
		// Opaque tokens are accepted as issued and never cached.
		return token, nil
	case err != nil:
		return "", err
	}
	if claims.ConversationID != "" && claims.ConversationID != conversationID {
		return "", fmt.Errorf("%w: stream token is scoped to conversation %s", models.ErrAuthorization, claims.ConversationID)
	}
	if claims.ExpiredAt(now, 0) {
		return "", fmt.Errorf("%w: stream token already expired", models.ErrAuthorization)
	}

	p.mu.Lock()
	p.cache[conversationID] = cachedToken{token: token, claims: claims}
	p.mu.Unlock()
	return token, nil
}

// Forget drops any cached token for conversationID.
func (p *TokenProvider) Forget(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, conversationID)
}
