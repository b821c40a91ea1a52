package devserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultStreamTokenTTL bounds scoped push-channel tokens.
const DefaultStreamTokenTTL = 5 * time.Minute

var errInvalidToken = errors.New("invalid token")

// Claims are carried by both token kinds. Stream tokens set
// ConversationID; session tokens leave it empty.
type Claims struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret    []byte
	streamTTL time.Duration
	now       func() time.Time
}

// NewIssuer creates an Issuer. secret must not be empty.
func NewIssuer(secret []byte, streamTTL time.Duration, now func() time.Time) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("devserver: token secret is required")
	}
	if streamTTL <= 0 {
		streamTTL = DefaultStreamTokenTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{secret: secret, streamTTL: streamTTL, now: now}, nil
}

// SessionToken issues a REST token for userID. ttl <= 0 means no expiry.
func (i *Issuer) SessionToken(userID string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(i.now()),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(i.now().Add(ttl))
	}
	return i.sign(claims)
}

// StreamToken issues a push-channel token scoped to one conversation.
func (i *Issuer) StreamToken(userID, conversationID string) (string, error) {
	now := i.now()
	return i.sign(Claims{
		UserID:         userID,
		ConversationID: conversationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.streamTTL)),
		},
	})
}

func (i *Issuer) sign(claims Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry and returns the claims.
func (i *Issuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, errInvalidToken
	}
	return claims, nil
}
