// Package backend implements the application's own session: anonymous accounts
// identified by a signed session token that can later be upgraded.
package backend

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

const (
	DefaultIssuer     = "fairway-identity"
	DefaultSessionTTL = 30 * 24 * time.Hour
)

// ErrSessionExpired is returned for a well-formed token past its expiry.
var ErrSessionExpired = errors.New("session expired")

// Session is a signed-in backend identity.
type Session struct {
	UserID    string    `json:"userId"`
	Anonymous bool      `json:"anonymous"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type sessionClaims struct {
	Anonymous bool `json:"anon"`
	jwtlib.RegisteredClaims
}

// Auth issues and verifies session tokens.
type Auth struct {
	signer Signer
	issuer string
	ttl    time.Duration
}

// AuthOption defines a function type to modify the Auth instance.
type AuthOption func(*Auth)

// WithIssuer sets the iss claim
func WithIssuer(issuer string) AuthOption {
	return func(a *Auth) {
		a.issuer = issuer
	}
}

// WithSessionTTL sets the token lifetime
func WithSessionTTL(ttl time.Duration) AuthOption {
	return func(a *Auth) {
		a.ttl = ttl
	}
}

// WithSigner replaces the HMAC signer built from the secret
func WithSigner(signer Signer) AuthOption {
	return func(a *Auth) {
		a.signer = signer
	}
}

// NewAuth creates an Auth signing with secret.
func NewAuth(secret []byte, options ...AuthOption) (*Auth, error) {
	if len(secret) < 16 {
		return nil, errors.New("[backend.NewAuth] secret must be at least 16 bytes")
	}
	a := &Auth{signer: NewHMACSigner(secret), issuer: DefaultIssuer, ttl: DefaultSessionTTL}
	for _, opt := range options {
		opt(a)
	}
	return a, nil
}

// SignInAnonymously creates a fresh anonymous account.
func (a *Auth) SignInAnonymously() (*Session, error) {
	return a.issue(uuid.New().String(), true)
}

func (a *Auth) issue(userID string, anonymous bool) (*Session, error) {
	now := NowTimeFunc()
	expiresAt := now.Add(a.ttl)
	claims := sessionClaims{
		Anonymous: anonymous,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   userID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			ID:        uuid.New().String(),
		},
	}
	signed, err := a.signer.Sign(claims)
	if err != nil {
		return nil, err
	}
	return &Session{UserID: userID, Anonymous: anonymous, Token: signed, ExpiresAt: expiresAt}, nil
}

// Verify checks a session token and returns the session it carries.
func (a *Auth) Verify(rawToken string) (*Session, error) {
	claims := &sessionClaims{}
	token, err := jwtlib.ParseWithClaims(rawToken, claims, a.signer.GetVerificationKey,
		jwtlib.WithValidMethods([]string{a.signer.GetSigningMethod().Alg()}),
		jwtlib.WithIssuer(a.issuer),
		jwtlib.WithTimeFunc(NowTimeFunc),
		jwtlib.WithExpirationRequired(),
	)
	if errors.Is(err, jwtlib.ErrTokenExpired) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("invalid session token: missing subject")
	}
	return &Session{
		UserID:    claims.Subject,
		Anonymous: claims.Anonymous,
		Token:     rawToken,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
