// Package liff adapts an OpenID Connect mini-app host (LINE LIFF style) to the
// platform.SDK interface. The host hands the mini-app an ID token; a person is
// logged in when that token verifies against the host's issuer.
package liff

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/jrsteele09/fairway-identity/platform"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const verifyTimeout = 5 * time.Second

// Config describes the host channel.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Provider holds the discovered host configuration. It is shared by every visitor;
// each visitor gets its own SDK via ForVisitor.
type Provider struct {
	cfg        Config
	keySet     oidc.KeySet
	httpClient *http.Client

	mu       sync.RWMutex
	verifier *oidc.IDTokenVerifier
	oauth    *oauth2.Config
}

// ProviderOption defines a function type to modify the Provider instance.
type ProviderOption func(*Provider)

// WithKeySet verifies tokens against ks instead of the issuer's JWKS endpoint
func WithKeySet(ks oidc.KeySet) ProviderOption {
	return func(p *Provider) {
		p.keySet = ks
	}
}

// WithHTTPClient sets the client used for discovery and key fetches
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// NewProvider creates an uninitialised Provider.
func NewProvider(cfg Config, options ...ProviderOption) (*Provider, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("[liff.NewProvider] issuer is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("[liff.NewProvider] client id is required")
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile"}
	}
	p := &Provider{cfg: cfg, httpClient: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range options {
		opt(p)
	}
	return p, nil
}

// Initialized reports whether discovery has completed.
func (p *Provider) Initialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.verifier != nil
}

// Init runs OIDC discovery against the issuer. Safe to call repeatedly.
func (p *Provider) Init(ctx context.Context) error {
	if p.Initialized() {
		return nil
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, p.httpClient), p.cfg.Issuer)
	if err != nil {
		return fmt.Errorf("discover %s: %w", p.cfg.Issuer, err)
	}

	verifierConfig := &oidc.Config{
		ClientID:             p.cfg.ClientID,
		SupportedSigningAlgs: []string{oidc.RS256, oidc.ES256},
	}
	verifier := provider.Verifier(verifierConfig)
	if p.keySet != nil {
		verifier = oidc.NewVerifier(p.cfg.Issuer, p.keySet, verifierConfig)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifier = verifier
	p.oauth = &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  p.cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       p.cfg.Scopes,
	}
	return nil
}

// LoginURL builds the host login URL returning to redirectURI.
func (p *Provider) LoginURL(redirectURI string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.oauth == nil {
		return "", errors.New("provider is not initialised")
	}
	var opts []oauth2.AuthCodeOption
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}
	return p.oauth.AuthCodeURL(uuid.New().String(), opts...), nil
}

func (p *Provider) verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error) {
	p.mu.RLock()
	verifier := p.verifier
	p.mu.RUnlock()
	if verifier == nil {
		return nil, errors.New("provider is not initialised")
	}
	return verifier.Verify(oidc.ClientContext(ctx, p.httpClient), rawIDToken)
}

// ForVisitor returns the SDK view of one visitor. rawIDToken is the host-issued ID
// token (empty when the host has not logged the person in), inClient whether the
// request came from the host app's browser, and redirect performs the login redirect.
func (p *Provider) ForVisitor(rawIDToken string, inClient bool, redirect func(loginURL string)) *SDK {
	return &SDK{provider: p, rawIDToken: strings.TrimSpace(rawIDToken), inClient: inClient, redirect: redirect}
}

// SDK is one visitor's platform.SDK.
type SDK struct {
	provider   *Provider
	rawIDToken string
	inClient   bool
	redirect   func(string)

	mu       sync.Mutex
	checked  bool
	verified *oidc.IDToken
}

var _ platform.SDK = (*SDK)(nil)

func (s *SDK) IsInitialized() bool {
	return s.provider.Initialized()
}

func (s *SDK) Init(ctx context.Context) error {
	if err := s.provider.Init(ctx); err != nil {
		return err
	}
	s.check(ctx)
	return nil
}

// IsLoggedIn verifies the visitor's ID token once and remembers the answer.
func (s *SDK) IsLoggedIn() bool {
	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()
	return s.check(ctx) != nil
}

func (s *SDK) check(ctx context.Context) *oidc.IDToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checked {
		return s.verified
	}
	if s.rawIDToken == "" || !s.provider.Initialized() {
		return nil
	}
	s.checked = true

	token, err := s.provider.verify(ctx, s.rawIDToken)
	if err != nil {
		log.Warn().Err(err).Msg("Platform ID token rejected")
		return nil
	}
	s.verified = token
	return token
}

func (s *SDK) Login(redirectURI string) {
	loginURL, err := s.provider.LoginURL(redirectURI)
	if err != nil {
		log.Err(err).Msg("Cannot build platform login URL")
		return
	}
	if s.redirect != nil {
		s.redirect(loginURL)
	}
}

func (s *SDK) IsInClient() bool {
	return s.inClient
}

func (s *SDK) UserID(ctx context.Context) (string, error) {
	token := s.check(ctx)
	if token == nil {
		return "", errors.New("platform user is not logged in")
	}
	return token.Subject, nil
}
