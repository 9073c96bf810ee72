package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/fairway-identity/backend"
	"github.com/jrsteele09/fairway-identity/identity"
	"github.com/jrsteele09/fairway-identity/profiles"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// visitorCookieName identifies the browser across requests
	visitorCookieName = "fw_visitor"
	// sessionCookieName carries the backend session token
	sessionCookieName = "fw_session"
)

// visitor is the server side of one browser: its backend client, identity
// session and claim rate limit.
type visitor struct {
	id         string
	credential string
	client     *backend.Client
	session    *identity.Session
	limiter    *rate.Limiter

	// reload is set when the backend never answered and the visitor must start over
	reload atomic.Bool

	mu       sync.Mutex
	loginURL string
}

func (v *visitor) setLoginURL(url string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loginURL = url
}

func (v *visitor) pendingLogin() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loginURL
}

func (v *visitor) close() {
	v.session.Close()
}

type visitorKey struct{}

func visitorFrom(ctx context.Context) *visitor {
	v, _ := ctx.Value(visitorKey{}).(*visitor)
	return v
}

// VisitorMiddleware attaches the visitor of the request to its context, creating
// one on first sight or when the host identity of the request changed.
func (s *Server) VisitorMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := s.visitorFor(w, r)
		if err != nil {
			log.Err(err).Msg("Cannot start visitor session")
			writeJSONError(w, "internal_error", "cannot start session", http.StatusInternalServerError)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), visitorKey{}, v)))
	}
}

func (s *Server) visitorFor(w http.ResponseWriter, r *http.Request) (*visitor, error) {
	visitorID := ""
	if c, err := r.Cookie(visitorCookieName); err == nil {
		visitorID = c.Value
	}
	if _, err := uuid.Parse(visitorID); err != nil {
		visitorID = uuid.NewString()
		s.setCookie(w, r, visitorCookieName, visitorID, int((365 * 24 * time.Hour).Seconds()))
	}

	credential := s.platforms.Credential(r)
	if v, ok := s.visitors.Get(visitorID); ok && !v.reload.Load() && v.credential == credential {
		_ = s.visitors.Upsert(visitorID, v)
		return v, nil
	}
	s.visitors.Delete(visitorID)

	v, err := s.newVisitor(r, visitorID, credential)
	if err != nil {
		return nil, err
	}
	if err := s.visitors.Upsert(visitorID, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Server) newVisitor(r *http.Request, visitorID, credential string) (*visitor, error) {
	token := ""
	if c, err := r.Cookie(sessionCookieName); err == nil {
		token = c.Value
	}

	v := &visitor{
		id:         visitorID,
		credential: credential,
		client:     s.auth.NewClient(token),
		limiter:    rate.NewLimiter(claimRate(s.config.GetClaimRatePerMinute())),
	}

	session, err := identity.NewSession(
		s.platforms.ForRequest(r, v.setLoginURL),
		v.client,
		identity.Services{Profiles: s.store, Handles: s.handles, Migration: s.migration},
		identity.WithRedirectURI(s.config.GetPlatformRedirectURL()),
		identity.WithLivenessTimeout(s.config.GetAuthLivenessTimeout()),
		identity.WithFatalHandler(func(err error) {
			log.Err(err).Str("visitor", visitorID).Msg("Visitor session must reload")
			v.reload.Store(true)
		}),
		identity.WithCacheSize(s.config.GetProfileCacheSize()),
		identity.WithLanguage(defaultLanguage(s.config.GetDefaultLocale())),
		identity.WithMetrics(s.recorder()),
	)
	if err != nil {
		return nil, err
	}
	v.session = session

	if _, err := session.Start(r.Context()); err != nil {
		// published on the readiness stream; the gate renders it
		log.Warn().Err(err).Str("visitor", visitorID).Msg("Platform bootstrap failed")
	}
	return v, nil
}

func claimRate(perMinute int) (rate.Limit, int) {
	if perMinute <= 0 {
		return rate.Inf, 0
	}
	return rate.Every(time.Minute / time.Duration(perMinute)), perMinute
}

func defaultLanguage(locale string) profiles.Language {
	language, err := profiles.ParseLanguage(locale)
	if err != nil {
		return profiles.LanguageEN
	}
	return language
}

func (s *Server) setCookie(w http.ResponseWriter, r *http.Request, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func (s *Server) SetSessionCookie(w http.ResponseWriter, r *http.Request, session *backend.Session) {
	s.setCookie(w, r, sessionCookieName, session.Token, int(time.Until(session.ExpiresAt).Seconds()))
}

func (s *Server) ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	s.setCookie(w, r, sessionCookieName, "", -1)
}
