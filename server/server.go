package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/fairway-identity/backend"
	"github.com/jrsteele09/fairway-identity/handles"
	"github.com/jrsteele09/fairway-identity/internal/config"
	"github.com/jrsteele09/fairway-identity/internal/metrics"
	"github.com/jrsteele09/fairway-identity/migration"
	"github.com/jrsteele09/fairway-identity/platform"
	"github.com/jrsteele09/fairway-identity/server/visitors"
	"github.com/jrsteele09/fairway-identity/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// PlatformFactory builds the host SDK view of one request. redirect performs the
// host login redirect.
type PlatformFactory interface {
	ForRequest(r *http.Request, redirect func(loginURL string)) platform.SDK
	// Credential identifies the host identity the request carries; a change
	// starts a new visitor session.
	Credential(r *http.Request) string
}

type Server struct {
	env       string
	mux       *http.ServeMux
	routes    []string
	config    config.Config
	store     storage.Backend
	auth      *backend.Auth
	platforms PlatformFactory
	handles   *handles.Service
	migration *migration.Service
	visitors  *visitors.Registry[*visitor]

	collector *metrics.Collector
	gatherer  prometheus.Gatherer
	idleTTL   time.Duration
}

// Option defines a function type to modify the Server instance.
type Option func(*Server)

// WithMetrics records on collector and serves gatherer on /metrics.
func WithMetrics(collector *metrics.Collector, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.collector = collector
		s.gatherer = gatherer
	}
}

// WithVisitorIdleTTL sets how long an idle visitor session is kept.
func WithVisitorIdleTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.idleTTL = ttl
	}
}

func New(cfg config.Config, store storage.Backend, auth *backend.Auth, platforms PlatformFactory, options ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("[server.New] config is required")
	}
	if store == nil {
		return nil, errors.New("[server.New] storage is required")
	}
	if auth == nil {
		return nil, errors.New("[server.New] backend auth is required")
	}
	if platforms == nil {
		return nil, errors.New("[server.New] platform factory is required")
	}

	s := &Server{
		env:       cfg.GetEnv(),
		mux:       http.NewServeMux(),
		config:    cfg,
		store:     store,
		auth:      auth,
		platforms: platforms,
		idleTTL:   visitors.DefaultIdleTTL,
	}
	for _, opt := range options {
		opt(s)
	}

	recorder := s.recorder()
	var err error
	if s.handles, err = handles.NewService(store, handles.WithMetrics(recorder)); err != nil {
		return nil, fmt.Errorf("[server.New] failed to create handle service: %w", err)
	}
	if s.migration, err = migration.NewService(store, migration.WithMetrics(recorder)); err != nil {
		return nil, fmt.Errorf("[server.New] failed to create migration service: %w", err)
	}
	s.visitors = visitors.NewRegistry(visitors.DefaultSize, s.idleTTL, func(_ string, v *visitor) {
		v.close()
	})

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) recorder() metrics.Recorder {
	if s.collector == nil {
		return metrics.Nop{}
	}
	return s.collector
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

const (
	green      = "\033[32m"
	blue       = "\033[34m"
	yellow     = "\033[33m"
	gray       = "\033[90m"
	resetColor = "\033[0m"
)

var methodColors = map[string]string{
	"GET":    green,
	"POST":   blue,
	"DELETE": yellow,
}

func logRoute(method, path string) {
	color, ok := methodColors[method]
	if !ok {
		color = gray
	}
	log.Debug().Msgf("[%s%-7s%s] %s", color, method, resetColor, path)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
