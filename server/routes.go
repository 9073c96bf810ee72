package server

import (
	"net/http"

	"github.com/jrsteele09/fairway-identity/internal/metrics"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteRoot, ChainMiddleware(s.RootHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteFunc("GET "+RoutePage, ChainMiddleware(s.PageHandler(), s.HTMLMiddleWare(s.VisitorMiddleware)...))

	// Session
	s.RegisterRouteFunc("GET "+RouteAPISession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware(s.VisitorMiddleware)...))
	s.RegisterRouteFunc("POST "+RouteAPISessionAnonymous, ChainMiddleware(s.AnonymousSignInHandler(), s.APIMiddleware(s.VisitorMiddleware)...))
	s.RegisterRouteFunc("POST "+RouteAPISessionSignOut, ChainMiddleware(s.SignOutHandler(), s.APIMiddleware(s.VisitorMiddleware)...))
	s.RegisterRouteFunc("GET "+RouteAPIPlatform, ChainMiddleware(s.PlatformHandler(), s.APIMiddleware(s.VisitorMiddleware)...))

	// Handles
	s.RegisterRouteFunc("GET "+RouteAPIHandle, ChainMiddleware(s.HandleAvailabilityHandler(), s.APIMiddleware(s.VisitorMiddleware)...))
	s.RegisterRouteFunc("POST "+RouteAPIHandles, ChainMiddleware(s.ClaimHandleHandler(), s.APIMiddleware(s.VisitorMiddleware)...))

	// Migration and cache
	s.RegisterRouteFunc("POST "+RouteAPIMigrations, ChainMiddleware(s.MigrationHandler(), s.APIMiddleware(s.VisitorMiddleware)...))
	s.RegisterRouteFunc("DELETE "+RouteAPIProfileCache, ChainMiddleware(s.InvalidateProfileCacheHandler(), s.APIMiddleware(s.VisitorMiddleware)...))

	s.RegisterRouteFunc("OPTIONS /api/{path...}", ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {}, s.CorsMiddleware))

	// Operations
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	if s.gatherer != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, metrics.Handler(s.gatherer))
	}
}
