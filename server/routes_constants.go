package server

// Route path constants
const (
	// Session API
	RouteAPISession          = "/api/session"
	RouteAPISessionAnonymous = "/api/session/anonymous"
	RouteAPISessionSignOut   = "/api/session/signout"
	RouteAPIPlatform         = "/api/platform"

	// Handle API
	RouteAPIHandles = "/api/handles"
	RouteAPIHandle  = "/api/handles/{handle}"

	// Migration and cache API
	RouteAPIMigrations   = "/api/migrations"
	RouteAPIProfileCache = "/api/profile-cache"

	// Operations
	RouteMetrics = "/metrics"
	RouteHealth  = "/healthz"

	// Gated pages
	RouteRoot = "/{$}"
	RoutePage = "/{locale}/{page...}"

	// Page names exempt from the access gate
	PageHandleSelection = "username"
	PageSignIn          = "auth"
)
