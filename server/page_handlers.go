package server

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/jrsteele09/fairway-identity/authstate"
	"github.com/jrsteele09/fairway-identity/gate"
	"github.com/jrsteele09/fairway-identity/platform"
	"github.com/rs/zerolog/log"
)

var supportedLocales = map[string]bool{"en": true, "th": true}

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="{{.Locale}}">
<head><meta charset="utf-8"><title>{{.AppName}}</title></head>
<body data-page="{{.Page}}" data-user="{{.UserID}}">{{if .Message}}<p>{{.Message}}</p>{{end}}</body>
</html>
`))

type pageData struct {
	AppName string
	Locale  string
	Page    string
	UserID  string
	Message string
}

// RootHandler sends the visitor to the default locale.
func (s *Server) RootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/"+s.config.GetDefaultLocale()+"/", http.StatusFound)
	}
}

func routeFor(path, page string) gate.Route {
	switch page {
	case PageHandleSelection:
		return gate.Route{Path: path, Kind: gate.RouteHandleSelection}
	case PageSignIn:
		return gate.Route{Path: path, Kind: gate.RouteSignIn}
	default:
		return gate.Route{Path: path, Kind: gate.RouteApp}
	}
}

// PathFor builds the page path of a gate destination.
func PathFor(locale string, destination gate.Destination) string {
	switch destination {
	case gate.DestinationHandleSelection:
		return "/" + locale + "/" + PageHandleSelection
	case gate.DestinationSignIn:
		return "/" + locale + "/" + PageSignIn
	default:
		return "/" + locale + "/"
	}
}

// PageHandler renders a page once the access gate lets the visitor through.
func (s *Server) PageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locale := r.PathValue("locale")
		if !supportedLocales[locale] {
			http.NotFound(w, r)
			return
		}
		v := visitorFrom(r.Context())

		// the gate only decides once the backend session has answered
		if _, err := v.session.WaitSession(r.Context()); err != nil {
			w.Header().Set("Retry-After", "1")
			s.renderPage(w, http.StatusServiceUnavailable, pageData{Locale: locale, Message: "Starting up"})
			return
		}

		decision := v.session.Evaluate(r.Context(), routeFor(r.URL.Path, r.PathValue("page")))
		switch decision.State {
		case gate.StateReady:
			s.renderPage(w, http.StatusOK, pageData{
				Locale: locale,
				Page:   r.PathValue("page"),
				UserID: v.session.Backend().UserID,
			})

		case gate.StateHandleSelection:
			http.Redirect(w, r, PathFor(locale, gate.DestinationHandleSelection), http.StatusSeeOther)

		case gate.StatePlatformPending:
			if v.session.Platform().Status == platform.StatusLoginRequired {
				if loginURL := v.pendingLogin(); loginURL != "" {
					http.Redirect(w, r, loginURL, http.StatusFound)
					return
				}
			}
			w.Header().Set("Retry-After", "1")
			s.renderPage(w, http.StatusServiceUnavailable, pageData{Locale: locale, Message: "Connecting"})

		case gate.StateError:
			s.renderGateError(w, r, v, locale, decision.Err)

		default:
			w.Header().Set("Retry-After", "1")
			s.renderPage(w, http.StatusServiceUnavailable, pageData{Locale: locale, Message: "Loading"})
		}
	}
}

func (s *Server) renderGateError(w http.ResponseWriter, r *http.Request, v *visitor, locale string, err error) {
	var backendErr *authstate.BackendAuthError
	switch {
	case errors.Is(err, authstate.ErrAuthTimeout):
		// start over with a fresh visitor session on the next load
		s.visitors.Delete(v.id)
		w.Header().Set("Refresh", "0")
	case errors.As(err, &backendErr):
		// an unreadable session token cannot recover; drop it
		s.ClearSessionCookie(w, r)
		s.visitors.Delete(v.id)
	}
	log.Warn().Err(err).Str("visitor", v.id).Str("path", r.URL.Path).Msg("Access gate error")
	s.renderPage(w, http.StatusServiceUnavailable, pageData{Locale: locale, Message: "Something went wrong"})
}

func (s *Server) renderPage(w http.ResponseWriter, statusCode int, data pageData) {
	data.AppName = s.config.GetAppName()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := pageTemplate.Execute(w, data); err != nil {
		log.Err(err).Msg("Failed to render page")
	}
}
