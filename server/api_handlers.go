package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jrsteele09/fairway-identity/handles"
	apperrors "github.com/jrsteele09/fairway-identity/internal/errors"
	"github.com/jrsteele09/fairway-identity/profiles"
	"github.com/rs/zerolog/log"
)

type sessionResponse struct {
	UserID  string `json:"userId,omitempty"`
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
}

type platformResponse struct {
	IsReady bool   `json:"isReady"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// SessionHandler returns the backend session of the visitor.
func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := visitorFrom(r.Context())
		state := v.session.Backend()
		writeJSON(w, http.StatusOK, sessionResponse{UserID: state.UserID, Loading: state.Loading, Error: errString(state.Err)})
	}
}

// PlatformHandler returns the host platform readiness of the visitor.
func (s *Server) PlatformHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := visitorFrom(r.Context()).session.Platform()
		writeJSON(w, http.StatusOK, platformResponse{IsReady: ready.IsReady(), Status: ready.Status.String(), Error: errString(ready.Err)})
	}
}

// AnonymousSignInHandler starts a new anonymous backend session.
func (s *Server) AnonymousSignInHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := visitorFrom(r.Context())
		session, err := v.client.SignInAnonymously()
		if err != nil {
			log.Err(err).Msg("Anonymous sign-in failed")
			writeJSONError(w, "internal_error", "sign-in failed", http.StatusInternalServerError)
			return
		}
		s.SetSessionCookie(w, r, session)
		writeJSON(w, http.StatusCreated, map[string]any{
			"userId":    session.UserID,
			"anonymous": session.Anonymous,
			"expiresAt": session.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
}

// SignOutHandler ends the backend session and drops cached profiles.
func (s *Server) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := visitorFrom(r.Context())
		v.client.SignOut()
		v.session.Close()
		s.ClearSessionCookie(w, r)
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleAvailabilityHandler reports whether a handle can still be claimed.
func (s *Server) HandleAvailabilityHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle := r.PathValue("handle")
		available, err := visitorFrom(r.Context()).session.HandleAvailable(r.Context(), handle)
		var validationErr *handles.ValidationError
		switch {
		case errors.As(err, &validationErr):
			writeJSONError(w, "invalid_handle", validationErr.Reason, http.StatusBadRequest)
			return
		case err != nil:
			log.Err(err).Str("handle", handle).Msg("Handle availability check failed")
			writeJSONError(w, "internal_error", "availability check failed", http.StatusInternalServerError)
			return
		}
		canonical, _ := handles.Canonicalize(handle)
		writeJSON(w, http.StatusOK, map[string]any{"handle": canonical, "available": available})
	}
}

type claimRequest struct {
	Handle   string `json:"handle"`
	Language string `json:"language"`
}

// ClaimHandleHandler reserves a handle for the signed-in visitor.
func (s *Server) ClaimHandleHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := visitorFrom(r.Context())
		if !v.limiter.Allow() {
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, "rate_limited", "too many handle claims", http.StatusTooManyRequests)
			return
		}

		var req claimRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeJSONError(w, "invalid_request", "body must be JSON with a handle", http.StatusBadRequest)
			return
		}
		var language profiles.Language
		if req.Language != "" {
			var err error
			if language, err = profiles.ParseLanguage(req.Language); err != nil {
				writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
				return
			}
		}

		if _, err := v.session.WaitSession(r.Context()); err != nil {
			writeJSONError(w, "unavailable", "session not resolved", http.StatusServiceUnavailable)
			return
		}
		profile, err := v.session.ClaimHandle(r.Context(), req.Handle, language)
		var validationErr *handles.ValidationError
		switch {
		case errors.As(err, &validationErr):
			writeJSONError(w, "invalid_handle", validationErr.Reason, http.StatusBadRequest)
		case errors.Is(err, handles.ErrReservationConflict):
			writeJSONError(w, "handle_taken", "handle is already taken", http.StatusConflict)
		case errors.Is(err, apperrors.ErrNoBackendUser):
			writeJSONError(w, "unauthenticated", "sign in before choosing a handle", http.StatusUnauthorized)
		case err != nil:
			log.Err(err).Msg("Handle claim failed")
			writeJSONError(w, "internal_error", "claim failed", http.StatusInternalServerError)
		default:
			writeJSON(w, http.StatusCreated, profile)
		}
	}
}

// MigrationHandler links the legacy account of the visitor's verified host identity
// to the signed-in visitor. Failures are never reported; no content means nothing
// was migrated.
func (s *Server) MigrationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := visitorFrom(r.Context())

		state, err := v.session.WaitSession(r.Context())
		if err != nil || !state.SignedIn() {
			writeJSONError(w, "unauthenticated", "no backend session", http.StatusUnauthorized)
			return
		}

		profile := v.session.MigrateLegacyAccount(r.Context())
		if profile == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

// InvalidateProfileCacheHandler drops the visitor's cached profile.
func (s *Server) InvalidateProfileCacheHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := visitorFrom(r.Context())
		if userID := v.session.Backend().UserID; userID != "" {
			v.session.InvalidateProfileCache(userID)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HealthHandler checks storage.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			writeJSONError(w, "unavailable", err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
