package authserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nextbridge/nextcloud-mcp/pkg/auth"
	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
	"github.com/nextbridge/nextcloud-mcp/pkg/upstream"
)

// basicCaller authenticates the app-password API: the request must carry
// Basic credentials whose username equals the path user id.
func (s *Server) basicCaller(w http.ResponseWriter, r *http.Request) (username, password string, ok bool) {
	username, password, err := auth.ParseBasicAuth(r.Header.Get("Authorization"))
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="nextcloud-mcp"`)
		writeOAuthError(w, http.StatusUnauthorized, "invalid_request",
			"Basic authentication required")
		return "", "", false
	}
	if username != chi.URLParam(r, "userID") {
		writeOAuthError(w, http.StatusForbidden, "access_denied",
			"authenticated user does not match the requested user")
		return "", "", false
	}
	return username, password, true
}

// handleAppPasswordCreate provisions an upstream app password for the
// caller and stores it encrypted. Rate limited per user.
func (s *Server) handleAppPasswordCreate(w http.ResponseWriter, r *http.Request) {
	username, password, ok := s.basicCaller(w, r)
	if !ok {
		return
	}

	if allowed, retryAfter := s.limiter.Allow(username); !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeOAuthError(w, http.StatusTooManyRequests, "slow_down",
			"too many provisioning attempts; retry later")
		return
	}

	client := s.factory.ForCredential(
		upstream.BasicAuth{Username: username, Password: password}, username)
	appPassword, err := client.ProvisionAppPassword(r.Context())
	if err != nil {
		logger.Warnw("app password provisioning failed", "user_id", username, "error", err)
		writeOAuthError(w, http.StatusBadGateway, "server_error",
			"upstream refused to provision an app password")
		return
	}
	if err := s.store.PutAppPassword(r.Context(), username, appPassword); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error",
			"failed to store the app password")
		return
	}

	s.audit(r.Context(), "app_password.created", username, "basic")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"app_password": appPassword})
}

// handleAppPasswordGet reports whether a stored app password exists. The
// secret itself is never returned after creation.
func (s *Server) handleAppPasswordGet(w http.ResponseWriter, r *http.Request) {
	username, _, ok := s.basicCaller(w, r)
	if !ok {
		return
	}

	stored, err := s.store.GetAppPassword(r.Context(), username)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error",
			"failed to read the app password")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]bool{"exists": stored != ""})
}

// handleAppPasswordDelete revokes the stored app password upstream
// (best effort) and removes it locally.
func (s *Server) handleAppPasswordDelete(w http.ResponseWriter, r *http.Request) {
	username, _, ok := s.basicCaller(w, r)
	if !ok {
		return
	}

	stored, err := s.store.GetAppPassword(r.Context(), username)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error",
			"failed to read the app password")
		return
	}
	if stored != "" {
		client := s.factory.ForCredential(
			upstream.BasicAuth{Username: username, Password: stored}, username)
		if err := client.RevokeAppPassword(r.Context()); err != nil {
			logger.Warnw("upstream app password revocation failed",
				"user_id", username, "error", err)
		}
	}

	deleted, err := s.store.DeleteAppPassword(r.Context(), username)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error",
			"failed to delete the app password")
		return
	}
	if !deleted {
		writeOAuthError(w, http.StatusNotFound, "invalid_request",
			"no app password stored for this user")
		return
	}

	s.audit(r.Context(), "app_password.deleted", username, "basic")
	w.WriteHeader(http.StatusNoContent)
}
