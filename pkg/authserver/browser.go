package authserver

import (
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/nextbridge/nextcloud-mcp/pkg/config"
	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
	"github.com/nextbridge/nextcloud-mcp/pkg/storage"
)

// handleLogin starts the browser session flow for the admin UI. It is the
// same authorization-code dance as Flow B but lands on the login callback
// and ends in a session cookie rather than a terminal page.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	verifier := oauth2.GenerateVerifier()
	sess := storage.FlowSession{
		SessionID:           newSessionID(),
		State:               newSessionID(),
		CodeChallenge:       verifier,
		CodeChallengeMethod: "S256",
		Flow:                storage.FlowHybrid,
	}
	if err := s.store.PutFlowSession(r.Context(), sess); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error",
			"failed to persist flow session")
		return
	}

	conf := s.oauthConfig("/oauth/login-callback", "offline_access")
	authURL := conf.AuthCodeURL(sess.State,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleLoginCallback completes the browser flow and sets the admin session
// cookie.
func (s *Server) handleLoginCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		writeHTMLError(w, http.StatusBadRequest, "Login failed",
			errCode+": "+q.Get("error_description"))
		return
	}

	sess, err := s.store.GetFlowSessionByState(r.Context(), q.Get("state"))
	if err != nil || sess == nil {
		writeHTMLError(w, http.StatusBadRequest, "Login failed", "unknown or expired state")
		return
	}
	defer func() {
		if _, err := s.store.DeleteFlowSession(r.Context(), sess.SessionID); err != nil {
			logger.Warnw("failed to delete completed flow session", "error", err)
		}
	}()

	conf := s.oauthConfig("/oauth/login-callback", "offline_access")
	tok, err := conf.Exchange(r.Context(), q.Get("code"),
		oauth2.VerifierOption(sess.CodeChallenge))
	if err != nil {
		logger.Warnw("login code exchange failed", "error", err)
		writeHTMLError(w, http.StatusBadGateway, "Login failed",
			"the identity provider rejected the code exchange")
		return
	}

	sub, err := s.idTokenSubject(r.Context(), tok)
	if err != nil {
		writeHTMLError(w, http.StatusBadGateway, "Login failed", err.Error())
		return
	}

	if tok.RefreshToken != "" {
		now := time.Now()
		rec := storage.RefreshTokenRecord{
			UserID:        sub,
			RefreshToken:  tok.RefreshToken,
			Flow:          storage.FlowHybrid,
			Audience:      s.cfg.NextcloudResourceURI,
			ProvisionedAt: &now,
			Scopes:        conf.Scopes,
		}
		if err := s.store.PutRefreshToken(r.Context(), rec); err != nil {
			logger.Warnw("failed to persist refresh token from login", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sub,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(config.DefaultSessionCookieMaxAge.Seconds()),
	})
	s.audit(r.Context(), "session.login", sub, "bearer")
	http.Redirect(w, r, "/app/", http.StatusFound)
}

// handleLogout clears the admin session cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		s.audit(r.Context(), "session.logout", c.Value, "cookie")
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

// SessionUser resolves the admin session cookie to a user id. In OAuth mode
// the cookie is only honoured when a refresh-token record exists for the
// user; in Basic modes the configured user is implied.
func (s *Server) SessionUser(r *http.Request) (string, bool) {
	if s.cfg.AuthMode() != config.ModeOAuthResourceServer {
		if s.cfg.NextcloudUsername != "" {
			return s.cfg.NextcloudUsername, true
		}
		return "", false
	}
	c, err := r.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	rec, err := s.store.GetRefreshToken(r.Context(), c.Value)
	if err != nil || rec == nil {
		return "", false
	}
	return rec.UserID, true
}

// RequireSession gates admin routes: unauthenticated requests are
// 302-redirected into the browser login flow.
func (s *Server) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := s.SessionUser(r)
		if !ok {
			http.Redirect(w, r, "/oauth/login", http.StatusFound)
			return
		}
		r.Header.Set("X-Session-User", userID)
		next.ServeHTTP(w, r)
	})
}
