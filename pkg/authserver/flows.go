package authserver

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
	"github.com/nextbridge/nextcloud-mcp/pkg/storage"
)

// handleAuthorize is Flow A: the AI client authenticates directly against
// the IdP with its own pre-registered client id. The bridge only validates
// the request and forwards it; it is not in the callback path.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("response_type") != "code" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_response_type",
			"response_type must be \"code\"")
		return
	}
	redirectURI := q.Get("redirect_uri")
	if !isLocalhostRedirect(redirectURI) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request",
			"redirect_uri must be a localhost loopback URI")
		return
	}
	state := q.Get("state")
	challenge := q.Get("code_challenge")
	if state == "" || challenge == "" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request",
			"state and code_challenge are required")
		return
	}
	if q.Get("code_challenge_method") != "S256" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request",
			"code_challenge_method must be S256")
		return
	}
	clientID := q.Get("client_id")
	if !s.clientAllowed(clientID) {
		writeOAuthError(w, http.StatusBadRequest, "invalid_client",
			"client_id is not in the allowed client list")
		return
	}

	// Recorded for audit and for correlating server-mediated provisioning
	// initiated by the same client.
	sess := storage.FlowSession{
		SessionID:           newSessionID(),
		ClientID:            clientID,
		ClientRedirectURI:   redirectURI,
		State:               state,
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
		Flow:                storage.FlowDirect,
		RequestedScopes:     strings.Fields(q.Get("scope")),
	}
	if err := s.store.PutFlowSession(r.Context(), sess); err != nil {
		logger.Warnw("failed to record direct flow session", "error", err)
	}
	s.audit(r.Context(), "oauth.authorize.direct", "", "bearer")

	// Forward the client's own parameters to the IdP untouched; the bridge
	// adds the scope set, consent prompt, and the RFC 8707 resource.
	requested := append(append([]string(nil), baseScopes...), s.registry.Union()...)
	idp := url.Values{}
	idp.Set("response_type", "code")
	idp.Set("client_id", clientID)
	idp.Set("redirect_uri", redirectURI)
	idp.Set("state", state)
	idp.Set("code_challenge", challenge)
	idp.Set("code_challenge_method", "S256")
	idp.Set("scope", strings.Join(requested, " "))
	idp.Set("prompt", "consent")
	idp.Set("resource", s.cfg.MCPResourceURL())

	http.Redirect(w, r, s.doc.AuthorizationEndpoint+"?"+idp.Encode(), http.StatusFound)
}

func (s *Server) clientAllowed(clientID string) bool {
	if clientID == "" {
		return false
	}
	for _, allowed := range s.cfg.AllowedMCPClients {
		if clientID == allowed {
			return true
		}
	}
	// Dynamically registered clients authenticate with the bridge's own id.
	return s.cfg.EnableDCR && clientID == s.creds.ClientID
}

// handleAuthorizeNextcloud is Flow B: the bridge authorizes as itself to
// obtain an offline refresh token for the user.
func (s *Server) handleAuthorizeNextcloud(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.EnableOfflineAccess {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request",
			"offline provisioning is not enabled")
		return
	}

	verifier := oauth2.GenerateVerifier()
	sess := storage.FlowSession{
		SessionID: newSessionID(),
		ClientID:  r.URL.Query().Get("client_id"),
		State:     newSessionID(),
		// The bridge's own PKCE verifier rides in the challenge column
		// until the callback needs it.
		CodeChallenge:       verifier,
		CodeChallengeMethod: "S256",
		Flow:                storage.FlowServerMediated,
		IsProvisioning:      true,
	}
	if err := s.store.PutFlowSession(r.Context(), sess); err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error",
			"failed to persist flow session")
		return
	}

	conf := s.oauthConfig("/oauth/callback", "offline_access")
	authURL := conf.AuthCodeURL(sess.State,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback completes Flow B: code exchange, ID-token verification,
// refresh-token persistence, terminal HTML page.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		writeHTMLError(w, http.StatusBadRequest, "Authorization failed",
			errCode+": "+q.Get("error_description"))
		return
	}

	sess, err := s.store.GetFlowSessionByState(r.Context(), q.Get("state"))
	if err != nil || sess == nil {
		writeHTMLError(w, http.StatusBadRequest, "Authorization failed",
			"unknown or expired state")
		return
	}
	defer func() {
		if _, err := s.store.DeleteFlowSession(r.Context(), sess.SessionID); err != nil {
			logger.Warnw("failed to delete completed flow session", "error", err)
		}
	}()

	conf := s.oauthConfig("/oauth/callback", "offline_access")
	tok, err := conf.Exchange(r.Context(), q.Get("code"),
		oauth2.VerifierOption(sess.CodeChallenge))
	if err != nil {
		logger.Warnw("code exchange failed", "error", err)
		writeHTMLError(w, http.StatusBadGateway, "Authorization failed",
			"the identity provider rejected the code exchange")
		return
	}

	sub, err := s.idTokenSubject(r.Context(), tok)
	if err != nil {
		writeHTMLError(w, http.StatusBadGateway, "Authorization failed", err.Error())
		return
	}
	if tok.RefreshToken == "" {
		writeHTMLError(w, http.StatusBadGateway, "Authorization failed",
			"the identity provider returned no refresh token; is offline_access granted?")
		return
	}

	now := time.Now()
	rec := storage.RefreshTokenRecord{
		UserID:               sub,
		RefreshToken:         tok.RefreshToken,
		Flow:                 storage.FlowServerMediated,
		Audience:             s.cfg.NextcloudResourceURI,
		ProvisionedAt:        &now,
		ProvisioningClientID: sess.ClientID,
		Scopes:               conf.Scopes,
	}
	if err := s.store.PutRefreshToken(r.Context(), rec); err != nil {
		logger.Errorw("failed to persist refresh token", "error", err)
		writeHTMLError(w, http.StatusInternalServerError, "Authorization failed",
			"could not store the provisioned credential")
		return
	}

	s.audit(r.Context(), "oauth.provisioned", sub, "bearer")
	logger.Infow("provisioned offline refresh token", "user_id", sub)
	writeHTMLSuccess(w, "Connected",
		"The bridge can now act on your behalf. You can close this window.")
}
