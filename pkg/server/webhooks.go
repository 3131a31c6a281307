package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nextbridge/nextcloud-mcp/pkg/config"
	"github.com/nextbridge/nextcloud-mcp/pkg/logger"
	"github.com/nextbridge/nextcloud-mcp/pkg/storage"
	"github.com/nextbridge/nextcloud-mcp/pkg/upstream"
)

// adminClient returns an upstream client acting as the session user:
// configured credentials in single-user mode, the user's stored app
// password otherwise.
func (s *Server) adminClient(ctx context.Context, user string) (*upstream.Client, error) {
	if s.cfg.AuthMode() == config.ModeSingleUserBasic {
		return s.factory.ForCredential(upstream.BasicAuth{
			Username: s.cfg.NextcloudUsername,
			Password: s.cfg.NextcloudPassword,
		}, user), nil
	}
	password, err := s.store.GetAppPassword(ctx, user)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, fmt.Errorf("no app password stored for user %q", user)
	}
	return s.factory.ForCredential(upstream.BasicAuth{
		Username: user,
		Password: password,
	}, user), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// webhookRoutes are the session-gated admin endpoints for upstream
// webhook bookkeeping.
func (s *Server) webhookRoutes(r chi.Router) {
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Get("/", s.handleWebhookList)
		r.Post("/", s.handleWebhookCreate)
		r.Delete("/{webhookID}", s.handleWebhookDelete)
		r.Delete("/preset/{presetID}", s.handleWebhookClearPreset)
	})
}

func (s *Server) handleWebhookList(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.store.ListWebhooks(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	writeJSON(w, http.StatusOK, hooks)
}

// handleWebhookCreate registers a webhook upstream pointed at the
// bridge's incoming endpoint and records the assigned id under a preset.
func (s *Server) handleWebhookCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Event    string `json:"event"`
		PresetID string `json:"preset_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Event == "" || req.PresetID == "" {
		writeJSONError(w, http.StatusBadRequest, "event and preset_id are required")
		return
	}

	user := r.Header.Get("X-Session-User")
	client, err := s.adminClient(r.Context(), user)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	uri := strings.TrimSuffix(s.cfg.MCPServerURL, "/") + "/webhooks/incoming"
	id, err := client.RegisterWebhook(r.Context(), req.Event, uri)
	if err != nil {
		logger.Warnw("upstream webhook registration failed", "event", req.Event, "error", err)
		writeJSONError(w, http.StatusBadGateway, "upstream refused the webhook registration")
		return
	}
	if err := s.store.PutWebhook(r.Context(), id, req.PresetID); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to record the webhook")
		return
	}

	s.auditEvent(r.Context(), "webhook.created", user, "webhook", strconv.FormatInt(id, 10))
	writeJSON(w, http.StatusCreated, map[string]any{"webhook_id": id, "preset_id": req.PresetID})
}

func (s *Server) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "webhookID"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "webhook id must be numeric")
		return
	}

	user := r.Header.Get("X-Session-User")
	if client, cerr := s.adminClient(r.Context(), user); cerr == nil {
		if derr := client.DeleteWebhook(r.Context(), id); derr != nil {
			logger.Warnw("upstream webhook deletion failed", "webhook_id", id, "error", derr)
		}
	}

	deleted, err := s.store.DeleteWebhook(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to delete the webhook")
		return
	}
	if !deleted {
		writeJSONError(w, http.StatusNotFound, "unknown webhook id")
		return
	}
	s.auditEvent(r.Context(), "webhook.deleted", user, "webhook", strconv.FormatInt(id, 10))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebhookClearPreset(w http.ResponseWriter, r *http.Request) {
	presetID := chi.URLParam(r, "presetID")
	user := r.Header.Get("X-Session-User")

	hooks, err := s.store.GetWebhooksByPreset(r.Context(), presetID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to read the preset")
		return
	}
	if client, cerr := s.adminClient(r.Context(), user); cerr == nil {
		for _, h := range hooks {
			if derr := client.DeleteWebhook(r.Context(), h.WebhookID); derr != nil {
				logger.Warnw("upstream webhook deletion failed",
					"webhook_id", h.WebhookID, "error", derr)
			}
		}
	}

	n, err := s.store.ClearPreset(r.Context(), presetID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to clear the preset")
		return
	}
	s.auditEvent(r.Context(), "webhook.preset_cleared", user, "preset", presetID)
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// handleWebhookIncoming receives upstream event notifications and wakes
// the scanner for an immediate pass. The body must be a JSON object; its
// content beyond that is irrelevant, the scan re-diffs everything.
func (s *Server) handleWebhookIncoming(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "payload must be a JSON object")
		return
	}
	if s.pipeline != nil {
		s.pipeline.Wake()
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) auditEvent(ctx context.Context, event, userID, resourceType, resourceID string) {
	err := s.store.Audit(ctx, storage.AuditEvent{
		Event:        event,
		UserID:       userID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		AuthMethod:   "cookie",
	})
	if err != nil {
		logger.Warnw("failed to write audit event", "event", event, "error", err)
	}
}
