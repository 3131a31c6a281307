package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/nextbridge/nextcloud-mcp/pkg/storage"
)

// PutWebhook records an upstream-assigned webhook id under a preset. Writing
// the same webhook id again is a no-op.
func (s *Store) PutWebhook(ctx context.Context, webhookID int64, presetID string) error {
	return s.observed("put_webhook", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO registered_webhooks (webhook_id, preset_id, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT(webhook_id) DO NOTHING`,
			webhookID, presetID, float64(time.Now().UnixNano())/1e9)
		if err != nil {
			return fmt.Errorf("inserting webhook registration: %w", err)
		}
		return nil
	})
}

// GetWebhooksByPreset lists registrations under one preset, oldest first.
func (s *Store) GetWebhooksByPreset(ctx context.Context, presetID string) (hooks []storage.WebhookRegistration, err error) {
	err = s.observed("get_webhooks_by_preset", func() error {
		hooks, err = s.listWebhooks(ctx, `WHERE preset_id = ?`, presetID)
		return err
	})
	return hooks, err
}

// ListWebhooks lists all registrations, oldest first.
func (s *Store) ListWebhooks(ctx context.Context) (hooks []storage.WebhookRegistration, err error) {
	err = s.observed("list_webhooks", func() error {
		hooks, err = s.listWebhooks(ctx, "")
		return err
	})
	return hooks, err
}

func (s *Store) listWebhooks(ctx context.Context, where string, args ...any) ([]storage.WebhookRegistration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT webhook_id, preset_id, created_at FROM registered_webhooks `+where+` ORDER BY created_at`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying webhook registrations: %w", err)
	}
	defer rows.Close()

	var hooks []storage.WebhookRegistration
	for rows.Next() {
		var (
			h         storage.WebhookRegistration
			createdAt float64
		)
		if err := rows.Scan(&h.WebhookID, &h.PresetID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning webhook registration: %w", err)
		}
		h.CreatedAt = time.Unix(0, int64(createdAt*1e9)).UTC()
		hooks = append(hooks, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webhook registrations: %w", err)
	}
	return hooks, nil
}

// DeleteWebhook removes one registration by upstream id. Returns false when
// no row existed.
func (s *Store) DeleteWebhook(ctx context.Context, webhookID int64) (deleted bool, err error) {
	err = s.observed("delete_webhook", func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM registered_webhooks WHERE webhook_id = ?`, webhookID)
		if err != nil {
			return fmt.Errorf("deleting webhook registration: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// ClearPreset removes all registrations under a preset and reports how many
// were removed.
func (s *Store) ClearPreset(ctx context.Context, presetID string) (removed int64, err error) {
	err = s.observed("clear_preset", func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM registered_webhooks WHERE preset_id = ?`, presetID)
		if err != nil {
			return fmt.Errorf("clearing webhook preset: %w", err)
		}
		removed, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		return nil
	})
	return removed, err
}
