package sqlite

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nextbridge/nextcloud-mcp/pkg/storage"
)

// Audit appends one audit row. The hostname is recorded so logs from several
// replicas sharing a database stay attributable.
func (s *Store) Audit(ctx context.Context, ev storage.AuditEvent) error {
	return s.observed("audit", func() error {
		hostname, _ := os.Hostname()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO audit_logs (timestamp, event, user_id, resource_type, resource_id, auth_method, hostname)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			time.Now().Unix(), ev.Event, ev.UserID,
			ev.ResourceType, ev.ResourceID, ev.AuthMethod, hostname)
		if err != nil {
			return fmt.Errorf("inserting audit row: %w", err)
		}
		return nil
	})
}
