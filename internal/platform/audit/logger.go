package audit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"suemybrother/internal/pkg/ids"
	"suemybrother/internal/platform/database"
	"suemybrother/internal/platform/models"
)

const (
	ActionSuitAccepted = "suit.accepted"
	ActionSuitRejected = "suit.rejected"
	ActionUserUpdated  = "user.updated"
	ActionUserDeleted  = "user.deleted"
)

type Logger struct {
	db *database.DB
}

func NewLogger(db *database.DB) *Logger {
	return &Logger{db: db}
}

// Log records a staff action. Failures are logged and never surface to the
// caller because the action itself has already been committed.
func (l *Logger) Log(ctx context.Context, r *http.Request, actorID, action, resourceType, resourceID string, metadata map[string]interface{}) {
	entry := &models.AuditLog{
		ID:           ids.New(),
		ActorID:      models.NullStr(actorID),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     "{}",
		IPAddress:    "unknown",
		UserAgent:    "unknown",
		CreatedAt:    time.Now().Unix(),
	}

	if metadata != nil {
		if b, err := json.Marshal(metadata); err == nil {
			entry.Metadata = string(b)
		}
	}

	if r != nil {
		entry.IPAddress = clientIP(r)
		entry.UserAgent = r.UserAgent()
	}

	_, err := l.db.ExecContext(ctx, l.db.Rebind(`
		INSERT INTO audit_logs (id, actor_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), entry.ID, entry.ActorID, entry.Action, entry.ResourceType, entry.ResourceID, entry.Metadata, entry.IPAddress, entry.UserAgent, entry.CreatedAt)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("action", action).Str("resource_id", resourceID).Msg("failed to write audit log")
	}
}

func (l *Logger) List(ctx context.Context, limit int) ([]*models.AuditLog, error) {
	rows, err := l.db.QueryContext(ctx, l.db.Rebind(`
		SELECT id, actor_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at
		FROM audit_logs ORDER BY created_at DESC, id DESC LIMIT ?
	`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		e := &models.AuditLog{}
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID, &e.Metadata, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
