package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const defaultMaxAuditLogSize = 10_000

// AuditEntry is one row of the publisher's audit trail (spec.md §4.13:
// "every publication, approval, rejection, and retry is stored").
type AuditEntry struct {
	CorrelationID string    `json:"correlationId"`
	SignalID      string    `json:"signalId"`
	Status        Outcome   `json:"status"`
	Source        string    `json:"source"`
	Payload       any       `json:"payload"`
	CreatedAt     time.Time `json:"createdAt"`
}

// auditLog is a capped, oldest-first-evicting in-memory ring, mirrored
// best-effort to Postgres when a db handle is configured.
type auditLog struct {
	db      *sqlx.DB
	log     *zap.Logger
	maxSize int
	entries []AuditEntry
}

func newAuditLog(db *sqlx.DB, log *zap.Logger) *auditLog {
	return &auditLog{db: db, log: log, maxSize: defaultMaxAuditLogSize}
}

func (a *auditLog) record(entry AuditEntry) {
	a.entries = append(a.entries, entry)
	if len(a.entries) > a.maxSize {
		a.entries = a.entries[len(a.entries)-a.maxSize:]
	}
	if a.db == nil {
		return
	}
	raw, err := json.Marshal(entry.Payload)
	if err != nil {
		return
	}
	_, err = a.db.ExecContext(context.Background(), `
		INSERT INTO audit_log (correlation_id, signal_id, status, source, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.CorrelationID, entry.SignalID, string(entry.Status), entry.Source, raw, entry.CreatedAt)
	if err != nil && a.log != nil {
		a.log.Warn("publisher: persist audit entry failed", zap.Error(err))
	}
}

// AuditFilters narrows Entries().
type AuditFilters struct {
	Status Outcome
	Source string
	Since  time.Time
	Until  time.Time
}

func (a *auditLog) entriesMatching(f AuditFilters) []AuditEntry {
	out := make([]AuditEntry, 0, len(a.entries))
	for _, e := range a.entries {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.Source != "" && e.Source != f.Source {
			continue
		}
		if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && e.CreatedAt.After(f.Until) {
			continue
		}
		out = append(out, e)
	}
	return out
}
