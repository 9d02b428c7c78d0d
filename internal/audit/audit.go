// Package audit appends and queries the audit trail every lifecycle event in
// the token, budget, and limit components writes to.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tbcp-io/tbcp/internal/store"
	"github.com/tbcp-io/tbcp/types"
)

// Action names a lifecycle event. Values are dotted entity.verb pairs so
// queries can filter by entity or by verb with a LIKE prefix.
type Action string

const (
	ActionTokenCreated    Action = "token.created"
	ActionTokenRotated    Action = "token.rotated"
	ActionTokenRevoked    Action = "token.revoked"
	ActionBudgetBorrowed  Action = "budget.borrowed"
	ActionBudgetSpent     Action = "budget.spent"
	ActionBudgetReturned  Action = "budget.returned"
	ActionBudgetRefreshed Action = "budget.refreshed"
	ActionLeaseExpired    Action = "budget.lease_expired"
	ActionLimitCreated    Action = "limit.created"
	ActionLimitUpdated    Action = "limit.updated"
	ActionLimitDeleted    Action = "limit.deleted"
)

// Entry is the caller-facing shape of one audit event. ChangeSet is
// marshaled to JSON before it is persisted; nil is stored as "{}".
type Entry struct {
	EntityType  string
	EntityID    string
	Action      Action
	ActorUserID *uuid.UUID
	ChangeSet   map[string]any
	RemoteAddr  string
	UserAgent   string
}

// Filter narrows a Query. Zero-valued fields are not applied.
type Filter struct {
	EntityType string
	EntityID   string
	Action     Action
	ActorUserID *uuid.UUID
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// Recorder writes and reads audit entries. It carries no storage handle of
// its own: Record takes the *gorm.DB the caller is already inside, so an
// audit row lands in the same transaction as the event it describes — a
// borrow that rolls back takes its audit entry with it.
type Recorder struct {
	logger *zap.Logger
}

// NewRecorder builds a Recorder. logger may be nil, in which case a no-op
// logger is used.
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{logger: logger.With(zap.String("component", "audit"))}
}

// Record appends one audit row using tx. Marshal failures on ChangeSet are
// folded into an integrity error rather than silently dropping the
// change set, since the ledger is only as good as what it captured.
func (r *Recorder) Record(ctx context.Context, tx *gorm.DB, entry Entry) error {
	changeSet := "{}"
	if entry.ChangeSet != nil {
		b, err := json.Marshal(entry.ChangeSet)
		if err != nil {
			return types.Integrity("failed to marshal audit change set").WithCause(err)
		}
		changeSet = string(b)
	}

	row := store.AuditEntry{
		ID:          uuid.New(),
		EntityType:  entry.EntityType,
		EntityID:    entry.EntityID,
		Action:      string(entry.Action),
		ActorUserID: entry.ActorUserID,
		ChangeSet:   changeSet,
		RemoteAddr:  entry.RemoteAddr,
		UserAgent:   entry.UserAgent,
		CreatedAt:   time.Now(),
	}

	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		r.logger.Error("failed to append audit entry",
			zap.String("entity_type", entry.EntityType),
			zap.String("entity_id", entry.EntityID),
			zap.String("action", string(entry.Action)),
			zap.Error(err),
		)
		return types.StorageUnavailable("failed to append audit entry").WithCause(err)
	}
	return nil
}

// Query reads matching audit rows, newest first, using db directly (never
// inside the caller's write transaction — audit reads are for operators,
// not for other domain logic to branch on).
func (r *Recorder) Query(ctx context.Context, db *gorm.DB, filter Filter) ([]store.AuditEntry, error) {
	q := db.WithContext(ctx).Model(&store.AuditEntry{})

	if filter.EntityType != "" {
		q = q.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		q = q.Where("entity_id = ?", filter.EntityID)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", string(filter.Action))
	}
	if filter.ActorUserID != nil {
		q = q.Where("actor_user_id = ?", *filter.ActorUserID)
	}
	if filter.Since != nil {
		q = q.Where("created_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		q = q.Where("created_at <= ?", *filter.Until)
	}

	q = q.Order("created_at DESC")

	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var rows []store.AuditEntry
	if err := q.Find(&rows).Error; err != nil {
		return nil, types.StorageUnavailable("failed to query audit entries").WithCause(err)
	}
	return rows, nil
}
