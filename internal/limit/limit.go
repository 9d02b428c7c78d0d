// Package limit implements administrator-defined per-{user, optional
// project} ceilings and the rolling-window check the Budget Engine
// consults before honoring a borrow.
package limit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tbcp-io/tbcp/internal/audit"
	"github.com/tbcp-io/tbcp/internal/store"
	"github.com/tbcp-io/tbcp/types"
)

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique_violation")
}

const (
	dayWindow    = 24 * time.Hour
	minuteWindow = time.Minute
	monthWindow  = 30 * 24 * time.Hour
)

// Ceiling is a three-state optional *int64: Present false means "field
// omitted, leave unchanged" on Update; Present true with a nil Value means
// "explicitly clear this ceiling". Create treats every Ceiling as present.
type Ceiling struct {
	Present bool
	Value   *int64
}

// Set wraps v as a present, non-null ceiling.
func Set(v int64) Ceiling { return Ceiling{Present: true, Value: &v} }

// Clear is a present ceiling whose value is null.
func Clear() Ceiling { return Ceiling{Present: true, Value: nil} }

// Ceilings groups the three ceiling dimensions for Create and Update.
type Ceilings struct {
	MaxTokensPerDay      Ceiling
	MaxRequestsPerMinute Ceiling
	MaxCostCentsPerMonth Ceiling
}

// Increments is the requested usage increment would-exceed checks against.
type Increments struct {
	Tokens    int64
	Requests  int64
	CostCents int64
}

// Record is the read-facing view of a limit row.
type Record struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	ProjectID            *uuid.UUID
	MaxTokensPerDay      *int64
	MaxRequestsPerMinute *int64
	MaxCostCentsPerMonth *int64
	TokensToday          int64
	RequestsThisMinute   int64
	CostCentsThisMonth   int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func recordFromRow(row store.LimitRecord) Record {
	return Record{
		ID:                   row.ID,
		UserID:               row.UserID,
		ProjectID:            row.ProjectID,
		MaxTokensPerDay:      row.MaxTokensPerDay,
		MaxRequestsPerMinute: row.MaxRequestsPerMinute,
		MaxCostCentsPerMonth: row.MaxCostCentsPerMonth,
		TokensToday:          row.TokensToday,
		RequestsThisMinute:   row.RequestsThisMinute,
		CostCentsThisMonth:   row.CostCentsThisMonth,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}
}

// Enforcer is the Limit Enforcer (C5): CRUD over limit rows plus the single
// would-exceed read the Budget Engine consults on borrow.
type Enforcer struct {
	pool   *store.PoolManager
	audit  *audit.Recorder
	logger *zap.Logger
}

// NewEnforcer builds an Enforcer.
func NewEnforcer(pool *store.PoolManager, recorder *audit.Recorder, logger *zap.Logger) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enforcer{pool: pool, audit: recorder, logger: logger.With(zap.String("component", "limit_enforcer"))}
}

// Create inserts a new limit row. At least one ceiling must be present and
// non-null; an all-null limit row is refused. actorUserID identifies the
// administrator performing the write, for the audit trail — it is distinct
// from userID, the subject the limit governs.
func (e *Enforcer) Create(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID, ceilings Ceilings, actorUserID uuid.UUID) (Record, error) {
	if !hasAnyCeiling(ceilings) {
		return Record{}, types.Validation("at least one ceiling must be set")
	}

	now := time.Now()
	row := store.LimitRecord{
		ID:                   uuid.New(),
		UserID:               userID,
		ProjectID:            projectID,
		MaxTokensPerDay:      valueOrNil(ceilings.MaxTokensPerDay),
		MaxRequestsPerMinute: valueOrNil(ceilings.MaxRequestsPerMinute),
		MaxCostCentsPerMonth: valueOrNil(ceilings.MaxCostCentsPerMonth),
		DayWindowResetAt:     now.Add(dayWindow),
		MinuteWindowResetAt:  now.Add(minuteWindow),
		MonthWindowResetAt:   now.Add(monthWindow),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	err := e.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return e.audit.Record(ctx, tx, audit.Entry{
			EntityType:  "limit_record",
			EntityID:    row.ID.String(),
			Action:      audit.ActionLimitCreated,
			ActorUserID: &actorUserID,
			ChangeSet:   changeSetFor(ceilings),
		})
	})
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, types.Conflict("a limit already exists for this user/project")
		}
		return Record{}, types.StorageUnavailable("failed to create limit").WithCause(err)
	}

	return recordFromRow(row), nil
}

// Get reads one limit row by id.
func (e *Enforcer) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	var row store.LimitRecord
	if err := e.pool.DB().WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return Record{}, types.NotFound("limit not found")
	}
	return recordFromRow(row), nil
}

// List returns every limit row.
func (e *Enforcer) List(ctx context.Context) ([]Record, error) {
	var rows []store.LimitRecord
	if err := e.pool.DB().WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, types.StorageUnavailable("failed to list limits").WithCause(err)
	}
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = recordFromRow(row)
	}
	return out, nil
}

// Update applies a partial patch: a Ceiling with Present false leaves the
// corresponding column untouched. A patch that would leave all three
// ceilings null is refused, matching Create's invariant.
func (e *Enforcer) Update(ctx context.Context, id uuid.UUID, patch Ceilings, actorUserID uuid.UUID) (Record, error) {
	var updated store.LimitRecord

	err := e.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var row store.LimitRecord
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			return types.NotFound("limit not found")
		}

		if patch.MaxTokensPerDay.Present {
			row.MaxTokensPerDay = patch.MaxTokensPerDay.Value
		}
		if patch.MaxRequestsPerMinute.Present {
			row.MaxRequestsPerMinute = patch.MaxRequestsPerMinute.Value
		}
		if patch.MaxCostCentsPerMonth.Present {
			row.MaxCostCentsPerMonth = patch.MaxCostCentsPerMonth.Value
		}

		if row.MaxTokensPerDay == nil && row.MaxRequestsPerMinute == nil && row.MaxCostCentsPerMonth == nil {
			return types.Validation("update would leave every ceiling unset")
		}

		row.UpdatedAt = time.Now()
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		updated = row

		return e.audit.Record(ctx, tx, audit.Entry{
			EntityType:  "limit_record",
			EntityID:    row.ID.String(),
			Action:      audit.ActionLimitUpdated,
			ActorUserID: &actorUserID,
			ChangeSet:   changeSetFor(patch),
		})
	})
	if err != nil {
		if de, ok := types.As(err); ok {
			return Record{}, de
		}
		return Record{}, types.StorageUnavailable("failed to update limit").WithCause(err)
	}

	return recordFromRow(updated), nil
}

// Delete removes a limit row. Deleting a non-existent id is not-found, not
// a no-op — unlike token revocation, this matches the surface's other
// resource deletes.
func (e *Enforcer) Delete(ctx context.Context, id uuid.UUID, actorUserID uuid.UUID) error {
	return e.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var row store.LimitRecord
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			return types.NotFound("limit not found")
		}
		if err := tx.Delete(&row).Error; err != nil {
			return err
		}
		return e.audit.Record(ctx, tx, audit.Entry{
			EntityType:  "limit_record",
			EntityID:    row.ID.String(),
			Action:      audit.ActionLimitDeleted,
			ActorUserID: &actorUserID,
		})
	})
}

// WouldExceed rolls any counter window whose reset boundary has passed,
// then checks whether applying increments would push a counter past its
// ceiling. A user/project pair with no limit row configured never blocks —
// limits are opt-in. When the increment does not exceed any ceiling, it is
// committed to the rolled counters in the same transaction: this is a
// check-and-reserve operation, not a read-only probe, so two concurrent
// callers cannot both observe "under ceiling" and both proceed.
func (e *Enforcer) WouldExceed(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID, increments Increments) (bool, error) {
	var exceeded bool

	err := e.pool.WithImmediateTransaction(ctx, func(tx *gorm.DB) error {
		var row store.LimitRecord
		q := tx.Where("user_id = ?", userID)
		if projectID != nil {
			q = q.Where("project_id = ?", *projectID)
		} else {
			q = q.Where("project_id IS NULL")
		}
		if err := q.First(&row).Error; err != nil {
			exceeded = false
			return nil
		}

		now := time.Now()
		rollWindow(&row.TokensToday, &row.DayWindowResetAt, dayWindow, now)
		rollWindow(&row.RequestsThisMinute, &row.MinuteWindowResetAt, minuteWindow, now)
		rollWindow(&row.CostCentsThisMonth, &row.MonthWindowResetAt, monthWindow, now)

		exceeded = wouldExceedCeiling(row.MaxTokensPerDay, row.TokensToday, increments.Tokens) ||
			wouldExceedCeiling(row.MaxRequestsPerMinute, row.RequestsThisMinute, increments.Requests) ||
			wouldExceedCeiling(row.MaxCostCentsPerMonth, row.CostCentsThisMonth, increments.CostCents)

		if !exceeded {
			row.TokensToday += increments.Tokens
			row.RequestsThisMinute += increments.Requests
			row.CostCentsThisMonth += increments.CostCents
		}
		row.UpdatedAt = now

		return tx.Save(&row).Error
	})
	if err != nil {
		return false, types.StorageUnavailable("failed to evaluate limit").WithCause(err)
	}

	return exceeded, nil
}

func wouldExceedCeiling(ceiling *int64, current, increment int64) bool {
	return ceiling != nil && current+increment > *ceiling
}

func rollWindow(counter *int64, resetAt *time.Time, window time.Duration, now time.Time) {
	if !now.Before(*resetAt) {
		*counter = 0
		*resetAt = now.Add(window)
	}
}

func hasAnyCeiling(c Ceilings) bool {
	return c.MaxTokensPerDay.Value != nil || c.MaxRequestsPerMinute.Value != nil || c.MaxCostCentsPerMonth.Value != nil
}

func valueOrNil(c Ceiling) *int64 { return c.Value }

func changeSetFor(c Ceilings) map[string]any {
	cs := map[string]any{}
	if c.MaxTokensPerDay.Present {
		cs["max_tokens_per_day"] = c.MaxTokensPerDay.Value
	}
	if c.MaxRequestsPerMinute.Present {
		cs["max_requests_per_minute"] = c.MaxRequestsPerMinute.Value
	}
	if c.MaxCostCentsPerMonth.Present {
		cs["max_cost_cents_per_month"] = c.MaxCostCentsPerMonth.Value
	}
	return cs
}
