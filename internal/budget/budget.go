// Package budget implements the per-agent borrow/spend/refresh/return
// lifecycle and its background lease-reclamation sweep.
package budget

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tbcp-io/tbcp/internal/audit"
	"github.com/tbcp-io/tbcp/internal/limit"
	"github.com/tbcp-io/tbcp/internal/store"
	"github.com/tbcp-io/tbcp/internal/usage"
	"github.com/tbcp-io/tbcp/types"
)

// Lease is the read-facing view of a budget lease.
type Lease struct {
	ID             uuid.UUID
	AgentID        uuid.UUID
	BorrowedAmount int64
	SpentSoFar     int64
	Status         store.LeaseStatus
	AcquiredAt     time.Time
	ExpiresAt      time.Time
}

func leaseFromRow(row store.BudgetLease) Lease {
	return Lease{
		ID:             row.ID,
		AgentID:        row.AgentID,
		BorrowedAmount: row.BorrowedAmount,
		SpentSoFar:     row.SpentSoFar,
		Status:         row.Status,
		AcquiredAt:     row.AcquiredAt,
		ExpiresAt:      row.ExpiresAt,
	}
}

// Fact carries the usage detail a successful spend appends alongside the
// lease/budget counter updates, in the same transaction.
type Fact = usage.Fact

// Engine is the Budget Engine (C3): borrow/spend/refresh/return and the
// background reclaim-expired sweep.
type Engine struct {
	pool     *store.PoolManager
	limits   *limit.Enforcer
	usage    *usage.Recorder
	audit    *audit.Recorder
	leaseTTL time.Duration
	logger   *zap.Logger

	stop   chan struct{}
	closed bool
	mu     sync.Mutex
}

// NewEngine builds an Engine. leaseTTL is the duration a freshly borrowed
// lease remains active before reclaim-expired considers it stale.
func NewEngine(pool *store.PoolManager, limits *limit.Enforcer, usageRecorder *usage.Recorder, recorder *audit.Recorder, leaseTTL time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		pool:     pool,
		limits:   limits,
		usage:    usageRecorder,
		audit:    recorder,
		leaseTTL: leaseTTL,
		logger:   logger.With(zap.String("component", "budget_engine")),
		stop:     make(chan struct{}),
	}
}

// Borrow verifies no active lease exists for agentID (invariant ii), that
// the agent's remaining allocation covers amount, and that the Limit
// Enforcer would not refuse the borrow for the owning user/project, then
// inserts an active lease. All of this runs inside one immediate
// transaction so two concurrent borrows on the same agent serialize:
// exactly one wins, the loser observes the winner's lease and gets
// conflict.
func (e *Engine) Borrow(ctx context.Context, agentID uuid.UUID, amount int64) (Lease, error) {
	if amount <= 0 {
		return Lease{}, types.Validation("borrow amount must be positive")
	}

	var result store.BudgetLease

	err := e.pool.WithImmediateTransaction(ctx, func(tx *gorm.DB) error {
		var agent store.Agent
		if err := tx.Where("id = ?", agentID).First(&agent).Error; err != nil {
			return types.NotFound("agent not found")
		}

		var existing store.BudgetLease
		err := tx.Where("agent_id = ? AND status = ?", agentID, store.LeaseStatusActive).First(&existing).Error
		if err == nil {
			return types.Conflict("agent already holds an active lease")
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		var ab store.AgentBudget
		if err := tx.Where("agent_id = ?", agentID).First(&ab).Error; err != nil {
			return types.NotFound("agent budget not found")
		}
		if ab.Remaining() < amount {
			return types.BudgetExceeded("requested amount exceeds remaining allocation")
		}

		if e.limits != nil {
			exceeded, err := e.limits.WouldExceed(ctx, agent.UserID, agent.ProjectID, limit.Increments{Tokens: amount, Requests: 1})
			if err != nil {
				return err
			}
			if exceeded {
				return types.BudgetExceeded("borrow would exceed a configured limit")
			}
		}

		now := time.Now()
		result = store.BudgetLease{
			ID:             uuid.New(),
			AgentID:        agentID,
			BorrowedAmount: amount,
			SpentSoFar:     0,
			Status:         store.LeaseStatusActive,
			AcquiredAt:     now,
			ExpiresAt:      now.Add(e.leaseTTL),
		}
		if err := tx.Create(&result).Error; err != nil {
			return err
		}

		return e.audit.Record(ctx, tx, audit.Entry{
			EntityType: "budget_lease",
			EntityID:   result.ID.String(),
			Action:     audit.ActionBudgetBorrowed,
			ChangeSet:  map[string]any{"agent_id": agentID, "amount": amount},
		})
	})
	if err != nil {
		if de, ok := types.As(err); ok {
			return Lease{}, de
		}
		return Lease{}, types.StorageUnavailable("failed to borrow budget").WithCause(err)
	}

	return leaseFromRow(result), nil
}

// ActiveLease confirms the agent currently holds a live, unexhausted
// lease — the check the key-fetch endpoint performs before handing out a
// provider key: no active lease, an expired one, or one fully spent all
// refuse with budget-exceeded rather than handing out a key nothing backs.
func (e *Engine) ActiveLease(ctx context.Context, agentID uuid.UUID) (Lease, error) {
	var row store.BudgetLease
	err := e.pool.DB().WithContext(ctx).
		Where("agent_id = ? AND status = ?", agentID, store.LeaseStatusActive).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return Lease{}, types.BudgetExceeded("agent holds no active lease")
	}
	if err != nil {
		return Lease{}, types.StorageUnavailable("failed to look up active lease").WithCause(err)
	}
	if time.Now().After(row.ExpiresAt) {
		return Lease{}, types.BudgetExceeded("agent's lease has expired")
	}
	if row.SpentSoFar >= row.BorrowedAmount {
		return Lease{}, types.BudgetExceeded("agent's lease is fully spent")
	}
	return leaseFromRow(row), nil
}

// Spend records usage against an active lease. The only blocking budget
// check is lease.spent + amount > lease.borrowed — per-agent is
// authoritative; C5 limits already had their say at Borrow time and are
// merely informational here unless a future borrow refuses. On success,
// lease.spent and agent.spent are both incremented and the usage fact is
// appended, all in one immediate transaction.
func (e *Engine) Spend(ctx context.Context, leaseID uuid.UUID, amount int64, fact Fact) error {
	if amount < 0 {
		return types.Validation("spend amount must not be negative")
	}

	return e.pool.WithImmediateTransaction(ctx, func(tx *gorm.DB) error {
		var lease store.BudgetLease
		if err := tx.Where("id = ?", leaseID).First(&lease).Error; err != nil {
			return types.NotFound("lease not found")
		}
		if lease.Status != store.LeaseStatusActive {
			return types.Conflict("lease is not active")
		}
		if time.Now().After(lease.ExpiresAt) {
			return types.Conflict("lease has expired")
		}
		if lease.SpentSoFar+amount > lease.BorrowedAmount {
			return types.BudgetExceeded("spend would exceed the lease's borrowed amount")
		}

		lease.SpentSoFar += amount
		if err := tx.Save(&lease).Error; err != nil {
			return err
		}

		var ab store.AgentBudget
		if err := tx.Where("agent_id = ?", lease.AgentID).First(&ab).Error; err != nil {
			return err
		}
		ab.Spent += amount
		if err := tx.Save(&ab).Error; err != nil {
			return err
		}

		if err := e.usage.Append(ctx, tx, fact); err != nil {
			return err
		}

		return e.audit.Record(ctx, tx, audit.Entry{
			EntityType: "budget_lease",
			EntityID:   lease.ID.String(),
			Action:     audit.ActionBudgetSpent,
			ChangeSet:  map[string]any{"amount": amount},
		})
	})
}

// Refresh applies the agent's refresh policy: daily resets spent to zero if
// last_refresh predates the start of the current calendar day; monthly is
// the analogous calendar-month check; never is a no-op. An active lease is
// untouched by refresh — refresh governs the allocation, not a lease
// already borrowed against it.
func (e *Engine) Refresh(ctx context.Context, agentID uuid.UUID) error {
	return e.pool.WithImmediateTransaction(ctx, func(tx *gorm.DB) error {
		var ab store.AgentBudget
		if err := tx.Where("agent_id = ?", agentID).First(&ab).Error; err != nil {
			return types.NotFound("agent budget not found")
		}

		now := time.Now()
		var boundary time.Time
		switch ab.RefreshPolicy {
		case store.RefreshPolicyDaily:
			boundary = startOfDay(now)
		case store.RefreshPolicyMonthly:
			boundary = startOfMonth(now)
		default:
			return nil
		}

		if !ab.LastRefreshAt.Before(boundary) {
			return nil
		}

		ab.Spent = 0
		ab.LastRefreshAt = now
		if err := tx.Save(&ab).Error; err != nil {
			return err
		}

		return e.audit.Record(ctx, tx, audit.Entry{
			EntityType: "agent_budget",
			EntityID:   ab.ID.String(),
			Action:     audit.ActionBudgetRefreshed,
		})
	})
}

// Return releases an active lease back to the agent's allocation. No row
// mutation is needed on the allocation itself: agent.spent already reflects
// only what Spend actually committed, so an unspent remainder simply
// becomes available again once the lease no longer counts as held.
func (e *Engine) Return(ctx context.Context, leaseID uuid.UUID) error {
	return e.pool.WithImmediateTransaction(ctx, func(tx *gorm.DB) error {
		var lease store.BudgetLease
		if err := tx.Where("id = ?", leaseID).First(&lease).Error; err != nil {
			return types.NotFound("lease not found")
		}
		if lease.Status != store.LeaseStatusActive {
			return types.Conflict("lease is not active")
		}

		lease.Status = store.LeaseStatusReturned
		if err := tx.Save(&lease).Error; err != nil {
			return err
		}

		return e.audit.Record(ctx, tx, audit.Entry{
			EntityType: "budget_lease",
			EntityID:   lease.ID.String(),
			Action:     audit.ActionBudgetReturned,
		})
	})
}

// ReclaimExpired sweeps leases whose expiry has passed and are still
// active, marking them expired. Functionally equivalent to Return for the
// account, but audited under a distinct action so operators can tell a
// deliberate return from a runtime that vanished without one.
func (e *Engine) ReclaimExpired(ctx context.Context) (int, error) {
	var rows []store.BudgetLease
	now := time.Now()

	err := e.pool.WithImmediateTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("status = ? AND expires_at < ?", store.LeaseStatusActive, now).Find(&rows).Error; err != nil {
			return err
		}
		for i := range rows {
			rows[i].Status = store.LeaseStatusExpired
			if err := tx.Save(&rows[i]).Error; err != nil {
				return err
			}
			if err := e.audit.Record(ctx, tx, audit.Entry{
				EntityType: "budget_lease",
				EntityID:   rows[i].ID.String(),
				Action:     audit.ActionLeaseExpired,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, types.StorageUnavailable("failed to reclaim expired leases").WithCause(err)
	}
	return len(rows), nil
}

// StartSweep runs ReclaimExpired on interval until the context is canceled
// or Stop is called, modeled on internal/store's health-check ticker loop.
func (e *Engine) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stop:
				return
			case <-ticker.C:
				n, err := e.ReclaimExpired(ctx)
				if err != nil {
					e.logger.Error("lease sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					e.logger.Info("reclaimed expired leases", zap.Int("count", n))
				}
			}
		}
	}()
}

// Stop halts a sweep started by StartSweep. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.stop)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}
