// Package usage appends usage and trace facts and computes read-time
// aggregates over them.
package usage

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tbcp-io/tbcp/internal/store"
	"github.com/tbcp-io/tbcp/types"
)

// Fact is one provider call's append-only usage record, plus the optional
// trace detail recorded alongside it.
type Fact struct {
	TokenID      uuid.UUID
	Provider     string
	Model        string
	InputTokens  int64
	OutputTokens int64
	CostCents    int64

	// Trace is nil when the caller has no endpoint/status/latency detail to
	// record — a usage fact never requires a trace.
	Trace *TraceDetail
}

// TraceDetail is the endpoint/status/latency/pointer detail that extends a
// usage fact into a full trace row.
type TraceDetail struct {
	Endpoint        string
	HTTPStatus      int
	LatencyMS       int
	RequestPointer  *string
	ResponsePointer *string
}

// ProviderTotals is one partition of an Aggregate, scoped to a single
// provider.
type ProviderTotals struct {
	Provider     string
	InputTokens  int64
	OutputTokens int64
	RequestCount int64
	CostCents    int64
}

// Aggregate is the totals shape returned by Aggregate, ByProject, and
// ByProvider. A partition with no matching rows yet is a successful
// Aggregate of all zeros, never a not-found error.
type Aggregate struct {
	InputTokens  int64
	OutputTokens int64
	RequestCount int64
	CostCents    int64
	ByProvider   []ProviderTotals
}

// Trace is the read-facing view of one trace row joined with its usage
// fact.
type Trace struct {
	ID              uuid.UUID
	TokenID         uuid.UUID
	Provider        string
	Model           string
	InputTokens     int64
	OutputTokens    int64
	CostCents       int64
	Endpoint        string
	HTTPStatus      int
	LatencyMS       int
	RequestPointer  *string
	ResponsePointer *string
	CreatedAt       time.Time
}

// TraceFilter narrows Traces. Zero-valued fields are not applied.
type TraceFilter struct {
	TokenID   *uuid.UUID
	ProjectID *uuid.UUID
	Limit     int
	Offset    int
}

// Recorder is the Usage & Trace Recorder (C4): Append is transactional only
// with respect to its caller, typically the Budget Engine's spend; the
// aggregates are computed on read, never materialized.
type Recorder struct {
	pool   *store.PoolManager
	logger *zap.Logger
}

// NewRecorder builds a Recorder.
func NewRecorder(pool *store.PoolManager, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{pool: pool, logger: logger.With(zap.String("component", "usage_recorder"))}
}

// Append writes a usage fact, and its trace detail if present, using tx —
// the caller's open transaction. A usage row is never inserted standalone
// from a spend: if the spend that produced it rolls back, the fact must
// roll back with it.
func (r *Recorder) Append(ctx context.Context, tx *gorm.DB, fact Fact) error {
	row := store.UsageRecord{
		ID:           uuid.New(),
		TokenID:      fact.TokenID,
		Provider:     fact.Provider,
		Model:        fact.Model,
		InputTokens:  fact.InputTokens,
		OutputTokens: fact.OutputTokens,
		CostCents:    fact.CostCents,
		CreatedAt:    time.Now(),
	}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		return types.StorageUnavailable("failed to append usage record").WithCause(err)
	}

	if fact.Trace == nil {
		return nil
	}

	traceRow := store.TraceRecord{
		ID:              uuid.New(),
		UsageRecordID:   row.ID,
		Endpoint:        fact.Trace.Endpoint,
		HTTPStatus:      fact.Trace.HTTPStatus,
		LatencyMS:       fact.Trace.LatencyMS,
		RequestPointer:  fact.Trace.RequestPointer,
		ResponsePointer: fact.Trace.ResponsePointer,
		CreatedAt:       row.CreatedAt,
	}
	if err := tx.WithContext(ctx).Create(&traceRow).Error; err != nil {
		return types.StorageUnavailable("failed to append trace record").WithCause(err)
	}
	return nil
}

// Aggregate computes totals across every usage record.
func (r *Recorder) Aggregate(ctx context.Context) (Aggregate, error) {
	return r.aggregate(ctx, r.pool.DB().WithContext(ctx).Model(&store.UsageRecord{}))
}

// ByProject scopes Aggregate to usage recorded against tokens bound to
// projectID. A project with no usage yet returns a successful zero
// Aggregate, not a not-found error.
func (r *Recorder) ByProject(ctx context.Context, projectID uuid.UUID) (Aggregate, error) {
	q := r.pool.DB().WithContext(ctx).Model(&store.UsageRecord{}).
		Joins("JOIN tbcp_control_tokens ON tbcp_control_tokens.id = tbcp_usage_records.token_id").
		Where("tbcp_control_tokens.project_id = ?", projectID)
	return r.aggregate(ctx, q)
}

// ByProvider scopes Aggregate to one provider name. An unrecognized
// provider returns a successful zero Aggregate, not a not-found error.
func (r *Recorder) ByProvider(ctx context.Context, provider string) (Aggregate, error) {
	q := r.pool.DB().WithContext(ctx).Model(&store.UsageRecord{}).Where("provider = ?", provider)
	return r.aggregate(ctx, q)
}

func (r *Recorder) aggregate(ctx context.Context, q *gorm.DB) (Aggregate, error) {
	var rows []store.UsageRecord
	if err := q.Find(&rows).Error; err != nil {
		return Aggregate{}, types.StorageUnavailable("failed to aggregate usage").WithCause(err)
	}

	totals := map[string]*ProviderTotals{}
	var agg Aggregate
	var err error

	for _, row := range rows {
		if agg.InputTokens, err = addChecked(agg.InputTokens, row.InputTokens); err != nil {
			return Aggregate{}, err
		}
		if agg.OutputTokens, err = addChecked(agg.OutputTokens, row.OutputTokens); err != nil {
			return Aggregate{}, err
		}
		if agg.CostCents, err = addChecked(agg.CostCents, row.CostCents); err != nil {
			return Aggregate{}, err
		}
		if agg.RequestCount, err = addChecked(agg.RequestCount, 1); err != nil {
			return Aggregate{}, err
		}

		pt, ok := totals[row.Provider]
		if !ok {
			pt = &ProviderTotals{Provider: row.Provider}
			totals[row.Provider] = pt
		}
		if pt.InputTokens, err = addChecked(pt.InputTokens, row.InputTokens); err != nil {
			return Aggregate{}, err
		}
		if pt.OutputTokens, err = addChecked(pt.OutputTokens, row.OutputTokens); err != nil {
			return Aggregate{}, err
		}
		if pt.CostCents, err = addChecked(pt.CostCents, row.CostCents); err != nil {
			return Aggregate{}, err
		}
		if pt.RequestCount, err = addChecked(pt.RequestCount, 1); err != nil {
			return Aggregate{}, err
		}
	}

	for _, pt := range totals {
		agg.ByProvider = append(agg.ByProvider, *pt)
	}
	return agg, nil
}

// Traces returns matching trace rows, newest first by recording timestamp.
func (r *Recorder) Traces(ctx context.Context, filter TraceFilter) ([]Trace, error) {
	q := r.pool.DB().WithContext(ctx).
		Table("tbcp_trace_records").
		Select("tbcp_trace_records.*, tbcp_usage_records.token_id, tbcp_usage_records.provider, "+
			"tbcp_usage_records.model, tbcp_usage_records.input_tokens, tbcp_usage_records.output_tokens, "+
			"tbcp_usage_records.cost_cents").
		Joins("JOIN tbcp_usage_records ON tbcp_usage_records.id = tbcp_trace_records.usage_record_id")

	if filter.TokenID != nil {
		q = q.Where("tbcp_usage_records.token_id = ?", *filter.TokenID)
	}
	if filter.ProjectID != nil {
		q = q.Joins("JOIN tbcp_control_tokens ON tbcp_control_tokens.id = tbcp_usage_records.token_id").
			Where("tbcp_control_tokens.project_id = ?", *filter.ProjectID)
	}

	q = q.Order("tbcp_trace_records.created_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var rows []Trace
	if err := q.Find(&rows).Error; err != nil {
		return nil, types.StorageUnavailable("failed to query traces").WithCause(err)
	}
	return rows, nil
}

// Trace returns a single trace row joined with its usage fact.
func (r *Recorder) Trace(ctx context.Context, id uuid.UUID) (Trace, error) {
	q := r.pool.DB().WithContext(ctx).
		Table("tbcp_trace_records").
		Select("tbcp_trace_records.*, tbcp_usage_records.token_id, tbcp_usage_records.provider, "+
			"tbcp_usage_records.model, tbcp_usage_records.input_tokens, tbcp_usage_records.output_tokens, "+
			"tbcp_usage_records.cost_cents").
		Joins("JOIN tbcp_usage_records ON tbcp_usage_records.id = tbcp_trace_records.usage_record_id").
		Where("tbcp_trace_records.id = ?", id)

	var row Trace
	if err := q.First(&row).Error; err != nil {
		return Trace{}, types.NotFound("trace not found")
	}
	return row, nil
}

// addChecked adds b to a, surfacing a 64-bit signed overflow as an
// integrity error instead of silently wrapping around — required for
// every cost and token sum, since these are money and billing quantities.
func addChecked(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, types.Integrity("usage aggregate overflowed a 64-bit signed total")
	}
	if b < 0 && a < math.MinInt64-b {
		return 0, types.Integrity("usage aggregate overflowed a 64-bit signed total")
	}
	return a + b, nil
}
