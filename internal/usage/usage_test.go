//go:build cgo

package usage

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tbcp-io/tbcp/internal/store"
	"github.com/tbcp-io/tbcp/types"
)

func newTestRecorder(t *testing.T) (*Recorder, *store.PoolManager) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&store.UsageRecord{}, &store.TraceRecord{}, &store.ControlToken{}))

	pool, err := store.NewPoolManager(db, nil, store.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)

	return NewRecorder(pool, nil), pool
}

func TestRecorder_Append_WithoutTrace(t *testing.T) {
	r, pool := newTestRecorder(t)
	tokenID := uuid.New()

	err := pool.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		return r.Append(context.Background(), tx, Fact{
			TokenID: tokenID, Provider: "openai", Model: "gpt-4",
			InputTokens: 100, OutputTokens: 50, CostCents: 12,
		})
	})
	require.NoError(t, err)

	agg, err := r.Aggregate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), agg.InputTokens)
	assert.Equal(t, int64(50), agg.OutputTokens)
	assert.Equal(t, int64(12), agg.CostCents)
	assert.Equal(t, int64(1), agg.RequestCount)
}

func TestRecorder_Append_WithTrace(t *testing.T) {
	r, pool := newTestRecorder(t)
	tokenID := uuid.New()

	err := pool.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		return r.Append(context.Background(), tx, Fact{
			TokenID: tokenID, Provider: "anthropic", Model: "claude",
			InputTokens: 10, OutputTokens: 5, CostCents: 3,
			Trace: &TraceDetail{Endpoint: "/v1/messages", HTTPStatus: 200, LatencyMS: 120},
		})
	})
	require.NoError(t, err)

	traces, err := r.Traces(context.Background(), TraceFilter{})
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, "/v1/messages", traces[0].Endpoint)
	assert.Equal(t, tokenID, traces[0].TokenID)
}

func TestRecorder_Append_RollsBackWithCaller(t *testing.T) {
	r, pool := newTestRecorder(t)

	err := pool.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		if err := r.Append(context.Background(), tx, Fact{
			TokenID: uuid.New(), Provider: "openai", Model: "gpt-4", InputTokens: 1,
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	agg, err := r.Aggregate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), agg.RequestCount)
}

func TestRecorder_ByProvider_UnknownIsEmptySuccess(t *testing.T) {
	r, _ := newTestRecorder(t)
	agg, err := r.ByProvider(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Equal(t, Aggregate{}, agg)
}

func TestRecorder_ByProject_UnknownIsEmptySuccess(t *testing.T) {
	r, _ := newTestRecorder(t)
	agg, err := r.ByProject(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, Aggregate{}, agg)
}

func TestRecorder_ByProject_ScopesThroughToken(t *testing.T) {
	r, pool := newTestRecorder(t)
	projectA := uuid.New()
	tokenInA := store.ControlToken{
		ID: uuid.New(), Prefix: "tok", BodyHash: "x", LookupHash: uuid.NewString(), ProjectID: &projectA,
	}
	tokenOutsideA := store.ControlToken{ID: uuid.New(), Prefix: "tok", BodyHash: "x", LookupHash: uuid.NewString()}
	require.NoError(t, pool.DB().Create(&tokenInA).Error)
	require.NoError(t, pool.DB().Create(&tokenOutsideA).Error)

	err := pool.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		if err := r.Append(context.Background(), tx, Fact{TokenID: tokenInA.ID, Provider: "openai", InputTokens: 10}); err != nil {
			return err
		}
		return r.Append(context.Background(), tx, Fact{TokenID: tokenOutsideA.ID, Provider: "openai", InputTokens: 1000})
	})
	require.NoError(t, err)

	agg, err := r.ByProject(context.Background(), projectA)
	require.NoError(t, err)
	assert.Equal(t, int64(10), agg.InputTokens)
}

func TestRecorder_Aggregate_ByProviderBreakdown(t *testing.T) {
	r, pool := newTestRecorder(t)

	err := pool.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		if err := r.Append(context.Background(), tx, Fact{TokenID: uuid.New(), Provider: "openai", InputTokens: 10}); err != nil {
			return err
		}
		return r.Append(context.Background(), tx, Fact{TokenID: uuid.New(), Provider: "anthropic", InputTokens: 20})
	})
	require.NoError(t, err)

	agg, err := r.Aggregate(context.Background())
	require.NoError(t, err)
	assert.Len(t, agg.ByProvider, 2)
}

func TestAddChecked_OverflowSurfacesIntegrityError(t *testing.T) {
	_, err := addChecked(math.MaxInt64, 1)
	require.Error(t, err)
	assert.True(t, types.Is(err, types.KindIntegrity))
}

func TestAddChecked_NoOverflow(t *testing.T) {
	sum, err := addChecked(10, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(30), sum)
}

func TestTraces_NewestFirst(t *testing.T) {
	r, pool := newTestRecorder(t)

	err := pool.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		if err := r.Append(context.Background(), tx, Fact{
			TokenID: uuid.New(), Provider: "openai", InputTokens: 1,
			Trace: &TraceDetail{Endpoint: "/first", HTTPStatus: 200},
		}); err != nil {
			return err
		}
		return r.Append(context.Background(), tx, Fact{
			TokenID: uuid.New(), Provider: "openai", InputTokens: 1,
			Trace: &TraceDetail{Endpoint: "/second", HTTPStatus: 200},
		})
	})
	require.NoError(t, err)

	traces, err := r.Traces(context.Background(), TraceFilter{})
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, "/second", traces[0].Endpoint)
	assert.Equal(t, "/first", traces[1].Endpoint)
}
