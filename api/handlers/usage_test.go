//go:build cgo

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tbcp-io/tbcp/internal/store"
	"github.com/tbcp-io/tbcp/internal/usage"
)

func newTestUsageHandler(t *testing.T) (*UsageHandler, *gorm.DB, uuid.UUID) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&store.ControlToken{}, &store.UsageRecord{}, &store.TraceRecord{}))

	pool, err := store.NewPoolManager(db, nil, store.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)

	projectID := uuid.New()
	tok := store.ControlToken{ID: uuid.New(), Prefix: "tbcp_agent_", LookupHash: "lh", BodyHash: "bh", ProjectID: &projectID, CreatedAt: time.Now()}
	require.NoError(t, pool.DB().Create(&tok).Error)

	rec := store.UsageRecord{ID: uuid.New(), TokenID: tok.ID, Provider: "openai", Model: "gpt-4", InputTokens: 10, OutputTokens: 5, CostCents: 3, CreatedAt: time.Now()}
	require.NoError(t, pool.DB().Create(&rec).Error)

	recorder := usage.NewRecorder(pool, nil)
	return NewUsageHandler(recorder, zap.NewNop()), pool.DB(), projectID
}

func TestUsageHandler_HandleAggregate(t *testing.T) {
	h, _, _ := newTestUsageHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/usage/aggregate", nil)
	w := httptest.NewRecorder()
	h.HandleAggregate(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(10), data["InputTokens"])
}

func TestUsageHandler_HandleByProject(t *testing.T) {
	h, _, projectID := newTestUsageHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/usage/by-project/"+projectID.String(), nil)
	r.SetPathValue("id", projectID.String())
	w := httptest.NewRecorder()
	h.HandleByProject(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(10), data["InputTokens"])
}

func TestUsageHandler_HandleByProject_NoUsageYetIsZeroNotError(t *testing.T) {
	h, _, _ := newTestUsageHandler(t)
	other := uuid.New()

	r := httptest.NewRequest(http.MethodGet, "/api/v1/usage/by-project/"+other.String(), nil)
	r.SetPathValue("id", other.String())
	w := httptest.NewRecorder()
	h.HandleByProject(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(0), data["InputTokens"])
}

func TestUsageHandler_HandleByProvider(t *testing.T) {
	h, _, _ := newTestUsageHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/usage/by-provider/openai", nil)
	r.SetPathValue("id", "openai")
	w := httptest.NewRecorder()
	h.HandleByProvider(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}
