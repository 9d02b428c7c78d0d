//go:build cgo

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tbcp-io/tbcp/internal/audit"
	"github.com/tbcp-io/tbcp/internal/limit"
	"github.com/tbcp-io/tbcp/internal/store"
)

func newTestLimitHandler(t *testing.T) *LimitHandler {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&store.LimitRecord{}, &store.AuditEntry{}))

	pool, err := store.NewPoolManager(db, nil, store.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)

	enforcer := limit.NewEnforcer(pool, audit.NewRecorder(nil), nil)
	return NewLimitHandler(enforcer, zap.NewNop())
}

func TestLimitHandler_HandleCreate(t *testing.T) {
	h := newTestLimitHandler(t)
	actorID := uuid.New()
	targetUser := uuid.New()

	body := `{"user_id":"` + targetUser.String() + `","max_tokens_per_day":1000}`
	r := httptest.NewRequest(http.MethodPost, "/api/v1/limits", stringsReader(body))
	r.Header.Set("Content-Type", "application/json")
	r = withActorUser(r, actorID)
	w := httptest.NewRecorder()

	h.HandleCreate(w, r)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(1000), data["max_tokens_per_day"])
}

func TestLimitHandler_HandleCreate_RequiresActor(t *testing.T) {
	h := newTestLimitHandler(t)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/limits", stringsReader(`{"user_id":"`+uuid.New().String()+`"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.HandleCreate(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLimitHandler_HandleUpdate_ClearsCeilingOnExplicitNull(t *testing.T) {
	h := newTestLimitHandler(t)
	actorID := uuid.New()
	targetUser := uuid.New()

	createReq := httptest.NewRequest(http.MethodPost, "/api/v1/limits", stringsReader(`{"user_id":"`+targetUser.String()+`","max_tokens_per_day":1000}`))
	createReq.Header.Set("Content-Type", "application/json")
	createReq = withActorUser(createReq, actorID)
	createW := httptest.NewRecorder()
	h.HandleCreate(createW, createReq)
	require.Equal(t, http.StatusCreated, createW.Code)

	var created Response
	require.NoError(t, json.Unmarshal(createW.Body.Bytes(), &created))
	id := created.Data.(map[string]any)["id"].(string)

	updateReq := httptest.NewRequest(http.MethodPut, "/api/v1/limits/"+id, stringsReader(`{"max_tokens_per_day":null}`))
	updateReq.Header.Set("Content-Type", "application/json")
	updateReq.SetPathValue("id", id)
	updateReq = withActorUser(updateReq, actorID)
	updateW := httptest.NewRecorder()
	h.HandleUpdate(updateW, updateReq)
	require.Equal(t, http.StatusOK, updateW.Code)

	var updated Response
	require.NoError(t, json.Unmarshal(updateW.Body.Bytes(), &updated))
	assert.Nil(t, updated.Data.(map[string]any)["max_tokens_per_day"])
}

func TestLimitHandler_HandleDelete(t *testing.T) {
	h := newTestLimitHandler(t)
	actorID := uuid.New()
	targetUser := uuid.New()

	createReq := httptest.NewRequest(http.MethodPost, "/api/v1/limits", stringsReader(`{"user_id":"`+targetUser.String()+`"}`))
	createReq.Header.Set("Content-Type", "application/json")
	createReq = withActorUser(createReq, actorID)
	createW := httptest.NewRecorder()
	h.HandleCreate(createW, createReq)

	var created Response
	require.NoError(t, json.Unmarshal(createW.Body.Bytes(), &created))
	id := created.Data.(map[string]any)["id"].(string)

	deleteReq := httptest.NewRequest(http.MethodDelete, "/api/v1/limits/"+id, nil)
	deleteReq.SetPathValue("id", id)
	deleteReq = withActorUser(deleteReq, actorID)
	deleteW := httptest.NewRecorder()
	h.HandleDelete(deleteW, deleteReq)
	assert.Equal(t, http.StatusOK, deleteW.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/limits/"+id, nil)
	getReq.SetPathValue("id", id)
	getW := httptest.NewRecorder()
	h.HandleGet(getW, getReq)
	assert.Equal(t, http.StatusNotFound, getW.Code)
}
