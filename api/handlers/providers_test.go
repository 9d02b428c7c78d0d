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
	"github.com/tbcp-io/tbcp/internal/provider"
	"github.com/tbcp-io/tbcp/internal/store"
)

func newTestProviderHandler(t *testing.T) *ProviderHandler {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&store.ProviderToken{}, &store.AuditEntry{}))

	pool, err := store.NewPoolManager(db, nil, store.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)

	vault := provider.NewVault(pool, audit.NewRecorder(nil), "test-encryption-key", nil)
	return NewProviderHandler(vault, zap.NewNop())
}

func TestProviderHandler_HandleCreate(t *testing.T) {
	h := newTestProviderHandler(t)
	actorID := uuid.New()
	projectID := uuid.New()

	body := `{"project_id":"` + projectID.String() + `","provider":"openai","label":"primary","key":"sk-test-key"}`
	r := httptest.NewRequest(http.MethodPost, "/api/providers", stringsReader(body))
	r.Header.Set("Content-Type", "application/json")
	r = withActorUser(r, actorID)
	w := httptest.NewRecorder()

	h.HandleCreate(w, r)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]any)
	assert.NotContains(t, data, "key")
	assert.Contains(t, data["masked_key"], "*")
}

func TestProviderHandler_HandleCreate_RejectsEmptyKey(t *testing.T) {
	h := newTestProviderHandler(t)
	actorID := uuid.New()
	projectID := uuid.New()

	body := `{"project_id":"` + projectID.String() + `","provider":"openai","label":"primary","key":""}`
	r := httptest.NewRequest(http.MethodPost, "/api/providers", stringsReader(body))
	r.Header.Set("Content-Type", "application/json")
	r = withActorUser(r, actorID)
	w := httptest.NewRecorder()

	h.HandleCreate(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProviderHandler_HandleListForProject(t *testing.T) {
	h := newTestProviderHandler(t)
	actorID := uuid.New()
	projectID := uuid.New()

	createReq := httptest.NewRequest(http.MethodPost, "/api/providers", stringsReader(
		`{"project_id":"`+projectID.String()+`","provider":"openai","label":"primary","key":"sk-test-key"}`))
	createReq.Header.Set("Content-Type", "application/json")
	createReq = withActorUser(createReq, actorID)
	createW := httptest.NewRecorder()
	h.HandleCreate(createW, createReq)
	require.Equal(t, http.StatusCreated, createW.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/api/projects/"+projectID.String()+"/provider", nil)
	listReq.SetPathValue("id", projectID.String())
	listW := httptest.NewRecorder()
	h.HandleListForProject(listW, listReq)
	require.Equal(t, http.StatusOK, listW.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(listW.Body.Bytes(), &resp))
	views := resp.Data.([]any)
	assert.Len(t, views, 1)
}

func TestProviderHandler_HandleList_SpansAllProjects(t *testing.T) {
	h := newTestProviderHandler(t)
	actorID := uuid.New()

	for _, projectID := range []uuid.UUID{uuid.New(), uuid.New()} {
		createReq := httptest.NewRequest(http.MethodPost, "/api/providers", stringsReader(
			`{"project_id":"`+projectID.String()+`","provider":"openai","label":"primary","key":"sk-test-key"}`))
		createReq.Header.Set("Content-Type", "application/json")
		createReq = withActorUser(createReq, actorID)
		createW := httptest.NewRecorder()
		h.HandleCreate(createW, createReq)
		require.Equal(t, http.StatusCreated, createW.Code)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/providers", nil)
	listW := httptest.NewRecorder()
	h.HandleList(listW, listReq)
	require.Equal(t, http.StatusOK, listW.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(listW.Body.Bytes(), &resp))
	views := resp.Data.([]any)
	assert.Len(t, views, 2)
}

func TestProviderHandler_HandleDelete(t *testing.T) {
	h := newTestProviderHandler(t)
	actorID := uuid.New()
	projectID := uuid.New()

	createReq := httptest.NewRequest(http.MethodPost, "/api/providers", stringsReader(
		`{"project_id":"`+projectID.String()+`","provider":"openai","label":"primary","key":"sk-test-key"}`))
	createReq.Header.Set("Content-Type", "application/json")
	createReq = withActorUser(createReq, actorID)
	createW := httptest.NewRecorder()
	h.HandleCreate(createW, createReq)

	var created Response
	require.NoError(t, json.Unmarshal(createW.Body.Bytes(), &created))
	id := created.Data.(map[string]any)["id"].(string)

	deleteReq := httptest.NewRequest(http.MethodDelete, "/api/providers/"+id, nil)
	deleteReq.SetPathValue("id", id)
	deleteReq = withActorUser(deleteReq, actorID)
	deleteW := httptest.NewRecorder()
	h.HandleDelete(deleteW, deleteReq)
	assert.Equal(t, http.StatusOK, deleteW.Code)
}
