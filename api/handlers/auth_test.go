//go:build cgo

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tbcp-io/tbcp/internal/session"
	"github.com/tbcp-io/tbcp/internal/store"
)

func newTestAuthHandler(t *testing.T) (*AuthHandler, store.User, string) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&store.User{}, &store.AdminSession{}))

	pool, err := store.NewPoolManager(db, nil, store.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)

	plaintext := "correct-horse-battery-staple"
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	require.NoError(t, err)

	user := store.User{ID: uuid.New(), ExternalID: "operator-1", PasswordHash: string(hash), DisplayName: "Operator"}
	require.NoError(t, db.Create(&user).Error)

	sessions := session.NewManager(pool, "test-signing-key", "tbcp", nil)
	return NewAuthHandler(db, sessions, zap.NewNop()), user, plaintext
}

func TestAuthHandler_HandleLogin_Success(t *testing.T) {
	h, user, password := newTestAuthHandler(t)

	body := `{"external_id":"` + user.ExternalID + `","password":"` + password + `"}`
	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", stringsReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.HandleLogin(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]any)
	assert.NotEmpty(t, data["access_token"])
	assert.NotEmpty(t, data["refresh_token"])
}

func TestAuthHandler_HandleLogin_WrongPassword(t *testing.T) {
	h, user, _ := newTestAuthHandler(t)

	body := `{"external_id":"` + user.ExternalID + `","password":"wrong"}`
	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", stringsReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.HandleLogin(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandler_HandleLogin_UnknownExternalID(t *testing.T) {
	h, _, _ := newTestAuthHandler(t)

	body := `{"external_id":"nobody","password":"whatever"}`
	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", stringsReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.HandleLogin(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandler_HandleLogin_MissingFields(t *testing.T) {
	h, _, _ := newTestAuthHandler(t)

	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", stringsReader(`{"external_id":""}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.HandleLogin(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandler_HandleLogin_ExternalIDTooLong(t *testing.T) {
	h, _, _ := newTestAuthHandler(t)

	body := `{"external_id":"` + strings.Repeat("a", 501) + `","password":"whatever"}`
	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", stringsReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.HandleLogin(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "external_id", resp.Details)
}

func TestAuthHandler_HandleRefresh_RoundTrip(t *testing.T) {
	h, user, password := newTestAuthHandler(t)

	loginReq := httptest.NewRequest(http.MethodPost, "/api/auth/login", stringsReader(
		`{"external_id":"`+user.ExternalID+`","password":"`+password+`"}`))
	loginReq.Header.Set("Content-Type", "application/json")
	loginW := httptest.NewRecorder()
	h.HandleLogin(loginW, loginReq)
	require.Equal(t, http.StatusOK, loginW.Code)

	var loggedIn Response
	require.NoError(t, json.Unmarshal(loginW.Body.Bytes(), &loggedIn))
	refreshToken := loggedIn.Data.(map[string]any)["refresh_token"].(string)

	refreshReq := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", stringsReader(`{"refresh_token":"`+refreshToken+`"}`))
	refreshReq.Header.Set("Content-Type", "application/json")
	refreshW := httptest.NewRecorder()
	h.HandleRefresh(refreshW, refreshReq)
	require.Equal(t, http.StatusOK, refreshW.Code)

	var refreshed Response
	require.NoError(t, json.Unmarshal(refreshW.Body.Bytes(), &refreshed))
	assert.NotEmpty(t, refreshed.Data.(map[string]any)["access_token"])
}

func TestAuthHandler_HandleRefresh_RejectsGarbageToken(t *testing.T) {
	h, _, _ := newTestAuthHandler(t)

	r := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", stringsReader(`{"refresh_token":"garbage"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.HandleRefresh(w, r)
	assert.NotEqual(t, http.StatusOK, w.Code)
}

func TestAuthHandler_HandleLogout(t *testing.T) {
	h, user, password := newTestAuthHandler(t)

	loginReq := httptest.NewRequest(http.MethodPost, "/api/auth/login", stringsReader(
		`{"external_id":"`+user.ExternalID+`","password":"`+password+`"}`))
	loginReq.Header.Set("Content-Type", "application/json")
	loginW := httptest.NewRecorder()
	h.HandleLogin(loginW, loginReq)

	var loggedIn Response
	require.NoError(t, json.Unmarshal(loginW.Body.Bytes(), &loggedIn))
	refreshToken := loggedIn.Data.(map[string]any)["refresh_token"].(string)

	logoutReq := httptest.NewRequest(http.MethodPost, "/api/auth/logout", stringsReader(`{"refresh_token":"`+refreshToken+`"}`))
	logoutReq.Header.Set("Content-Type", "application/json")
	logoutW := httptest.NewRecorder()
	h.HandleLogout(logoutW, logoutReq)
	assert.Equal(t, http.StatusOK, logoutW.Code)

	refreshReq := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", stringsReader(`{"refresh_token":"`+refreshToken+`"}`))
	refreshReq.Header.Set("Content-Type", "application/json")
	refreshW := httptest.NewRecorder()
	h.HandleRefresh(refreshW, refreshReq)
	assert.NotEqual(t, http.StatusOK, refreshW.Code)
}
