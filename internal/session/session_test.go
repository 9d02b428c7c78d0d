//go:build cgo

package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tbcp-io/tbcp/internal/store"
	"github.com/tbcp-io/tbcp/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&store.AdminSession{}))

	pool, err := store.NewPoolManager(db, nil, store.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)

	return NewManager(pool, "test-signing-key", "tbcp", nil)
}

func TestManager_Login_IssuesValidAccessToken(t *testing.T) {
	m := newTestManager(t)
	userID := uuid.New()

	pair, err := m.Login(context.Background(), userID)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	got, err := m.ValidateAccess(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestManager_ValidateAccess_RejectsRefreshToken(t *testing.T) {
	m := newTestManager(t)
	pair, err := m.Login(context.Background(), uuid.New())
	require.NoError(t, err)

	_, err = m.ValidateAccess(context.Background(), pair.RefreshToken)
	require.Error(t, err)
	assert.True(t, types.Is(err, types.KindUnauthorized))
}

func TestManager_ValidateAccess_Garbage(t *testing.T) {
	m := newTestManager(t)
	_, err := m.ValidateAccess(context.Background(), "not-a-jwt")
	require.Error(t, err)
	assert.True(t, types.Is(err, types.KindUnauthorized))
}

func TestManager_ValidateAccess_WrongSigningKey(t *testing.T) {
	m := newTestManager(t)
	pair, err := m.Login(context.Background(), uuid.New())
	require.NoError(t, err)

	other := NewManager(m.pool, "a-different-key", "tbcp", nil)
	_, err = other.ValidateAccess(context.Background(), pair.AccessToken)
	require.Error(t, err)
	assert.True(t, types.Is(err, types.KindUnauthorized))
}

func TestManager_ValidateAccess_Expired(t *testing.T) {
	m := newTestManager(t)
	userID := uuid.New()

	expired, err := m.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Kind: kindAccess,
	})
	require.NoError(t, err)

	_, err = m.ValidateAccess(context.Background(), expired)
	require.Error(t, err)
	assert.True(t, types.Is(err, types.KindUnauthorized))
}

func TestManager_Refresh_RotatesCredentialsAndConsumesOldRefresh(t *testing.T) {
	m := newTestManager(t)
	userID := uuid.New()

	pair, err := m.Login(context.Background(), userID)
	require.NoError(t, err)

	newPair, err := m.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, newPair.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, newPair.RefreshToken)

	got, err := m.ValidateAccess(context.Background(), newPair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	_, err = m.Refresh(context.Background(), pair.RefreshToken)
	require.Error(t, err, "a redeemed refresh token must not be usable twice")
	assert.True(t, types.Is(err, types.KindUnauthorized))
}

func TestManager_Refresh_RejectsAccessToken(t *testing.T) {
	m := newTestManager(t)
	pair, err := m.Login(context.Background(), uuid.New())
	require.NoError(t, err)

	_, err = m.Refresh(context.Background(), pair.AccessToken)
	require.Error(t, err)
	assert.True(t, types.Is(err, types.KindUnauthorized))
}

func TestManager_Logout_RevokesRefreshToken(t *testing.T) {
	m := newTestManager(t)
	pair, err := m.Login(context.Background(), uuid.New())
	require.NoError(t, err)

	require.NoError(t, m.Logout(context.Background(), pair.RefreshToken))

	_, err = m.Refresh(context.Background(), pair.RefreshToken)
	require.Error(t, err)
	assert.True(t, types.Is(err, types.KindUnauthorized))
}

func TestManager_Logout_IsIdempotent(t *testing.T) {
	m := newTestManager(t)
	pair, err := m.Login(context.Background(), uuid.New())
	require.NoError(t, err)

	require.NoError(t, m.Logout(context.Background(), pair.RefreshToken))
	require.NoError(t, m.Logout(context.Background(), pair.RefreshToken), "logging out twice must not error")
}

func TestManager_Logout_UnknownTokenIsNoop(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Logout(context.Background(), "garbage"))
}
