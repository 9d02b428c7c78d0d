// Package session issues and validates administrator session credentials
// for the admin channel. The agent channel never uses session credentials;
// it authenticates with control tokens (see internal/token).
package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tbcp-io/tbcp/internal/store"
	"github.com/tbcp-io/tbcp/types"
)

const (
	accessTTL  = time.Hour
	refreshTTL = 7 * 24 * time.Hour

	kindAccess  = "access"
	kindRefresh = "refresh"
)

// Claims extends the registered JWT claim set with a Kind discriminator so
// an access token cannot be replayed where a refresh token is expected, and
// vice versa.
type Claims struct {
	jwt.RegisteredClaims
	Kind string `json:"kind"`
}

// Pair is an issued access/refresh credential pair.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Manager is the Session Auth component (C6): Login issues a pair, Refresh
// consumes and reissues one, Logout revokes a refresh credential, and
// ValidateAccess authenticates the admin channel.
type Manager struct {
	pool       *store.PoolManager
	signingKey []byte
	issuer     string
	logger     *zap.Logger
}

// NewManager builds a Manager. signingKey is the process-wide symmetric key
// every credential is signed and revocation-hashed with; it is read once at
// startup and never exposed.
func NewManager(pool *store.PoolManager, signingKey, issuer string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		pool:       pool,
		signingKey: []byte(signingKey),
		issuer:     issuer,
		logger:     logger.With(zap.String("component", "session_manager")),
	}
}

// Login issues a fresh access/refresh pair for userID and persists the
// refresh credential's revocation row.
func (m *Manager) Login(ctx context.Context, userID uuid.UUID) (Pair, error) {
	pair, session, err := m.issuePair(userID)
	if err != nil {
		return Pair{}, types.Integrity("failed to issue session credentials").WithCause(err)
	}

	if err := m.pool.DB().WithContext(ctx).Create(&session).Error; err != nil {
		return Pair{}, types.StorageUnavailable("failed to persist session").WithCause(err)
	}
	return pair, nil
}

// ValidateAccess checks signature, expiry, and issuer on an access token and
// returns the subject user id. Any failure — malformed token, bad
// signature, expired, wrong kind, wrong issuer — collapses to unauthorized;
// the caller never learns which check failed.
func (m *Manager) ValidateAccess(ctx context.Context, tokenString string) (uuid.UUID, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return uuid.Nil, types.Unauthorized("invalid session credential")
	}
	if claims.Kind != kindAccess {
		return uuid.Nil, types.Unauthorized("invalid session credential")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, types.Unauthorized("invalid session credential")
	}
	return userID, nil
}

// Refresh validates a refresh token's signature/expiry/issuer, confirms its
// backing session row is neither revoked nor itself storage-expired, then
// atomically revokes it and issues a fresh pair. A refresh token can be
// redeemed exactly once.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (Pair, error) {
	claims, err := m.parse(refreshToken)
	if err != nil || claims.Kind != kindRefresh {
		return Pair{}, types.Unauthorized("invalid session credential")
	}

	sessionID, err := uuid.Parse(claims.ID)
	if err != nil {
		return Pair{}, types.Unauthorized("invalid session credential")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Pair{}, types.Unauthorized("invalid session credential")
	}

	var newPair Pair
	err = m.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var row store.AdminSession
		if txErr := tx.Where("id = ?", sessionID).First(&row).Error; txErr != nil {
			return types.Unauthorized("invalid session credential")
		}
		if row.Revoked || time.Now().After(row.RefreshExpiresAt) {
			return types.Unauthorized("invalid session credential")
		}
		if row.RefreshTokenHash != lookupHash(refreshToken, m.signingKey) {
			return types.Unauthorized("invalid session credential")
		}

		row.Revoked = true
		if txErr := tx.Save(&row).Error; txErr != nil {
			return txErr
		}

		pair, session, issueErr := m.issuePair(userID)
		if issueErr != nil {
			return types.Integrity("failed to issue session credentials").WithCause(issueErr)
		}
		if txErr := tx.Create(&session).Error; txErr != nil {
			return txErr
		}
		newPair = pair
		return nil
	})
	if err != nil {
		if de, ok := types.As(err); ok {
			return Pair{}, de
		}
		return Pair{}, types.StorageUnavailable("failed to refresh session").WithCause(err)
	}
	return newPair, nil
}

// Logout revokes the session backing refreshToken. Revoking an
// already-revoked or unknown session is a no-op, not an error — logging out
// twice, or logging out after the session already expired, should never
// surface as a failure to the caller.
func (m *Manager) Logout(ctx context.Context, refreshToken string) error {
	claims, err := m.parse(refreshToken)
	if err != nil || claims.Kind != kindRefresh {
		return nil
	}
	sessionID, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil
	}

	err = m.pool.DB().WithContext(ctx).Model(&store.AdminSession{}).
		Where("id = ?", sessionID).Update("revoked", true).Error
	if err != nil {
		return types.StorageUnavailable("failed to revoke session").WithCause(err)
	}
	return nil
}

func (m *Manager) issuePair(userID uuid.UUID) (Pair, store.AdminSession, error) {
	now := time.Now()
	sessionID := uuid.New()

	accessExp := now.Add(accessTTL)
	refreshExp := now.Add(refreshTTL)

	access, err := m.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
		Kind: kindAccess,
	})
	if err != nil {
		return Pair{}, store.AdminSession{}, err
	}

	refresh, err := m.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID.String(),
			Subject:   userID.String(),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
		},
		Kind: kindRefresh,
	})
	if err != nil {
		return Pair{}, store.AdminSession{}, err
	}

	session := store.AdminSession{
		ID:               sessionID,
		UserID:           userID,
		RefreshTokenHash: lookupHash(refresh, m.signingKey),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		Revoked:          false,
		CreatedAt:        now,
	}

	return Pair{AccessToken: access, RefreshToken: refresh}, session, nil
}

func (m *Manager) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

func (m *Manager) parse(tokenString string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return m.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, err
	}
	return &claims, nil
}

// lookupHash is a deterministic HMAC-SHA256 over the full signed token
// string, keyed by the process signing key — the same two-purpose pattern
// internal/token uses to pair a hard-to-forge check with O(1) lookup,
// applied here so a presented refresh token can be matched to its session
// row without trusting the client-supplied jti alone.
func lookupHash(token string, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
