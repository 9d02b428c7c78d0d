// Package token mints, validates, rotates, and revokes control tokens: the
// visible secret an administrator or an agent runtime presents to the HTTP
// surface. See internal/provider for the hidden, upstream-facing secret.
package token

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbcp-io/tbcp/internal/audit"
	"github.com/tbcp-io/tbcp/internal/store"
	"github.com/tbcp-io/tbcp/types"
)

// bodyBytes is the raw entropy behind the 40-character body: 30 bytes
// base64url-encode to exactly 40 characters with no padding.
const (
	bodyBytes      = 30
	tokenBodyChars = 40
)

// Role discriminates which channel a validate call is being asked to honor;
// a token minted for the other role is rejected even on a hash match.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleAgent Role = "agent"
)

func prefixForRole(agentID *uuid.UUID) string {
	if agentID != nil {
		return store.AgentControlTokenPrefix
	}
	return store.AdminControlTokenPrefix
}

// Record is the metadata-only view of a control token row. The plaintext
// body never appears here; it is returned by Create and Rotate only, and
// only in that one response.
type Record struct {
	ID          uuid.UUID
	Prefix      string
	AgentID     *uuid.UUID
	UserID      *uuid.UUID
	ProjectID   *uuid.UUID
	Description string
	Active      bool
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}

func recordFromRow(row store.ControlToken) Record {
	return Record{
		ID:          row.ID,
		Prefix:      row.Prefix,
		AgentID:     row.AgentID,
		UserID:      row.UserID,
		ProjectID:   row.ProjectID,
		Description: row.Description,
		Active:      row.Active,
		ExpiresAt:   row.ExpiresAt,
		LastUsedAt:  row.LastUsedAt,
		CreatedAt:   row.CreatedAt,
	}
}

// Manager mints, validates, rotates, and revokes control tokens.
type Manager struct {
	pool       *store.PoolManager
	audit      *audit.Recorder
	bcryptCost int
	hmacKey    []byte
	logger     *zap.Logger
}

// NewManager builds a Manager. signingKey keys the deterministic lookup
// hash; it is the same process-wide signing key internal/session uses for
// JWTs, reused here rather than introducing a second secret to provision.
func NewManager(pool *store.PoolManager, recorder *audit.Recorder, bcryptCost int, signingKey string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		pool:       pool,
		audit:      recorder,
		bcryptCost: bcryptCost,
		hmacKey:    []byte(signingKey),
		logger:     logger.With(zap.String("component", "token_manager")),
	}
}

func (m *Manager) lookupHash(body string) string {
	mac := hmac.New(sha256.New, m.hmacKey)
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func generateBody() (string, error) {
	buf := make([]byte, bodyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func validateLabel(field, value string) *types.Error {
	if value == "" {
		return nil
	}
	if strings.ContainsRune(value, 0) {
		return types.Validation("field must not contain a zero byte").WithField(field)
	}
	if len(value) > 500 {
		return types.Validation("field must be between 1 and 500 characters").WithField(field)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique_violation")
}

// Create mints a new control token. agentID nil mints an administrator-bound
// token; non-nil mints an agent token, whose row must carry that FK per the
// schema's CHECK constraint. The returned plaintext is never recoverable
// again; the caller must surface it to the requester in this one response.
func (m *Manager) Create(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID, description string, agentID *uuid.UUID) (string, Record, error) {
	if verr := validateLabel("description", description); verr != nil {
		return "", Record{}, verr
	}

	const maxAttempts = 2
	var plaintext string
	var row store.ControlToken

	for attempt := 0; attempt < maxAttempts; attempt++ {
		body, err := generateBody()
		if err != nil {
			return "", Record{}, types.Integrity("failed to generate token body").WithCause(err)
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(body), m.bcryptCost)
		if err != nil {
			return "", Record{}, types.Integrity("failed to hash token body").WithCause(err)
		}

		candidate := store.ControlToken{
			ID:          uuid.New(),
			Prefix:      prefixForRole(agentID),
			BodyHash:    string(hash),
			LookupHash:  m.lookupHash(body),
			AgentID:     agentID,
			UserID:      &userID,
			ProjectID:   projectID,
			Description: description,
			Active:      true,
			CreatedAt:   time.Now(),
		}

		txErr := m.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
			if err := tx.Create(&candidate).Error; err != nil {
				return err
			}
			return m.audit.Record(ctx, tx, audit.Entry{
				EntityType:  "control_token",
				EntityID:    candidate.ID.String(),
				Action:      audit.ActionTokenCreated,
				ActorUserID: &userID,
				ChangeSet:   map[string]any{"prefix": candidate.Prefix, "agent_id": agentID},
			})
		})

		if txErr == nil {
			plaintext = candidate.Prefix + body
			row = candidate
			break
		}
		if isUniqueViolation(txErr) && attempt == 0 {
			m.logger.Warn("control token hash collision, retrying with a new body")
			continue
		}
		return "", Record{}, types.StorageUnavailable("failed to create control token").WithCause(txErr)
	}

	if plaintext == "" {
		return "", Record{}, types.Conflict("control token hash collided twice in a row")
	}

	return plaintext, recordFromRow(row), nil
}

// Validate extracts the role prefix, rejects a role mismatch, rehashes the
// body to find the candidate row in O(1), and compares constant-time
// against the stored bcrypt hash. It returns types.Unauthorized on every
// failure path alike — wrong token, revoked, expired, role mismatch — so the
// caller cannot distinguish "doesn't exist" from "exists but refused".
func (m *Manager) Validate(ctx context.Context, plaintext string, expected Role) (Record, error) {
	var prefix, body string
	switch {
	// Agent prefix checked first: it is a longer, more specific string than
	// the admin prefix ("tok"), so an admin token whose random body happens
	// to start with "_agent_" would otherwise misclassify here. Still
	// possible at negligible odds (a 7-character body match out of the
	// bcrypt-hashed keyspace) but RoleAdmin/RoleAgent and the bcrypt
	// comparison downstream both still have to agree before Validate
	// succeeds.
	case strings.HasPrefix(plaintext, store.AgentControlTokenPrefix):
		prefix = store.AgentControlTokenPrefix
		body = strings.TrimPrefix(plaintext, store.AgentControlTokenPrefix)
	case strings.HasPrefix(plaintext, store.AdminControlTokenPrefix):
		prefix = store.AdminControlTokenPrefix
		body = strings.TrimPrefix(plaintext, store.AdminControlTokenPrefix)
	default:
		return Record{}, types.Unauthorized("invalid token")
	}

	if (expected == RoleAgent) != (prefix == store.AgentControlTokenPrefix) {
		return Record{}, types.Unauthorized("invalid token")
	}
	if len(body) != tokenBodyChars {
		return Record{}, types.Unauthorized("invalid token")
	}

	var row store.ControlToken
	err := m.pool.DB().WithContext(ctx).
		Where("lookup_hash = ?", m.lookupHash(body)).
		First(&row).Error
	if err != nil {
		return Record{}, types.Unauthorized("invalid token")
	}

	if bcrypt.CompareHashAndPassword([]byte(row.BodyHash), []byte(body)) != nil {
		return Record{}, types.Unauthorized("invalid token")
	}
	if !row.Active {
		return Record{}, types.Unauthorized("invalid token")
	}
	if row.ExpiresAt != nil && row.ExpiresAt.Before(time.Now()) {
		return Record{}, types.Unauthorized("invalid token")
	}
	if row.IsAgentToken() && row.AgentID == nil {
		return Record{}, types.Unauthorized("invalid token")
	}

	now := time.Now()
	if err := m.pool.DB().WithContext(ctx).Model(&store.ControlToken{}).
		Where("id = ?", row.ID).Update("last_used_at", now).Error; err != nil {
		m.logger.Warn("failed to stamp control token last_used_at", zap.Error(err))
	}
	row.LastUsedAt = &now

	return recordFromRow(row), nil
}

// Rotate marks id's row inactive and mints a replacement with a fresh body,
// both inside one immediate transaction so no observer ever sees two active
// rows for the same agent. The old plaintext is gone forever; the new one
// is returned exactly once.
func (m *Manager) Rotate(ctx context.Context, id uuid.UUID) (string, Record, error) {
	var plaintext string
	var newRow store.ControlToken

	err := m.pool.WithImmediateTransaction(ctx, func(tx *gorm.DB) error {
		var old store.ControlToken
		if err := tx.Where("id = ?", id).First(&old).Error; err != nil {
			return types.NotFound("control token not found")
		}

		if err := tx.Model(&old).Update("active", false).Error; err != nil {
			return err
		}

		body, err := generateBody()
		if err != nil {
			return types.Integrity("failed to generate token body").WithCause(err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(body), m.bcryptCost)
		if err != nil {
			return types.Integrity("failed to hash token body").WithCause(err)
		}

		newRow = store.ControlToken{
			ID:          uuid.New(),
			Prefix:      old.Prefix,
			BodyHash:    string(hash),
			LookupHash:  m.lookupHash(body),
			AgentID:     old.AgentID,
			UserID:      old.UserID,
			ProjectID:   old.ProjectID,
			Description: old.Description,
			Active:      true,
			ExpiresAt:   old.ExpiresAt,
			CreatedAt:   time.Now(),
		}
		if err := tx.Create(&newRow).Error; err != nil {
			return err
		}
		plaintext = newRow.Prefix + body

		var actor *uuid.UUID
		if old.UserID != nil {
			actor = old.UserID
		}
		return m.audit.Record(ctx, tx, audit.Entry{
			EntityType:  "control_token",
			EntityID:    newRow.ID.String(),
			Action:      audit.ActionTokenRotated,
			ActorUserID: actor,
			ChangeSet:   map[string]any{"rotated_from": old.ID.String()},
		})
	})

	if err != nil {
		if de, ok := types.As(err); ok {
			return "", Record{}, de
		}
		return "", Record{}, types.StorageUnavailable("failed to rotate control token").WithCause(err)
	}

	return plaintext, recordFromRow(newRow), nil
}

// Revoke marks id's row inactive. Revoking an already-inactive row is a
// no-op that returns nil; revoking an id that never existed is not-found.
func (m *Manager) Revoke(ctx context.Context, id uuid.UUID) error {
	return m.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var row store.ControlToken
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			return types.NotFound("control token not found")
		}
		if !row.Active {
			return nil
		}
		if err := tx.Model(&row).Update("active", false).Error; err != nil {
			return err
		}
		return m.audit.Record(ctx, tx, audit.Entry{
			EntityType:  "control_token",
			EntityID:    row.ID.String(),
			Action:      audit.ActionTokenRevoked,
			ActorUserID: row.UserID,
		})
	})
}

// Get returns the metadata-only view of a single control token row.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	var row store.ControlToken
	if err := m.pool.DB().WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return Record{}, types.NotFound("control token not found")
	}
	return recordFromRow(row), nil
}

// List returns metadata-only rows owned by userID, newest first.
func (m *Manager) List(ctx context.Context, userID uuid.UUID) ([]Record, error) {
	var rows []store.ControlToken
	if err := m.pool.DB().WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, types.StorageUnavailable("failed to list control tokens").WithCause(err)
	}
	return toRecords(rows), nil
}

// ListAll returns every control token row, metadata-only. Authorization
// (administrator-only) is the HTTP surface's responsibility, not this
// package's.
func (m *Manager) ListAll(ctx context.Context) ([]Record, error) {
	var rows []store.ControlToken
	if err := m.pool.DB().WithContext(ctx).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, types.StorageUnavailable("failed to list control tokens").WithCause(err)
	}
	return toRecords(rows), nil
}

func toRecords(rows []store.ControlToken) []Record {
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = recordFromRow(row)
	}
	return out
}
