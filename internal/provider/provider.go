// Package provider implements the hidden Provider Token vault: the
// upstream API key a project holds for a given LLM provider, encrypted at
// rest and readable in plaintext only by the agent-channel key-fetch path.
package provider

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tbcp-io/tbcp/internal/audit"
	"github.com/tbcp-io/tbcp/internal/store"
	"github.com/tbcp-io/tbcp/types"
)

// Record is the admin-facing view of a provider token: the key is masked,
// never the plaintext or the raw ciphertext.
type Record struct {
	ID         uuid.UUID
	ProjectID  uuid.UUID
	Provider   string
	Label      string
	MaskedKey  string
	BaseURL    string
	Enabled    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Resolved is what the agent-channel key-fetch path gets: the plaintext key
// and any base URL override. Never logged, never returned from an admin
// endpoint.
type Resolved struct {
	Key     string
	BaseURL string
}

// Patch is a partial update; a nil field leaves the corresponding column
// unchanged.
type Patch struct {
	Key     *string
	Label   *string
	BaseURL *string
	Enabled *bool
}

// Vault is the Provider Token Vault (C7a). encryptionKey is hashed with
// SHA-256 to a 32-byte AES-256 key once at construction, matching the
// derive-then-seal idiom observed in the pack's OIDC client-secret
// encryption path — never stored, never logged.
type Vault struct {
	pool   *store.PoolManager
	audit  *audit.Recorder
	key    [32]byte
	logger *zap.Logger
}

// NewVault builds a Vault. encryptionKey is the process-wide master key
// read once at startup (spec §5: "read-only after startup, never exposed").
func NewVault(pool *store.PoolManager, recorder *audit.Recorder, encryptionKey string, logger *zap.Logger) *Vault {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{
		pool:   pool,
		audit:  recorder,
		key:    sha256.Sum256([]byte(encryptionKey)),
		logger: logger.With(zap.String("component", "provider_vault")),
	}
}

// Create seals plaintextKey at rest and inserts a new provider token row.
func (v *Vault) Create(ctx context.Context, projectID uuid.UUID, providerName, label, plaintextKey, baseURL string, actorUserID uuid.UUID) (Record, error) {
	if plaintextKey == "" {
		return Record{}, types.Validation("provider key must not be empty")
	}

	ciphertext, nonce, err := v.seal(plaintextKey)
	if err != nil {
		return Record{}, types.Integrity("failed to seal provider key").WithCause(err)
	}

	row := store.ProviderToken{
		ID:         uuid.New(),
		ProjectID:  projectID,
		Provider:   providerName,
		Label:      label,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		BaseURL:    baseURL,
		Enabled:    true,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	err = v.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if txErr := tx.Create(&row).Error; txErr != nil {
			return txErr
		}
		return v.audit.Record(ctx, tx, audit.Entry{
			EntityType:  "provider_token",
			EntityID:    row.ID.String(),
			Action:      "provider_token.created",
			ActorUserID: &actorUserID,
			ChangeSet:   map[string]any{"provider": providerName, "project_id": projectID},
		})
	})
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, types.Conflict("a provider token already exists for this project/provider")
		}
		return Record{}, types.StorageUnavailable("failed to create provider token").WithCause(err)
	}

	return v.recordFromRow(row), nil
}

// Get reads one provider token row, masked.
func (v *Vault) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	row, err := v.load(ctx, id)
	if err != nil {
		return Record{}, err
	}
	return v.recordFromRow(row), nil
}

// List returns every provider token row for projectID, masked.
func (v *Vault) List(ctx context.Context, projectID uuid.UUID) ([]Record, error) {
	var rows []store.ProviderToken
	if err := v.pool.DB().WithContext(ctx).Where("project_id = ?", projectID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, types.StorageUnavailable("failed to list provider tokens").WithCause(err)
	}
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = v.recordFromRow(row)
	}
	return out, nil
}

// ListAll returns every provider token row across all projects, masked —
// the admin channel's global inventory view.
func (v *Vault) ListAll(ctx context.Context) ([]Record, error) {
	var rows []store.ProviderToken
	if err := v.pool.DB().WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, types.StorageUnavailable("failed to list provider tokens").WithCause(err)
	}
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = v.recordFromRow(row)
	}
	return out, nil
}

// Update applies a partial patch, re-sealing the key only if Patch.Key is
// set.
func (v *Vault) Update(ctx context.Context, id uuid.UUID, patch Patch, actorUserID uuid.UUID) (Record, error) {
	var updated store.ProviderToken

	err := v.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var row store.ProviderToken
		if txErr := tx.Where("id = ?", id).First(&row).Error; txErr != nil {
			return types.NotFound("provider token not found")
		}

		if patch.Key != nil {
			ciphertext, nonce, sealErr := v.seal(*patch.Key)
			if sealErr != nil {
				return types.Integrity("failed to seal provider key").WithCause(sealErr)
			}
			row.Ciphertext = ciphertext
			row.Nonce = nonce
		}
		if patch.Label != nil {
			row.Label = *patch.Label
		}
		if patch.BaseURL != nil {
			row.BaseURL = *patch.BaseURL
		}
		if patch.Enabled != nil {
			row.Enabled = *patch.Enabled
		}
		row.UpdatedAt = time.Now()

		if txErr := tx.Save(&row).Error; txErr != nil {
			return txErr
		}
		updated = row

		return v.audit.Record(ctx, tx, audit.Entry{
			EntityType:  "provider_token",
			EntityID:    row.ID.String(),
			Action:      "provider_token.updated",
			ActorUserID: &actorUserID,
		})
	})
	if err != nil {
		if de, ok := types.As(err); ok {
			return Record{}, de
		}
		return Record{}, types.StorageUnavailable("failed to update provider token").WithCause(err)
	}

	return v.recordFromRow(updated), nil
}

// Delete removes a provider token row.
func (v *Vault) Delete(ctx context.Context, id uuid.UUID, actorUserID uuid.UUID) error {
	return v.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		var row store.ProviderToken
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			return types.NotFound("provider token not found")
		}
		if err := tx.Delete(&row).Error; err != nil {
			return err
		}
		return v.audit.Record(ctx, tx, audit.Entry{
			EntityType:  "provider_token",
			EntityID:    row.ID.String(),
			Action:      "provider_token.deleted",
			ActorUserID: &actorUserID,
		})
	})
}

// Resolve is the agent-channel key-fetch path: the only path that ever
// returns a plaintext provider key. Refuses a disabled provider token
// rather than silently handing back a key the administrator turned off.
func (v *Vault) Resolve(ctx context.Context, projectID uuid.UUID, providerName string) (Resolved, error) {
	var row store.ProviderToken
	err := v.pool.DB().WithContext(ctx).
		Where("project_id = ? AND provider = ?", projectID, providerName).First(&row).Error
	if err != nil {
		return Resolved{}, types.NotFound("no provider token bound for this project/provider")
	}
	if !row.Enabled {
		return Resolved{}, types.Forbidden("provider token is disabled")
	}

	plaintext, err := v.open(row.Ciphertext, row.Nonce)
	if err != nil {
		return Resolved{}, types.Integrity("failed to open provider key").WithCause(err)
	}

	return Resolved{Key: plaintext, BaseURL: row.BaseURL}, nil
}

func (v *Vault) load(ctx context.Context, id uuid.UUID) (store.ProviderToken, error) {
	var row store.ProviderToken
	if err := v.pool.DB().WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return store.ProviderToken{}, types.NotFound("provider token not found")
	}
	return row, nil
}

func (v *Vault) recordFromRow(row store.ProviderToken) Record {
	plaintext, err := v.open(row.Ciphertext, row.Nonce)
	masked := "****"
	if err == nil {
		masked = mask(plaintext)
	}
	return Record{
		ID:        row.ID,
		ProjectID: row.ProjectID,
		Provider:  row.Provider,
		Label:     row.Label,
		MaskedKey: masked,
		BaseURL:   row.BaseURL,
		Enabled:   row.Enabled,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

func (v *Vault) seal(plaintext string) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}
	ciphertext = gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return ciphertext, nonce, nil
}

func (v *Vault) open(ciphertext, nonce []byte) (string, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// mask reveals the first and last two characters and hides the rest,
// matching the admin surface's "leading and trailing characters only"
// contract. Short keys are masked entirely rather than revealed in full.
func mask(plaintext string) string {
	if len(plaintext) <= 6 {
		return strings.Repeat("*", len(plaintext))
	}
	return plaintext[:2] + strings.Repeat("*", len(plaintext)-4) + plaintext[len(plaintext)-2:]
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
