package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tbcp-io/tbcp/internal/provider"
)

// ProviderHandler serves provider token CRUD and the per-project binding
// view.
type ProviderHandler struct {
	vault  *provider.Vault
	logger *zap.Logger
}

// NewProviderHandler builds a ProviderHandler.
func NewProviderHandler(vault *provider.Vault, logger *zap.Logger) *ProviderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProviderHandler{vault: vault, logger: logger.With(zap.String("component", "provider_handler"))}
}

type providerView struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	Provider  string    `json:"provider"`
	Label     string    `json:"label"`
	MaskedKey string    `json:"masked_key"`
	BaseURL   string    `json:"base_url,omitempty"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func providerViewFrom(rec provider.Record) providerView {
	return providerView{
		ID:        rec.ID,
		ProjectID: rec.ProjectID,
		Provider:  rec.Provider,
		Label:     rec.Label,
		MaskedKey: rec.MaskedKey,
		BaseURL:   rec.BaseURL,
		Enabled:   rec.Enabled,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

type createProviderRequest struct {
	ProjectID uuid.UUID `json:"project_id"`
	Provider  string    `json:"provider"`
	Label     string    `json:"label"`
	Key       string    `json:"key"`
	BaseURL   string    `json:"base_url,omitempty"`
}

// HandleCreate seals a new provider token for a project.
func (h *ProviderHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorUserID(w, r, h.logger)
	if !ok {
		return
	}

	var req createProviderRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	rec, err := h.vault.Create(r.Context(), req.ProjectID, req.Provider, req.Label, req.Key, req.BaseURL, actorID)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteCreated(w, providerViewFrom(rec))
}

// HandleGet returns one masked provider token row.
func (h *ProviderHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := ParsePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	rec, err := h.vault.Get(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, providerViewFrom(rec))
}

type updateProviderRequest struct {
	Key     *string `json:"key,omitempty"`
	Label   *string `json:"label,omitempty"`
	BaseURL *string `json:"base_url,omitempty"`
	Enabled *bool   `json:"enabled,omitempty"`
}

// HandleUpdate applies a partial patch to a provider token row, re-sealing
// the key when one is supplied.
func (h *ProviderHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorUserID(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := ParsePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	var req updateProviderRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	rec, err := h.vault.Update(r.Context(), id, provider.Patch{
		Key:     req.Key,
		Label:   req.Label,
		BaseURL: req.BaseURL,
		Enabled: req.Enabled,
	}, actorID)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, providerViewFrom(rec))
}

// HandleDelete removes a provider token row.
func (h *ProviderHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorUserID(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := ParsePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if err := h.vault.Delete(r.Context(), id, actorID); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]bool{"deleted": true})
}

// HandleList returns every provider token row across all projects — the
// admin channel's global inventory view.
func (h *ProviderHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	recs, err := h.vault.ListAll(r.Context())
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	views := make([]providerView, len(recs))
	for i, rec := range recs {
		views[i] = providerViewFrom(rec)
	}
	WriteSuccess(w, views)
}

// HandleListForProject returns every provider token bound to a project —
// the read side of the /api/projects/{id}/provider binding surface.
func (h *ProviderHandler) HandleListForProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParsePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	recs, err := h.vault.List(r.Context(), projectID)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	views := make([]providerView, len(recs))
	for i, rec := range recs {
		views[i] = providerViewFrom(rec)
	}
	WriteSuccess(w, views)
}
