package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tbcp-io/tbcp/internal/budget"
	"github.com/tbcp-io/tbcp/internal/ctxkeys"
	"github.com/tbcp-io/tbcp/internal/provider"
	"github.com/tbcp-io/tbcp/internal/ratelimit"
	"github.com/tbcp-io/tbcp/types"
)

// KeyHandler serves the agent channel's one endpoint: resolving the
// plaintext provider key bound to the caller's project, after confirming
// the calling agent holds a live budget lease.
type KeyHandler struct {
	vault   *provider.Vault
	budget  *budget.Engine
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewKeyHandler builds a KeyHandler.
func NewKeyHandler(vault *provider.Vault, budgetEngine *budget.Engine, limiter *ratelimit.Limiter, logger *zap.Logger) *KeyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyHandler{vault: vault, budget: budgetEngine, limiter: limiter, logger: logger.With(zap.String("component", "key_handler"))}
}

type keyResponse struct {
	Key     string `json:"key"`
	BaseURL string `json:"base_url,omitempty"`
}

// HandleGet resolves the plaintext provider key bound to the calling
// agent's project for the ?provider= query parameter, rate-limited per
// control token.
func (h *KeyHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := ctxkeys.ControlTokenID(r.Context())
	if !ok {
		WriteError(w, types.Unauthorized("no authenticated agent on this request"), h.logger)
		return
	}
	if err := h.limiter.CheckAndRefuse(r.Context(), tokenID); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	projectRaw, ok := ctxkeys.ActorProjectID(r.Context())
	if !ok {
		WriteError(w, types.Forbidden("control token is not bound to a project"), h.logger)
		return
	}
	projectID, err := uuid.Parse(projectRaw)
	if err != nil {
		WriteError(w, types.Forbidden("control token is not bound to a project"), h.logger)
		return
	}

	agentRaw, ok := ctxkeys.ActorAgentID(r.Context())
	if !ok {
		WriteError(w, types.Forbidden("control token is not bound to an agent"), h.logger)
		return
	}
	agentID, err := uuid.Parse(agentRaw)
	if err != nil {
		WriteError(w, types.Forbidden("control token is not bound to an agent"), h.logger)
		return
	}
	if _, err := h.budget.ActiveLease(r.Context(), agentID); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	providerName := r.URL.Query().Get("provider")
	if _, verr := ParseIdentifier("provider", providerName); verr != nil {
		WriteError(w, verr, h.logger)
		return
	}

	resolved, err := h.vault.Resolve(r.Context(), projectID, providerName)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteSuccess(w, keyResponse{Key: resolved.Key, BaseURL: resolved.BaseURL})
}
