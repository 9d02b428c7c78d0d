package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tbcp-io/tbcp/internal/ctxkeys"
	"github.com/tbcp-io/tbcp/internal/token"
	"github.com/tbcp-io/tbcp/types"
)

// TokenHandler serves control token CRUD and the unauthenticated validity
// check.
type TokenHandler struct {
	tokens *token.Manager
	logger *zap.Logger
}

// NewTokenHandler builds a TokenHandler.
func NewTokenHandler(tokens *token.Manager, logger *zap.Logger) *TokenHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenHandler{tokens: tokens, logger: logger.With(zap.String("component", "token_handler"))}
}

type tokenView struct {
	ID          uuid.UUID  `json:"id"`
	Prefix      string     `json:"prefix"`
	AgentID     *uuid.UUID `json:"agent_id,omitempty"`
	ProjectID   *uuid.UUID `json:"project_id,omitempty"`
	Description string     `json:"description"`
	Active      bool       `json:"active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func tokenViewFrom(rec token.Record) tokenView {
	return tokenView{
		ID:          rec.ID,
		Prefix:      rec.Prefix,
		AgentID:     rec.AgentID,
		ProjectID:   rec.ProjectID,
		Description: rec.Description,
		Active:      rec.Active,
		ExpiresAt:   rec.ExpiresAt,
		LastUsedAt:  rec.LastUsedAt,
		CreatedAt:   rec.CreatedAt,
	}
}

type createTokenRequest struct {
	Description string     `json:"description"`
	ProjectID   *uuid.UUID `json:"project_id,omitempty"`
	AgentID     *uuid.UUID `json:"agent_id,omitempty"`
}

type createTokenResponse struct {
	Token string    `json:"token"`
	tokenView
}

func actorUserID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	raw, ok := ctxkeys.ActorUserID(r.Context())
	if !ok {
		WriteError(w, types.Unauthorized("no authenticated administrator on this request"), logger)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		WriteError(w, types.Unauthorized("invalid administrator identity"), logger)
		return uuid.Nil, false
	}
	return id, true
}

// HandleCreate mints a new control token, admin- or agent-bound depending on
// whether the request names an agent id.
func (h *TokenHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorUserID(w, r, h.logger)
	if !ok {
		return
	}

	var req createTokenRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	plaintext, rec, err := h.tokens.Create(r.Context(), userID, req.ProjectID, req.Description, req.AgentID)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteCreated(w, createTokenResponse{Token: plaintext, tokenView: tokenViewFrom(rec)})
}

// HandleGet returns metadata for a single control token.
func (h *TokenHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := ParsePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	rec, err := h.tokens.Get(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, tokenViewFrom(rec))
}

// HandleList returns the caller's own control tokens, or every token when
// the request is scoped "all" via query parameter — authorization for that
// scope is enforced upstream by the admin-channel middleware, which only
// ever injects an administrator identity.
func (h *TokenHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorUserID(w, r, h.logger)
	if !ok {
		return
	}

	var recs []token.Record
	var err error
	if r.URL.Query().Get("scope") == "all" {
		recs, err = h.tokens.ListAll(r.Context())
	} else {
		recs, err = h.tokens.List(r.Context(), userID)
	}
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	views := make([]tokenView, len(recs))
	for i, rec := range recs {
		views[i] = tokenViewFrom(rec)
	}
	WriteSuccess(w, views)
}

// HandleRotate invalidates the current token body and mints a replacement.
func (h *TokenHandler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	id, ok := ParsePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	plaintext, rec, err := h.tokens.Rotate(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteSuccess(w, createTokenResponse{Token: plaintext, tokenView: tokenViewFrom(rec)})
}

// HandleRevoke deactivates a control token.
func (h *TokenHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	id, ok := ParsePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if err := h.tokens.Revoke(r.Context(), id); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]bool{"revoked": true})
}

type validateRequest struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

// HandleValidate is the one unauthenticated token endpoint: it reports
// whether a presented token is currently valid for the named role, without
// requiring the caller to already hold a session or another control token.
func (h *TokenHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	role := token.RoleAgent
	if req.Role == string(token.RoleAdmin) {
		role = token.RoleAdmin
	}

	rec, err := h.tokens.Validate(r.Context(), req.Token, role)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, tokenViewFrom(rec))
}
