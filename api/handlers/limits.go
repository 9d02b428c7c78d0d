package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tbcp-io/tbcp/internal/limit"
)

// LimitHandler serves administrator-defined ceiling CRUD.
type LimitHandler struct {
	limits *limit.Enforcer
	logger *zap.Logger
}

// NewLimitHandler builds a LimitHandler.
func NewLimitHandler(limits *limit.Enforcer, logger *zap.Logger) *LimitHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LimitHandler{limits: limits, logger: logger.With(zap.String("component", "limit_handler"))}
}

type limitView struct {
	ID                   uuid.UUID  `json:"id"`
	UserID               uuid.UUID  `json:"user_id"`
	ProjectID            *uuid.UUID `json:"project_id,omitempty"`
	MaxTokensPerDay      *int64     `json:"max_tokens_per_day,omitempty"`
	MaxRequestsPerMinute *int64     `json:"max_requests_per_minute,omitempty"`
	MaxCostCentsPerMonth *int64     `json:"max_cost_cents_per_month,omitempty"`
	TokensToday          int64      `json:"tokens_today"`
	RequestsThisMinute   int64      `json:"requests_this_minute"`
	CostCentsThisMonth   int64      `json:"cost_cents_this_month"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func limitViewFrom(rec limit.Record) limitView {
	return limitView{
		ID:                   rec.ID,
		UserID:               rec.UserID,
		ProjectID:            rec.ProjectID,
		MaxTokensPerDay:      rec.MaxTokensPerDay,
		MaxRequestsPerMinute: rec.MaxRequestsPerMinute,
		MaxCostCentsPerMonth: rec.MaxCostCentsPerMonth,
		TokensToday:          rec.TokensToday,
		RequestsThisMinute:   rec.RequestsThisMinute,
		CostCentsThisMonth:   rec.CostCentsThisMonth,
		CreatedAt:            rec.CreatedAt,
		UpdatedAt:            rec.UpdatedAt,
	}
}

// ceilingPatch mirrors limit.Ceiling's three-state shape over the wire: the
// field absent from the JSON body leaves the ceiling untouched, present with
// null clears it, present with a number sets it. encoding/json cannot tell
// "absent" from "null" through a plain *int64, so callers send a pointer to
// a pointer.
type ceilingPatch struct {
	MaxTokensPerDay      **int64 `json:"max_tokens_per_day,omitempty"`
	MaxRequestsPerMinute **int64 `json:"max_requests_per_minute,omitempty"`
	MaxCostCentsPerMonth **int64 `json:"max_cost_cents_per_month,omitempty"`
}

func (p ceilingPatch) toCeilings() limit.Ceilings {
	return limit.Ceilings{
		MaxTokensPerDay:      toCeiling(p.MaxTokensPerDay),
		MaxRequestsPerMinute: toCeiling(p.MaxRequestsPerMinute),
		MaxCostCentsPerMonth: toCeiling(p.MaxCostCentsPerMonth),
	}
}

func toCeiling(v **int64) limit.Ceiling {
	if v == nil {
		return limit.Ceiling{}
	}
	if *v == nil {
		return limit.Clear()
	}
	return limit.Set(**v)
}

type createLimitRequest struct {
	UserID    uuid.UUID  `json:"user_id"`
	ProjectID *uuid.UUID `json:"project_id,omitempty"`
	ceilingPatch
}

// HandleCreate creates a new limit row.
func (h *LimitHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorUserID(w, r, h.logger)
	if !ok {
		return
	}

	var req createLimitRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	rec, err := h.limits.Create(r.Context(), req.UserID, req.ProjectID, req.ceilingPatch.toCeilings(), userID)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}

	WriteCreated(w, limitViewFrom(rec))
}

// HandleGet returns a single limit row.
func (h *LimitHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := ParsePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	rec, err := h.limits.Get(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, limitViewFrom(rec))
}

// HandleList returns every limit row.
func (h *LimitHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	recs, err := h.limits.List(r.Context())
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	views := make([]limitView, len(recs))
	for i, rec := range recs {
		views[i] = limitViewFrom(rec)
	}
	WriteSuccess(w, views)
}

// HandleUpdate applies a partial ceiling patch to an existing limit row.
func (h *LimitHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorUserID(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := ParsePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}

	var patch ceilingPatch
	if err := DecodeJSONBody(w, r, &patch, h.logger); err != nil {
		return
	}

	rec, err := h.limits.Update(r.Context(), id, patch.toCeilings(), actorID)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, limitViewFrom(rec))
}

// HandleDelete removes a limit row.
func (h *LimitHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actorUserID(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := ParsePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if err := h.limits.Delete(r.Context(), id, actorID); err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]bool{"deleted": true})
}
