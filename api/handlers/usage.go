package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/tbcp-io/tbcp/internal/usage"
)

// UsageHandler serves the read-only usage aggregate views.
type UsageHandler struct {
	usage  *usage.Recorder
	logger *zap.Logger
}

// NewUsageHandler builds a UsageHandler.
func NewUsageHandler(recorder *usage.Recorder, logger *zap.Logger) *UsageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UsageHandler{usage: recorder, logger: logger.With(zap.String("component", "usage_handler"))}
}

// HandleAggregate returns totals across every usage record.
func (h *UsageHandler) HandleAggregate(w http.ResponseWriter, r *http.Request) {
	agg, err := h.usage.Aggregate(r.Context())
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, agg)
}

// HandleByProject returns totals scoped to a project.
func (h *UsageHandler) HandleByProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParsePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	agg, err := h.usage.ByProject(r.Context(), projectID)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, agg)
}

// HandleByProvider returns totals scoped to one provider name.
func (h *UsageHandler) HandleByProvider(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("id")
	if _, verr := ParseIdentifier("provider", provider); verr != nil {
		WriteError(w, verr, h.logger)
		return
	}
	agg, err := h.usage.ByProvider(r.Context(), provider)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, agg)
}
