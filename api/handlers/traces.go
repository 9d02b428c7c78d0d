package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/tbcp-io/tbcp/internal/usage"
)

// TraceHandler serves the read-only trace list and single-trace lookup.
type TraceHandler struct {
	usage  *usage.Recorder
	logger *zap.Logger
}

// NewTraceHandler builds a TraceHandler.
func NewTraceHandler(recorder *usage.Recorder, logger *zap.Logger) *TraceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TraceHandler{usage: recorder, logger: logger.With(zap.String("component", "trace_handler"))}
}

// HandleList returns traces matching the optional token_id/project_id/
// limit/offset query parameters, newest first.
func (h *TraceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := usage.TraceFilter{}

	if raw := q.Get("token_id"); raw != "" {
		id, present, ok := ParseQueryUUID(w, r, "token_id", raw, h.logger)
		if !ok {
			return
		}
		if present {
			filter.TokenID = &id
		}
	}
	if raw := q.Get("project_id"); raw != "" {
		id, present, ok := ParseQueryUUID(w, r, "project_id", raw, h.logger)
		if !ok {
			return
		}
		if present {
			filter.ProjectID = &id
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Offset = n
		}
	}

	traces, err := h.usage.Traces(r.Context(), filter)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, traces)
}

// HandleGet returns a single trace joined with its usage fact.
func (h *TraceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := ParsePathUUID(w, r, "id", h.logger)
	if !ok {
		return
	}
	trace, err := h.usage.Trace(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, trace)
}
