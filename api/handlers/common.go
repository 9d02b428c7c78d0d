package handlers

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tbcp-io/tbcp/api"
	"github.com/tbcp-io/tbcp/types"
)

// Response is a type alias for api.Response, the canonical success envelope.
type Response = api.Response

// ErrorInfo is a type alias for api.ErrorInfo, the canonical error envelope.
type ErrorInfo = api.ErrorInfo

// =============================================================================
// Response helpers
// =============================================================================

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	// Headers are already sent; an encode failure here has nowhere left to go.
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess wraps data in the success envelope and writes it with 200.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

// WriteCreated is WriteSuccess with a 201 status, for resource-creation
// endpoints.
func WriteCreated(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

// mapKindToHTTPStatus is the HTTP surface's one place where a domain error
// kind becomes a status code. Every non-2xx response is produced through
// this mapping; no handler picks a status code independently.
func mapKindToHTTPStatus(kind types.Kind) int {
	switch kind {
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindUnauthorized:
		return http.StatusUnauthorized
	case types.KindForbidden:
		return http.StatusForbidden
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindConflict:
		return http.StatusConflict
	case types.KindBudgetExceeded:
		return http.StatusPaymentRequired
	case types.KindRateLimited:
		return http.StatusTooManyRequests
	case types.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case types.KindUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case types.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case types.KindIntegrity:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes the envelope for a domain error. An integrity violation
// is logged with its full cause but never reaches the caller verbatim — the
// public message is generic, since an integrity error means an invariant
// the HTTP surface assumed was already enforced somewhere upstream.
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := mapKindToHTTPStatus(err.Kind)

	public := err.Message
	if err.Kind == types.KindIntegrity {
		public = "an internal invariant was violated"
	}

	if logger != nil {
		logger.Error("request failed",
			zap.String("kind", string(err.Kind)),
			zap.String("message", err.Message),
			zap.String("field", err.Field),
			zap.Int("status", status),
			zap.Error(err.Cause),
		)
	}

	WriteJSON(w, status, ErrorInfo{
		Error:   public,
		Code:    string(err.Kind),
		Details: err.Field,
	})
}

// WriteErrorMessage builds a types.Error of the given kind and writes it.
func WriteErrorMessage(w http.ResponseWriter, kind types.Kind, message string, logger *zap.Logger) {
	WriteError(w, types.New(kind, message), logger)
}

// WriteDomainError writes err as a domain error if it carries a *types.Error
// in its chain, otherwise treats it as an unclassified infrastructure
// failure surfaced as storage-unavailable. Handlers call this on every
// error a domain package returns rather than inspecting the error
// themselves — the domain package already chose the right kind.
func WriteDomainError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if de, ok := types.As(err); ok {
		WriteError(w, de, logger)
		return
	}
	WriteError(w, types.StorageUnavailable("unexpected error").WithCause(err), logger)
}

// =============================================================================
// Request validation helpers
// =============================================================================

// DecodeJSONBody validates Content-Type, decodes r's body into dst, and caps
// the body at 1 MiB. A wrong Content-Type writes 415, a body over the cap
// writes 413, and malformed or unknown-field JSON writes 400; every case
// returns its error so the caller can just return on failure.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if !ValidateContentType(w, r, logger) {
		return types.UnsupportedMedia("Content-Type must be application/json")
	}

	if r.Body == nil {
		err := types.Validation("request body is empty")
		WriteError(w, err, logger)
		return err
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			apiErr := types.PayloadTooLarge("request body exceeds the 1 MiB limit").WithCause(err)
			WriteError(w, apiErr, logger)
			return apiErr
		}
		apiErr := types.Validation("invalid JSON body").WithCause(err)
		WriteError(w, apiErr, logger)
		return apiErr
	}

	return nil
}

// ValidateContentType requires Content-Type: application/json, tolerating
// charset and other parameters via mime.ParseMediaType. Writes 415 on
// mismatch.
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		WriteError(w, types.UnsupportedMedia("Content-Type must be application/json"), logger)
		return false
	}
	return true
}

// ValidateURL reports whether s is a well-formed HTTP or HTTPS URL.
func ValidateURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ValidateEnum reports whether value is one of the allowed values.
func ValidateEnum(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// ValidateNonNegative reports whether value is >= 0.
func ValidateNonNegative(value float64) bool {
	return value >= 0
}

// ParseIdentifier validates field against the boundary rule every identifier
// carries: 1-500 characters, no zero byte. It is the HTTP-layer counterpart
// of the per-field checks the domain packages run on their own inputs.
func ParseIdentifier(field, value string) (string, *types.Error) {
	if value == "" || utf8.RuneCountInString(value) > 500 || strings.ContainsRune(value, 0) {
		return "", types.Validation("must be between 1 and 500 characters and contain no zero byte").WithField(field)
	}
	return value, nil
}

// ParsePathUUID extracts and parses the path parameter name as a UUID,
// writing a validation error and returning ok=false on failure.
func ParsePathUUID(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (uuid.UUID, bool) {
	raw := r.PathValue(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		WriteError(w, types.Validation("must be a valid identifier").WithField(name), logger)
		return uuid.Nil, false
	}
	return id, true
}

// ParseOptionalPathUUID parses name as a UUID if present, returning
// (uuid.Nil, true, false) when the parameter is absent.
func ParseOptionalPathUUID(w http.ResponseWriter, r *http.Request, name string, logger *zap.Logger) (id uuid.UUID, present bool, ok bool) {
	raw := r.PathValue(name)
	if raw == "" {
		return uuid.Nil, false, true
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		WriteError(w, types.Validation("must be a valid identifier").WithField(name), logger)
		return uuid.Nil, true, false
	}
	return parsed, true, true
}

// ParseQueryUUID parses the named query parameter as a UUID if present,
// writing a validation error and returning ok=false on a malformed value.
func ParseQueryUUID(w http.ResponseWriter, r *http.Request, name, raw string, logger *zap.Logger) (id uuid.UUID, present bool, ok bool) {
	if raw == "" {
		return uuid.Nil, false, true
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		WriteError(w, types.Validation("must be a valid identifier").WithField(name), logger)
		return uuid.Nil, true, false
	}
	return parsed, true, true
}

// =============================================================================
// Response writer wrapper
// =============================================================================

// ResponseWriter wraps http.ResponseWriter to capture the status code
// written, for middleware that needs to observe it after the fact.
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter wraps w.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader records the status code once, then delegates.
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write delegates, defaulting the status to 200 if nothing wrote a header yet.
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
