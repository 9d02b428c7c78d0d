package main

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tbcp-io/tbcp/internal/ctxkeys"
	"github.com/tbcp-io/tbcp/internal/metrics"
	"github.com/tbcp-io/tbcp/internal/session"
	"github.com/tbcp-io/tbcp/internal/token"
	"github.com/tbcp-io/tbcp/types"
)

// Middleware is the shared HTTP middleware function signature.
type Middleware func(http.Handler) http.Handler

// Chain composes middlewares around h in the order given: the first
// middleware listed runs outermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Recovery turns a panic in a downstream handler into a 500 response
// instead of a crashed process.
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered", zap.Any("error", err), zap.String("path", r.URL.Path))
					http.Error(w, `{"error":"internal server error","code":"integrity"}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one structured line per request.
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Metrics records every request's method, path, status, duration, and body
// sizes on the collector, for the separate Prometheus listener to expose.
func Metrics(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)
			collector.RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start), r.ContentLength, rw.bytesWritten)
		})
	}
}

// CORS rejects cross-origin requests when allowedOrigins is empty rather
// than defaulting to allow-all.
func CORS(allowedOrigins []string) Middleware {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if len(originSet) == 0 {
				if origin != "" {
					if r.Method == http.MethodOptions {
						w.WriteHeader(http.StatusForbidden)
						return
					}
					next.ServeHTTP(w, r)
					return
				}
			} else if _, ok := originSet[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-IC-Key, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID stamps every request with an X-Request-ID, preserving one the
// caller already supplied, and propagates it via internal/ctxkeys.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = generateRequestID()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := ctxkeys.WithRequestID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SecurityHeaders adds common security response headers to every request.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("X-XSS-Protection", "1; mode=block")
			w.Header().Set("Content-Security-Policy", "default-src 'self'")
			next.ServeHTTP(w, r)
		})
	}
}

func generateRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "req-" + hex.EncodeToString(b)
}

func writeAuthError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `","code":"` + code + `"}`))
}

// AdminAuth validates the admin channel's Authorization: Bearer session
// credential and injects the authenticated administrator's id and channel
// into the request context. Every validation failure — missing header,
// malformed token, expired credential — collapses to the same 401.
func AdminAuth(sessions *session.Manager, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeAuthError(w, http.StatusUnauthorized, "missing or malformed Authorization header", string(types.KindUnauthorized))
				return
			}
			tokenStr := strings.TrimPrefix(header, "Bearer ")

			userID, err := sessions.ValidateAccess(r.Context(), tokenStr)
			if err != nil {
				logger.Debug("admin session validation failed", zap.Error(err))
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired session credential", string(types.KindUnauthorized))
				return
			}

			ctx := ctxkeys.WithActorUserID(r.Context(), userID.String())
			ctx = ctxkeys.WithChannel(ctx, ctxkeys.ChannelAdmin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AgentAuth validates the agent channel's X-IC-Key control token and
// injects the bound agent, project, and token row ids into the request
// context, alongside the agent channel marker.
func AgentAuth(tokens *token.Manager, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-IC-Key")
			if key == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing X-IC-Key header", string(types.KindUnauthorized))
				return
			}

			rec, err := tokens.Validate(r.Context(), key, token.RoleAgent)
			if err != nil {
				logger.Debug("agent control token validation failed", zap.Error(err))
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired control token", string(types.KindUnauthorized))
				return
			}

			ctx := r.Context()
			if rec.AgentID != nil {
				ctx = ctxkeys.WithActorAgentID(ctx, rec.AgentID.String())
			}
			if rec.ProjectID != nil {
				ctx = ctxkeys.WithActorProjectID(ctx, rec.ProjectID.String())
			}
			ctx = ctxkeys.WithControlTokenID(ctx, rec.ID.String())
			ctx = ctxkeys.WithChannel(ctx, ctxkeys.ChannelAgent)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
