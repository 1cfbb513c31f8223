// backend/src/handlers/middleware.go
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/utils"
)

type contextKey string

const (
	requestIDContextKey contextKey = "requestID"
	userIDContextKey    contextKey = "userID"
)

// GetUserIDFromContext returns the owner identity established by
// UserContextMiddleware.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	return userID, ok
}

// ContextualLoggerMiddleware attaches a request-scoped logger carrying a
// generated request id, so every log line of one request can be correlated.
func ContextualLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		ctxLogger := logger.L.With(slog.String("requestID", requestID))

		ctx := logger.ToContext(r.Context(), ctxLogger)
		ctx = context.WithValue(ctx, requestIDContextKey, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserContextMiddleware establishes the owner identity for the request.
// Authentication itself happens at the gateway in front of this service; it
// forwards the verified account id in the X-User-ID header. A request
// without it is rejected, never defaulted.
func UserContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxLogger := logger.FromContext(r.Context())

		userIDStr := r.Header.Get("X-User-ID")
		if userIDStr == "" {
			ctxLogger.Debug("UserContextMiddleware: X-User-ID header missing", "path", r.URL.Path)
			utils.SendJSONError(w, "X-User-ID header required", http.StatusUnauthorized)
			return
		}
		userID, err := strconv.ParseInt(userIDStr, 10, 64)
		if err != nil || userID <= 0 {
			ctxLogger.Warn("UserContextMiddleware: invalid X-User-ID header", "value", userIDStr, "path", r.URL.Path)
			utils.SendJSONError(w, "Invalid X-User-ID header", http.StatusBadRequest)
			return
		}

		enrichedLogger := ctxLogger.With(slog.Int64("userID", userID))
		ctx := logger.ToContext(r.Context(), enrichedLogger)
		ctx = context.WithValue(ctx, userIDContextKey, userID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
