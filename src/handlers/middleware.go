package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/mike2153/portfolio-tracker-sub000/src/logger"
	"github.com/mike2153/portfolio-tracker-sub000/src/utils"
)

type contextKey string

const (
	userIDContextKey    = contextKey("userID")
	requestIDContextKey = contextKey("requestID")
)

// RequestIDMiddleware tags every request with an id and a request-scoped
// logger carrying it, so component logs from one valuation correlate.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), requestIDContextKey, requestID)
		ctx = logger.WithContext(ctx, logger.L.With("requestID", requestID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDMiddleware resolves the caller's user id. Authentication itself is
// handled by the fronting layer; by the time requests reach this service
// the trusted X-User-ID header is present.
func UserIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userIDStr := r.Header.Get("X-User-ID")
		if userIDStr == "" {
			logger.FromContext(r.Context()).Debug("Missing X-User-ID header", "path", r.URL.Path)
			utils.SendJSONError(w, "X-User-ID header required", http.StatusUnauthorized)
			return
		}
		userID, err := strconv.ParseInt(userIDStr, 10, 64)
		if err != nil || userID <= 0 {
			utils.SendJSONError(w, "invalid X-User-ID header", http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), userIDContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserIDFromContext retrieves the authenticated user id set by
// UserIDMiddleware.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	return userID, ok
}
