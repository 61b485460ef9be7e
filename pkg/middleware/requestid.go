// pkg/middleware/requestid.go
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tenantgate/pkg/logger"
)

type ctxKey string

const CtxKeyRequestID ctxKey = "reqid"

// RequestID assigns a request id and stores a logger tagged with it in the
// request context.
func RequestID(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", id)
			ctx := context.WithValue(r.Context(), CtxKeyRequestID, id)
			ctx = logger.Into(ctx, log.With("request_id", id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequestIDFrom(ctx context.Context) string {
	s, _ := ctx.Value(CtxKeyRequestID).(string)
	return s
}
