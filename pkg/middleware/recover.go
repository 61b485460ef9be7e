// pkg/middleware/recover.go
package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"tenantgate/pkg/logger"
	"tenantgate/pkg/problems"
)

func Recover(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.FromContext(r.Context(), log).Errorw("panic", "err", rec, "stack", string(debug.Stack()))
					problems.Write(w, http.StatusInternalServerError, "internal", "Internal error", "")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
