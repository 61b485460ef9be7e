// pkg/middleware/auth.go
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"tenantgate/pkg/auth"
	"tenantgate/pkg/config"
	"tenantgate/pkg/identity"
	"tenantgate/pkg/problems"
)

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(ctx context.Context, c auth.Credentials) (identity.Identity, error)
}

// Identity authenticates every request except health and metrics, and runs
// the rest of the chain with the resolved identity in its context. The dev
// subject header is read only in the development environment.
func Identity(cfg config.Config, a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			creds := auth.Credentials{}
			authz := strings.TrimSpace(r.Header.Get("Authorization"))
			if authz != "" {
				if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
					problems.Write(w, http.StatusUnauthorized, "missing_bearer", "Bearer credential required", "")
					return
				}
				creds.Token = strings.TrimSpace(authz[len("Bearer "):])
			}
			if cfg.IsDevelopment() && cfg.DevSubjectHeader != "" {
				creds.DevSubject = r.Header.Get(cfg.DevSubjectHeader)
			}

			id, err := a.Authenticate(r.Context(), creds)
			if err != nil {
				var ae *auth.Error
				if errors.As(err, &ae) {
					detail := ""
					if ae.Kind != auth.KindNoCredential {
						detail = ae.Error()
					}
					problems.Write(w, ae.Status(), string(ae.Kind), ae.Title(), detail)
					return
				}
				problems.Write(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "")
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
		})
	}
}
