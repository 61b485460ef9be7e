package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantgate/pkg/auth"
	"tenantgate/pkg/config"
	"tenantgate/pkg/identity"
	"tenantgate/pkg/logger"
	"tenantgate/pkg/problems"
)

type fakeAuth struct {
	got auth.Credentials
	id  identity.Identity
	err error
}

func (f *fakeAuth) Authenticate(_ context.Context, c auth.Credentials) (identity.Identity, error) {
	f.got = c
	return f.id, f.err
}

func echoIdentity(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := identity.FromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(id.SubjectID))
	})
}

func TestIdentity_SetsContext(t *testing.T) {
	fa := &fakeAuth{id: identity.Identity{SubjectID: "user_1"}}
	h := Identity(config.Config{Env: config.EnvProd}, fa)(echoIdentity(t))

	req := httptest.NewRequest(http.MethodGet, "/v1/identity", nil)
	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user_1", rr.Body.String())
	assert.Equal(t, "abc.def.ghi", fa.got.Token)
}

func TestIdentity_DevHeaderOnlyInDevelopment(t *testing.T) {
	for env, want := range map[string]string{config.EnvDev: "tester-1", config.EnvProd: ""} {
		fa := &fakeAuth{}
		cfg := config.Config{Env: env, DevSubjectHeader: "X-Dev-Subject-Id"}
		req := httptest.NewRequest(http.MethodGet, "/v1/identity", nil)
		req.Header.Set("X-Dev-Subject-Id", "tester-1")
		Identity(cfg, fa)(echoIdentity(t)).ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, want, fa.got.DevSubject, env)
	}
}

func TestIdentity_RejectionRendersProblem(t *testing.T) {
	fa := &fakeAuth{err: &auth.Error{Kind: auth.KindTrustRootMissing, Tenant: "runner"}}
	h := Identity(config.Config{Env: config.EnvProd}, fa)(echoIdentity(t))

	req := httptest.NewRequest(http.MethodGet, "/v1/identity", nil)
	req.Header.Set("Authorization", "Bearer a.b.c")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	var p problems.Problem
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&p))
	assert.Equal(t, problems.Type("trust_root_missing"), p.Type)
	assert.Contains(t, p.Detail, "runner")
}

func TestIdentity_NonBearerScheme(t *testing.T) {
	fa := &fakeAuth{}
	req := httptest.NewRequest(http.MethodGet, "/v1/identity", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rr := httptest.NewRecorder()
	Identity(config.Config{Env: config.EnvProd}, fa)(echoIdentity(t)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestIdentity_HealthBypass(t *testing.T) {
	fa := &fakeAuth{err: &auth.Error{Kind: auth.KindNoCredential}}
	rr := httptest.NewRecorder()
	Identity(config.Config{Env: config.EnvProd}, fa)(echoIdentity(t)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rr.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "fixed")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "fixed", seen)
}

func TestRecover(t *testing.T) {
	h := Recover(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
