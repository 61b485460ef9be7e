package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantgate/pkg/auth"
	"tenantgate/pkg/config"
	"tenantgate/pkg/identity"
	"tenantgate/pkg/logger"
	"tenantgate/pkg/middleware"
	"tenantgate/pkg/plans"
	"tenantgate/pkg/quota"
	"tenantgate/pkg/tenants"
	"tenantgate/pkg/usage"
	"tenantgate/pkg/verify"
)

const (
	key    = "gateway-test-secret-0123456789abcdef"
	issuer = "https://clerk.studio.example.com"
)

type server struct {
	http  *httptest.Server
	store *usage.Memory
	auth  *auth.Pipeline
}

func newServer(t *testing.T, env string) server {
	t.Helper()
	reg, err := tenants.NewRegistry(env, "studio", []tenants.Tenant{{
		ID:      "studio",
		Key:     key,
		Issuers: map[string][]tenants.IssuerRule{env: {{Prefix: issuer}}},
	}})
	require.NoError(t, err)
	log := logger.Nop()
	cfg := config.Config{Env: env, DevSubjectHeader: "X-Dev-Subject-Id", DevSubjectID: "dev-user"}

	store := usage.NewMemory()
	ids := identity.NewResolver(reg, nil, log, nil, time.Second)
	pipeline := auth.New(cfg, auth.Deps{Verifier: verify.NewJWX(0), Identities: ids, Profiles: store, Log: log})
	quotas := quota.NewResolver(ids, store, log, nil, time.Second)

	r := chi.NewRouter()
	r.Use(middleware.RequestID(log))
	r.Use(middleware.Recover(log))
	r.Use(middleware.Identity(cfg, pipeline))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	New(log, quotas, store).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		pipeline.Wait()
	})
	return server{http: srv, store: store, auth: pipeline}
}

func token(t *testing.T, sub, plan string) string {
	t.Helper()
	tok, err := jwt.NewBuilder().
		Issuer(issuer).
		Subject(sub).
		Expiration(time.Now().Add(time.Hour)).
		Claim("pla", plan).
		Claim("fea", "u:base_usage").
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(key)))
	require.NoError(t, err)
	return string(signed)
}

func do(t *testing.T, s server, method, path, bearer string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.http.URL+path, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestGetIdentity(t *testing.T) {
	s := newServer(t, config.EnvProd)
	resp := do(t, s, http.MethodGet, "/v1/identity", token(t, "user_1", "u:pro_plan"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var id identity.Identity
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&id))
	assert.Equal(t, "user_1", id.SubjectID)
	assert.Equal(t, plans.Pro, id.Plan)
	assert.Equal(t, []plans.Feature{plans.BaseUsage}, id.Features)
}

func TestNoCredential(t *testing.T) {
	t.Run("production", func(t *testing.T) {
		s := newServer(t, config.EnvProd)
		resp := do(t, s, http.MethodGet, "/v1/identity", "", map[string]string{"X-Dev-Subject-Id": "tester-1"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	})
	t.Run("development", func(t *testing.T) {
		s := newServer(t, config.EnvDev)
		resp := do(t, s, http.MethodGet, "/v1/identity", "", map[string]string{"X-Dev-Subject-Id": "tester-1"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var id identity.Identity
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&id))
		assert.Equal(t, "tester-1", id.SubjectID)
		assert.Equal(t, plans.ProPlus, id.Plan)
		assert.Equal(t, plans.AllFeatures, id.Features)
	})
}

func TestHealthzNeedsNoCredential(t *testing.T) {
	s := newServer(t, config.EnvProd)
	resp := do(t, s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListQuotas(t *testing.T) {
	s := newServer(t, config.EnvProd)
	s.store.Seed("user_1", 2, 3, 40, 1.5)

	resp := do(t, s, http.MethodGet, "/v1/quotas", token(t, "user_1", "u:free_plan"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body quotasResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "user_1", body.SubjectID)
	assert.Equal(t, []quota.Snapshot{
		{Kind: quota.KindExecutions, Limit: 100, Usage: 40},
		{Kind: quota.KindWebhooks, Limit: 1, Usage: 5},
		{Kind: quota.KindCredits, Limit: 5, Usage: 1.5},
	}, body.Quotas)
}

func TestGetQuota(t *testing.T) {
	s := newServer(t, config.EnvProd)
	s.store.Seed("user_1", 1, 1, 0, 0)
	tok := token(t, "user_1", "u:standard_plan")

	resp := do(t, s, http.MethodGet, "/v1/quotas/webhooks", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap quota.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, quota.Snapshot{Kind: quota.KindWebhooks, Limit: 5, Usage: 2}, snap)

	resp = do(t, s, http.MethodGet, "/v1/quotas/storage", tok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQuotaStoreDownFailsOpen(t *testing.T) {
	s := newServer(t, config.EnvProd)
	s.store.Err = assert.AnError

	resp := do(t, s, http.MethodGet, "/v1/quotas/credits", token(t, "user_1", "u:free_plan"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap quota.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.True(t, snap.Degraded)
	assert.Equal(t, float64(plans.DefaultTable().UnlimitedAllowance()), snap.Limit)
}

func TestRecordExecution(t *testing.T) {
	s := newServer(t, config.EnvProd)
	s.store.Seed("user_1", 0, 0, 98, 0)
	tok := token(t, "user_1", "u:free_plan")

	for want := int64(99); want <= 100; want++ {
		resp := do(t, s, http.MethodPost, "/v1/executions", tok, nil)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		var body executionResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, want, body.Executions)
	}

	resp := do(t, s, http.MethodPost, "/v1/executions", tok, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestRecordExecution_ConcurrentAdmitsOnlyUpToLimit(t *testing.T) {
	s := newServer(t, config.EnvProd)
	s.store.Seed("user_1", 0, 0, 95, 0)
	tok := token(t, "user_1", "u:free_plan")

	const callers = 20
	codes := make([]int, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPost, s.http.URL+"/v1/executions", nil)
			if err != nil {
				return
			}
			req.Header.Set("Authorization", "Bearer "+tok)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			_ = resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, c := range codes {
		switch c {
		case http.StatusAccepted:
			accepted++
		case http.StatusTooManyRequests:
		default:
			t.Fatalf("unexpected status %d", c)
		}
	}
	assert.Equal(t, 5, accepted)
}

func TestGetQuota_EachKind(t *testing.T) {
	s := newServer(t, config.EnvProd)
	s.store.Seed("user_1", 0, 0, 7, 2.5)
	tok := token(t, "user_1", "u:free_plan")

	for kind, want := range map[string]quota.Snapshot{
		"executions": {Kind: quota.KindExecutions, Limit: 100, Usage: 7},
		"webhooks":   {Kind: quota.KindWebhooks, Limit: 1, Usage: 0},
		"credits":    {Kind: quota.KindCredits, Limit: 5, Usage: 2.5},
	} {
		resp := do(t, s, http.MethodGet, "/v1/quotas/"+kind, tok, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, kind)
		var snap quota.Snapshot
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
		assert.Equal(t, want, snap, kind)
	}
}
