// pkg/tenants/registry.go
package tenants

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"tenantgate/pkg/config"
	"tenantgate/pkg/plans"
)

// Registry is the process-wide, read-only tenant table. It is built once at
// startup and never mutated afterwards.
type Registry struct {
	env       string
	defaultID ID
	order     []ID
	byID      map[ID]Tenant
	hint      string
}

type fileFormat struct {
	DefaultTenant string   `yaml:"default_tenant"`
	Tenants       []Tenant `yaml:"tenants"`
}

// Load builds the registry from TENANTS_FILE when set, otherwise from the
// single-tenant variables in cfg. Trust keys and identity-service secrets are
// read from their environment variables here and nowhere else.
func Load(cfg config.Config, log *zap.SugaredLogger) (*Registry, error) {
	if cfg.TenantsFile != "" {
		b, err := os.ReadFile(cfg.TenantsFile)
		if err != nil {
			return nil, fmt.Errorf("read tenants file: %w", err)
		}
		var doc fileFormat
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("yaml parse: %w", err)
		}
		def := ID(doc.DefaultTenant)
		if def == "" {
			def = ID(cfg.DefaultTenant)
		}
		for i := range doc.Tenants {
			t := &doc.Tenants[i]
			if t.KeyEnv != "" {
				t.Key = os.Getenv(t.KeyEnv)
			}
			if t.IdentityService.SecretEnv != "" {
				t.IdentityService.Secret = os.Getenv(t.IdentityService.SecretEnv)
			}
		}
		reg, err := NewRegistry(cfg.Env, def, doc.Tenants)
		if err != nil {
			return nil, err
		}
		reg.hint = fileHint(cfg.TenantsFile, cfg.Env, doc.Tenants)
		log.Infow("tenant registry loaded", "source", cfg.TenantsFile, "tenants", len(doc.Tenants), "default", def, "env", cfg.Env)
		return reg, nil
	}

	t := Tenant{
		ID:     ID(cfg.DefaultTenant),
		KeyEnv: "JWT_VERIFICATION_KEY",
		Key:    cfg.VerificationKey,
		Issuers: map[string][]IssuerRule{
			config.EnvDev:  prefixRules(cfg.DevIssuerPrefix),
			config.EnvProd: prefixRules(cfg.ProdIssuerPrefix),
		},
	}
	reg, err := NewRegistry(cfg.Env, t.ID, []Tenant{t})
	if err != nil {
		return nil, err
	}
	reg.hint = "DEV_ISSUER_PREFIX, PROD_ISSUER_PREFIX, JWT_VERIFICATION_KEY"
	if t.Key == "" {
		log.Warnw("no verification key configured for tenant", "tenant", t.ID, "env_var", "JWT_VERIFICATION_KEY")
	}
	return reg, nil
}

// NewRegistry validates tenants and fills per-tenant defaults. env selects
// which issuer rules are active.
func NewRegistry(env string, defaultID ID, list []Tenant) (*Registry, error) {
	if len(list) == 0 {
		return nil, errors.New("no tenants configured")
	}
	r := &Registry{env: env, defaultID: defaultID, byID: map[ID]Tenant{}}
	for _, t := range list {
		if t.ID == "" {
			return nil, errors.New("tenant with empty id")
		}
		if _, dup := r.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate tenant %q", t.ID)
		}
		t.Claims = t.Claims.withDefaults()
		t.Limits = t.Limits.Merge(plans.DefaultTable())
		r.byID[t.ID] = t
		r.order = append(r.order, t.ID)
	}
	if _, ok := r.byID[defaultID]; !ok {
		return nil, fmt.Errorf("default tenant %q is not configured", defaultID)
	}
	return r, nil
}

func (r *Registry) Env() string { return r.env }

// Default returns the tenant used for structurally unrecognised credentials
// and for identity re-resolution outside a request.
func (r *Registry) Default() ID { return r.defaultID }

func (r *Registry) IDs() []ID { return append([]ID(nil), r.order...) }

func (r *Registry) Get(id ID) (Tenant, bool) {
	t, ok := r.byID[id]
	return t, ok
}

// TrustKey returns the verification key configured for id. Absence is not an
// error: callers decide whether it is fatal for the current environment.
func (r *Registry) TrustKey(id ID) (string, bool) {
	t, ok := r.byID[id]
	if !ok || strings.TrimSpace(t.Key) == "" {
		return "", false
	}
	return t.Key, true
}

// Limits returns the limit table of id, or the stock table for unknown ids.
func (r *Registry) Limits(id ID) plans.Table {
	if t, ok := r.byID[id]; ok {
		return t.Limits
	}
	return plans.DefaultTable()
}

// Hint names the configuration an operator should inspect when detection fails.
func (r *Registry) Hint() string { return r.hint }

func prefixRules(prefix string) []IssuerRule {
	if strings.TrimSpace(prefix) == "" {
		return nil
	}
	return []IssuerRule{{Prefix: prefix}}
}

func fileHint(path, env string, list []Tenant) string {
	vars := []string{"TENANTS_FILE=" + path + " (issuers." + env + ")"}
	for _, t := range list {
		if t.KeyEnv != "" {
			vars = append(vars, t.KeyEnv)
		}
	}
	sort.Strings(vars[1:])
	return strings.Join(vars, ", ")
}
