package metadata

import (
	"time"

	"tenantgate/pkg/tenants"
)

// Selector picks the identity-service client for a tenant. It is built once
// at startup and read concurrently afterwards.
type Selector struct {
	byTenant map[tenants.ID]Client
	fallback Client
}

// NewSelector creates one HTTP client per tenant that declares an identity
// service. fallback may be nil.
func NewSelector(reg *tenants.Registry, fallback Client, timeout time.Duration) *Selector {
	s := &Selector{byTenant: map[tenants.ID]Client{}, fallback: fallback}
	for _, id := range reg.IDs() {
		t, _ := reg.Get(id)
		if t.IdentityService.BaseURL == "" {
			continue
		}
		s.byTenant[id] = NewHTTPClient(t.IdentityService.BaseURL, t.IdentityService.Secret, timeout)
	}
	return s
}

// StaticSelector wraps fixed clients; used by tests and embedders.
func StaticSelector(byTenant map[tenants.ID]Client, fallback Client) *Selector {
	if byTenant == nil {
		byTenant = map[tenants.ID]Client{}
	}
	return &Selector{byTenant: byTenant, fallback: fallback}
}

// For returns the tenant's client, the shared fallback, or false when neither exists.
func (s *Selector) For(id tenants.ID) (Client, bool) {
	if s == nil {
		return nil, false
	}
	if c, ok := s.byTenant[id]; ok && c != nil {
		return c, true
	}
	if s.fallback != nil {
		return s.fallback, true
	}
	return nil, false
}
