// Package identity holds the per-request resolved identity, the subscription
// resolver that derives it, and the request context that carries it.
package identity

import (
	"fmt"
	"strings"

	jmes "github.com/jmespath/go-jmespath"

	"tenantgate/pkg/plans"
	"tenantgate/pkg/tenants"
)

// Source records which construction path produced an Identity.
type Source string

const (
	// SourceVerified: derived from verified claims plus override metadata.
	SourceVerified Source = "verified"
	// SourceSubject: re-resolved from a subject id alone, without claims.
	SourceSubject Source = "subject"
	// SourceDevBypass: fabricated outside production.
	SourceDevBypass Source = "dev_bypass"
)

// Identity is the resolved caller of one request. Plan and Features are
// always valid members of their vocabularies.
type Identity struct {
	SubjectID string          `json:"subject_id"`
	Tenant    tenants.ID      `json:"tenant"`
	Plan      plans.Plan      `json:"plan"`
	Features  []plans.Feature `json:"features"`
	Source    Source          `json:"source"`
}

// HasFeature reports whether f is enabled.
func (id Identity) HasFeature(f plans.Feature) bool {
	for _, v := range id.Features {
		if v == f {
			return true
		}
	}
	return false
}

func (id Identity) clone() Identity {
	id.Features = append([]plans.Feature(nil), id.Features...)
	return id
}

// Claims is a verified claim set.
type Claims map[string]any

// Lookup evaluates a JMESPath expression against the claims. Strings are
// returned as-is, string arrays are joined with commas, anything else is "".
func (c Claims) Lookup(expr string) string {
	if expr == "" || c == nil {
		return ""
	}
	v, err := jmes.Search(expr, map[string]any(c))
	if err != nil || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, it := range t {
			if s, ok := it.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	case fmt.Stringer:
		return t.String()
	default:
		return ""
	}
}

// FromClaims derives the claim-level identity for tenant t: plan and features
// with their defaults applied, before any override metadata.
func FromClaims(t tenants.Tenant, c Claims) Identity {
	id := Identity{
		SubjectID: c.Lookup(t.Claims.Subject),
		Tenant:    t.ID,
		Source:    SourceVerified,
	}
	if p, ok := plans.ParsePlan(c.Lookup(t.Claims.Plan)); ok {
		id.Plan = p
	} else {
		id.Plan = plans.MostPermissive
	}
	id.Features = plans.ParseFeatures(c.Lookup(t.Claims.Features))
	if len(id.Features) == 0 {
		id.Features = plans.DefaultFeatures()
	}
	return id
}
