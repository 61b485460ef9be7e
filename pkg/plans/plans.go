// Package plans holds the closed subscription vocabularies: plans, feature
// tags, and the per-tenant tables that map them to numeric ceilings.
package plans

import "strings"

// Plan is a subscription tier.
type Plan string

const (
	Free     Plan = "free_plan"
	Standard Plan = "standard_plan"
	Pro      Plan = "pro_plan"
	ProPlus  Plan = "pro_plus"
)

// MostPermissive is used when a credential carries no plan, when the plan is
// not part of the vocabulary, and when override lookup fails.
const MostPermissive = ProPlus

// All lists the plans in ascending order of entitlement.
var All = []Plan{Free, Standard, Pro, ProPlus}

// Feature is an enabled-capability tag.
type Feature string

const (
	FreeUsage      Feature = "free_usage"
	BaseUsage      Feature = "base_usage"
	ProUsage       Feature = "pro_usage"
	UnlimitedUsage Feature = "unlimited_usage"
)

// AllFeatures is the complete feature vocabulary.
var AllFeatures = []Feature{FreeUsage, BaseUsage, ProUsage, UnlimitedUsage}

// ClaimPrefix is stripped from plan and feature values found in claims or metadata.
const ClaimPrefix = "u:"

// Valid reports whether p belongs to the plan vocabulary.
func (p Plan) Valid() bool {
	for _, v := range All {
		if v == p {
			return true
		}
	}
	return false
}

// Valid reports whether f belongs to the feature vocabulary.
func (f Feature) Valid() bool {
	for _, v := range AllFeatures {
		if v == f {
			return true
		}
	}
	return false
}

// ParsePlan strips the claim prefix and validates the result. ok is false
// for empty or unknown values.
func ParsePlan(raw string) (Plan, bool) {
	p := Plan(strings.TrimPrefix(strings.TrimSpace(raw), ClaimPrefix))
	if p == "" || !p.Valid() {
		return "", false
	}
	return p, true
}

// ParseFeatures splits a comma separated list, strips the claim prefix per
// entry and drops blanks, unknown tags and duplicates.
func ParseFeatures(raw string) []Feature {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return FeaturesFrom(strings.Split(raw, ","))
}

// FeaturesFrom normalizes an already-split list.
func FeaturesFrom(items []string) []Feature {
	var out []Feature
	seen := map[Feature]bool{}
	for _, it := range items {
		f := Feature(strings.TrimPrefix(strings.TrimSpace(it), ClaimPrefix))
		if f == "" || !f.Valid() || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// DefaultFeatures is the feature set used when none could be derived.
func DefaultFeatures() []Feature { return []Feature{UnlimitedUsage} }

// Limits are the three numeric ceilings attached to a plan.
type Limits struct {
	Executions int64   `yaml:"executions" json:"executions"`
	Credits    float64 `yaml:"credits" json:"credits"`
	Webhooks   int64   `yaml:"webhooks" json:"webhooks"`
}

// Table maps plans to limits and features to monthly allowances for one tenant.
type Table struct {
	Plans    map[Plan]Limits   `yaml:"plans" json:"plans"`
	Features map[Feature]int64 `yaml:"features" json:"features"`
}

// DefaultTable returns the stock limit table shared by tenants that do not
// declare their own.
func DefaultTable() Table {
	return Table{
		Plans: map[Plan]Limits{
			Free:     {Executions: 100, Credits: 5, Webhooks: 1},
			Standard: {Executions: 1_000, Credits: 25, Webhooks: 5},
			Pro:      {Executions: 10_000, Credits: 100, Webhooks: 25},
			ProPlus:  {Executions: 100_000, Credits: 500, Webhooks: 100},
		},
		Features: map[Feature]int64{
			FreeUsage:      100,
			BaseUsage:      1_000,
			ProUsage:       10_000,
			UnlimitedUsage: 1_000_000,
		},
	}
}

// Merge fills entries missing from t with the values from base.
func (t Table) Merge(base Table) Table {
	out := Table{Plans: map[Plan]Limits{}, Features: map[Feature]int64{}}
	for k, v := range base.Plans {
		out.Plans[k] = v
	}
	for k, v := range base.Features {
		out.Features[k] = v
	}
	for k, v := range t.Plans {
		out.Plans[k] = v
	}
	for k, v := range t.Features {
		out.Features[k] = v
	}
	return out
}

// LimitsFor returns the ceilings for p, falling back to the most permissive plan.
func (t Table) LimitsFor(p Plan) Limits {
	if l, ok := t.Plans[p]; ok {
		return l
	}
	return t.Plans[MostPermissive]
}

// UnlimitedAllowance is the allowance of the unlimited feature tag. Quota
// lookups that fail report it as their limit.
func (t Table) UnlimitedAllowance() int64 { return t.Features[UnlimitedUsage] }
