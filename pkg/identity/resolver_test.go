package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantgate/pkg/logger"
	"tenantgate/pkg/metadata"
	"tenantgate/pkg/plans"
	"tenantgate/pkg/tenants"
)

type fakeClient struct {
	user  metadata.User
	err   error
	delay time.Duration
	calls int
}

func (f *fakeClient) GetUser(ctx context.Context, id string) (metadata.User, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return metadata.User{}, ctx.Err()
		}
	}
	if f.err != nil {
		return metadata.User{}, f.err
	}
	u := f.user
	u.ID = id
	return u, nil
}

func (f *fakeClient) UpdateUserMetadata(context.Context, string, metadata.Metadata) error { return nil }

type countingRecorder struct {
	failOpen map[string]int
}

func (c *countingRecorder) IncRejected(string) {}
func (c *countingRecorder) IncFailOpen(site string) {
	if c.failOpen == nil {
		c.failOpen = map[string]int{}
	}
	c.failOpen[site]++
}
func (c *countingRecorder) IncResolved(string, string, string) {}

func newTestResolver(t *testing.T, c metadata.Client) *Resolver {
	t.Helper()
	reg, err := tenants.NewRegistry("prod", "studio", []tenants.Tenant{{ID: "studio"}, {ID: "runner"}})
	require.NoError(t, err)
	var sel *metadata.Selector
	if c != nil {
		sel = metadata.StaticSelector(map[tenants.ID]metadata.Client{"studio": c}, nil)
	}
	return NewResolver(reg, sel, logger.Nop(), nil, 50*time.Millisecond)
}

var proClaims = Claims{"sub": "user_1", "pla": "u:pro_plan", "fea": "u:base_usage,u:pro_usage"}

func TestResolve_NoClientLeavesClaimsUntouched(t *testing.T) {
	res := newTestResolver(t, nil).Resolve(context.Background(), "studio", proClaims)

	assert.Equal(t, EnrichmentSkipped, res.Enrichment)
	assert.Equal(t, plans.Pro, res.Identity.Plan)
	assert.Equal(t, []plans.Feature{plans.BaseUsage, plans.ProUsage}, res.Identity.Features)
}

func TestResolve_EmptyMetadataLeavesClaimsUntouched(t *testing.T) {
	res := newTestResolver(t, &fakeClient{}).Resolve(context.Background(), "studio", proClaims)

	assert.Equal(t, EnrichmentNone, res.Enrichment)
	assert.Equal(t, plans.Pro, res.Identity.Plan)
	assert.Equal(t, []plans.Feature{plans.BaseUsage, plans.ProUsage}, res.Identity.Features)
}

func TestResolve_FeaturesOnlyOverride(t *testing.T) {
	c := &fakeClient{user: metadata.User{PrivateMetadata: metadata.Metadata{Features: metadata.FeatureList{"u:free_usage"}}}}
	res := newTestResolver(t, c).Resolve(context.Background(), "studio", proClaims)

	assert.Equal(t, EnrichmentApplied, res.Enrichment)
	assert.Equal(t, plans.Pro, res.Identity.Plan)
	assert.Equal(t, []plans.Feature{plans.FreeUsage}, res.Identity.Features)
}

func TestResolve_PlanOnlyOverride(t *testing.T) {
	c := &fakeClient{user: metadata.User{PrivateMetadata: metadata.Metadata{Plan: "u:free_plan"}}}
	res := newTestResolver(t, c).Resolve(context.Background(), "studio", proClaims)

	assert.Equal(t, plans.Free, res.Identity.Plan)
	assert.Equal(t, []plans.Feature{plans.BaseUsage, plans.ProUsage}, res.Identity.Features)
}

func TestResolve_OverrideReplacesRatherThanMerges(t *testing.T) {
	c := &fakeClient{user: metadata.User{PrivateMetadata: metadata.Metadata{
		Plan:     "standard_plan",
		Features: metadata.FeatureList{"unlimited_usage"},
	}}}
	res := newTestResolver(t, c).Resolve(context.Background(), "studio", proClaims)

	assert.Equal(t, plans.Standard, res.Identity.Plan)
	assert.Equal(t, []plans.Feature{plans.UnlimitedUsage}, res.Identity.Features)
}

func TestResolve_UnknownOverrideValuesIgnored(t *testing.T) {
	c := &fakeClient{user: metadata.User{PrivateMetadata: metadata.Metadata{
		Plan:     "gold",
		Features: metadata.FeatureList{"bogus"},
	}}}
	res := newTestResolver(t, c).Resolve(context.Background(), "studio", proClaims)

	assert.Equal(t, EnrichmentNone, res.Enrichment)
	assert.Equal(t, plans.Pro, res.Identity.Plan)
	assert.Equal(t, []plans.Feature{plans.BaseUsage, plans.ProUsage}, res.Identity.Features)
}

func TestResolve_LookupFailureFailsOpen(t *testing.T) {
	for name, c := range map[string]*fakeClient{
		"error":     {err: errors.New("connection refused")},
		"not found": {err: metadata.ErrNotFound},
		"timeout":   {delay: time.Second},
	} {
		t.Run(name, func(t *testing.T) {
			rec := &countingRecorder{}
			r := newTestResolver(t, c)
			r.rec = rec

			res := r.Resolve(context.Background(), "studio", Claims{"sub": "user_1", "pla": "free_plan", "fea": "free_usage"})

			assert.Equal(t, EnrichmentFailed, res.Enrichment)
			assert.Error(t, res.Err)
			assert.Equal(t, "user_1", res.Identity.SubjectID)
			assert.Equal(t, plans.MostPermissive, res.Identity.Plan)
			assert.Equal(t, plans.DefaultFeatures(), res.Identity.Features)
			assert.Equal(t, 1, c.calls)
			assert.Equal(t, 1, rec.failOpen["override"])
		})
	}
}

func TestResolve_ClientSelectedPerTenant(t *testing.T) {
	c := &fakeClient{user: metadata.User{PrivateMetadata: metadata.Metadata{Plan: "free_plan"}}}
	res := newTestResolver(t, c).Resolve(context.Background(), "runner", proClaims)

	assert.Equal(t, 0, c.calls)
	assert.Equal(t, EnrichmentSkipped, res.Enrichment)
	assert.Equal(t, tenants.ID("runner"), res.Identity.Tenant)
}

func TestResolveSubject(t *testing.T) {
	res := newTestResolver(t, nil).ResolveSubject(context.Background(), "studio", "user_9")
	assert.Equal(t, Identity{
		SubjectID: "user_9",
		Tenant:    "studio",
		Plan:      plans.MostPermissive,
		Features:  plans.DefaultFeatures(),
		Source:    SourceSubject,
	}, res.Identity)

	c := &fakeClient{user: metadata.User{PrivateMetadata: metadata.Metadata{Plan: "u:pro_plan", Features: metadata.FeatureList{"pro_usage"}}}}
	res = newTestResolver(t, c).ResolveSubject(context.Background(), "studio", "user_9")
	assert.Equal(t, plans.Pro, res.Identity.Plan)
	assert.Equal(t, []plans.Feature{plans.ProUsage}, res.Identity.Features)
}

func TestEnrichment_String(t *testing.T) {
	assert.Equal(t, "failed", EnrichmentFailed.String())
	assert.Equal(t, "unknown", Enrichment(99).String())
}
