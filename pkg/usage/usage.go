// Package usage reads live usage counts per subject and records basic profile
// fields. Counts are never cached here; every call hits the backing store.
package usage

import (
	"context"
	"time"

	"tenantgate/pkg/plans"
	"tenantgate/pkg/tenants"
)

// Counter reads the live counts the quota resolver needs.
type Counter interface {
	CountActiveWebhooks(ctx context.Context, subjectID string) (int64, error)
	CountActiveScheduledTriggers(ctx context.Context, subjectID string) (int64, error)
	MonthlyExecutionCount(ctx context.Context, subjectID string) (int64, error)
	TotalCreditCost(ctx context.Context, subjectID string) (float64, error)
}

// Profile is the subset of a resolved identity persisted on every verified
// request.
type Profile struct {
	SubjectID string
	Tenant    tenants.ID
	Plan      plans.Plan
	Features  []plans.Feature
	SeenAt    time.Time
}

// ProfileWriter upserts profiles keyed by subject id.
type ProfileWriter interface {
	UpsertProfile(ctx context.Context, p Profile) error
}

// Store is the full usage counter store.
type Store interface {
	Counter
	ProfileWriter
}

// ExecutionCounter owns the monthly execution counter. Resetting it at the
// start of a billing cycle happens outside this service.
type ExecutionCounter interface {
	MonthlyExecutionCount(ctx context.Context, subjectID string) (int64, error)
	IncrementExecutions(ctx context.Context, subjectID string) (int64, error)
}

// Split serves execution counts from Exec and everything else from Store.
type Split struct {
	Store
	Exec ExecutionCounter
}

func (s Split) MonthlyExecutionCount(ctx context.Context, subjectID string) (int64, error) {
	return s.Exec.MonthlyExecutionCount(ctx, subjectID)
}

func (s Split) IncrementExecutions(ctx context.Context, subjectID string) (int64, error) {
	return s.Exec.IncrementExecutions(ctx, subjectID)
}

func featureStrings(fs []plans.Feature) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, string(f))
	}
	return out
}
