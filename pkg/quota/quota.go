// Package quota combines static plan limits with live usage counts.
//
// Every read failure degrades to an unlimited snapshot; quota lookups never
// reject a caller.
package quota

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tenantgate/pkg/identity"
	"tenantgate/pkg/logger"
	"tenantgate/pkg/metrics"
	"tenantgate/pkg/plans"
	"tenantgate/pkg/usage"
)

type Kind string

const (
	KindExecutions Kind = "executions"
	KindWebhooks   Kind = "webhooks"
	KindCredits    Kind = "credits"
)

// Kinds lists every resource kind in response order.
var Kinds = []Kind{KindExecutions, KindWebhooks, KindCredits}

func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Snapshot is a point-in-time quota reading. Degraded marks a fail-open
// result produced after a usage read failed.
type Snapshot struct {
	Kind     Kind    `json:"kind"`
	Limit    float64 `json:"limit"`
	Usage    float64 `json:"usage"`
	Degraded bool    `json:"degraded,omitempty"`
}

// Remaining never goes below zero.
func (s Snapshot) Remaining() float64 {
	if s.Usage >= s.Limit {
		return 0
	}
	return s.Limit - s.Usage
}

// Exhausted reports whether the caller is at or over the limit. Degraded
// snapshots are never exhausted.
func (s Snapshot) Exhausted() bool {
	return !s.Degraded && s.Usage >= s.Limit
}

type Resolver struct {
	ids     *identity.Resolver
	store   usage.Counter
	log     *zap.SugaredLogger
	rec     metrics.Recorder
	timeout time.Duration
}

func NewResolver(ids *identity.Resolver, store usage.Counter, log *zap.SugaredLogger, rec metrics.Recorder, timeout time.Duration) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Resolver{ids: ids, store: store, log: log, rec: rec, timeout: timeout}
}

// identityFor prefers the request's identity when it belongs to subjectID and
// otherwise re-resolves the subject without claims.
func (r *Resolver) identityFor(ctx context.Context, subjectID string) identity.Identity {
	current, ok := identity.FromContext(ctx)
	if ok && current.SubjectID == subjectID {
		return current
	}
	tenant := r.ids.Registry().Default()
	if ok && current.Tenant != "" {
		tenant = current.Tenant
	}
	return r.ids.ResolveSubject(ctx, tenant, subjectID).Identity
}

func (r *Resolver) limits(id identity.Identity) (plans.Limits, plans.Table) {
	table := r.ids.Registry().Limits(id.Tenant)
	return table.LimitsFor(id.Plan), table
}

func (r *Resolver) Executions(ctx context.Context, subjectID string) Snapshot {
	return r.snapshot(ctx, KindExecutions, subjectID, func(ctx context.Context, l plans.Limits) (float64, float64, error) {
		n, err := r.store.MonthlyExecutionCount(ctx, subjectID)
		return float64(l.Executions), float64(n), err
	})
}

// Webhooks counts active webhooks plus active scheduled triggers. The two
// reads run concurrently.
func (r *Resolver) Webhooks(ctx context.Context, subjectID string) Snapshot {
	return r.snapshot(ctx, KindWebhooks, subjectID, func(ctx context.Context, l plans.Limits) (float64, float64, error) {
		var hooks, triggers int64
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			n, err := r.store.CountActiveWebhooks(gctx, subjectID)
			hooks = n
			return err
		})
		g.Go(func() error {
			n, err := r.store.CountActiveScheduledTriggers(gctx, subjectID)
			triggers = n
			return err
		})
		if err := g.Wait(); err != nil {
			return 0, 0, err
		}
		return float64(l.Webhooks), float64(hooks + triggers), nil
	})
}

func (r *Resolver) Credits(ctx context.Context, subjectID string) Snapshot {
	return r.snapshot(ctx, KindCredits, subjectID, func(ctx context.Context, l plans.Limits) (float64, float64, error) {
		cost, err := r.store.TotalCreditCost(ctx, subjectID)
		return l.Credits, cost, err
	})
}

// Get returns the snapshot for one kind.
func (r *Resolver) Get(ctx context.Context, kind Kind, subjectID string) (Snapshot, error) {
	switch kind {
	case KindExecutions:
		return r.Executions(ctx, subjectID), nil
	case KindWebhooks:
		return r.Webhooks(ctx, subjectID), nil
	case KindCredits:
		return r.Credits(ctx, subjectID), nil
	}
	return Snapshot{}, fmt.Errorf("unknown quota kind %q", kind)
}

// All returns every snapshot in Kinds order. The subject is resolved once so
// every snapshot is priced against the same plan.
func (r *Resolver) All(ctx context.Context, subjectID string) []Snapshot {
	ctx = identity.WithIdentity(ctx, r.identityFor(ctx, subjectID))
	out := make([]Snapshot, len(Kinds))
	var g errgroup.Group
	for i, k := range Kinds {
		i, k := i, k
		g.Go(func() error {
			s, err := r.Get(ctx, k, subjectID)
			out[i] = s
			return err
		})
	}
	_ = g.Wait()
	return out
}

type readFunc func(ctx context.Context, l plans.Limits) (limit, used float64, err error)

func (r *Resolver) snapshot(ctx context.Context, kind Kind, subjectID string, read readFunc) Snapshot {
	ctx, span := otel.Tracer("tenantgate/quota").Start(ctx, "quota."+string(kind))
	defer span.End()
	span.SetAttributes(attribute.String("quota.kind", string(kind)))

	id := r.identityFor(ctx, subjectID)
	lim, table := r.limits(id)

	rctx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	limit, used, err := read(rctx, lim)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "usage read failed")
		logger.FromContext(ctx, r.log).Warnw("quota lookup failed, failing open",
			"kind", kind, "subject", subjectID, "tenant", id.Tenant, "err", err)
		r.rec.IncFailOpen("quota_" + string(kind))
		return Snapshot{Kind: kind, Limit: float64(table.UnlimitedAllowance()), Usage: 0, Degraded: true}
	}
	return Snapshot{Kind: kind, Limit: limit, Usage: used}
}
