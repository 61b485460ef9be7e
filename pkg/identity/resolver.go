package identity

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"tenantgate/pkg/logger"
	"tenantgate/pkg/metadata"
	"tenantgate/pkg/metrics"
	"tenantgate/pkg/plans"
	"tenantgate/pkg/tenants"
)

// Enrichment is the outcome of the override-metadata step. It never turns
// into a request failure.
type Enrichment int

const (
	// EnrichmentSkipped: no identity-service client exists for the tenant.
	EnrichmentSkipped Enrichment = iota
	// EnrichmentNone: the user exists but carries no override fields.
	EnrichmentNone
	// EnrichmentApplied: at least one field was replaced from private metadata.
	EnrichmentApplied
	// EnrichmentFailed: the lookup failed; the identity holds permissive defaults.
	EnrichmentFailed
)

func (e Enrichment) String() string {
	switch e {
	case EnrichmentSkipped:
		return "skipped"
	case EnrichmentNone:
		return "none"
	case EnrichmentApplied:
		return "applied"
	case EnrichmentFailed:
		return "failed"
	}
	return "unknown"
}

// Resolution is the result of resolving one identity.
type Resolution struct {
	Identity   Identity
	Enrichment Enrichment
	// Err is set only when Enrichment is EnrichmentFailed.
	Err error
	// Public is the user's current public metadata, used to decide whether a
	// sync back to the identity service is needed.
	Public metadata.Metadata
}

// ClientSource selects an identity-service client per tenant.
type ClientSource interface {
	For(id tenants.ID) (metadata.Client, bool)
}

// Resolver derives (tenant, plan, features) for a subject. Precedence is
// evaluated per field: private metadata, then claims, then defaults.
type Resolver struct {
	reg     *tenants.Registry
	clients ClientSource
	log     *zap.SugaredLogger
	rec     metrics.Recorder
	timeout time.Duration
}

func NewResolver(reg *tenants.Registry, clients ClientSource, log *zap.SugaredLogger, rec metrics.Recorder, timeout time.Duration) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	if clients == nil {
		clients = metadata.StaticSelector(nil, nil)
	}
	return &Resolver{reg: reg, clients: clients, log: log, rec: rec, timeout: timeout}
}

// Registry exposes the tenant table the resolver was built with.
func (r *Resolver) Registry() *tenants.Registry { return r.reg }

// Clients exposes the per-tenant identity-service selection.
func (r *Resolver) Clients() ClientSource { return r.clients }

// Resolve builds the identity for verified claims issued by tenant.
func (r *Resolver) Resolve(ctx context.Context, tenant tenants.ID, claims Claims) Resolution {
	t, ok := r.reg.Get(tenant)
	if !ok {
		t = tenants.Tenant{ID: tenant}
		t.Claims.Subject, t.Claims.Plan, t.Claims.Features = "sub", "pla", "fea"
	}
	return r.enrich(ctx, FromClaims(t, claims))
}

// ResolveSubject builds an identity from a subject id alone, for code running
// outside a request where no claims were retained. Plan and features start at
// their defaults and are then subject to override metadata.
func (r *Resolver) ResolveSubject(ctx context.Context, tenant tenants.ID, subjectID string) Resolution {
	base := Identity{
		SubjectID: subjectID,
		Tenant:    tenant,
		Plan:      plans.MostPermissive,
		Features:  plans.DefaultFeatures(),
		Source:    SourceSubject,
	}
	return r.enrich(ctx, base)
}

func (r *Resolver) enrich(ctx context.Context, id Identity) Resolution {
	log := logger.FromContext(ctx, r.log)
	client, ok := r.clients.For(id.Tenant)
	if !ok || id.SubjectID == "" {
		r.rec.IncResolved(string(id.Tenant), string(id.Plan), string(id.Source))
		return Resolution{Identity: id, Enrichment: EnrichmentSkipped}
	}

	ctx, span := otel.Tracer("tenantgate/identity").Start(ctx, "identity.override_lookup")
	defer span.End()
	span.SetAttributes(attribute.String("tenant", string(id.Tenant)))

	lookupCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	user, err := client.GetUser(lookupCtx, id.SubjectID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "override lookup failed")
		if errors.Is(err, metadata.ErrNotFound) {
			log.Warnw("identity service has no such user, granting defaults", "tenant", id.Tenant, "subject", id.SubjectID)
		} else {
			log.Warnw("override lookup failed, granting defaults", "tenant", id.Tenant, "subject", id.SubjectID, "err", err)
		}
		r.rec.IncFailOpen("override")
		id.Plan = plans.MostPermissive
		id.Features = plans.DefaultFeatures()
		r.rec.IncResolved(string(id.Tenant), string(id.Plan), string(id.Source))
		return Resolution{Identity: id, Enrichment: EnrichmentFailed, Err: err}
	}

	res := Resolution{Identity: id, Enrichment: EnrichmentNone, Public: user.PublicMetadata}
	override := user.PrivateMetadata
	if override.Plan != "" {
		if p, ok := plans.ParsePlan(override.Plan); ok {
			res.Identity.Plan = p
			res.Enrichment = EnrichmentApplied
		} else {
			log.Warnw("ignoring unknown plan in override metadata", "tenant", id.Tenant, "subject", id.SubjectID, "plan", override.Plan)
		}
	}
	if len(override.Features) > 0 {
		if fs := plans.FeaturesFrom(override.Features); len(fs) > 0 {
			res.Identity.Features = fs
			res.Enrichment = EnrichmentApplied
		} else {
			log.Warnw("ignoring override features with no known tags", "tenant", id.Tenant, "subject", id.SubjectID)
		}
	}
	r.rec.IncResolved(string(res.Identity.Tenant), string(res.Identity.Plan), string(res.Identity.Source))
	return res
}
