// Package auth turns an inbound bearer credential into a resolved identity:
// tenant detection, trust root lookup, verification, then subscription
// resolution. Authenticity failures reject; enrichment failures degrade.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"tenantgate/pkg/config"
	"tenantgate/pkg/identity"
	"tenantgate/pkg/logger"
	"tenantgate/pkg/metadata"
	"tenantgate/pkg/metrics"
	"tenantgate/pkg/plans"
	"tenantgate/pkg/tenants"
	"tenantgate/pkg/usage"
	"tenantgate/pkg/verify"
)

const sideEffectTimeout = 5 * time.Second

// Credentials is what a request presents. DevSubject is only consulted by
// the development bypass.
type Credentials struct {
	Token      string
	DevSubject string
}

type Deps struct {
	Verifier   verify.Verifier
	Identities *identity.Resolver
	// Profiles receives a best-effort upsert after each verified request.
	Profiles usage.ProfileWriter
	Log      *zap.SugaredLogger
	Metrics  metrics.Recorder
}

type Pipeline struct {
	cfg      config.Config
	reg      *tenants.Registry
	verifier verify.Verifier
	ids      *identity.Resolver
	profiles usage.ProfileWriter
	log      *zap.SugaredLogger
	rec      metrics.Recorder

	// pending tracks detached side effects so shutdown can drain them.
	pending sync.WaitGroup
}

func New(cfg config.Config, d Deps) *Pipeline {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Noop{}
	}
	return &Pipeline{
		cfg:      cfg,
		reg:      d.Identities.Registry(),
		verifier: d.Verifier,
		ids:      d.Identities,
		profiles: d.Profiles,
		log:      d.Log,
		rec:      d.Metrics,
	}
}

// Authenticate resolves the caller of one request. A non-nil error is always
// an *Error.
func (p *Pipeline) Authenticate(ctx context.Context, c Credentials) (identity.Identity, error) {
	ctx, span := otel.Tracer("tenantgate/auth").Start(ctx, "auth.authenticate")
	defer span.End()
	log := logger.FromContext(ctx, p.log)

	token := strings.TrimSpace(c.Token)
	if token == "" {
		if p.cfg.IsDevelopment() {
			return p.bypass(ctx, p.reg.Default(), c.DevSubject)
		}
		return identity.Identity{}, p.reject(span, &Error{Kind: KindNoCredential, Err: ErrAuthenticationRequired})
	}

	tenant, err := p.reg.Detect(token)
	if err != nil {
		log.Warnw("rejecting credential from unrecognised issuer", "err", err)
		return identity.Identity{}, p.reject(span, &Error{Kind: KindUnresolvedTenant, Err: err})
	}
	span.SetAttributes(attribute.String("tenant", string(tenant)))

	key, ok := p.reg.TrustKey(tenant)
	if !ok {
		if p.cfg.IsDevelopment() {
			log.Infow("no trust root configured, using development identity", "tenant", tenant)
			return p.bypass(ctx, tenant, c.DevSubject)
		}
		log.Errorw("trust root not configured", "tenant", tenant)
		return identity.Identity{}, p.reject(span, &Error{Kind: KindTrustRootMissing, Tenant: tenant})
	}

	claims, err := p.verifier.Verify(ctx, token, key)
	if err != nil {
		log.Infow("credential verification failed", "tenant", tenant, "err", err)
		return identity.Identity{}, p.reject(span, &Error{Kind: KindVerificationFailed, Tenant: tenant, Err: err})
	}
	if t, ok := p.reg.Get(tenant); ok && claims.Lookup(t.Claims.Subject) == "" {
		return identity.Identity{}, p.reject(span, &Error{Kind: KindVerificationFailed, Tenant: tenant, Err: errors.New("credential carries no subject")})
	}

	res := p.ids.Resolve(ctx, tenant, claims)
	span.SetAttributes(attribute.String("plan", string(res.Identity.Plan)), attribute.String("enrichment", res.Enrichment.String()))
	p.afterVerified(ctx, res)
	return res.Identity, nil
}

func (p *Pipeline) reject(span trace.Span, e *Error) error {
	span.SetStatus(codes.Error, string(e.Kind))
	p.rec.IncRejected(string(e.Kind))
	return e
}

// afterVerified starts the profile upsert and public metadata sync. Both run
// detached from the request and can only log.
func (p *Pipeline) afterVerified(ctx context.Context, res identity.Resolution) {
	id := res.Identity
	log := logger.FromContext(ctx, p.log)
	detached := context.WithoutCancel(ctx)

	if p.profiles != nil {
		p.goDetached(detached, func(ctx context.Context) {
			err := p.profiles.UpsertProfile(ctx, usage.Profile{
				SubjectID: id.SubjectID,
				Tenant:    id.Tenant,
				Plan:      id.Plan,
				Features:  id.Features,
				SeenAt:    time.Now().UTC(),
			})
			if err != nil {
				log.Warnw("profile upsert failed", "subject", id.SubjectID, "err", err)
			}
		})
	}

	if res.Enrichment == identity.EnrichmentSkipped || res.Enrichment == identity.EnrichmentFailed {
		return
	}
	if publicMatches(res.Public, id) {
		return
	}
	client, ok := p.ids.Clients().For(id.Tenant)
	if !ok {
		return
	}
	p.goDetached(detached, func(ctx context.Context) {
		if err := client.UpdateUserMetadata(ctx, id.SubjectID, PublicMetadata(id)); err != nil {
			log.Warnw("public metadata sync failed", "subject", id.SubjectID, "err", err)
		}
	})
}

func (p *Pipeline) goDetached(ctx context.Context, fn func(context.Context)) {
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		ctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until detached side effects have finished.
func (p *Pipeline) Wait() { p.pending.Wait() }

// PublicMetadata is the externally visible projection of id.
func PublicMetadata(id identity.Identity) metadata.Metadata {
	fs := make(metadata.FeatureList, 0, len(id.Features))
	for _, f := range id.Features {
		fs = append(fs, string(f))
	}
	return metadata.Metadata{Plan: string(id.Plan), Features: fs}
}

func publicMatches(pub metadata.Metadata, id identity.Identity) bool {
	if p, ok := plans.ParsePlan(pub.Plan); !ok || p != id.Plan {
		return false
	}
	got := plans.FeaturesFrom(pub.Features)
	if len(got) != len(id.Features) {
		return false
	}
	for i := range got {
		if got[i] != id.Features[i] {
			return false
		}
	}
	return true
}
