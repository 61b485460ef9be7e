package usage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgStore implements Store and ExecutionCounter backed by PostgreSQL.
type pgStore struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// PGStore is the union of interfaces the postgres store satisfies.
type PGStore interface {
	Store
	ExecutionCounter
}

// NewPostgresStore constructs a PostgreSQL-backed usage store.
func NewPostgresStore(dbPool *pgxpool.Pool, log *zap.SugaredLogger) PGStore {
	return &pgStore{dbPool: dbPool, log: log}
}

// EnsureSchema creates the usage tables if they do not already exist.
// Safe to call repeatedly.
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS webhooks (
  id uuid PRIMARY KEY,
  subject_id text NOT NULL,
  url text,
  active boolean NOT NULL DEFAULT true,
  created_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS webhooks_subject_active_idx ON webhooks(subject_id) WHERE active;
CREATE TABLE IF NOT EXISTS scheduled_triggers (
  id uuid PRIMARY KEY,
  subject_id text NOT NULL,
  cron text,
  active boolean NOT NULL DEFAULT true,
  created_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS scheduled_triggers_subject_active_idx ON scheduled_triggers(subject_id) WHERE active;
CREATE TABLE IF NOT EXISTS execution_counters (
  subject_id text PRIMARY KEY,
  monthly_count bigint NOT NULL DEFAULT 0,
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS credit_costs (
  subject_id text PRIMARY KEY,
  total_cost double precision NOT NULL DEFAULT 0,
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS profiles (
  subject_id text PRIMARY KEY,
  tenant text NOT NULL,
  plan text NOT NULL,
  features text[] NOT NULL DEFAULT '{}',
  last_seen_at timestamptz NOT NULL DEFAULT NOW()
);
`)
	return err
}

func (p *pgStore) CountActiveWebhooks(ctx context.Context, subjectID string) (int64, error) {
	return p.count(ctx, `SELECT COUNT(*) FROM webhooks WHERE subject_id=$1 AND active`, subjectID)
}

func (p *pgStore) CountActiveScheduledTriggers(ctx context.Context, subjectID string) (int64, error) {
	return p.count(ctx, `SELECT COUNT(*) FROM scheduled_triggers WHERE subject_id=$1 AND active`, subjectID)
}

func (p *pgStore) MonthlyExecutionCount(ctx context.Context, subjectID string) (int64, error) {
	return p.count(ctx, `SELECT COALESCE((SELECT monthly_count FROM execution_counters WHERE subject_id=$1), 0)`, subjectID)
}

func (p *pgStore) TotalCreditCost(ctx context.Context, subjectID string) (float64, error) {
	var total float64
	row := p.dbPool.QueryRow(ctx, `SELECT COALESCE((SELECT total_cost FROM credit_costs WHERE subject_id=$1), 0)`, subjectID)
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// IncrementExecutions bumps the counter atomically in the database.
func (p *pgStore) IncrementExecutions(ctx context.Context, subjectID string) (int64, error) {
	return p.count(ctx, `INSERT INTO execution_counters(subject_id, monthly_count, updated_at)
	  VALUES ($1, 1, NOW())
	  ON CONFLICT (subject_id) DO UPDATE SET monthly_count=execution_counters.monthly_count+1, updated_at=NOW()
	  RETURNING monthly_count`, subjectID)
}

func (p *pgStore) UpsertProfile(ctx context.Context, pr Profile) error {
	seen := pr.SeenAt
	if seen.IsZero() {
		seen = time.Now().UTC()
	}
	_, err := p.dbPool.Exec(ctx, `INSERT INTO profiles(subject_id,tenant,plan,features,last_seen_at)
	  VALUES ($1,$2,$3,$4,$5)
	  ON CONFLICT (subject_id) DO UPDATE SET tenant=EXCLUDED.tenant,plan=EXCLUDED.plan,features=EXCLUDED.features,last_seen_at=EXCLUDED.last_seen_at`,
		pr.SubjectID, string(pr.Tenant), string(pr.Plan), featureStrings(pr.Features), seen)
	if err != nil {
		p.log.Debugw("profile upsert", "subject", pr.SubjectID, "err", err)
	}
	return err
}

func (p *pgStore) count(ctx context.Context, query, subjectID string) (int64, error) {
	var n int64
	if err := p.dbPool.QueryRow(ctx, query, subjectID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
