package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/db"
	"github.com/sells-group/lead-pipeline/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS discovery_jobs (
	id            TEXT PRIMARY KEY,
	campaign_id   TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	current_stage TEXT NOT NULL DEFAULT '',
	progress      INTEGER NOT NULL DEFAULT 0,
	config        JSONB NOT NULL,
	metrics       JSONB NOT NULL DEFAULT '{}',
	error         TEXT,
	request_hash  TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_discovery_jobs_status ON discovery_jobs(status);
CREATE INDEX IF NOT EXISTS idx_discovery_jobs_created_at ON discovery_jobs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_discovery_jobs_request_hash ON discovery_jobs(request_hash);

CREATE TABLE IF NOT EXISTS campaigns (
	id             TEXT PRIMARY KEY,
	job_id         TEXT NOT NULL,
	name           TEXT NOT NULL,
	business_type  TEXT NOT NULL,
	location       TEXT NOT NULL,
	tier_key       TEXT NOT NULL,
	status         TEXT NOT NULL,
	total_leads    INTEGER NOT NULL DEFAULT 0,
	total_cost     DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	campaign_hash  TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leads (
	id               TEXT PRIMARY KEY,
	campaign_id      TEXT NOT NULL REFERENCES campaigns(id),
	job_id           TEXT NOT NULL,
	business_name    TEXT NOT NULL,
	address          TEXT NOT NULL DEFAULT '',
	phone            TEXT,
	website          TEXT,
	email            TEXT,
	confidence_score INTEGER NOT NULL,
	rating           DOUBLE PRECISION,
	data_sources     TEXT[] NOT NULL DEFAULT '{}',
	enhancement_data JSONB NOT NULL DEFAULT '{}',
	dedup_key        TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_campaign_id ON leads(campaign_id);
CREATE INDEX IF NOT EXISTS idx_campaigns_campaign_hash ON campaigns(campaign_hash);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const jobColumns = `id, campaign_id, status, current_stage, progress, config, metrics, error, created_at, started_at, completed_at`

// CreateJob inserts a new job row.
func (s *PostgresStore) CreateJob(ctx context.Context, job *model.DiscoveryJob) error {
	cfg, metrics, err := marshalJob(job)
	if err != nil {
		return eris.Wrap(err, "postgres: create job")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO discovery_jobs (id, campaign_id, status, current_stage, progress, config, metrics, error, request_hash, created_at, started_at, completed_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.CampaignID, string(job.Status), string(job.Stage), job.Progress, cfg, metrics,
		errorText(job), job.Config.RequestHash, job.CreatedAt, job.StartedAt, job.CompletedAt, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: insert job %s", job.ID)
}

// upsertJobSQL never touches a row that already reached a terminal status.
const upsertJobSQL = `INSERT INTO discovery_jobs (id, campaign_id, status, current_stage, progress, config, metrics, error, request_hash, created_at, started_at, completed_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		current_stage = EXCLUDED.current_stage,
		progress = EXCLUDED.progress,
		metrics = EXCLUDED.metrics,
		error = EXCLUDED.error,
		started_at = COALESCE(discovery_jobs.started_at, EXCLUDED.started_at),
		completed_at = EXCLUDED.completed_at,
		updated_at = EXCLUDED.updated_at
	WHERE discovery_jobs.status NOT IN ('completed', 'failed')`

func upsertJob(ctx context.Context, q db.Querier, job *model.DiscoveryJob) error {
	cfg, metrics, err := marshalJob(job)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, upsertJobSQL,
		job.ID, job.CampaignID, string(job.Status), string(job.Stage), job.Progress, cfg, metrics,
		errorText(job), job.Config.RequestHash, job.CreatedAt, job.StartedAt, job.CompletedAt, time.Now().UTC(),
	)
	return err
}

// UpdateJob implements JobWriter.
func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.DiscoveryJob) error {
	return eris.Wrapf(upsertJob(ctx, s.pool, job), "postgres: update job %s", job.ID)
}

// GetJob returns ErrNotFound when id is unknown.
func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.DiscoveryJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM discovery_jobs WHERE id = $1`, id)
	job, err := scanPGJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (s *PostgresStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.DiscoveryJob, error) {
	query := `SELECT ` + jobColumns + ` FROM discovery_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.CampaignID != "" {
		query += fmt.Sprintf(` AND campaign_id = $%d`, argIdx)
		args = append(args, filter.CampaignID)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.DiscoveryJob
	for rows.Next() {
		job, err := scanPGJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

// JobStats summarizes jobs created since the given time.
func (s *PostgresStore) JobStats(ctx context.Context, since time.Time) (*model.JobStats, error) {
	var st model.JobStats
	err := s.pool.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status IN ('pending', 'processing')),
			COALESCE(SUM((metrics->>'total_cost')::float8), 0),
			COALESCE(MAX((metrics->>'total_cost')::float8), 0)
		 FROM discovery_jobs WHERE created_at >= $1`,
		since,
	).Scan(&st.Completed, &st.Failed, &st.Running, &st.TotalCost, &st.MaxCost)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: job stats")
	}
	return &st, nil
}

var leadColumns = []string{
	"id", "campaign_id", "job_id", "business_name", "address", "phone", "website", "email",
	"confidence_score", "rating", "data_sources", "enhancement_data", "dedup_key", "created_at",
}

// SaveResults writes the campaign, its leads and the terminal job row in one
// transaction. Leads are upserted by id so a retried save is harmless.
func (s *PostgresStore) SaveResults(ctx context.Context, job *model.DiscoveryJob, campaign *model.Campaign, leads []model.ScoredLead) error {
	rows := make([][]any, 0, len(leads))
	now := time.Now().UTC()
	for _, l := range leads {
		enh, err := json.Marshal(l.Enhancement)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal lead %s", l.ID)
		}
		rows = append(rows, []any{
			l.ID, campaign.ID, job.ID, l.BusinessName, l.Address, nullString(l.Phone), nullString(l.Website), l.Email,
			l.OptimizedScore, l.Rating, nonNil(l.DataSources), enh, l.DedupKey, now,
		})
	}

	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO campaigns (id, job_id, name, business_type, location, tier_key, status, total_leads, total_cost, avg_confidence, campaign_hash, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, total_leads = EXCLUDED.total_leads,
				total_cost = EXCLUDED.total_cost, avg_confidence = EXCLUDED.avg_confidence`,
			campaign.ID, campaign.JobID, campaign.Name, campaign.BusinessType, campaign.Location, campaign.TierKey,
			campaign.Status, campaign.TotalLeads, campaign.TotalCost, campaign.AvgConfidence, campaign.CampaignHash, campaign.CreatedAt,
		); err != nil {
			return eris.Wrap(err, "insert campaign")
		}

		if _, err := db.BulkUpsert(ctx, tx, db.UpsertConfig{
			Table:        "leads",
			Columns:      leadColumns,
			ConflictKeys: []string{"id"},
		}, rows); err != nil {
			return err
		}

		return eris.Wrap(upsertJob(ctx, tx, job), "update job")
	})
	return eris.Wrapf(err, "postgres: save results for job %s", job.ID)
}

// ListLeads returns a campaign's leads, best first.
func (s *PostgresStore) ListLeads(ctx context.Context, campaignID string) ([]model.ScoredLead, error) {
	leads, err := s.queryLeads(ctx,
		`SELECT `+pgLeadSelect+` FROM leads l WHERE l.campaign_id = $1 ORDER BY l.confidence_score DESC, l.business_name`,
		campaignID,
	)
	return leads, eris.Wrapf(err, "postgres: list leads for %s", campaignID)
}

// ReusableLeads returns the best leads from completed campaigns with the
// given campaign hash.
func (s *PostgresStore) ReusableLeads(ctx context.Context, campaignHash string, limit int) ([]model.ScoredLead, error) {
	if campaignHash == "" {
		return nil, nil
	}
	leads, err := s.queryLeads(ctx,
		`SELECT `+pgLeadSelect+` FROM leads l JOIN campaigns c ON c.id = l.campaign_id
		 WHERE c.campaign_hash = $1 AND c.status = 'completed'
		 ORDER BY l.confidence_score DESC, l.created_at DESC LIMIT $2`,
		campaignHash, listLimit(limit),
	)
	return leads, eris.Wrap(err, "postgres: reusable leads")
}

const pgLeadSelect = `l.id, l.business_name, l.address, l.phone, l.website, l.email, l.confidence_score, l.rating, l.data_sources, l.enhancement_data, l.dedup_key`

func (s *PostgresStore) queryLeads(ctx context.Context, query string, args ...any) ([]model.ScoredLead, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leads []model.ScoredLead
	for rows.Next() {
		var (
			l              model.ScoredLead
			phone, website *string
			rating         *float64
			enh            []byte
		)
		if err := rows.Scan(&l.ID, &l.BusinessName, &l.Address, &phone, &website, &l.Email,
			&l.OptimizedScore, &rating, &l.DataSources, &enh, &l.DedupKey); err != nil {
			return nil, eris.Wrap(err, "scan lead")
		}
		l.Phone, l.Website = deref(phone), deref(website)
		if rating != nil {
			l.Rating = *rating
		}
		if err := json.Unmarshal(enh, &l.Enhancement); err != nil {
			return nil, eris.Wrap(err, "unmarshal enhancement data")
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

func scanPGJob(row pgx.Row) (*model.DiscoveryJob, error) {
	var (
		job          model.DiscoveryJob
		cfg, metrics []byte
		status       string
		stage        string
	)
	if err := row.Scan(&job.ID, &job.CampaignID, &status, &stage, &job.Progress, &cfg, &metrics,
		&job.Error, &job.CreatedAt, &job.StartedAt, &job.CompletedAt); err != nil {
		return nil, err
	}
	job.Status, job.Stage = model.JobStatus(status), model.JobStage(stage)
	if err := unmarshalJob(&job, cfg, metrics); err != nil {
		return nil, err
	}
	return &job, nil
}

func marshalJob(job *model.DiscoveryJob) (cfg, metrics []byte, err error) {
	if cfg, err = json.Marshal(job.Config); err != nil {
		return nil, nil, eris.Wrap(err, "marshal config")
	}
	if metrics, err = json.Marshal(job.Metrics); err != nil {
		return nil, nil, eris.Wrap(err, "marshal metrics")
	}
	return cfg, metrics, nil
}

func unmarshalJob(job *model.DiscoveryJob, cfg, metrics []byte) error {
	if err := json.Unmarshal(cfg, &job.Config); err != nil {
		return eris.Wrap(err, "unmarshal config")
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &job.Metrics); err != nil {
			return eris.Wrap(err, "unmarshal metrics")
		}
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
