package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS discovery_jobs (
	id            TEXT PRIMARY KEY,
	campaign_id   TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	current_stage TEXT NOT NULL DEFAULT '',
	progress      INTEGER NOT NULL DEFAULT 0,
	config        TEXT NOT NULL,
	metrics       TEXT NOT NULL DEFAULT '{}',
	error         TEXT,
	request_hash  TEXT,
	created_at    DATETIME NOT NULL,
	started_at    DATETIME,
	completed_at  DATETIME,
	updated_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_discovery_jobs_status ON discovery_jobs(status);
CREATE INDEX IF NOT EXISTS idx_discovery_jobs_created_at ON discovery_jobs(created_at);

CREATE TABLE IF NOT EXISTS campaigns (
	id             TEXT PRIMARY KEY,
	job_id         TEXT NOT NULL,
	name           TEXT NOT NULL,
	business_type  TEXT NOT NULL,
	location       TEXT NOT NULL,
	tier_key       TEXT NOT NULL,
	status         TEXT NOT NULL,
	total_leads    INTEGER NOT NULL DEFAULT 0,
	total_cost     REAL NOT NULL DEFAULT 0,
	avg_confidence REAL NOT NULL DEFAULT 0,
	campaign_hash  TEXT,
	created_at     DATETIME NOT NULL
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
	rating           REAL,
	data_sources     TEXT NOT NULL DEFAULT '[]',
	enhancement_data TEXT NOT NULL DEFAULT '{}',
	dedup_key        TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_campaign_id ON leads(campaign_id);
CREATE INDEX IF NOT EXISTS idx_campaigns_campaign_hash ON campaigns(campaign_hash);
`

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqlExecer is satisfied by *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateJob inserts a new job row.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.DiscoveryJob) error {
	cfg, metrics, err := marshalJob(job)
	if err != nil {
		return eris.Wrap(err, "sqlite: create job")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO discovery_jobs (id, campaign_id, status, current_stage, progress, config, metrics, error, request_hash, created_at, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.CampaignID, string(job.Status), string(job.Stage), job.Progress, string(cfg), string(metrics),
		errorText(job), job.Config.RequestHash, job.CreatedAt.UTC(), nullTime(job.StartedAt), nullTime(job.CompletedAt), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
}

func sqliteUpsertJob(ctx context.Context, ex sqlExecer, job *model.DiscoveryJob) error {
	cfg, metrics, err := marshalJob(job)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO discovery_jobs (id, campaign_id, status, current_stage, progress, config, metrics, error, request_hash, created_at, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			current_stage = excluded.current_stage,
			progress = excluded.progress,
			metrics = excluded.metrics,
			error = excluded.error,
			started_at = COALESCE(discovery_jobs.started_at, excluded.started_at),
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
		 WHERE discovery_jobs.status NOT IN ('completed', 'failed')`,
		job.ID, job.CampaignID, string(job.Status), string(job.Stage), job.Progress, string(cfg), string(metrics),
		errorText(job), job.Config.RequestHash, job.CreatedAt.UTC(), nullTime(job.StartedAt), nullTime(job.CompletedAt), time.Now().UTC(),
	)
	return err
}

// UpdateJob implements JobWriter.
func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.DiscoveryJob) error {
	return eris.Wrapf(sqliteUpsertJob(ctx, s.db, job), "sqlite: update job %s", job.ID)
}

const sqliteJobColumns = `id, campaign_id, status, current_stage, progress, config, metrics, error, created_at, started_at, completed_at`

// GetJob returns ErrNotFound when id is unknown.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.DiscoveryJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM discovery_jobs WHERE id = ?`, id)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (s *SQLiteStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.DiscoveryJob, error) {
	query := `SELECT ` + sqliteJobColumns + ` FROM discovery_jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.CampaignID != "" {
		query += ` AND campaign_id = ?`
		args = append(args, filter.CampaignID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.DiscoveryJob
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// JobStats summarizes jobs created since the given time.
func (s *SQLiteStore) JobStats(ctx context.Context, since time.Time) (*model.JobStats, error) {
	var st model.JobStats
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('pending', 'processing') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CAST(json_extract(metrics, '$.total_cost') AS REAL)), 0),
			COALESCE(MAX(CAST(json_extract(metrics, '$.total_cost') AS REAL)), 0)
		 FROM discovery_jobs WHERE created_at >= ?`,
		since.UTC(),
	).Scan(&st.Completed, &st.Failed, &st.Running, &st.TotalCost, &st.MaxCost)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: job stats")
	}
	return &st, nil
}

// SaveResults writes the campaign, its leads and the terminal job row in one
// transaction.
func (s *SQLiteStore) SaveResults(ctx context.Context, job *model.DiscoveryJob, campaign *model.Campaign, leads []model.ScoredLead) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save results")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO campaigns (id, job_id, name, business_type, location, tier_key, status, total_leads, total_cost, avg_confidence, campaign_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET status = excluded.status, total_leads = excluded.total_leads,
			total_cost = excluded.total_cost, avg_confidence = excluded.avg_confidence`,
		campaign.ID, campaign.JobID, campaign.Name, campaign.BusinessType, campaign.Location, campaign.TierKey,
		campaign.Status, campaign.TotalLeads, campaign.TotalCost, campaign.AvgConfidence, campaign.CampaignHash, campaign.CreatedAt.UTC(),
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert campaign %s", campaign.ID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO leads (id, campaign_id, job_id, business_name, address, phone, website, email, confidence_score, rating, data_sources, enhancement_data, dedup_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET email = excluded.email, confidence_score = excluded.confidence_score,
			data_sources = excluded.data_sources, enhancement_data = excluded.enhancement_data`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare lead insert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for _, l := range leads {
		sources, err := json.Marshal(nonNil(l.DataSources))
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal lead %s", l.ID)
		}
		enh, err := json.Marshal(l.Enhancement)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal lead %s", l.ID)
		}
		if _, err := stmt.ExecContext(ctx,
			l.ID, campaign.ID, job.ID, l.BusinessName, l.Address, nullString(l.Phone), nullString(l.Website), l.Email,
			l.OptimizedScore, l.Rating, string(sources), string(enh), l.DedupKey, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert lead %s", l.ID)
		}
	}

	if err := sqliteUpsertJob(ctx, tx, job); err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", job.ID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save results")
}

// ListLeads returns a campaign's leads, best first.
func (s *SQLiteStore) ListLeads(ctx context.Context, campaignID string) ([]model.ScoredLead, error) {
	leads, err := s.queryLeads(ctx,
		`SELECT `+sqliteLeadSelect+` FROM leads l WHERE l.campaign_id = ? ORDER BY l.confidence_score DESC, l.business_name`,
		campaignID,
	)
	return leads, eris.Wrapf(err, "sqlite: list leads for %s", campaignID)
}

// ReusableLeads returns the best leads from completed campaigns with the
// given campaign hash.
func (s *SQLiteStore) ReusableLeads(ctx context.Context, campaignHash string, limit int) ([]model.ScoredLead, error) {
	if campaignHash == "" {
		return nil, nil
	}
	leads, err := s.queryLeads(ctx,
		`SELECT `+sqliteLeadSelect+` FROM leads l JOIN campaigns c ON c.id = l.campaign_id
		 WHERE c.campaign_hash = ? AND c.status = 'completed'
		 ORDER BY l.confidence_score DESC, l.created_at DESC LIMIT ?`,
		campaignHash, listLimit(limit),
	)
	return leads, eris.Wrap(err, "sqlite: reusable leads")
}

const sqliteLeadSelect = `l.id, l.business_name, l.address, l.phone, l.website, l.email, l.confidence_score, l.rating, l.data_sources, l.enhancement_data, l.dedup_key`

func (s *SQLiteStore) queryLeads(ctx context.Context, query string, args ...any) ([]model.ScoredLead, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var leads []model.ScoredLead
	for rows.Next() {
		var (
			l                     model.ScoredLead
			phone, website, email sql.NullString
			rating                sql.NullFloat64
			sources, enh          string
		)
		if err := rows.Scan(&l.ID, &l.BusinessName, &l.Address, &phone, &website, &email,
			&l.OptimizedScore, &rating, &sources, &enh, &l.DedupKey); err != nil {
			return nil, eris.Wrap(err, "scan lead")
		}
		l.Phone, l.Website, l.Rating = phone.String, website.String, rating.Float64
		if email.Valid {
			e := email.String
			l.Email = &e
		}
		if err := json.Unmarshal([]byte(sources), &l.DataSources); err != nil {
			return nil, eris.Wrap(err, "unmarshal data sources")
		}
		if err := json.Unmarshal([]byte(enh), &l.Enhancement); err != nil {
			return nil, eris.Wrap(err, "unmarshal enhancement data")
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row scannable) (*model.DiscoveryJob, error) {
	var (
		job                model.DiscoveryJob
		status, stage      string
		cfg, metrics       string
		errText            sql.NullString
		started, completed sql.NullTime
	)
	if err := row.Scan(&job.ID, &job.CampaignID, &status, &stage, &job.Progress, &cfg, &metrics,
		&errText, &job.CreatedAt, &started, &completed); err != nil {
		return nil, err
	}
	job.Status, job.Stage = model.JobStatus(status), model.JobStage(stage)
	if errText.Valid {
		e := errText.String
		job.Error = &e
	}
	if started.Valid {
		t := started.Time
		job.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	if err := unmarshalJob(&job, []byte(cfg), []byte(metrics)); err != nil {
		return nil, err
	}
	return &job, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
