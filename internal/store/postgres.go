package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"channel-audit/internal/models"
)

// ErrJobNotFound is returned for reads and merges against unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// ErrUserNotFound is returned for reads against unknown users.
var ErrUserNotFound = errors.New("user not found")

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJobParams collects inputs required to insert a job.
type CreateJobParams struct {
	Email          string
	ChannelName    string
	Services       []string
	IdempotencyKey string
	IdempotencyTTL time.Duration
}

// CreateJob inserts a job row in queued status, honoring the idempotency
// key if provided. The boolean reports whether an existing job was
// reused via idempotency.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, bool, error) {
	if p.Services == nil {
		p.Services = []string{}
	}
	servicesJSON, err := json.Marshal(p.Services)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("marshal services: %w", err)
	}

	// If an idempotency key already exists, short-circuit before creating anything.
	if p.IdempotencyKey != "" {
		if existing, found, err := s.FindByIdempotencyKey(ctx, p.IdempotencyKey); err != nil {
			return models.Job{}, false, err
		} else if found {
			return existing, true, nil
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, email, channel_name, services, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, id, p.Email, p.ChannelName, servicesJSON, models.StatusQueued, now)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("insert job: %w", err)
	}

	if p.IdempotencyKey != "" {
		expires := now.Add(p.IdempotencyTTL)
		tag, err := tx.Exec(ctx, `
			INSERT INTO idempotency_keys (key, job_id, expires_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO NOTHING
		`, p.IdempotencyKey, id, expires)
		if err != nil {
			return models.Job{}, false, fmt.Errorf("insert idempotency key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Someone else claimed the key after our initial check; return existing job.
			if err := tx.Rollback(ctx); err != nil {
				return models.Job{}, false, fmt.Errorf("rollback after idempotency conflict: %w", err)
			}
			existing, found, err := s.FindByIdempotencyKey(ctx, p.IdempotencyKey)
			if err != nil {
				return models.Job{}, false, err
			}
			if !found {
				return models.Job{}, false, errors.New("idempotency conflict but no existing job found")
			}
			return existing, true, nil
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, false, fmt.Errorf("commit: %w", err)
	}

	return models.Job{
		ID:          id,
		Email:       p.Email,
		ChannelName: p.ChannelName,
		Services:    p.Services,
		Status:      models.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, false, nil
}

// FindByIdempotencyKey returns the job mapped to the key if present and unexpired.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (models.Job, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT job_id FROM idempotency_keys WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("query idempotency key: %w", err)
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return models.Job{}, false, err
	}
	return job, true, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, channel_name, channel_id, services, status, error, error_kind, videos, report, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id)

	var job models.Job
	var channelID, errText, errKind pgtype.Text
	var servicesJSON []byte
	var videosJSON, reportJSON []byte

	err := row.Scan(&job.ID, &job.Email, &job.ChannelName, &channelID, &servicesJSON,
		&job.Status, &errText, &errKind, &videosJSON, &reportJSON, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrJobNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal(servicesJSON, &job.Services); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal services: %w", err)
	}
	if len(videosJSON) > 0 {
		if err := json.Unmarshal(videosJSON, &job.Videos); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal videos: %w", err)
		}
	}
	if len(reportJSON) > 0 {
		job.Report = &models.Report{}
		if err := json.Unmarshal(reportJSON, job.Report); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal report: %w", err)
		}
	}
	job.ChannelID = textPtr(channelID)
	job.Error = textPtr(errText)
	job.ErrorKind = textPtr(errKind)
	return job, nil
}

// JobPatch is a field-level partial update. Nil fields are left
// untouched; Videos distinguishes "unset" (nil) from "empty" via
// HasVideos so an empty fetch result still persists.
type JobPatch struct {
	Status    *string
	ChannelID *string
	Error     *string
	ErrorKind *string
	Videos    []models.Video
	HasVideos bool
	Report    *models.Report
}

// MergeJob applies the patch atomically, refreshing updated_at.
// Returns ErrJobNotFound when no row matched.
func (s *Store) MergeJob(ctx context.Context, id string, patch JobPatch) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{id}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.ChannelID != nil {
		add("channel_id", *patch.ChannelID)
	}
	if patch.Error != nil {
		add("error", *patch.Error)
	}
	if patch.ErrorKind != nil {
		add("error_kind", *patch.ErrorKind)
	}
	if patch.HasVideos {
		videosJSON, err := json.Marshal(patch.Videos)
		if err != nil {
			return fmt.Errorf("marshal videos: %w", err)
		}
		add("videos", videosJSON)
	}
	if patch.Report != nil {
		reportJSON, err := json.Marshal(patch.Report)
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		add("report", reportJSON)
	}

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = $1", joinSets(sets))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("merge job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
