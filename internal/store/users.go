package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"channel-audit/internal/models"
)

// CreateUserParams collects inputs required to insert a user.
type CreateUserParams struct {
	Email        string
	Username     string
	FullName     *string
	PasswordHash string
}

// CreateUser inserts an account row on the free plan.
func (s *Store) CreateUser(ctx context.Context, p CreateUserParams) (models.User, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, username, full_name, password_hash, plan, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'free', $6, $6)
	`, id, p.Email, p.Username, p.FullName, p.PasswordHash, now)
	if err != nil {
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}

	return models.User{
		ID:           id,
		Email:        p.Email,
		Username:     p.Username,
		FullName:     p.FullName,
		PasswordHash: p.PasswordHash,
		Plan:         "free",
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// GetUserByEmail fetches a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return s.getUser(ctx, "email", email)
}

// GetUserByID fetches a user by id.
func (s *Store) GetUserByID(ctx context.Context, id string) (models.User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *Store) getUser(ctx context.Context, column, value string) (models.User, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, email, username, full_name, password_hash, avatar_url, plan, total_jobs, active_jobs, job_ids, created_at, updated_at
		FROM users WHERE %s = $1
	`, column), value)

	var user models.User
	var fullName, avatarURL pgtype.Text

	err := row.Scan(&user.ID, &user.Email, &user.Username, &fullName, &user.PasswordHash,
		&avatarURL, &user.Plan, &user.TotalJobs, &user.ActiveJobs, &user.JobIDs, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("scan user: %w", err)
	}
	user.FullName = textPtr(fullName)
	user.AvatarURL = textPtr(avatarURL)
	return user, nil
}

// SetUserAvatar stores the uploaded avatar location.
func (s *Store) SetUserAvatar(ctx context.Context, id, url string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET avatar_url = $2, updated_at = NOW() WHERE id = $1
	`, id, url)
	if err != nil {
		return fmt.Errorf("set avatar: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// BumpUserJobs increments the owning user's job counters and records
// the job id. Missing users are not an error; submission proceeds
// regardless.
func (s *Store) BumpUserJobs(ctx context.Context, email, jobID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET total_jobs = total_jobs + 1,
		    active_jobs = active_jobs + 1,
		    job_ids = array_append(job_ids, $2),
		    updated_at = NOW()
		WHERE email = $1
	`, email, jobID)
	if err != nil {
		return fmt.Errorf("bump user jobs: %w", err)
	}
	return nil
}
