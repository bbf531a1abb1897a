package models

import (
	"time"
)

// User is an account row. PasswordHash is never serialized.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	FullName     *string   `json:"full_name,omitempty"`
	PasswordHash string    `json:"-"`
	AvatarURL    *string   `json:"avatar_url,omitempty"`
	Plan         string    `json:"plan"`
	TotalJobs    int       `json:"total_jobs"`
	ActiveJobs   int       `json:"active_jobs"`
	JobIDs       []string  `json:"job_ids,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
