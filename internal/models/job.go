package models

import (
	"time"
)

// JobStatus enumerates pipeline states persisted in Postgres.
// A job only ever moves forward along queued -> channel_resolved ->
// videos_fetched -> completed, or jumps to failed from any
// non-terminal state.
const (
	StatusQueued          = "queued"
	StatusChannelResolved = "channel_resolved"
	StatusVideosFetched   = "videos_fetched"
	StatusCompleted       = "completed"
	StatusFailed          = "failed"
)

// StatusRank orders statuses along the forward pipeline. Failed is
// terminal but outside the forward order and ranks -1.
func StatusRank(status string) int {
	switch status {
	case StatusQueued:
		return 0
	case StatusChannelResolved:
		return 1
	case StatusVideosFetched:
		return 2
	case StatusCompleted:
		return 3
	default:
		return -1
	}
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Job represents one channel-audit request persisted in Postgres.
type Job struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	ChannelName string    `json:"channel_name"`
	ChannelID   *string   `json:"channel_id,omitempty"`
	Services    []string  `json:"services"`
	Status      string    `json:"status"`
	Error       *string   `json:"error,omitempty"`
	ErrorKind   *string   `json:"error_kind,omitempty"`
	Videos      []Video   `json:"videos,omitempty"`
	Report      *Report   `json:"report,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Video is one fetched upload with its statistics.
type Video struct {
	VideoID     string     `json:"video_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	PublishedAt string     `json:"published_at"`
	URL         string     `json:"url"`
	Statistics  VideoStats `json:"statistics"`
}

// VideoStats carries the counters returned by the stats lookup.
type VideoStats struct {
	Views    uint64 `json:"views"`
	Likes    uint64 `json:"likes"`
	Comments uint64 `json:"comments"`
}

// Report is the structured analysis result for a completed job.
type Report struct {
	Summary         string            `json:"summary"`
	Recommendations []string          `json:"recommendations,omitempty"`
	ServiceNotes    map[string]string `json:"service_notes,omitempty"`
}
