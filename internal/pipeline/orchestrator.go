package pipeline

import (
	"context"
	"errors"
	"fmt"

	"channel-audit/internal/models"
	"channel-audit/internal/store"
	"channel-audit/internal/telemetry"
)

// JobStore is the persistence surface the orchestrator needs.
type JobStore interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	MergeJob(ctx context.Context, id string, patch store.JobPatch) error
}

// ChannelResolver maps a user-supplied channel query to a channel id.
type ChannelResolver interface {
	ResolveChannel(ctx context.Context, query string) (string, error)
}

// VideoFetcher returns recent uploads with statistics for a channel.
type VideoFetcher interface {
	FetchRecentVideos(ctx context.Context, channelID string, limit int) ([]models.Video, error)
}

// Analyzer turns fetched videos plus requested services into a report.
type Analyzer interface {
	Analyze(ctx context.Context, videos []models.Video, services []string) (*models.Report, error)
}

// Orchestrator drives a job through resolve -> fetch -> analyze,
// persisting every transition. Each stage's success is durably
// recorded before the next begins; the first failure marks the job
// failed and stops the run. One run owns one job id.
type Orchestrator struct {
	store      JobStore
	resolver   ChannelResolver
	fetcher    VideoFetcher
	analyzer   Analyzer
	fetchLimit int
}

// New wires the orchestrator's collaborators.
func New(st JobStore, resolver ChannelResolver, fetcher VideoFetcher, analyzer Analyzer, fetchLimit int) *Orchestrator {
	if fetchLimit <= 0 {
		fetchLimit = 10
	}
	return &Orchestrator{
		store:      st,
		resolver:   resolver,
		fetcher:    fetcher,
		analyzer:   analyzer,
		fetchLimit: fetchLimit,
	}
}

// Run executes the pipeline for one job. Stage failures are absorbed
// into the job record and do not surface as an error; only persistence
// faults do, so the caller can log them.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		// Never created, or already cleaned up. Nothing to do.
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	channelID, err := o.resolver.ResolveChannel(ctx, job.ChannelName)
	if err != nil {
		return o.fail(ctx, jobID, "resolve", KindUpstream, err)
	}
	if err := o.advance(ctx, jobID, "resolve", store.JobPatch{
		Status:    ptr(models.StatusChannelResolved),
		ChannelID: &channelID,
	}); err != nil {
		return err
	}

	videos, err := o.fetcher.FetchRecentVideos(ctx, channelID, o.fetchLimit)
	if err != nil {
		return o.fail(ctx, jobID, "fetch", KindUpstream, err)
	}
	if err := o.advance(ctx, jobID, "fetch", store.JobPatch{
		Status:    ptr(models.StatusVideosFetched),
		Videos:    videos,
		HasVideos: true,
	}); err != nil {
		return err
	}

	// Re-read to pick up fields written since submission, e.g. a
	// late-arriving services selection.
	job, err = o.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reload job %s: %w", jobID, err)
	}

	report, err := o.analyzer.Analyze(ctx, videos, job.Services)
	if err != nil {
		return o.fail(ctx, jobID, "analyze", KindAnalysis, err)
	}
	if err := o.advance(ctx, jobID, "analyze", store.JobPatch{
		Status: ptr(models.StatusCompleted),
		Report: report,
	}); err != nil {
		return err
	}

	telemetry.JobsCompleted.Inc()
	return nil
}

// advance persists a successful stage transition. A persistence fault
// here gets one best-effort attempt to mark the job failed with a
// generic message before surfacing.
func (o *Orchestrator) advance(ctx context.Context, jobID, stage string, patch store.JobPatch) error {
	if err := o.store.MergeJob(ctx, jobID, patch); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return nil
		}
		telemetry.StageCounter.WithLabelValues(stage, "store_error").Inc()
		_ = o.markFailed(ctx, jobID, KindStore, "internal storage error")
		return fmt.Errorf("persist %s for job %s: %w", stage, jobID, err)
	}
	telemetry.StageCounter.WithLabelValues(stage, "ok").Inc()
	return nil
}

// fail records a stage failure as the job's terminal state.
func (o *Orchestrator) fail(ctx context.Context, jobID, stage string, fallback Kind, cause error) error {
	telemetry.StageCounter.WithLabelValues(stage, "failed").Inc()
	telemetry.JobsFailed.Inc()
	if err := o.markFailed(ctx, jobID, KindOf(cause, fallback), cause.Error()); err != nil {
		return fmt.Errorf("persist failure of %s for job %s: %w", stage, jobID, err)
	}
	return nil
}

func (o *Orchestrator) markFailed(ctx context.Context, jobID string, kind Kind, message string) error {
	err := o.store.MergeJob(ctx, jobID, store.JobPatch{
		Status:    ptr(models.StatusFailed),
		Error:     &message,
		ErrorKind: ptr(string(kind)),
	})
	if errors.Is(err, store.ErrJobNotFound) {
		return nil
	}
	return err
}

func ptr(s string) *string {
	return &s
}
