package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"channel-audit/internal/models"
	"channel-audit/internal/store"
)

type fakeStore struct {
	mu          sync.Mutex
	jobs        map[string]models.Job
	transitions map[string][]string
	// mergeErr fails merges except the failed-status fallback, so the
	// best-effort markFailed path stays observable.
	mergeErr error
}

func newFakeStore(jobs ...models.Job) *fakeStore {
	f := &fakeStore{
		jobs:        map[string]models.Job{},
		transitions: map[string][]string{},
	}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeStore) GetJob(_ context.Context, id string) (models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return models.Job{}, store.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeStore) MergeJob(_ context.Context, id string, patch store.JobPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	if f.mergeErr != nil && (patch.Status == nil || *patch.Status != models.StatusFailed) {
		return f.mergeErr
	}
	if patch.Status != nil {
		job.Status = *patch.Status
		f.transitions[id] = append(f.transitions[id], *patch.Status)
	}
	if patch.ChannelID != nil {
		job.ChannelID = patch.ChannelID
	}
	if patch.Error != nil {
		job.Error = patch.Error
	}
	if patch.ErrorKind != nil {
		job.ErrorKind = patch.ErrorKind
	}
	if patch.HasVideos {
		job.Videos = patch.Videos
	}
	if patch.Report != nil {
		job.Report = patch.Report
	}
	f.jobs[id] = job
	return nil
}

func (f *fakeStore) setServices(id string, services []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[id]
	job.Services = services
	f.jobs[id] = job
}

type fakeResolver struct {
	calls int
	fn    func(query string) (string, error)
}

func (r *fakeResolver) ResolveChannel(_ context.Context, query string) (string, error) {
	r.calls++
	return r.fn(query)
}

type fakeFetcher struct {
	calls int
	fn    func(channelID string, limit int) ([]models.Video, error)
}

func (f *fakeFetcher) FetchRecentVideos(_ context.Context, channelID string, limit int) ([]models.Video, error) {
	f.calls++
	return f.fn(channelID, limit)
}

type fakeAnalyzer struct {
	calls    int
	services []string
	fn       func(videos []models.Video, services []string) (*models.Report, error)
}

func (a *fakeAnalyzer) Analyze(_ context.Context, videos []models.Video, services []string) (*models.Report, error) {
	a.calls++
	a.services = services
	return a.fn(videos, services)
}

func queuedJob(id string) models.Job {
	return models.Job{
		ID:          id,
		Email:       "creator@example.com",
		ChannelName: "some channel",
		Services:    []string{},
		Status:      models.StatusQueued,
	}
}

func sampleVideos(n int) []models.Video {
	videos := make([]models.Video, 0, n)
	for i := 0; i < n; i++ {
		videos = append(videos, models.Video{
			VideoID: fmt.Sprintf("vid-%d", i),
			Title:   fmt.Sprintf("video %d", i),
			URL:     fmt.Sprintf("https://www.youtube.com/watch?v=vid-%d", i),
		})
	}
	return videos
}

func assertForwardOnly(t *testing.T, transitions []string) {
	t.Helper()
	last := models.StatusRank(models.StatusQueued)
	for i, status := range transitions {
		if status == models.StatusFailed {
			if i != len(transitions)-1 {
				t.Fatalf("failed must be terminal, got transitions %v", transitions)
			}
			return
		}
		rank := models.StatusRank(status)
		if rank != last+1 {
			t.Fatalf("non-sequential transition to %s in %v", status, transitions)
		}
		last = rank
	}
}

func TestOrchestratorHappyPath(t *testing.T) {
	st := newFakeStore(queuedJob("job-1"))
	st.setServices("job-1", []string{"seo"})
	resolver := &fakeResolver{fn: func(string) (string, error) { return "UC123", nil }}
	fetcher := &fakeFetcher{fn: func(id string, limit int) ([]models.Video, error) {
		if id != "UC123" {
			t.Fatalf("fetch got channel %q", id)
		}
		if limit != 10 {
			t.Fatalf("fetch got limit %d", limit)
		}
		return sampleVideos(10), nil
	}}
	an := &fakeAnalyzer{fn: func(videos []models.Video, _ []string) (*models.Report, error) {
		return &models.Report{Summary: "solid channel"}, nil
	}}

	if err := New(st, resolver, fetcher, an, 10).Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	job := st.jobs["job-1"]
	if job.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if job.ChannelID == nil || *job.ChannelID != "UC123" {
		t.Fatalf("channel id not persisted: %v", job.ChannelID)
	}
	if len(job.Videos) != 10 {
		t.Fatalf("expected 10 videos, got %d", len(job.Videos))
	}
	if job.Report == nil || job.Report.Summary != "solid channel" {
		t.Fatalf("report not persisted: %+v", job.Report)
	}
	if job.Error != nil {
		t.Fatalf("completed job must not carry an error, got %q", *job.Error)
	}
	assertForwardOnly(t, st.transitions["job-1"])
	want := []string{models.StatusChannelResolved, models.StatusVideosFetched, models.StatusCompleted}
	if got := st.transitions["job-1"]; len(got) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, got)
	}
}

func TestOrchestratorResolveNotFound(t *testing.T) {
	st := newFakeStore(queuedJob("job-1"))
	resolver := &fakeResolver{fn: func(string) (string, error) {
		return "", NewError(KindNotFound, "channel not found: %q", "nonexistent-xyz")
	}}
	fetcher := &fakeFetcher{fn: func(string, int) ([]models.Video, error) { return nil, nil }}
	an := &fakeAnalyzer{fn: func([]models.Video, []string) (*models.Report, error) { return nil, nil }}

	if err := New(st, resolver, fetcher, an, 10).Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	job := st.jobs["job-1"]
	if job.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Error == nil || !strings.Contains(*job.Error, "not found") {
		t.Fatalf("error text missing: %v", job.Error)
	}
	if job.ErrorKind == nil || *job.ErrorKind != string(KindNotFound) {
		t.Fatalf("expected not_found kind, got %v", job.ErrorKind)
	}
	if job.ChannelID != nil || job.Videos != nil || job.Report != nil {
		t.Fatalf("no stage output may be set after resolve failure")
	}
	if fetcher.calls != 0 || an.calls != 0 {
		t.Fatalf("downstream stages must not run after resolve failure")
	}
}

func TestOrchestratorFetchFailure(t *testing.T) {
	st := newFakeStore(queuedJob("job-1"))
	resolver := &fakeResolver{fn: func(string) (string, error) { return "UC123", nil }}
	fetcher := &fakeFetcher{fn: func(string, int) ([]models.Video, error) {
		return nil, NewError(KindUpstream, "youtube returned 503")
	}}
	an := &fakeAnalyzer{fn: func([]models.Video, []string) (*models.Report, error) { return nil, nil }}

	if err := New(st, resolver, fetcher, an, 10).Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	job := st.jobs["job-1"]
	if job.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.ErrorKind == nil || *job.ErrorKind != string(KindUpstream) {
		t.Fatalf("expected upstream kind, got %v", job.ErrorKind)
	}
	// The resolve transition was durably recorded before the failure.
	if job.ChannelID == nil || *job.ChannelID != "UC123" {
		t.Fatalf("resolved channel id must survive fetch failure")
	}
	if job.Videos != nil || job.Report != nil {
		t.Fatalf("fetch failure must not leave partial results")
	}
	if an.calls != 0 {
		t.Fatalf("analyze must not run after fetch failure")
	}
	assertForwardOnly(t, st.transitions["job-1"])
}

func TestOrchestratorAnalyzeFailure(t *testing.T) {
	st := newFakeStore(queuedJob("job-1"))
	resolver := &fakeResolver{fn: func(string) (string, error) { return "UC123", nil }}
	fetcher := &fakeFetcher{fn: func(string, int) ([]models.Video, error) { return sampleVideos(3), nil }}
	an := &fakeAnalyzer{fn: func([]models.Video, []string) (*models.Report, error) {
		return nil, NewError(KindAnalysis, "completion rejected")
	}}

	if err := New(st, resolver, fetcher, an, 10).Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	job := st.jobs["job-1"]
	if job.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.ErrorKind == nil || *job.ErrorKind != string(KindAnalysis) {
		t.Fatalf("expected analysis kind, got %v", job.ErrorKind)
	}
	if len(job.Videos) != 3 {
		t.Fatalf("fetched videos must survive analyze failure")
	}
	if job.Report != nil {
		t.Fatalf("failed job must not carry a report")
	}
}

func TestOrchestratorEmptyVideoListStillCompletes(t *testing.T) {
	st := newFakeStore(queuedJob("job-1"))
	resolver := &fakeResolver{fn: func(string) (string, error) { return "UC123", nil }}
	fetcher := &fakeFetcher{fn: func(string, int) ([]models.Video, error) { return []models.Video{}, nil }}
	an := &fakeAnalyzer{fn: func(videos []models.Video, _ []string) (*models.Report, error) {
		if videos == nil {
			t.Fatalf("analyzer must receive an empty list, not nil")
		}
		return &models.Report{Summary: "no recent uploads"}, nil
	}}

	if err := New(st, resolver, fetcher, an, 10).Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}

	job := st.jobs["job-1"]
	if job.Status != models.StatusCompleted {
		t.Fatalf("empty fetch result is valid, expected completed, got %s", job.Status)
	}
	if an.calls != 1 {
		t.Fatalf("analyze must still run on an empty list")
	}
	want := []string{models.StatusChannelResolved, models.StatusVideosFetched, models.StatusCompleted}
	for i, status := range want {
		if st.transitions["job-1"][i] != status {
			t.Fatalf("expected transitions %v, got %v", want, st.transitions["job-1"])
		}
	}
}

func TestOrchestratorMissingJobIsSilent(t *testing.T) {
	st := newFakeStore()
	resolver := &fakeResolver{fn: func(string) (string, error) { return "UC123", nil }}
	fetcher := &fakeFetcher{fn: func(string, int) ([]models.Video, error) { return nil, nil }}
	an := &fakeAnalyzer{fn: func([]models.Video, []string) (*models.Report, error) { return nil, nil }}

	if err := New(st, resolver, fetcher, an, 10).Run(context.Background(), "ghost"); err != nil {
		t.Fatalf("missing job must be silent, got %v", err)
	}
	if resolver.calls != 0 || fetcher.calls != 0 || an.calls != 0 {
		t.Fatalf("no stage may run for a missing job")
	}
}

func TestOrchestratorPicksUpLateServices(t *testing.T) {
	st := newFakeStore(queuedJob("job-1"))
	resolver := &fakeResolver{fn: func(string) (string, error) { return "UC123", nil }}
	fetcher := &fakeFetcher{fn: func(string, int) ([]models.Video, error) {
		// Another writer attaches services while the pipeline runs.
		st.setServices("job-1", []string{"seo", "thumbnails"})
		return sampleVideos(2), nil
	}}
	an := &fakeAnalyzer{fn: func([]models.Video, []string) (*models.Report, error) {
		return &models.Report{Summary: "ok"}, nil
	}}

	if err := New(st, resolver, fetcher, an, 10).Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(an.services) != 2 || an.services[0] != "seo" || an.services[1] != "thumbnails" {
		t.Fatalf("analyzer must see services written after submission, got %v", an.services)
	}
}

func TestOrchestratorConcurrentJobsStayIndependent(t *testing.T) {
	jobA := queuedJob("job-a")
	jobA.ChannelName = "channel a"
	jobB := queuedJob("job-b")
	jobB.ChannelName = "channel b"
	st := newFakeStore(jobA, jobB)

	resolver := &fakeResolver{fn: func(query string) (string, error) {
		if query == "channel a" {
			return "UC-A", nil
		}
		return "UC-B", nil
	}}
	fetcher := &fakeFetcher{fn: func(channelID string, _ int) ([]models.Video, error) {
		return []models.Video{{VideoID: channelID + "-vid"}}, nil
	}}
	an := &fakeAnalyzer{fn: func(videos []models.Video, _ []string) (*models.Report, error) {
		return &models.Report{Summary: videos[0].VideoID}, nil
	}}
	orch := New(st, resolver, fetcher, an, 10)

	var wg sync.WaitGroup
	for _, id := range []string{"job-a", "job-b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := orch.Run(context.Background(), id); err != nil {
				t.Errorf("run %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	a, b := st.jobs["job-a"], st.jobs["job-b"]
	if *a.ChannelID != "UC-A" || *b.ChannelID != "UC-B" {
		t.Fatalf("jobs interleaved: a=%v b=%v", a.ChannelID, b.ChannelID)
	}
	if a.Report.Summary != "UC-A-vid" || b.Report.Summary != "UC-B-vid" {
		t.Fatalf("reports interleaved: a=%q b=%q", a.Report.Summary, b.Report.Summary)
	}
	assertForwardOnly(t, st.transitions["job-a"])
	assertForwardOnly(t, st.transitions["job-b"])
}

func TestOrchestratorSurfacesPersistenceFaults(t *testing.T) {
	st := newFakeStore(queuedJob("job-1"))
	st.mergeErr = errors.New("connection reset")
	resolver := &fakeResolver{fn: func(string) (string, error) { return "UC123", nil }}
	fetcher := &fakeFetcher{fn: func(string, int) ([]models.Video, error) { return sampleVideos(1), nil }}
	an := &fakeAnalyzer{fn: func([]models.Video, []string) (*models.Report, error) { return &models.Report{}, nil }}

	err := New(st, resolver, fetcher, an, 10).Run(context.Background(), "job-1")
	if err == nil {
		t.Fatalf("persistence fault must surface to the caller")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("fault cause lost: %v", err)
	}

	// The best-effort fallback still marked the job failed.
	job := st.jobs["job-1"]
	if job.Status != models.StatusFailed {
		t.Fatalf("expected failed after store fault, got %s", job.Status)
	}
	if job.ErrorKind == nil || *job.ErrorKind != string(KindStore) {
		t.Fatalf("expected store kind, got %v", job.ErrorKind)
	}
	if fetcher.calls != 0 {
		t.Fatalf("pipeline must stop after a failed persist")
	}
}
