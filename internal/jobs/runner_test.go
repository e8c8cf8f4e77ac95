package jobs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/highlighter/highlighter-agent/internal/analysis"
	"github.com/highlighter/highlighter-agent/internal/compress"
	"github.com/highlighter/highlighter-agent/internal/extract"
	"github.com/highlighter/highlighter-agent/internal/highlight"
	"github.com/highlighter/highlighter-agent/internal/media"
)

// fakePipeline drives the recorder the way the real pipeline does.
type fakePipeline struct {
	recorder *Recorder
	calls    atomic.Int32
	lastJob  highlight.JobContext
	runFn    func(ctx context.Context, job highlight.JobContext, token *compress.CancelToken) *highlight.Report
}

func (f *fakePipeline) Run(ctx context.Context, job highlight.JobContext, token *compress.CancelToken) *highlight.Report {
	f.calls.Add(1)
	f.lastJob = job
	if f.runFn != nil {
		return f.runFn(ctx, job, token)
	}
	rec := f.recorder
	rec.StateChanged(job, highlight.StateCompressing, nil)
	rec.Progress(job, 0.5)
	rec.Compressed(job, compress.Artifact{Path: "/tmp/x.mp4", Size: 2048, Elapsed: time.Second})
	rec.StateChanged(job, highlight.StateUploading, nil)
	rec.StateChanged(job, highlight.StateAnalyzing, nil)
	ranges := []analysis.TimeRange{analysis.NewRange(4, 14)}
	rec.Analyzed(job, ranges)
	rec.StateChanged(job, highlight.StateExtracting, nil)
	res := extract.Result{
		Index: 0, Range: ranges[0], Status: extract.StatusCompleted,
		Segment: &extract.Segment{Index: 0, Range: ranges[0], Path: "/out/clip.mp4", Duration: 10 * time.Second},
	}
	rec.SegmentResult(job, res)
	rec.StateChanged(job, highlight.StateDone, nil)
	return &highlight.Report{Job: job, State: highlight.StateDone, Segments: []extract.Result{res}}
}

type fakeDoctor struct {
	caps *media.Capabilities
	err  error
}

func (f *fakeDoctor) Get(ctx context.Context) (*media.Capabilities, error) {
	return f.caps, f.err
}

func readyDoctor() *fakeDoctor {
	return &fakeDoctor{caps: &media.Capabilities{FFmpegVersion: "ffmpeg 6", FFprobeVersion: "ffprobe 6"}}
}

func setupRunnerTest(t *testing.T, pipe *fakePipeline, doctor Doctor) (*Runner, *Service, Repository) {
	t.Helper()
	repo := setupTestDB(t)
	svc := NewService(repo, "alice", testLogger())
	pipe.recorder = NewRecorder(repo, testLogger())
	return NewRunner(svc, repo, pipe, doctor, time.Hour, testLogger()), svc, repo
}

func TestRunner_ProcessesJobToDone(t *testing.T) {
	pipe := &fakePipeline{}
	runner, svc, repo := setupRunnerTest(t, pipe, readyDoctor())
	ctx := context.Background()

	job, err := svc.Submit(ctx, writeVideo(t, "a.mp4"), "")
	if err != nil {
		t.Fatal(err)
	}

	if !runner.processNextJob(ctx) {
		t.Fatal("processNextJob() found nothing")
	}
	if pipe.lastJob.Key != job.Key || pipe.lastJob.ID != job.ID {
		t.Errorf("pipeline got %+v, want key %s", pipe.lastJob, job.Key)
	}

	got, _ := repo.GetJob(ctx, job.ID)
	if got.State != string(highlight.StateDone) || got.Progress != 1 {
		t.Errorf("job = %+v, want done at progress 1", got)
	}
	if got.ArtifactBytes != 2048 || got.CompressMs != 1000 || got.RangeCount != 1 {
		t.Errorf("job metrics = %+v", got)
	}

	segs, _ := repo.ListSegments(ctx, job.ID)
	if len(segs) != 1 || segs[0].OutputPath != "/out/clip.mp4" || segs[0].DurationMs != 10000 {
		t.Errorf("segments = %+v", segs)
	}

	if runner.processNextJob(ctx) {
		t.Error("queue should be empty")
	}
	if runner.ActiveJobID() != "" {
		t.Error("no job should be active")
	}
}

func TestRunner_SkipsCancelledPending(t *testing.T) {
	pipe := &fakePipeline{}
	runner, svc, _ := setupRunnerTest(t, pipe, readyDoctor())
	ctx := context.Background()

	job, _ := svc.Submit(ctx, writeVideo(t, "a.mp4"), "")
	svc.Cancel(ctx, job.ID)

	runner.processNextJob(ctx)
	if pipe.calls.Load() != 0 {
		t.Error("cancelled job must not run")
	}
}

func TestRunner_DoctorFailure(t *testing.T) {
	pipe := &fakePipeline{}
	runner, svc, repo := setupRunnerTest(t, pipe, &fakeDoctor{err: errors.New("ffmpeg not found")})
	ctx := context.Background()

	job, _ := svc.Submit(ctx, writeVideo(t, "a.mp4"), "")
	runner.processNextJob(ctx)

	got, _ := repo.GetJob(ctx, job.ID)
	if got.State != string(highlight.StateFailed) {
		t.Errorf("State = %s, want failed", got.State)
	}
	if pipe.calls.Load() != 0 {
		t.Error("pipeline must not run without media tools")
	}
}

type failingStateRepo struct {
	Repository
}

func (f *failingStateRepo) UpdateJobState(ctx context.Context, id, state, errorMsg string) error {
	return errors.New("disk full")
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunner_DoctorFailureLogsStateWriteError(t *testing.T) {
	repo := setupTestDB(t)
	svc := NewService(repo, "alice", testLogger())
	logs := &lockedBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))
	pipe := &fakePipeline{}
	runner := NewRunner(svc, &failingStateRepo{Repository: repo}, pipe, &fakeDoctor{err: errors.New("ffmpeg not found")}, time.Hour, logger)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, writeVideo(t, "a.mp4"), ""); err != nil {
		t.Fatal(err)
	}
	if !runner.processNextJob(ctx) {
		t.Fatal("processNextJob() = false, want true")
	}
	out := logs.String()
	if !strings.Contains(out, "failed to record job state") || !strings.Contains(out, "disk full") {
		t.Errorf("logs = %s", out)
	}
	if pipe.calls.Load() != 0 {
		t.Error("pipeline must not run without media tools")
	}
}

func TestRunner_CancelReachesPipeline(t *testing.T) {
	started := make(chan struct{})
	pipe := &fakePipeline{}
	pipe.runFn = func(ctx context.Context, job highlight.JobContext, token *compress.CancelToken) *highlight.Report {
		pipe.recorder.StateChanged(job, highlight.StateCompressing, nil)
		close(started)
		deadline := time.After(5 * time.Second)
		for !token.Cancelled() {
			select {
			case <-deadline:
				return &highlight.Report{Job: job, State: highlight.StateFailed}
			case <-time.After(5 * time.Millisecond):
			}
		}
		pipe.recorder.StateChanged(job, highlight.StateCancelled, nil)
		return &highlight.Report{Job: job, State: highlight.StateCancelled}
	}
	runner, svc, repo := setupRunnerTest(t, pipe, nil)
	ctx := context.Background()

	job, _ := svc.Submit(ctx, writeVideo(t, "a.mp4"), "")
	done := make(chan struct{})
	go func() {
		runner.processNextJob(ctx)
		close(done)
	}()

	<-started
	if runner.ActiveJobID() != job.ID {
		t.Errorf("ActiveJobID() = %q, want %q", runner.ActiveJobID(), job.ID)
	}
	if _, err := svc.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not finish")
	}
	got, _ := repo.GetJob(ctx, job.ID)
	if got.State != string(highlight.StateCancelled) {
		t.Errorf("State = %s, want cancelled", got.State)
	}
}

func TestRunner_PauseResume(t *testing.T) {
	runner, _, _ := setupRunnerTest(t, &fakePipeline{}, nil)
	runner.Pause()
	if !runner.IsPaused() {
		t.Error("expected paused")
	}
	runner.Resume()
	if runner.IsPaused() {
		t.Error("expected resumed")
	}
}

func TestRunner_StartStops(t *testing.T) {
	runner, _, _ := setupRunnerTest(t, &fakePipeline{}, nil)
	runner.pollInterval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	if !runner.IsRunning() {
		t.Error("runner should be running")
	}
	cancel()
	<-done
	if runner.IsRunning() {
		t.Error("runner should have stopped")
	}
}

func TestRecorder_FailedStateKeepsError(t *testing.T) {
	repo := setupTestDB(t)
	svc := NewService(repo, "alice", testLogger())
	rec := NewRecorder(repo, testLogger())
	ctx := context.Background()

	job, _ := svc.Submit(ctx, writeVideo(t, "a.mp4"), "")
	jc := job.Context()
	rec.StateChanged(jc, highlight.StateFailed, &highlight.StageError{Stage: highlight.StateAnalyzing, Err: errors.New("HTTP 500")})

	got, _ := repo.GetJob(ctx, job.ID)
	if got.State != string(highlight.StateFailed) || got.Error != "analyzing: HTTP 500" {
		t.Errorf("job = %+v", got)
	}
}

func TestRecorder_ThrottlesProgress(t *testing.T) {
	repo := &countingRepo{Repository: setupTestDB(t)}
	rec := NewRecorder(repo, testLogger())
	jc := highlight.JobContext{ID: "j"}

	for i := 0; i <= 1000; i++ {
		rec.Progress(jc, float64(i)/1000)
	}
	if n := repo.progressWrites.Load(); n > 102 {
		t.Errorf("progress writes = %d, want about 100", n)
	}
}

type countingRepo struct {
	Repository
	progressWrites atomic.Int32
}

func (c *countingRepo) UpdateJobProgress(ctx context.Context, id string, progress float64) error {
	c.progressWrites.Add(1)
	return c.Repository.UpdateJobProgress(ctx, id, progress)
}

func TestRecorder_CancelledResetsProgress(t *testing.T) {
	repo := setupTestDB(t)
	svc := NewService(repo, "alice", testLogger())
	rec := NewRecorder(repo, testLogger())
	ctx := context.Background()

	job, _ := svc.Submit(ctx, writeVideo(t, "a.mp4"), "")
	jc := job.Context()
	rec.StateChanged(jc, highlight.StateCompressing, nil)
	rec.Progress(jc, 0.4)
	rec.StateChanged(jc, highlight.StateCancelled, nil)

	got, _ := repo.GetJob(ctx, job.ID)
	if got.State != string(highlight.StateCancelled) || got.Progress != 0 {
		t.Errorf("job state = %s progress = %v, want cancelled at 0", got.State, got.Progress)
	}
}
