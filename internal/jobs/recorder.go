package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/highlighter/highlighter-agent/internal/analysis"
	"github.com/highlighter/highlighter-agent/internal/compress"
	"github.com/highlighter/highlighter-agent/internal/extract"
	"github.com/highlighter/highlighter-agent/internal/highlight"
)

// progressStep is the smallest progress change worth a database write.
const progressStep = 0.01

// Recorder persists pipeline updates so a job's row always reflects where
// the pipeline is, including failures.
type Recorder struct {
	repo    Repository
	logger  *slog.Logger
	timeout time.Duration

	mu   sync.Mutex
	last map[string]float64
}

func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	return &Recorder{
		repo:    repo,
		logger:  logger,
		timeout: 10 * time.Second,
		last:    make(map[string]float64),
	}
}

var _ highlight.Observer = (*Recorder)(nil)

func (r *Recorder) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *Recorder) StateChanged(job highlight.JobContext, state highlight.State, err error) {
	ctx, cancel := r.ctx()
	defer cancel()

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if dbErr := r.repo.UpdateJobState(ctx, job.ID, string(state), msg); dbErr != nil {
		r.logger.Error("failed to record job state", "job_id", job.ID, "state", state, "error", dbErr)
	}
	// done shows full progress; a cancelled job reads as never started
	switch state {
	case highlight.StateDone:
		r.setProgress(ctx, job.ID, 1)
	case highlight.StateCancelled:
		r.setProgress(ctx, job.ID, 0)
	}
	if state.Terminal() {
		r.mu.Lock()
		delete(r.last, job.ID)
		r.mu.Unlock()
	}
}

func (r *Recorder) setProgress(ctx context.Context, id string, fraction float64) {
	if err := r.repo.UpdateJobProgress(ctx, id, fraction); err != nil {
		r.logger.Error("failed to record job progress", "job_id", id, "error", err)
	}
}

func (r *Recorder) Progress(job highlight.JobContext, fraction float64) {
	r.mu.Lock()
	last, seen := r.last[job.ID]
	if seen && fraction-last < progressStep && fraction < 1 {
		r.mu.Unlock()
		return
	}
	r.last[job.ID] = fraction
	r.mu.Unlock()

	ctx, cancel := r.ctx()
	defer cancel()
	r.setProgress(ctx, job.ID, fraction)
}

func (r *Recorder) Compressed(job highlight.JobContext, artifact compress.Artifact) {
	ctx, cancel := r.ctx()
	defer cancel()
	if err := r.repo.UpdateJobArtifact(ctx, job.ID, artifact.Size, artifact.Elapsed); err != nil {
		r.logger.Error("failed to record artifact", "job_id", job.ID, "error", err)
	}
}

func (r *Recorder) Analyzed(job highlight.JobContext, ranges []analysis.TimeRange) {
	ctx, cancel := r.ctx()
	defer cancel()
	if err := r.repo.UpdateJobRangeCount(ctx, job.ID, len(ranges)); err != nil {
		r.logger.Error("failed to record range count", "job_id", job.ID, "error", err)
	}
}

func (r *Recorder) SegmentResult(job highlight.JobContext, res extract.Result) {
	seg := &Segment{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Index:     res.Index,
		RangeMin:  res.Range.Min,
		RangeMax:  res.Range.Max,
		Status:    string(res.Status),
		CreatedAt: time.Now(),
	}
	if res.Segment != nil {
		seg.OutputPath = res.Segment.Path
		seg.DurationMs = res.Segment.Duration.Milliseconds()
	}
	if res.Err != nil {
		seg.Error = res.Err.Error()
	}

	ctx, cancel := r.ctx()
	defer cancel()
	if err := r.repo.CreateSegment(ctx, seg); err != nil {
		r.logger.Error("failed to record segment", "job_id", job.ID, "index", res.Index, "error", err)
	}
}
