package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/highlighter/highlighter-agent/internal/compress"
	"github.com/highlighter/highlighter-agent/internal/highlight"
	"github.com/highlighter/highlighter-agent/internal/media"
)

// Pipeline runs one job to a terminal state.
type Pipeline interface {
	Run(ctx context.Context, job highlight.JobContext, token *compress.CancelToken) *highlight.Report
}

// Doctor reports whether the media tools are usable.
type Doctor interface {
	Get(ctx context.Context) (*media.Capabilities, error)
}

type Runner struct {
	service      *Service
	repo         Repository
	pipeline     Pipeline
	doctor       Doctor
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool
	active       atomic.Pointer[string]
}

func NewRunner(service *Service, repo Repository, pipeline Pipeline, doctor Doctor, pollInterval time.Duration, logger *slog.Logger) *Runner {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Runner{
		service:      service,
		repo:         repo,
		pipeline:     pipeline,
		doctor:       doctor,
		logger:       logger,
		pollInterval: pollInterval,
	}
}

// Start polls for pending jobs until ctx is done. Jobs run one at a time.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started", "poll_interval", r.pollInterval)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.processNextJob(ctx)
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// ActiveJobID returns the job currently in the pipeline, or "".
func (r *Runner) ActiveJobID() string {
	if id := r.active.Load(); id != nil {
		return *id
	}
	return ""
}

// processNextJob claims the oldest pending job and runs it. It returns
// false when there was nothing to do.
func (r *Runner) processNextJob(ctx context.Context) bool {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return false
	}
	if len(jobs) == 0 {
		return false
	}

	job := jobs[0]
	token := r.service.track(job.ID)
	defer r.service.untrack(job.ID)

	claimed, err := r.repo.CompareAndSetState(ctx, job.ID, StatePending, string(highlight.StateCompressing))
	if err != nil {
		r.logger.Error("failed to claim job", "job_id", job.ID, "error", err)
		return false
	}
	if !claimed {
		// cancelled between listing and claiming
		return true
	}

	if r.doctor != nil {
		caps, err := r.doctor.Get(ctx)
		if err != nil || !caps.Ready() {
			msg := "media tools unavailable"
			if err != nil {
				msg = fmt.Sprintf("media tools unavailable: %v", err)
			}
			if err := r.repo.UpdateJobState(ctx, job.ID, string(highlight.StateFailed), msg); err != nil {
				r.logger.Error("failed to record job state", "job_id", job.ID, "state", highlight.StateFailed, "error", err)
			}
			r.logger.Error("job failed before start", "job_id", job.ID, "error", msg)
			return true
		}
	}

	id := job.ID
	r.active.Store(&id)
	defer r.active.Store(nil)

	r.logger.Info("processing job", "job_id", job.ID, "job_key", job.Key)
	report := r.pipeline.Run(ctx, job.Context(), token)
	r.logger.Info("job finished",
		"job_id", job.ID,
		"job_key", job.Key,
		"state", report.State,
		"segments", len(report.Completed()),
	)
	return true
}
