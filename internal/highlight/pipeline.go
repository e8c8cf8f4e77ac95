package highlight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/highlighter/highlighter-agent/internal/analysis"
	"github.com/highlighter/highlighter-agent/internal/compress"
	"github.com/highlighter/highlighter-agent/internal/extract"
	"github.com/highlighter/highlighter-agent/internal/library"
)

// ErrIllegalTransition is wrapped into the failure of a run that attempted a
// step the state machine forbids.
var ErrIllegalTransition = errors.New("illegal state transition")

// Compressor starts a compression run.
type Compressor interface {
	Start(ctx context.Context, req compress.Request, token *compress.CancelToken) *compress.Run
}

// Analyzer uploads an artifact and returns highlight ranges.
type Analyzer interface {
	Submit(ctx context.Context, artifactPath, jobKey string, opts ...analysis.SubmitOption) (*analysis.Result, error)
}

// Extractor renders clips for every range.
type Extractor interface {
	ExtractAll(ctx context.Context, b extract.Batch, onResult func(extract.Result)) []extract.Result
}

// Observer receives pipeline updates. Calls for one job are serialized,
// except SegmentResult which may arrive from several goroutines.
type Observer interface {
	StateChanged(job JobContext, state State, err error)
	Progress(job JobContext, fraction float64)
	Compressed(job JobContext, artifact compress.Artifact)
	Analyzed(job JobContext, ranges []analysis.TimeRange)
	SegmentResult(job JobContext, res extract.Result)
}

// NopObserver ignores every update.
type NopObserver struct{}

func (NopObserver) StateChanged(JobContext, State, error)     {}
func (NopObserver) Progress(JobContext, float64)              {}
func (NopObserver) Compressed(JobContext, compress.Artifact)  {}
func (NopObserver) Analyzed(JobContext, []analysis.TimeRange) {}
func (NopObserver) SegmentResult(JobContext, extract.Result)  {}

// Report is the outcome of one run.
type Report struct {
	Job      JobContext
	State    State
	Artifact *compress.Artifact
	Ranges   []analysis.TimeRange
	Segments []extract.Result
	Err      error
}

// Completed returns the successfully extracted segments in range order.
func (r *Report) Completed() []*extract.Segment {
	var out []*extract.Segment
	for _, res := range r.Segments {
		if res.Status == extract.StatusCompleted {
			out = append(out, res.Segment)
		}
	}
	return out
}

// Options configures a Pipeline.
type Options struct {
	TempDir   string
	Policy    compress.Policy
	Publisher library.Publisher // publishes the compressed artifact; optional
	Observer  Observer          // optional
	Logger    *slog.Logger
}

// Pipeline wires the stages together. It is safe for concurrent Runs with
// distinct job contexts.
type Pipeline struct {
	compressor Compressor
	analyzer   Analyzer
	extractor  Extractor
	tempDir    string
	policy     compress.Policy
	publisher  library.Publisher
	observer   Observer
	logger     *slog.Logger
}

func NewPipeline(c Compressor, a Analyzer, e Extractor, opts Options) *Pipeline {
	p := &Pipeline{
		compressor: c,
		analyzer:   a,
		extractor:  e,
		tempDir:    opts.TempDir,
		policy:     opts.Policy,
		publisher:  opts.Publisher,
		observer:   opts.Observer,
		logger:     opts.Logger,
	}
	if p.policy == (compress.Policy{}) {
		p.policy = compress.DefaultPolicy()
	}
	if p.publisher == nil {
		p.publisher = library.Nop{}
	}
	if p.observer == nil {
		p.observer = NopObserver{}
	}
	return p
}

// run tracks the state of one job.
type run struct {
	p      *Pipeline
	job    JobContext
	token  *compress.CancelToken
	logger *slog.Logger
	report *Report

	ignoreOnce sync.Once
}

// enter moves the run to s. An illegal step fails the run instead and
// returns false.
func (r *run) enter(s State) bool {
	from := r.report.State
	if !CanTransition(from, s) {
		r.fail(from, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, s))
		return false
	}
	r.logger.Debug("state change", "from", from, "to", s)
	r.report.State = s
	r.p.observer.StateChanged(r.job, s, nil)
	return true
}

func (r *run) fail(stage State, err error) *Report {
	if r.report.State.Terminal() {
		r.logger.Error("failure after terminal state ignored", "state", r.report.State, "stage", stage, "error", err)
		return r.report
	}
	serr := &StageError{Stage: stage, Err: err}
	r.report.State = StateFailed
	r.report.Err = serr
	r.logger.Error("pipeline failed", "stage", stage, "error", err)
	r.p.observer.StateChanged(r.job, StateFailed, serr)
	return r.report
}

// checkLateCancel logs a cancel request that arrived after compression.
func (r *run) checkLateCancel() {
	if r.token.Cancelled() {
		r.ignoreOnce.Do(func() {
			r.logger.Warn("cancel requested after compression; ignored", "state", r.report.State)
		})
	}
}

// Run executes the pipeline for job. The token is honoured only while
// compressing; later cancel requests are logged and ignored. Run always
// returns a report in a terminal state.
func (p *Pipeline) Run(ctx context.Context, job JobContext, token *compress.CancelToken) *Report {
	r := &run{
		p:      p,
		job:    job,
		token:  token,
		logger: p.logger.With("job_key", job.Key, "job_id", job.ID),
		report: &Report{Job: job, State: StateIdle},
	}

	r.logger.Info("pipeline started", "source", filepath.Base(job.SourcePath))

	artifact, ok := r.compress(ctx)
	if !ok {
		return r.report
	}

	ranges, err := r.analyze(ctx, artifact)
	if err != nil {
		return r.report
	}

	r.checkLateCancel()
	if !r.enter(StateExtracting) {
		return r.report
	}
	batch := extract.Batch{Source: job.SourcePath, JobKey: job.Key, Ranges: ranges}
	r.report.Segments = p.extractor.ExtractAll(ctx, batch, func(res extract.Result) {
		p.observer.SegmentResult(job, res)
	})
	r.checkLateCancel()

	if !r.enter(StateDone) {
		return r.report
	}
	r.logger.Info("pipeline done",
		"ranges", len(ranges),
		"segments", len(r.report.Completed()),
	)
	return r.report
}

func (r *run) compress(ctx context.Context) (*compress.Artifact, bool) {
	if !r.enter(StateCompressing) {
		return nil, false
	}

	dest := filepath.Join(r.p.tempDir, r.job.ArtifactName())
	cr := r.p.compressor.Start(ctx, compress.Request{
		Source:      r.job.SourcePath,
		Destination: dest,
		Policy:      r.p.policy,
		JobKey:      r.job.Key,
	}, r.token)

	for ev := range cr.Events() {
		if ev.Kind == compress.EventProgress {
			r.p.observer.Progress(r.job, ev.Fraction)
		}
	}

	artifact, err := cr.Wait()
	if errors.Is(err, compress.ErrCancelled) {
		if r.enter(StateCancelled) {
			r.logger.Info("pipeline cancelled during compression")
		}
		return nil, false
	}
	if err != nil {
		r.fail(StateCompressing, err)
		return nil, false
	}

	r.report.Artifact = artifact
	r.p.observer.Compressed(r.job, *artifact)
	r.logger.Info("artifact ready",
		"size", artifact.HumanSize(),
		"elapsed_ms", artifact.Elapsed.Milliseconds(),
	)
	if err := r.p.publisher.Publish(ctx, artifact.Path); err != nil {
		r.logger.Warn("artifact publish failed", "error", err)
	}
	return artifact, true
}

func (r *run) analyze(ctx context.Context, artifact *compress.Artifact) ([]analysis.TimeRange, error) {
	r.checkLateCancel()
	if !r.enter(StateUploading) {
		return nil, r.report.Err
	}

	result, err := r.p.analyzer.Submit(ctx, artifact.Path, r.job.Key, analysis.OnUploaded(func(string) {
		r.enter(StateAnalyzing)
	}))

	// temp artifact is discarded on both outcomes
	if rmErr := os.Remove(artifact.Path); rmErr != nil && !os.IsNotExist(rmErr) {
		r.logger.Warn("failed to remove artifact", "error", rmErr)
	}

	if err == nil && r.report.State.Terminal() {
		return nil, r.report.Err
	}
	if err != nil {
		stage := StateAnalyzing
		var uerr *analysis.UploadError
		if errors.As(err, &uerr) {
			stage = StateUploading
		}
		r.fail(stage, err)
		return nil, err
	}

	r.report.Ranges = result.Ranges
	r.p.observer.Analyzed(r.job, result.Ranges)
	return result.Ranges, nil
}
