package compress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/highlighter/highlighter-agent/internal/media"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	eventBuffer         = 64
	// slots kept free for the start and terminal events
	reservedSlots = 2
)

// Encoder is the video re-encoder collaborator.
type Encoder interface {
	Probe(ctx context.Context, path string) (*media.ProbeResult, error)
	Encode(ctx context.Context, req media.EncodeRequest, progress func(float64)) error
}

// Compressor starts compression runs against an Encoder.
type Compressor struct {
	encoder      Encoder
	logger       *slog.Logger
	pollInterval time.Duration
}

// NewCompressor creates a Compressor.
func NewCompressor(encoder Encoder, logger *slog.Logger) *Compressor {
	return &Compressor{
		encoder:      encoder,
		logger:       logger,
		pollInterval: defaultPollInterval,
	}
}

// Run is one in-flight compression.
type Run struct {
	events chan Event
	done   chan struct{}

	once     sync.Once
	artifact *Artifact
	err      error
}

// Events streams Start, Progress and exactly one terminal event, then closes.
// Progress updates are dropped rather than blocking the encoder when the
// consumer falls behind.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Wait blocks until the run resolves. A cancelled run returns ErrCancelled;
// a failed run returns *Error.
func (r *Run) Wait() (*Artifact, error) {
	<-r.done
	return r.artifact, r.err
}

func (r *Run) progress(fraction float64) {
	if len(r.events) >= cap(r.events)-reservedSlots {
		return
	}
	r.events <- Event{Kind: EventProgress, Fraction: fraction}
}

func (r *Run) finish(ev Event) {
	r.once.Do(func() {
		switch ev.Kind {
		case EventSuccess:
			r.artifact = ev.Artifact
		case EventCancelled:
			r.err = ErrCancelled
		default:
			r.err = ev.Err
		}
		close(r.done)
		r.events <- ev
		close(r.events)
	})
}

// Start launches the run in the background and returns immediately.
// The token is polled while encoding; setting it resolves the run as cancelled.
func (c *Compressor) Start(ctx context.Context, req Request, token *CancelToken) *Run {
	run := &Run{
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	go c.execute(ctx, req, token, run)
	return run
}

func (c *Compressor) execute(ctx context.Context, req Request, token *CancelToken, run *Run) {
	logger := c.logger.With("job_key", req.JobKey)
	started := time.Now()

	fail := func(err error) {
		removeQuietly(req.Destination)
		logger.Error("compression failed", "error", err)
		run.finish(Event{Kind: EventFailure, Err: err})
	}
	cancelled := func() {
		removeQuietly(req.Destination)
		logger.Info("compression cancelled")
		run.finish(Event{Kind: EventCancelled})
	}

	if err := checkSource(req.Source); err != nil {
		fail(err)
		return
	}
	if err := clearDestination(req.Destination); err != nil {
		fail(err)
		return
	}
	if token.Cancelled() {
		cancelled()
		return
	}

	probe, err := c.encoder.Probe(ctx, req.Source)
	if err != nil {
		fail(&Error{Reason: "cannot read source", Err: err})
		return
	}
	plan, err := Plan(probe, req.Policy)
	if err != nil {
		fail(err)
		return
	}
	plan.Source = req.Source
	plan.Destination = req.Destination

	encodeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go c.watchToken(encodeCtx, token, stop)

	logger.Info("compression started",
		"source_bitrate", probe.Bitrate,
		"target_bitrate", plan.VideoBitrate,
		"width", plan.Width,
		"height", plan.Height,
		"source_fps", probe.FrameRate,
		"target_fps", plan.FrameRate,
		"audio", probe.AudioCodec,
		"quality", req.Policy.Quality,
	)
	run.events <- Event{Kind: EventStart}

	err = c.encoder.Encode(encodeCtx, plan, func(f float64) {
		if token.Cancelled() {
			stop()
			return
		}
		run.progress(f)
	})

	if token.Cancelled() {
		cancelled()
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			fail(&Error{Reason: "interrupted", Err: err})
			return
		}
		fail(&Error{Reason: "encoder error", Err: err})
		return
	}

	info, err := os.Stat(req.Destination)
	if err != nil {
		fail(&Error{Reason: "encoder produced no output", Err: err})
		return
	}

	artifact := &Artifact{
		Path:    req.Destination,
		Elapsed: time.Since(started),
		Size:    info.Size(),
	}
	logger.Info("compression completed",
		"size", artifact.HumanSize(),
		"elapsed_ms", artifact.Elapsed.Milliseconds(),
	)
	run.finish(Event{Kind: EventSuccess, Artifact: artifact})
}

func (c *Compressor) watchToken(ctx context.Context, token *CancelToken, stop context.CancelFunc) {
	if token == nil {
		return
	}
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if token.Cancelled() {
				stop()
				return
			}
		}
	}
}

func checkSource(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &Error{Reason: "source not readable", Err: err}
	}
	if !info.Mode().IsRegular() {
		return &Error{Reason: fmt.Sprintf("source %s is not a regular file", filepath.Base(path))}
	}
	f, err := os.Open(path)
	if err != nil {
		return &Error{Reason: "source not readable", Err: err}
	}
	return f.Close()
}

func clearDestination(path string) error {
	if path == "" {
		return &Error{Reason: "destination is empty"}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &Error{Reason: "cannot clear destination", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &Error{Reason: "cannot create destination dir", Err: err}
	}
	return nil
}

func removeQuietly(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}
