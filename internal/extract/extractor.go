package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/highlighter/highlighter-agent/internal/analysis"
	"github.com/highlighter/highlighter-agent/internal/library"
	"github.com/highlighter/highlighter-agent/internal/media"
)

// Trimmer renders a sub-range of a source into a new file.
type Trimmer interface {
	Trim(ctx context.Context, req media.TrimRequest) error
	Probe(ctx context.Context, path string) (*media.ProbeResult, error)
}

// Options configures an Extractor.
type Options struct {
	OutputDir   string
	Concurrency int
	Publisher   library.Publisher // optional
	Logger      *slog.Logger
}

type Extractor struct {
	trimmer     Trimmer
	outputDir   string
	concurrency int
	publisher   library.Publisher
	logger      *slog.Logger
}

func NewExtractor(trimmer Trimmer, opts Options) *Extractor {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = library.Nop{}
	}
	return &Extractor{
		trimmer:     trimmer,
		outputDir:   opts.OutputDir,
		concurrency: concurrency,
		publisher:   publisher,
		logger:      opts.Logger,
	}
}

// Extract renders range r of source into {outputDir}/{uuid}.mp4.
func (e *Extractor) Extract(ctx context.Context, source string, index int, r analysis.TimeRange) (*Segment, error) {
	if !r.Valid() {
		return nil, &InvalidRangeError{Index: index, Range: r}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("range %d: %w", index, ErrCancelled)
	}
	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return nil, &ExtractionError{Index: index, Err: fmt.Errorf("create output dir: %w", err)}
	}

	out := filepath.Join(e.outputDir, uuid.NewString()+".mp4")
	if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
		return nil, &ExtractionError{Index: index, Err: err}
	}

	start, end := r.Bounds()
	if err := e.trimmer.Trim(ctx, media.TrimRequest{Source: source, Output: out, Start: start, End: end}); err != nil {
		_ = os.Remove(out)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("range %d: %w", index, ErrCancelled)
		}
		return nil, &ExtractionError{Index: index, Err: err}
	}

	seg := &Segment{Index: index, Range: r, Path: out, Duration: end - start}
	if probe, err := e.trimmer.Probe(ctx, out); err == nil && probe.Duration > 0 {
		seg.Duration = probe.Duration
	}

	return seg, nil
}

// Batch is every range of one job.
type Batch struct {
	Source string // the original, uncompressed video
	JobKey string
	Ranges []analysis.TimeRange
}

// ExtractAll attempts every range and returns one Result per range in input
// order. A failing range never cancels its siblings. Completed clips are
// published to the library; publish failures are logged only. onResult, if
// set, is called from worker goroutines as each range resolves.
func (e *Extractor) ExtractAll(ctx context.Context, b Batch, onResult func(Result)) []Result {
	results := make([]Result, len(b.Ranges))
	logger := e.logger.With("job_key", b.JobKey)

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, r := range b.Ranges {
		i, r := i, r
		g.Go(func() error {
			started := time.Now()
			seg, err := e.Extract(ctx, b.Source, i, r)
			res := Result{Index: i, Range: r, Status: statusOf(err), Segment: seg, Err: err}
			results[i] = res
			logResult(logger, res, time.Since(started))
			if seg != nil {
				if err := e.publisher.Publish(ctx, seg.Path); err != nil {
					logger.Warn("library publish failed", "index", i, "error", err)
				}
			}
			if onResult != nil {
				onResult(res)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func logResult(logger *slog.Logger, res Result, elapsed time.Duration) {
	switch res.Status {
	case StatusCompleted:
		logger.Info("segment extracted",
			"index", res.Index,
			"range", res.Range.String(),
			"duration_ms", res.Segment.Duration.Milliseconds(),
			"elapsed_ms", elapsed.Milliseconds(),
		)
	case StatusInvalid:
		logger.Warn("skipping invalid range", "index", res.Index, "range", res.Range.String())
	case StatusCancelled:
		logger.Info("segment extraction cancelled", "index", res.Index)
	default:
		var ee *ExtractionError
		if errors.As(res.Err, &ee) {
			logger.Error("segment extraction failed", "index", res.Index, "error", ee.Err)
			return
		}
		logger.Error("segment extraction failed", "index", res.Index, "error", res.Err)
	}
}
