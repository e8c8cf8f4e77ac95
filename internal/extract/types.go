// Package extract cuts one clip per highlight range out of the original
// source video. Ranges are independent: each one runs concurrently and
// resolves to its own outcome.
package extract

import (
	"errors"
	"fmt"
	"time"

	"github.com/highlighter/highlighter-agent/internal/analysis"
)

// ErrCancelled marks a range abandoned because its context was cancelled.
var ErrCancelled = errors.New("extraction cancelled")

// InvalidRangeError is a range missing a bound or otherwise unusable.
// The trimmer is never invoked for it.
type InvalidRangeError struct {
	Index int
	Range analysis.TimeRange
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("range %d %s is invalid", e.Index, e.Range)
}

// ExtractionError is a trimming failure for one range.
type ExtractionError struct {
	Index int
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract range %d: %v", e.Index, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Status is the terminal outcome of one range.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusInvalid   Status = "invalid"
	StatusCancelled Status = "cancelled"
)

// Segment is one extracted clip. The caller owns the file.
type Segment struct {
	Index    int
	Range    analysis.TimeRange
	Path     string
	Duration time.Duration
}

// Result pairs a range with its outcome. Segment is set only when Completed.
type Result struct {
	Index   int
	Range   analysis.TimeRange
	Status  Status
	Segment *Segment
	Err     error
}

// statusOf classifies an Extract error.
func statusOf(err error) Status {
	var inv *InvalidRangeError
	switch {
	case err == nil:
		return StatusCompleted
	case errors.As(err, &inv):
		return StatusInvalid
	case errors.Is(err, ErrCancelled):
		return StatusCancelled
	default:
		return StatusFailed
	}
}
