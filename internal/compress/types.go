// Package compress runs a single video compression job: it clears the
// destination, plans encoder settings from a quality policy, streams progress,
// and resolves to exactly one terminal outcome.
package compress

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// ErrCancelled is returned by Run.Wait when the cancel token was set.
var ErrCancelled = errors.New("compression cancelled")

// Error is an encoder-reported failure with a human readable reason.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "compression failed: " + e.Reason
	}
	return fmt.Sprintf("compression failed: %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Quality selects the target bitrate as a share of the source bitrate.
type Quality string

const (
	QualityVeryLow  Quality = "very_low"
	QualityLow      Quality = "low"
	QualityMedium   Quality = "medium"
	QualityHigh     Quality = "high"
	QualityVeryHigh Quality = "very_high"
)

var bitrateFactor = map[Quality]float64{
	QualityVeryLow:  0.1,
	QualityLow:      0.2,
	QualityMedium:   0.3,
	QualityHigh:     0.4,
	QualityVeryHigh: 0.6,
}

// Policy is the set of quality knobs handed to the encoder.
type Policy struct {
	Quality                Quality
	MinBitrateCheck        bool
	KeepOriginalResolution bool
}

// DefaultPolicy is medium quality with the minimum bitrate check enabled and
// downscaling permitted.
func DefaultPolicy() Policy {
	return Policy{
		Quality:                QualityMedium,
		MinBitrateCheck:        true,
		KeepOriginalResolution: false,
	}
}

// Request describes one compression run.
type Request struct {
	Source      string
	Destination string // cleared before the run starts
	Policy      Policy
	JobKey      string // log correlation only
}

// Artifact is the compressed output. It is created once and never mutated.
type Artifact struct {
	Path    string
	Elapsed time.Duration
	Size    int64
}

// HumanSize renders Size like "12 MB".
func (a Artifact) HumanSize() string {
	if a.Size < 0 {
		return "0 B"
	}
	return humanize.Bytes(uint64(a.Size))
}

// EventKind distinguishes progress updates from outcomes.
type EventKind int

const (
	EventStart EventKind = iota
	EventProgress
	EventSuccess
	EventFailure
	EventCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventProgress:
		return "progress"
	case EventSuccess:
		return "success"
	case EventFailure:
		return "failure"
	case EventCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further events follow.
func (k EventKind) Terminal() bool {
	return k == EventSuccess || k == EventFailure || k == EventCancelled
}

// Event is one item of a run's event stream.
type Event struct {
	Kind     EventKind
	Fraction float64   // EventProgress
	Artifact *Artifact // EventSuccess
	Err      error     // EventFailure
}

// CancelToken is a cooperative cancellation flag polled by a running job.
// The zero value is ready to use; a nil token is never cancelled.
type CancelToken struct {
	flag atomic.Bool
}

// NewCancelToken returns an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel requests a best-effort abort.
func (t *CancelToken) Cancel() {
	if t != nil {
		t.flag.Store(true)
	}
}

// Cancelled reports whether Cancel was called.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.flag.Load()
}
