// Package analysis uploads a compressed video to blob storage and asks the
// highlight analysis service which time ranges are worth keeping.
package analysis

import (
	"fmt"
	"time"
)

// TimeRange is one highlight window in whole seconds. Either bound may be
// absent in the service response; such ranges are never extracted.
type TimeRange struct {
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`
}

// NewRange builds a fully specified range.
func NewRange(min, max int) TimeRange {
	return TimeRange{Min: &min, Max: &max}
}

// Complete reports whether both bounds are present.
func (r TimeRange) Complete() bool {
	return r.Min != nil && r.Max != nil
}

// Valid reports whether the range can be extracted: both bounds present,
// non-negative, and min strictly before max.
func (r TimeRange) Valid() bool {
	return r.Complete() && *r.Min >= 0 && *r.Min < *r.Max
}

// Bounds returns the range as durations. Only meaningful when Valid.
func (r TimeRange) Bounds() (start, end time.Duration) {
	if r.Min != nil {
		start = time.Duration(*r.Min) * time.Second
	}
	if r.Max != nil {
		end = time.Duration(*r.Max) * time.Second
	}
	return start, end
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s]", bound(r.Min), bound(r.Max))
}

func bound(v *int) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprintf("%ds", *v)
}

// Result is the decoded analysis response. Ranges keep service order; the
// position is the extraction index.
type Result struct {
	Success *bool       `json:"success,omitempty"`
	Ranges  []TimeRange `json:"time"`
}

// request is the analysis request body.
type request struct {
	VideoName string `json:"video_name"`
}
