// Package jobs persists highlight jobs and their segments, accepts new
// submissions, and runs pending jobs through the pipeline one at a time.
package jobs

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/highlighter/highlighter-agent/internal/highlight"
)

// StatePending is a submitted job the runner has not claimed yet. Every
// other state is a highlight.State.
const StatePending = "pending"

type Job struct {
	ID            string    `json:"id"`
	Key           string    `json:"job_key"`
	UserID        string    `json:"user_id"`
	SourcePath    string    `json:"source_path"`
	State         string    `json:"state"`
	Progress      float64   `json:"progress"`
	ArtifactBytes int64     `json:"artifact_bytes"`
	CompressMs    int64     `json:"compress_ms"`
	RangeCount    int       `json:"range_count"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ArtifactSize renders the compressed size, e.g. "12 MB".
func (j *Job) ArtifactSize() string {
	if j.ArtifactBytes <= 0 {
		return ""
	}
	return humanize.Bytes(uint64(j.ArtifactBytes))
}

// Active reports whether the pipeline is currently working on the job.
func (j *Job) Active() bool {
	switch highlight.State(j.State) {
	case highlight.StateCompressing, highlight.StateUploading, highlight.StateAnalyzing, highlight.StateExtracting:
		return true
	}
	return false
}

// Context returns the pipeline identity persisted for this job.
func (j *Job) Context() highlight.JobContext {
	return highlight.JobContext{
		ID:         j.ID,
		UserID:     j.UserID,
		Timestamp:  j.CreatedAt,
		Key:        j.Key,
		SourcePath: j.SourcePath,
	}
}

type Segment struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	Index      int       `json:"index"`
	RangeMin   *int      `json:"range_min,omitempty"`
	RangeMax   *int      `json:"range_max,omitempty"`
	Status     string    `json:"status"`
	OutputPath string    `json:"output_path,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

var VideoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".m4v": true,
	".mkv": true,
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}
