package api

import (
	"time"

	"github.com/highlighter/highlighter-agent/internal/jobs"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State       string               `json:"state"`
	LastError   string               `json:"last_error,omitempty"`
	Jobs        map[string]int       `json:"jobs"`
	ActiveJob   *JobResponse         `json:"active_job,omitempty"`
	RunnerState string               `json:"runner"`
	Media       *MediaStatusResponse `json:"media,omitempty"`
}

type MediaStatusResponse struct {
	FFmpegVersion  string `json:"ffmpeg_version"`
	FFprobeVersion string `json:"ffprobe_version"`
	HasLibx264     bool   `json:"has_libx264"`
	Ready          bool   `json:"ready"`
	LastProbeAt    string `json:"last_probe_at,omitempty"`
}

type SubmitJobRequest struct {
	SourcePath string `json:"source_path"`
	UserID     string `json:"user_id,omitempty"`
}

type SubmitJobResponse struct {
	JobID  string `json:"job_id"`
	JobKey string `json:"job_key"`
}

type JobResponse struct {
	ID           string  `json:"id"`
	Key          string  `json:"job_key"`
	UserID       string  `json:"user_id"`
	SourcePath   string  `json:"source_path"`
	State        string  `json:"state"`
	Progress     float64 `json:"progress"`
	ArtifactSize string  `json:"artifact_size,omitempty"`
	CompressMs   int64   `json:"compress_ms,omitempty"`
	RangeCount   int     `json:"range_count"`
	Error        string  `json:"error,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type SegmentResponse struct {
	ID         string `json:"id"`
	Index      int    `json:"index"`
	Min        *int   `json:"min,omitempty"`
	Max        *int   `json:"max,omitempty"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	FileURL    string `json:"file_url,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type SegmentsResponse struct {
	Segments []SegmentResponse `json:"segments"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func JobToResponse(j *jobs.Job) JobResponse {
	return JobResponse{
		ID:           j.ID,
		Key:          j.Key,
		UserID:       j.UserID,
		SourcePath:   j.SourcePath,
		State:        j.State,
		Progress:     j.Progress,
		ArtifactSize: j.ArtifactSize(),
		CompressMs:   j.CompressMs,
		RangeCount:   j.RangeCount,
		Error:        j.Error,
		CreatedAt:    j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    j.UpdatedAt.Format(time.RFC3339),
	}
}

func SegmentToResponse(s *jobs.Segment) SegmentResponse {
	resp := SegmentResponse{
		ID:         s.ID,
		Index:      s.Index,
		Min:        s.RangeMin,
		Max:        s.RangeMax,
		Status:     s.Status,
		DurationMs: s.DurationMs,
		Error:      s.Error,
		CreatedAt:  s.CreatedAt.Format(time.RFC3339),
	}
	if s.OutputPath != "" {
		resp.FileURL = "/segments/" + s.ID + "/file"
	}
	return resp
}
