// Package media wraps the ffmpeg and ffprobe binaries used to probe, compress
// and trim videos. Every invocation is a subprocess bounded by its context.
package media

import (
	"fmt"
	"time"
)

// ProbeResult describes the container and first video/audio streams of a file.
type ProbeResult struct {
	Duration   time.Duration
	Width      int
	Height     int
	Codec      string
	Bitrate    int64 // bits per second, container level
	FrameRate  float64
	AudioCodec string
}

// EncodeRequest is a single compression pass.
type EncodeRequest struct {
	Source       string
	Destination  string
	Width        int     // 0 keeps the source width
	Height       int     // 0 keeps the source height
	VideoBitrate int64   // bits per second
	AudioBitrate int64   // bits per second
	FrameRate    float64 // 0 keeps the source rate
	NoAudio      bool
	Preset       string
	// Duration of the source, used to turn ffmpeg's out_time into a fraction.
	Duration time.Duration
}

// TrimRequest re-encodes [Start, End] of Source into Output at highest quality.
type TrimRequest struct {
	Source string
	Output string
	Start  time.Duration
	End    time.Duration
}

// Length returns End-Start.
func (r TrimRequest) Length() time.Duration { return r.End - r.Start }

// RunResult is the structured outcome of executing a media subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// ExecError reports a non-zero exit from ffmpeg or ffprobe.
type ExecError struct {
	Tool       string
	ExitCode   int
	StderrTail string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s exited %d: %s", e.Tool, e.ExitCode, truncate(e.StderrTail, 512))
}

// Capabilities reports which media binaries are usable, as found by the doctor.
type Capabilities struct {
	FFmpegPath     string    `json:"ffmpeg_path,omitempty"`
	FFmpegVersion  string    `json:"ffmpeg_version,omitempty"`
	FFprobePath    string    `json:"ffprobe_path,omitempty"`
	FFprobeVersion string    `json:"ffprobe_version,omitempty"`
	HasLibx264     bool      `json:"has_libx264"`
	ProbedAt       time.Time `json:"-"`
}

// Ready reports whether both binaries answered the version probe.
func (c Capabilities) Ready() bool {
	return c.FFmpegVersion != "" && c.FFprobeVersion != ""
}
