package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

	defaultProbeTimeout  = 30 * time.Second
	defaultDoctorTimeout = 10 * time.Second
)

// Config holds the media tool configuration.
type Config struct {
	FFmpegPath    string // empty = look up "ffmpeg" on PATH
	FFprobePath   string // empty = look up "ffprobe" on PATH
	ProbeTimeout  time.Duration
	DoctorTimeout time.Duration
	Logger        *slog.Logger
	DebugPaths    bool // if true, log full file paths; otherwise sanitise
}

// FFmpeg is the production media tool. It satisfies the encoder used by the
// compress package and the trimmer used by the extract package.
type FFmpeg struct {
	cfg     Config
	ffmpeg  string
	ffprobe string
}

// NewFFmpeg resolves both binaries and returns a ready tool.
func NewFFmpeg(cfg Config) (*FFmpeg, error) {
	ffmpeg, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobe, err := resolveBinary(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.DoctorTimeout <= 0 {
		cfg.DoctorTimeout = defaultDoctorTimeout
	}

	cfg.Logger.Info("media tool initialised", "ffmpeg", ffmpeg, "ffprobe", ffprobe)

	return &FFmpeg{cfg: cfg, ffmpeg: ffmpeg, ffprobe: ffprobe}, nil
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		BitRate      string `json:"bit_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
}

// Probe reads duration, dimensions and bitrate of a media file.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.ProbeTimeout)
	defer cancel()

	var stdout bytes.Buffer
	result := f.exec(ctx, "ffprobe", f.ffprobe, &stdout,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if !result.IsSuccess() {
		return nil, &ExecError{Tool: "ffprobe", ExitCode: result.ExitCode, StderrTail: result.StderrTail}
	}
	return parseProbe(stdout.Bytes())
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}

	res := &ProbeResult{}
	if secs, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		res.Duration = time.Duration(secs * float64(time.Second))
	}
	if br, err := strconv.ParseInt(out.Format.BitRate, 10, 64); err == nil {
		res.Bitrate = br
	}

	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if res.Codec != "" {
				continue
			}
			res.Codec = s.CodecName
			res.Width = s.Width
			res.Height = s.Height
			res.FrameRate = parseRate(s.AvgFrameRate)
			if res.Bitrate == 0 {
				res.Bitrate, _ = strconv.ParseInt(s.BitRate, 10, 64)
			}
		case "audio":
			if res.AudioCodec == "" {
				res.AudioCodec = s.CodecName
			}
		}
	}

	if res.Codec == "" {
		return res, errors.New("no video stream found")
	}
	return res, nil
}

// parseRate turns ffprobe's "30000/1001" into a float.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// Encode runs one compression pass and reports fractional progress.
// The caller owns cancellation through ctx.
func (f *FFmpeg) Encode(ctx context.Context, req EncodeRequest, progress func(float64)) error {
	args := encodeArgs(req)
	pw := newProgressWriter(req.Duration, progress)

	result := f.exec(ctx, "ffmpeg", f.ffmpeg, pw, args...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !result.IsSuccess() {
		return &ExecError{Tool: "ffmpeg", ExitCode: result.ExitCode, StderrTail: result.StderrTail}
	}
	if progress != nil {
		progress(1)
	}
	return nil
}

func encodeArgs(req EncodeRequest) []string {
	preset := req.Preset
	if preset == "" {
		preset = "medium"
	}
	args := []string{
		"-y", "-hide_banner", "-nostats",
		"-progress", "pipe:1",
		"-i", req.Source,
	}
	if req.Width > 0 && req.Height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", req.Width, req.Height))
	}
	if req.FrameRate > 0 {
		args = append(args, "-r", strconv.FormatFloat(req.FrameRate, 'f', -1, 64))
	}
	args = append(args, "-c:v", "libx264", "-preset", preset)
	if req.VideoBitrate > 0 {
		args = append(args,
			"-b:v", strconv.FormatInt(req.VideoBitrate, 10),
			"-maxrate", strconv.FormatInt(req.VideoBitrate, 10),
			"-bufsize", strconv.FormatInt(req.VideoBitrate*2, 10),
		)
	}
	if req.NoAudio {
		args = append(args, "-an")
	} else {
		audio := req.AudioBitrate
		if audio <= 0 {
			audio = 128_000
		}
		args = append(args, "-c:a", "aac", "-b:a", strconv.FormatInt(audio, 10))
	}
	return append(args, "-movflags", "+faststart", req.Destination)
}

// Trim re-encodes the closed interval [Start, End] of the source at the
// highest quality settings.
func (f *FFmpeg) Trim(ctx context.Context, req TrimRequest) error {
	if req.End <= req.Start {
		return fmt.Errorf("trim range end %v not after start %v", req.End, req.Start)
	}
	if err := os.MkdirAll(filepath.Dir(req.Output), 0755); err != nil {
		return fmt.Errorf("cannot create output dir: %w", err)
	}

	result := f.exec(ctx, "ffmpeg", f.ffmpeg, io.Discard, trimArgs(req)...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !result.IsSuccess() {
		return &ExecError{Tool: "ffmpeg", ExitCode: result.ExitCode, StderrTail: result.StderrTail}
	}
	return nil
}

func trimArgs(req TrimRequest) []string {
	return []string{
		"-y", "-hide_banner", "-nostats",
		"-ss", formatSeconds(req.Start),
		"-i", req.Source,
		"-t", formatSeconds(req.Length()),
		"-c:v", "libx264", "-preset", "slow", "-crf", "18",
		"-c:a", "aac", "-b:a", "192k",
		"-movflags", "+faststart",
		req.Output,
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// RunDoctor asks both binaries for their version.
func (f *FFmpeg) RunDoctor(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.DoctorTimeout)
	defer cancel()

	caps := &Capabilities{FFmpegPath: f.ffmpeg, FFprobePath: f.ffprobe}

	var out bytes.Buffer
	res := f.exec(ctx, "ffmpeg", f.ffmpeg, &out, "-hide_banner", "-version")
	if !res.IsSuccess() {
		return nil, &ExecError{Tool: "ffmpeg", ExitCode: res.ExitCode, StderrTail: res.StderrTail}
	}
	caps.FFmpegVersion = firstLine(out.String())
	caps.HasLibx264 = strings.Contains(out.String(), "--enable-libx264")

	out.Reset()
	res = f.exec(ctx, "ffprobe", f.ffprobe, &out, "-hide_banner", "-version")
	if !res.IsSuccess() {
		return nil, &ExecError{Tool: "ffprobe", ExitCode: res.ExitCode, StderrTail: res.StderrTail}
	}
	caps.FFprobeVersion = firstLine(out.String())
	caps.ProbedAt = time.Now()

	f.cfg.Logger.Info("media doctor probe complete",
		"ffmpeg", caps.FFmpegVersion,
		"ffprobe", caps.FFprobeVersion,
		"libx264", caps.HasLibx264,
	)
	return caps, nil
}

// exec is the core subprocess execution helper.
func (f *FFmpeg) exec(ctx context.Context, tool, bin string, stdout io.Writer, args ...string) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = stdout

	f.cfg.Logger.Debug("executing media command", "tool", tool, "args", f.safeArgs(args))

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
		if exitCode == 0 {
			exitCode = -1
		}
	}

	stderrTail := stderrBuf.String()
	if exitCode != 0 && stderrTail == "" && err != nil {
		stderrTail = err.Error()
	}

	if exitCode != 0 {
		f.cfg.Logger.Warn("media command failed",
			"tool", tool,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		f.cfg.Logger.Debug("media command succeeded", "tool", tool, "duration_ms", elapsed.Milliseconds())
	}

	return RunResult{ExitCode: exitCode, StderrTail: stderrTail, Duration: elapsed}
}

func (f *FFmpeg) safeArgs(args []string) []string {
	if f.cfg.DebugPaths {
		return args
	}
	out := make([]string, len(args))
	for i, a := range args {
		if filepath.IsAbs(a) {
			out[i] = filepath.Base(a)
			continue
		}
		out[i] = a
	}
	return out
}

// resolveBinary finds a usable binary, preferring the configured path.
func resolveBinary(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("no %s binary found on PATH: %w", name, err)
	}
	return p, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := make([]byte, lw.limit)
		copy(tail, b[len(b)-lw.limit:])
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
