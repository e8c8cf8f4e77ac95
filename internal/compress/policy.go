package compress

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/highlighter/highlighter-agent/internal/media"
)

// MaxFrameRate caps the output frame rate; slower sources keep their rate.
const MaxFrameRate = 30

// MinBitrate is the source bitrate below which compression is refused when
// the policy's minimum bitrate check is enabled.
const MinBitrate = 2_000_000

// Plan turns probed source metadata and a policy into encoder settings.
func Plan(src *media.ProbeResult, p Policy) (media.EncodeRequest, error) {
	var req media.EncodeRequest

	factor, ok := bitrateFactor[p.Quality]
	if !ok {
		return req, &Error{Reason: fmt.Sprintf("unknown quality %q", p.Quality)}
	}
	if src.Bitrate <= 0 {
		return req, &Error{Reason: "source bitrate unknown"}
	}
	if p.MinBitrateCheck && src.Bitrate <= MinBitrate {
		return req, &Error{Reason: fmt.Sprintf("source bitrate %s/s is below the %s/s minimum",
			humanize.SI(float64(src.Bitrate), "b"), humanize.SI(MinBitrate, "b"))}
	}

	req.VideoBitrate = int64(float64(src.Bitrate) * factor)
	req.Duration = src.Duration
	req.Preset = "medium"
	req.NoAudio = src.AudioCodec == ""
	if src.FrameRate > MaxFrameRate {
		req.FrameRate = MaxFrameRate
	}

	if !p.KeepOriginalResolution && src.Width > 0 && src.Height > 0 {
		req.Width, req.Height = scaledSize(src.Width, src.Height)
	}
	return req, nil
}

// scaledSize shrinks by the longest edge and rounds to even dimensions, as
// required by yuv420p.
func scaledSize(w, h int) (int, int) {
	longest := max(w, h)
	var scale float64
	switch {
	case longest >= 1920:
		scale = 0.5
	case longest >= 1280:
		scale = 0.75
	case longest >= 960:
		scale = 0.95
	default:
		return even(w), even(h)
	}
	return even(int(float64(w) * scale)), even(int(float64(h) * scale))
}

func even(n int) int {
	if n%2 != 0 {
		n--
	}
	if n < 2 {
		return 2
	}
	return n
}
