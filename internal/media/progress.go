package media

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// progressWriter consumes ffmpeg's "-progress pipe:1" key=value stream and
// reports the encoded fraction of total.
type progressWriter struct {
	total  time.Duration
	report func(float64)
	buf    []byte
	last   float64
}

func newProgressWriter(total time.Duration, report func(float64)) *progressWriter {
	return &progressWriter{total: total, report: report}
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.buf = append(p.buf, b...)
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		p.handleLine(string(p.buf[:idx]))
		p.buf = p.buf[idx+1:]
	}
	return len(b), nil
}

func (p *progressWriter) handleLine(line string) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return
	}
	switch key {
	// out_time_ms is microseconds as well, a long-standing ffmpeg quirk.
	case "out_time_us", "out_time_ms":
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || p.total <= 0 {
			return
		}
		p.emit(float64(time.Duration(us)*time.Microsecond) / float64(p.total))
	case "progress":
		if value == "end" {
			p.emit(1)
		}
	}
}

// emit clamps to [0,1] and never reports a lower value than before.
func (p *progressWriter) emit(fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	if fraction <= p.last {
		return
	}
	p.last = fraction
	if p.report != nil {
		p.report(fraction)
	}
}
