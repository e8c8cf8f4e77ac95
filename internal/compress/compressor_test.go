package compress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/highlighter/highlighter-agent/internal/media"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEncoder struct {
	probe    *media.ProbeResult
	probeErr error

	encodeErr error
	// blockUntilCancel makes Encode wait for its context, writing a partial file first.
	blockUntilCancel bool
	steps            []float64

	encodeCalls atomic.Int32
	lastReq     media.EncodeRequest
}

func (f *fakeEncoder) Probe(ctx context.Context, path string) (*media.ProbeResult, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	p := *f.probe
	return &p, nil
}

func (f *fakeEncoder) Encode(ctx context.Context, req media.EncodeRequest, progress func(float64)) error {
	f.encodeCalls.Add(1)
	f.lastReq = req
	if err := os.WriteFile(req.Destination, []byte("partial"), 0644); err != nil {
		return err
	}
	for _, s := range f.steps {
		progress(s)
	}
	if f.blockUntilCancel {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.encodeErr != nil {
		return f.encodeErr
	}
	return os.WriteFile(req.Destination, []byte("compressed-bytes"), 0644)
}

func hdProbe() *media.ProbeResult {
	return &media.ProbeResult{Duration: 10 * time.Second, Width: 1920, Height: 1080, Bitrate: 10_000_000}
}

func writeSource(t *testing.T) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "clip.mov")
	if err := os.WriteFile(src, []byte("source"), 0644); err != nil {
		t.Fatal(err)
	}
	return src
}

func collect(t *testing.T, run *Run) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-run.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
}

func terminalCount(events []Event) int {
	n := 0
	for _, ev := range events {
		if ev.Kind.Terminal() {
			n++
		}
	}
	return n
}

func TestCompressor_Success(t *testing.T) {
	enc := &fakeEncoder{probe: hdProbe(), steps: []float64{0.25, 0.5, 1}}
	c := NewCompressor(enc, testLogger())
	dst := filepath.Join(t.TempDir(), "tmp", "out.mp4")

	run := c.Start(context.Background(), Request{Source: writeSource(t), Destination: dst, Policy: DefaultPolicy()}, NewCancelToken())
	events := collect(t, run)

	if events[0].Kind != EventStart {
		t.Errorf("first event = %v, want start", events[0].Kind)
	}
	last := events[len(events)-1]
	if last.Kind != EventSuccess {
		t.Fatalf("last event = %v (%v), want success", last.Kind, last.Err)
	}
	if terminalCount(events) != 1 {
		t.Errorf("terminal events = %d, want 1", terminalCount(events))
	}
	var fractions []float64
	for _, ev := range events {
		if ev.Kind == EventProgress {
			fractions = append(fractions, ev.Fraction)
		}
	}
	if len(fractions) != 3 {
		t.Errorf("progress = %v, want 3 updates", fractions)
	}

	art, err := run.Wait()
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if art.Path != dst || art.Size != int64(len("compressed-bytes")) {
		t.Errorf("artifact = %+v", art)
	}
	if enc.lastReq.VideoBitrate != 3_000_000 {
		t.Errorf("target bitrate = %d, want 3000000", enc.lastReq.VideoBitrate)
	}
	if enc.lastReq.Width != 960 || enc.lastReq.Height != 540 {
		t.Errorf("target size = %dx%d, want 960x540", enc.lastReq.Width, enc.lastReq.Height)
	}
}

func TestCompressor_ClearsExistingDestination(t *testing.T) {
	enc := &fakeEncoder{probe: hdProbe(), encodeErr: errors.New("codec exploded")}
	c := NewCompressor(enc, testLogger())
	dst := filepath.Join(t.TempDir(), "out.mp4")
	if err := os.WriteFile(dst, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}

	run := c.Start(context.Background(), Request{Source: writeSource(t), Destination: dst, Policy: DefaultPolicy()}, nil)
	_, err := run.Wait()

	var cerr *Error
	if !errors.As(err, &cerr) || !strings.Contains(cerr.Error(), "codec exploded") {
		t.Fatalf("Wait() error = %v, want *Error carrying encoder reason", err)
	}
	if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
		t.Error("destination should not exist after failure")
	}
}

func TestCompressor_MinBitrateRefused(t *testing.T) {
	enc := &fakeEncoder{probe: &media.ProbeResult{Duration: time.Second, Width: 640, Height: 360, Bitrate: 1_500_000}}
	c := NewCompressor(enc, testLogger())

	run := c.Start(context.Background(), Request{Source: writeSource(t), Destination: filepath.Join(t.TempDir(), "o.mp4"), Policy: DefaultPolicy()}, nil)
	events := collect(t, run)

	if len(events) != 1 || events[0].Kind != EventFailure {
		t.Fatalf("events = %+v, want a single failure", events)
	}
	if enc.encodeCalls.Load() != 0 {
		t.Error("encoder should not run when bitrate check fails")
	}
}

func TestCompressor_MissingSource(t *testing.T) {
	c := NewCompressor(&fakeEncoder{probe: hdProbe()}, testLogger())
	run := c.Start(context.Background(), Request{Source: "/does/not/exist.mov", Destination: filepath.Join(t.TempDir(), "o.mp4"), Policy: DefaultPolicy()}, nil)
	if _, err := run.Wait(); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestCompressor_CancelDuringEncode(t *testing.T) {
	enc := &fakeEncoder{probe: hdProbe(), blockUntilCancel: true}
	c := NewCompressor(enc, testLogger())
	c.pollInterval = 5 * time.Millisecond
	dst := filepath.Join(t.TempDir(), "out.mp4")
	token := NewCancelToken()

	run := c.Start(context.Background(), Request{Source: writeSource(t), Destination: dst, Policy: DefaultPolicy()}, token)
	for ev := range run.Events() {
		if ev.Kind == EventStart {
			token.Cancel()
			break
		}
	}

	_, err := run.Wait()
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Wait() error = %v, want ErrCancelled", err)
	}
	events := collect(t, run)
	if len(events) == 0 || events[len(events)-1].Kind != EventCancelled {
		t.Errorf("remaining events = %+v, want cancelled last", events)
	}
	if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
		t.Error("partial output should be removed on cancel")
	}
}

func TestCompressor_CancelledBeforeStart(t *testing.T) {
	enc := &fakeEncoder{probe: hdProbe()}
	c := NewCompressor(enc, testLogger())
	token := NewCancelToken()
	token.Cancel()

	run := c.Start(context.Background(), Request{Source: writeSource(t), Destination: filepath.Join(t.TempDir(), "o.mp4"), Policy: DefaultPolicy()}, token)
	if _, err := run.Wait(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Wait() error = %v, want ErrCancelled", err)
	}
	if enc.encodeCalls.Load() != 0 {
		t.Error("encoder should not run for a pre-cancelled token")
	}
}

func TestCompressor_ParentContextCancelIsFailure(t *testing.T) {
	enc := &fakeEncoder{probe: hdProbe(), blockUntilCancel: true}
	c := NewCompressor(enc, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run := c.Start(ctx, Request{Source: writeSource(t), Destination: filepath.Join(t.TempDir(), "o.mp4"), Policy: DefaultPolicy()}, NewCancelToken())
	for ev := range run.Events() {
		if ev.Kind == EventStart {
			cancel()
			break
		}
	}

	_, err := run.Wait()
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("Wait() error = %v, want *Error", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error should wrap context.Canceled: %v", err)
	}
}

func TestCancelToken_NilSafe(t *testing.T) {
	var tok *CancelToken
	tok.Cancel()
	if tok.Cancelled() {
		t.Error("nil token must never report cancelled")
	}
}

func TestArtifact_HumanSize(t *testing.T) {
	a := Artifact{Size: 12_000_000}
	if got := a.HumanSize(); got != "12 MB" {
		t.Errorf("HumanSize() = %q, want 12 MB", got)
	}
}
