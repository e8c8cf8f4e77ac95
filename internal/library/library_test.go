package library

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewDirPublisher_EmptyDirIsNop(t *testing.T) {
	p, err := NewDirPublisher("", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(Nop); !ok {
		t.Fatalf("publisher = %T, want Nop", p)
	}
	if err := p.Publish(context.Background(), "/whatever.mp4"); err != nil {
		t.Errorf("Nop.Publish() error = %v", err)
	}
}

func TestDirPublisher_PublishKeepsExisting(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "library")
	p, err := NewDirPublisher(lib, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	src := filepath.Join(t.TempDir(), "clip.mp4")
	os.WriteFile(src, []byte("first"), 0644)
	if err := p.Publish(context.Background(), src); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	os.WriteFile(src, []byte("second"), 0644)
	if err := p.Publish(context.Background(), src); err != nil {
		t.Fatalf("second Publish() error = %v", err)
	}

	first, _ := os.ReadFile(filepath.Join(lib, "clip.mp4"))
	second, _ := os.ReadFile(filepath.Join(lib, "clip (1).mp4"))
	if string(first) != "first" || string(second) != "second" {
		t.Errorf("library contents = %q, %q", first, second)
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("publishing must not consume the source")
	}
}

func TestDirPublisher_MissingSource(t *testing.T) {
	p, _ := NewDirPublisher(t.TempDir(), testLogger())
	if err := p.Publish(context.Background(), "/missing/clip.mp4"); err == nil {
		t.Fatal("expected error for missing source")
	}
}
