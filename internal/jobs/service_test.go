package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/highlighter/highlighter-agent/internal/db"
	"github.com/highlighter/highlighter-agent/internal/highlight"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestDB(t *testing.T) Repository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewRepository(database.Conn())
}

func writeVideo(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte("video"), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestService_Submit(t *testing.T) {
	repo := setupTestDB(t)
	svc := NewService(repo, "default_user", testLogger())
	svc.clock = func() time.Time { return time.Date(2024, 6, 1, 12, 30, 45, 0, time.Local) }

	src := writeVideo(t, "holiday.MOV")
	job, err := svc.Submit(context.Background(), src, "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if job.Key != "default_user-2024-06-01-12-30-45" {
		t.Errorf("Key = %q", job.Key)
	}
	if job.State != StatePending {
		t.Errorf("State = %q, want pending", job.State)
	}

	stored, err := repo.GetJob(context.Background(), job.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetJob() = %v, %v", stored, err)
	}
	if stored.Key != job.Key || stored.SourcePath != src || stored.UserID != "default_user" {
		t.Errorf("stored job = %+v", stored)
	}
	if ctx := stored.Context(); ctx.Key != job.Key || ctx.ID != job.ID {
		t.Errorf("Context() = %+v", ctx)
	}
}

func TestService_Submit_Rejects(t *testing.T) {
	svc := NewService(setupTestDB(t), "", testLogger())
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "/nonexistent/clip.mp4", "bob"); err == nil {
		t.Error("expected error for missing source")
	}
	if _, err := svc.Submit(ctx, t.TempDir(), "bob"); err == nil {
		t.Error("expected error for directory source")
	}
	if _, err := svc.Submit(ctx, writeVideo(t, "notes.txt"), "bob"); err == nil {
		t.Error("expected error for non-video file")
	}
	if _, err := svc.Submit(ctx, writeVideo(t, "clip.mp4"), ""); err == nil {
		t.Error("expected error without any user id")
	}
}

func TestService_CancelPending(t *testing.T) {
	svc := NewService(setupTestDB(t), "alice", testLogger())
	ctx := context.Background()

	job, err := svc.Submit(ctx, writeVideo(t, "a.mp4"), "")
	if err != nil {
		t.Fatal(err)
	}
	got, err := svc.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if got.State != string(highlight.StateCancelled) {
		t.Errorf("State = %s, want cancelled", got.State)
	}

	if _, err := svc.Cancel(ctx, job.ID); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("second Cancel() error = %v, want ErrNotCancellable", err)
	}
}

func TestService_CancelCompressing(t *testing.T) {
	repo := setupTestDB(t)
	svc := NewService(repo, "alice", testLogger())
	ctx := context.Background()

	job, _ := svc.Submit(ctx, writeVideo(t, "a.mp4"), "")
	token := svc.track(job.ID)
	repo.UpdateJobState(ctx, job.ID, string(highlight.StateCompressing), "")

	if _, err := svc.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if !token.Cancelled() {
		t.Error("token should be set")
	}
}

func TestService_CancelAfterCompression(t *testing.T) {
	repo := setupTestDB(t)
	svc := NewService(repo, "alice", testLogger())
	ctx := context.Background()

	job, _ := svc.Submit(ctx, writeVideo(t, "a.mp4"), "")
	token := svc.track(job.ID)
	repo.UpdateJobState(ctx, job.ID, string(highlight.StateUploading), "")

	if _, err := svc.Cancel(ctx, job.ID); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("Cancel() error = %v, want ErrNotCancellable", err)
	}
	if token.Cancelled() {
		t.Error("token must not be set once upload started")
	}
}

func TestService_CancelUnknown(t *testing.T) {
	svc := NewService(setupTestDB(t), "alice", testLogger())
	if _, err := svc.Cancel(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel() error = %v, want ErrNotFound", err)
	}
}

func TestIsVideoFile(t *testing.T) {
	tests := map[string]bool{
		"a.mp4": true, "B.MOV": true, "c.m4v": true, "d.mkv": true,
		"e.txt": false, "noext": false, "f.mp4.part": false,
	}
	for name, want := range tests {
		if got := IsVideoFile(name); got != want {
			t.Errorf("IsVideoFile(%q) = %v, want %v", name, got, want)
		}
	}
}
