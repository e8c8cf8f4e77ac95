package highlight

import (
	"testing"
	"time"
)

func TestNewJobContext(t *testing.T) {
	ts := time.Date(2023, 12, 31, 23, 59, 58, 999, time.UTC)
	job, err := NewJobContext("bob", "/videos/a.mov", ts)
	if err != nil {
		t.Fatalf("NewJobContext() error = %v", err)
	}
	if job.Key != "bob-2023-12-31-23-59-58" {
		t.Errorf("Key = %q", job.Key)
	}
	if job.ArtifactName() != "bob-2023-12-31-23-59-58.mp4" {
		t.Errorf("ArtifactName() = %q", job.ArtifactName())
	}
	if job.ID == "" {
		t.Error("ID is empty")
	}

	other, _ := NewJobContext("bob", "/videos/a.mov", ts)
	if other.ID == job.ID {
		t.Error("IDs must be unique per job")
	}
}

func TestNewJobContext_Rejects(t *testing.T) {
	now := time.Now()
	if _, err := NewJobContext("", "/a.mov", now); err == nil {
		t.Error("expected error for empty user")
	}
	if _, err := NewJobContext("///", "/a.mov", now); err == nil {
		t.Error("expected error for user with no usable characters")
	}
	if _, err := NewJobContext("bob", " ", now); err == nil {
		t.Error("expected error for empty source")
	}
}

func TestSanitizeUserID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"alice", "alice"},
		{"first.last_1", "first.last_1"},
		{"a b/c", "a_b_c"},
		{"../etc", ".._etc"},
		{"  padded  ", "padded"},
		{"..", ""},
		{"한글", ""},
	}
	for _, tt := range tests {
		if got := SanitizeUserID(tt.in); got != tt.want {
			t.Errorf("SanitizeUserID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateCompressing, true},
		{StateCompressing, StateCancelled, true},
		{StateUploading, StateCancelled, false},
		{StateAnalyzing, StateExtracting, true},
		{StateExtracting, StateDone, true},
		{StateDone, StateFailed, false},
		{StateCompressing, StateExtracting, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestState_Flags(t *testing.T) {
	for _, s := range []State{StateDone, StateFailed, StateCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if StateUploading.Cancellable() || !StateCompressing.Cancellable() {
		t.Error("only idle/compressing are cancellable")
	}
}
