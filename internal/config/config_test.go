package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvConfigFile, EnvPort, EnvLogLevel, EnvDataDir, EnvUserID,
		EnvAnalysisHost, EnvAnalysisPort, EnvAnalysisTimeout,
		EnvStorageProvider, EnvStorageID, EnvStorageSecret, EnvStorageRegion,
		EnvStorageBucket, EnvStorageEndpoint, EnvStorageUseSSL,
		EnvFFmpegPath, EnvFFprobePath, EnvInboxDir, EnvLibraryDir, EnvExtractConcurrency,
	} {
		t.Setenv(key, "")
	}
	t.Setenv(EnvDataDir, t.TempDir())
}

func TestNew_Defaults(t *testing.T) {
	isolateEnv(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.AnalysisURL() != "http://127.0.0.1:5001/" {
		t.Errorf("AnalysisURL() = %q", cfg.AnalysisURL())
	}
	if cfg.AnalysisTimeout() != 600*time.Second {
		t.Errorf("AnalysisTimeout() = %v, want 600s", cfg.AnalysisTimeout())
	}
	if cfg.Storage().Provider != "filesystem" {
		t.Errorf("storage provider = %q, want filesystem", cfg.Storage().Provider)
	}
	if cfg.Storage().Bucket != filepath.Join(cfg.DataDir(), "blobs") {
		t.Errorf("filesystem bucket = %q, want under data dir", cfg.Storage().Bucket)
	}
	if cfg.ExtractConcurrency() != DefaultExtractConcurrency {
		t.Errorf("ExtractConcurrency() = %d", cfg.ExtractConcurrency())
	}
}

func TestNew_EnvOverrides(t *testing.T) {
	isolateEnv(t)
	t.Setenv(EnvAnalysisHost, "10.0.0.5")
	t.Setenv(EnvAnalysisPort, "6000")
	t.Setenv(EnvAnalysisTimeout, "30")
	t.Setenv(EnvUserID, "U1")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AnalysisURL() != "http://10.0.0.5:6000/" {
		t.Errorf("AnalysisURL() = %q", cfg.AnalysisURL())
	}
	if cfg.AnalysisTimeout() != 30*time.Second {
		t.Errorf("AnalysisTimeout() = %v", cfg.AnalysisTimeout())
	}
	if cfg.UserID() != "U1" {
		t.Errorf("UserID() = %q", cfg.UserID())
	}
}

func TestNew_InvalidPort(t *testing.T) {
	isolateEnv(t)
	t.Setenv(EnvPort, "70000")

	if _, err := New(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestNew_YAMLFileWithEnvPrecedence(t *testing.T) {
	isolateEnv(t)

	path := filepath.Join(t.TempDir(), "highlighter.yaml")
	content := `
userId: from-file
analysis:
  host: analysis.internal
  port: 7000
  timeout: 5m
storage:
  provider: s3
  bucket: highlights
extractConcurrency: 4
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvAnalysisPort, "7100")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.UserID() != "from-file" {
		t.Errorf("UserID() = %q, want from-file", cfg.UserID())
	}
	if cfg.AnalysisURL() != "http://analysis.internal:7100/" {
		t.Errorf("AnalysisURL() = %q, env port should win", cfg.AnalysisURL())
	}
	if cfg.AnalysisTimeout() != 5*time.Minute {
		t.Errorf("AnalysisTimeout() = %v, want 5m", cfg.AnalysisTimeout())
	}
	st := cfg.Storage()
	if st.Provider != "s3" || st.Bucket != "highlights" || st.Region != "us-east-1" {
		t.Errorf("storage = %+v", st)
	}
	if cfg.ExtractConcurrency() != 4 {
		t.Errorf("ExtractConcurrency() = %d, want 4", cfg.ExtractConcurrency())
	}
}

func TestNew_MinioRequiresEndpoint(t *testing.T) {
	isolateEnv(t)
	t.Setenv(EnvStorageProvider, "minio")
	t.Setenv(EnvStorageBucket, "b")

	if _, err := New(); err == nil {
		t.Fatal("expected error for minio without endpoint")
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	isolateEnv(t)
	t.Setenv(EnvStorageProvider, "floppy")

	if _, err := New(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
