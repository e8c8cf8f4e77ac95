// Package config provides configuration management for the Highlighter Agent.
// Configuration is loaded from an optional YAML file and environment variables,
// with environment variables taking precedence over the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort     = 8788
	DefaultLogLevel = "info"
	DefaultDataDir  = ".highlighter"
	DefaultUserID   = "local"

	DefaultAnalysisHost    = "127.0.0.1"
	DefaultAnalysisPort    = 5001
	DefaultAnalysisTimeout = 600 // seconds, connect and transfer

	DefaultStorageProvider    = "filesystem"
	DefaultExtractConcurrency = 2
	DefaultPollInterval       = 2 // seconds

	// Environment variable names
	EnvConfigFile = "HIGHLIGHTER_CONFIG"
	EnvPort       = "HIGHLIGHTER_PORT"
	EnvLogLevel   = "HIGHLIGHTER_LOG_LEVEL"
	EnvDataDir    = "HIGHLIGHTER_DATA_DIR"
	EnvUserID     = "HIGHLIGHTER_USER_ID"

	EnvAnalysisHost    = "HIGHLIGHTER_ANALYSIS_HOST"
	EnvAnalysisPort    = "HIGHLIGHTER_ANALYSIS_PORT"
	EnvAnalysisTimeout = "HIGHLIGHTER_ANALYSIS_TIMEOUT"

	EnvStorageProvider = "HIGHLIGHTER_STORAGE_PROVIDER"
	EnvStorageID       = "HIGHLIGHTER_STORAGE_ID"
	EnvStorageSecret   = "HIGHLIGHTER_STORAGE_SECRET"
	EnvStorageRegion   = "HIGHLIGHTER_STORAGE_REGION"
	EnvStorageBucket   = "HIGHLIGHTER_STORAGE_BUCKET"
	EnvStorageEndpoint = "HIGHLIGHTER_STORAGE_ENDPOINT"
	EnvStorageUseSSL   = "HIGHLIGHTER_STORAGE_USE_SSL"

	EnvFFmpegPath         = "HIGHLIGHTER_FFMPEG"
	EnvFFprobePath        = "HIGHLIGHTER_FFPROBE"
	EnvInboxDir           = "HIGHLIGHTER_INBOX_DIR"
	EnvLibraryDir         = "HIGHLIGHTER_LIBRARY_DIR"
	EnvExtractConcurrency = "HIGHLIGHTER_EXTRACT_CONCURRENCY"

	// Database filename
	DBFilename = "highlighter.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	TempDir() string
	OutputDir() string
	UserID() string
	AnalysisURL() string
	AnalysisTimeout() time.Duration
	Storage() StorageConfig
	FFmpegPath() string
	FFprobePath() string
	InboxDir() string
	LibraryDir() string
	ExtractConcurrency() int
	PollInterval() time.Duration
}

// StorageConfig selects the blob storage provider used for analysis uploads.
type StorageConfig struct {
	Provider string `yaml:"provider"` // filesystem, s3, minio
	ID       string `yaml:"id"`
	Secret   string `yaml:"secret"`
	Region   string `yaml:"region"`
	Bucket   string `yaml:"bucket"` // bucket name, or base folder for filesystem
	Endpoint string `yaml:"endpoint"`
	UseSSL   bool   `yaml:"useSSL"`
}

// fileConfig mirrors the YAML layout. Zero values mean "not set".
type fileConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
	DataDir  string `yaml:"dataDir"`
	UserID   string `yaml:"userId"`
	Analysis struct {
		Host    string        `yaml:"host"`
		Port    int           `yaml:"port"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"analysis"`
	Storage StorageConfig `yaml:"storage"`
	Media   struct {
		FFmpeg  string `yaml:"ffmpeg"`
		FFprobe string `yaml:"ffprobe"`
	} `yaml:"media"`
	InboxDir           string        `yaml:"inboxDir"`
	LibraryDir         string        `yaml:"libraryDir"`
	ExtractConcurrency int           `yaml:"extractConcurrency"`
	PollInterval       time.Duration `yaml:"pollInterval"`
}

// EnvConfig holds configuration resolved from defaults, file and environment.
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string
	userID   string

	analysisHost    string
	analysisPort    int
	analysisTimeout time.Duration

	storage StorageConfig

	ffmpegPath         string
	ffprobePath        string
	inboxDir           string
	libraryDir         string
	extractConcurrency int
	pollInterval       time.Duration
}

// New creates a new EnvConfig with defaults, the optional YAML file named by
// HIGHLIGHTER_CONFIG, and environment variable overrides.
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:               DefaultPort,
		logLevel:           DefaultLogLevel,
		dataDir:            defaultDataDir(),
		userID:             DefaultUserID,
		analysisHost:       DefaultAnalysisHost,
		analysisPort:       DefaultAnalysisPort,
		analysisTimeout:    time.Duration(DefaultAnalysisTimeout) * time.Second,
		storage:            StorageConfig{Provider: DefaultStorageProvider},
		extractConcurrency: DefaultExtractConcurrency,
		pollInterval:       time.Duration(DefaultPollInterval) * time.Second,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		c.port = fc.Port
	}
	setString(&c.logLevel, fc.LogLevel)
	setString(&c.dataDir, fc.DataDir)
	setString(&c.userID, fc.UserID)
	setString(&c.analysisHost, fc.Analysis.Host)
	if fc.Analysis.Port != 0 {
		c.analysisPort = fc.Analysis.Port
	}
	if fc.Analysis.Timeout > 0 {
		c.analysisTimeout = fc.Analysis.Timeout
	}
	setString(&c.storage.Provider, fc.Storage.Provider)
	setString(&c.storage.ID, fc.Storage.ID)
	setString(&c.storage.Secret, fc.Storage.Secret)
	setString(&c.storage.Region, fc.Storage.Region)
	setString(&c.storage.Bucket, fc.Storage.Bucket)
	setString(&c.storage.Endpoint, fc.Storage.Endpoint)
	c.storage.UseSSL = c.storage.UseSSL || fc.Storage.UseSSL
	setString(&c.ffmpegPath, fc.Media.FFmpeg)
	setString(&c.ffprobePath, fc.Media.FFprobe)
	setString(&c.inboxDir, fc.InboxDir)
	setString(&c.libraryDir, fc.LibraryDir)
	if fc.ExtractConcurrency > 0 {
		c.extractConcurrency = fc.ExtractConcurrency
	}
	if fc.PollInterval > 0 {
		c.pollInterval = fc.PollInterval
	}
	return nil
}

func (c *EnvConfig) loadEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}
	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.dataDir, os.Getenv(EnvDataDir))
	setString(&c.userID, os.Getenv(EnvUserID))

	setString(&c.analysisHost, os.Getenv(EnvAnalysisHost))
	if p := os.Getenv(EnvAnalysisPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvAnalysisPort, err)
		}
		c.analysisPort = port
	}
	if t := os.Getenv(EnvAnalysisTimeout); t != "" {
		secs, err := strconv.Atoi(t)
		if err != nil || secs <= 0 {
			return fmt.Errorf("invalid %s: must be a positive number of seconds", EnvAnalysisTimeout)
		}
		c.analysisTimeout = time.Duration(secs) * time.Second
	}

	setString(&c.storage.Provider, os.Getenv(EnvStorageProvider))
	setString(&c.storage.ID, os.Getenv(EnvStorageID))
	setString(&c.storage.Secret, os.Getenv(EnvStorageSecret))
	setString(&c.storage.Region, os.Getenv(EnvStorageRegion))
	setString(&c.storage.Bucket, os.Getenv(EnvStorageBucket))
	setString(&c.storage.Endpoint, os.Getenv(EnvStorageEndpoint))
	if v := os.Getenv(EnvStorageUseSSL); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvStorageUseSSL, err)
		}
		c.storage.UseSSL = b
	}

	setString(&c.ffmpegPath, os.Getenv(EnvFFmpegPath))
	setString(&c.ffprobePath, os.Getenv(EnvFFprobePath))
	setString(&c.inboxDir, os.Getenv(EnvInboxDir))
	setString(&c.libraryDir, os.Getenv(EnvLibraryDir))
	if v := os.Getenv(EnvExtractConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid %s: must be a positive integer", EnvExtractConcurrency)
		}
		c.extractConcurrency = n
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.port)
	}
	if c.analysisPort < 1 || c.analysisPort > 65535 {
		return fmt.Errorf("invalid analysis port %d: must be between 1 and 65535", c.analysisPort)
	}
	if strings.TrimSpace(c.userID) == "" {
		return fmt.Errorf("user id must not be empty")
	}
	switch c.storage.Provider {
	case "filesystem", "local":
		if c.storage.Bucket == "" {
			c.storage.Bucket = filepath.Join(c.dataDir, "blobs")
		}
	case "s3", "aws-s3":
		if c.storage.Bucket == "" {
			return fmt.Errorf("storage bucket is required for provider %s", c.storage.Provider)
		}
		if c.storage.Region == "" {
			c.storage.Region = "us-east-1"
		}
	case "minio":
		if c.storage.Bucket == "" || c.storage.Endpoint == "" {
			return fmt.Errorf("storage bucket and endpoint are required for provider minio")
		}
	default:
		return fmt.Errorf("unsupported storage provider %q", c.storage.Provider)
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// TempDir holds compressed artifacts until they are uploaded.
func (c *EnvConfig) TempDir() string {
	return filepath.Join(c.dataDir, "tmp")
}

// OutputDir is the fixed directory extracted clips are written to.
func (c *EnvConfig) OutputDir() string {
	return filepath.Join(c.dataDir, "output")
}

func (c *EnvConfig) UserID() string {
	return c.userID
}

// AnalysisURL returns the analysis service endpoint, http://host:port/.
func (c *EnvConfig) AnalysisURL() string {
	return fmt.Sprintf("http://%s:%d/", c.analysisHost, c.analysisPort)
}

func (c *EnvConfig) AnalysisTimeout() time.Duration {
	return c.analysisTimeout
}

func (c *EnvConfig) Storage() StorageConfig {
	return c.storage
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

// InboxDir is watched for new videos when set.
func (c *EnvConfig) InboxDir() string {
	return c.inboxDir
}

// LibraryDir receives published artifacts and clips when set.
func (c *EnvConfig) LibraryDir() string {
	return c.libraryDir
}

func (c *EnvConfig) ExtractConcurrency() int {
	return c.extractConcurrency
}

func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
