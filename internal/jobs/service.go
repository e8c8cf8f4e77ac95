package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/highlighter/highlighter-agent/internal/compress"
	"github.com/highlighter/highlighter-agent/internal/highlight"
)

var (
	ErrNotFound       = errors.New("job not found")
	ErrNotCancellable = errors.New("job can no longer be cancelled")
)

// JobService is the API-facing surface of the job catalog.
type JobService interface {
	Submit(ctx context.Context, sourcePath, userID string) (*Job, error)
	Cancel(ctx context.Context, id string) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListSegments(ctx context.Context, jobID string) ([]*Segment, error)
	GetSegment(ctx context.Context, id string) (*Segment, error)
	CountJobsByState(ctx context.Context) (map[string]int, error)
}

type Service struct {
	repo          Repository
	defaultUserID string
	logger        *slog.Logger
	clock         func() time.Time

	mu     sync.Mutex
	tokens map[string]*compress.CancelToken
}

func NewService(repo Repository, defaultUserID string, logger *slog.Logger) *Service {
	return &Service{
		repo:          repo,
		defaultUserID: defaultUserID,
		logger:        logger,
		clock:         time.Now,
		tokens:        make(map[string]*compress.CancelToken),
	}
}

// Submit records a pending job for sourcePath. The job key is fixed here,
// from the submission time.
func (s *Service) Submit(ctx context.Context, sourcePath, userID string) (*Job, error) {
	absPath, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("source does not exist: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("source is not a regular file")
	}
	if !IsVideoFile(absPath) {
		return nil, fmt.Errorf("unsupported video type %q", filepath.Ext(absPath))
	}

	if userID == "" {
		userID = s.defaultUserID
	}
	jc, err := highlight.NewJobContext(userID, absPath, s.clock())
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:         jc.ID,
		Key:        jc.Key,
		UserID:     jc.UserID,
		SourcePath: jc.SourcePath,
		State:      StatePending,
		CreatedAt:  jc.Timestamp,
		UpdatedAt:  jc.Timestamp,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("job submitted", "job_id", job.ID, "job_key", job.Key, "source", filepath.Base(absPath))
	return job, nil
}

// Cancel stops a job that has not left compression. Pending jobs are
// cancelled immediately; a compressing job resolves asynchronously.
func (s *Service) Cancel(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}

	ok, err := s.repo.CompareAndSetState(ctx, id, StatePending, string(highlight.StateCancelled))
	if err != nil {
		return nil, err
	}
	if ok {
		s.logger.Info("pending job cancelled", "job_id", id, "job_key", job.Key)
		return s.repo.GetJob(ctx, id)
	}

	s.mu.Lock()
	token := s.tokens[id]
	s.mu.Unlock()

	job, err = s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if token == nil || !highlight.State(job.State).Cancellable() {
		return job, ErrNotCancellable
	}
	token.Cancel()
	s.logger.Info("cancel requested", "job_id", id, "job_key", job.Key)
	return job, nil
}

// track registers the cancel token for a job about to run.
func (s *Service) track(id string) *compress.CancelToken {
	token := compress.NewCancelToken()
	s.mu.Lock()
	s.tokens[id] = token
	s.mu.Unlock()
	return token
}

func (s *Service) untrack(id string) {
	s.mu.Lock()
	delete(s.tokens, id)
	s.mu.Unlock()
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

func (s *Service) ListSegments(ctx context.Context, jobID string) ([]*Segment, error) {
	return s.repo.ListSegments(ctx, jobID)
}

func (s *Service) GetSegment(ctx context.Context, id string) (*Segment, error) {
	return s.repo.GetSegment(ctx, id)
}

func (s *Service) CountJobsByState(ctx context.Context) (map[string]int, error) {
	return s.repo.CountJobsByState(ctx)
}
