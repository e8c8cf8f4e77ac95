package jobs

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	CountJobsByState(ctx context.Context) (map[string]int, error)
	UpdateJobState(ctx context.Context, id, state, errorMsg string) error
	// CompareAndSetState moves a job from one state to another and reports
	// whether the job was in the expected state.
	CompareAndSetState(ctx context.Context, id, from, to string) (bool, error)
	UpdateJobProgress(ctx context.Context, id string, progress float64) error
	UpdateJobArtifact(ctx context.Context, id string, bytes int64, elapsed time.Duration) error
	UpdateJobRangeCount(ctx context.Context, id string, count int) error

	CreateSegment(ctx context.Context, seg *Segment) error
	GetSegment(ctx context.Context, id string) (*Segment, error)
	ListSegments(ctx context.Context, jobID string) ([]*Segment, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const jobColumns = `id, job_key, user_id, source_path, state, progress, artifact_bytes, compress_ms, range_count, error, created_at, updated_at`

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Key, j.UserID, j.SourcePath, j.State, j.Progress, j.ArtifactBytes, j.CompressMs, j.RangeCount,
		nullString(j.Error), j.CreatedAt.Format(time.RFC3339), j.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var errMsg sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &j.Key, &j.UserID, &j.SourcePath, &j.State, &j.Progress,
		&j.ArtifactBytes, &j.CompressMs, &j.RangeCount, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	j.Error = errMsg.String
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &j, nil
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *SQLiteRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE state = ? ORDER BY created_at ASC, rowid ASC
	`, StatePending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) CountJobsByState(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

func (r *SQLiteRepository) UpdateJobState(ctx context.Context, id, state, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, error = ?, updated_at = ? WHERE id = ?
	`, state, nullString(errorMsg), now(), id)
	return err
}

func (r *SQLiteRepository) CompareAndSetState(ctx context.Context, id, from, to string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, updated_at = ? WHERE id = ? AND state = ?
	`, to, now(), id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?
	`, progress, now(), id)
	return err
}

func (r *SQLiteRepository) UpdateJobArtifact(ctx context.Context, id string, bytes int64, elapsed time.Duration) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET artifact_bytes = ?, compress_ms = ?, updated_at = ? WHERE id = ?
	`, bytes, elapsed.Milliseconds(), now(), id)
	return err
}

func (r *SQLiteRepository) UpdateJobRangeCount(ctx context.Context, id string, count int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET range_count = ?, updated_at = ? WHERE id = ?
	`, count, now(), id)
	return err
}

const segmentColumns = `id, job_id, idx, range_min, range_max, status, output_path, duration_ms, error, created_at`

func (r *SQLiteRepository) CreateSegment(ctx context.Context, s *Segment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO segments (`+segmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.JobID, s.Index, nullInt(s.RangeMin), nullInt(s.RangeMax), s.Status,
		nullString(s.OutputPath), s.DurationMs, nullString(s.Error), s.CreatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetSegment(ctx context.Context, id string) (*Segment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+segmentColumns+` FROM segments WHERE id = ?`, id)
	s, err := scanSegment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *SQLiteRepository) ListSegments(ctx context.Context, jobID string) ([]*Segment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+segmentColumns+` FROM segments WHERE job_id = ? ORDER BY idx
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segs []*Segment
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segs = append(segs, s)
	}
	return segs, rows.Err()
}

func scanSegment(row scanner) (*Segment, error) {
	var s Segment
	var rangeMin, rangeMax sql.NullInt64
	var outputPath, errMsg sql.NullString
	var createdAt string

	err := row.Scan(&s.ID, &s.JobID, &s.Index, &rangeMin, &rangeMax, &s.Status,
		&outputPath, &s.DurationMs, &errMsg, &createdAt)
	if err != nil {
		return nil, err
	}
	s.RangeMin = intPtr(rangeMin)
	s.RangeMax = intPtr(rangeMax)
	s.OutputPath = outputPath.String
	s.Error = errMsg.String
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &s, nil
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
