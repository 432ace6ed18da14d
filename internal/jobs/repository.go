package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Repository interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	NextPendingJob(ctx context.Context) (*Job, error)
	CountByStatus(ctx context.Context) (map[string]int, error)

	// ClaimJob moves a pending job to running. It reports false when the job
	// is no longer pending, e.g. because it was cancelled meanwhile.
	ClaimJob(ctx context.Context, id string) (bool, error)
	CancelPendingJob(ctx context.Context, id string) (bool, error)
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	CompleteJob(ctx context.Context, id, outputPath, edlPath, libraryPath string) error
	FinishJob(ctx context.Context, id, status, errMsg, errCode string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const jobColumns = `id, status, clips, project_name, output_path, edl_path, library_path,
	progress, error, error_code, created_at, updated_at`

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	clips, err := json.Marshal(j.Clips)
	if err != nil {
		return fmt.Errorf("encode clips: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, clips, project_name, progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Status, string(clips), nullString(j.ProjectName), j.Progress,
		j.CreatedAt.UTC().Format(time.RFC3339), j.UpdatedAt.UTC().Format(time.RFC3339))
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

func (r *SQLiteRepository) NextPendingJob(ctx context.Context) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY created_at ASC, rowid ASC LIMIT 1
	`)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *SQLiteRepository) ClaimJob(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, `
		UPDATE jobs SET status = 'running', progress = 0, updated_at = ? WHERE id = ? AND status = 'pending'
	`, now(), id)
}

func (r *SQLiteRepository) CancelPendingJob(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, `
		UPDATE jobs SET status = 'cancelled', error = 'cancelled before start', error_code = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, CodeCancelled, now(), id)
}

func (r *SQLiteRepository) transition(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ? AND status = 'running'
	`, progress, now(), id)
	return err
}

func (r *SQLiteRepository) CompleteJob(ctx context.Context, id, outputPath, edlPath, libraryPath string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'completed', progress = 100, output_path = ?, edl_path = ?, library_path = ?,
			error = NULL, error_code = NULL, updated_at = ?
		WHERE id = ?
	`, nullString(outputPath), nullString(edlPath), nullString(libraryPath), now(), id)
	return err
}

func (r *SQLiteRepository) FinishJob(ctx context.Context, id, status, errMsg, errCode string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, error_code = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errMsg), nullString(errCode), now(), id)
	return err
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

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var j Job
	var clips string
	var projectName, outputPath, edlPath, libraryPath, errMsg, errCode sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&j.ID, &j.Status, &clips, &projectName, &outputPath, &edlPath, &libraryPath,
		&j.Progress, &errMsg, &errCode, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(clips), &j.Clips); err != nil {
		return nil, fmt.Errorf("decode clips of job %s: %w", j.ID, err)
	}
	j.ProjectName = projectName.String
	j.OutputPath = outputPath.String
	j.EDLPath = edlPath.String
	j.LibraryPath = libraryPath.String
	j.Error = errMsg.String
	j.ErrorCode = errCode.String
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &j, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
