package queue

import (
	"database/sql"
	"time"

	"github.com/curioshelf/curio/errors"
)

// SQLiteStore persists jobs in the curio SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a job store over an open database handle.
// The jobs table must already exist (db.Migrate applies the schema).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Insert persists a new job record.
func (s *SQLiteStore) Insert(job *Job) error {
	query := `
		INSERT INTO jobs (
			id, type, payload, priority, status,
			progress_current, progress_total,
			retry_count, max_retries, not_before,
			error, result,
			created_at, updated_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	payload := sql.NullString{String: string(job.Payload), Valid: len(job.Payload) > 0}
	result := sql.NullString{String: string(job.Result), Valid: len(job.Result) > 0}
	errMsg := sql.NullString{String: job.Error, Valid: job.Error != ""}

	_, err := s.db.Exec(query,
		job.ID,
		job.Type,
		payload,
		job.Priority,
		job.Status,
		job.Progress.Current,
		job.Progress.Total,
		job.RetryCount,
		job.MaxRetries,
		nullTime(job.NotBefore),
		errMsg,
		result,
		job.CreatedAt,
		job.UpdatedAt,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
	)
	if err != nil {
		err = errors.Wrap(err, "failed to insert job")
		err = errors.WithDetailf(err, "Job ID: %s", job.ID)
		err = errors.WithDetailf(err, "Type: %s", job.Type)
		return err
	}

	return nil
}

// GetByID retrieves a job by ID.
func (s *SQLiteStore) GetByID(id string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE id = ?`

	var job Job
	err := scanJobFromRow(s.db.QueryRow(query, id), &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}

	return &job, nil
}

// Update overwrites the mutable fields of an existing job record.
// Immutable fields (id, type, payload, priority, created_at) are not touched.
func (s *SQLiteStore) Update(job *Job) error {
	query := `
		UPDATE jobs
		SET status = ?,
		    progress_current = ?,
		    progress_total = ?,
		    retry_count = ?,
		    not_before = ?,
		    error = ?,
		    result = ?,
		    updated_at = ?,
		    started_at = ?,
		    completed_at = ?
		WHERE id = ?
	`

	result := sql.NullString{String: string(job.Result), Valid: len(job.Result) > 0}
	errMsg := sql.NullString{String: job.Error, Valid: job.Error != ""}

	res, err := s.db.Exec(query,
		job.Status,
		job.Progress.Current,
		job.Progress.Total,
		job.RetryCount,
		nullTime(job.NotBefore),
		errMsg,
		result,
		job.UpdatedAt,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		job.ID,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to update job")
		err = errors.WithDetailf(err, "Job ID: %s", job.ID)
		err = errors.WithDetailf(err, "Status: %s", job.Status)
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job %s", job.ID)
	}

	return nil
}

// UpdateIf overwrites the mutable fields of an existing job record only if
// its stored status still equals from. The status guard in the WHERE clause
// makes the transition atomic; a raced record is reported, not overwritten.
func (s *SQLiteStore) UpdateIf(job *Job, from Status) (bool, error) {
	query := `
		UPDATE jobs
		SET status = ?,
		    progress_current = ?,
		    progress_total = ?,
		    retry_count = ?,
		    not_before = ?,
		    error = ?,
		    result = ?,
		    updated_at = ?,
		    started_at = ?,
		    completed_at = ?
		WHERE id = ? AND status = ?
	`

	result := sql.NullString{String: string(job.Result), Valid: len(job.Result) > 0}
	errMsg := sql.NullString{String: job.Error, Valid: job.Error != ""}

	res, err := s.db.Exec(query,
		job.Status,
		job.Progress.Current,
		job.Progress.Total,
		job.RetryCount,
		nullTime(job.NotBefore),
		errMsg,
		result,
		job.UpdatedAt,
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		job.ID,
		from,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to update job")
		err = errors.WithDetailf(err, "Job ID: %s", job.ID)
		err = errors.WithDetailf(err, "Status: %s -> %s", from, job.Status)
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	if rows > 0 {
		return true, nil
	}

	// Distinguish a lost status race from a deleted record
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE id = ?`, job.ID).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "failed to check job existence")
	}
	if exists == 0 {
		return false, errors.Wrapf(errors.ErrNotFound, "job %s", job.ID)
	}
	return false, nil
}

// UpdateProgress writes only the progress counters for a job.
func (s *SQLiteStore) UpdateProgress(id string, current, total int) error {
	query := `
		UPDATE jobs
		SET progress_current = ?,
		    progress_total = ?,
		    updated_at = ?
		WHERE id = ?
	`

	res, err := s.db.Exec(query, current, total, time.Now().UTC(), id)
	if err != nil {
		err = errors.Wrap(err, "failed to update job progress")
		err = errors.WithDetailf(err, "Job ID: %s", id)
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}

	return nil
}

// Delete removes a job from the database.
func (s *SQLiteStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}

	return nil
}

// ListByStatus returns up to limit jobs with the given status, newest first.
func (s *SQLiteStore) ListByStatus(status Status, limit int) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM jobs
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.Query(query, status, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s jobs", status)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListByType returns up to limit jobs of the given type, newest first.
func (s *SQLiteStore) ListByType(jobType JobType, limit int) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM jobs
		WHERE type = ?
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.Query(query, jobType, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s jobs", jobType)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// NextEligible returns up to limit dispatchable pending jobs, ordered by
// priority (descending) then creation time (ascending).
func (s *SQLiteStore) NextEligible(now time.Time, limit int) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM jobs
		WHERE status = 'pending'
		  AND (not_before IS NULL OR not_before <= ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`

	rows, err := s.db.Query(query, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select eligible jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// CountByStatus returns the number of jobs in each status.
func (s *SQLiteStore) CountByStatus() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs by status")
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan status count")
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating status counts")
	}

	return counts, nil
}

// DeleteTerminalBefore removes terminal jobs whose terminal transition
// happened before the cutoff.
func (s *SQLiteStore) DeleteTerminalBefore(cutoff time.Time) (int, error) {
	query := `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND completed_at < ?
	`

	result, err := s.db.Exec(query, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}

// scanJobs is a helper that scans multiple jobs from query rows.
func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		if err := scanJobFromRows(rows, &job); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}

	return jobs, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
