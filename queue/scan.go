package queue

import (
	"database/sql"
	"encoding/json"
)

// jobScanArgs holds the nullable column targets needed when scanning a job
// row. Optional columns land here and are folded into the Job afterwards.
type jobScanArgs struct {
	Payload     sql.NullString
	NotBefore   sql.NullTime
	ErrorMsg    sql.NullString
	Result      sql.NullString
	StartedAt   sql.NullTime
	CompletedAt sql.NullTime
}

// jobSelectColumns is the standard column list for job SELECT queries.
// Scan targets in jobScanTargets must stay in this order.
const jobSelectColumns = `id, type, payload, priority, status,
	progress_current, progress_total,
	retry_count, max_retries, not_before,
	error, result,
	created_at, updated_at, started_at, completed_at`

// jobScanTargets returns scan destinations for the job and its nullable
// columns, in the order of jobSelectColumns.
func jobScanTargets(job *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.Type,
		&args.Payload,
		&job.Priority,
		&job.Status,
		&job.Progress.Current,
		&job.Progress.Total,
		&job.RetryCount,
		&job.MaxRetries,
		&args.NotBefore,
		&args.ErrorMsg,
		&args.Result,
		&job.CreatedAt,
		&job.UpdatedAt,
		&args.StartedAt,
		&args.CompletedAt,
	}
}

// applyScanArgs folds the scanned nullable columns into the job struct.
func applyScanArgs(job *Job, args *jobScanArgs) {
	if args.Payload.Valid {
		job.Payload = json.RawMessage(args.Payload.String)
	}
	if args.NotBefore.Valid {
		t := args.NotBefore.Time
		job.NotBefore = &t
	}
	if args.ErrorMsg.Valid {
		job.Error = args.ErrorMsg.String
	}
	if args.Result.Valid {
		job.Result = json.RawMessage(args.Result.String)
	}
	if args.StartedAt.Valid {
		t := args.StartedAt.Time
		job.StartedAt = &t
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time
		job.CompletedAt = &t
	}
}

// scanJobFromRow scans a single job from a sql.Row.
func scanJobFromRow(row *sql.Row, job *Job) error {
	args := &jobScanArgs{}
	if err := row.Scan(jobScanTargets(job, args)...); err != nil {
		return err
	}
	applyScanArgs(job, args)
	return nil
}

// scanJobFromRows scans a single job from sql.Rows (for use in loops).
func scanJobFromRows(rows *sql.Rows, job *Job) error {
	args := &jobScanArgs{}
	if err := rows.Scan(jobScanTargets(job, args)...); err != nil {
		return err
	}
	applyScanArgs(job, args)
	return nil
}
