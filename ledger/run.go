package ledger

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/canvasledger/cl/errors"
)

// Ingest run scopes.
const (
	ScopeCatalog  = "catalog"
	ScopeOffering = "offering"
)

// Ingest run statuses. pending means the run row exists but mutation has
// not started; a run that stays pending or running without a live lock
// holder was interrupted.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is one recorded ingest attempt.
type Run struct {
	ID            int64
	Scope         string
	ScopeCanvasID *int64
	Status        string
	StartedAt     time.Time
	FinishedAt    *time.Time
	Error         *string
	Counts        RunCounts
}

// RunCounts classify every record a run processed. Each observed record
// lands in exactly one of New, Updated, or Unchanged; Drift is the total
// number of change log entries the run appended, field edits and
// presence transitions alike.
type RunCounts struct {
	New       int64
	Updated   int64
	Unchanged int64
	Drift     int64
}

// Lock is the single run_lock row while an ingest holds it.
type Lock struct {
	RunID       int64
	HolderToken string
	PID         int
	Hostname    string
	AcquiredAt  time.Time
}

// RunStore manages ingest run rows and the cross-process run lock. It
// needs the raw *sql.DB because lock acquisition and failure recording
// commit in their own transactions, independent of the run's mutation
// transaction.
type RunStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
	grace  time.Duration
	now    func() time.Time
}

// NewRunStore creates a run store. grace bounds how long a lock is
// honored without proof the holder is alive; zero disables the time
// limit and relies on the pid check alone.
func NewRunStore(db *sql.DB, logger *zap.SugaredLogger, grace time.Duration) *RunStore {
	return &RunStore{
		db:     db,
		logger: logger,
		grace:  grace,
		now:    time.Now,
	}
}

// Begin records a new pending run and acquires the run lock, all in one
// transaction. If another ingest holds the lock and appears alive, Begin
// fails with ErrLedgerBusy. A stale lock is taken over: the orphaned run
// is marked failed and the lock replaced.
//
// The returned token proves lock ownership; Complete and Fail require it
// so a process whose lock was stolen cannot release the thief's lock.
func (rs *RunStore) Begin(ctx context.Context, scope string, scopeCanvasID *int64) (*Run, string, error) {
	tx, err := rs.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", errors.Wrap(err, "begin lock transaction")
	}
	defer tx.Rollback()

	lock, err := readLock(ctx, tx)
	if err != nil {
		return nil, "", err
	}
	if lock != nil {
		if !rs.lockIsStale(lock) {
			return nil, "", errors.Mark(errors.WithHint(
				errors.Newf("ingest run %d is already in progress (pid %d on %s, since %s)",
					lock.RunID, lock.PID, lock.Hostname, lock.AcquiredAt.Format(time.RFC3339)),
				"wait for the other ingest to finish; if you are certain it is dead, rerun after the stale lock grace period"),
				errors.ErrLedgerBusy)
		}

		// Holder is gone. Close out its run and take the lock over.
		if _, err := tx.ExecContext(ctx, `
			UPDATE ingest_run SET status = ?, error = ?, finished_at = ?
			WHERE id = ? AND status IN (?, ?)`,
			RunFailed, "interrupted: run lock taken over", fmtTime(rs.now()),
			lock.RunID, RunPending, RunRunning); err != nil {
			return nil, "", errors.Wrapf(err, "fail orphaned run %d", lock.RunID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM run_lock WHERE id = 1`); err != nil {
			return nil, "", errors.Wrap(err, "remove stale run lock")
		}
		if rs.logger != nil {
			rs.logger.Warnw("took over stale run lock",
				"run_id", lock.RunID, "pid", lock.PID, "hostname", lock.Hostname,
				"acquired_at", lock.AcquiredAt.Format(time.RFC3339))
		}
	}

	now := rs.now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO ingest_run (scope, scope_canvas_id, started_at)
		VALUES (?, ?, ?)`,
		scope, scopeCanvasID, fmtTime(now))
	if err != nil {
		return nil, "", errors.Wrap(err, "insert ingest run")
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return nil, "", errors.Wrap(err, "read run id")
	}

	token := uuid.NewString()
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO run_lock (id, run_id, holder_token, pid, hostname, acquired_at)
		VALUES (1, ?, ?, ?, ?, ?)`,
		runID, token, os.Getpid(), hostname, fmtTime(now)); err != nil {
		return nil, "", errors.Wrap(err, "acquire run lock")
	}

	if err := tx.Commit(); err != nil {
		return nil, "", errors.Wrap(err, "commit lock transaction")
	}

	return &Run{
		ID:            runID,
		Scope:         scope,
		ScopeCanvasID: scopeCanvasID,
		Status:        RunPending,
		StartedAt:     now,
	}, token, nil
}

// lockIsStale decides whether a lock can be taken over. A lock is stale
// once it exceeds the grace period, or when it was acquired on this host
// by a pid that no longer runs. A live pid on another host is
// indistinguishable from a dead one, so remote locks age out on the
// grace period alone.
func (rs *RunStore) lockIsStale(l *Lock) bool {
	if rs.grace > 0 && rs.now().Sub(l.AcquiredAt) > rs.grace {
		return true
	}
	hostname, err := os.Hostname()
	if err != nil || hostname != l.Hostname {
		return false
	}
	running, err := process.PidExists(int32(l.PID))
	if err != nil {
		return false
	}
	return !running
}

func readLock(ctx context.Context, q Querier) (*Lock, error) {
	row := q.QueryRowContext(ctx, `
		SELECT run_id, holder_token, pid, hostname, acquired_at FROM run_lock WHERE id = 1`)

	var l Lock
	var acquiredAt string
	err := row.Scan(&l.RunID, &l.HolderToken, &l.PID, &l.Hostname, &acquiredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read run lock")
	}
	if l.AcquiredAt, err = parseTime(acquiredAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// ReadLock returns the current run lock, or (nil, nil) when no ingest
// holds one.
func (rs *RunStore) ReadLock(ctx context.Context) (*Lock, error) {
	return readLock(ctx, rs.db)
}

// Stale reports whether a run that claims to be in progress has no live
// lock holder behind it. Such runs were interrupted and will be closed
// out by the next ingest's lock takeover.
func (rs *RunStore) Stale(ctx context.Context, run *Run) (bool, error) {
	if run.Status != RunPending && run.Status != RunRunning {
		return false, nil
	}
	lock, err := rs.ReadLock(ctx)
	if err != nil {
		return false, err
	}
	if lock == nil || lock.RunID != run.ID {
		return true, nil
	}
	return rs.lockIsStale(lock), nil
}

// MarkRunning transitions a pending run to running.
func (rs *RunStore) MarkRunning(ctx context.Context, runID int64) error {
	res, err := rs.db.ExecContext(ctx, `
		UPDATE ingest_run SET status = ? WHERE id = ? AND status = ?`,
		RunRunning, runID, RunPending)
	if err != nil {
		return errors.Wrapf(err, "mark run %d running", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n != 1 {
		return errors.Mark(errors.Newf("run %d is not pending", runID), errors.ErrConflict)
	}
	return nil
}

// Complete marks the run completed with its final counts and releases
// the lock, inside the caller's mutation transaction. If the lock was
// taken over while the run was mutating, Complete fails so the whole
// transaction rolls back instead of committing against a lock it no
// longer holds.
func (rs *RunStore) Complete(ctx context.Context, q Querier, run *Run, token string) error {
	now := rs.now()
	if _, err := q.ExecContext(ctx, `
		UPDATE ingest_run SET
			status = ?, finished_at = ?,
			new_count = ?, updated_count = ?, unchanged_count = ?, drift_count = ?
		WHERE id = ?`,
		RunCompleted, fmtTime(now),
		run.Counts.New, run.Counts.Updated, run.Counts.Unchanged, run.Counts.Drift,
		run.ID); err != nil {
		return errors.Wrapf(err, "complete run %d", run.ID)
	}

	res, err := q.ExecContext(ctx, `
		DELETE FROM run_lock WHERE id = 1 AND run_id = ? AND holder_token = ?`,
		run.ID, token)
	if err != nil {
		return errors.Wrap(err, "release run lock")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n != 1 {
		return errors.Mark(errors.Newf("run %d no longer holds the lock", run.ID), errors.ErrConflict)
	}

	run.Status = RunCompleted
	run.FinishedAt = &now
	return nil
}

// Fail marks the run failed and releases the lock if still held. It
// commits on its own so the record survives the rollback of the run's
// mutation transaction.
func (rs *RunStore) Fail(ctx context.Context, runID int64, token string, cause error) error {
	msg := "unknown failure"
	if cause != nil {
		msg = cause.Error()
	}

	tx, err := rs.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin failure transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE ingest_run SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		RunFailed, msg, fmtTime(rs.now()), runID); err != nil {
		return errors.Wrapf(err, "fail run %d", runID)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM run_lock WHERE id = 1 AND run_id = ? AND holder_token = ?`,
		runID, token); err != nil {
		return errors.Wrap(err, "release run lock")
	}
	return errors.Wrap(tx.Commit(), "commit failure transaction")
}

// GetRun returns one run with its counts, or (nil, nil).
func (rs *RunStore) GetRun(ctx context.Context, runID int64) (*Run, error) {
	row := rs.db.QueryRowContext(ctx, runSelect+` WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get run %d", runID)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first. An empty scope
// lists runs of every scope.
func (rs *RunStore) ListRuns(ctx context.Context, scope string, limit int) ([]*Run, error) {
	query := runSelect + ` WHERE (? = '' OR scope = ?) ORDER BY id DESC LIMIT ?`
	rows, err := rs.db.QueryContext(ctx, query, scope, scope, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		runs = append(runs, run)
	}
	return runs, errors.Wrap(rows.Err(), "iterate runs")
}

const runSelect = `
	SELECT id, scope, scope_canvas_id, status, started_at, finished_at, error,
	       new_count, updated_count, unchanged_count, drift_count
	FROM ingest_run`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var startedAt string
	var finishedAt *string
	if err := row.Scan(&run.ID, &run.Scope, &run.ScopeCanvasID, &run.Status,
		&startedAt, &finishedAt, &run.Error,
		&run.Counts.New, &run.Counts.Updated, &run.Counts.Unchanged,
		&run.Counts.Drift); err != nil {
		return nil, err
	}

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if finishedAt != nil {
		t, err := parseTime(*finishedAt)
		if err != nil {
			return nil, err
		}
		run.FinishedAt = &t
	}
	return &run, nil
}
