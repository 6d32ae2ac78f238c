package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasledger/cl/errors"
	"github.com/canvasledger/cl/internal/util"
	"github.com/canvasledger/cl/ledger/testutil"
)

func TestRunStoreBeginAcquiresLock(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rs := NewRunStore(db, nil, time.Hour)
	ctx := context.Background()

	run, token, err := rs.Begin(ctx, ScopeCatalog, nil)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.NotEmpty(t, token)
	assert.Equal(t, RunPending, run.Status)
	assert.Equal(t, ScopeCatalog, run.Scope)
	assert.Nil(t, run.ScopeCanvasID)

	lock, err := rs.ReadLock(ctx)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, run.ID, lock.RunID)
	assert.Equal(t, token, lock.HolderToken)
	assert.Equal(t, os.Getpid(), lock.PID)
}

func TestRunStoreBeginWhileHeldIsBusy(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rs := NewRunStore(db, nil, time.Hour)
	ctx := context.Background()

	first, _, err := rs.Begin(ctx, ScopeCatalog, nil)
	require.NoError(t, err)

	// Same process, live pid: the second Begin must refuse.
	_, _, err = rs.Begin(ctx, ScopeCatalog, nil)
	require.Error(t, err)
	assert.True(t, errors.IsLedgerBusy(err))
	assert.Contains(t, err.Error(), "already in progress")
	assert.NotEmpty(t, errors.GetAllHints(err))

	// The refused attempt must not leave a run row behind.
	runs, err := rs.ListRuns(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, first.ID, runs[0].ID)
}

func TestRunStoreStealsLockFromDeadPid(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rs := NewRunStore(db, nil, time.Hour)
	ctx := context.Background()

	orphanID := testutil.InsertRun(t, db, ScopeCatalog, nil, RunRunning, "2025-09-01T07:59:00Z")
	hostname, err := os.Hostname()
	require.NoError(t, err)

	// Same host, pid that cannot exist: stale regardless of age.
	_, err = db.Exec(`
		INSERT INTO run_lock (id, run_id, holder_token, pid, hostname, acquired_at)
		VALUES (1, ?, 'dead-token', ?, ?, ?)`,
		orphanID, 1<<30, hostname, time.Now().UTC().Format(time.RFC3339))
	require.NoError(t, err)

	run, token, err := rs.Begin(ctx, ScopeCatalog, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	// The orphaned run is closed out as failed.
	orphan, err := rs.GetRun(ctx, orphanID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, orphan.Status)
	require.NotNil(t, orphan.Error)
	assert.Contains(t, *orphan.Error, "interrupted")
	assert.NotNil(t, orphan.FinishedAt)

	// The lock now belongs to the new run.
	lock, err := rs.ReadLock(ctx)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, run.ID, lock.RunID)
	assert.Equal(t, token, lock.HolderToken)
}

func TestRunStoreStealsLockAfterGracePeriod(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rs := NewRunStore(db, nil, time.Hour)
	rs.now = func() time.Time { return time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	orphanID := testutil.InsertRun(t, db, ScopeCatalog, nil, RunRunning, "2025-09-01T05:00:00Z")

	// Another host: the pid cannot be checked, only the grace period
	// applies. Acquired three hours ago against a one hour grace.
	_, err := db.Exec(`
		INSERT INTO run_lock (id, run_id, holder_token, pid, hostname, acquired_at)
		VALUES (1, ?, 'remote-token', 4242, 'other-host', '2025-09-01T05:00:00Z')`, orphanID)
	require.NoError(t, err)

	run, _, err := rs.Begin(ctx, ScopeCatalog, nil)
	require.NoError(t, err)
	assert.NotEqual(t, orphanID, run.ID)

	orphan, err := rs.GetRun(ctx, orphanID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, orphan.Status)
}

func TestRunStoreHonorsFreshRemoteLock(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rs := NewRunStore(db, nil, time.Hour)
	rs.now = func() time.Time { return time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	orphanID := testutil.InsertRun(t, db, ScopeCatalog, nil, RunRunning, "2025-09-01T07:45:00Z")
	_, err := db.Exec(`
		INSERT INTO run_lock (id, run_id, holder_token, pid, hostname, acquired_at)
		VALUES (1, ?, 'remote-token', 4242, 'other-host', '2025-09-01T07:45:00Z')`, orphanID)
	require.NoError(t, err)

	_, _, err = rs.Begin(ctx, ScopeCatalog, nil)
	require.Error(t, err)
	assert.True(t, errors.IsLedgerBusy(err))
}

func TestRunStoreMarkRunning(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rs := NewRunStore(db, nil, time.Hour)
	ctx := context.Background()

	run, _, err := rs.Begin(ctx, ScopeCatalog, nil)
	require.NoError(t, err)

	require.NoError(t, rs.MarkRunning(ctx, run.ID))

	got, err := rs.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunRunning, got.Status)

	// Only a pending run can transition.
	err = rs.MarkRunning(ctx, run.ID)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
}

func TestRunStoreComplete(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rs := NewRunStore(db, nil, time.Hour)
	ctx := context.Background()

	run, token, err := rs.Begin(ctx, ScopeOffering, util.Ptr(int64(2001)))
	require.NoError(t, err)
	require.NoError(t, rs.MarkRunning(ctx, run.ID))

	run.Counts = RunCounts{New: 28, Updated: 3, Unchanged: 32, Drift: 5}
	require.NoError(t, rs.Complete(ctx, db, run, token))
	assert.Equal(t, RunCompleted, run.Status)
	require.NotNil(t, run.FinishedAt)

	got, err := rs.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, got.Status)
	assert.Equal(t, RunCounts{New: 28, Updated: 3, Unchanged: 32, Drift: 5}, got.Counts)
	require.NotNil(t, got.ScopeCanvasID)
	assert.Equal(t, int64(2001), *got.ScopeCanvasID)

	lock, err := rs.ReadLock(ctx)
	require.NoError(t, err)
	assert.Nil(t, lock, "lock must be released on completion")
}

func TestRunStoreCompleteRequiresToken(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rs := NewRunStore(db, nil, time.Hour)
	ctx := context.Background()

	run, _, err := rs.Begin(ctx, ScopeCatalog, nil)
	require.NoError(t, err)
	require.NoError(t, rs.MarkRunning(ctx, run.ID))

	err = rs.Complete(ctx, db, run, "not-the-token")
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	// Lock stays held by the real token.
	lock, err := rs.ReadLock(ctx)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, run.ID, lock.RunID)
}

func TestRunStoreFail(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rs := NewRunStore(db, nil, time.Hour)
	ctx := context.Background()

	run, token, err := rs.Begin(ctx, ScopeCatalog, nil)
	require.NoError(t, err)
	require.NoError(t, rs.MarkRunning(ctx, run.ID))

	require.NoError(t, rs.Fail(ctx, run.ID, token, errors.New("canvas unreachable")))

	got, err := rs.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "canvas unreachable")
	assert.NotNil(t, got.FinishedAt)

	lock, err := rs.ReadLock(ctx)
	require.NoError(t, err)
	assert.Nil(t, lock, "lock must be released on failure")
}

func TestRunStoreListRuns(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rs := NewRunStore(db, nil, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		scope, scopeID := ScopeCatalog, (*int64)(nil)
		if i == 2 {
			id := int64(900)
			scope, scopeID = ScopeOffering, &id
		}
		run, token, err := rs.Begin(ctx, scope, scopeID)
		require.NoError(t, err)
		require.NoError(t, rs.MarkRunning(ctx, run.ID))
		require.NoError(t, rs.Complete(ctx, db, run, token))
	}

	runs, err := rs.ListRuns(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Greater(t, runs[0].ID, runs[1].ID, "newest first")

	catalog, err := rs.ListRuns(ctx, ScopeCatalog, 10)
	require.NoError(t, err)
	require.Len(t, catalog, 2)
	for _, run := range catalog {
		assert.Equal(t, ScopeCatalog, run.Scope)
	}
}

func TestRunStoreStale(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rs := NewRunStore(db, nil, time.Hour)
	ctx := context.Background()

	run, token, err := rs.Begin(ctx, ScopeCatalog, nil)
	require.NoError(t, err)
	require.NoError(t, rs.MarkRunning(ctx, run.ID))
	run.Status = RunRunning

	// Live lock held by this process: not stale.
	stale, err := rs.Stale(ctx, run)
	require.NoError(t, err)
	assert.False(t, stale)

	// A running run whose lock vanished was interrupted.
	_, err = db.Exec(`DELETE FROM run_lock`)
	require.NoError(t, err)
	stale, err = rs.Stale(ctx, run)
	require.NoError(t, err)
	assert.True(t, stale)

	// Finished runs are never stale.
	require.NoError(t, rs.Fail(ctx, run.ID, token, errors.New("boom")))
	finished, err := rs.GetRun(ctx, run.ID)
	require.NoError(t, err)
	stale, err = rs.Stale(ctx, finished)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestRunStoreGetRunUnknown(t *testing.T) {
	db := testutil.SetupTestDB(t)
	rs := NewRunStore(db, nil, time.Hour)

	run, err := rs.GetRun(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, run)
}
