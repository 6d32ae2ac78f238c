package db

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/canvasledger/cl/errors"
)

func TestIsDatabaseClosed(t *testing.T) {
	assert.False(t, IsDatabaseClosed(nil))
	assert.True(t, IsDatabaseClosed(ErrDatabaseClosed))
	assert.True(t, IsDatabaseClosed(errors.Wrap(ErrDatabaseClosed, "write run")))
	assert.True(t, IsDatabaseClosed(errors.New("sql: database is closed")))
	assert.False(t, IsDatabaseClosed(errors.New("no such table: offering")))
}

func TestIsBusy(t *testing.T) {
	assert.False(t, IsBusy(nil))
	assert.True(t, IsBusy(errors.New("database is locked")))
	assert.True(t, IsBusy(errors.Wrap(errors.New("database table is locked: run_lock"), "acquire lock")))
	assert.False(t, IsBusy(errors.New("UNIQUE constraint failed: course_alias.name")))
}
