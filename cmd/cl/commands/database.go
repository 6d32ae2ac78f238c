package commands

import (
	"database/sql"
	"os"

	"github.com/canvasledger/cl/config"
	"github.com/canvasledger/cl/db"
	"github.com/canvasledger/cl/errors"
	"github.com/canvasledger/cl/logger"
)

// Hints attached to the database-missing error. Each names the next
// command the caller would actually run from where they are.
const (
	hintMigrateFirst  = "run 'cl db migrate' first"
	hintMigrateIngest = "run 'cl db migrate' to initialize, then 'cl ingest catalog' to populate"
	hintMigrateOnly   = "run 'cl db migrate' to initialize"
)

// openLedger opens the ledger database for commands that read or
// annotate it. The schema is never created here; a missing file means
// the caller skipped 'cl db migrate', so the error says that instead
// of silently making an empty ledger.
func openLedger(hint string) (*sql.DB, string, error) {
	path, err := config.GetDatabasePath()
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to resolve database path")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, "", errors.WithHint(
			errors.NewNotFoundf("database not found at %s", path), hint)
	}

	database, err := db.Open(path, logger.Logger)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to open database at %s", path)
	}
	return database, path, nil
}
