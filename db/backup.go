package db

import (
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/canvasledger/cl/errors"
)

// Backup copies the database file to a sibling file named
// <base>.<suffix>.backup. An empty suffix defaults to a UTC timestamp.
// Returns the backup path. Callers should not hold a write transaction
// while backing up.
func Backup(path, suffix string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", errors.Wrapf(err, "database file not found: %s", path)
	}

	if suffix == "" {
		suffix = time.Now().UTC().Format("20060102_150405")
	}
	backupPath := strings.TrimSuffix(path, filepath.Ext(path)) + "." + suffix + ".backup"

	src, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open database for backup")
	}
	defer src.Close()

	dst, err := os.Create(backupPath)
	if err != nil {
		return "", errors.Wrap(err, "create backup file")
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(backupPath)
		return "", errors.Wrap(err, "copy database to backup")
	}
	if err := dst.Close(); err != nil {
		return "", errors.Wrap(err, "close backup file")
	}

	return backupPath, nil
}

// DatabaseInfo describes the ledger file and its SQLite settings.
type DatabaseInfo struct {
	Path        string
	Exists      bool
	SizeBytes   int64
	Tables      []string
	JournalMode string
	ForeignKeys bool
}

// Info inspects the database file without creating or migrating it.
// A missing file reports Exists=false and nothing else.
func Info(path string) (*DatabaseInfo, error) {
	info := &DatabaseInfo{Path: path}

	stat, err := os.Stat(path)
	if os.IsNotExist(err) {
		return info, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	info.Exists = true
	info.SizeBytes = stat.Size()

	database, err := Open(path, nil)
	if err != nil {
		return nil, err
	}
	defer database.Close()

	rows, err := database.Query(
		`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "list tables")
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan table name")
		}
		info.Tables = append(info.Tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate tables")
	}

	if err := database.QueryRow(`PRAGMA journal_mode`).Scan(&info.JournalMode); err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "read journal_mode")
	}
	var fk int
	if err := database.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "read foreign_keys")
	}
	info.ForeignKeys = fk == 1

	return info, nil
}
