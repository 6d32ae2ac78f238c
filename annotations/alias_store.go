package annotations

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/canvasledger/cl/errors"
)

// Alias groups offerings under one human-chosen course identity.
// MemberCount is filled by List, Get, and AliasesOf.
type Alias struct {
	ID          int64
	Name        string
	Description *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	MemberCount int64
}

// AliasStore manages course aliases and their offering memberships.
type AliasStore struct {
	db *sql.DB
}

// NewAliasStore creates an alias store.
func NewAliasStore(db *sql.DB) *AliasStore {
	return &AliasStore{db: db}
}

// Create creates an alias, optionally seeded with member offerings. Every
// seed offering must be in the ledger already.
func (as *AliasStore) Create(ctx context.Context, name string, offeringCanvasIDs []int64, description *string) (*Alias, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.NewValidationf("alias name cannot be empty")
	}

	tx, err := as.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM course_alias WHERE name = ?)`, name).Scan(&exists)
	if err != nil {
		return nil, errors.Wrapf(err, "check alias %q", name)
	}
	if exists {
		return nil, errors.NewConflictf("alias %q already exists", name)
	}

	seen := make(map[int64]bool, len(offeringCanvasIDs))
	members := make([]int64, 0, len(offeringCanvasIDs))
	for _, id := range offeringCanvasIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		known, err := offeringInLedger(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, unknownOffering(id)
		}
		members = append(members, id)
	}

	now := fmtTime(time.Now())
	res, err := tx.ExecContext(ctx, `
		INSERT INTO course_alias (name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?)`, name, description, now, now)
	if err != nil {
		return nil, errors.Wrapf(err, "create alias %q", name)
	}
	aliasID, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "alias id")
	}

	for _, id := range members {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO course_alias_offering (alias_id, offering_canvas_id, created_at)
			VALUES (?, ?, ?)`, aliasID, id, now)
		if err != nil {
			return nil, errors.Wrapf(err, "add offering %d to alias %q", id, name)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit transaction")
	}

	return as.Get(ctx, name)
}

// aliasIDByName resolves an alias name inside q, reporting whether it exists.
func aliasIDByName(ctx context.Context, q rowQuerier, name string) (int64, bool, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM course_alias WHERE name = ?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "look up alias %q", name)
	}
	return id, true, nil
}

// AddMember adds an offering to an alias. The offering must be in the
// ledger and not already a member.
func (as *AliasStore) AddMember(ctx context.Context, name string, offeringCanvasID int64) error {
	tx, err := as.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	aliasID, found, err := aliasIDByName(ctx, tx, name)
	if err != nil {
		return err
	}
	if !found {
		return errors.NewNotFoundf("alias %q does not exist", name)
	}

	known, err := offeringInLedger(ctx, tx, offeringCanvasID)
	if err != nil {
		return err
	}
	if !known {
		return unknownOffering(offeringCanvasID)
	}

	var member bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM course_alias_offering
		WHERE alias_id = ? AND offering_canvas_id = ?)`, aliasID, offeringCanvasID).Scan(&member)
	if err != nil {
		return errors.Wrap(err, "check alias membership")
	}
	if member {
		return errors.NewConflictf("offering %d is already in alias %q", offeringCanvasID, name)
	}

	now := fmtTime(time.Now())
	_, err = tx.ExecContext(ctx, `
		INSERT INTO course_alias_offering (alias_id, offering_canvas_id, created_at)
		VALUES (?, ?, ?)`, aliasID, offeringCanvasID, now)
	if err != nil {
		return errors.Wrapf(err, "add offering %d to alias %q", offeringCanvasID, name)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE course_alias SET updated_at = ? WHERE id = ?`, now, aliasID)
	if err != nil {
		return errors.Wrapf(err, "touch alias %q", name)
	}

	return errors.Wrap(tx.Commit(), "commit transaction")
}

// RemoveMember removes an offering from an alias.
func (as *AliasStore) RemoveMember(ctx context.Context, name string, offeringCanvasID int64) error {
	tx, err := as.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	aliasID, found, err := aliasIDByName(ctx, tx, name)
	if err != nil {
		return err
	}
	if !found {
		return errors.NewNotFoundf("alias %q does not exist", name)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM course_alias_offering
		WHERE alias_id = ? AND offering_canvas_id = ?`, aliasID, offeringCanvasID)
	if err != nil {
		return errors.Wrapf(err, "remove offering %d from alias %q", offeringCanvasID, name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundf("offering %d is not in alias %q", offeringCanvasID, name)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE course_alias SET updated_at = ? WHERE id = ?`, fmtTime(time.Now()), aliasID)
	if err != nil {
		return errors.Wrapf(err, "touch alias %q", name)
	}

	return errors.Wrap(tx.Commit(), "commit transaction")
}

// Delete removes an alias and all its memberships.
func (as *AliasStore) Delete(ctx context.Context, name string) error {
	res, err := as.db.ExecContext(ctx, `DELETE FROM course_alias WHERE name = ?`, name)
	if err != nil {
		return errors.Wrapf(err, "delete alias %q", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundf("alias %q does not exist", name)
	}
	return nil
}

const aliasSelect = `
	SELECT a.id, a.name, a.description, a.created_at, a.updated_at,
	       (SELECT COUNT(*) FROM course_alias_offering m WHERE m.alias_id = a.id)
	FROM course_alias a`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlias(row rowScanner) (*Alias, error) {
	var a Alias
	var createdAt, updatedAt string
	err := row.Scan(&a.ID, &a.Name, &a.Description, &createdAt, &updatedAt, &a.MemberCount)
	if err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// List returns all aliases with member counts, sorted by name.
func (as *AliasStore) List(ctx context.Context) ([]*Alias, error) {
	rows, err := as.db.QueryContext(ctx, aliasSelect+` ORDER BY a.name`)
	if err != nil {
		return nil, errors.Wrap(err, "list aliases")
	}
	defer rows.Close()

	var aliases []*Alias
	for rows.Next() {
		a, err := scanAlias(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan alias")
		}
		aliases = append(aliases, a)
	}
	return aliases, errors.Wrap(rows.Err(), "iterate aliases")
}

// Get returns one alias by name, or (nil, nil) when it does not exist.
func (as *AliasStore) Get(ctx context.Context, name string) (*Alias, error) {
	a, err := scanAlias(as.db.QueryRowContext(ctx, aliasSelect+` WHERE a.name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get alias %q", name)
	}
	return a, nil
}

// MembersOf returns the offering Canvas ids belonging to an alias.
func (as *AliasStore) MembersOf(ctx context.Context, name string) ([]int64, error) {
	aliasID, found, err := aliasIDByName(ctx, as.db, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.NewNotFoundf("alias %q does not exist", name)
	}

	rows, err := as.db.QueryContext(ctx, `
		SELECT offering_canvas_id FROM course_alias_offering
		WHERE alias_id = ?
		ORDER BY offering_canvas_id`, aliasID)
	if err != nil {
		return nil, errors.Wrapf(err, "list members of alias %q", name)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan member offering id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "iterate alias members")
}

// AliasesOf returns every alias an offering belongs to, sorted by name.
func (as *AliasStore) AliasesOf(ctx context.Context, offeringCanvasID int64) ([]*Alias, error) {
	rows, err := as.db.QueryContext(ctx, aliasSelect+`
		JOIN course_alias_offering m ON m.alias_id = a.id
		WHERE m.offering_canvas_id = ?
		ORDER BY a.name`, offeringCanvasID)
	if err != nil {
		return nil, errors.Wrapf(err, "list aliases of offering %d", offeringCanvasID)
	}
	defer rows.Close()

	var aliases []*Alias
	for rows.Next() {
		a, err := scanAlias(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan alias")
		}
		aliases = append(aliases, a)
	}
	return aliases, errors.Wrap(rows.Err(), "iterate aliases")
}
