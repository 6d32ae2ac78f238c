// Package annotations layers user-declared facts on top of the ingested
// mirror: who actually led an offering, and how the user was involved in
// it. Annotations reference entities by Canvas id alone and have their
// own lifecycle; ingestion never creates, updates, or removes them.
package annotations

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/canvasledger/cl/errors"
)

// Designations a lead-instructor annotation may carry.
const (
	DesignationLead             = "lead"
	DesignationGradeResponsible = "grade_responsible"
)

// Annotation kinds, used to tag merged listings and to address removals.
const (
	KindLeadInstructor = "lead_instructor"
	KindInvolvement    = "involvement"
)

// LeadInstructorAnnotation declares that a person led (or carried grade
// responsibility for) an offering. The person may be unknown to the
// mirror; instructors sometimes predate the first deep ingest of their
// course.
type LeadInstructorAnnotation struct {
	ID               int64
	OfferingCanvasID int64
	PersonCanvasID   int64
	Designation      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// InvolvementAnnotation classifies the user's own involvement in an
// offering, at most one per offering.
type InvolvementAnnotation struct {
	ID               int64
	OfferingCanvasID int64
	Classification   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Annotation is the merged view across both kinds. Designation is set for
// lead-instructor entries, Classification for involvement entries.
type Annotation struct {
	ID               int64
	Kind             string
	OfferingCanvasID int64
	PersonCanvasID   *int64
	Designation      *string
	Classification   *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Store persists lead-instructor and involvement annotations.
type Store struct {
	db *sql.DB
}

// NewStore creates an annotation store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse stored timestamp %q", s)
	}
	return t, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// offeringInLedger reports whether the offering has ever been ingested.
func offeringInLedger(ctx context.Context, q rowQuerier, offeringCanvasID int64) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM offering WHERE canvas_id = ?)`, offeringCanvasID).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "check offering %d", offeringCanvasID)
	}
	return exists, nil
}

func personInLedger(ctx context.Context, q rowQuerier, personCanvasID int64) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM person WHERE canvas_id = ?)`, personCanvasID).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "check person %d", personCanvasID)
	}
	return exists, nil
}

func unknownOffering(offeringCanvasID int64) error {
	return errors.WithHint(
		errors.NewNotFoundf("offering %d is not in the ledger", offeringCanvasID),
		"run 'cl ingest' to refresh the catalog first")
}

// AddLeadInstructor declares a person as lead instructor of an offering.
// Adding the same pair again replaces the designation. The offering must
// be in the ledger; the person need not be, and the returned bool reports
// whether they were so callers can warn.
func (s *Store) AddLeadInstructor(ctx context.Context, offeringCanvasID, personCanvasID int64, designation string) (*LeadInstructorAnnotation, bool, error) {
	if designation != DesignationLead && designation != DesignationGradeResponsible {
		return nil, false, errors.NewValidationf("designation must be %q or %q, got %q",
			DesignationLead, DesignationGradeResponsible, designation)
	}

	known, err := offeringInLedger(ctx, s.db, offeringCanvasID)
	if err != nil {
		return nil, false, err
	}
	if !known {
		return nil, false, unknownOffering(offeringCanvasID)
	}

	personKnown, err := personInLedger(ctx, s.db, personCanvasID)
	if err != nil {
		return nil, false, err
	}

	now := fmtTime(time.Now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lead_instructor_annotation
			(offering_canvas_id, person_canvas_id, designation, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(offering_canvas_id, person_canvas_id) DO UPDATE SET
			designation = excluded.designation,
			updated_at = excluded.updated_at`,
		offeringCanvasID, personCanvasID, designation, now, now)
	if err != nil {
		return nil, personKnown, errors.Wrapf(err, "annotate lead instructor %d for offering %d",
			personCanvasID, offeringCanvasID)
	}

	a, err := s.getLeadInstructor(ctx, offeringCanvasID, personCanvasID)
	return a, personKnown, err
}

func (s *Store) getLeadInstructor(ctx context.Context, offeringCanvasID, personCanvasID int64) (*LeadInstructorAnnotation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, offering_canvas_id, person_canvas_id, designation, created_at, updated_at
		FROM lead_instructor_annotation
		WHERE offering_canvas_id = ? AND person_canvas_id = ?`,
		offeringCanvasID, personCanvasID)

	var a LeadInstructorAnnotation
	var createdAt, updatedAt string
	err := row.Scan(&a.ID, &a.OfferingCanvasID, &a.PersonCanvasID, &a.Designation, &createdAt, &updatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "read back lead instructor annotation")
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// AddInvolvement records or replaces the involvement classification for
// an offering. The classification is free form but must not be blank.
func (s *Store) AddInvolvement(ctx context.Context, offeringCanvasID int64, classification string) (*InvolvementAnnotation, error) {
	classification = strings.TrimSpace(classification)
	if classification == "" {
		return nil, errors.NewValidationf("involvement classification cannot be empty")
	}

	known, err := offeringInLedger(ctx, s.db, offeringCanvasID)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, unknownOffering(offeringCanvasID)
	}

	now := fmtTime(time.Now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO involvement_annotation (offering_canvas_id, classification, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(offering_canvas_id) DO UPDATE SET
			classification = excluded.classification,
			updated_at = excluded.updated_at`,
		offeringCanvasID, classification, now, now)
	if err != nil {
		return nil, errors.Wrapf(err, "annotate involvement for offering %d", offeringCanvasID)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, offering_canvas_id, classification, created_at, updated_at
		FROM involvement_annotation WHERE offering_canvas_id = ?`, offeringCanvasID)

	var a InvolvementAnnotation
	var createdAt, updatedAt string
	err = row.Scan(&a.ID, &a.OfferingCanvasID, &a.Classification, &createdAt, &updatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "read back involvement annotation")
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// List returns annotations of both kinds merged, oldest first. A non-nil
// offering id restricts the listing to that offering.
func (s *Store) List(ctx context.Context, offeringCanvasID *int64) ([]*Annotation, error) {
	query := `
		SELECT id, 'lead_instructor' AS kind, offering_canvas_id, person_canvas_id,
		       designation, NULL, created_at, updated_at
		FROM lead_instructor_annotation
		UNION ALL
		SELECT id, 'involvement', offering_canvas_id, NULL,
		       NULL, classification, created_at, updated_at
		FROM involvement_annotation
		ORDER BY created_at, kind, id`
	var args []any
	if offeringCanvasID != nil {
		query = `
		SELECT id, 'lead_instructor' AS kind, offering_canvas_id, person_canvas_id,
		       designation, NULL, created_at, updated_at
		FROM lead_instructor_annotation WHERE offering_canvas_id = ?
		UNION ALL
		SELECT id, 'involvement', offering_canvas_id, NULL,
		       NULL, classification, created_at, updated_at
		FROM involvement_annotation WHERE offering_canvas_id = ?
		ORDER BY created_at, kind, id`
		args = []any{*offeringCanvasID, *offeringCanvasID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list annotations")
	}
	defer rows.Close()

	var annotations []*Annotation
	for rows.Next() {
		var a Annotation
		var createdAt, updatedAt string
		if err := rows.Scan(&a.ID, &a.Kind, &a.OfferingCanvasID, &a.PersonCanvasID,
			&a.Designation, &a.Classification, &createdAt, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "scan annotation")
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		annotations = append(annotations, &a)
	}
	return annotations, errors.Wrap(rows.Err(), "iterate annotations")
}

// Remove deletes one annotation by id and kind.
func (s *Store) Remove(ctx context.Context, id int64, kind string) error {
	var table string
	switch kind {
	case KindLeadInstructor:
		table = "lead_instructor_annotation"
	case KindInvolvement:
		table = "involvement_annotation"
	default:
		return errors.NewValidationf("annotation kind must be %q or %q, got %q",
			KindLeadInstructor, KindInvolvement, kind)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "remove %s annotation %d", kind, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundf("no %s annotation with id %d", kind, id)
	}
	return nil
}
