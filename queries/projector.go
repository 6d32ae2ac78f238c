package queries

import (
	"context"
	"database/sql"
	"time"

	"github.com/canvasledger/cl/errors"
	"github.com/canvasledger/cl/ledger"
)

// Projector runs read-only queries against the ledger database. It never
// writes and may run concurrently with an ingestion; it sees either the
// pre-run or the post-run snapshot, never a half-applied one.
type Projector struct {
	db       *sql.DB
	entities *ledger.EntityStore
}

// NewProjector creates a projector over an open ledger database.
func NewProjector(db *sql.DB) *Projector {
	return &Projector{db: db, entities: ledger.NewEntityStore(db)}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse stored timestamp %q", s)
	}
	return t, nil
}

// OfferingByExternalID returns the mirrored offering, or (nil, nil).
func (p *Projector) OfferingByExternalID(ctx context.Context, canvasID int64) (*ledger.Offering, error) {
	return p.entities.GetOffering(ctx, canvasID)
}

// PersonByExternalID returns the mirrored person, or (nil, nil).
func (p *Projector) PersonByExternalID(ctx context.Context, canvasID int64) (*ledger.Person, error) {
	return p.entities.GetPerson(ctx, canvasID)
}

// Timeline returns the caller's involvement timeline: every offering
// they hold enrollments in, with observed roles and states grouped per
// offering and the declared involvement merged in. Sorted by term start
// date descending with termless offerings last, then by offering name.
func (p *Projector) Timeline(ctx context.Context, filter TimelineFilter) ([]*TimelineEntry, error) {
	query := `
		SELECT o.canvas_id, o.name, o.code, o.workflow_state, o.observed_at, o.last_seen_at,
		       t.name, t.start_date,
		       ue.role, ue.enrollment_state,
		       ia.classification
		FROM user_enrollment ue
		JOIN offering o ON o.canvas_id = ue.offering_canvas_id
		LEFT JOIN term t ON t.canvas_id = o.term_canvas_id
		LEFT JOIN involvement_annotation ia ON ia.offering_canvas_id = o.canvas_id`
	var conds []string
	var args []any
	if filter.Role != "" {
		conds = append(conds, "ue.role = ?")
		args = append(args, filter.Role)
	}
	if filter.Term != "" {
		conds = append(conds, "t.name LIKE '%' || ? || '%'")
		args = append(args, filter.Term)
	}
	for i, c := range conds {
		if i == 0 {
			query += "\n\t\tWHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += `
		ORDER BY (t.start_date IS NULL), t.start_date DESC, o.name, o.canvas_id, ue.canvas_id`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query timeline")
	}
	defer rows.Close()

	var entries []*TimelineEntry
	var current *TimelineEntry
	for rows.Next() {
		var (
			canvasID                  int64
			name, code, workflowState string
			observedAt, lastSeenAt    string
			termName, termStart       *string
			role, state               string
			involvement               *string
		)
		if err := rows.Scan(&canvasID, &name, &code, &workflowState, &observedAt, &lastSeenAt,
			&termName, &termStart, &role, &state, &involvement); err != nil {
			return nil, errors.Wrap(err, "scan timeline row")
		}

		if current == nil || current.OfferingCanvasID != canvasID {
			entry := &TimelineEntry{
				OfferingCanvasID:    canvasID,
				OfferingName:        name,
				OfferingCode:        code,
				WorkflowState:       workflowState,
				TermName:            termName,
				TermStartDate:       termStart,
				DeclaredInvolvement: involvement,
			}
			if entry.ObservedAt, err = parseTime(observedAt); err != nil {
				return nil, err
			}
			if entry.LastSeenAt, err = parseTime(lastSeenAt); err != nil {
				return nil, err
			}
			entries = append(entries, entry)
			current = entry
		}
		current.Roles = append(current.Roles, role)
		current.EnrollmentStates = append(current.EnrollmentStates, state)
	}
	return entries, errors.Wrap(rows.Err(), "iterate timeline")
}

// AliasTimeline returns the offerings grouped under an alias with their
// term info, most recent term first and never-ingested members last as
// placeholders. Returns (nil, nil) for an unknown alias.
func (p *Projector) AliasTimeline(ctx context.Context, name string) ([]*AliasTimelineEntry, error) {
	var aliasID int64
	err := p.db.QueryRowContext(ctx,
		`SELECT id FROM course_alias WHERE name = ?`, name).Scan(&aliasID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "look up alias %q", name)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT m.offering_canvas_id, o.canvas_id IS NOT NULL,
		       o.name, o.code, o.workflow_state,
		       t.name, t.start_date
		FROM course_alias_offering m
		LEFT JOIN offering o ON o.canvas_id = m.offering_canvas_id
		LEFT JOIN term t ON t.canvas_id = o.term_canvas_id
		WHERE m.alias_id = ?
		ORDER BY (o.canvas_id IS NULL), (t.start_date IS NULL), t.start_date DESC,
		         o.name, m.offering_canvas_id`, aliasID)
	if err != nil {
		return nil, errors.Wrapf(err, "query alias timeline %q", name)
	}
	defer rows.Close()

	entries := make([]*AliasTimelineEntry, 0)
	for rows.Next() {
		var e AliasTimelineEntry
		if err := rows.Scan(&e.OfferingCanvasID, &e.InLedger,
			&e.OfferingName, &e.OfferingCode, &e.WorkflowState,
			&e.TermName, &e.TermStartDate); err != nil {
			return nil, errors.Wrap(err, "scan alias timeline row")
		}
		entries = append(entries, &e)
	}
	return entries, errors.Wrap(rows.Err(), "iterate alias timeline")
}

// OfferingsWithTerms returns every offering joined with its term, sorted
// by name. This is the flat feed the export command consumes.
func (p *Projector) OfferingsWithTerms(ctx context.Context) ([]*OfferingWithTerm, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT o.canvas_id, o.name, o.code, o.workflow_state, o.present,
		       o.observed_at, o.last_seen_at,
		       t.name, t.start_date, t.end_date
		FROM offering o
		LEFT JOIN term t ON t.canvas_id = o.term_canvas_id
		ORDER BY o.name, o.canvas_id`)
	if err != nil {
		return nil, errors.Wrap(err, "query offerings with terms")
	}
	defer rows.Close()

	var feed []*OfferingWithTerm
	for rows.Next() {
		var o OfferingWithTerm
		var observedAt, lastSeenAt string
		if err := rows.Scan(&o.OfferingCanvasID, &o.Name, &o.Code, &o.WorkflowState, &o.Present,
			&observedAt, &lastSeenAt,
			&o.TermName, &o.TermStartDate, &o.TermEndDate); err != nil {
			return nil, errors.Wrap(err, "scan offering row")
		}
		if o.ObservedAt, err = parseTime(observedAt); err != nil {
			return nil, err
		}
		if o.LastSeenAt, err = parseTime(lastSeenAt); err != nil {
			return nil, err
		}
		feed = append(feed, &o)
	}
	return feed, errors.Wrap(rows.Err(), "iterate offerings")
}
