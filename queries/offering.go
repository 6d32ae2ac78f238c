package queries

import (
	"context"

	"github.com/canvasledger/cl/errors"
	"github.com/canvasledger/cl/ledger"
)

// noSection labels roster entries whose enrollment carries no section.
const noSection = "(No Section)"

// OfferingRoster returns the roster of an offering grouped by section,
// sections in name order with sectionless enrollments first, entries by
// person sortable name. An unknown offering yields (nil, nil).
func (p *Projector) OfferingRoster(ctx context.Context, offeringCanvasID int64) (*OfferingRoster, error) {
	offering, err := p.entities.GetOffering(ctx, offeringCanvasID)
	if err != nil {
		return nil, err
	}
	if offering == nil {
		return nil, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT per.canvas_id, per.name, per.sortable_name,
		       s.name, s.canvas_id,
		       e.role, e.enrollment_state,
		       e.current_grade, e.current_score, e.final_grade, e.final_score
		FROM enrollment e
		JOIN person per ON per.canvas_id = e.person_canvas_id
		LEFT JOIN section s ON s.canvas_id = e.section_canvas_id
		WHERE e.offering_canvas_id = ?
		ORDER BY s.name, per.sortable_name, per.name, e.canvas_id`,
		offeringCanvasID)
	if err != nil {
		return nil, errors.Wrapf(err, "query roster for offering %d", offeringCanvasID)
	}
	defer rows.Close()

	roster := &OfferingRoster{
		OfferingCanvasID: offering.CanvasID,
		OfferingName:     offering.Name,
		OfferingCode:     offering.Code,
		Sections:         make([]*RosterSection, 0),
	}
	var current *RosterSection
	for rows.Next() {
		var entry RosterEntry
		if err := rows.Scan(&entry.PersonCanvasID, &entry.PersonName, &entry.SortableName,
			&entry.SectionName, &entry.SectionCanvasID,
			&entry.Role, &entry.EnrollmentState,
			&entry.CurrentGrade, &entry.CurrentScore, &entry.FinalGrade, &entry.FinalScore); err != nil {
			return nil, errors.Wrap(err, "scan roster row")
		}

		name := noSection
		if entry.SectionName != nil {
			name = *entry.SectionName
		}
		if current == nil || current.Name != name {
			current = &RosterSection{Name: name}
			roster.Sections = append(roster.Sections, current)
		}
		current.Entries = append(current.Entries, &entry)
	}
	return roster, errors.Wrap(rows.Err(), "iterate roster")
}

// OfferingResponsibility merges who Canvas shows teaching an offering
// with who the user declared as lead. Observed instructors come from
// deep-ingested roster enrollments when available, otherwise from the
// caller's own catalog enrollments, each tagged with its source. An
// unknown offering yields (nil, nil).
func (p *Projector) OfferingResponsibility(ctx context.Context, offeringCanvasID int64) (*OfferingResponsibility, error) {
	offering, err := p.entities.GetOffering(ctx, offeringCanvasID)
	if err != nil {
		return nil, err
	}
	if offering == nil {
		return nil, nil
	}

	resp := &OfferingResponsibility{
		OfferingCanvasID:    offering.CanvasID,
		OfferingName:        offering.Name,
		OfferingCode:        offering.Code,
		ObservedInstructors: make([]*ObservedInstructor, 0),
		DeclaredLeads:       make([]*DeclaredLead, 0),
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT per.canvas_id, per.name, e.role, e.enrollment_state
		FROM enrollment e
		JOIN person per ON per.canvas_id = e.person_canvas_id
		WHERE e.offering_canvas_id = ?
		ORDER BY per.sortable_name, per.name, e.canvas_id`, offeringCanvasID)
	if err != nil {
		return nil, errors.Wrapf(err, "query instructors for offering %d", offeringCanvasID)
	}
	defer rows.Close()

	for rows.Next() {
		var personID int64
		var personName, role, state string
		if err := rows.Scan(&personID, &personName, &role, &state); err != nil {
			return nil, errors.Wrap(err, "scan instructor row")
		}
		if !ledger.IsInstructorRole(role) {
			continue
		}
		resp.ObservedInstructors = append(resp.ObservedInstructors, &ObservedInstructor{
			PersonCanvasID:  &personID,
			PersonName:      &personName,
			Role:            role,
			EnrollmentState: state,
			Source:          SourceEnrollment,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate instructors")
	}

	// Without deep ingestion the roster is empty; fall back to what the
	// catalog showed about the caller's own enrollments.
	if len(resp.ObservedInstructors) == 0 {
		ueRows, err := p.db.QueryContext(ctx, `
			SELECT role, enrollment_state FROM user_enrollment
			WHERE offering_canvas_id = ?
			ORDER BY canvas_id`, offeringCanvasID)
		if err != nil {
			return nil, errors.Wrapf(err, "query own enrollments for offering %d", offeringCanvasID)
		}
		defer ueRows.Close()

		for ueRows.Next() {
			var role, state string
			if err := ueRows.Scan(&role, &state); err != nil {
				return nil, errors.Wrap(err, "scan own enrollment row")
			}
			if !ledger.IsInstructorRole(role) {
				continue
			}
			resp.ObservedInstructors = append(resp.ObservedInstructors, &ObservedInstructor{
				Role:            role,
				EnrollmentState: state,
				Source:          SourceUserEnrollment,
			})
		}
		if err := ueRows.Err(); err != nil {
			return nil, errors.Wrap(err, "iterate own enrollments")
		}
	}

	leadRows, err := p.db.QueryContext(ctx, `
		SELECT a.person_canvas_id, per.name, a.designation, a.created_at
		FROM lead_instructor_annotation a
		LEFT JOIN person per ON per.canvas_id = a.person_canvas_id
		WHERE a.offering_canvas_id = ?
		ORDER BY a.id`, offeringCanvasID)
	if err != nil {
		return nil, errors.Wrapf(err, "query lead annotations for offering %d", offeringCanvasID)
	}
	defer leadRows.Close()

	for leadRows.Next() {
		var lead DeclaredLead
		var createdAt string
		if err := leadRows.Scan(&lead.PersonCanvasID, &lead.PersonName,
			&lead.Designation, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan lead annotation row")
		}
		if lead.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		resp.DeclaredLeads = append(resp.DeclaredLeads, &lead)
	}
	return resp, errors.Wrap(leadRows.Err(), "iterate lead annotations")
}

// OfferingDrift returns every change recorded for an offering, its
// sections, and its enrollments, newest first, presence transitions
// included. An unknown offering yields (nil, nil).
func (p *Projector) OfferingDrift(ctx context.Context, offeringCanvasID int64) (*OfferingDrift, error) {
	offering, err := p.entities.GetOffering(ctx, offeringCanvasID)
	if err != nil {
		return nil, err
	}
	if offering == nil {
		return nil, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT entity_type, entity_canvas_id, field_name, old_value, new_value,
		       ingest_run_id, observed_at
		FROM change_log
		WHERE (entity_type = ? AND entity_canvas_id = ?)
		   OR (entity_type = ? AND entity_canvas_id IN
		       (SELECT canvas_id FROM section WHERE offering_canvas_id = ?))
		   OR (entity_type = ? AND entity_canvas_id IN
		       (SELECT canvas_id FROM enrollment WHERE offering_canvas_id = ?))
		ORDER BY observed_at DESC, id DESC`,
		ledger.EntityOffering, offeringCanvasID,
		ledger.EntitySection, offeringCanvasID,
		ledger.EntityEnrollment, offeringCanvasID)
	if err != nil {
		return nil, errors.Wrapf(err, "query drift for offering %d", offeringCanvasID)
	}
	defer rows.Close()

	changes, err := scanChangeEntries(rows)
	if err != nil {
		return nil, err
	}
	return &OfferingDrift{
		OfferingCanvasID: offering.CanvasID,
		OfferingName:     offering.Name,
		OfferingCode:     offering.Code,
		Changes:          changes,
	}, nil
}

// ChangesByRun returns the changes one ingest run recorded, ordered by
// entity type then external id.
func (p *Projector) ChangesByRun(ctx context.Context, runID int64) ([]*ChangeEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT entity_type, entity_canvas_id, field_name, old_value, new_value,
		       ingest_run_id, observed_at
		FROM change_log
		WHERE ingest_run_id = ?
		ORDER BY entity_type, entity_canvas_id, id`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "query changes for run %d", runID)
	}
	defer rows.Close()

	return scanChangeEntries(rows)
}
