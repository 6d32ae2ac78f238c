package ledger

import (
	"context"
	"time"

	"github.com/canvasledger/cl/errors"
)

// FieldPresence is the change_log field name used for presence
// transitions. A disappearance records present -> absent-from-observation;
// a reappearance records the reverse pair.
const (
	FieldPresence   = "presence"
	PresencePresent = "present"
	PresenceAbsent  = "absent-from-observation"
)

// Change is one recorded field-level difference. OldValue nil means the
// field had no stored value before; NewValue nil means the new
// observation carries no value for it.
type Change struct {
	ID             int64
	EntityType     string
	EntityCanvasID int64
	FieldName      string
	OldValue       *string
	NewValue       *string
	IngestRunID    int64
	ObservedAt     time.Time
}

// IsPresenceTransition reports whether the change records an entity
// disappearing from or reappearing in observation, as opposed to a field
// edit.
func (c *Change) IsPresenceTransition() bool {
	return c.FieldName == FieldPresence
}

// ChangeStore appends to and reads the change log.
type ChangeStore struct {
	q Querier
}

// NewChangeStore creates a change store over db or an open transaction.
func NewChangeStore(q Querier) *ChangeStore {
	return &ChangeStore{q: q}
}

// Record appends one change entry.
func (s *ChangeStore) Record(ctx context.Context, c *Change) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO change_log (entity_type, entity_canvas_id, field_name, old_value, new_value, ingest_run_id, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.EntityType, c.EntityCanvasID, c.FieldName, c.OldValue, c.NewValue,
		c.IngestRunID, fmtTime(c.ObservedAt))
	if err != nil {
		return errors.Wrapf(err, "record change for %s %d field %s", c.EntityType, c.EntityCanvasID, c.FieldName)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return errors.Wrap(err, "read change id")
	}
	return nil
}

// RecordAll appends a batch of change entries in order.
func (s *ChangeStore) RecordAll(ctx context.Context, changes []*Change) error {
	for _, c := range changes {
		if err := s.Record(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// ForRun returns every change recorded by one ingest run, in insertion
// order.
func (s *ChangeStore) ForRun(ctx context.Context, runID int64) ([]*Change, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, entity_type, entity_canvas_id, field_name, old_value, new_value, ingest_run_id, observed_at
		FROM change_log WHERE ingest_run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "query changes for run %d", runID)
	}
	defer rows.Close()

	var changes []*Change
	for rows.Next() {
		var c Change
		var observedAt string
		if err := rows.Scan(&c.ID, &c.EntityType, &c.EntityCanvasID, &c.FieldName,
			&c.OldValue, &c.NewValue, &c.IngestRunID, &observedAt); err != nil {
			return nil, errors.Wrap(err, "scan change")
		}
		if c.ObservedAt, err = parseTime(observedAt); err != nil {
			return nil, err
		}
		changes = append(changes, &c)
	}
	return changes, errors.Wrap(rows.Err(), "iterate changes")
}

// ForEntity returns the full recorded history of one entity, oldest
// first.
func (s *ChangeStore) ForEntity(ctx context.Context, entityType string, canvasID int64) ([]*Change, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, entity_type, entity_canvas_id, field_name, old_value, new_value, ingest_run_id, observed_at
		FROM change_log WHERE entity_type = ? AND entity_canvas_id = ? ORDER BY id`, entityType, canvasID)
	if err != nil {
		return nil, errors.Wrapf(err, "query changes for %s %d", entityType, canvasID)
	}
	defer rows.Close()

	var changes []*Change
	for rows.Next() {
		var c Change
		var observedAt string
		if err := rows.Scan(&c.ID, &c.EntityType, &c.EntityCanvasID, &c.FieldName,
			&c.OldValue, &c.NewValue, &c.IngestRunID, &observedAt); err != nil {
			return nil, errors.Wrap(err, "scan change")
		}
		if c.ObservedAt, err = parseTime(observedAt); err != nil {
			return nil, err
		}
		changes = append(changes, &c)
	}
	return changes, errors.Wrap(rows.Err(), "iterate changes")
}
