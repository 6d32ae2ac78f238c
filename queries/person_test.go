package queries

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasledger/cl/annotations"
	"github.com/canvasledger/cl/errors"
	"github.com/canvasledger/cl/ledger"
)

func TestPersonHistory(t *testing.T) {
	ctx := context.Background()
	p, db := seedLedger(t)

	t.Run("spans offerings, most recent term first", func(t *testing.T) {
		entries, err := p.PersonHistory(ctx, 501, "")
		require.NoError(t, err)
		require.Len(t, entries, 2)

		chem := entries[0]
		assert.Equal(t, int64(2002), chem.OfferingCanvasID)
		assert.Equal(t, "completed", chem.EnrollmentState)
		require.NotNil(t, chem.FinalGrade)
		assert.Equal(t, "B+", *chem.FinalGrade)
		assert.Nil(t, chem.SectionName)

		bio := entries[1]
		assert.Equal(t, int64(2001), bio.OfferingCanvasID)
		require.NotNil(t, bio.SectionName)
		assert.Equal(t, "Section A", *bio.SectionName)
		require.NotNil(t, bio.TermName)
		assert.Equal(t, "Fall 2025", *bio.TermName)
		require.NotNil(t, bio.CurrentScore)
		assert.InDelta(t, 91.5, *bio.CurrentScore, 0.001)
	})

	t.Run("restricts to an alias", func(t *testing.T) {
		_, err := annotations.NewAliasStore(db).Create(ctx, "bio-track", []int64{2001}, nil)
		require.NoError(t, err)

		entries, err := p.PersonHistory(ctx, 501, "bio-track")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(2001), entries[0].OfferingCanvasID)
	})

	t.Run("rejects unknown aliases", func(t *testing.T) {
		_, err := p.PersonHistory(ctx, 501, "no-such-alias")
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("returns nil for unknown people", func(t *testing.T) {
		entries, err := p.PersonHistory(ctx, 9999, "")
		require.NoError(t, err)
		assert.Nil(t, entries)
	})
}

func TestPersonGradesQuery(t *testing.T) {
	ctx := context.Background()
	p, _ := seedLedger(t)

	t.Run("collects student enrollments only", func(t *testing.T) {
		summary, err := p.PersonGrades(ctx, 501)
		require.NoError(t, err)
		require.NotNil(t, summary)
		assert.Equal(t, "Ada Lovelace", summary.PersonName)
		require.Len(t, summary.Grades, 2)

		chem := summary.Grades[0]
		assert.Equal(t, int64(2002), chem.OfferingCanvasID)
		assert.Nil(t, chem.CurrentGrade)
		require.NotNil(t, chem.FinalScore)
		assert.InDelta(t, 88.0, *chem.FinalScore, 0.001)

		bio := summary.Grades[1]
		require.NotNil(t, bio.CurrentGrade)
		assert.Equal(t, "A-", *bio.CurrentGrade)
		assert.Nil(t, bio.FinalGrade)
	})

	t.Run("excludes instructors", func(t *testing.T) {
		summary, err := p.PersonGrades(ctx, 503)
		require.NoError(t, err)
		require.NotNil(t, summary)
		assert.Equal(t, "Cy Hopper", summary.PersonName)
		assert.Empty(t, summary.Grades)
	})

	t.Run("returns nil for unknown people", func(t *testing.T) {
		summary, err := p.PersonGrades(ctx, 9999)
		require.NoError(t, err)
		assert.Nil(t, summary)
	})
}

func TestPersonDriftQuery(t *testing.T) {
	ctx := context.Background()
	p, db := seedLedger(t)
	driftFixture(t, db)

	t.Run("combines person and enrollment changes newest first", func(t *testing.T) {
		drift, err := p.PersonDrift(ctx, 501)
		require.NoError(t, err)
		require.NotNil(t, drift)
		assert.Equal(t, "Ada Lovelace", drift.PersonName)
		require.Len(t, drift.Changes, 2)

		// Same observation time, so newest insert wins the tie.
		assert.Equal(t, ledger.EntityEnrollment, drift.Changes[0].EntityType)
		assert.Equal(t, "current_grade", drift.Changes[0].FieldName)
		assert.Equal(t, ledger.EntityPerson, drift.Changes[1].EntityType)
		assert.Equal(t, "name", drift.Changes[1].FieldName)
	})

	t.Run("ignores unrelated changes", func(t *testing.T) {
		drift, err := p.PersonDrift(ctx, 502)
		require.NoError(t, err)
		require.NotNil(t, drift)
		assert.Empty(t, drift.Changes)
	})

	t.Run("returns nil for unknown people", func(t *testing.T) {
		drift, err := p.PersonDrift(ctx, 9999)
		require.NoError(t, err)
		assert.Nil(t, drift)
	})
}
