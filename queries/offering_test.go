package queries

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasledger/cl/annotations"
	"github.com/canvasledger/cl/ledger"
)

func TestOfferingRosterQuery(t *testing.T) {
	ctx := context.Background()
	p, _ := seedLedger(t)

	t.Run("groups by section", func(t *testing.T) {
		roster, err := p.OfferingRoster(ctx, 2001)
		require.NoError(t, err)
		require.NotNil(t, roster)
		assert.Equal(t, "Intro Bio", roster.OfferingName)
		require.Len(t, roster.Sections, 3)

		assert.Equal(t, "(No Section)", roster.Sections[0].Name)
		require.Len(t, roster.Sections[0].Entries, 1)
		assert.Equal(t, "Ben Turing", roster.Sections[0].Entries[0].PersonName)
		assert.Nil(t, roster.Sections[0].Entries[0].SectionName)

		assert.Equal(t, "Section A", roster.Sections[1].Name)
		require.Len(t, roster.Sections[1].Entries, 1)
		entry := roster.Sections[1].Entries[0]
		require.NotNil(t, entry.SectionName)
		assert.Equal(t, "Section A", *entry.SectionName)
		assert.Equal(t, int64(501), entry.PersonCanvasID)
		assert.Equal(t, "StudentEnrollment", entry.Role)
		require.NotNil(t, entry.CurrentGrade)
		assert.Equal(t, "A-", *entry.CurrentGrade)

		assert.Equal(t, "Section B", roster.Sections[2].Name)
		assert.Equal(t, "Cy Hopper", roster.Sections[2].Entries[0].PersonName)
	})

	t.Run("empty roster for shallow offerings", func(t *testing.T) {
		roster, err := p.OfferingRoster(ctx, 2003)
		require.NoError(t, err)
		require.NotNil(t, roster)
		assert.Empty(t, roster.Sections)
	})

	t.Run("returns nil for unknown offerings", func(t *testing.T) {
		roster, err := p.OfferingRoster(ctx, 9999)
		require.NoError(t, err)
		assert.Nil(t, roster)
	})
}

func TestOfferingResponsibilityQuery(t *testing.T) {
	ctx := context.Background()
	p, db := seedLedger(t)
	store := annotations.NewStore(db)

	t.Run("prefers deep roster instructors", func(t *testing.T) {
		resp, err := p.OfferingResponsibility(ctx, 2001)
		require.NoError(t, err)
		require.NotNil(t, resp)
		require.Len(t, resp.ObservedInstructors, 1)

		cy := resp.ObservedInstructors[0]
		assert.Equal(t, SourceEnrollment, cy.Source)
		require.NotNil(t, cy.PersonCanvasID)
		assert.Equal(t, int64(503), *cy.PersonCanvasID)
		require.NotNil(t, cy.PersonName)
		assert.Equal(t, "Cy Hopper", *cy.PersonName)
		assert.Equal(t, "TeacherEnrollment", cy.Role)
	})

	t.Run("falls back to own enrollments", func(t *testing.T) {
		// Organic Chem's deep roster holds no instructors, so the
		// caller's own TA enrollment is the only evidence.
		resp, err := p.OfferingResponsibility(ctx, 2002)
		require.NoError(t, err)
		require.NotNil(t, resp)
		require.Len(t, resp.ObservedInstructors, 1)

		ta := resp.ObservedInstructors[0]
		assert.Equal(t, SourceUserEnrollment, ta.Source)
		assert.Nil(t, ta.PersonCanvasID)
		assert.Nil(t, ta.PersonName)
		assert.Equal(t, "TaEnrollment", ta.Role)
		assert.Equal(t, "invited", ta.EnrollmentState)
	})

	t.Run("merges declared leads with provenance", func(t *testing.T) {
		_, _, err := store.AddLeadInstructor(ctx, 2001, 503, annotations.DesignationLead)
		require.NoError(t, err)
		_, _, err = store.AddLeadInstructor(ctx, 2001, 555, annotations.DesignationGradeResponsible)
		require.NoError(t, err)

		resp, err := p.OfferingResponsibility(ctx, 2001)
		require.NoError(t, err)
		require.Len(t, resp.DeclaredLeads, 2)

		known := resp.DeclaredLeads[0]
		assert.Equal(t, int64(503), known.PersonCanvasID)
		require.NotNil(t, known.PersonName)
		assert.Equal(t, "Cy Hopper", *known.PersonName)
		assert.Equal(t, annotations.DesignationLead, known.Designation)

		unknown := resp.DeclaredLeads[1]
		assert.Equal(t, int64(555), unknown.PersonCanvasID)
		assert.Nil(t, unknown.PersonName, "person the ledger has not seen stays unresolved")
	})

	t.Run("returns nil for unknown offerings", func(t *testing.T) {
		resp, err := p.OfferingResponsibility(ctx, 9999)
		require.NoError(t, err)
		assert.Nil(t, resp)
	})
}

func TestOfferingDriftQuery(t *testing.T) {
	ctx := context.Background()
	p, db := seedLedger(t)
	driftFixture(t, db)

	t.Run("combines offering, section, and enrollment changes", func(t *testing.T) {
		drift, err := p.OfferingDrift(ctx, 2001)
		require.NoError(t, err)
		require.NotNil(t, drift)
		assert.Equal(t, "Intro Bio", drift.OfferingName)
		require.Len(t, drift.Changes, 3)

		// Run 2's changes share a timestamp and sort above run 1's.
		fields := []string{drift.Changes[0].FieldName, drift.Changes[1].FieldName}
		assert.ElementsMatch(t, []string{"name", "current_grade"}, fields)
		assert.Equal(t, "workflow_state", drift.Changes[2].FieldName)
		assert.Equal(t, ledger.EntityOffering, drift.Changes[2].EntityType)
	})

	t.Run("ignores other offerings", func(t *testing.T) {
		drift, err := p.OfferingDrift(ctx, 2002)
		require.NoError(t, err)
		require.NotNil(t, drift)
		assert.Empty(t, drift.Changes)
	})

	t.Run("returns nil for unknown offerings", func(t *testing.T) {
		drift, err := p.OfferingDrift(ctx, 9999)
		require.NoError(t, err)
		assert.Nil(t, drift)
	})
}
