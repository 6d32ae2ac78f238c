package annotations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasledger/cl/errors"
	"github.com/canvasledger/cl/internal/util"
	"github.com/canvasledger/cl/ledger/testutil"
)

const seenAt = "2025-08-20T10:00:00Z"

func seedOffering(t *testing.T, store *Store, canvasID int64, name, code string) {
	t.Helper()
	testutil.InsertOffering(t, store.db, canvasID, name, code, nil, "available", true, seenAt)
}

func TestAddLeadInstructor(t *testing.T) {
	ctx := context.Background()

	t.Run("records a known person", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		store := NewStore(db)
		seedOffering(t, store, 2001, "Intro Bio", "BIO-101")
		testutil.InsertPerson(t, db, 501, "Ada Lovelace", util.Ptr("Lovelace, Ada"), seenAt)

		a, personKnown, err := store.AddLeadInstructor(ctx, 2001, 501, DesignationLead)
		require.NoError(t, err)
		assert.True(t, personKnown)
		assert.Greater(t, a.ID, int64(0))
		assert.Equal(t, int64(2001), a.OfferingCanvasID)
		assert.Equal(t, int64(501), a.PersonCanvasID)
		assert.Equal(t, DesignationLead, a.Designation)
		assert.False(t, a.CreatedAt.IsZero())
	})

	t.Run("flags a person the ledger has not seen", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		store := NewStore(db)
		seedOffering(t, store, 2001, "Intro Bio", "BIO-101")

		a, personKnown, err := store.AddLeadInstructor(ctx, 2001, 999, DesignationLead)
		require.NoError(t, err)
		assert.False(t, personKnown)
		require.NotNil(t, a)
		assert.Equal(t, int64(999), a.PersonCanvasID)
	})

	t.Run("rejects offerings the ledger has not seen", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		store := NewStore(db)

		_, _, err := store.AddLeadInstructor(ctx, 9999, 501, DesignationLead)
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
		assert.Contains(t, errors.GetAllHints(err), "run 'cl ingest' to refresh the catalog first")
	})

	t.Run("rejects unknown designations", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		store := NewStore(db)
		seedOffering(t, store, 2001, "Intro Bio", "BIO-101")

		_, _, err := store.AddLeadInstructor(ctx, 2001, 501, "primary")
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("replaces the designation on repeat", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		store := NewStore(db)
		seedOffering(t, store, 2001, "Intro Bio", "BIO-101")

		first, _, err := store.AddLeadInstructor(ctx, 2001, 501, DesignationLead)
		require.NoError(t, err)
		second, _, err := store.AddLeadInstructor(ctx, 2001, 501, DesignationGradeResponsible)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, DesignationGradeResponsible, second.Designation)

		all, err := store.List(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestAddInvolvement(t *testing.T) {
	ctx := context.Background()

	t.Run("records and replaces the classification", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		store := NewStore(db)
		seedOffering(t, store, 2001, "Intro Bio", "BIO-101")

		first, err := store.AddInvolvement(ctx, 2001, "teaching")
		require.NoError(t, err)
		assert.Equal(t, "teaching", first.Classification)

		second, err := store.AddInvolvement(ctx, 2001, "guest lecturer")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "guest lecturer", second.Classification)

		all, err := store.List(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("rejects blank classifications", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		store := NewStore(db)
		seedOffering(t, store, 2001, "Intro Bio", "BIO-101")

		_, err := store.AddInvolvement(ctx, 2001, "   ")
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("rejects offerings the ledger has not seen", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		store := NewStore(db)

		_, err := store.AddInvolvement(ctx, 9999, "teaching")
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})
}

func findByKind(annotations []*Annotation, kind string) *Annotation {
	for _, a := range annotations {
		if a.Kind == kind {
			return a
		}
	}
	return nil
}

func TestAnnotationList(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	store := NewStore(db)
	seedOffering(t, store, 2001, "Intro Bio", "BIO-101")
	seedOffering(t, store, 2002, "Organic Chem", "CHEM-220")

	_, _, err := store.AddLeadInstructor(ctx, 2001, 501, DesignationLead)
	require.NoError(t, err)
	_, err = store.AddInvolvement(ctx, 2001, "teaching")
	require.NoError(t, err)
	_, err = store.AddInvolvement(ctx, 2002, "observing")
	require.NoError(t, err)

	t.Run("merges both kinds", func(t *testing.T) {
		all, err := store.List(ctx, nil)
		require.NoError(t, err)
		require.Len(t, all, 3)
	})

	t.Run("filters by offering", func(t *testing.T) {
		forBio, err := store.List(ctx, util.Ptr(int64(2001)))
		require.NoError(t, err)
		require.Len(t, forBio, 2)

		lead := findByKind(forBio, KindLeadInstructor)
		require.NotNil(t, lead)
		require.NotNil(t, lead.PersonCanvasID)
		assert.Equal(t, int64(501), *lead.PersonCanvasID)
		require.NotNil(t, lead.Designation)
		assert.Equal(t, DesignationLead, *lead.Designation)
		assert.Nil(t, lead.Classification)

		involvement := findByKind(forBio, KindInvolvement)
		require.NotNil(t, involvement)
		assert.Nil(t, involvement.PersonCanvasID)
		require.NotNil(t, involvement.Classification)
		assert.Equal(t, "teaching", *involvement.Classification)
	})

	t.Run("returns nothing for unannotated offerings", func(t *testing.T) {
		none, err := store.List(ctx, util.Ptr(int64(7777)))
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestAnnotationRemove(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	store := NewStore(db)
	seedOffering(t, store, 2001, "Intro Bio", "BIO-101")

	lead, _, err := store.AddLeadInstructor(ctx, 2001, 501, DesignationLead)
	require.NoError(t, err)
	involvement, err := store.AddInvolvement(ctx, 2001, "teaching")
	require.NoError(t, err)

	t.Run("removes by id and kind", func(t *testing.T) {
		require.NoError(t, store.Remove(ctx, lead.ID, KindLeadInstructor))
		require.NoError(t, store.Remove(ctx, involvement.ID, KindInvolvement))

		all, err := store.List(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("reports missing annotations", func(t *testing.T) {
		err := store.Remove(ctx, lead.ID, KindLeadInstructor)
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("rejects unknown kinds", func(t *testing.T) {
		err := store.Remove(ctx, lead.ID, "sticky_note")
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})
}
