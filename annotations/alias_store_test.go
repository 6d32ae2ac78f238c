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

func newAliasFixture(t *testing.T) *AliasStore {
	t.Helper()
	db := testutil.SetupTestDB(t)
	testutil.InsertOffering(t, db, 2001, "Intro Bio Fall", "BIO-101", nil, "available", true, seenAt)
	testutil.InsertOffering(t, db, 2002, "Intro Bio Spring", "BIO-101", nil, "available", true, seenAt)
	testutil.InsertOffering(t, db, 2003, "Intro Bio Summer", "BIO-101", nil, "available", true, seenAt)
	return NewAliasStore(db)
}

func TestAliasCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates with seed members", func(t *testing.T) {
		as := newAliasFixture(t)

		alias, err := as.Create(ctx, "intro-bio", []int64{2001, 2002, 2001}, util.Ptr("Intro Bio across terms"))
		require.NoError(t, err)
		assert.Equal(t, "intro-bio", alias.Name)
		require.NotNil(t, alias.Description)
		assert.Equal(t, "Intro Bio across terms", *alias.Description)
		assert.Equal(t, int64(2), alias.MemberCount, "duplicate seed ids collapse")

		members, err := as.MembersOf(ctx, "intro-bio")
		require.NoError(t, err)
		assert.Equal(t, []int64{2001, 2002}, members)
	})

	t.Run("creates empty aliases", func(t *testing.T) {
		as := newAliasFixture(t)

		alias, err := as.Create(ctx, "watchlist", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), alias.MemberCount)
		assert.Nil(t, alias.Description)
	})

	t.Run("rejects empty names", func(t *testing.T) {
		as := newAliasFixture(t)

		_, err := as.Create(ctx, "   ", nil, nil)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("rejects duplicate names", func(t *testing.T) {
		as := newAliasFixture(t)

		_, err := as.Create(ctx, "intro-bio", nil, nil)
		require.NoError(t, err)
		_, err = as.Create(ctx, "intro-bio", []int64{2001}, nil)
		require.Error(t, err)
		assert.True(t, errors.IsConflict(err))
	})

	t.Run("rejects offerings the ledger has not seen", func(t *testing.T) {
		as := newAliasFixture(t)

		_, err := as.Create(ctx, "ghost", []int64{2001, 9999}, nil)
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))

		alias, err := as.Get(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, alias, "failed create must not leave the alias behind")
	})
}

func TestAliasMembership(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		as := newAliasFixture(t)

		_, err := as.Create(ctx, "intro-bio", []int64{2001, 2002}, nil)
		require.NoError(t, err)
		require.NoError(t, as.AddMember(ctx, "intro-bio", 2003))
		require.NoError(t, as.RemoveMember(ctx, "intro-bio", 2002))

		members, err := as.MembersOf(ctx, "intro-bio")
		require.NoError(t, err)
		assert.Equal(t, []int64{2001, 2003}, members)
	})

	t.Run("add requires the alias", func(t *testing.T) {
		as := newAliasFixture(t)

		err := as.AddMember(ctx, "nope", 2001)
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("add requires the offering in the ledger", func(t *testing.T) {
		as := newAliasFixture(t)
		_, err := as.Create(ctx, "intro-bio", nil, nil)
		require.NoError(t, err)

		err = as.AddMember(ctx, "intro-bio", 9999)
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("add rejects existing members", func(t *testing.T) {
		as := newAliasFixture(t)
		_, err := as.Create(ctx, "intro-bio", []int64{2001}, nil)
		require.NoError(t, err)

		err = as.AddMember(ctx, "intro-bio", 2001)
		require.Error(t, err)
		assert.True(t, errors.IsConflict(err))
	})

	t.Run("remove reports non-members", func(t *testing.T) {
		as := newAliasFixture(t)
		_, err := as.Create(ctx, "intro-bio", []int64{2001}, nil)
		require.NoError(t, err)

		err = as.RemoveMember(ctx, "intro-bio", 2002)
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestAliasDelete(t *testing.T) {
	ctx := context.Background()
	as := newAliasFixture(t)

	_, err := as.Create(ctx, "intro-bio", []int64{2001, 2002}, nil)
	require.NoError(t, err)

	require.NoError(t, as.Delete(ctx, "intro-bio"))

	alias, err := as.Get(ctx, "intro-bio")
	require.NoError(t, err)
	assert.Nil(t, alias)

	aliases, err := as.AliasesOf(ctx, 2001)
	require.NoError(t, err)
	assert.Empty(t, aliases, "memberships cascade with the alias")

	err = as.Delete(ctx, "intro-bio")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestAliasList(t *testing.T) {
	ctx := context.Background()
	as := newAliasFixture(t)

	_, err := as.Create(ctx, "intro-bio", []int64{2001, 2002}, nil)
	require.NoError(t, err)
	_, err = as.Create(ctx, "all-mine", []int64{2001, 2002, 2003}, nil)
	require.NoError(t, err)

	aliases, err := as.List(ctx)
	require.NoError(t, err)
	require.Len(t, aliases, 2)
	assert.Equal(t, "all-mine", aliases[0].Name)
	assert.Equal(t, int64(3), aliases[0].MemberCount)
	assert.Equal(t, "intro-bio", aliases[1].Name)
	assert.Equal(t, int64(2), aliases[1].MemberCount)
}

func TestAliasesOf(t *testing.T) {
	ctx := context.Background()
	as := newAliasFixture(t)

	_, err := as.Create(ctx, "intro-bio", []int64{2001, 2002}, nil)
	require.NoError(t, err)
	_, err = as.Create(ctx, "all-mine", []int64{2001, 2003}, nil)
	require.NoError(t, err)

	aliases, err := as.AliasesOf(ctx, 2001)
	require.NoError(t, err)
	require.Len(t, aliases, 2)
	assert.Equal(t, "all-mine", aliases[0].Name)
	assert.Equal(t, "intro-bio", aliases[1].Name)

	none, err := as.AliasesOf(ctx, 2002)
	require.NoError(t, err)
	require.Len(t, none, 1)
	assert.Equal(t, "intro-bio", none[0].Name)
}

func TestAliasGetUnknown(t *testing.T) {
	as := newAliasFixture(t)

	alias, err := as.Get(context.Background(), "never-created")
	require.NoError(t, err)
	assert.Nil(t, alias)
}
