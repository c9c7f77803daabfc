package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/imapauth/internal/store"
	"github.com/nhle/imapauth/tests/testutil"
)

func TestRegisterAndCheckUserExists(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	exists, err := s.CheckUserExists(ctx, "@bob:example.com")
	require.NoError(t, err)
	assert.False(t, exists)

	userID, token, err := s.Register(ctx, "bob", []string{"bob@mail.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "@bob:example.com", userID)
	assert.NotEmpty(t, token)

	exists, err = s.CheckUserExists(ctx, userID)
	require.NoError(t, err)
	assert.True(t, exists)

	account, err := s.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "bob", account.Localpart)
	assert.Equal(t, []string{"bob@mail.example.com"}, account.Emails)
	assert.False(t, account.CreatedAt.IsZero())
}

func TestRegisterDuplicate(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, _, err := s.Register(ctx, "bob", []string{"bob@example.com"})
	require.NoError(t, err)

	_, _, err = s.Register(ctx, "bob", []string{"bob@example.com"})
	assert.ErrorIs(t, err, store.ErrUserExists)
}

func TestRegisterInvalidLocalpart(t *testing.T) {
	s := testutil.NewTestStore(t)

	for _, localpart := range []string{"", "bob:evil", "bob@example.com", "bob smith"} {
		_, _, err := s.Register(context.Background(), localpart, nil)
		assert.ErrorIs(t, err, store.ErrInvalidLocalpart, localpart)
	}
}

func TestRegisterIssuesDistinctTokens(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, first, err := s.Register(ctx, "alice", nil)
	require.NoError(t, err)
	_, second, err := s.Register(ctx, "bob", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestGetAccountNotFound(t *testing.T) {
	s := testutil.NewTestStore(t)

	_, err := s.GetAccount(context.Background(), "@nobody:example.com")
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestListAccounts(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, _, err := s.Register(ctx, "carol", []string{"carol@example.com"})
	require.NoError(t, err)
	_, _, err = s.Register(ctx, "alice", []string{"alice@example.com", "a@example.com"})
	require.NoError(t, err)

	accounts, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	assert.Equal(t, "@alice:example.com", accounts[0].UserID)
	assert.Equal(t, []string{"a@example.com", "alice@example.com"}, accounts[0].Emails)
	assert.Equal(t, "@carol:example.com", accounts[1].UserID)
	assert.Equal(t, []string{"carol@example.com"}, accounts[1].Emails)
}

func TestUserIDForEmail(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	userID, _, err := s.Register(ctx, "bob", []string{"Bob@Example.com"})
	require.NoError(t, err)

	got, err := s.UserIDForEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	_, err = s.UserIDForEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestStoreReopensFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.db")
	ctx := context.Background()

	s, err := store.NewSQLiteStore(path, "example.com")
	require.NoError(t, err)
	userID, _, err := s.Register(ctx, "bob", nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = store.NewSQLiteStore(path, "example.com")
	require.NoError(t, err)
	defer s.Close()

	exists, err := s.CheckUserExists(ctx, userID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestNewSQLiteStoreRequiresServerName(t *testing.T) {
	_, err := store.NewSQLiteStore(":memory:", "")
	assert.Error(t, err)
}
