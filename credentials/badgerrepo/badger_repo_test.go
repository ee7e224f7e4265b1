package badgerrepo_test

import (
	"testing"

	"github.com/jrsteele09/go-coach-engine/credentials"
	"github.com/jrsteele09/go-coach-engine/credentials/badgerrepo"
	"github.com/stretchr/testify/require"
)

func TestRepo_InMemory(t *testing.T) {
	repo, err := badgerrepo.Open(badgerrepo.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, repo.Close()) })

	_, err = repo.Get()
	require.ErrorIs(t, err, credentials.ErrNotFound)

	require.NoError(t, repo.Put("token-1"))
	got, err := repo.Get()
	require.NoError(t, err)
	require.Equal(t, "token-1", got)

	require.NoError(t, repo.Delete())
	_, err = repo.Get()
	require.ErrorIs(t, err, credentials.ErrNotFound)

	require.NoError(t, repo.Delete(), "deleting a missing token is not an error")
}

func TestRepo_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	repo, err := badgerrepo.Open(badgerrepo.Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, repo.Put("persisted-token"))
	require.NoError(t, repo.Close())

	reopened, err := badgerrepo.Open(badgerrepo.Config{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	store, err := credentials.NewStore(reopened)
	require.NoError(t, err)
	token, ok := store.Load()
	require.True(t, ok)
	require.Equal(t, "persisted-token", token)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := badgerrepo.Open(badgerrepo.Config{})
	require.Error(t, err)
}
