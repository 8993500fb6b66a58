package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAccountSeedsOwnAgentAndSpace(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	account, err := store.CreateAccount(ctx, "acme", "hunter2", "")
	require.NoError(t, err)
	require.Equal(t, "acme", account.DisplayName)

	agent, err := store.SpaceAgentOf(ctx, account)
	require.NoError(t, err)
	require.Equal(t, "acme", agent.Name)
	require.NotEmpty(t, agent.Token)

	spaces, err := store.SpacesWhere(ctx, []string{"acme"}, account)
	require.NoError(t, err)
	require.Len(t, spaces, 1)

	fetched, err := store.AgentByToken(ctx, agent.Token)
	require.NoError(t, err)
	require.Equal(t, agent.UUID, fetched.UUID)
}

func TestAgentByTokenUnknownReturnsNilNotError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	agent, err := store.AgentByToken(ctx, "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, agent)
}

func TestAccountByNameUnknownReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.AccountByName(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestJoinAndLeaveSpace(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	account, err := store.CreateAccount(ctx, "acme", "hunter2", "")
	require.NoError(t, err)
	agent, err := store.CreateAgent(ctx, account, "worker-1")
	require.NoError(t, err)
	_, err = store.CreateSpace(ctx, account, "alerts")
	require.NoError(t, err)

	require.NoError(t, store.AgentJoinSpace(ctx, agent, "alerts"))

	spaces, err := store.SpacesOf(ctx, agent)
	require.NoError(t, err)
	require.Len(t, spaces, 1)
	require.Equal(t, "alerts", spaces[0].Name)

	require.NoError(t, store.AgentLeaveSpace(ctx, agent, "alerts"))
	spaces, err = store.SpacesOf(ctx, agent)
	require.NoError(t, err)
	require.Empty(t, spaces)
}

func TestJoinUnknownSpaceIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	account, err := store.CreateAccount(ctx, "acme", "hunter2", "")
	require.NoError(t, err)
	agent, err := store.CreateAgent(ctx, account, "worker-1")
	require.NoError(t, err)

	err = store.AgentJoinSpace(ctx, agent, "no-such-space")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSpacesWhereScopesToAccountAndIgnoresUnknownNames(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	accountA, err := store.CreateAccount(ctx, "acme", "hunter2", "")
	require.NoError(t, err)
	accountB, err := store.CreateAccount(ctx, "globex", "hunter3", "")
	require.NoError(t, err)

	_, err = store.CreateSpace(ctx, accountA, "alerts")
	require.NoError(t, err)
	_, err = store.CreateSpace(ctx, accountB, "alerts")
	require.NoError(t, err)

	spaces, err := store.SpacesWhere(ctx, []string{"alerts", "missing"}, accountA)
	require.NoError(t, err)
	require.Len(t, spaces, 1)
	require.Equal(t, accountA.UUID, spaces[0].AccountUUID)
}
