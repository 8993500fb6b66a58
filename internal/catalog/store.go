package catalog

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups with no matching row. Callers that
// accept "not found" as a normal outcome (AgentByToken) return (nil, nil)
// instead; ErrNotFound is reserved for lookups the core expects to succeed,
// such as AccountByName during session-login.
var ErrNotFound = errors.New("catalog: not found")

// Store is the interface the relay core consumes. Mutations
// (account/agent/space creation, membership changes) originate in the admin
// API collaborator, not here — this interface is read-only from the core's
// point of view except for the two membership calls the admin API itself
// invokes to keep a connected agent's registry subscriptions in sync.
type Store interface {
	// AgentByToken looks up the agent owning a bearer token. Returns
	// (nil, nil) if no agent carries that token — a missing agent is not
	// an error, it is a failed-login signal the caller acts on.
	AgentByToken(ctx context.Context, token string) (*Agent, error)

	// AccountByName looks up an account by its unique name.
	AccountByName(ctx context.Context, name string) (*Account, error)

	// SpaceAgentOf returns the account's "own" agent — the one sharing the
	// account's name, created alongside the account.
	SpaceAgentOf(ctx context.Context, account *Account) (*Agent, error)

	// SpacesOf returns every space the agent currently has membership in.
	SpacesOf(ctx context.Context, agent *Agent) ([]Space, error)

	// SpacesWhere resolves a set of space names to Space rows, scoped to
	// one account. Unknown names are silently omitted from the result.
	SpacesWhere(ctx context.Context, names []string, account *Account) ([]Space, error)

	// AgentJoinSpace and AgentLeaveSpace are invoked by the admin API
	// collaborator when it mutates memberships; the core only ever reads
	// the resulting membership rows back out via SpacesOf/SpacesWhere.
	AgentJoinSpace(ctx context.Context, agent *Agent, spaceName string) error
	AgentLeaveSpace(ctx context.Context, agent *Agent, spaceName string) error
}
