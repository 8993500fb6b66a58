// Package catalog defines the accounts/agents/spaces/memberships store the
// relay core reads from. The core treats this store as an
// external collaborator; this package also ships a SQLite-backed reference
// implementation so the core can run and be tested without a real admin API
// behind it.
package catalog

import "time"

// Account is the authentication principal that owns agents and spaces.
type Account struct {
	UUID         string
	Name         string
	DisplayName  string
	PasswordHash string
	LastLogin    time.Time
}

// Space is a named multicast group scoped to one account.
type Space struct {
	UUID        string
	Name        string
	AccountUUID string
}

// Agent is an identity that connects and relays frames on behalf of an
// account, authenticated by a bearer token. Account is embedded by value
// (populated by the store on every lookup) rather than referenced by uuid,
// because the core has no account-by-uuid call in its catalog interface —
// it always reaches an account through the agent that belongs to it.
type Agent struct {
	UUID    string
	Name    string
	Account Account
	Token   string
}
