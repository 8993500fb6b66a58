package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	_ "modernc.org/sqlite"

	"github.com/zencelium/zencelium/internal/zlog"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no cgo),
// grounded on the original project's SQLite schema (uuid primary keys,
// (name, account) uniqueness on both spaces and agents, a globally unique
// agent token) using the standard database/sql SQLite idiom.
type SQLiteStore struct {
	db  *sql.DB
	log *zerolog.Logger
}

// NewSQLiteStore opens (creating if absent) a SQLite database at path and
// initializes its schema. An empty path opens a private in-memory database,
// useful for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	log := zlog.Catalog()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil && dsn != ":memory:" {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db, log: log}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("dsn", dsn).Msg("catalog store ready")
	return store, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		uuid          TEXT PRIMARY KEY,
		name          TEXT NOT NULL UNIQUE,
		display_name  TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		last_login    DATETIME
	);

	CREATE TABLE IF NOT EXISTS spaces (
		uuid         TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		account_uuid TEXT NOT NULL REFERENCES accounts(uuid) ON DELETE CASCADE,
		UNIQUE(name, account_uuid)
	);

	CREATE TABLE IF NOT EXISTS agents (
		uuid         TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		account_uuid TEXT NOT NULL REFERENCES accounts(uuid) ON DELETE CASCADE,
		token        TEXT NOT NULL UNIQUE,
		UNIQUE(name, account_uuid)
	);

	CREATE TABLE IF NOT EXISTS agent_spaces (
		agent_uuid TEXT NOT NULL REFERENCES agents(uuid) ON DELETE CASCADE,
		space_uuid TEXT NOT NULL REFERENCES spaces(uuid) ON DELETE CASCADE,
		PRIMARY KEY (agent_uuid, space_uuid)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateAccount creates an account together with its own agent and space,
// mirroring Account.create_account in the original: every account gets an
// agent and a space sharing its name, so the account can relay to its own
// direct channel immediately.
func (s *SQLiteStore) CreateAccount(ctx context.Context, name, password, displayName string) (*Account, error) {
	if displayName == "" {
		displayName = name
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	account := &Account{
		UUID:         uuid.NewString(),
		Name:         name,
		DisplayName:  displayName,
		PasswordHash: string(hash),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (uuid, name, display_name, password_hash, last_login) VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		account.UUID, account.Name, account.DisplayName, account.PasswordHash,
	); err != nil {
		return nil, err
	}

	agentUUID := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO agents (uuid, name, account_uuid, token) VALUES (?, ?, ?, ?)`,
		agentUUID, name, account.UUID, uuid.NewString(),
	); err != nil {
		return nil, err
	}

	spaceUUID := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO spaces (uuid, name, account_uuid) VALUES (?, ?, ?)`,
		spaceUUID, name, account.UUID,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.log.Info().Str("account", account.Name).Msg("account created")
	return account, nil
}

// CreateSpace creates an additional space owned by account.
func (s *SQLiteStore) CreateSpace(ctx context.Context, account *Account, name string) (*Space, error) {
	space := &Space{UUID: uuid.NewString(), Name: name, AccountUUID: account.UUID}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spaces (uuid, name, account_uuid) VALUES (?, ?, ?)`,
		space.UUID, space.Name, space.AccountUUID,
	)
	if err != nil {
		return nil, err
	}
	return space, nil
}

// CreateAgent creates an additional agent owned by account, with a freshly
// generated bearer token.
func (s *SQLiteStore) CreateAgent(ctx context.Context, account *Account, name string) (*Agent, error) {
	agent := &Agent{UUID: uuid.NewString(), Name: name, Account: *account, Token: uuid.NewString()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (uuid, name, account_uuid, token) VALUES (?, ?, ?, ?)`,
		agent.UUID, agent.Name, account.UUID, agent.Token,
	)
	if err != nil {
		return nil, err
	}
	return agent, nil
}

func (s *SQLiteStore) AgentByToken(ctx context.Context, token string) (*Agent, error) {
	var a Agent
	var lastLogin sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT agents.uuid, agents.name, agents.token,
		       accounts.uuid, accounts.name, accounts.display_name, accounts.password_hash, accounts.last_login
		FROM agents
		JOIN accounts ON accounts.uuid = agents.account_uuid
		WHERE agents.token = ?
	`, token).Scan(
		&a.UUID, &a.Name, &a.Token,
		&a.Account.UUID, &a.Account.Name, &a.Account.DisplayName, &a.Account.PasswordHash, &lastLogin,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Account.LastLogin = lastLogin.Time
	return &a, nil
}

func (s *SQLiteStore) AccountByName(ctx context.Context, name string) (*Account, error) {
	var a Account
	var lastLogin sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT uuid, name, display_name, password_hash, last_login FROM accounts WHERE name = ?`, name,
	).Scan(&a.UUID, &a.Name, &a.DisplayName, &a.PasswordHash, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.LastLogin = lastLogin.Time
	return &a, nil
}

func (s *SQLiteStore) SpaceAgentOf(ctx context.Context, account *Account) (*Agent, error) {
	a := Agent{Account: *account}
	err := s.db.QueryRowContext(ctx,
		`SELECT uuid, name, token FROM agents WHERE name = ? AND account_uuid = ?`,
		account.Name, account.UUID,
	).Scan(&a.UUID, &a.Name, &a.Token)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStore) SpacesOf(ctx context.Context, agent *Agent) ([]Space, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT spaces.uuid, spaces.name, spaces.account_uuid
		FROM spaces
		JOIN agent_spaces ON agent_spaces.space_uuid = spaces.uuid
		WHERE agent_spaces.agent_uuid = ?
	`, agent.UUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSpaces(rows)
}

func (s *SQLiteStore) SpacesWhere(ctx context.Context, names []string, account *Account) ([]Space, error) {
	if len(names) == 0 {
		return nil, nil
	}
	query := `SELECT uuid, name, account_uuid FROM spaces WHERE account_uuid = ? AND name IN (` + placeholders(len(names)) + `)`
	args := make([]interface{}, 0, len(names)+1)
	args = append(args, account.UUID)
	for _, n := range names {
		args = append(args, n)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSpaces(rows)
}

func (s *SQLiteStore) AgentJoinSpace(ctx context.Context, agent *Agent, spaceName string) error {
	var spaceUUID string
	err := s.db.QueryRowContext(ctx,
		`SELECT uuid FROM spaces WHERE name = ? AND account_uuid = ?`, spaceName, agent.Account.UUID,
	).Scan(&spaceUUID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("agent %s cannot join space %q: %w", agent.Name, spaceName, ErrNotFound)
	}
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO agent_spaces (agent_uuid, space_uuid) VALUES (?, ?)`, agent.UUID, spaceUUID,
	)
	if err == nil {
		s.log.Debug().Str("agent", agent.Name).Str("space", spaceName).Msg("agent joined space")
	}
	return err
}

func (s *SQLiteStore) AgentLeaveSpace(ctx context.Context, agent *Agent, spaceName string) error {
	var spaceUUID string
	err := s.db.QueryRowContext(ctx,
		`SELECT uuid FROM spaces WHERE name = ? AND account_uuid = ?`, spaceName, agent.Account.UUID,
	).Scan(&spaceUUID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("agent %s cannot leave space %q: %w", agent.Name, spaceName, ErrNotFound)
	}
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM agent_spaces WHERE agent_uuid = ? AND space_uuid = ?`, agent.UUID, spaceUUID,
	)
	if err == nil {
		s.log.Debug().Str("agent", agent.Name).Str("space", spaceName).Msg("agent left space")
	}
	return err
}

func scanSpaces(rows *sql.Rows) ([]Space, error) {
	var spaces []Space
	for rows.Next() {
		var sp Space
		if err := rows.Scan(&sp.UUID, &sp.Name, &sp.AccountUUID); err != nil {
			return nil, err
		}
		spaces = append(spaces, sp)
	}
	return spaces, rows.Err()
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

var _ Store = (*SQLiteStore)(nil)
