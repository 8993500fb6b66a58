// Package agentconn implements the per-socket agent connection runtime: the
// state machine that takes a socket from accept to authenticated relay to
// shutdown, the two cooperating loops between the socket and the pub/sub
// bus, and the handler dispatch table. Grounded on the original project's
// AgentServer (agent_server.py) for the state machine and handler
// semantics, and on common gorilla/websocket conn lifecycle and deadline
// handling for the transport idiom.
package agentconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zencelium/zencelium/internal/bus"
	"github.com/zencelium/zencelium/internal/catalog"
	"github.com/zencelium/zencelium/internal/frame"
	"github.com/zencelium/zencelium/internal/registry"
	"github.com/zencelium/zencelium/internal/relayerr"
	"github.com/zencelium/zencelium/internal/zlog"
)

var _ registry.Connection = (*Connection)(nil)

// State is the connection's position in its login → relay → terminated
// lifecycle.
type State int

const (
	StateAwaitingLogin State = iota
	StateAuthenticated
	StateTerminated
)

// Config carries the tunables a Connection needs that come from process
// configuration rather than per-connection state.
type Config struct {
	DefaultFrameMaxSize int
	StaleBusBackoff     time.Duration
	UnsubscribedBackoff time.Duration
}

// Connection is one agent's live connection: socket, bus subscriber,
// per-connection filters, and the account/agent identity attached at
// login. Its mutable state is guarded by mu: after Start it is touched by
// the socket receiver and the bus receiver, and also by the registry's
// Join/Leave/Stop calls, which arrive from other goroutines.
type Connection struct {
	socket   Socket
	store    catalog.Store
	registry *registry.Registry
	busHub   bus.Bus
	cfg      Config
	log      *zerolog.Logger

	writeMu sync.Mutex

	mu                 sync.Mutex
	state              State
	agent              *catalog.Agent
	account            *catalog.Account
	spaces             map[string]catalog.Space // keyed by space uuid
	filterEventNames   map[string]struct{}
	filterMessageNames map[string]struct{}
	filterRequestNames map[string]struct{} // shared by request and response
	frameMaxSize       int
	subscriber         bus.Subscriber
	subscribedOwn      bool

	stopOnce sync.Once
	stopped  chan struct{}
	cancel   context.CancelFunc
}

// New creates a connection around an already-upgraded socket. The
// connection does not add itself to the registry or open a bus subscriber
// until Start is called.
func New(socket Socket, store catalog.Store, reg *registry.Registry, busHub bus.Bus, cfg Config) *Connection {
	return &Connection{
		socket:             socket,
		store:              store,
		registry:           reg,
		busHub:             busHub,
		cfg:                cfg,
		log:                zlog.AgentConn("pending"),
		state:              StateAwaitingLogin,
		spaces:             make(map[string]catalog.Space),
		filterEventNames:   map[string]struct{}{"*": {}},
		filterMessageNames: map[string]struct{}{"*": {}},
		filterRequestNames: map[string]struct{}{"*": {}},
		frameMaxSize:       cfg.DefaultFrameMaxSize,
		stopped:            make(chan struct{}),
	}
}

// SessionIdentity carries the pre-authenticated identity an upgrade-time
// JWT session established, for the optional session-login auto-auth path
// . A nil SessionIdentity means the agent must
// send an explicit login command.
type SessionIdentity struct {
	AccountName string
}

// Start runs the connection to completion: it opens a bus subscriber,
// attempts session-login, then runs the socket receiver and bus receiver
// loops concurrently until either exits. It always returns after running
// the shutdown discipline (the "guaranteed-release region"):
// remove from registry if added, close the subscriber, cancel the sibling
// loop, stop reading.
func (c *Connection) Start(ctx context.Context, session *SessionIdentity) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	sub, err := c.busHub.NewSubscriber()
	if err != nil {
		c.shutdown(ctx)
		return fmt.Errorf("%w: %v", relayerr.ErrBusUnavailable, err)
	}
	c.mu.Lock()
	c.subscriber = sub
	c.mu.Unlock()

	defer c.shutdown(ctx)

	if session != nil {
		if err := c.sessionLogin(ctx, session.AccountName); err != nil {
			c.log.Warn().Err(err).Msg("session-login failed, awaiting explicit login")
		}
	}

	// Whichever loop exits first cancels the other; closing the socket on
	// cancellation unblocks a socket receiver parked in ReadMessage.
	go func() {
		<-ctx.Done()
		c.socket.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		c.socketRecvLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		c.busRecvLoop(ctx)
	}()
	wg.Wait()
	return nil
}

func (c *Connection) shutdown(ctx context.Context) {
	c.mu.Lock()
	agent := c.agent
	c.state = StateTerminated
	sub := c.subscriber
	c.mu.Unlock()

	if agent != nil {
		c.registry.Remove(agent.UUID)
	}
	if sub != nil {
		sub.Close()
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.socket.Close()
	c.stopOnce.Do(func() { close(c.stopped) })
}

// Stop initiates shutdown from outside the connection's own loops (the
// registry.Connection interface method the admin API collaborator uses).
func (c *Connection) Stop(_ context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Done is closed once the connection's shutdown discipline has completed.
func (c *Connection) Done() <-chan struct{} {
	return c.stopped
}

func (c *Connection) sendFrame(f frame.Frame) error {
	payload, err := f.Encode()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.socket.WriteMessage(websocket.TextMessage, payload)
}

// sessionLogin resolves an upgrade-time JWT's subject against the catalog
// (account_by_name then the account's own agent via space_agent_of,
// matching the original's _session_login) and attaches the result exactly
// as an explicit login frame would.
func (c *Connection) sessionLogin(ctx context.Context, accountName string) error {
	if accountName == "" {
		return fmt.Errorf("empty session account")
	}
	account, err := c.store.AccountByName(ctx, accountName)
	if err != nil {
		return err
	}
	agent, err := c.store.SpaceAgentOf(ctx, account)
	if err != nil {
		return err
	}
	if err := c.attach(ctx, agent); err != nil {
		return err
	}
	ok := frame.New(frame.KindCommand, "login-ok", nil)
	ok.SetMeta("space", map[string]string{"name": "server"})
	return c.sendFrame(ok)
}

// login resolves a bearer token against the catalog store (never cached,
// ), and on success attaches to the registry and
// subscribes to the agent's own uuid topic.
func (c *Connection) login(ctx context.Context, token string) (*catalog.Agent, error) {
	agent, err := c.store.AgentByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, nil
	}
	if err := c.attach(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// attach is the shared second half of both login paths: register the agent
// in the registry and subscribe its own uuid topic on the bus.
func (c *Connection) attach(ctx context.Context, agent *catalog.Agent) error {
	if err := c.registry.Add(agent, c); err != nil {
		return err
	}

	c.mu.Lock()
	c.agent = agent
	c.account = &agent.Account
	c.state = StateAuthenticated
	sub := c.subscriber
	c.mu.Unlock()
	c.log = zlog.AgentConn(agent.UUID)

	if err := sub.Subscribe(ctx, agent.UUID); err != nil {
		c.registry.Remove(agent.UUID)
		return fmt.Errorf("%w: %v", relayerr.ErrBusUnavailable, err)
	}
	c.mu.Lock()
	c.subscribedOwn = true
	c.mu.Unlock()

	return nil
}

// Join adds spaces to this connection's space set and subscribes their
// topics (registry.Connection interface method).
func (c *Connection) Join(ctx context.Context, spaces []catalog.Space) error {
	if len(spaces) == 0 {
		return nil
	}
	topics := make([]string, 0, len(spaces))
	c.mu.Lock()
	for _, sp := range spaces {
		c.spaces[sp.UUID] = sp
		topics = append(topics, sp.UUID)
	}
	sub := c.subscriber
	c.mu.Unlock()
	if err := sub.Subscribe(ctx, topics...); err != nil {
		return fmt.Errorf("%w: %v", relayerr.ErrBusUnavailable, err)
	}
	return nil
}

// Leave removes spaces from this connection's space set and unsubscribes
// their topics (registry.Connection interface method). By design,
// leave("*") never unsubscribes the agent's own uuid topic — only the
// named space topics currently held.
func (c *Connection) Leave(ctx context.Context, spaces []catalog.Space) error {
	if len(spaces) == 0 {
		return nil
	}
	topics := make([]string, 0, len(spaces))
	c.mu.Lock()
	for _, sp := range spaces {
		delete(c.spaces, sp.UUID)
		topics = append(topics, sp.UUID)
	}
	sub := c.subscriber
	c.mu.Unlock()
	if err := sub.Unsubscribe(ctx, topics...); err != nil {
		return fmt.Errorf("%w: %v", relayerr.ErrBusUnavailable, err)
	}
	return nil
}

func (c *Connection) currentSpaces() []catalog.Space {
	c.mu.Lock()
	defer c.mu.Unlock()
	spaces := make([]catalog.Space, 0, len(c.spaces))
	for _, sp := range c.spaces {
		spaces = append(spaces, sp)
	}
	return spaces
}
