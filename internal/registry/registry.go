// Package registry implements the subscription registry (also known as
// SpaceServer): the process-wide index from agent-uuid to its live
// connection, plus the server-to-agent operations that route frames through
// it. Uses direct method calls under a mutex rather than a channel-driven
// event loop: critical sections stay short and non-blocking, with no I/O
// under the lock, which a direct map access gives for free.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zencelium/zencelium/internal/bus"
	"github.com/zencelium/zencelium/internal/catalog"
	"github.com/zencelium/zencelium/internal/frame"
	"github.com/zencelium/zencelium/internal/relayerr"
	"github.com/zencelium/zencelium/internal/zlog"
)

// Connection is the subset of an agent connection's behavior the registry
// drives from outside: joining/leaving spaces and stopping. The concrete
// implementation lives in internal/agentconn; the registry only depends on
// this interface to avoid an import cycle with it.
type Connection interface {
	Join(ctx context.Context, spaces []catalog.Space) error
	Leave(ctx context.Context, spaces []catalog.Space) error
	Stop(ctx context.Context) error
}

// Registry is the process-wide agent-uuid -> Connection index plus the
// publisher handle every connection's outbound relay goes through.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]Connection
	publisher bus.Publisher
	log       *zerolog.Logger
}

// New creates an empty Registry bound to a shared bus Publisher.
func New(publisher bus.Publisher) *Registry {
	return &Registry{
		agents:    make(map[string]Connection),
		publisher: publisher,
		log:       zlog.Registry(),
	}
}

// Add registers a newly authenticated agent's connection. Fails with
// ErrAlreadyConnected if the agent uuid is already registered, enforcing
// "at most one live connection per agent uuid".
func (r *Registry) Add(agent *catalog.Agent, conn Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[agent.UUID]; exists {
		return fmt.Errorf("agent %s: %w", agent.Name, relayerr.ErrAlreadyConnected)
	}
	r.agents[agent.UUID] = conn
	r.log.Debug().Str("agent", agent.Name).Int("connected", len(r.agents)).Msg("agent registered")
	return nil
}

// Remove unregisters an agent's connection. Removing an agent that is not
// registered is a no-op: shutdown paths call Remove unconditionally, even
// when the connection never made it past login.
func (r *Registry) Remove(agentUUID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[agentUUID]; !ok {
		return
	}
	delete(r.agents, agentUUID)
	r.log.Debug().Str("agent_uuid", agentUUID).Int("connected", len(r.agents)).Msg("agent removed")
}

// IsConnected reports whether the given agent currently has a live
// connection registered.
func (r *Registry) IsConnected(agentUUID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentUUID]
	return ok
}

func (r *Registry) lookup(agentUUID string) (Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.agents[agentUUID]
	if !ok {
		return nil, relayerr.ErrNotConnected
	}
	return conn, nil
}

// Join delegates to the connection's own subscriber management.
func (r *Registry) Join(ctx context.Context, agent *catalog.Agent, spaces []catalog.Space) error {
	conn, err := r.lookup(agent.UUID)
	if err != nil {
		return err
	}
	return conn.Join(ctx, spaces)
}

// Leave delegates to the connection's own subscriber management.
func (r *Registry) Leave(ctx context.Context, agent *catalog.Agent, spaces []catalog.Space) error {
	conn, err := r.lookup(agent.UUID)
	if err != nil {
		return err
	}
	return conn.Leave(ctx, spaces)
}

// Close stops an agent's connection, triggering its shutdown discipline.
func (r *Registry) Close(ctx context.Context, agent *catalog.Agent) error {
	conn, err := r.lookup(agent.UUID)
	if err != nil {
		return err
	}
	return conn.Stop(ctx)
}

// PublishToAgent publishes a frame to one agent's own topic (its uuid).
func (r *Registry) PublishToAgent(ctx context.Context, f frame.Frame, agent *catalog.Agent) error {
	payload, err := f.Encode()
	if err != nil {
		return err
	}
	if err := r.publisher.Publish(ctx, agent.UUID, payload); err != nil {
		return fmt.Errorf("%w: %v", relayerr.ErrBusUnavailable, err)
	}
	return nil
}

// PublishToSpace stamps the frame's meta.space and publishes it to the
// space's topic (its uuid). The frame is taken by value: when it already
// carries a meta record, that map is shared with the caller and receives the
// stamp too; when it has none, the caller's frame is left unchanged.
func (r *Registry) PublishToSpace(ctx context.Context, f frame.Frame, space catalog.Space) error {
	f.SetMeta("space", map[string]string{"name": space.Name})
	payload, err := f.Encode()
	if err != nil {
		return err
	}
	if err := r.publisher.Publish(ctx, space.UUID, payload); err != nil {
		return fmt.Errorf("%w: %v", relayerr.ErrBusUnavailable, err)
	}
	return nil
}

// Broadcast publishes the frame once per space, in insertion order. Each
// space gets its own meta.space stamp, so the same logical frame is
// re-encoded per target rather than shared.
func (r *Registry) Broadcast(ctx context.Context, f frame.Frame, spaces []catalog.Space) error {
	for _, space := range spaces {
		if err := r.PublishToSpace(ctx, f, space); err != nil {
			return err
		}
	}
	return nil
}
