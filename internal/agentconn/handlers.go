package agentconn

import (
	"context"
	"strings"

	"github.com/zencelium/zencelium/internal/catalog"
	"github.com/zencelium/zencelium/internal/frame"
	"github.com/zencelium/zencelium/internal/relayerr"
)

type handlerFunc func(ctx context.Context, c *Connection, f frame.Frame) error

// dispatch routes a decoded frame to its handler, named
// handler first, "*" wildcard fallback, silently dropped if neither exists
// (a recognized kind with no matching name and no wildcard is not an
// error — only a kind frame.Decode would already have rejected is).
func dispatch(ctx context.Context, c *Connection, f frame.Frame) error {
	var table map[string]handlerFunc
	switch f.Kind {
	case frame.KindCommand:
		table = commandHandlers
	case frame.KindEvent:
		table = eventHandlers
	case frame.KindMessage:
		table = messageHandlers
	case frame.KindRequest:
		table = requestHandlers
	case frame.KindResponse:
		table = responseHandlers
	default:
		return relayerr.ErrUnknownKind
	}

	handler, ok := table[f.Name]
	if !ok {
		handler, ok = table["*"]
	}
	if !ok {
		return nil
	}
	return handler(ctx, c, f)
}

var commandHandlers = map[string]handlerFunc{
	"login":  cmdLogin,
	"join":   cmdJoin,
	"leave":  cmdLeave,
	"filter": cmdFilter,
	"*":      cmdUnknown,
}

var eventHandlers = map[string]handlerFunc{"*": relayWildcard}
var messageHandlers = map[string]handlerFunc{"*": relayWildcard}
var requestHandlers = map[string]handlerFunc{"*": relayWildcard}
var responseHandlers = map[string]handlerFunc{"*": relayWildcard}

func cmdLogin(ctx context.Context, c *Connection, f frame.Frame) error {
	token, _ := f.Data["token"].(string)
	agent, err := c.login(ctx, token)
	if err != nil || token == "" || agent == nil {
		c.log.Info().Interface("data", f.Data).Msg("login failed")
		if sendErr := c.sendFrame(f.Reply("login-failed")); sendErr != nil {
			return sendErr
		}
		c.cancel()
		return nil
	}
	reply := f.Reply("login-ok")
	reply.SetMeta("space", map[string]string{"name": "server"})
	if err := c.sendFrame(reply); err != nil {
		return err
	}
	c.log.Info().Str("account", agent.Account.Name).Msg("agent logged in")
	return nil
}

// cleanSpaceNames reads the "spaces" field of a data/meta record, which may
// be a comma-separated string or a sequence of strings (the
// join/leave data shape).
func cleanSpaceNames(obj map[string]interface{}) []string {
	raw, ok := obj["spaces"]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case string:
		parts := strings.Split(v, ",")
		names := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				names = append(names, p)
			}
		}
		return names
	case []interface{}:
		names := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
		return names
	default:
		return nil
	}
}

func containsWildcard(names []string) bool {
	for _, n := range names {
		if n == "*" {
			return true
		}
	}
	return false
}

func cmdJoin(ctx context.Context, c *Connection, f frame.Frame) error {
	names := cleanSpaceNames(f.Data)
	spaces, err := c.resolveSpaces(ctx, names)
	if err != nil {
		return err
	}
	if err := c.Join(ctx, spaces); err != nil {
		return err
	}
	reply := f.Reply("join-ok")
	reply.SetMeta("space", map[string]string{"name": "server"})
	return c.sendFrame(reply)
}

func cmdLeave(ctx context.Context, c *Connection, f frame.Frame) error {
	names := cleanSpaceNames(f.Data)
	var spaces []catalog.Space
	if containsWildcard(names) {
		spaces = c.currentSpaces()
	} else {
		resolved, err := c.resolveSpaces(ctx, names)
		if err != nil {
			return err
		}
		spaces = resolved
	}
	if err := c.Leave(ctx, spaces); err != nil {
		return err
	}
	return c.sendFrame(f.Reply("leave-ok"))
}

func cmdFilter(_ context.Context, c *Connection, f frame.Frame) error {
	if size, ok := f.Data["size"]; ok {
		if n, ok := toInt(size); ok {
			c.mu.Lock()
			c.frameMaxSize = n
			c.mu.Unlock()
		}
	}
	if names, ok := f.Data["names"].(map[string]interface{}); ok {
		c.mu.Lock()
		c.filterEventNames = toNameSet(names["event"])
		c.filterMessageNames = toNameSet(names["message"])
		c.filterRequestNames = toNameSet(names["request"])
		c.mu.Unlock()
	}
	return c.sendFrame(f.Reply("filter-ok"))
}

func cmdUnknown(_ context.Context, c *Connection, f frame.Frame) error {
	return c.sendFrame(f.Reply("unknown-command", frame.Data{"command": f.Name}))
}

// relayWildcard is the shared event/message/request/response handler: it
// resolves a target space set (from frame.meta.spaces if present, else the
// connection's currently subscribed spaces) and relays through
// broadcastSend. Unlike join, the relay path never treats "*" as "every
// space the agent belongs to" — meta.spaces names spaces literally, and a
// literal "*" simply resolves to no space (the original's relay handlers
// look space names up as-is with no wildcard case, so the frame is then
// dropped by broadcastSend's empty-target-set rule).
func relayWildcard(ctx context.Context, c *Connection, f frame.Frame) error {
	spaces := c.currentSpaces()
	if f.Meta != nil {
		if names := cleanSpaceNames(f.Meta); len(names) > 0 {
			resolved, err := c.resolveSpacesLiteral(ctx, names)
			if err != nil {
				return err
			}
			spaces = resolved
		}
	}
	return c.broadcastSend(ctx, f, spaces)
}

// resolveSpaces resolves names for the join/leave commands, where "*" means
// every space the agent belongs to.
func (c *Connection) resolveSpaces(ctx context.Context, names []string) ([]catalog.Space, error) {
	if len(names) == 0 {
		return nil, nil
	}
	c.mu.Lock()
	account := c.account
	agent := c.agent
	c.mu.Unlock()
	if account == nil {
		return nil, nil
	}
	if containsWildcard(names) {
		return c.store.SpacesOf(ctx, agent)
	}
	return c.store.SpacesWhere(ctx, names, account)
}

// resolveSpacesLiteral resolves names for the relay path, where names are
// looked up literally against the account's spaces — no name ever matches
// "*", so a literal wildcard resolves to no space.
func (c *Connection) resolveSpacesLiteral(ctx context.Context, names []string) ([]catalog.Space, error) {
	if len(names) == 0 {
		return nil, nil
	}
	c.mu.Lock()
	account := c.account
	c.mu.Unlock()
	if account == nil {
		return nil, nil
	}
	return c.store.SpacesWhere(ctx, names, account)
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func toNameSet(v interface{}) map[string]struct{} {
	set := make(map[string]struct{})
	items, ok := v.([]interface{})
	if !ok {
		return set
	}
	for _, item := range items {
		if s, ok := item.(string); ok {
			set[s] = struct{}{}
		}
	}
	return set
}
