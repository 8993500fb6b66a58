package agentconn

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zencelium/zencelium/internal/catalog"
	"github.com/zencelium/zencelium/internal/frame"
	"github.com/zencelium/zencelium/internal/relayerr"
)

// broadcastSend rebrands an outgoing frame with source+timestamp meta and
// relays it to every target space via the registry. An
// outgoing request auto-subscribes its own name into the connection's
// request filter, so the eventual response is admitted back in.
func (c *Connection) broadcastSend(ctx context.Context, f frame.Frame, spaces []catalog.Space) error {
	c.mu.Lock()
	agent := c.agent
	if f.Kind == frame.KindRequest {
		if _, ok := c.filterRequestNames[f.Name]; !ok {
			c.filterRequestNames[f.Name] = struct{}{}
		}
	}
	c.mu.Unlock()

	f.SetMeta("source", map[string]string{"name": agent.Name})
	f.SetMeta("timestamp", timestamp())

	if len(spaces) == 0 {
		c.log.Warn().Str("agent", agent.Name).Msg("no spaces for broadcast")
		return nil
	}
	return c.registry.Broadcast(ctx, f, spaces)
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// socketRecvLoop is the socket→bus loop: read frames off the socket and
// dispatch them. It runs until the socket errors, the frame is malformed,
// or the context is cancelled.
func (c *Connection) socketRecvLoop(ctx context.Context) {
	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.socket.ReadMessage()
		if err != nil {
			return
		}

		f, err := frame.Decode(raw)
		if err != nil {
			c.log.Info().Err(err).Msg("closing connection: malformed frame")
			return
		}

		if err := dispatch(ctx, c, f); err != nil {
			if errors.Is(err, relayerr.ErrUnknownKind) {
				c.log.Info().Str("name", f.Name).Msg("closing connection: unknown frame kind")
			} else {
				c.log.Warn().Err(err).Str("name", f.Name).Msg("handler error")
			}
			return
		}
	}
}

// busRecvLoop is the bus→socket loop: poll the bus subscriber, apply the
// connection's filters, and write survivors to the socket. Before login it
// idles on the longer "unsubscribed" backoff; once subscribed, an empty
// poll idles on the shorter "stale" backoff. It also owns the write side of
// the WebSocket keep-alive: a ping on pingPeriod so the peer's pong resets
// its own read deadline, same role as the teacher's write-pump ticker.
func (c *Connection) busRecvLoop(ctx context.Context) {
	lastPing := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if time.Since(lastPing) >= pingPeriod {
			if err := c.sendPing(); err != nil {
				c.log.Warn().Err(err).Msg("closing connection: ping failed")
				return
			}
			lastPing = time.Now()
		}

		c.mu.Lock()
		subscribed := c.subscribedOwn
		sub := c.subscriber
		c.mu.Unlock()

		if !subscribed {
			sleep(ctx, c.cfg.UnsubscribedBackoff)
			continue
		}

		msg, err := sub.Next(ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("closing connection: bus error")
			return
		}
		if msg == nil {
			sleep(ctx, c.cfg.StaleBusBackoff)
			continue
		}

		if err := c.relayToSocket(msg.Payload); err != nil {
			return
		}
	}
}

func (c *Connection) sendPing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.socket.WriteMessage(websocket.PingMessage, nil)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// relayToSocket decodes a bus payload, applies small-frame stripping and
// the per-kind name/wildcard filters, and writes survivors to the socket
// . Small-frame stripping happens before the size
// comparison, and the comparison is against the post-strip bytes — this
// order is confirmed by the original's broadcast_recv.
func (c *Connection) relayToSocket(payload []byte) error {
	f, err := frame.Decode(payload)
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed frame from bus")
		return nil
	}

	c.mu.Lock()
	maxSize := c.frameMaxSize
	c.mu.Unlock()

	if maxSize <= 256 {
		f.ClearCorrelation()
		f.ClearMeta()
	}

	encoded, err := json.Marshal(f)
	if err != nil {
		return nil
	}
	if len(encoded) > maxSize {
		c.log.Info().Str("name", f.Name).Int("size", len(encoded)).Msg("skipping oversized frame")
		return nil
	}

	if !c.admits(f) {
		return nil
	}

	payload, err = f.Encode()
	if err != nil {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.socket.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	return nil
}

// admits applies the per-kind filter set: commands always pass (the
// relay's own login/join/leave/filter replies are commands and carry no
// filter), request and response share one filter set.
func (c *Connection) admits(f frame.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var set map[string]struct{}
	switch f.Kind {
	case frame.KindCommand:
		return true
	case frame.KindEvent:
		set = c.filterEventNames
	case frame.KindMessage:
		set = c.filterMessageNames
	case frame.KindRequest, frame.KindResponse:
		set = c.filterRequestNames
	default:
		return false
	}

	if _, ok := set["*"]; ok {
		return true
	}
	_, ok := set[f.Name]
	return ok
}
