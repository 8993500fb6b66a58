package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/zencelium/zencelium/internal/zlog"
)

// NATSBus is the production Bus: reconnect/disconnect/error handler options
// on dial, Drain() on close. Topics map directly onto NATS subjects — the
// agent-uuid and space-uuid strings are opaque to NATS, so no subject
// hierarchy is imposed on them.
type NATSBus struct {
	conn *nats.Conn
}

// DialNATS connects to the NATS server at url.
func DialNATS(url string) (*NATSBus, error) {
	log := zlog.Bus()
	opts := []nats.Option{
		nats.Name("zenceliumd"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error().Err(err).Str("subject", subject).Msg("nats error")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	log.Info().Str("url", conn.ConnectedUrl()).Msg("connected to nats")
	return &NATSBus{conn: conn}, nil
}

func (b *NATSBus) Publish(_ context.Context, topic string, payload []byte) error {
	return b.conn.Publish(topic, payload)
}

func (b *NATSBus) NewSubscriber() (Subscriber, error) {
	// Subscriptions are made directly against the shared connection rather
	// than through an EncodedConn: payloads are opaque frame bytes the core
	// already encodes/decodes itself.
	return &natsSubscriber{
		conn:  b.conn,
		inbox: make(chan Message, 256),
		subs:  make(map[string]*nats.Subscription),
	}, nil
}

func (b *NATSBus) Close() error {
	b.conn.Drain()
	return nil
}

type natsSubscriber struct {
	conn  *nats.Conn
	inbox chan Message
	subs  map[string]*nats.Subscription
}

func (s *natsSubscriber) Subscribe(_ context.Context, topics ...string) error {
	for _, topic := range topics {
		if _, ok := s.subs[topic]; ok {
			continue
		}
		topic := topic
		sub, err := s.conn.Subscribe(topic, func(msg *nats.Msg) {
			select {
			case s.inbox <- Message{Topic: topic, Payload: msg.Data}:
			default:
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		s.subs[topic] = sub
	}
	return nil
}

func (s *natsSubscriber) Unsubscribe(_ context.Context, topics ...string) error {
	for _, topic := range topics {
		sub, ok := s.subs[topic]
		if !ok {
			continue
		}
		if err := sub.Unsubscribe(); err != nil {
			return fmt.Errorf("unsubscribe %s: %w", topic, err)
		}
		delete(s.subs, topic)
	}
	return nil
}

func (s *natsSubscriber) Next(_ context.Context) (*Message, error) {
	select {
	case msg := <-s.inbox:
		return &msg, nil
	default:
		return nil, nil
	}
}

func (s *natsSubscriber) Close() error {
	for topic, sub := range s.subs {
		sub.Unsubscribe()
		delete(s.subs, topic)
	}
	return nil
}
