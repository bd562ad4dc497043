// Package messaging provides the NATS-backed delivery transport for dialog
// rooms. Each room maps to one subject; every member connection holds a
// subscription on that subject whose handler writes to the local socket.
// NATS is delivery plumbing only; room membership is accounted for by the
// room Router, never inferred from subscription state.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/parley/chat-server/internal/room"
)

// SubjectPrefix namespaces room subjects on the NATS side.
const SubjectPrefix = "room."

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "parley",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NATSTransport implements room.Transport on a NATS connection.
type NATSTransport struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs map[string]*nats.Subscription // "<group>/<conn_id>" -> subscription
}

var _ room.Transport = (*NATSTransport)(nil)

// NewNATSTransport connects to NATS with the given config and returns a
// ready transport. It returns an error if the initial connection fails.
func NewNATSTransport(config NATSConfig) (*NATSTransport, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSTransport{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Join subscribes the connection's delivery callback to the group subject.
// A connection re-joining a group replaces its previous subscription.
func (t *NATSTransport) Join(group, connID string, deliver room.DeliverFunc) error {
	subject := SubjectPrefix + group
	sub, err := t.conn.Subscribe(subject, func(msg *nats.Msg) {
		deliver(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	key := subKey(group, connID)
	t.mu.Lock()
	if prev, ok := t.subs[key]; ok {
		_ = prev.Unsubscribe()
	}
	t.subs[key] = sub
	t.mu.Unlock()
	return nil
}

// Leave drops the connection's subscription on the group subject. Leaving a
// group that was never joined is not an error.
func (t *NATSTransport) Leave(group, connID string) error {
	key := subKey(group, connID)

	t.mu.Lock()
	sub, ok := t.subs[key]
	if ok {
		delete(t.subs, key)
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", SubjectPrefix+group, err)
	}
	return nil
}

// Publish fans a payload out to every subscription on the group subject,
// including members attached to other server instances.
func (t *NATSTransport) Publish(group string, data []byte) error {
	if err := t.conn.Publish(SubjectPrefix+group, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", SubjectPrefix+group, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (t *NATSTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, sub := range t.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", key, err)
		}
	}
	t.subs = make(map[string]*nats.Subscription)

	if err := t.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] transport closed")
}

func subKey(group, connID string) string {
	return group + "/" + connID
}
