package ws

import (
	"log"

	"github.com/parley/chat-server/internal/codec"
	"github.com/parley/chat-server/internal/protocol"
)

// MessageHandler processes a single decoded client message. The conn is the
// connection the message arrived on; msg is the typed protocol struct.
type MessageHandler func(conn *Connection, msg interface{})

// Dispatcher decodes inbound WebSocket frames (opening the payload codec,
// parsing the JSON envelope, validating required fields) and routes each
// message to the handler registered for its type. Outbound messages are
// sealed with the same codec before being written to the wire.
type Dispatcher struct {
	server   *Server
	codec    codec.Codec
	handlers map[string]MessageHandler
}

// NewDispatcher creates a Dispatcher bound to the given server and payload
// codec. Handlers are registered with Register before the server starts;
// the map is not mutated afterwards, so no locking is needed.
func NewDispatcher(server *Server, c codec.Codec) *Dispatcher {
	return &Dispatcher{
		server:   server,
		codec:    c,
		handlers: make(map[string]MessageHandler),
	}
}

// SetServer attaches the server after construction. The dispatcher and
// server reference each other, so one of them has to be wired late.
func (d *Dispatcher) SetServer(server *Server) {
	d.server = server
}

// Register installs a handler for the given message type, replacing any
// previous handler for that type.
func (d *Dispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the Server's onMessage callback. It opens the sealed frame,
// parses it into a typed client message, validates required fields, and
// invokes the registered handler. Malformed or unroutable messages produce
// an error frame back to the sender rather than tearing down the connection.
func (d *Dispatcher) Dispatch(conn *Connection, data []byte) {
	plain, err := d.codec.Open(data)
	if err != nil {
		log.Printf("dispatcher: failed to open frame from %s: %v", conn.ID, err)
		d.SendError(conn.ID, "invalid_request", "malformed payload")
		return
	}

	msgType, msg, err := protocol.ParseClientMessage(plain)
	if err != nil {
		log.Printf("dispatcher: parse error from %s: %v", conn.ID, err)
		d.SendError(conn.ID, "invalid_request", "malformed message")
		return
	}

	if v, ok := msg.(protocol.Validator); ok {
		if err := v.Validate(); err != nil {
			d.SendError(conn.ID, "invalid_request", err.Error())
			return
		}
	}

	// Keepalive pings are answered here rather than by a registered handler.
	if msgType == protocol.TypePing {
		d.SendPong(conn.ID)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("dispatcher: no handler for type %q from %s", msgType, conn.ID)
		d.SendError(conn.ID, "invalid_request", "unsupported message type")
		return
	}

	handler(conn, msg)
}

// Send builds a server message of the given type from payload, seals it, and
// writes it to the connection identified by connID.
func (d *Dispatcher) Send(connID, msgType string, payload interface{}) error {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		return err
	}
	sealed, err := d.codec.Seal(data)
	if err != nil {
		return err
	}
	return d.server.SendMessage(connID, sealed)
}

// Seal encodes a server message of the given type without sending it. Used
// for room broadcasts where the same sealed frame is delivered to every
// member.
func (d *Dispatcher) Seal(msgType string, payload interface{}) ([]byte, error) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	return d.codec.Seal(data)
}

// SendError sends a sealed error frame to the connection.
func (d *Dispatcher) SendError(connID, code, message string) {
	err := d.Send(connID, protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("dispatcher: failed to send error to %s: %v", connID, err)
	}
}

// SendPong answers a client keepalive ping.
func (d *Dispatcher) SendPong(connID string) {
	if err := d.Send(connID, protocol.TypePong, protocol.PongMsg{}); err != nil {
		log.Printf("dispatcher: failed to send pong to %s: %v", connID, err)
	}
}
