package ws

import (
	"log"

	"github.com/flickpick/match-app/internal/protocol"
)

// MessageHandler handles one parsed client message. msg is the concrete
// struct ParseClientMessage produced for the type, e.g. protocol.VoteMsg.
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes frames to handlers by message type. Ping gets a
// built-in pong reply; parse failures and unregistered types are answered
// with a structured error so clients are never left hanging.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	server   *Server
}

// NewMessageDispatcher creates a dispatcher. The server may be nil at
// construction and set later with SetServer, since NewServer itself wants
// Dispatch as its callback.
func NewMessageDispatcher(server *Server) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		server:   server,
	}
}

func (d *MessageDispatcher) SetServer(server *Server) {
	d.server = server
}

// Register binds a handler to a message type, replacing any previous one.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the server's onMessage callback.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: parse error session=%s: %v", conn.ID, err)
		d.reply(conn, protocol.TypeError, protocol.ErrorMsg{
			Code:    "parse_error",
			Message: "invalid message format",
		})
		return
	}

	if msgType == protocol.TypePing {
		conn.Touch()
		d.reply(conn, protocol.TypePong, protocol.PongMsg{})
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("ws: unsupported type=%q session=%s", msgType, conn.ID)
		d.reply(conn, protocol.TypeError, protocol.ErrorMsg{
			Code:    "unsupported_type",
			Message: "unsupported message type",
		})
		return
	}

	handler(conn, msg)
}

func (d *MessageDispatcher) reply(conn *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("ws: build %s reply session=%s: %v", msgType, conn.ID, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: send %s reply session=%s: %v", msgType, conn.ID, err)
	}
}
