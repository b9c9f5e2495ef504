package ws

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/sayra/lingomatch/internal/protocol"
)

// MessageHandler handles one parsed client message. msg is the concrete
// struct returned by protocol.ParseClientMessage.
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming frames to registered handlers by message
// type. Ping is answered internally; parse failures and unknown types get a
// structured error reply.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	server   *Server
	log      zerolog.Logger
}

// NewMessageDispatcher creates an empty dispatcher.
func NewMessageDispatcher(logger zerolog.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		log:      logger.With().Str("component", "dispatch").Logger(),
	}
}

// SetServer binds the dispatcher to its server. The dispatcher is created
// before the server because NewServer takes Dispatch as its callback.
func (d *MessageDispatcher) SetServer(server *Server) {
	d.server = server
}

// Register associates a handler with a message type, replacing any previous
// registration.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch parses raw bytes and routes the typed message.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.log.Debug().Err(err).Str("conn", conn.ID).Msg("parse error")
		d.sendError(conn, "parse_error", "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.log.Debug().Str("type", msgType).Str("conn", conn.ID).Msg("unsupported type")
		d.sendError(conn, "unsupported_type", "unsupported message type")
		return
	}

	handler(conn, msg)
}

func (d *MessageDispatcher) sendError(conn *Connection, code, message string) {
	d.server.Send(conn.ID, protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
}

func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.LastPing = time.Now()
	d.server.Send(conn.ID, protocol.TypePong, protocol.PongMsg{})
}
