package ws

import (
	"go.uber.org/zap"

	"github.com/whisper/modbot/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client
// message. msg is the concrete struct returned by protocol.ParseClientMessage.
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming console frames to registered handlers by
// message type. Ping is answered internally; malformed or unsupported frames
// get a structured error.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	logger   *zap.Logger
}

// NewMessageDispatcher creates an empty MessageDispatcher.
func NewMessageDispatcher(logger *zap.Logger) *MessageDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		logger:   logger.Named("ws"),
	}
}

// Register associates a MessageHandler with a message type, replacing any
// previous one.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.logger.Debug("parse error", zap.String("conn", conn.ID), zap.Error(err))
		d.sendError(conn, "parse_error", "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.send(conn, protocol.TypePong, protocol.PongMsg{})
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		d.logger.Debug("unsupported message type", zap.String("type", msgType), zap.String("conn", conn.ID))
		d.sendError(conn, "unsupported_type", "unsupported message type")
		return
	}

	handler(conn, msg)
}

// SourceConsole labels inbound traffic from the console.
const SourceConsole = "console"

// ConsoleInbound converts console text into the inbound message the bot
// sees: a direct message from the connection's user.
func ConsoleInbound(conn *Connection, msg protocol.ConsoleMsg) protocol.Inbound {
	return protocol.Inbound{
		ChannelID:  conn.ChannelID(),
		DM:         true,
		AuthorID:   conn.UserID,
		AuthorName: conn.Name,
		Content:    msg.Text,
		Source:     SourceConsole,
	}
}

func (d *MessageDispatcher) sendError(conn *Connection, code string, message string) {
	d.send(conn, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

func (d *MessageDispatcher) send(conn *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		d.logger.Warn("build message", zap.String("type", msgType), zap.Error(err))
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.logger.Debug("write message", zap.String("conn", conn.ID), zap.Error(err))
	}
}
