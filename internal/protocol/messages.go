// Package protocol defines the JSON messages exchanged with the chat gateway
// over NATS and with console clients over WebSocket. Console frames follow an
// envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/whisper/modbot/internal/platform"
)

// ---------------------------------------------------------------------------
// Gateway messages (NATS)
// ---------------------------------------------------------------------------

// Inbound is a message the gateway saw on the platform.
type Inbound struct {
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name,omitempty"` // empty for direct messages
	GuildID     string `json:"guild_id,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
	DM          bool   `json:"dm"`
	AuthorID    string `json:"author_id"`
	AuthorName  string `json:"author_name"`
	Content     string `json:"content"`
	Ts          int64  `json:"ts"`

	// Source is "console" for WebSocket console traffic and empty for the
	// gateway.
	Source string `json:"-"`
}

// Outbound is one reply the gateway should post to a channel.
type Outbound struct {
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

// DirectMessage asks the gateway to message a user privately.
type DirectMessage struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// DeliveryResult is the gateway's answer to a DirectMessage.
type DeliveryResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Resolution statuses.
const (
	StatusOK               = "ok"
	StatusNotMember        = "not_member"
	StatusNotFound         = "not_found"
	StatusGuildUnreachable = "guild_unreachable"
	StatusChannelMissing   = "channel_missing"
	StatusMessageMissing   = "message_missing"
	StatusError            = "error"
)

// ResolveRequest asks the gateway to look something up. Which fields are set
// depends on the subject.
type ResolveRequest struct {
	Name      string `json:"name,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// ResolveResponse is the gateway's answer to a ResolveRequest.
type ResolveResponse struct {
	Status  string            `json:"status"`
	UserID  string            `json:"user_id,omitempty"`
	User    *platform.User    `json:"user,omitempty"`
	Message *platform.Message `json:"message,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Err maps a non-ok status to the matching platform error.
func (r *ResolveResponse) Err() error {
	switch r.Status {
	case StatusOK:
		return nil
	case StatusNotMember:
		return platform.ErrNotMember
	case StatusNotFound:
		return platform.ErrUserNotFound
	case StatusGuildUnreachable:
		return platform.ErrGuildUnreachable
	case StatusChannelMissing:
		return platform.ErrChannelMissing
	case StatusMessageMissing:
		return platform.ErrMessageMissing
	default:
		if r.Error != "" {
			return fmt.Errorf("protocol: gateway error: %s", r.Error)
		}
		return fmt.Errorf("protocol: unexpected status %q", r.Status)
	}
}

// ---------------------------------------------------------------------------
// Console message types (WebSocket)
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeMessage = "message"
	TypePing    = "ping"
)

// Server -> Client message types.
const (
	TypeSessionCreated = "session_created"
	TypeReply          = "reply"
	TypeDM             = "dm"
	TypeRateLimited    = "rate_limited"
	TypeBanned         = "banned"
	TypeError          = "error"
	TypePong           = "pong"
)

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ConsoleMsg is text typed by a console user; it is handled as a direct
// message to the bot.
type ConsoleMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// SessionCreatedMsg is sent when a console connection is established.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	ChannelID string `json:"channel_id"`
}

// ReplyMsg carries one bot reply.
type ReplyMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// RateLimitedMsg is sent when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// BannedMsg is sent when a banned user tries to talk to the bot.
type BannedMsg struct {
	Type     string `json:"type"`
	Duration int    `json:"duration"` // seconds, 0 for permanent
	Reason   string `json:"reason"`
}

// ErrorMsg communicates an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ParseClientMessage parses raw WebSocket bytes into a typed console message.
// An error is returned for unknown or server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeMessage:
		var m ConsoleMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage JSON-encodes payload with msgType injected under the
// "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
