// Package chat keeps the short per-channel history attached to automatic
// reports and validates inbound message content.
package chat

import (
	"strings"
	"sync"
)

// MaxBufferMessages is the number of recent messages retained per channel.
const MaxBufferMessages = 5

// BufferedMessage is a single message stored in the ring buffer.
type BufferedMessage struct {
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	Text       string `json:"text"`
	Ts         int64  `json:"ts"`
}

// MessageBuffer stores the last N messages per channel in memory.
// It is goroutine-safe and uses a ring buffer internally.
type MessageBuffer struct {
	mu      sync.RWMutex
	buffers map[string]*ringBuffer // channel -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of BufferedMessage.
type ringBuffer struct {
	items []BufferedMessage
	pos   int
	count int
}

// NewMessageBuffer creates a new empty MessageBuffer.
func NewMessageBuffer() *MessageBuffer {
	return &MessageBuffer{
		buffers: make(map[string]*ringBuffer),
	}
}

// Add appends a message to the channel's ring buffer, overwriting the oldest
// message when full.
func (mb *MessageBuffer) Add(channel string, msg BufferedMessage) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	rb, ok := mb.buffers[channel]
	if !ok {
		rb = &ringBuffer{
			items: make([]BufferedMessage, MaxBufferMessages),
		}
		mb.buffers[channel] = rb
	}

	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % MaxBufferMessages
	if rb.count < MaxBufferMessages {
		rb.count++
	}
}

// Get returns the buffered messages for a channel, oldest first. It returns
// an empty slice if the channel has no buffer.
func (mb *MessageBuffer) Get(channel string) []BufferedMessage {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	rb, ok := mb.buffers[channel]
	if !ok {
		return []BufferedMessage{}
	}

	result := make([]BufferedMessage, rb.count)
	// The oldest message is at position (pos - count) mod MaxBufferMessages.
	start := (rb.pos - rb.count + MaxBufferMessages) % MaxBufferMessages
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%MaxBufferMessages]
	}
	return result
}

// Format renders messages one "name: text" line each, for a code block in
// the moderators' channel.
func Format(msgs []BufferedMessage) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.AuthorName)
		b.WriteString(": ")
		b.WriteString(m.Text)
	}
	return b.String()
}
