package platform

import (
	"context"
	"fmt"
	"sync"
)

// MemoryDirectory is a goroutine-safe, in-process implementation of every
// platform contract. Guilds, channels, members and messages are registered
// up front; direct messages are recorded instead of delivered.
type MemoryDirectory struct {
	mu       sync.RWMutex
	users    map[string]User            // id -> profile
	members  map[string]string          // username -> id
	guilds   map[string]map[string]bool // guild -> channel set
	messages map[string]Message         // guild/channel/id -> message
	failDM   map[string]bool            // user ids whose DMs fail
	sent     []SentDM
}

// SentDM is a direct message recorded by MemoryDirectory.
type SentDM struct {
	UserID string
	Text   string
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:    make(map[string]User),
		members:  make(map[string]string),
		guilds:   make(map[string]map[string]bool),
		messages: make(map[string]Message),
		failDM:   make(map[string]bool),
	}
}

// AddMember registers a user that is a member of a reachable guild.
func (d *MemoryDirectory) AddMember(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
	d.members[u.Name] = u.ID
}

// AddDeletedMember registers a member name whose profile no longer exists.
func (d *MemoryDirectory) AddDeletedMember(name, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[name] = id
	delete(d.users, id)
}

// AddChannel registers a guild channel the bot can see.
func (d *MemoryDirectory) AddChannel(guildID, channelID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.guilds[guildID] == nil {
		d.guilds[guildID] = make(map[string]bool)
	}
	d.guilds[guildID][channelID] = true
}

// AddMessage registers a message, creating its guild and channel.
func (d *MemoryDirectory) AddMessage(m Message) {
	d.AddChannel(m.GuildID, m.ChannelID)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages[messageKey(m.GuildID, m.ChannelID, m.ID)] = m
}

// FailDMsTo makes every direct message to userID fail.
func (d *MemoryDirectory) FailDMsTo(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failDM[userID] = true
}

// Sent returns the direct messages attempted so far, including failed ones.
func (d *MemoryDirectory) Sent() []SentDM {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]SentDM, len(d.sent))
	copy(out, d.sent)
	return out
}

// ResolveMemberByName implements IdentityResolver.
func (d *MemoryDirectory) ResolveMemberByName(_ context.Context, name string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.members[name]
	if !ok {
		return "", ErrNotMember
	}
	return id, nil
}

// FetchUser implements IdentityResolver.
func (d *MemoryDirectory) FetchUser(_ context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

// ResolveMessage implements MessageResolver.
func (d *MemoryDirectory) ResolveMessage(_ context.Context, guildID, channelID, messageID string) (Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	channels, ok := d.guilds[guildID]
	if !ok {
		return Message{}, ErrGuildUnreachable
	}
	if !channels[channelID] {
		return Message{}, ErrChannelMissing
	}
	m, ok := d.messages[messageKey(guildID, channelID, messageID)]
	if !ok {
		return Message{}, ErrMessageMissing
	}
	return m, nil
}

// SendDM implements DMSender. The attempt is recorded even when it fails.
func (d *MemoryDirectory) SendDM(_ context.Context, userID, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, SentDM{UserID: userID, Text: text})
	if d.failDM[userID] {
		return fmt.Errorf("send dm to %s: %w", userID, ErrDeliveryFailed)
	}
	return nil
}

func messageKey(guildID, channelID, messageID string) string {
	return guildID + "/" + channelID + "/" + messageID
}
