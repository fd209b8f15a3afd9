// Package platform defines the narrow contracts the dialogue engine uses to
// reach the chat platform: identity lookup, message lookup and direct-message
// delivery. The real implementations live behind the gateway (see package
// messaging); MemoryDirectory is an in-process stand-in.
package platform

import (
	"context"
	"errors"
	"fmt"
)

// Resolution errors. Callers compare with errors.Is; any other error is a
// transport failure.
var (
	// ErrNotMember means no reachable guild has a member with that name.
	ErrNotMember = errors.New("platform: not a member of any reachable guild")

	// ErrUserNotFound means the profile was deleted or never existed.
	ErrUserNotFound = errors.New("platform: user not found")

	// ErrGuildUnreachable means the bot is not in the guild.
	ErrGuildUnreachable = errors.New("platform: guild unreachable")

	// ErrChannelMissing means the channel was deleted or never existed.
	ErrChannelMissing = errors.New("platform: channel missing")

	// ErrMessageMissing means the message was deleted or never existed.
	ErrMessageMissing = errors.New("platform: message missing")

	// ErrDeliveryFailed means a direct message could not be delivered.
	ErrDeliveryFailed = errors.New("platform: delivery failed")
)

// User is a resolved platform profile.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is a resolved guild message.
type Message struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	ID        string `json:"id"`
	Author    User   `json:"author"`
	Content   string `json:"content"`
}

// IdentityResolver looks up members and profiles.
type IdentityResolver interface {
	// ResolveMemberByName returns the id of the member whose username is
	// exactly name, or ErrNotMember.
	ResolveMemberByName(ctx context.Context, name string) (string, error)

	// FetchUser returns the profile for id, or ErrUserNotFound.
	FetchUser(ctx context.Context, id string) (User, error)
}

// MessageResolver looks up a message by its link components. Lookups are
// ordered guild, channel, message and fail with the first missing piece.
type MessageResolver interface {
	ResolveMessage(ctx context.Context, guildID, channelID, messageID string) (Message, error)
}

// DMSender delivers a direct message to a user.
type DMSender interface {
	SendDM(ctx context.Context, userID, text string) error
}

// LookupUser resolves a username to a full profile in the two steps every
// dialogue needs: member search, then profile fetch.
func LookupUser(ctx context.Context, r IdentityResolver, name string) (User, error) {
	id, err := r.ResolveMemberByName(ctx, name)
	if err != nil {
		return User{}, err
	}
	return r.FetchUser(ctx, id)
}

// MessageLink builds the link a reporter would paste for a guild message.
func MessageLink(guildID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}
