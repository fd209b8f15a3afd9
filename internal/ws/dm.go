package ws

import (
	"context"
	"fmt"

	"github.com/whisper/modbot/internal/platform"
	"github.com/whisper/modbot/internal/protocol"
)

// DMRouter delivers direct messages on the recipient's console connection
// when they have one and through the fallback sender otherwise.
type DMRouter struct {
	server   *Server
	fallback platform.DMSender
}

var _ platform.DMSender = (*DMRouter)(nil)

// NewDMRouter returns a router. fallback may be nil.
func NewDMRouter(server *Server, fallback platform.DMSender) *DMRouter {
	return &DMRouter{server: server, fallback: fallback}
}

// SendDM implements platform.DMSender.
func (r *DMRouter) SendDM(ctx context.Context, userID, text string) error {
	if c := r.server.conns.GetByUser(userID); c != nil {
		if err := r.server.write(c, protocol.TypeDM, protocol.ReplyMsg{Text: text}); err != nil {
			return fmt.Errorf("ws: dm %s: %w: %v", userID, platform.ErrDeliveryFailed, err)
		}
		return nil
	}
	if r.fallback == nil {
		return fmt.Errorf("ws: dm %s: %w: no console connection", userID, platform.ErrDeliveryFailed)
	}
	return r.fallback.SendDM(ctx, userID, text)
}
