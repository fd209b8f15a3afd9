package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/modbot/internal/metrics"
	"github.com/whisper/modbot/internal/platform"
	"github.com/whisper/modbot/internal/protocol"
)

// DefaultRequestTimeout bounds a single gateway round trip.
const DefaultRequestTimeout = 3 * time.Second

// Requester performs one request/reply exchange. NATSClient implements it.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// Gateway implements the platform contracts by asking the chat gateway over
// request/reply subjects.
type Gateway struct {
	rq      Requester
	timeout time.Duration
	logger  *zap.Logger
}

var (
	_ platform.IdentityResolver = (*Gateway)(nil)
	_ platform.MessageResolver  = (*Gateway)(nil)
	_ platform.DMSender         = (*Gateway)(nil)
)

// NewGateway returns a Gateway. A zero timeout uses DefaultRequestTimeout.
func NewGateway(rq Requester, timeout time.Duration, logger *zap.Logger) *Gateway {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{rq: rq, timeout: timeout, logger: logger.Named("gateway")}
}

// ResolveMemberByName implements platform.IdentityResolver.
func (g *Gateway) ResolveMemberByName(ctx context.Context, name string) (string, error) {
	resp, err := g.resolve(ctx, SubjectResolveMember, protocol.ResolveRequest{Name: name})
	if err != nil {
		return "", err
	}
	return resp.UserID, nil
}

// FetchUser implements platform.IdentityResolver.
func (g *Gateway) FetchUser(ctx context.Context, id string) (platform.User, error) {
	resp, err := g.resolve(ctx, SubjectResolveUser, protocol.ResolveRequest{UserID: id})
	if err != nil {
		return platform.User{}, err
	}
	if resp.User == nil {
		return platform.User{}, fmt.Errorf("messaging: fetch user %s: empty response", id)
	}
	return *resp.User, nil
}

// ResolveMessage implements platform.MessageResolver.
func (g *Gateway) ResolveMessage(ctx context.Context, guildID, channelID, messageID string) (platform.Message, error) {
	resp, err := g.resolve(ctx, SubjectResolveMessage, protocol.ResolveRequest{
		GuildID:   guildID,
		ChannelID: channelID,
		MessageID: messageID,
	})
	if err != nil {
		return platform.Message{}, err
	}
	if resp.Message == nil {
		return platform.Message{}, fmt.Errorf("messaging: resolve message %s: empty response", messageID)
	}
	return *resp.Message, nil
}

// SendDM implements platform.DMSender.
func (g *Gateway) SendDM(ctx context.Context, userID, text string) error {
	var res protocol.DeliveryResult
	if err := g.call(ctx, SubjectDM, protocol.DirectMessage{UserID: userID, Text: text}, &res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("messaging: dm %s: %w: %s", userID, platform.ErrDeliveryFailed, res.Error)
	}
	return nil
}

func (g *Gateway) resolve(ctx context.Context, subject string, req protocol.ResolveRequest) (*protocol.ResolveResponse, error) {
	var resp protocol.ResolveResponse
	if err := g.call(ctx, subject, req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// call marshals req, performs the round trip within the gateway timeout and
// decodes the reply into out.
func (g *Gateway) call(ctx context.Context, subject string, req, out interface{}) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("messaging: marshal %s: %w", subject, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	reply, err := g.rq.Request(ctx, subject, data)
	if err != nil {
		metrics.GatewayRequests.WithLabelValues(subject, "error").Inc()
		g.logger.Warn("request failed", zap.String("subject", subject), zap.Error(err))
		return fmt.Errorf("messaging: request %s: %w", subject, err)
	}
	metrics.GatewayRequests.WithLabelValues(subject, "ok").Inc()

	if err := json.Unmarshal(reply, out); err != nil {
		return fmt.Errorf("messaging: decode %s: %w", subject, err)
	}
	return nil
}
