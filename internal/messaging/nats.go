// Package messaging connects modbot to the chat gateway over NATS. The
// gateway publishes inbound platform messages, posts the bot's replies and
// answers identity, message and delivery requests.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/whisper/modbot/internal/protocol"
)

// NATS subjects shared with the gateway.
const (
	SubjectInbound        = "modbot.inbound"
	SubjectOutbound       = "modbot.outbound" // + .<channel_id>
	SubjectDM             = "modbot.dm"
	SubjectResolveMember  = "modbot.resolve.member"
	SubjectResolveUser    = "modbot.resolve.user"
	SubjectResolveMessage = "modbot.resolve.message"
)

// NATSClient wraps the NATS connection with helper methods for pub/sub and
// request/reply.
type NATSClient struct {
	conn   *nats.Conn
	logger *zap.Logger
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "modbot",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, logger *zap.Logger) (*NATSClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("nats")

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: connect: %w", err)
	}

	logger.Info("connected", zap.String("url", nc.ConnectedUrl()))

	return &NATSClient{
		conn:   nc,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Request sends data to subject and waits for a single reply or ctx expiry.
func (c *NATSClient) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// SubscribeInbound decodes gateway messages and passes them to handler.
// Undecodable payloads are logged and dropped.
func (c *NATSClient) SubscribeInbound(handler func(protocol.Inbound)) error {
	return c.Subscribe(SubjectInbound, func(msg *nats.Msg) {
		var in protocol.Inbound
		if err := json.Unmarshal(msg.Data, &in); err != nil {
			c.logger.Warn("bad inbound payload", zap.Error(err))
			return
		}
		handler(in)
	})
}

// PublishOutbound posts replies to modbot.outbound.<channel_id> in order.
func (c *NATSClient) PublishOutbound(out []protocol.Outbound) error {
	for _, o := range out {
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("messaging: marshal outbound: %w", err)
		}
		if err := c.Publish(SubjectOutbound+"."+o.ChannelID, data); err != nil {
			return fmt.Errorf("messaging: publish outbound: %w", err)
		}
	}
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("drain subscription", zap.String("subject", subject), zap.Error(err))
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("drain connection", zap.Error(err))
	}

	c.logger.Info("client closed")
}
