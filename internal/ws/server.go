// Package ws serves the operator console: a WebSocket front door where each
// connection is a direct-message context with the bot. It upgrades HTTP
// connections, tracks live clients and routes replies and direct messages
// back to them.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whisper/modbot/internal/chat"
	"github.com/whisper/modbot/internal/metrics"
	"github.com/whisper/modbot/internal/protocol"
	"github.com/whisper/modbot/internal/ratelimit"
)

// ChannelPrefix marks channel ids that belong to console connections.
const ChannelPrefix = "ws:"

// MaxFrameBytes caps the payload of a single client frame: the largest
// allowed message text plus room for the JSON envelope.
const MaxFrameBytes = chat.MaxMessageBytes + 1024

// ServerConfig holds tunable parameters for the console server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	MaxConnections int           // hard cap on total connections
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		MaxConnections: 1000,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Limiter throttles connection attempts. ratelimit.Limiter implements it.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Server is the console WebSocket server built on gobwas/ws. Each upgraded
// connection is served by its own read goroutine.
type Server struct {
	config       ServerConfig
	conns        *ConnectionManager
	limiter      Limiter
	onMessage    func(conn *Connection, data []byte) // message handler callback
	onDisconnect func(conn *Connection)             // called when a connection is removed
	httpServer   *http.Server
	logger       *zap.Logger
	done         chan struct{}
	startedAt    time.Time
}

// NewServer creates a Server. onMessage is called from the connection's read
// goroutine for every complete text frame.
func NewServer(config ServerConfig, onMessage func(conn *Connection, data []byte), logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		config:    config,
		conns:     NewConnectionManager(),
		onMessage: onMessage,
		logger:    logger.Named("ws"),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
}

// SetLimiter enables per-address connection rate limiting.
func (s *Server) SetLimiter(l Limiter) {
	s.limiter = l
}

// SetOnDisconnect registers a callback invoked when a connection is removed.
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// Handler returns the HTTP routes served by the console.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start begins accepting console connections and blocks until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	StartHeartbeat(s, s.config.Heartbeat)

	s.logger.Info("console listening",
		zap.String("addr", s.config.ListenAddr),
		zap.Int("max_conns", s.config.MaxConnections))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade validates the request, upgrades it and starts the
// connection's read goroutine.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = userID
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), remoteHost(r.RemoteAddr), ratelimit.RuleConnect)
		if err != nil {
			s.logger.Warn("connect rate limit check failed", zap.Error(err))
		}
		if !allowed {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := &Connection{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		Conn:      conn,
		CreatedAt: time.Now(),
	}
	c.Touch()

	s.conns.Add(c)
	metrics.ConsoleConnections.Inc()

	if err := s.write(c, protocol.TypeSessionCreated, protocol.SessionCreatedMsg{
		SessionID: c.ID,
		ChannelID: c.ChannelID(),
	}); err != nil {
		s.logger.Info("send session_created failed", zap.String("conn", c.ID), zap.Error(err))
	}

	s.logger.Info("new connection",
		zap.String("conn", c.ID),
		zap.String("user", userID),
		zap.Int("total", s.conns.Count()))

	go s.readLoop(c)
}

// handleHealth responds with the connection count and uptime as JSON.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// readLoop reads frames until the connection fails or closes. Control frames
// are answered in place under the write mutex.
func (s *Server) readLoop(c *Connection) {
	defer s.RemoveConnection(c)

	for {
		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			return
		}
		c.Touch()

		if header.OpCode.IsControl() {
			c.writeMu.Lock()
			err := wsutil.ControlFrameHandler(c.Conn, ws.StateServerSide)(header, reader)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
			continue
		}

		if header.Length > MaxFrameBytes {
			s.logger.Warn("frame too large",
				zap.String("conn", c.ID),
				zap.Int64("length", header.Length),
			)
			s.closeWith(c, ws.StatusMessageTooBig, "frame too large")
			return
		}

		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				return
			}
		}
		if len(data) == 0 || header.OpCode != ws.OpText {
			continue
		}

		if s.onMessage != nil {
			s.onMessage(c, data)
		}
	}
}

// closeWith sends a close frame carrying status before the connection is
// torn down. Errors are ignored; the connection is closed either way.
func (s *Server) closeWith(c *Connection, status ws.StatusCode, reason string) {
	frame := ws.NewCloseFrame(ws.NewCloseFrameBody(status, reason))
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = ws.WriteFrame(c.Conn, frame)
}

// RemoveConnection unregisters and closes c. It is safe to call more than
// once.
func (s *Server) RemoveConnection(c *Connection) {
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConsoleConnections.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	s.logger.Info("connection closed", zap.String("conn", c.ID), zap.Int("total", s.conns.Count()))
}

// Deliver writes a bot reply to the console connection it is addressed to.
// It reports false when the channel is not a console channel.
func (s *Server) Deliver(out protocol.Outbound) (bool, error) {
	connID, ok := ConnIDFromChannel(out.ChannelID)
	if !ok {
		return false, nil
	}
	c := s.conns.Get(connID)
	if c == nil {
		return true, fmt.Errorf("ws: connection %s not found", connID)
	}
	return true, s.write(c, protocol.TypeReply, protocol.ReplyMsg{Text: out.Text})
}

// write encodes and sends one server frame within the write timeout.
func (s *Server) write(c *Connection, msgType string, payload interface{}) error {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		return err
	}

	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return c.WriteMessage(data)
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the HTTP listener and closes every connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down console")

	select {
	case <-s.done:
	default:
		close(s.done)
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown error", zap.Error(err))
		}
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}
	return nil
}

// ConnIDFromChannel extracts the connection id from a console channel id.
func ConnIDFromChannel(channelID string) (string, bool) {
	if !strings.HasPrefix(channelID, ChannelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(channelID, ChannelPrefix), true
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
