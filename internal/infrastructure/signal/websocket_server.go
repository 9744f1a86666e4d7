package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/core/services"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServerConfig holds the WebSocket signaling behavior.
type ServerConfig struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration

	// Per-connection message rate limit; zero disables limiting.
	MessagesPerSecond float64
	MessageBurst      int

	// Negotiation defaults applied to peers that do not announce their own.
	TrickleICE      bool
	AllowICERestart bool
}

// SignalMessage is the envelope for every frame on the signaling socket.
type SignalMessage struct {
	Type    string          `json:"type"`
	PeerID  domain.PeerID   `json:"peer_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type HelloPayload struct {
	Agent       string `json:"agent,omitempty"`
	Weight      uint64 `json:"weight"`
	Relay       bool   `json:"relay,omitempty"`
	LegacyAgent bool   `json:"legacy_agent,omitempty"`
	Trickle     *bool  `json:"trickle,omitempty"`
}

type DescriptionPayload struct {
	SDP        string `json:"sdp"`
	Weight     uint64 `json:"weight,omitempty"`
	ICERestart bool   `json:"ice_restart,omitempty"`
}

type CandidatePayload struct {
	Candidate string `json:"candidate"`
}

// peerConn serializes writes to one WebSocket connection.
type peerConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *peerConn) writeJSON(timeout time.Duration, v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(v)
}

// WebSocketServer terminates the signaling channel. It admits peers, feeds
// incoming descriptions and candidates into the negotiation services, and
// implements the signaler port for the outbound direction.
type WebSocketServer struct {
	config      ServerConfig
	sessions    *services.SessionService
	negotiation *services.NegotiationService
	transports  TransportBuilder

	connections map[domain.PeerID]*peerConn
	mu          sync.RWMutex

	logger *zap.SugaredLogger
}

// TransportBuilder creates the per-peer transport at admission.
type TransportBuilder func(peerID domain.PeerID) (ports.Transport, error)

func NewWebSocketServer(
	config ServerConfig,
	sessions *services.SessionService,
	transports TransportBuilder,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	return &WebSocketServer{
		config:      config,
		sessions:    sessions,
		transports:  transports,
		connections: make(map[domain.PeerID]*peerConn),
		logger:      logger,
	}
}

// Bind attaches the negotiation service. The server is constructed first
// because negotiation needs it as its signaler.
func (s *WebSocketServer) Bind(negotiation *services.NegotiationService) {
	s.negotiation = negotiation
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	peerID := domain.PeerID(r.URL.Query().Get("peer_id"))
	if peerID == "" {
		s.logger.Warn("missing peer_id in query parameters")
		return
	}

	pc := &peerConn{conn: conn}
	s.mu.Lock()
	if existing, reconnect := s.connections[peerID]; reconnect && existing != nil {
		existing.conn.Close()
		s.logger.Infow("closing old connection for reconnecting peer", "peer_id", peerID)
	}
	s.connections[peerID] = pc
	s.mu.Unlock()

	s.logger.Infow("peer connected via WebSocket", "peer_id", peerID)

	var limiter *rate.Limiter
	if s.config.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.config.MessagesPerSecond), s.config.MessageBurst)
	}

	conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.config.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan SignalMessage, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg SignalMessage
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if limiter != nil && !limiter.Allow() {
				s.logger.Warnw("message rate limit exceeded, dropping", "peer_id", peerID, "type", msg.Type)
				continue
			}
			if err := s.handleMessage(context.Background(), peerID, msg); err != nil {
				s.logger.Infow("error handling message from peer", "peer_id", peerID, "type", msg.Type, "error", err)
				s.sendError(pc, err.Error())
			}

		case <-pingTicker.C:
			pc.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			pc.mu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "peer_id", peerID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading message from peer", "peer_id", peerID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.mu.Lock()
	delete(s.connections, peerID)
	s.mu.Unlock()

	if err := s.sessions.RemovePeer(context.Background(), peerID); err != nil && err != domain.ErrPeerNotFound {
		s.logger.Infow("error removing peer on disconnect", "peer_id", peerID, "error", err)
	}
	s.logger.Infow("peer disconnected", "peer_id", peerID)
}

func (s *WebSocketServer) handleMessage(ctx context.Context, peerID domain.PeerID, msg SignalMessage) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}
	if msg.PeerID != "" && msg.PeerID != peerID {
		return fmt.Errorf("peer_id mismatch: expected %s, got %s", peerID, msg.PeerID)
	}

	switch msg.Type {
	case "hello":
		return s.handleHello(ctx, peerID, msg)
	case "offer":
		return s.handleDescription(ctx, peerID, domain.DescriptionOffer, msg)
	case "answer":
		return s.handleDescription(ctx, peerID, domain.DescriptionAnswer, msg)
	case "candidate":
		return s.handleCandidate(ctx, peerID, msg)
	case "renegotiate":
		go s.negotiation.OfferIfNeeded(ctx, peerID)
		return nil
	case "bye":
		return s.sessions.RemovePeer(ctx, peerID)
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (s *WebSocketServer) handleHello(ctx context.Context, peerID domain.PeerID, msg SignalMessage) error {
	var payload HelloPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("invalid hello payload: %w", err)
		}
	}

	transport, err := s.transports(peerID)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	trickle := s.config.TrickleICE
	if payload.Trickle != nil {
		trickle = *payload.Trickle
	}

	if _, err := s.sessions.AdmitPeer(ctx, peerID, transport, services.AdmitOptions{
		Weight:          payload.Weight,
		Agent:           payload.Agent,
		Relay:           payload.Relay,
		LegacyAgent:     payload.LegacyAgent,
		TrickleICE:      trickle,
		AllowICERestart: s.config.AllowICERestart,
	}); err != nil {
		transport.Close()
		return err
	}

	if trickle {
		transport.OnLocalCandidate(func(candidate string) {
			if err := s.SendCandidate(peerID, candidate); err != nil {
				s.logger.Debugw("failed to send candidate", "peer_id", peerID, "error", err)
			}
		})
	}

	// The orchestrator initiates the first negotiation round.
	go s.negotiation.CreateOffer(ctx, peerID, false)
	return nil
}

func (s *WebSocketServer) handleDescription(ctx context.Context, peerID domain.PeerID, descType domain.DescriptionType, msg SignalMessage) error {
	var payload DescriptionPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid description payload: %w", err)
	}
	if err := validateSDP(payload.SDP); err != nil {
		return err
	}

	desc := domain.SessionDescription{Type: descType, SDP: payload.SDP}
	meta := domain.DescriptionMeta{Weight: payload.Weight, ICERestart: payload.ICERestart}
	if err := s.negotiation.ApplyRemoteDescription(ctx, peerID, desc, meta); err != nil {
		return err
	}
	if descType == domain.DescriptionOffer {
		go s.negotiation.CreateAnswer(ctx, peerID)
	}
	return nil
}

func (s *WebSocketServer) handleCandidate(ctx context.Context, peerID domain.PeerID, msg SignalMessage) error {
	var payload CandidatePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid candidate payload: %w", err)
	}
	if payload.Candidate == "" {
		return fmt.Errorf("candidate is required")
	}
	return s.sessions.AddRemoteCandidate(ctx, peerID, payload.Candidate)
}

// SendDescription delivers a local description to the remote endpoint.
func (s *WebSocketServer) SendDescription(peerID domain.PeerID, desc domain.SessionDescription, meta domain.DescriptionMeta) error {
	return s.sendToPeer(peerID, map[string]interface{}{
		"type": string(desc.Type),
		"payload": map[string]interface{}{
			"sdp":         desc.SDP,
			"weight":      meta.Weight,
			"ice_restart": meta.ICERestart,
		},
	})
}

// SendCandidate delivers a locally gathered candidate to the remote endpoint.
func (s *WebSocketServer) SendCandidate(peerID domain.PeerID, candidate string) error {
	return s.sendToPeer(peerID, map[string]interface{}{
		"type": "candidate",
		"payload": map[string]interface{}{
			"candidate": candidate,
		},
	})
}

func (s *WebSocketServer) sendToPeer(peerID domain.PeerID, v interface{}) error {
	s.mu.RLock()
	pc, ok := s.connections[peerID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("peer %s is not connected", peerID)
	}
	return pc.writeJSON(s.config.WriteTimeout, v)
}

func (s *WebSocketServer) sendError(pc *peerConn, message string) {
	_ = pc.writeJSON(s.config.WriteTimeout, map[string]interface{}{
		"type": "error",
		"payload": map[string]interface{}{
			"message": message,
		},
	})
}

// IsPeerConnected reports whether a signaling connection exists for the peer.
func (s *WebSocketServer) IsPeerConnected(peerID domain.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.connections[peerID]
	return ok
}

func validateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("SDP cannot be empty")
	}
	if len(sdp) < 2 || sdp[:2] != "v=" {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}
	return nil
}
