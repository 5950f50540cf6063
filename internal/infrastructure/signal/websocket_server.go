package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"camlink/internal/core/domain"
	"camlink/internal/core/ports"
	"camlink/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// SignalMetrics is the slice of the metrics collector the relay needs.
type SignalMetrics interface {
	EndpointConnected()
	EndpointDisconnected()
	MessageRelayed(messageType string)
	NegotiationFinished(outcome string, took time.Duration)
	ReconnectAttempt(outcome string)
}

type ServerConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// endpointConn wraps a websocket connection with a write lock. gorilla
// connections allow one concurrent writer only.
type endpointConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *endpointConn) writeJSON(v interface{}, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(v)
}

func (c *endpointConn) ping(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// WebSocketServer is the signaling relay. It owns the endpoint connection
// table, executes registry operations on behalf of clients, and forwards
// negotiation messages strictly to their addressed target.
type WebSocketServer struct {
	registry ports.RegistryService
	metrics  SignalMetrics
	cfg      ServerConfig

	connections map[domain.EndpointID]*endpointConn
	// pendingOffers tracks relayed offers so the answer relay can measure
	// offer-to-answer latency. joins remembers which viewers already joined
	// a session, so a repeat join reads as a reconnect.
	pendingOffers map[string]time.Time
	joins         map[string]struct{}
	mu            sync.RWMutex

	logger *zap.SugaredLogger
}

func NewWebSocketServer(registry ports.RegistryService, metrics SignalMetrics, cfg ServerConfig, logger *zap.SugaredLogger) *WebSocketServer {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &WebSocketServer{
		registry:      registry,
		metrics:       metrics,
		cfg:           cfg,
		connections:   make(map[domain.EndpointID]*endpointConn),
		pendingOffers: make(map[string]time.Time),
		joins:         make(map[string]struct{}),
		logger:        logger,
	}
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	endpointID := domain.EndpointID(r.URL.Query().Get("endpoint_id"))
	if err := validation.ValidateEndpointID(string(endpointID)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}

	ec := &endpointConn{conn: conn}

	s.mu.Lock()
	old, isReconnect := s.connections[endpointID]
	if isReconnect && old != nil {
		old.conn.Close()
		s.logger.Infow("closing old connection for reconnecting endpoint", "endpoint_id", endpointID)
	}
	s.connections[endpointID] = ec
	s.mu.Unlock()

	if !isReconnect {
		s.metrics.EndpointConnected()
	}
	s.logger.Infow("endpoint connected", "endpoint_id", endpointID, "reconnect", isReconnect)

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan Message, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			messageChan <- msg
		}
	}()

	for {
		select {
		case msg := <-messageChan:
			if err := s.handleMessage(r.Context(), endpointID, msg); err != nil {
				s.logger.Infow("error handling message", "endpoint_id", endpointID, "type", msg.Type, "error", err)
				s.sendError(ec, err.Error())
			}

		case <-pingTicker.C:
			if err := ec.ping(s.cfg.WriteTimeout); err != nil {
				s.logger.Infow("error sending ping", "endpoint_id", endpointID, "error", err)
				s.cleanup(endpointID, ec)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message", "endpoint_id", endpointID, "error", err)
			}
			s.cleanup(endpointID, ec)
			return
		}
	}
}

// cleanup removes the connection and releases everything the endpoint held
// in the registry. A reconnecting endpoint replaces its entry before the old
// read loop exits, so only the current owner of the slot tears down.
func (s *WebSocketServer) cleanup(endpointID domain.EndpointID, ec *endpointConn) {
	s.mu.Lock()
	current, exists := s.connections[endpointID]
	replaced := exists && current != ec
	if !replaced {
		delete(s.connections, endpointID)
		for key := range s.joins {
			if strings.HasSuffix(key, ":"+string(endpointID)) {
				delete(s.joins, key)
			}
		}
		for key := range s.pendingOffers {
			if strings.HasPrefix(key, string(endpointID)+">") || strings.HasSuffix(key, ">"+string(endpointID)) {
				delete(s.pendingOffers, key)
			}
		}
	}
	s.mu.Unlock()

	if replaced {
		return
	}

	s.metrics.EndpointDisconnected()

	if err := s.registry.EndpointLost(context.Background(), endpointID); err != nil {
		s.logger.Warnw("failed to release endpoint state", "endpoint_id", endpointID, "error", err)
	}

	s.logger.Infow("endpoint disconnected", "endpoint_id", endpointID)
}

func (s *WebSocketServer) handleMessage(ctx context.Context, from domain.EndpointID, msg Message) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}

	if msg.Type.relayable() {
		return s.relay(from, msg)
	}

	switch msg.Type {
	case TypeStartStream:
		return s.handleStartStream(ctx, from, msg)
	case TypeEndStream:
		return s.registry.EndBroadcast(ctx, from)
	case TypeJoinCamera:
		return s.handleJoinCamera(ctx, from, msg)
	case TypeLeaveCamera:
		return s.handleLeaveCamera(ctx, from, msg)
	case TypeHeartbeat:
		return s.handleHeartbeat(ctx, from)
	case TypeListCameras:
		return s.handleListCameras(ctx, from)
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

// relay forwards a negotiation message to exactly the addressed endpoint.
// Negotiation traffic is never broadcast: a stray ICE candidate delivered to
// the wrong peer corrupts its connection state.
func (s *WebSocketServer) relay(from domain.EndpointID, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("%s requires a target endpoint", msg.Type)
	}

	s.mu.RLock()
	target, exists := s.connections[msg.To]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("target endpoint %s is not connected", msg.To)
	}

	msg.From = from
	s.metrics.MessageRelayed(string(msg.Type))
	s.observeNegotiation(from, msg)

	s.logger.Debugw("relaying message", "type", msg.Type, "from", from, "to", msg.To)
	return target.writeJSON(msg, s.cfg.WriteTimeout)
}

// observeNegotiation measures offer-to-answer latency as seen by the relay.
func (s *WebSocketServer) observeNegotiation(from domain.EndpointID, msg Message) {
	switch msg.Type {
	case TypeOffer:
		s.mu.Lock()
		s.pendingOffers[string(from)+">"+string(msg.To)] = time.Now()
		s.mu.Unlock()
	case TypeAnswer:
		key := string(msg.To) + ">" + string(from)
		s.mu.Lock()
		started, ok := s.pendingOffers[key]
		if ok {
			delete(s.pendingOffers, key)
		}
		s.mu.Unlock()
		if ok {
			s.metrics.NegotiationFinished("answered", time.Since(started))
		}
	}
}

func (s *WebSocketServer) handleStartStream(ctx context.Context, from domain.EndpointID, msg Message) error {
	var payload StartStreamPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("invalid start_stream payload: %w", err)
		}
	}
	if err := validation.ValidateDisplayName(payload.Name); err != nil {
		return err
	}

	session, err := s.registry.StartBroadcast(ctx, from, payload.Name, payload.ScreenShare)
	if err != nil {
		return err
	}

	reply, err := NewMessage(TypeStreamStarted, from, StreamStartedPayload{
		SessionID: session.ID,
		Name:      session.Name,
	})
	if err != nil {
		return err
	}
	return s.sendTo(from, reply)
}

func (s *WebSocketServer) handleJoinCamera(ctx context.Context, from domain.EndpointID, msg Message) error {
	var payload JoinCameraPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid join_camera payload: %w", err)
	}
	if err := validation.ValidateSessionID(string(payload.SessionID)); err != nil {
		return err
	}

	session, err := s.registry.JoinBroadcast(ctx, payload.SessionID, from)
	if err != nil {
		return err
	}

	joinKey := string(payload.SessionID) + ":" + string(from)
	s.mu.Lock()
	_, rejoined := s.joins[joinKey]
	s.joins[joinKey] = struct{}{}
	s.mu.Unlock()
	if rejoined {
		s.metrics.ReconnectAttempt("rejoin")
	}

	// The broadcaster initiates negotiation, so it has to learn about the
	// viewer before anything else happens.
	notify, err := NewMessage(TypeNewViewer, session.Owner, NewViewerPayload{
		SessionID: session.ID,
		ViewerID:  from,
	})
	if err != nil {
		return err
	}
	notify.From = from

	if err := s.sendTo(session.Owner, notify); err != nil {
		// Undo the join so the viewer count stays accurate.
		s.registry.LeaveBroadcast(ctx, session.ID, from)
		return fmt.Errorf("broadcaster is not reachable: %w", err)
	}
	return nil
}

func (s *WebSocketServer) handleLeaveCamera(ctx context.Context, from domain.EndpointID, msg Message) error {
	var payload LeaveCameraPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("invalid leave_camera payload: %w", err)
	}

	s.mu.Lock()
	delete(s.joins, string(payload.SessionID)+":"+string(from))
	s.mu.Unlock()

	return s.registry.LeaveBroadcast(ctx, payload.SessionID, from)
}

func (s *WebSocketServer) handleHeartbeat(ctx context.Context, from domain.EndpointID) error {
	if err := s.registry.Heartbeat(ctx, from); err != nil {
		return err
	}
	ack, err := NewMessage(TypeHeartbeatAck, from, nil)
	if err != nil {
		return err
	}
	return s.sendTo(from, ack)
}

func (s *WebSocketServer) handleListCameras(ctx context.Context, from domain.EndpointID) error {
	summaries, err := s.registry.ListSessions(ctx)
	if err != nil {
		return err
	}
	reply, err := NewMessage(TypeCameraListUpdated, from, CameraListPayload{Cameras: summaries})
	if err != nil {
		return err
	}
	return s.sendTo(from, reply)
}

// DirectoryChanged implements ports.EndpointNotifier.
func (s *WebSocketServer) DirectoryChanged(ctx context.Context, sessions []domain.Summary) {
	msg, err := NewMessage(TypeCameraListUpdated, "", CameraListPayload{Cameras: sessions})
	if err != nil {
		s.logger.Errorw("failed to build directory update", "error", err)
		return
	}
	s.broadcast(msg)
}

// SessionEnded implements ports.EndpointNotifier.
func (s *WebSocketServer) SessionEnded(ctx context.Context, id domain.SessionID) {
	msg, err := NewMessage(TypeStreamEnded, "", StreamEndedPayload{SessionID: id})
	if err != nil {
		s.logger.Errorw("failed to build stream_ended message", "error", err)
		return
	}

	s.mu.Lock()
	for key := range s.joins {
		if strings.HasPrefix(key, string(id)+":") {
			delete(s.joins, key)
		}
	}
	s.mu.Unlock()

	s.broadcast(msg)
}

func (s *WebSocketServer) broadcast(msg Message) {
	s.mu.RLock()
	targets := make(map[domain.EndpointID]*endpointConn, len(s.connections))
	for id, ec := range s.connections {
		targets[id] = ec
	}
	s.mu.RUnlock()

	for id, ec := range targets {
		if err := ec.writeJSON(msg, s.cfg.WriteTimeout); err != nil {
			s.logger.Debugw("failed to push to endpoint", "endpoint_id", id, "type", msg.Type, "error", err)
		}
	}
}

func (s *WebSocketServer) sendTo(endpointID domain.EndpointID, msg Message) error {
	s.mu.RLock()
	ec, exists := s.connections[endpointID]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("endpoint %s not connected", endpointID)
	}
	return ec.writeJSON(msg, s.cfg.WriteTimeout)
}

func (s *WebSocketServer) sendError(ec *endpointConn, message string) {
	msg, err := NewMessage(TypeError, "", ErrorPayload{Message: message})
	if err != nil {
		return
	}
	ec.writeJSON(msg, s.cfg.WriteTimeout)
}

func (s *WebSocketServer) IsConnected(endpointID domain.EndpointID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.connections[endpointID]
	return exists
}

func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}
