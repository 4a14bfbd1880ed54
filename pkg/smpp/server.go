package smpp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync"
	"github.com/rs/xid"
	"go.uber.org/atomic"
)

const (
	defaultRouteTTL   = 72 * time.Hour
	maintenancePeriod = 30 * time.Second
)

// ServerDependencies holds all dependencies for the server
type ServerDependencies struct {
	Authenticator  Authenticator
	MessageHandler MessageHandler
	EventPublisher EventPublisher
	Logger         Logger
	Metrics        MetricsCollector

	// NewSessionID overrides the xid based session id generator.
	NewSessionID func() string
}

// SessionInfo is a point-in-time view of one connection.
type SessionInfo struct {
	ID          string
	SystemID    string
	BindMode    BindMode
	State       SessionState
	RemoteAddr  string
	ConnectedAt time.Time
	Pending     int
}

type route struct {
	sessionID string
	systemID  string
	createdAt time.Time
}

// Server is the connection supervisor of an SMSC. It accepts transport
// connections and runs one Conn per connection in the SMSC role.
type Server struct {
	config  ServerConfig
	session SessionConfig
	deps    ServerDependencies
	logger  Logger
	metrics MetricsCollector

	listener net.Listener
	conns    *xsync.MapOf[string, *Conn]
	routes   *xsync.MapOf[string, route]
	active   *atomic.Int64
	routeTTL time.Duration

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewServer creates a new SMPP server
func NewServer(config ServerConfig, session SessionConfig, deps ServerDependencies) *Server {
	s := &Server{
		config:   config,
		session:  session.WithDefaults(),
		deps:     deps,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		conns:    xsync.NewMapOf[*Conn](),
		routes:   xsync.NewMapOf[route](),
		active:   atomic.NewInt64(0),
		routeTTL: defaultRouteTTL,
	}
	if s.logger == nil {
		s.logger = nopLogger{}
	}
	if s.deps.NewSessionID == nil {
		s.deps.NewSessionID = func() string { return xid.New().String() }
	}
	if h := deps.MessageHandler; h != nil {
		if ext, ok := h.(ExtendedMessageHandler); ok {
			s.deps.MessageHandler = &routingExtHandler{ExtendedMessageHandler: ext, server: s}
		} else {
			s.deps.MessageHandler = &routingHandler{MessageHandler: h, server: s}
		}
	}
	return s
}

// Start listens on the configured address and serves in the background.
// Cancelling ctx only stops accepting; sessions stay up until Stop unbinds
// them.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var listener net.Listener
	if s.config.TLSEnabled {
		cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificate: %w", err)
		}
		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		listener, err = tls.Listen("tcp", addr, tlsConfig)
		if err != nil {
			return fmt.Errorf("failed to listen on %s with TLS: %w", addr, err)
		}
		s.logger.Info("SMPP server started with TLS", "address", listener.Addr().String(), "cert_file", s.config.TLSCertFile)
	} else {
		var err error
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		s.logger.Info("SMPP server started", "address", listener.Addr().String())
	}

	if err := s.init(ctx, listener); err != nil {
		listener.Close()
		return err
	}
	go s.serve()
	return nil
}

// Serve accepts connections on l until Stop is called. It blocks.
func (s *Server) Serve(l net.Listener) error {
	if err := s.init(context.Background(), l); err != nil {
		return err
	}
	s.serve()
	return nil
}

func (s *Server) init(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.listener = l
	// Session loops run on their own context so that Stop can unbind
	// them after the caller's ctx is gone.
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.done = make(chan struct{})

	s.wg.Add(1)
	go s.periodicTasks()
	go func() {
		select {
		case <-ctx.Done():
		case <-s.ctx.Done():
		}
		l.Close()
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsRunning returns true if the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) serve() {
	defer close(s.done)
	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.logger.Error("Failed to accept connection", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if limit := s.config.MaxConnections; limit > 0 && s.active.Load() >= int64(limit) {
			s.logger.Warn("Max connections reached, rejecting new connection", "remote_addr", netConn.RemoteAddr().String())
			s.count("connections_total", map[string]string{"result": "rejected"})
			netConn.Close()
			continue
		}
		s.count("connections_total", map[string]string{"result": "accepted"})
		s.accept(netConn)
	}
}

func (s *Server) accept(netConn net.Conn) {
	id := s.deps.NewSessionID()
	deps := SessionDependencies{
		Authenticator:    s.deps.Authenticator,
		Handler:          s.deps.MessageHandler,
		Logger:           s.logger,
		Metrics:          s.metrics,
		SystemID:         s.config.SystemID,
		InterfaceVersion: s.config.InterfaceVersion,
	}
	conn := NewConn(netConn, id, RoleSMSC, s.session, deps, ConnHooks{
		OnStateChange: s.onStateChange,
		OnClose:       s.onClose,
	})

	s.conns.Store(id, conn)
	s.active.Inc()
	s.updateGauges()
	s.logger.Debug("New connection accepted", "session_id", id, "remote_addr", conn.RemoteAddr())
	s.publish(&ConnectionEvent{
		Type:       EventTypeConnected,
		Timestamp:  time.Now(),
		SessionID:  id,
		RemoteAddr: conn.RemoteAddr(),
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Panic in connection loop", "session_id", id, "panic", r)
				conn.Close()
			}
		}()
		conn.Run(s.ctx)
	}()
}

func (s *Server) onStateChange(c *Conn, from, to SessionState) {
	switch {
	case to.IsBound():
		s.logger.Info("Session bound", "session_id", c.ID(), "system_id", c.SystemID(), "mode", c.BindMode())
		s.publish(&ConnectionEvent{
			Type:       EventTypeBound,
			Timestamp:  time.Now(),
			SessionID:  c.ID(),
			SystemID:   c.SystemID(),
			BindMode:   c.BindMode(),
			RemoteAddr: c.RemoteAddr(),
		})
	case from.IsBound() && to == StateUnbinding:
		s.publish(&ConnectionEvent{
			Type:       EventTypeUnbound,
			Timestamp:  time.Now(),
			SessionID:  c.ID(),
			SystemID:   c.SystemID(),
			BindMode:   c.BindMode(),
			RemoteAddr: c.RemoteAddr(),
		})
	}
	s.updateGauges()
}

func (s *Server) onClose(c *Conn, reason DisconnectReason, err error) {
	s.conns.Delete(c.ID())
	s.active.Dec()
	s.updateGauges()
	s.count("disconnects_total", map[string]string{"reason": string(reason)})

	fields := []interface{}{"session_id", c.ID(), "system_id", c.SystemID(), "reason", string(reason), "remote_addr", c.RemoteAddr()}
	if err != nil {
		fields = append(fields, "error", err)
	}
	s.logger.Info("Connection closed", fields...)
	s.publish(&ConnectionEvent{
		Type:       EventTypeDisconnected,
		Timestamp:  time.Now(),
		SessionID:  c.ID(),
		SystemID:   c.SystemID(),
		BindMode:   c.BindMode(),
		RemoteAddr: c.RemoteAddr(),
		Reason:     reason,
		Error:      err,
	})
}

// Stop closes the listener, unbinds bound sessions and waits for every
// connection loop to exit. When ctx expires first, remaining sessions are
// closed without waiting for unbind_resp.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.listener.Close()

	var shutdown sync.WaitGroup
	s.conns.Range(func(_ string, c *Conn) bool {
		shutdown.Add(1)
		go func(c *Conn) {
			defer shutdown.Done()
			if err := c.Shutdown(ctx); err != nil {
				s.logger.Debug("Session shutdown", "session_id", c.ID(), "error", err)
			}
		}(c)
		return true
	})

	finished := make(chan struct{})
	go func() {
		shutdown.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-ctx.Done():
		s.logger.Warn("Server shutdown timed out, forcing exit")
		err = ctx.Err()
	}
	// Remaining loops observe the cancelled context and close.
	s.cancel()
	s.wg.Wait()
	<-s.done
	s.logger.Info("SMPP server stopped")
	return err
}

// Sessions returns a snapshot of all live connections.
func (s *Server) Sessions() []SessionInfo {
	var out []SessionInfo
	s.conns.Range(func(_ string, c *Conn) bool {
		out = append(out, SessionInfo{
			ID:          c.ID(),
			SystemID:    c.SystemID(),
			BindMode:    c.BindMode(),
			State:       c.State(),
			RemoteAddr:  c.RemoteAddr(),
			ConnectedAt: c.StartedAt(),
			Pending:     c.Pending(),
		})
		return true
	})
	return out
}

// Deliver sends dsm to a specific session and waits for deliver_sm_resp.
func (s *Server) Deliver(ctx context.Context, sessionID string, dsm *DeliverSM) error {
	c, ok := s.conns.Load(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return c.Deliver(ctx, dsm)
}

// DeliverReceipt routes a delivery receipt to the session that submitted
// the message it refers to. If that session has gone, another receiving
// session bound with the same system_id is used.
func (s *Server) DeliverReceipt(ctx context.Context, dsm *DeliverSM) error {
	msgID, ok := ReceiptedMessageID(dsm)
	if !ok {
		return fmt.Errorf("%w: receipt carries no message id", ErrInvalidField)
	}
	if dsm.EsmClass&EsmClassMessageTypeMask == 0 {
		dsm.EsmClass |= EsmClassDeliveryReceipt
	}

	r, ok := s.routes.Load(msgID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRoute, msgID)
	}
	c := s.receiverFor(r)
	if c == nil {
		return fmt.Errorf("%w: %s (system_id %s not bound)", ErrNoRoute, msgID, r.systemID)
	}
	if err := c.Deliver(ctx, dsm); err != nil {
		return err
	}
	s.routes.Delete(msgID)
	return nil
}

func (s *Server) receiverFor(r route) *Conn {
	if c, ok := s.conns.Load(r.sessionID); ok && c.BindMode().CanReceive() {
		return c
	}
	var found *Conn
	s.conns.Range(func(_ string, c *Conn) bool {
		if c.SystemID() == r.systemID && c.BindMode().CanReceive() {
			found = c
			return false
		}
		return true
	})
	return found
}

func (s *Server) recordRoute(sessionID, messageID string) {
	if messageID == "" {
		return
	}
	r := route{sessionID: sessionID, createdAt: time.Now()}
	if c, ok := s.conns.Load(sessionID); ok {
		r.systemID = c.SystemID()
	}
	s.routes.Store(messageID, r)
}

func (s *Server) periodicTasks() {
	defer s.wg.Done()

	ticker := time.NewTicker(maintenancePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.pruneRoutes(now)
			s.updateGauges()
		}
	}
}

func (s *Server) pruneRoutes(now time.Time) {
	s.routes.Range(func(id string, r route) bool {
		if now.Sub(r.createdAt) > s.routeTTL {
			s.routes.Delete(id)
		}
		return true
	})
}

func (s *Server) updateGauges() {
	if s.metrics == nil {
		return
	}
	counts := map[SessionState]int{StateOpen: 0, StateBoundTX: 0, StateBoundRX: 0, StateBoundTRX: 0, StateUnbinding: 0}
	pending := 0
	s.conns.Range(func(_ string, c *Conn) bool {
		if st := c.State(); st != StateClosed {
			counts[st]++
		}
		pending += c.Pending()
		return true
	})
	for st, n := range counts {
		s.metrics.SetGauge("active_sessions", float64(n), map[string]string{"state": string(st)})
	}
	s.metrics.SetGauge("pending_requests", float64(pending), nil)
}

func (s *Server) count(name string, labels map[string]string) {
	if s.metrics != nil {
		s.metrics.IncCounter(name, labels)
	}
}

func (s *Server) publish(ev *ConnectionEvent) {
	if s.deps.EventPublisher == nil {
		return
	}
	if err := s.deps.EventPublisher.PublishConnectionEvent(s.baseContext(), ev); err != nil {
		s.logger.Debug("Failed to publish connection event", "type", ev.Type, "error", err)
	}
}

func (s *Server) baseContext() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// routingHandler records which session accepted each message so that its
// receipt can find the way back.
type routingHandler struct {
	MessageHandler
	server *Server
}

func (h *routingHandler) OnSubmit(ctx context.Context, sessionID string, sm *SubmitSM) (string, error) {
	id, err := h.MessageHandler.OnSubmit(ctx, sessionID, sm)
	if err == nil {
		h.server.recordRoute(sessionID, id)
	}
	return id, err
}

type routingExtHandler struct {
	ExtendedMessageHandler
	server *Server
}

func (h *routingExtHandler) OnSubmit(ctx context.Context, sessionID string, sm *SubmitSM) (string, error) {
	id, err := h.ExtendedMessageHandler.OnSubmit(ctx, sessionID, sm)
	if err == nil {
		h.server.recordRoute(sessionID, id)
	}
	return id, err
}

func (h *routingExtHandler) OnSubmitMulti(ctx context.Context, sessionID string, sm *SubmitMulti) (string, []UnsuccessfulSME, error) {
	id, failed, err := h.ExtendedMessageHandler.OnSubmitMulti(ctx, sessionID, sm)
	if err == nil {
		h.server.recordRoute(sessionID, id)
	}
	return id, failed, err
}

func (h *routingExtHandler) OnDataSM(ctx context.Context, sessionID string, dsm *DataSM) (string, error) {
	id, err := h.ExtendedMessageHandler.OnDataSM(ctx, sessionID, dsm)
	if err == nil {
		h.server.recordRoute(sessionID, id)
	}
	return id, err
}
