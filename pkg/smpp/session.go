package smpp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	"github.com/oarkflow/smpp-engine/internal/flowcontrol"
	"github.com/oarkflow/smpp-engine/internal/metrics"
	"github.com/oarkflow/smpp-engine/internal/ratelimit"
	"github.com/oarkflow/smpp-engine/internal/version"
)

// Role says which end of the link a session plays.
type Role int

const (
	RoleSMSC Role = iota
	RoleESME
)

func (r Role) String() string {
	if r == RoleESME {
		return "esme"
	}
	return "smsc"
}

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	StateOpen      SessionState = "open"
	StateBoundTX   SessionState = "bound_tx"
	StateBoundRX   SessionState = "bound_rx"
	StateBoundTRX  SessionState = "bound_trx"
	StateUnbinding SessionState = "unbinding"
	StateClosed    SessionState = "closed"
)

// IsBound reports whether s is one of the bound states.
func (s SessionState) IsBound() bool {
	return s == StateBoundTX || s == StateBoundRX || s == StateBoundTRX
}

// DisconnectReason explains why a session ended.
type DisconnectReason string

const (
	ReasonNone               DisconnectReason = ""
	ReasonClosedByPeer       DisconnectReason = "closed_by_peer"
	ReasonClosedLocally      DisconnectReason = "closed_locally"
	ReasonUnbound            DisconnectReason = "unbound"
	ReasonBindTimeout        DisconnectReason = "bind_timeout"
	ReasonEnquireLinkTimeout DisconnectReason = "enquire_link_timeout"
	ReasonFramingError       DisconnectReason = "framing_error"
	ReasonProtocolError      DisconnectReason = "protocol_error"
	ReasonIOError            DisconnectReason = "io_error"
	ReasonServerShutdown     DisconnectReason = "server_shutdown"
)

const (
	eventBindTX  = "bind_tx"
	eventBindRX  = "bind_rx"
	eventBindTRX = "bind_trx"
	eventUnbind  = "unbind"
	eventClose   = "close"
)

var (
	errHandlerTimeout = errors.New("smpp: handler timed out")
	errHandlerPanic   = errors.New("smpp: handler panicked")
)

// Response is delivered to the caller of a local request.
type Response struct {
	PDU *PDU
	Err error
}

// SessionDependencies are the collaborators a session calls into.
type SessionDependencies struct {
	Authenticator Authenticator
	Handler       MessageHandler
	Logger        Logger
	Metrics       MetricsCollector

	// SystemID is reported in bind_*_resp when acting as SMSC.
	SystemID string
	// InterfaceVersion advertised by the SMSC; zero means v3.4.
	InterfaceVersion uint8
}

type pendingRequest struct {
	pdu      *PDU
	reply    chan<- Response
	sentAt   time.Time
	deadline time.Time
	windowed bool
	queued   bool
}

// Session is the per-connection SMPP state machine. It performs no I/O and
// is not safe for concurrent use: one goroutine feeds it inbound PDUs, local
// requests and clock ticks, and writes whatever PDUs it returns in order.
type Session struct {
	id     string
	role   Role
	cfg    SessionConfig
	deps   SessionDependencies
	logger Logger

	machine  *fsm.FSM
	mode     BindMode
	systemID string

	seq      *SequenceAllocator
	outbound map[uint32]*pendingRequest
	queue    []uint32

	window   *flowcontrol.Window
	throttle *ratelimit.Throttle
	versions *version.VersionNegotiator

	createdAt     time.Time
	lastInbound   time.Time
	enquireSeq    uint32
	enquireSentAt time.Time
	decodeErrors  int
	closeReason   DisconnectReason
}

// NewSession creates a session in state open. now starts the bind timer.
func NewSession(id string, role Role, cfg SessionConfig, deps SessionDependencies, now time.Time) *Session {
	cfg = cfg.WithDefaults()
	if deps.Logger == nil {
		deps.Logger = nopLogger{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoOpMetricsCollector()
	}

	s := &Session{
		id:          id,
		role:        role,
		cfg:         cfg,
		deps:        deps,
		logger:      deps.Logger.WithFields(map[string]interface{}{"session_id": id, "role": role.String()}),
		seq:         NewSequenceAllocator(0),
		outbound:    make(map[uint32]*pendingRequest),
		window:      flowcontrol.NewWindow(cfg.WindowSize),
		throttle:    ratelimit.NewThrottle(cfg.SubmitRate, cfg.SubmitBurst),
		versions:    version.NewVersionNegotiator(version.SMPPVersion(deps.InterfaceVersion)),
		createdAt:   now,
		lastInbound: now,
	}

	bound := []string{string(StateBoundTX), string(StateBoundRX), string(StateBoundTRX)}
	s.machine = fsm.NewFSM(
		string(StateOpen),
		fsm.Events{
			{Name: eventBindTX, Src: []string{string(StateOpen)}, Dst: string(StateBoundTX)},
			{Name: eventBindRX, Src: []string{string(StateOpen)}, Dst: string(StateBoundRX)},
			{Name: eventBindTRX, Src: []string{string(StateOpen)}, Dst: string(StateBoundTRX)},
			{Name: eventUnbind, Src: bound, Dst: string(StateUnbinding)},
			{Name: eventClose, Src: append([]string{string(StateOpen), string(StateUnbinding)}, bound...), Dst: string(StateClosed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Debug("Session state changed", "from", e.Src, "to", e.Dst, "event", e.Event)
			},
		},
	)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Role() Role { return s.role }

func (s *Session) Config() SessionConfig { return s.cfg }

// State returns the current lifecycle state.
func (s *Session) State() SessionState { return SessionState(s.machine.Current()) }

// BindMode returns the negotiated mode, or BindNone before a bind.
func (s *Session) BindMode() BindMode { return s.mode }

// SystemID returns the system_id of the bound ESME.
func (s *Session) SystemID() string { return s.systemID }

// CloseReason is set once the session is closed.
func (s *Session) CloseReason() DisconnectReason { return s.closeReason }

// Pending returns the number of outbound requests awaiting a response,
// including those queued behind the window.
func (s *Session) Pending() int { return len(s.outbound) }

// Outstanding returns the number of sent requests holding a window slot.
func (s *Session) Outstanding() int { return s.window.Outstanding() }

func (s *Session) fire(event string) {
	if err := s.machine.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			s.logger.Error("Invalid state transition", "event", event, "state", s.machine.Current(), "error", err)
		}
	}
}

func bindEvent(m BindMode) string {
	switch m {
	case BindTransmitter:
		return eventBindTX
	case BindReceiver:
		return eventBindRX
	default:
		return eventBindTRX
	}
}

// isSubmitDirection lists requests an ESME sends to an SMSC.
func isSubmitDirection(id uint32) bool {
	switch id {
	case CommandSubmitSM, CommandSubmitMulti, CommandDataSM, CommandQuerySM, CommandCancelSM, CommandReplaceSM:
		return true
	}
	return false
}

// isDeliverDirection lists requests an SMSC sends to an ESME.
func isDeliverDirection(id uint32) bool {
	switch id {
	case CommandDeliverSM, CommandDataSM, CommandAlertNotification:
		return true
	}
	return false
}

// permitsInbound reports whether the current state lets the peer send id.
func (s *Session) permitsInbound(id uint32) bool {
	switch id {
	case CommandEnquireLink:
		return true
	case CommandBindTransmitter, CommandBindReceiver, CommandBindTransceiver:
		return s.role == RoleSMSC && s.State() == StateOpen
	case CommandOutbind:
		return s.role == RoleESME && s.State() == StateOpen
	case CommandUnbind:
		return s.State().IsBound() || s.State() == StateUnbinding
	}
	if !s.State().IsBound() {
		return false
	}
	if s.role == RoleSMSC {
		return isSubmitDirection(id) && s.mode.CanSubmit()
	}
	return isDeliverDirection(id) && s.mode.CanReceive()
}

// permitsOutbound reports whether the local side may send request id.
func (s *Session) permitsOutbound(id uint32) bool {
	switch id {
	case CommandEnquireLink:
		return true
	case CommandBindTransmitter, CommandBindReceiver, CommandBindTransceiver:
		return s.role == RoleESME && s.State() == StateOpen && !s.bindPending()
	case CommandOutbind:
		return s.role == RoleSMSC && s.State() == StateOpen
	case CommandUnbind:
		return s.State().IsBound()
	}
	if !s.State().IsBound() {
		return false
	}
	if s.role == RoleESME {
		return isSubmitDirection(id) && s.mode.CanSubmit()
	}
	return isDeliverDirection(id) && s.mode.CanReceive()
}

func (s *Session) bindPending() bool {
	for _, p := range s.outbound {
		if _, ok := p.pdu.Body.(*BindRequest); ok {
			return true
		}
	}
	return false
}

func (s *Session) seqInUse(seq uint32) bool {
	_, ok := s.outbound[seq]
	return ok
}

// Send registers a local request and returns the PDUs to write now. The
// request is queued without output when the window is full. reply, if not
// nil, receives exactly one Response and should be buffered.
func (s *Session) Send(p *PDU, reply chan<- Response, now time.Time) ([]*PDU, error) {
	if s.State() == StateClosed {
		return nil, ErrSessionClosed
	}
	if p.Body == nil || p.IsResponse() {
		return nil, fmt.Errorf("%w: Send takes a request", ErrInvalidField)
	}
	id := p.CommandID()
	if !s.permitsOutbound(id) {
		return nil, fmt.Errorf("%w: %s in state %s", ErrNotBound, CommandName(id), s.State())
	}

	if p.Header.SequenceNum == 0 {
		p.Header.SequenceNum = s.seq.Next(s.seqInUse)
	} else if s.seqInUse(p.Header.SequenceNum) {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateSeq, p.Header.SequenceNum)
	}
	p.Header.CommandID = id

	pr := &pendingRequest{
		pdu:      p,
		reply:    reply,
		deadline: now.Add(s.cfg.ResponseTimeout),
		windowed: isSubmitDirection(id) || isDeliverDirection(id),
	}
	s.outbound[p.Header.SequenceNum] = pr

	if id == CommandUnbind {
		s.fire(eventUnbind)
	}

	if pr.windowed && (len(s.queue) > 0 || !s.window.TryAcquire()) {
		pr.queued = true
		s.queue = append(s.queue, p.Header.SequenceNum)
		s.logger.Debug("Request queued behind window", "command", CommandName(id), "seq", p.Header.SequenceNum, "queued", len(s.queue))
		return nil, nil
	}
	pr.sentAt = now
	return []*PDU{p}, nil
}

// drainQueue sends queued requests while window slots are free.
func (s *Session) drainQueue(now time.Time) []*PDU {
	var out []*PDU
	for len(s.queue) > 0 {
		seq := s.queue[0]
		pr, ok := s.outbound[seq]
		if !ok {
			s.queue = s.queue[1:]
			continue
		}
		if !s.window.TryAcquire() {
			break
		}
		s.queue = s.queue[1:]
		pr.queued = false
		pr.sentAt = now
		out = append(out, pr.pdu)
	}
	return out
}

func (s *Session) removeQueued(seq uint32) {
	for i, q := range s.queue {
		if q == seq {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// resolve removes a pending request and hands its outcome to the waiter.
func (s *Session) resolve(seq uint32, resp Response) *pendingRequest {
	pr, ok := s.outbound[seq]
	if !ok {
		return nil
	}
	delete(s.outbound, seq)
	if pr.queued {
		s.removeQueued(seq)
	} else if pr.windowed {
		s.window.Release()
	}
	if pr.reply != nil {
		select {
		case pr.reply <- resp:
		default:
			s.logger.Warn("Response waiter not receiving", "seq", seq)
		}
	}
	return pr
}

// Handle processes one inbound PDU. It returns the PDUs to write, in
// order, and whether the session must close once they are flushed.
//
// Inbound requests are answered before Handle returns and the owner writes
// the answer before feeding the next frame, so no inbound request is ever
// outstanding here. A peer reusing a sequence number after its response
// has been sent is therefore serviced normally.
func (s *Session) Handle(ctx context.Context, p *PDU, now time.Time) ([]*PDU, bool) {
	if s.State() == StateClosed {
		return nil, false
	}
	s.lastInbound = now
	s.decodeErrors = 0

	if p.IsResponse() {
		return s.handleResponse(p, now)
	}

	return s.handleRequest(ctx, p, now)
}

func (s *Session) handleRequest(ctx context.Context, p *PDU, now time.Time) ([]*PDU, bool) {
	id := p.CommandID()

	if u, ok := p.Body.(*UnknownPDU); ok {
		s.logger.Warn("Unknown command", "command_id", fmt.Sprintf("0x%08X", u.ID), "seq", p.Header.SequenceNum)
		return []*PDU{NewGenericNack(p.Header.SequenceNum, StatusInvCmdID)}, false
	}

	if !s.permitsInbound(id) {
		status := StatusInvBnd
		if s.State().IsBound() && bindModeOf(id) != BindNone {
			status = StatusAlreadyBnd
		}
		s.logger.Info("Command not allowed in state", "command", CommandName(id), "state", s.State(), "status", StatusText(status))
		if id == CommandAlertNotification || id == CommandOutbind {
			return nil, false
		}
		return []*PDU{NewResponse(p, status, nil)}, false
	}

	if (id == CommandSubmitSM || id == CommandSubmitMulti || id == CommandDataSM) && !s.throttle.AllowAt(now) {
		s.deps.Metrics.IncCounter("throttled_total", map[string]string{"command": CommandName(id)})
		return []*PDU{NewResponse(p, StatusThrottled, nil)}, false
	}

	switch body := p.Body.(type) {
	case *EnquireLink:
		return []*PDU{NewResponse(p, StatusOK, &EnquireLinkResp{})}, false
	case *BindRequest:
		return []*PDU{s.handleBind(ctx, p, body)}, false
	case *Unbind:
		if s.State() != StateUnbinding {
			s.fire(eventUnbind)
		}
		s.closeReason = ReasonUnbound
		s.logger.Info("Unbind received", "system_id", s.systemID)
		return []*PDU{NewResponse(p, StatusOK, &UnbindResp{})}, true
	case *Outbind:
		s.logger.Info("Outbind received", "system_id", body.SystemID)
		return nil, false
	case *AlertNotification:
		if ah, ok := s.deps.Handler.(AlertHandler); ok {
			_ = s.invoke(ctx, "alert_notification", func(ctx context.Context) error {
				ah.OnAlert(ctx, s.id, body)
				return nil
			})
		}
		return nil, false
	}

	return []*PDU{s.dispatch(ctx, p)}, false
}

// dispatch hands a business request to the message handler.
func (s *Session) dispatch(ctx context.Context, p *PDU) *PDU {
	h := s.deps.Handler
	ext, hasExt := h.(ExtendedMessageHandler)

	switch body := p.Body.(type) {
	case *SubmitSM:
		if h == nil {
			return NewResponse(p, StatusSysErr, nil)
		}
		var msgID string
		err := s.invoke(ctx, "submit_sm", func(ctx context.Context) (err error) {
			msgID, err = h.OnSubmit(ctx, s.id, body)
			return err
		})
		status := s.statusFor(err)
		s.deps.Metrics.IncCounter("submits_total", map[string]string{"status": StatusText(status)})
		if status != StatusOK {
			return NewResponse(p, status, nil)
		}
		return NewResponse(p, StatusOK, &SubmitSMResp{MessageID: msgID})

	case *DeliverSM:
		if h == nil {
			return NewResponse(p, StatusOK, nil)
		}
		err := s.invoke(ctx, "deliver_sm", func(ctx context.Context) error {
			return h.OnDeliver(ctx, s.id, body)
		})
		return NewResponse(p, s.statusFor(err), nil)
	}

	if !hasExt {
		return NewResponse(p, StatusInvCmdID, nil)
	}

	switch body := p.Body.(type) {
	case *SubmitMulti:
		var msgID string
		var failed []UnsuccessfulSME
		err := s.invoke(ctx, "submit_multi", func(ctx context.Context) (err error) {
			msgID, failed, err = ext.OnSubmitMulti(ctx, s.id, body)
			return err
		})
		if status := s.statusFor(err); status != StatusOK {
			return NewResponse(p, status, nil)
		}
		return NewResponse(p, StatusOK, &SubmitMultiResp{MessageID: msgID, Unsuccessful: failed})

	case *DataSM:
		var msgID string
		err := s.invoke(ctx, "data_sm", func(ctx context.Context) (err error) {
			msgID, err = ext.OnDataSM(ctx, s.id, body)
			return err
		})
		if status := s.statusFor(err); status != StatusOK {
			return NewResponse(p, status, nil)
		}
		return NewResponse(p, StatusOK, &DataSMResp{MessageID: msgID})

	case *QuerySM:
		var resp *QuerySMResp
		err := s.invoke(ctx, "query_sm", func(ctx context.Context) (err error) {
			resp, err = ext.OnQuery(ctx, s.id, body)
			return err
		})
		if status := s.statusFor(err); status != StatusOK || resp == nil {
			return NewResponse(p, StatusOf(err, StatusQueryFail), nil)
		}
		return NewResponse(p, StatusOK, resp)

	case *CancelSM:
		err := s.invoke(ctx, "cancel_sm", func(ctx context.Context) error {
			return ext.OnCancel(ctx, s.id, body)
		})
		return NewResponse(p, s.statusFor(err), nil)

	case *ReplaceSM:
		err := s.invoke(ctx, "replace_sm", func(ctx context.Context) error {
			return ext.OnReplace(ctx, s.id, body)
		})
		return NewResponse(p, s.statusFor(err), nil)
	}

	return NewResponse(p, StatusInvCmdID, nil)
}

// statusFor maps a collaborator error to a command_status.
func (s *Session) statusFor(err error) uint32 {
	if err == nil {
		return StatusOK
	}
	return StatusOf(err, StatusSysErr)
}

// invoke runs fn under HandlerTimeout, converting panics and timeouts into
// errors. A handler that ignores its context keeps running in the
// background but no longer holds up the session.
func (s *Session) invoke(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HandlerTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Handler panic", "handler", name, "panic", fmt.Sprint(r))
				done <- errHandlerPanic
			}
		}()
		done <- fn(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = errHandlerTimeout
		s.logger.Warn("Handler timed out", "handler", name, "timeout", s.cfg.HandlerTimeout)
	}
	s.deps.Metrics.RecordDuration("handler", time.Since(start), map[string]string{"command": name})
	return err
}

func (s *Session) handleBind(ctx context.Context, p *PDU, req *BindRequest) *PDU {
	status := StatusOK
	if s.deps.Authenticator != nil {
		err := s.invoke(ctx, "bind", func(ctx context.Context) error {
			return s.deps.Authenticator.Authenticate(ctx, req.SystemID, req.Password, req.SystemType)
		})
		status = bindStatus(err)
	}

	s.deps.Metrics.IncCounter("binds_total", map[string]string{"mode": req.Mode.String(), "status": StatusText(status)})

	if status != StatusOK {
		s.logger.Warn("Bind rejected", "system_id", req.SystemID, "mode", req.Mode, "status", StatusText(status))
		return NewResponse(p, status, &BindResponse{Mode: req.Mode})
	}

	s.fire(bindEvent(req.Mode))
	s.mode = req.Mode
	s.systemID = req.SystemID

	resp := &BindResponse{Mode: req.Mode, SystemID: s.deps.SystemID}
	if v, withTLV := s.versions.Negotiate(req.InterfaceVersion); withTLV {
		resp.Options.SetUint8(TagSCInterfaceVersion, uint8(v))
	}
	s.logger.Info("Session bound", "system_id", req.SystemID, "mode", req.Mode, "interface_version", fmt.Sprintf("0x%02X", req.InterfaceVersion))
	return NewResponse(p, StatusOK, resp)
}

func bindStatus(err error) uint32 {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, errHandlerTimeout), errors.Is(err, errHandlerPanic):
		return StatusSysErr
	case errors.Is(err, ErrInvalidPassword):
		return StatusInvPaswd
	case errors.Is(err, ErrInvalidSystemID):
		return StatusInvSysID
	}
	return StatusOf(err, StatusBindFail)
}

func (s *Session) handleResponse(p *PDU, now time.Time) ([]*PDU, bool) {
	seq := p.Header.SequenceNum
	pr, ok := s.outbound[seq]
	if !ok || pr.queued || !responseMatches(pr.pdu, p) {
		s.deps.Metrics.IncCounter("unmatched_responses_total", map[string]string{"command": CommandName(p.CommandID())})
		s.logger.Warn("Unmatched response dropped", "command", CommandName(p.CommandID()), "seq", seq)
		return nil, false
	}

	var err error
	if p.Header.CommandStatus != StatusOK {
		err = NewStatusError(p.Header.CommandStatus, CommandName(p.CommandID()))
	}
	s.resolve(seq, Response{PDU: p, Err: err})
	s.deps.Metrics.RecordDuration("response_latency", now.Sub(pr.sentAt), map[string]string{"command": CommandName(pr.pdu.CommandID())})

	closeAfter := false
	switch req := pr.pdu.Body.(type) {
	case *BindRequest:
		if err == nil {
			s.fire(bindEvent(req.Mode))
			s.mode = req.Mode
			s.systemID = req.SystemID
			s.logger.Info("Bound to SMSC", "mode", req.Mode)
		} else {
			s.logger.Warn("Bind refused by SMSC", "status", StatusText(p.Header.CommandStatus))
		}
	case *EnquireLink:
		if seq == s.enquireSeq {
			s.enquireSeq = 0
		}
	case *Unbind:
		s.closeReason = ReasonUnbound
		closeAfter = true
	}

	return s.drainQueue(now), closeAfter
}

// responseMatches accepts the paired response or a generic_nack.
func responseMatches(req, resp *PDU) bool {
	id := resp.CommandID()
	return id == CommandGenericNack || id == ResponseID(req.CommandID())
}

// HandleDecodeError answers a frame the codec rejected. The returned reason
// is set when too many consecutive frames have failed.
func (s *Session) HandleDecodeError(de *DecodeError, now time.Time) ([]*PDU, DisconnectReason) {
	if s.State() == StateClosed {
		return nil, ReasonNone
	}
	s.decodeErrors++
	s.deps.Metrics.IncCounter("decode_errors_total", map[string]string{"kind": de.Kind.String()})
	s.logger.Warn("PDU decode failed", "error", de.Error(), "consecutive", s.decodeErrors)

	var out []*PDU
	if h := de.Header; h != nil {
		s.lastInbound = now
		switch {
		case IsResponse(h.CommandID):
			// The request it answers still completes, with the decode error.
			if pr, ok := s.outbound[h.SequenceNum]; ok && !pr.queued {
				s.resolve(h.SequenceNum, Response{Err: de})
				out = s.drainQueue(now)
			}
		case bindModeOf(h.CommandID) != BindNone:
			resp := &PDU{
				Header: PDUHeader{CommandStatus: de.Status(), SequenceNum: h.SequenceNum},
				Body:   &BindResponse{Mode: bindModeOf(h.CommandID)},
			}
			out = append(out, resp)
		default:
			out = append(out, NewGenericNack(h.SequenceNum, de.Status()))
		}
	}

	if s.decodeErrors >= s.cfg.MaxDecodeErrors {
		return out, ReasonProtocolError
	}
	return out, ReasonNone
}

// Tick advances the session clock. It returns PDUs to write (at most one
// enquire_link) and a non-empty reason when a timer has expired and the
// session must close.
func (s *Session) Tick(now time.Time) ([]*PDU, DisconnectReason) {
	state := s.State()
	if state == StateClosed {
		return nil, ReasonNone
	}

	if state == StateOpen && now.Sub(s.createdAt) >= s.cfg.BindTimeout {
		return nil, ReasonBindTimeout
	}
	if s.enquireSeq != 0 && now.Sub(s.enquireSentAt) >= s.cfg.EnquireLinkTimeout {
		s.logger.Warn("Enquire link not answered", "seq", s.enquireSeq, "timeout", s.cfg.EnquireLinkTimeout)
		return nil, ReasonEnquireLinkTimeout
	}

	var out []*PDU
	for seq, pr := range s.outbound {
		if seq == s.enquireSeq || now.Before(pr.deadline) {
			continue
		}
		s.logger.Warn("Request timed out", "command", CommandName(pr.pdu.CommandID()), "seq", seq)
		s.resolve(seq, Response{Err: ErrResponseTimeout})
		if _, ok := pr.pdu.Body.(*Unbind); ok {
			return nil, ReasonClosedLocally
		}
	}
	out = append(out, s.drainQueue(now)...)

	if s.enquireSeq == 0 && state != StateUnbinding && now.Sub(s.lastInbound) >= s.cfg.EnquireLinkInterval {
		el := NewPDU(&EnquireLink{})
		el.Header.SequenceNum = s.seq.Next(s.seqInUse)
		s.outbound[el.Header.SequenceNum] = &pendingRequest{
			pdu:      el,
			sentAt:   now,
			deadline: now.Add(s.cfg.EnquireLinkTimeout),
		}
		s.enquireSeq = el.Header.SequenceNum
		s.enquireSentAt = now
		s.logger.Debug("Link idle, sending enquire_link", "seq", s.enquireSeq)
		out = append(out, el)
	}
	return out, ReasonNone
}

// Close moves the session to closed and fails every pending request with
// ErrSessionClosed. The first reason given is kept.
func (s *Session) Close(reason DisconnectReason) {
	if s.State() == StateClosed {
		return
	}
	if s.closeReason == ReasonNone || reason == ReasonServerShutdown {
		s.closeReason = reason
	}
	s.fire(eventClose)
	for seq := range s.outbound {
		s.resolve(seq, Response{Err: ErrSessionClosed})
	}
	s.queue = nil
	s.enquireSeq = 0
	s.window.Reset()
	s.logger.Info("Session closed", "reason", string(s.closeReason), "system_id", s.systemID)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})                {}
func (nopLogger) Info(string, ...interface{})                 {}
func (nopLogger) Warn(string, ...interface{})                 {}
func (nopLogger) Error(string, ...interface{})                {}
func (nopLogger) Fatal(string, ...interface{})                {}
func (n nopLogger) WithFields(map[string]interface{}) Logger { return n }
