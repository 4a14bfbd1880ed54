package smpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"go.uber.org/atomic"
)

// ConnHooks observe a connection from outside its loop goroutine. They are
// called on the loop goroutine and must not block.
type ConnHooks struct {
	OnStateChange func(c *Conn, from, to SessionState)
	OnClose       func(c *Conn, reason DisconnectReason, err error)
}

type frameResult struct {
	data []byte
	err  error
}

type localRequest struct {
	pdu   *PDU
	reply chan Response
}

// Conn runs one SMPP session over a transport connection. A single loop
// goroutine owns the Session: it decodes inbound frames, feeds local
// requests and clock ticks, and writes the resulting PDUs in order.
type Conn struct {
	netConn net.Conn
	session *Session
	reader  *FrameReader
	writer  *FrameWriter
	encoder *PDUEncoder
	decoder *PDUDecoder
	hooks   ConnHooks
	logger  Logger
	metrics MetricsCollector

	requests  chan localRequest
	closeReq  chan DisconnectReason
	done      chan struct{}
	startedAt time.Time

	running  *atomic.Bool
	state    *atomic.String
	mode     *atomic.Int32
	systemID *atomic.String
	reason   *atomic.String
	pending  *atomic.Int32
	shutdown *atomic.Bool
}

// NewConn wraps netConn with a new session. Call Run to start the loop.
func NewConn(netConn net.Conn, id string, role Role, cfg SessionConfig, deps SessionDependencies, hooks ConnHooks) *Conn {
	now := time.Now()
	session := NewSession(id, role, cfg, deps, now)
	cfg = session.Config()

	c := &Conn{
		netConn:   netConn,
		session:   session,
		reader:    NewFrameReader(netConn, cfg.MaxPDUSize),
		writer:    NewFrameWriter(netConn),
		encoder:   NewPDUEncoder(),
		decoder:   NewPDUDecoder(cfg.MaxPDUSize),
		hooks:     hooks,
		logger:    session.logger,
		metrics:   session.deps.Metrics,
		requests:  make(chan localRequest),
		closeReq:  make(chan DisconnectReason, 1),
		done:      make(chan struct{}),
		startedAt: now,
		running:   atomic.NewBool(false),
		state:     atomic.NewString(string(StateOpen)),
		mode:      atomic.NewInt32(int32(BindNone)),
		systemID:  atomic.NewString(""),
		reason:    atomic.NewString(""),
		pending:   atomic.NewInt32(0),
		shutdown:  atomic.NewBool(false),
	}
	if addr := netConn.RemoteAddr(); addr != nil {
		c.logger = c.logger.WithFields(map[string]interface{}{"remote_addr": addr.String()})
	}
	return c
}

func (c *Conn) ID() string { return c.session.ID() }

func (c *Conn) Role() Role { return c.session.Role() }

func (c *Conn) RemoteAddr() string {
	if addr := c.netConn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// State is a snapshot of the session state, safe from any goroutine.
func (c *Conn) State() SessionState { return SessionState(c.state.Load()) }

func (c *Conn) BindMode() BindMode { return BindMode(c.mode.Load()) }

func (c *Conn) SystemID() string { return c.systemID.Load() }

func (c *Conn) StartedAt() time.Time { return c.startedAt }

// Pending is the number of local requests awaiting a response as of the
// last loop iteration.
func (c *Conn) Pending() int { return int(c.pending.Load()) }

// Done is closed when the loop has exited and the socket is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Reason returns why the connection ended, once Done is closed.
func (c *Conn) Reason() DisconnectReason { return DisconnectReason(c.reason.Load()) }

// Run drives the session until it closes and returns the reason. It closes
// the transport on every exit path.
func (c *Conn) Run(ctx context.Context) DisconnectReason {
	if !c.running.CompareAndSwap(false, true) {
		return ReasonNone
	}

	frames := make(chan frameResult)
	go c.readLoop(frames)

	ticker := time.NewTicker(c.session.Config().TickInterval)
	defer ticker.Stop()

	reason, err := c.loop(ctx, frames, ticker.C)
	c.finish(reason, err)
	return reason
}

func (c *Conn) loop(ctx context.Context, frames <-chan frameResult, ticks <-chan time.Time) (DisconnectReason, error) {
	for {
		select {
		case <-ctx.Done():
			return ReasonClosedLocally, ctx.Err()

		case reason := <-c.closeReq:
			return reason, nil

		case fr := <-frames:
			if fr.err != nil {
				return classifyReadError(fr.err), fr.err
			}
			reason, err := c.handleFrame(ctx, fr.data)
			if reason != ReasonNone {
				return reason, err
			}

		case req := <-c.requests:
			out, err := c.session.Send(req.pdu, req.reply, time.Now())
			if err != nil {
				req.reply <- Response{Err: err}
			}
			if err := c.write(out); err != nil {
				return ReasonIOError, err
			}

		case now := <-ticks:
			out, reason := c.session.Tick(now)
			if err := c.write(out); err != nil {
				return ReasonIOError, err
			}
			if reason != ReasonNone {
				return reason, nil
			}
		}
		c.publishState()
	}
}

func (c *Conn) handleFrame(ctx context.Context, data []byte) (DisconnectReason, error) {
	now := time.Now()
	pdu, _, err := c.decoder.Decode(data)
	if err != nil {
		var de *DecodeError
		if !errors.As(err, &de) {
			return ReasonProtocolError, err
		}
		out, reason := c.session.HandleDecodeError(de, now)
		if werr := c.write(out); werr != nil {
			return ReasonIOError, werr
		}
		return reason, err
	}

	c.metrics.IncCounter("pdus_total", map[string]string{"command": CommandName(pdu.CommandID()), "direction": "in"})
	c.logger.Debug("PDU received", "command", CommandName(pdu.CommandID()), "seq", pdu.Header.SequenceNum, "status", StatusText(pdu.Header.CommandStatus))

	out, closeAfter := c.session.Handle(ctx, pdu, now)
	if err := c.write(out); err != nil {
		return ReasonIOError, err
	}
	if closeAfter {
		reason := c.session.CloseReason()
		if reason == ReasonNone {
			reason = ReasonClosedLocally
		}
		return reason, nil
	}
	return ReasonNone, nil
}

func classifyReadError(err error) DisconnectReason {
	var fe *FramingError
	switch {
	case errors.As(err, &fe):
		return ReasonFramingError
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return ReasonClosedByPeer
	}
	return ReasonIOError
}

func (c *Conn) readLoop(frames chan<- frameResult) {
	for {
		data, err := c.reader.ReadFrame()
		select {
		case frames <- frameResult{data: data, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// write encodes and writes out in order under the write deadline.
func (c *Conn) write(out []*PDU) error {
	for _, p := range out {
		frame, err := c.encoder.Encode(p)
		if err != nil {
			c.logger.Error("Failed to encode PDU", "command", CommandName(p.CommandID()), "seq", p.Header.SequenceNum, "error", err)
			continue
		}
		if err := c.netConn.SetWriteDeadline(time.Now().Add(c.session.Config().WriteTimeout)); err != nil && !errors.Is(err, os.ErrNoDeadline) {
			return err
		}
		if err := c.writer.WriteFrame(frame); err != nil {
			c.logger.Error("Write failed", "command", CommandName(p.CommandID()), "error", err)
			return err
		}
		c.metrics.IncCounter("pdus_total", map[string]string{"command": CommandName(p.CommandID()), "direction": "out"})
		c.logger.Debug("PDU sent", "command", CommandName(p.CommandID()), "seq", p.Header.SequenceNum, "status", StatusText(p.Header.CommandStatus))
	}
	return nil
}

func (c *Conn) publishState() {
	c.pending.Store(int32(c.session.Pending()))
	prev := SessionState(c.state.Load())
	cur := c.session.State()
	if prev == cur {
		return
	}
	c.state.Store(string(cur))
	c.mode.Store(int32(c.session.BindMode()))
	c.systemID.Store(c.session.SystemID())
	if c.hooks.OnStateChange != nil {
		c.hooks.OnStateChange(c, prev, cur)
	}
}

func (c *Conn) finish(reason DisconnectReason, err error) {
	if c.shutdown.Load() {
		reason = ReasonServerShutdown
	}
	c.session.Close(reason)
	c.reason.Store(string(c.session.CloseReason()))
	c.publishState()

	if cerr := c.netConn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		c.logger.Debug("Close transport", "error", cerr)
	}
	close(c.done)

	c.metrics.RecordDuration("session", time.Since(c.startedAt), map[string]string{"mode": c.session.BindMode().String()})
	if c.hooks.OnClose != nil {
		c.hooks.OnClose(c, c.Reason(), err)
	}
}

// Request sends a request PDU and waits for its response. A zero sequence
// number is allocated by the session. Requests beyond the window wait
// inside the session until a slot frees.
func (c *Conn) Request(ctx context.Context, p *PDU) (*PDU, error) {
	reply := make(chan Response, 1)
	select {
	case c.requests <- localRequest{pdu: p, reply: reply}:
	case <-c.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.PDU, r.Err
	case <-c.done:
		select {
		case r := <-reply:
			return r.PDU, r.Err
		default:
			return nil, ErrSessionClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit sends a submit_sm and returns the SMSC message_id.
func (c *Conn) Submit(ctx context.Context, sm *SubmitSM) (string, error) {
	resp, err := c.Request(ctx, NewPDU(sm))
	if err != nil {
		return "", err
	}
	body, ok := resp.Body.(*SubmitSMResp)
	if !ok {
		return "", fmt.Errorf("%w: unexpected %s", ErrInvalidField, CommandName(resp.CommandID()))
	}
	return body.MessageID, nil
}

// Deliver sends a deliver_sm to the bound ESME.
func (c *Conn) Deliver(ctx context.Context, dsm *DeliverSM) error {
	_, err := c.Request(ctx, NewPDU(dsm))
	return err
}

// EnquireLink probes the peer.
func (c *Conn) EnquireLink(ctx context.Context) error {
	_, err := c.Request(ctx, NewPDU(&EnquireLink{}))
	return err
}

// Unbind sends unbind, waits for unbind_resp and for the loop to close the
// connection.
func (c *Conn) Unbind(ctx context.Context) error {
	if _, err := c.Request(ctx, NewPDU(&Unbind{})); err != nil {
		return err
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the session without unbinding and waits for the loop.
func (c *Conn) Close() error {
	return c.closeWith(ReasonClosedLocally)
}

// Shutdown unbinds a bound session, then closes it. The disconnect reason
// is ReasonServerShutdown either way.
func (c *Conn) Shutdown(ctx context.Context) error {
	c.shutdown.Store(true)
	if c.State().IsBound() {
		if err := c.Unbind(ctx); err == nil {
			return nil
		}
	}
	return c.closeWith(ReasonServerShutdown)
}

func (c *Conn) closeWith(reason DisconnectReason) error {
	select {
	case c.closeReq <- reason:
	default:
	}
	if !c.running.Load() {
		// Loop never started; tear down directly.
		if c.running.CompareAndSwap(false, true) {
			c.finish(reason, nil)
			return nil
		}
	}
	<-c.done
	return nil
}
