package smpp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/rs/xid"

	"github.com/oarkflow/smpp-engine/pkg/encoding"
)

const deliveryBuffer = 64

// ClientDependencies holds all dependencies for the client
type ClientDependencies struct {
	// MessageHandler receives deliver_sm traffic. When nil, deliveries are
	// queued on Client.Deliveries instead.
	MessageHandler MessageHandler
	EventPublisher EventPublisher
	Logger         Logger
	Metrics        MetricsCollector
	Session        SessionConfig
}

// Client is an ESME bound to one SMSC. It runs the same session state
// machine as the server side, in the ESME role.
type Client struct {
	config     ClientConfig
	conn       *Conn
	logger     Logger
	events     EventPublisher
	builder    *PDUBuilder
	text       *encoding.TextEncoder
	deliveries chan *DeliverSM
}

// Dial connects to the SMSC named in cfg and binds.
func Dial(ctx context.Context, cfg ClientConfig, deps ClientDependencies) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var netConn net.Conn
	var err error
	if cfg.TLSEnabled {
		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: timeout},
			Config: &tls.Config{
				InsecureSkipVerify: cfg.TLSSkipVerify,
				ServerName:         cfg.Host,
			},
		}
		netConn, err = dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s with TLS: %w", addr, err)
		}
	} else {
		dialer := &net.Dialer{Timeout: timeout}
		netConn, err = dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
		}
	}

	if deps.Logger != nil {
		deps.Logger.Info("Connected to SMPP server", "address", addr, "tls", cfg.TLSEnabled)
	}
	return NewClient(ctx, netConn, cfg, deps)
}

// NewClient binds over an already established transport. The transport is
// closed if the bind fails.
func NewClient(ctx context.Context, netConn net.Conn, cfg ClientConfig, deps ClientDependencies) (*Client, error) {
	mode, err := ParseBindMode(cfg.BindType)
	if err != nil {
		netConn.Close()
		return nil, err
	}

	c := &Client{
		config:  cfg,
		logger:  deps.Logger,
		events:  deps.EventPublisher,
		builder: NewPDUBuilder(),
		text:    encoding.NewTextEncoder(),
	}
	if c.logger == nil {
		c.logger = nopLogger{}
	}
	handler := deps.MessageHandler
	if handler == nil {
		c.deliveries = make(chan *DeliverSM, deliveryBuffer)
		handler = queueHandler{ch: c.deliveries}
	}

	c.conn = NewConn(netConn, xid.New().String(), RoleESME, deps.Session, SessionDependencies{
		Handler: handler,
		Logger:  c.logger,
		Metrics: deps.Metrics,
	}, ConnHooks{OnClose: c.onClose})
	go c.conn.Run(context.Background())

	if err := c.bind(ctx, mode); err != nil {
		c.conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) bind(ctx context.Context, mode BindMode) error {
	req := c.builder.BuildBind(mode, c.config.SystemID, c.config.Password, c.config.SystemType, c.config.AddressRange)
	resp, err := c.conn.Request(ctx, req)
	if err != nil {
		c.logger.Warn("Bind failed", "system_id", c.config.SystemID, "mode", mode, "error", err)
		return fmt.Errorf("bind %s: %w", mode, err)
	}

	smsc := ""
	if br, ok := resp.Body.(*BindResponse); ok {
		smsc = br.SystemID
	}
	c.logger.Info("Bound to SMSC", "system_id", c.config.SystemID, "smsc", smsc, "mode", mode)
	c.publish(&ConnectionEvent{
		Type:       EventTypeBound,
		Timestamp:  time.Now(),
		SessionID:  c.conn.ID(),
		SystemID:   c.config.SystemID,
		BindMode:   mode,
		RemoteAddr: c.conn.RemoteAddr(),
	})
	return nil
}

func (c *Client) onClose(conn *Conn, reason DisconnectReason, err error) {
	c.logger.Info("Disconnected from SMSC", "reason", string(reason))
	c.publish(&ConnectionEvent{
		Type:       EventTypeDisconnected,
		Timestamp:  time.Now(),
		SessionID:  conn.ID(),
		SystemID:   c.config.SystemID,
		BindMode:   conn.BindMode(),
		RemoteAddr: conn.RemoteAddr(),
		Reason:     reason,
		Error:      err,
	})
}

// Conn exposes the underlying connection.
func (c *Client) Conn() *Conn { return c.conn }

// Deliveries returns queued deliver_sm PDUs when no MessageHandler was
// given. It is nil otherwise.
func (c *Client) Deliveries() <-chan *DeliverSM { return c.deliveries }

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} { return c.conn.Done() }

// Submit sends a submit_sm and returns the message_id assigned by the SMSC.
func (c *Client) Submit(ctx context.Context, sm *SubmitSM) (string, error) {
	id, err := c.conn.Submit(ctx, sm)
	if err != nil {
		return "", err
	}
	c.publish(&SMSEvent{
		Type:      EventTypeSMSSubmitted,
		Timestamp: time.Now(),
		SessionID: c.conn.ID(),
		MessageID: id,
		Source:    sm.Source.Addr,
		Dest:      sm.Dest.Addr,
	})
	return id, nil
}

// SendText encodes text with the narrowest data coding that carries it
// and submits it.
func (c *Client) SendText(ctx context.Context, source, dest, text string, registeredDelivery uint8) (string, error) {
	dc := c.text.DetectOptimalEncoding(text)
	msg, err := c.text.Encode(text, dc)
	if err != nil {
		return "", err
	}
	if len(msg) > MaxShortMessageLength {
		return "", fmt.Errorf("%w: message of %d octets needs segmentation", ErrFieldTooLong, len(msg))
	}
	p := c.builder.BuildSubmitSM(source, dest, msg, dc)
	sm := p.Body.(*SubmitSM)
	sm.RegisteredDelivery = registeredDelivery
	return c.Submit(ctx, sm)
}

// Query asks the SMSC for the state of a previously submitted message.
func (c *Client) Query(ctx context.Context, messageID string, source Address) (*QuerySMResp, error) {
	resp, err := c.conn.Request(ctx, NewPDU(&QuerySM{MessageID: messageID, Source: source}))
	if err != nil {
		return nil, err
	}
	q, ok := resp.Body.(*QuerySMResp)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected %s", ErrInvalidField, CommandName(resp.CommandID()))
	}
	return q, nil
}

// EnquireLink probes the SMSC.
func (c *Client) EnquireLink(ctx context.Context) error {
	return c.conn.EnquireLink(ctx)
}

// Unbind unbinds and waits for the connection to close.
func (c *Client) Unbind(ctx context.Context) error {
	return c.conn.Unbind(ctx)
}

// Close drops the connection without unbinding.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) publish(ev Event) {
	if c.events == nil {
		return
	}
	ctx := context.Background()
	switch e := ev.(type) {
	case *SMSEvent:
		_ = c.events.PublishSMSEvent(ctx, e)
	case *ConnectionEvent:
		_ = c.events.PublishConnectionEvent(ctx, e)
	}
}

// queueHandler hands deliveries to a channel. A full channel answers
// ESME_RMSGQFUL so the SMSC retries later.
type queueHandler struct {
	ch chan *DeliverSM
}

func (q queueHandler) OnSubmit(context.Context, string, *SubmitSM) (string, error) {
	return "", NewStatusError(StatusInvCmdID, "submit_sm not accepted by ESME")
}

func (q queueHandler) OnDeliver(ctx context.Context, _ string, dsm *DeliverSM) error {
	select {
	case q.ch <- dsm:
		return nil
	default:
		return NewStatusError(StatusMsgQFul, "delivery queue full")
	}
}
