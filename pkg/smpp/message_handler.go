package smpp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/puzpuzpuz/xsync"
	"github.com/rs/xid"

	"github.com/oarkflow/smpp-engine/pkg/encoding"
)

// MessageRecord is what the default handler keeps about an accepted
// message: enough to answer query_sm and to route its delivery receipt.
type MessageRecord struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	SystemID    string    `json:"system_id"`
	Submit      *SubmitSM `json:"submit"`
	State       uint8     `json:"state"`
	ErrorCode   uint8     `json:"error_code"`
	SubmittedAt time.Time `json:"submitted_at"`
	DoneAt      time.Time `json:"done_at,omitempty"`
}

// Final reports whether the message has reached a terminal state.
func (m *MessageRecord) Final() bool {
	switch m.State {
	case MessageStateDelivered, MessageStateExpired, MessageStateDeleted,
		MessageStateUndeliverable, MessageStateRejected:
		return true
	}
	return false
}

// MessageStore persists message records. Implementations must be safe for
// concurrent use; every session calls into the same store.
type MessageStore interface {
	Save(ctx context.Context, rec *MessageRecord) error
	// Get returns ErrMessageNotFound for unknown ids.
	Get(ctx context.Context, id string) (*MessageRecord, error)
	// Update applies fn to the stored record under the store's lock.
	Update(ctx context.Context, id string, fn func(*MessageRecord) error) error
	Delete(ctx context.Context, id string) error
}

// ReceiptSender delivers a receipt deliver_sm to whichever session
// submitted the original message. *Server implements it.
type ReceiptSender interface {
	DeliverReceipt(ctx context.Context, dsm *DeliverSM) error
}

// MessageHandlerDependencies holds the collaborators of DefaultMessageHandler.
type MessageHandlerDependencies struct {
	Store          MessageStore
	EventPublisher EventPublisher
	Logger         Logger
	Metrics        MetricsCollector

	// Receipts, when set, receives a DELIVRD receipt ReceiptDelay after each
	// submit that asked for one.
	Receipts     ReceiptSender
	ReceiptDelay time.Duration

	// NewMessageID overrides the xid based message id generator.
	NewMessageID func() string
}

// DefaultMessageHandler accepts every well-formed message, stores it and
// optionally answers with a delivery receipt. It serves both roles: as an
// SMSC it handles submits, as an ESME it consumes deliveries and receipts.
type DefaultMessageHandler struct {
	store    MessageStore
	events   EventPublisher
	logger   Logger
	metrics  MetricsCollector
	text     *encoding.TextEncoder
	receipts ReceiptSender
	delay    time.Duration
	newID    func() string
	timers   *xsync.MapOf[string, *time.Timer]
}

// NewDefaultMessageHandler creates a handler. A nil Store keeps no
// records, so query_sm, cancel_sm and replace_sm fail.
func NewDefaultMessageHandler(deps MessageHandlerDependencies) *DefaultMessageHandler {
	h := &DefaultMessageHandler{
		store:    deps.Store,
		events:   deps.EventPublisher,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		text:     encoding.NewTextEncoder(),
		receipts: deps.Receipts,
		delay:    deps.ReceiptDelay,
		newID:    deps.NewMessageID,
		timers:   xsync.NewMapOf[*time.Timer](),
	}
	if h.logger == nil {
		h.logger = nopLogger{}
	}
	if h.newID == nil {
		h.newID = func() string { return xid.New().String() }
	}
	return h
}

// SetReceiptSender wires the receipt path after construction, since the
// server that sends receipts is itself built with this handler.
func (h *DefaultMessageHandler) SetReceiptSender(rs ReceiptSender) {
	h.receipts = rs
}

// OnSubmit implements MessageHandler.
func (h *DefaultMessageHandler) OnSubmit(ctx context.Context, sessionID string, sm *SubmitSM) (string, error) {
	if sm.Dest.Addr == "" {
		return "", NewStatusError(StatusInvDstAdr, "empty destination")
	}
	payload := sm.ShortMessage
	if len(payload) == 0 {
		payload, _ = sm.Options.Get(TagMessagePayload)
	}
	if sm.EsmClass&EsmClassUDHI == 0 {
		if _, err := h.text.Decode(payload, sm.DataCoding); err != nil {
			return "", NewStatusError(StatusSubmitFail, err.Error())
		}
	}

	id := h.newID()
	if err := h.save(ctx, sessionID, id, sm); err != nil {
		return "", err
	}

	h.logger.Info("Message accepted",
		"message_id", id,
		"session_id", sessionID,
		"source", sm.Source.Addr,
		"dest", sm.Dest.Addr,
		"data_coding", sm.DataCoding,
		"length", len(payload))
	if h.metrics != nil {
		h.metrics.IncCounter("messages_total", map[string]string{
			"command":     "submit_sm",
			"data_coding": strconv.Itoa(int(sm.DataCoding)),
		})
	}
	h.publish(ctx, &SMSEvent{
		Type:      EventTypeSMSSubmitted,
		Timestamp: time.Now(),
		SessionID: sessionID,
		MessageID: id,
		Source:    sm.Source.Addr,
		Dest:      sm.Dest.Addr,
	})

	if sm.RegisteredDelivery&RegisteredDeliveryMask == RegisteredDeliverySuccessFailure {
		h.scheduleReceipt(id, sm)
	}
	return id, nil
}

func (h *DefaultMessageHandler) save(ctx context.Context, sessionID, id string, sm *SubmitSM) error {
	if h.store == nil {
		return nil
	}
	rec := &MessageRecord{
		ID:          id,
		SessionID:   sessionID,
		Submit:      sm,
		State:       MessageStateEnroute,
		SubmittedAt: time.Now(),
	}
	if err := h.store.Save(ctx, rec); err != nil {
		h.logger.Error("Failed to store message", "message_id", id, "error", err)
		return NewStatusError(StatusSysErr, err.Error())
	}
	return nil
}

// scheduleReceipt marks the message delivered after the configured delay
// and sends its receipt.
func (h *DefaultMessageHandler) scheduleReceipt(id string, sm *SubmitSM) {
	if h.receipts == nil {
		return
	}
	submitted := time.Now()
	t := time.AfterFunc(h.delay, func() {
		h.timers.Delete(id)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		done := time.Now()
		if h.store != nil {
			err := h.store.Update(ctx, id, func(rec *MessageRecord) error {
				if rec.Final() {
					return fmt.Errorf("message %s already final", id)
				}
				rec.State = MessageStateDelivered
				rec.DoneAt = done
				return nil
			})
			if err != nil {
				h.logger.Debug("Receipt skipped", "message_id", id, "error", err)
				return
			}
		}
		text, _ := h.text.Decode(sm.ShortMessage, sm.DataCoding)
		receipt := &DeliveryReceipt{
			MessageID:  id,
			Submitted:  1,
			Delivered:  1,
			SubmitDate: submitted,
			DoneDate:   done,
			Stat:       StatFromMessageState(MessageStateDelivered),
			Text:       text,
		}
		if err := h.receipts.DeliverReceipt(ctx, NewDeliveryReceipt(sm, receipt)); err != nil {
			h.logger.Warn("Failed to deliver receipt", "message_id", id, "error", err)
			return
		}
		h.publish(ctx, &DeliveryEvent{
			Type:      EventTypeDeliveryReport,
			Timestamp: done,
			MessageID: id,
			Receipt:   receipt,
		})
	})
	h.timers.Store(id, t)
}

// Close stops pending receipt timers.
func (h *DefaultMessageHandler) Close() {
	h.timers.Range(func(id string, t *time.Timer) bool {
		t.Stop()
		h.timers.Delete(id)
		return true
	})
}

// OnDeliver implements MessageHandler. Receipts update the stored record
// of the message they refer to.
func (h *DefaultMessageHandler) OnDeliver(ctx context.Context, sessionID string, dsm *DeliverSM) error {
	if !dsm.IsReceipt() {
		text, err := h.text.Decode(dsm.ShortMessage, dsm.DataCoding)
		if err != nil {
			text = fmt.Sprintf("%x", dsm.ShortMessage)
		}
		h.logger.Info("Message delivered", "session_id", sessionID, "source", dsm.Source.Addr, "dest", dsm.Dest.Addr, "text", text)
		h.publish(ctx, &SMSEvent{
			Type:      EventTypeSMSDelivered,
			Timestamp: time.Now(),
			SessionID: sessionID,
			Source:    dsm.Source.Addr,
			Dest:      dsm.Dest.Addr,
		})
		return nil
	}

	receipt, err := ParseDeliveryReceipt(dsm)
	if err != nil {
		h.logger.Warn("Malformed delivery receipt", "session_id", sessionID, "error", err)
		return nil
	}
	h.logger.Info("Delivery receipt", "session_id", sessionID, "message_id", receipt.MessageID, "stat", receipt.Stat)

	if h.store != nil {
		err := h.store.Update(ctx, receipt.MessageID, func(rec *MessageRecord) error {
			rec.State = receipt.State()
			rec.DoneAt = receipt.DoneDate
			if code, err := strconv.Atoi(receipt.Err); err == nil {
				rec.ErrorCode = uint8(code)
			}
			return nil
		})
		if err != nil {
			h.logger.Debug("Receipt for unknown message", "message_id", receipt.MessageID, "error", err)
		}
	}
	h.publish(ctx, &DeliveryEvent{
		Type:      EventTypeDeliveryReport,
		Timestamp: time.Now(),
		SessionID: sessionID,
		MessageID: receipt.MessageID,
		Receipt:   receipt,
	})
	return nil
}

// OnSubmitMulti implements ExtendedMessageHandler. Each destination is
// stored under the same message id; distribution lists are not expanded
// and are reported back as unsuccessful.
func (h *DefaultMessageHandler) OnSubmitMulti(ctx context.Context, sessionID string, sm *SubmitMulti) (string, []UnsuccessfulSME, error) {
	if len(sm.Dests) == 0 {
		return "", nil, NewStatusError(StatusInvNumDests, "no destinations")
	}
	id := h.newID()
	var failed []UnsuccessfulSME
	var accepted int
	for _, d := range sm.Dests {
		if d.Flag != DestFlagSMEAddress || d.Address.Addr == "" {
			failed = append(failed, UnsuccessfulSME{Address: d.Address, ErrorStatus: StatusInvDstAdr})
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return "", nil, NewStatusError(StatusInvDstAdr, "no deliverable destination")
	}
	single := &SubmitSM{
		ServiceType:        sm.ServiceType,
		Source:             sm.Source,
		EsmClass:           sm.EsmClass,
		ProtocolID:         sm.ProtocolID,
		PriorityFlag:       sm.PriorityFlag,
		RegisteredDelivery: sm.RegisteredDelivery,
		DataCoding:         sm.DataCoding,
		ShortMessage:       sm.ShortMessage,
	}
	if err := h.save(ctx, sessionID, id, single); err != nil {
		return "", nil, err
	}
	h.logger.Info("Multi-destination message accepted", "message_id", id, "session_id", sessionID, "accepted", accepted, "failed", len(failed))
	h.publish(ctx, &SMSEvent{
		Type:      EventTypeSMSSubmitted,
		Timestamp: time.Now(),
		SessionID: sessionID,
		MessageID: id,
		Source:    sm.Source.Addr,
		Data:      map[string]interface{}{"destinations": accepted},
	})
	return id, failed, nil
}

// OnDataSM implements ExtendedMessageHandler.
func (h *DefaultMessageHandler) OnDataSM(ctx context.Context, sessionID string, dsm *DataSM) (string, error) {
	if dsm.Dest.Addr == "" {
		return "", NewStatusError(StatusInvDstAdr, "empty destination")
	}
	payload, _ := dsm.Options.Get(TagMessagePayload)
	id := h.newID()
	sm := &SubmitSM{
		ServiceType:        dsm.ServiceType,
		Source:             dsm.Source,
		Dest:               dsm.Dest,
		EsmClass:           dsm.EsmClass,
		RegisteredDelivery: dsm.RegisteredDelivery,
		DataCoding:         dsm.DataCoding,
		Options:            dsm.Options,
	}
	if err := h.save(ctx, sessionID, id, sm); err != nil {
		return "", err
	}
	h.logger.Info("DataSM accepted", "message_id", id, "session_id", sessionID, "length", len(payload))
	h.publish(ctx, &SMSEvent{
		Type:      EventTypeSMSSubmitted,
		Timestamp: time.Now(),
		SessionID: sessionID,
		MessageID: id,
		Source:    dsm.Source.Addr,
		Dest:      dsm.Dest.Addr,
	})
	return id, nil
}

// OnQuery implements ExtendedMessageHandler.
func (h *DefaultMessageHandler) OnQuery(ctx context.Context, sessionID string, q *QuerySM) (*QuerySMResp, error) {
	rec, err := h.lookup(ctx, q.MessageID, q.Source, StatusQueryFail)
	if err != nil {
		return nil, err
	}
	resp := &QuerySMResp{
		MessageID:    rec.ID,
		MessageState: rec.State,
		ErrorCode:    rec.ErrorCode,
	}
	if !rec.DoneAt.IsZero() {
		resp.FinalDate = FormatAbsoluteTime(rec.DoneAt)
	}
	return resp, nil
}

// OnCancel implements ExtendedMessageHandler.
func (h *DefaultMessageHandler) OnCancel(ctx context.Context, sessionID string, c *CancelSM) error {
	if _, err := h.lookup(ctx, c.MessageID, c.Source, StatusCancelFail); err != nil {
		return err
	}
	err := h.store.Update(ctx, c.MessageID, func(rec *MessageRecord) error {
		if rec.Final() {
			return NewStatusError(StatusCancelFail, "message already final")
		}
		rec.State = MessageStateDeleted
		rec.DoneAt = time.Now()
		return nil
	})
	if err != nil {
		return asStatus(err, StatusCancelFail)
	}
	if t, ok := h.timers.LoadAndDelete(c.MessageID); ok {
		t.Stop()
	}
	h.logger.Info("Message cancelled", "message_id", c.MessageID, "session_id", sessionID)
	return nil
}

// OnReplace implements ExtendedMessageHandler.
func (h *DefaultMessageHandler) OnReplace(ctx context.Context, sessionID string, r *ReplaceSM) error {
	if _, err := h.lookup(ctx, r.MessageID, r.Source, StatusReplaceFail); err != nil {
		return err
	}
	err := h.store.Update(ctx, r.MessageID, func(rec *MessageRecord) error {
		if rec.Final() {
			return NewStatusError(StatusReplaceFail, "message already final")
		}
		next := *rec.Submit
		next.ShortMessage = r.ShortMessage
		next.ScheduleDeliveryTime = r.ScheduleDeliveryTime
		next.ValidityPeriod = r.ValidityPeriod
		next.RegisteredDelivery = r.RegisteredDelivery
		next.SMDefaultMsgID = r.SMDefaultMsgID
		rec.Submit = &next
		return nil
	})
	if err != nil {
		return asStatus(err, StatusReplaceFail)
	}
	h.logger.Info("Message replaced", "message_id", r.MessageID, "session_id", sessionID)
	return nil
}

// lookup finds a stored message and checks that source matches the
// original submitter when given.
func (h *DefaultMessageHandler) lookup(ctx context.Context, id string, source Address, failStatus uint32) (*MessageRecord, error) {
	if h.store == nil {
		return nil, NewStatusError(failStatus, "no message store")
	}
	rec, err := h.store.Get(ctx, id)
	if err != nil {
		return nil, asStatus(err, failStatus)
	}
	if source.Addr != "" && rec.Submit != nil && rec.Submit.Source.Addr != source.Addr {
		return nil, NewStatusError(StatusInvSrcAdr, "source does not match original submitter")
	}
	return rec, nil
}

func asStatus(err error, fallback uint32) error {
	var se *StatusError
	if errors.As(err, &se) {
		return err
	}
	return NewStatusError(fallback, err.Error())
}

func (h *DefaultMessageHandler) publish(ctx context.Context, ev Event) {
	if h.events == nil {
		return
	}
	var err error
	switch e := ev.(type) {
	case *SMSEvent:
		err = h.events.PublishSMSEvent(ctx, e)
	case *DeliveryEvent:
		err = h.events.PublishDeliveryEvent(ctx, e)
	}
	if err != nil {
		h.logger.Debug("Event publish failed", "type", ev.GetEventType(), "error", err)
	}
}
