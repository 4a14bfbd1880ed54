package events

import (
	"context"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

// EventHandlerFunc adapts a function to smpp.EventHandler.
type EventHandlerFunc struct {
	id      string
	handler func(ctx context.Context, event smpp.Event) error
}

// NewEventHandlerFunc creates a new EventHandlerFunc
func NewEventHandlerFunc(id string, handler func(ctx context.Context, event smpp.Event) error) *EventHandlerFunc {
	return &EventHandlerFunc{id: id, handler: handler}
}

func (ehf *EventHandlerFunc) HandleEvent(ctx context.Context, event smpp.Event) error {
	return ehf.handler(ctx, event)
}

func (ehf *EventHandlerFunc) GetHandlerID() string {
	return ehf.id
}

// LoggingEventHandler writes one log line per event.
type LoggingEventHandler struct {
	id     string
	logger smpp.Logger
}

// NewLoggingEventHandler creates a new logging event handler
func NewLoggingEventHandler(id string, logger smpp.Logger) *LoggingEventHandler {
	return &LoggingEventHandler{id: id, logger: logger}
}

func (leh *LoggingEventHandler) HandleEvent(ctx context.Context, event smpp.Event) error {
	if leh.logger == nil {
		return nil
	}

	fields := []interface{}{"event_type", string(event.GetEventType())}
	switch e := event.(type) {
	case *smpp.SMSEvent:
		fields = append(fields,
			"session_id", e.SessionID,
			"message_id", e.MessageID,
			"source", e.Source,
			"dest", e.Dest)
		if e.Status != smpp.StatusOK {
			fields = append(fields, "status", smpp.StatusText(e.Status))
		}
		if e.Error != nil {
			fields = append(fields, "error", e.Error)
		}
	case *smpp.ConnectionEvent:
		fields = append(fields,
			"session_id", e.SessionID,
			"system_id", e.SystemID,
			"remote_addr", e.RemoteAddr)
		if e.Reason != "" {
			fields = append(fields, "reason", string(e.Reason))
		}
		if e.Error != nil {
			fields = append(fields, "error", e.Error)
		}
	case *smpp.DeliveryEvent:
		fields = append(fields, "session_id", e.SessionID, "message_id", e.MessageID)
		if e.Receipt != nil {
			fields = append(fields, "stat", e.Receipt.Stat)
		}
	}

	leh.logger.Info("Event received", fields...)
	return nil
}

func (leh *LoggingEventHandler) GetHandlerID() string {
	return leh.id
}

// MetricsEventHandler counts events by type. Labels stay low-cardinality:
// message and session ids are never used as label values.
type MetricsEventHandler struct {
	id      string
	metrics smpp.MetricsCollector
}

// NewMetricsEventHandler creates a new metrics event handler
func NewMetricsEventHandler(id string, metrics smpp.MetricsCollector) *MetricsEventHandler {
	return &MetricsEventHandler{id: id, metrics: metrics}
}

func (meh *MetricsEventHandler) HandleEvent(ctx context.Context, event smpp.Event) error {
	if meh.metrics == nil {
		return nil
	}

	meh.metrics.IncCounter("events_total", map[string]string{
		"event_type": string(event.GetEventType()),
	})
	if e, ok := event.(*smpp.DeliveryEvent); ok && e.Receipt != nil {
		meh.metrics.IncCounter("receipts_total", map[string]string{"stat": e.Receipt.Stat})
	}
	return nil
}

func (meh *MetricsEventHandler) GetHandlerID() string {
	return meh.id
}
