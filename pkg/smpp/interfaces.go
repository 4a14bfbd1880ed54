package smpp

import (
	"context"
	"time"
)

// Config is the full configuration tree loaded by internal/config.
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Session SessionConfig `json:"session" yaml:"session"`
	Client  ClientConfig  `json:"client" yaml:"client"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Auth    AuthConfig    `json:"auth" yaml:"auth"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// StorageConfig selects the message store backing the SMSC.
type StorageConfig struct {
	Type    string `json:"type" yaml:"type"` // memory or file
	DataDir string `json:"data_dir" yaml:"data_dir"`
	// Retention is how long final messages are kept, e.g. "72h".
	Retention string `json:"retention" yaml:"retention"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	Output string `json:"output" yaml:"output"`
	File   string `json:"file" yaml:"file"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Port      int    `json:"port" yaml:"port"`
	Path      string `json:"path" yaml:"path"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// AuthConfig lists the ESME accounts accepted by the built-in authenticator.
type AuthConfig struct {
	Users []UserConfig `json:"users" yaml:"users"`
}

type UserConfig struct {
	SystemID   string `json:"system_id" yaml:"system_id"`
	Password   string `json:"password" yaml:"password"`
	SystemType string `json:"system_type" yaml:"system_type"`
	Disabled   bool   `json:"disabled" yaml:"disabled"`
}

// SessionConfig holds the timers and limits of one SMPP session. Zero
// values are replaced by DefaultSessionConfig's.
type SessionConfig struct {
	BindTimeout         time.Duration
	EnquireLinkInterval time.Duration
	EnquireLinkTimeout  time.Duration
	ResponseTimeout     time.Duration
	HandlerTimeout      time.Duration
	WriteTimeout        time.Duration
	TickInterval        time.Duration
	MaxPDUSize          uint32
	WindowSize          int
	SubmitRate          float64 // requests per second, 0 = unlimited
	SubmitBurst         int
	MaxDecodeErrors     int
}

// DefaultSessionConfig returns the timers used when none are configured.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		BindTimeout:         30 * time.Second,
		EnquireLinkInterval: 30 * time.Second,
		EnquireLinkTimeout:  10 * time.Second,
		ResponseTimeout:     30 * time.Second,
		HandlerTimeout:      10 * time.Second,
		WriteTimeout:        10 * time.Second,
		TickInterval:        500 * time.Millisecond,
		MaxPDUSize:          DefaultMaxPDUSize,
		WindowSize:          10,
		MaxDecodeErrors:     5,
	}
}

// WithDefaults fills zero fields from DefaultSessionConfig.
func (c SessionConfig) WithDefaults() SessionConfig {
	d := DefaultSessionConfig()
	if c.BindTimeout <= 0 {
		c.BindTimeout = d.BindTimeout
	}
	if c.EnquireLinkInterval <= 0 {
		c.EnquireLinkInterval = d.EnquireLinkInterval
	}
	if c.EnquireLinkTimeout <= 0 {
		c.EnquireLinkTimeout = d.EnquireLinkTimeout
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = d.ResponseTimeout
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = d.HandlerTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.MaxPDUSize < HeaderLength {
		c.MaxPDUSize = d.MaxPDUSize
	}
	if c.WindowSize < 1 {
		c.WindowSize = d.WindowSize
	}
	if c.MaxDecodeErrors < 1 {
		c.MaxDecodeErrors = d.MaxDecodeErrors
	}
	return c
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host             string
	Port             int
	MaxConnections   int
	SystemID         string
	InterfaceVersion uint8
	TLSEnabled       bool
	TLSCertFile      string
	TLSKeyFile       string
}

// ClientConfig represents client configuration
type ClientConfig struct {
	Host                 string
	Port                 int
	SystemID             string
	Password             string
	SystemType           string
	BindType             string
	AddressRange         string
	ConnectTimeout       time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	TLSEnabled           bool
	TLSSkipVerify        bool
}

// Authenticator verifies bind credentials. Returning ErrInvalidPassword,
// ErrInvalidSystemID or a *StatusError selects the bind_resp status; any
// other error answers ESME_RBINDFAIL.
type Authenticator interface {
	Authenticate(ctx context.Context, systemID, password, systemType string) error
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, systemID, password, systemType string) error

func (f AuthenticatorFunc) Authenticate(ctx context.Context, systemID, password, systemType string) error {
	return f(ctx, systemID, password, systemType)
}

// MessageHandler receives business traffic from a session. Errors carrying
// a *StatusError choose the response status; other errors answer
// ESME_RSYSERR.
type MessageHandler interface {
	// OnSubmit accepts a submit_sm from an ESME and returns its message_id.
	OnSubmit(ctx context.Context, sessionID string, sm *SubmitSM) (string, error)

	// OnDeliver accepts a deliver_sm from the SMSC.
	OnDeliver(ctx context.Context, sessionID string, dsm *DeliverSM) error
}

// ExtendedMessageHandler is implemented by handlers that also serve the
// less common v3.4 operations. Sessions whose handler lacks it answer
// those commands with ESME_RINVCMDID.
type ExtendedMessageHandler interface {
	MessageHandler

	OnSubmitMulti(ctx context.Context, sessionID string, sm *SubmitMulti) (string, []UnsuccessfulSME, error)
	OnDataSM(ctx context.Context, sessionID string, dsm *DataSM) (string, error)
	OnQuery(ctx context.Context, sessionID string, q *QuerySM) (*QuerySMResp, error)
	OnCancel(ctx context.Context, sessionID string, c *CancelSM) error
	OnReplace(ctx context.Context, sessionID string, r *ReplaceSM) error
}

// AlertHandler is an optional MessageHandler extension for
// alert_notification, which has no response.
type AlertHandler interface {
	OnAlert(ctx context.Context, sessionID string, a *AlertNotification)
}

// EventPublisher interface defines event publishing operations
type EventPublisher interface {
	// PublishSMSEvent publishes an SMS-related event
	PublishSMSEvent(ctx context.Context, event *SMSEvent) error

	// PublishConnectionEvent publishes a connection-related event
	PublishConnectionEvent(ctx context.Context, event *ConnectionEvent) error

	// PublishDeliveryEvent publishes a delivery report event
	PublishDeliveryEvent(ctx context.Context, event *DeliveryEvent) error

	// Subscribe subscribes to events of a specific type
	Subscribe(ctx context.Context, eventType EventType, handler EventHandler) error

	// Unsubscribe unsubscribes from events
	Unsubscribe(ctx context.Context, eventType EventType, handler EventHandler) error
}

// EventHandler interface defines event handling operations
type EventHandler interface {
	// HandleEvent handles an event
	HandleEvent(ctx context.Context, event Event) error

	// GetHandlerID returns a unique identifier for this handler
	GetHandlerID() string
}

// Logger interface defines logging operations
type Logger interface {
	// Debug logs a debug message
	Debug(msg string, fields ...interface{})

	// Info logs an info message
	Info(msg string, fields ...interface{})

	// Warn logs a warning message
	Warn(msg string, fields ...interface{})

	// Error logs an error message
	Error(msg string, fields ...interface{})

	// Fatal logs a fatal message and exits
	Fatal(msg string, fields ...interface{})

	// WithFields returns a logger with additional fields
	WithFields(fields map[string]interface{}) Logger
}

// MetricsCollector interface defines metrics collection operations
type MetricsCollector interface {
	// IncCounter increments a counter metric
	IncCounter(name string, labels map[string]string)

	// SetGauge sets a gauge metric
	SetGauge(name string, value float64, labels map[string]string)

	// ObserveHistogram observes a value for a histogram metric
	ObserveHistogram(name string, value float64, labels map[string]string)

	// RecordDuration records a duration metric
	RecordDuration(name string, duration time.Duration, labels map[string]string)
}

// Event represents a system event
type Event interface {
	GetEventType() EventType
	GetTimestamp() time.Time
	GetData() map[string]interface{}
}

// EventType represents the type of event
type EventType string

const (
	EventTypeSMSSubmitted   EventType = "sms.submitted"
	EventTypeSMSDelivered   EventType = "sms.delivered"
	EventTypeSMSFailed      EventType = "sms.failed"
	EventTypeConnected      EventType = "connection.connected"
	EventTypeDisconnected   EventType = "connection.disconnected"
	EventTypeBound          EventType = "connection.bound"
	EventTypeUnbound        EventType = "connection.unbound"
	EventTypeDeliveryReport EventType = "delivery.report"
)

// SMSEvent represents an SMS-related event
type SMSEvent struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	MessageID string
	Source    string
	Dest      string
	Status    uint32
	Error     error
	Data      map[string]interface{}
}

func (e *SMSEvent) GetEventType() EventType {
	return e.Type
}

func (e *SMSEvent) GetTimestamp() time.Time {
	return e.Timestamp
}

func (e *SMSEvent) GetData() map[string]interface{} {
	return e.Data
}

// ConnectionEvent represents a connection-related event
type ConnectionEvent struct {
	Type       EventType
	Timestamp  time.Time
	SessionID  string
	SystemID   string
	BindMode   BindMode
	RemoteAddr string
	Reason     DisconnectReason
	Error      error
	Data       map[string]interface{}
}

func (e *ConnectionEvent) GetEventType() EventType {
	return e.Type
}

func (e *ConnectionEvent) GetTimestamp() time.Time {
	return e.Timestamp
}

func (e *ConnectionEvent) GetData() map[string]interface{} {
	return e.Data
}

// DeliveryEvent represents a delivery report event
type DeliveryEvent struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	MessageID string
	Receipt   *DeliveryReceipt
	Data      map[string]interface{}
}

func (e *DeliveryEvent) GetEventType() EventType {
	return e.Type
}

func (e *DeliveryEvent) GetTimestamp() time.Time {
	return e.Timestamp
}

func (e *DeliveryEvent) GetData() map[string]interface{} {
	return e.Data
}
