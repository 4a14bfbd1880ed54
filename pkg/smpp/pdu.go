package smpp

import "fmt"

// PDU is one SMPP frame: the fixed header plus a command-specific body.
type PDU struct {
	Header PDUHeader
	Body   PDUBody
}

// PDUHeader represents the SMPP PDU header
type PDUHeader struct {
	CommandLength uint32
	CommandID     uint32
	CommandStatus uint32
	SequenceNum   uint32
}

// PDUBody is implemented by every command body in this package. The set is
// closed: the codec dispatches on command_id to a fixed list of bodies, and
// anything else decodes to *UnknownPDU.
type PDUBody interface {
	CommandID() uint32
	marshal(w *fieldWriter)
	unmarshal(r *fieldReader, h *PDUHeader)
}

// NewPDU wraps body in a PDU. A zero sequence number is allocated by the
// session when the PDU is sent.
func NewPDU(body PDUBody) *PDU {
	return &PDU{Header: PDUHeader{CommandID: body.CommandID()}, Body: body}
}

// NewResponse builds the response to req. When body is nil the default
// empty body for req's command is used.
func NewResponse(req *PDU, status uint32, body PDUBody) *PDU {
	if body == nil {
		body = responseBodyFor(req)
	}
	return &PDU{
		Header: PDUHeader{
			CommandID:     body.CommandID(),
			CommandStatus: status,
			SequenceNum:   req.Header.SequenceNum,
		},
		Body: body,
	}
}

// NewGenericNack answers a PDU that could not be processed.
func NewGenericNack(seq, status uint32) *PDU {
	return &PDU{
		Header: PDUHeader{CommandID: CommandGenericNack, CommandStatus: status, SequenceNum: seq},
		Body:   &GenericNack{},
	}
}

// CommandID prefers the body's command ID over the header's.
func (p *PDU) CommandID() uint32 {
	if p.Body != nil {
		return p.Body.CommandID()
	}
	return p.Header.CommandID
}

// IsResponse reports whether p answers a request.
func (p *PDU) IsResponse() bool {
	return IsResponse(p.CommandID())
}

func (p *PDU) String() string {
	return fmt.Sprintf("%s seq=%d status=%s", CommandName(p.CommandID()), p.Header.SequenceNum, StatusText(p.Header.CommandStatus))
}

func responseBodyFor(req *PDU) PDUBody {
	switch b := req.Body.(type) {
	case *BindRequest:
		return &BindResponse{Mode: b.Mode}
	case *SubmitSM:
		return &SubmitSMResp{}
	case *DeliverSM:
		return &DeliverSMResp{}
	case *DataSM:
		return &DataSMResp{}
	case *QuerySM:
		return &QuerySMResp{MessageID: b.MessageID}
	case *CancelSM:
		return &CancelSMResp{}
	case *ReplaceSM:
		return &ReplaceSMResp{}
	case *SubmitMulti:
		return &SubmitMultiResp{}
	case *Unbind:
		return &UnbindResp{}
	case *EnquireLink:
		return &EnquireLinkResp{}
	}
	return &GenericNack{}
}

// newBody returns an empty body for a known command ID.
func newBody(id uint32) (PDUBody, bool) {
	switch id {
	case CommandBindTransmitter, CommandBindReceiver, CommandBindTransceiver:
		return &BindRequest{Mode: bindModeOf(id)}, true
	case CommandBindTransmitterResp, CommandBindReceiverResp, CommandBindTransceiverResp:
		return &BindResponse{Mode: bindModeOf(id &^ responseBit)}, true
	case CommandOutbind:
		return &Outbind{}, true
	case CommandUnbind:
		return &Unbind{}, true
	case CommandUnbindResp:
		return &UnbindResp{}, true
	case CommandEnquireLink:
		return &EnquireLink{}, true
	case CommandEnquireLinkResp:
		return &EnquireLinkResp{}, true
	case CommandGenericNack:
		return &GenericNack{}, true
	case CommandSubmitSM:
		return &SubmitSM{}, true
	case CommandSubmitSMResp:
		return &SubmitSMResp{}, true
	case CommandDeliverSM:
		return &DeliverSM{}, true
	case CommandDeliverSMResp:
		return &DeliverSMResp{}, true
	case CommandDataSM:
		return &DataSM{}, true
	case CommandDataSMResp:
		return &DataSMResp{}, true
	case CommandQuerySM:
		return &QuerySM{}, true
	case CommandQuerySMResp:
		return &QuerySMResp{}, true
	case CommandCancelSM:
		return &CancelSM{}, true
	case CommandCancelSMResp:
		return &CancelSMResp{}, true
	case CommandReplaceSM:
		return &ReplaceSM{}, true
	case CommandReplaceSMResp:
		return &ReplaceSMResp{}, true
	case CommandSubmitMulti:
		return &SubmitMulti{}, true
	case CommandSubmitMultiResp:
		return &SubmitMultiResp{}, true
	case CommandAlertNotification:
		return &AlertNotification{}, true
	}
	return nil, false
}

// emptyOnError reports whether a response body may be omitted because the
// command failed.
func emptyOnError(r *fieldReader, h *PDUHeader) bool {
	return h.CommandStatus != StatusOK && r.remaining() == 0
}

// Address represents an SMPP address
type Address struct {
	TON  uint8
	NPI  uint8
	Addr string
}

// BindMode is the traffic direction negotiated by a bind.
type BindMode int

const (
	BindNone BindMode = iota
	BindTransmitter
	BindReceiver
	BindTransceiver
)

func (m BindMode) String() string {
	switch m {
	case BindTransmitter:
		return "transmitter"
	case BindReceiver:
		return "receiver"
	case BindTransceiver:
		return "transceiver"
	default:
		return "none"
	}
}

// ParseBindMode accepts "transmitter"/"tx", "receiver"/"rx" and
// "transceiver"/"trx".
func ParseBindMode(s string) (BindMode, error) {
	switch s {
	case "transmitter", "tx":
		return BindTransmitter, nil
	case "receiver", "rx":
		return BindReceiver, nil
	case "transceiver", "trx", "":
		return BindTransceiver, nil
	}
	return BindNone, fmt.Errorf("unknown bind mode %q", s)
}

// CanSubmit reports whether the mode carries ESME-to-SMSC traffic.
func (m BindMode) CanSubmit() bool {
	return m == BindTransmitter || m == BindTransceiver
}

// CanReceive reports whether the mode carries SMSC-to-ESME traffic.
func (m BindMode) CanReceive() bool {
	return m == BindReceiver || m == BindTransceiver
}

func (m BindMode) commandID() uint32 {
	switch m {
	case BindTransmitter:
		return CommandBindTransmitter
	case BindReceiver:
		return CommandBindReceiver
	default:
		return CommandBindTransceiver
	}
}

func bindModeOf(id uint32) BindMode {
	switch id {
	case CommandBindTransmitter:
		return BindTransmitter
	case CommandBindReceiver:
		return BindReceiver
	case CommandBindTransceiver:
		return BindTransceiver
	}
	return BindNone
}

// BindRequest represents bind_transmitter, bind_receiver and
// bind_transceiver; Mode selects the command.
type BindRequest struct {
	Mode             BindMode
	SystemID         string
	Password         string
	SystemType       string
	InterfaceVersion uint8
	AddrTON          uint8
	AddrNPI          uint8
	AddressRange     string
}

func (b *BindRequest) CommandID() uint32 { return b.Mode.commandID() }

func (b *BindRequest) marshal(w *fieldWriter) {
	w.cstring("system_id", b.SystemID, MaxSystemIDLength)
	w.cstring("password", b.Password, MaxPasswordLength)
	w.cstring("system_type", b.SystemType, MaxSystemTypeLength)
	w.u8(b.InterfaceVersion)
	w.u8(b.AddrTON)
	w.u8(b.AddrNPI)
	w.cstring("address_range", b.AddressRange, MaxAddressRangeLength)
}

func (b *BindRequest) unmarshal(r *fieldReader, _ *PDUHeader) {
	b.SystemID = r.cstring("system_id", MaxSystemIDLength)
	b.Password = r.cstring("password", MaxPasswordLength)
	b.SystemType = r.cstring("system_type", MaxSystemTypeLength)
	b.InterfaceVersion = r.u8("interface_version")
	b.AddrTON = r.u8("addr_ton")
	b.AddrNPI = r.u8("addr_npi")
	b.AddressRange = r.cstring("address_range", MaxAddressRangeLength)
}

// BindResponse represents the three bind_*_resp commands.
type BindResponse struct {
	Mode     BindMode
	SystemID string
	Options  OptionalParameters
}

func (b *BindResponse) CommandID() uint32 { return ResponseID(b.Mode.commandID()) }

func (b *BindResponse) marshal(w *fieldWriter) {
	w.cstring("system_id", b.SystemID, MaxSystemIDLength)
	b.Options.marshal(w)
}

func (b *BindResponse) unmarshal(r *fieldReader, h *PDUHeader) {
	if emptyOnError(r, h) {
		return
	}
	b.SystemID = r.cstring("system_id", MaxSystemIDLength)
	b.Options = unmarshalOptionalParameters(r)
}

// Outbind asks an ESME to bind back to the SMSC.
type Outbind struct {
	SystemID string
	Password string
}

func (o *Outbind) CommandID() uint32 { return CommandOutbind }

func (o *Outbind) marshal(w *fieldWriter) {
	w.cstring("system_id", o.SystemID, MaxSystemIDLength)
	w.cstring("password", o.Password, MaxPasswordLength)
}

func (o *Outbind) unmarshal(r *fieldReader, _ *PDUHeader) {
	o.SystemID = r.cstring("system_id", MaxSystemIDLength)
	o.Password = r.cstring("password", MaxPasswordLength)
}

type emptyBody struct{}

func (emptyBody) marshal(*fieldWriter)                {}
func (emptyBody) unmarshal(*fieldReader, *PDUHeader) {}

type Unbind struct{ emptyBody }

func (*Unbind) CommandID() uint32 { return CommandUnbind }

type UnbindResp struct{ emptyBody }

func (*UnbindResp) CommandID() uint32 { return CommandUnbindResp }

type EnquireLink struct{ emptyBody }

func (*EnquireLink) CommandID() uint32 { return CommandEnquireLink }

type EnquireLinkResp struct{ emptyBody }

func (*EnquireLinkResp) CommandID() uint32 { return CommandEnquireLinkResp }

type GenericNack struct{ emptyBody }

func (*GenericNack) CommandID() uint32 { return CommandGenericNack }

// UnknownPDU holds a frame whose command_id has no body layout here. The
// raw body is kept so the frame can be logged or re-encoded as received.
type UnknownPDU struct {
	ID   uint32
	Body []byte
}

func (u *UnknownPDU) CommandID() uint32 { return u.ID }

func (u *UnknownPDU) marshal(w *fieldWriter) { w.octets(u.Body) }

func (u *UnknownPDU) unmarshal(r *fieldReader, _ *PDUHeader) {
	u.Body = r.octets("body", r.remaining())
}
