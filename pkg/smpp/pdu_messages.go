package smpp

import "fmt"

// SubmitSM represents submit_sm PDU. sm_length is derived from ShortMessage.
type SubmitSM struct {
	ServiceType          string
	Source               Address
	Dest                 Address
	EsmClass             uint8
	ProtocolID           uint8
	PriorityFlag         uint8
	ScheduleDeliveryTime string
	ValidityPeriod       string
	RegisteredDelivery   uint8
	ReplaceIfPresentFlag uint8
	DataCoding           uint8
	SMDefaultMsgID       uint8
	ShortMessage         []byte
	Options              OptionalParameters
}

func (s *SubmitSM) CommandID() uint32 { return CommandSubmitSM }

func (s *SubmitSM) marshal(w *fieldWriter) {
	w.cstring("service_type", s.ServiceType, MaxServiceTypeLength)
	w.address("source_addr", s.Source, MaxAddressLength)
	w.address("destination_addr", s.Dest, MaxAddressLength)
	w.u8(s.EsmClass)
	w.u8(s.ProtocolID)
	w.u8(s.PriorityFlag)
	w.timeString("schedule_delivery_time", s.ScheduleDeliveryTime)
	w.timeString("validity_period", s.ValidityPeriod)
	w.u8(s.RegisteredDelivery)
	w.u8(s.ReplaceIfPresentFlag)
	w.u8(s.DataCoding)
	w.u8(s.SMDefaultMsgID)
	writeShortMessage(w, s.ShortMessage)
	s.Options.marshal(w)
}

func (s *SubmitSM) unmarshal(r *fieldReader, _ *PDUHeader) {
	s.ServiceType = r.cstring("service_type", MaxServiceTypeLength)
	s.Source = r.address("source_addr", MaxAddressLength)
	s.Dest = r.address("destination_addr", MaxAddressLength)
	s.EsmClass = r.u8("esm_class")
	s.ProtocolID = r.u8("protocol_id")
	s.PriorityFlag = r.u8("priority_flag")
	s.ScheduleDeliveryTime = r.timeString("schedule_delivery_time")
	s.ValidityPeriod = r.timeString("validity_period")
	s.RegisteredDelivery = r.u8("registered_delivery")
	s.ReplaceIfPresentFlag = r.u8("replace_if_present_flag")
	s.DataCoding = r.u8("data_coding")
	s.SMDefaultMsgID = r.u8("sm_default_msg_id")
	s.ShortMessage = readShortMessage(r)
	s.Options = unmarshalOptionalParameters(r)
}

// DeliverSM represents deliver_sm. Its layout is identical to submit_sm.
type DeliverSM struct {
	ServiceType          string
	Source               Address
	Dest                 Address
	EsmClass             uint8
	ProtocolID           uint8
	PriorityFlag         uint8
	ScheduleDeliveryTime string
	ValidityPeriod       string
	RegisteredDelivery   uint8
	ReplaceIfPresentFlag uint8
	DataCoding           uint8
	SMDefaultMsgID       uint8
	ShortMessage         []byte
	Options              OptionalParameters
}

func (d *DeliverSM) CommandID() uint32 { return CommandDeliverSM }

func (d *DeliverSM) marshal(w *fieldWriter) { (*SubmitSM)(d).marshal(w) }

func (d *DeliverSM) unmarshal(r *fieldReader, h *PDUHeader) { (*SubmitSM)(d).unmarshal(r, h) }

// IsReceipt reports whether esm_class marks the message as a delivery receipt.
func (d *DeliverSM) IsReceipt() bool {
	return d.EsmClass&EsmClassMessageTypeMask == EsmClassDeliveryReceipt
}

func writeShortMessage(w *fieldWriter, msg []byte) {
	if w.err == nil && len(msg) > MaxShortMessageLength {
		w.err = fmt.Errorf("%w: short_message is %d octets, limit %d", ErrFieldTooLong, len(msg), MaxShortMessageLength)
		return
	}
	w.u8(uint8(len(msg)))
	w.octets(msg)
}

func readShortMessage(r *fieldReader) []byte {
	n := int(r.u8("sm_length"))
	if r.err == nil && n > MaxShortMessageLength {
		r.fail(DecodeBadField, "sm_length", "%d exceeds %d", n, MaxShortMessageLength)
		return nil
	}
	return r.octets("short_message", n)
}

// SubmitSMResp represents submit_sm_resp PDU
type SubmitSMResp struct {
	MessageID string
}

func (s *SubmitSMResp) CommandID() uint32 { return CommandSubmitSMResp }

func (s *SubmitSMResp) marshal(w *fieldWriter) {
	w.cstring("message_id", s.MessageID, MaxMessageIDLength)
}

func (s *SubmitSMResp) unmarshal(r *fieldReader, h *PDUHeader) {
	if emptyOnError(r, h) {
		return
	}
	s.MessageID = r.cstring("message_id", MaxMessageIDLength)
}

// DeliverSMResp represents deliver_sm_resp. MessageID is unused in v3.4 and
// normally empty.
type DeliverSMResp struct {
	MessageID string
}

func (d *DeliverSMResp) CommandID() uint32 { return CommandDeliverSMResp }

func (d *DeliverSMResp) marshal(w *fieldWriter) {
	w.cstring("message_id", d.MessageID, MaxMessageIDLength)
}

func (d *DeliverSMResp) unmarshal(r *fieldReader, h *PDUHeader) {
	if emptyOnError(r, h) {
		return
	}
	d.MessageID = r.cstring("message_id", MaxMessageIDLength)
}

// DataSM represents data_sm. The payload travels in the message_payload TLV.
type DataSM struct {
	ServiceType        string
	Source             Address
	Dest               Address
	EsmClass           uint8
	RegisteredDelivery uint8
	DataCoding         uint8
	Options            OptionalParameters
}

func (d *DataSM) CommandID() uint32 { return CommandDataSM }

func (d *DataSM) marshal(w *fieldWriter) {
	w.cstring("service_type", d.ServiceType, MaxServiceTypeLength)
	w.address("source_addr", d.Source, MaxESMEAddrLength)
	w.address("destination_addr", d.Dest, MaxESMEAddrLength)
	w.u8(d.EsmClass)
	w.u8(d.RegisteredDelivery)
	w.u8(d.DataCoding)
	d.Options.marshal(w)
}

func (d *DataSM) unmarshal(r *fieldReader, _ *PDUHeader) {
	d.ServiceType = r.cstring("service_type", MaxServiceTypeLength)
	d.Source = r.address("source_addr", MaxESMEAddrLength)
	d.Dest = r.address("destination_addr", MaxESMEAddrLength)
	d.EsmClass = r.u8("esm_class")
	d.RegisteredDelivery = r.u8("registered_delivery")
	d.DataCoding = r.u8("data_coding")
	d.Options = unmarshalOptionalParameters(r)
}

// DataSMResp represents data_sm_resp.
type DataSMResp struct {
	MessageID string
	Options   OptionalParameters
}

func (d *DataSMResp) CommandID() uint32 { return CommandDataSMResp }

func (d *DataSMResp) marshal(w *fieldWriter) {
	w.cstring("message_id", d.MessageID, MaxMessageIDLength)
	d.Options.marshal(w)
}

func (d *DataSMResp) unmarshal(r *fieldReader, h *PDUHeader) {
	if emptyOnError(r, h) {
		return
	}
	d.MessageID = r.cstring("message_id", MaxMessageIDLength)
	d.Options = unmarshalOptionalParameters(r)
}

// QuerySM represents a query_sm PDU
type QuerySM struct {
	MessageID string
	Source    Address
}

func (q *QuerySM) CommandID() uint32 { return CommandQuerySM }

func (q *QuerySM) marshal(w *fieldWriter) {
	w.cstring("message_id", q.MessageID, MaxMessageIDLength)
	w.address("source_addr", q.Source, MaxAddressLength)
}

func (q *QuerySM) unmarshal(r *fieldReader, _ *PDUHeader) {
	q.MessageID = r.cstring("message_id", MaxMessageIDLength)
	q.Source = r.address("source_addr", MaxAddressLength)
}

// QuerySMResp represents a query_sm_resp PDU
type QuerySMResp struct {
	MessageID    string
	FinalDate    string
	MessageState uint8
	ErrorCode    uint8
}

func (q *QuerySMResp) CommandID() uint32 { return CommandQuerySMResp }

func (q *QuerySMResp) marshal(w *fieldWriter) {
	w.cstring("message_id", q.MessageID, MaxMessageIDLength)
	w.timeString("final_date", q.FinalDate)
	w.u8(q.MessageState)
	w.u8(q.ErrorCode)
}

func (q *QuerySMResp) unmarshal(r *fieldReader, _ *PDUHeader) {
	q.MessageID = r.cstring("message_id", MaxMessageIDLength)
	q.FinalDate = r.timeString("final_date")
	q.MessageState = r.u8("message_state")
	q.ErrorCode = r.u8("error_code")
}

// CancelSM represents a cancel_sm PDU
type CancelSM struct {
	ServiceType string
	MessageID   string
	Source      Address
	Dest        Address
}

func (c *CancelSM) CommandID() uint32 { return CommandCancelSM }

func (c *CancelSM) marshal(w *fieldWriter) {
	w.cstring("service_type", c.ServiceType, MaxServiceTypeLength)
	w.cstring("message_id", c.MessageID, MaxMessageIDLength)
	w.address("source_addr", c.Source, MaxAddressLength)
	w.address("destination_addr", c.Dest, MaxAddressLength)
}

func (c *CancelSM) unmarshal(r *fieldReader, _ *PDUHeader) {
	c.ServiceType = r.cstring("service_type", MaxServiceTypeLength)
	c.MessageID = r.cstring("message_id", MaxMessageIDLength)
	c.Source = r.address("source_addr", MaxAddressLength)
	c.Dest = r.address("destination_addr", MaxAddressLength)
}

type CancelSMResp struct{ emptyBody }

func (*CancelSMResp) CommandID() uint32 { return CommandCancelSMResp }

// ReplaceSM represents a replace_sm PDU
type ReplaceSM struct {
	MessageID            string
	Source               Address
	ScheduleDeliveryTime string
	ValidityPeriod       string
	RegisteredDelivery   uint8
	SMDefaultMsgID       uint8
	ShortMessage         []byte
}

func (rs *ReplaceSM) CommandID() uint32 { return CommandReplaceSM }

func (rs *ReplaceSM) marshal(w *fieldWriter) {
	w.cstring("message_id", rs.MessageID, MaxMessageIDLength)
	w.address("source_addr", rs.Source, MaxAddressLength)
	w.timeString("schedule_delivery_time", rs.ScheduleDeliveryTime)
	w.timeString("validity_period", rs.ValidityPeriod)
	w.u8(rs.RegisteredDelivery)
	w.u8(rs.SMDefaultMsgID)
	writeShortMessage(w, rs.ShortMessage)
}

func (rs *ReplaceSM) unmarshal(r *fieldReader, _ *PDUHeader) {
	rs.MessageID = r.cstring("message_id", MaxMessageIDLength)
	rs.Source = r.address("source_addr", MaxAddressLength)
	rs.ScheduleDeliveryTime = r.timeString("schedule_delivery_time")
	rs.ValidityPeriod = r.timeString("validity_period")
	rs.RegisteredDelivery = r.u8("registered_delivery")
	rs.SMDefaultMsgID = r.u8("sm_default_msg_id")
	rs.ShortMessage = readShortMessage(r)
}

type ReplaceSMResp struct{ emptyBody }

func (*ReplaceSMResp) CommandID() uint32 { return CommandReplaceSMResp }

// Destination flags used by submit_multi.
const (
	DestFlagSMEAddress       = 0x01
	DestFlagDistributionList = 0x02
)

// DestinationAddress is one submit_multi destination: an SME address when
// Flag is DestFlagSMEAddress, otherwise a distribution list name.
type DestinationAddress struct {
	Flag    uint8
	Address Address
	DLName  string
}

// SubmitMulti represents a submit_multi PDU
type SubmitMulti struct {
	ServiceType          string
	Source               Address
	Dests                []DestinationAddress
	EsmClass             uint8
	ProtocolID           uint8
	PriorityFlag         uint8
	ScheduleDeliveryTime string
	ValidityPeriod       string
	RegisteredDelivery   uint8
	ReplaceIfPresentFlag uint8
	DataCoding           uint8
	SMDefaultMsgID       uint8
	ShortMessage         []byte
	Options              OptionalParameters
}

func (s *SubmitMulti) CommandID() uint32 { return CommandSubmitMulti }

func (s *SubmitMulti) marshal(w *fieldWriter) {
	w.cstring("service_type", s.ServiceType, MaxServiceTypeLength)
	w.address("source_addr", s.Source, MaxAddressLength)
	if w.err == nil && len(s.Dests) > 255 {
		w.err = fmt.Errorf("%w: %d destinations", ErrInvalidField, len(s.Dests))
		return
	}
	w.u8(uint8(len(s.Dests)))
	for _, d := range s.Dests {
		w.u8(d.Flag)
		switch d.Flag {
		case DestFlagSMEAddress:
			w.address("dest_address", d.Address, MaxAddressLength)
		case DestFlagDistributionList:
			w.cstring("dl_name", d.DLName, MaxDLNameLength)
		default:
			if w.err == nil {
				w.err = fmt.Errorf("%w: dest_flag %d", ErrInvalidField, d.Flag)
			}
		}
	}
	w.u8(s.EsmClass)
	w.u8(s.ProtocolID)
	w.u8(s.PriorityFlag)
	w.timeString("schedule_delivery_time", s.ScheduleDeliveryTime)
	w.timeString("validity_period", s.ValidityPeriod)
	w.u8(s.RegisteredDelivery)
	w.u8(s.ReplaceIfPresentFlag)
	w.u8(s.DataCoding)
	w.u8(s.SMDefaultMsgID)
	writeShortMessage(w, s.ShortMessage)
	s.Options.marshal(w)
}

func (s *SubmitMulti) unmarshal(r *fieldReader, _ *PDUHeader) {
	s.ServiceType = r.cstring("service_type", MaxServiceTypeLength)
	s.Source = r.address("source_addr", MaxAddressLength)
	n := int(r.u8("number_of_dests"))
	for i := 0; i < n && r.err == nil; i++ {
		d := DestinationAddress{Flag: r.u8("dest_flag")}
		switch d.Flag {
		case DestFlagSMEAddress:
			d.Address = r.address("dest_address", MaxAddressLength)
		case DestFlagDistributionList:
			d.DLName = r.cstring("dl_name", MaxDLNameLength)
		default:
			r.fail(DecodeBadField, "dest_flag", "unknown flag %d", d.Flag)
		}
		s.Dests = append(s.Dests, d)
	}
	s.EsmClass = r.u8("esm_class")
	s.ProtocolID = r.u8("protocol_id")
	s.PriorityFlag = r.u8("priority_flag")
	s.ScheduleDeliveryTime = r.timeString("schedule_delivery_time")
	s.ValidityPeriod = r.timeString("validity_period")
	s.RegisteredDelivery = r.u8("registered_delivery")
	s.ReplaceIfPresentFlag = r.u8("replace_if_present_flag")
	s.DataCoding = r.u8("data_coding")
	s.SMDefaultMsgID = r.u8("sm_default_msg_id")
	s.ShortMessage = readShortMessage(r)
	s.Options = unmarshalOptionalParameters(r)
}

// UnsuccessfulSME reports a submit_multi destination that was refused.
type UnsuccessfulSME struct {
	Address     Address
	ErrorStatus uint32
}

// SubmitMultiResp represents a submit_multi_resp PDU
type SubmitMultiResp struct {
	MessageID    string
	Unsuccessful []UnsuccessfulSME
}

func (s *SubmitMultiResp) CommandID() uint32 { return CommandSubmitMultiResp }

func (s *SubmitMultiResp) marshal(w *fieldWriter) {
	w.cstring("message_id", s.MessageID, MaxMessageIDLength)
	if w.err == nil && len(s.Unsuccessful) > 255 {
		w.err = fmt.Errorf("%w: %d unsuccessful entries", ErrInvalidField, len(s.Unsuccessful))
		return
	}
	w.u8(uint8(len(s.Unsuccessful)))
	for _, u := range s.Unsuccessful {
		w.address("dest_addr", u.Address, MaxAddressLength)
		w.u32(u.ErrorStatus)
	}
}

func (s *SubmitMultiResp) unmarshal(r *fieldReader, h *PDUHeader) {
	if emptyOnError(r, h) {
		return
	}
	s.MessageID = r.cstring("message_id", MaxMessageIDLength)
	n := int(r.u8("no_unsuccess"))
	for i := 0; i < n && r.err == nil; i++ {
		s.Unsuccessful = append(s.Unsuccessful, UnsuccessfulSME{
			Address:     r.address("dest_addr", MaxAddressLength),
			ErrorStatus: r.u32("error_status_code"),
		})
	}
}

// AlertNotification represents an alert_notification PDU
type AlertNotification struct {
	Source  Address
	ESME    Address
	Options OptionalParameters
}

func (a *AlertNotification) CommandID() uint32 { return CommandAlertNotification }

func (a *AlertNotification) marshal(w *fieldWriter) {
	w.address("source_addr", a.Source, MaxESMEAddrLength)
	w.address("esme_addr", a.ESME, MaxESMEAddrLength)
	a.Options.marshal(w)
}

func (a *AlertNotification) unmarshal(r *fieldReader, _ *PDUHeader) {
	a.Source = r.address("source_addr", MaxESMEAddrLength)
	a.ESME = r.address("esme_addr", MaxESMEAddrLength)
	a.Options = unmarshalOptionalParameters(r)
}
