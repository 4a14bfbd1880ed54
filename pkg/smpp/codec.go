package smpp

import (
	"encoding/binary"
	"fmt"

	"github.com/valyala/bytebufferpool"
)

var encodePool bytebufferpool.Pool

// PDUEncoder handles encoding of PDUs to binary format
type PDUEncoder struct{}

// NewPDUEncoder creates a new PDU encoder
func NewPDUEncoder() *PDUEncoder {
	return &PDUEncoder{}
}

// Encode returns the wire form of pdu. command_length and command_id are
// computed here and written back into pdu.Header.
func (e *PDUEncoder) Encode(pdu *PDU) ([]byte, error) {
	if pdu.Body == nil {
		return nil, fmt.Errorf("%w: pdu has no body", ErrInvalidField)
	}

	buf := encodePool.Get()
	defer encodePool.Put(buf)

	// Header is patched once the body length is known
	buf.B = append(buf.B[:0], make([]byte, HeaderLength)...)
	w := &fieldWriter{buf: buf}
	pdu.Body.marshal(w)
	if w.err != nil {
		return nil, fmt.Errorf("encode %s: %w", CommandName(pdu.Body.CommandID()), w.err)
	}

	pdu.Header.CommandLength = uint32(len(buf.B))
	pdu.Header.CommandID = pdu.Body.CommandID()
	binary.BigEndian.PutUint32(buf.B[0:], pdu.Header.CommandLength)
	binary.BigEndian.PutUint32(buf.B[4:], pdu.Header.CommandID)
	binary.BigEndian.PutUint32(buf.B[8:], pdu.Header.CommandStatus)
	binary.BigEndian.PutUint32(buf.B[12:], pdu.Header.SequenceNum)

	out := make([]byte, len(buf.B))
	copy(out, buf.B)
	return out, nil
}

// PDUDecoder handles decoding of PDUs from binary format
type PDUDecoder struct {
	MaxPDUSize uint32
}

// NewPDUDecoder creates a decoder that rejects frames above maxPDUSize.
// Zero selects DefaultMaxPDUSize.
func NewPDUDecoder(maxPDUSize uint32) *PDUDecoder {
	if maxPDUSize == 0 {
		maxPDUSize = DefaultMaxPDUSize
	}
	return &PDUDecoder{MaxPDUSize: maxPDUSize}
}

// PeekLength returns the command_length at the start of data.
func PeekLength(data []byte) (uint32, bool) {
	if len(data) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data), true
}

// Decode decodes the first PDU in data and reports how many bytes it
// occupied. Unknown command IDs decode to *UnknownPDU.
func (d *PDUDecoder) Decode(data []byte) (*PDU, int, error) {
	if len(data) < HeaderLength {
		return nil, 0, &DecodeError{Kind: DecodeShortHeader, Reason: fmt.Sprintf("%d bytes", len(data))}
	}

	header := PDUHeader{
		CommandLength: binary.BigEndian.Uint32(data[0:]),
		CommandID:     binary.BigEndian.Uint32(data[4:]),
		CommandStatus: binary.BigEndian.Uint32(data[8:]),
		SequenceNum:   binary.BigEndian.Uint32(data[12:]),
	}

	if header.CommandLength < HeaderLength || (d.MaxPDUSize > 0 && header.CommandLength > d.MaxPDUSize) {
		return nil, 0, &DecodeError{
			Kind:   DecodeBadLength,
			Header: &header,
			Reason: fmt.Sprintf("command_length %d", header.CommandLength),
		}
	}
	if int(header.CommandLength) > len(data) {
		return nil, 0, &DecodeError{
			Kind:   DecodeTruncated,
			Header: &header,
			Reason: fmt.Sprintf("command_length %d, have %d bytes", header.CommandLength, len(data)),
		}
	}

	frame := int(header.CommandLength)
	body, ok := newBody(header.CommandID)
	if !ok {
		body = &UnknownPDU{ID: header.CommandID}
	}

	r := newFieldReader(data[HeaderLength:frame])
	body.unmarshal(r, &header)
	if err := r.end(); err != nil {
		de := err.(*DecodeError)
		de.Header = &header
		return nil, frame, de
	}

	return &PDU{Header: header, Body: body}, frame, nil
}

// PDUBuilder fills in the fields most callers leave at their defaults.
type PDUBuilder struct {
	SourceTON          uint8
	SourceNPI          uint8
	DestTON            uint8
	DestNPI            uint8
	RegisteredDelivery uint8
}

// NewPDUBuilder returns a builder using international/ISDN addressing.
func NewPDUBuilder() *PDUBuilder {
	return &PDUBuilder{
		SourceTON: TONInternational,
		SourceNPI: NPIISDN,
		DestTON:   TONInternational,
		DestNPI:   NPIISDN,
	}
}

// BuildBind builds a bind request for mode.
func (b *PDUBuilder) BuildBind(mode BindMode, systemID, password, systemType, addressRange string) *PDU {
	return NewPDU(&BindRequest{
		Mode:             mode,
		SystemID:         systemID,
		Password:         password,
		SystemType:       systemType,
		InterfaceVersion: SMPPVersion,
		AddressRange:     addressRange,
	})
}

// BuildSubmitSM builds a submit_sm carrying an already encoded message.
func (b *PDUBuilder) BuildSubmitSM(sourceAddr, destAddr string, message []byte, dataCoding uint8) *PDU {
	return NewPDU(&SubmitSM{
		Source:             Address{TON: b.SourceTON, NPI: b.SourceNPI, Addr: sourceAddr},
		Dest:               Address{TON: b.DestTON, NPI: b.DestNPI, Addr: destAddr},
		RegisteredDelivery: b.RegisteredDelivery,
		DataCoding:         dataCoding,
		ShortMessage:       message,
	})
}
