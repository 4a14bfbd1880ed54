package smpp

import (
	"errors"
	"fmt"
)

var (
	ErrFieldTooLong    = errors.New("smpp: field exceeds maximum length")
	ErrInvalidField    = errors.New("smpp: invalid field value")
	ErrSessionClosed   = errors.New("smpp: session closed")
	ErrResponseTimeout = errors.New("smpp: response timeout")
	ErrNotBound        = errors.New("smpp: session not bound for this operation")
	ErrDuplicateSeq    = errors.New("smpp: sequence number already pending")
	ErrNoRoute         = errors.New("smpp: no session for message id")
	ErrSessionNotFound = errors.New("smpp: session not found")
	ErrMessageNotFound = errors.New("smpp: message not found")

	// Returned by an Authenticator to select the bind_resp status.
	ErrInvalidPassword = errors.New("smpp: invalid password")
	ErrInvalidSystemID = errors.New("smpp: invalid system_id")
)

// StatusError carries an explicit SMPP command_status. Collaborators return
// it to choose the status of the response they are answering.
type StatusError struct {
	Status  uint32
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return "smpp: " + StatusText(e.Status)
	}
	return fmt.Sprintf("smpp: %s: %s", StatusText(e.Status), e.Message)
}

// NewStatusError builds a StatusError.
func NewStatusError(status uint32, message string) *StatusError {
	return &StatusError{Status: status, Message: message}
}

// StatusOf returns the command_status carried by err, or fallback.
func StatusOf(err error, fallback uint32) uint32 {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return fallback
}

// DecodeErrorKind classifies a decode failure.
type DecodeErrorKind int

const (
	DecodeShortHeader DecodeErrorKind = iota
	DecodeBadLength
	DecodeTruncated
	DecodeBadCString
	DecodeBadField
	DecodeTrailingBytes
	DecodeBadTLV
	DecodeDuplicateTLV
)

func (k DecodeErrorKind) String() string {
	switch k {
	case DecodeShortHeader:
		return "short_header"
	case DecodeBadLength:
		return "bad_length"
	case DecodeTruncated:
		return "truncated"
	case DecodeBadCString:
		return "bad_cstring"
	case DecodeBadField:
		return "bad_field"
	case DecodeTrailingBytes:
		return "trailing_bytes"
	case DecodeBadTLV:
		return "bad_tlv"
	case DecodeDuplicateTLV:
		return "duplicate_tlv"
	default:
		return "unknown"
	}
}

// DecodeError reports a PDU that could not be decoded. Header is set when
// the fixed header was readable, so the failure can still be answered with
// the peer's sequence number.
type DecodeError struct {
	Kind   DecodeErrorKind
	Header *PDUHeader
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	msg := "smpp: decode " + e.Kind.String()
	if e.Header != nil {
		msg += fmt.Sprintf(" (%s seq=%d)", CommandName(e.Header.CommandID), e.Header.SequenceNum)
	}
	if e.Field != "" {
		msg += " field " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Status is the command_status used when answering the failed PDU.
func (e *DecodeError) Status() uint32 {
	switch e.Kind {
	case DecodeBadTLV, DecodeDuplicateTLV:
		return StatusInvOptParStream
	default:
		return StatusInvCmdLen
	}
}
