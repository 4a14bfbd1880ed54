package smpp

import (
	"encoding/binary"
	"fmt"

	"github.com/valyala/bytebufferpool"
)

// fieldReader walks a PDU body. The first failure sticks; later reads
// return zero values so body decoders can read straight through and check
// r.err once.
type fieldReader struct {
	data []byte
	off  int
	err  error
}

func newFieldReader(data []byte) *fieldReader {
	return &fieldReader{data: data}
}

func (r *fieldReader) remaining() int {
	return len(r.data) - r.off
}

func (r *fieldReader) fail(kind DecodeErrorKind, field, format string, args ...interface{}) {
	if r.err == nil {
		r.err = &DecodeError{Kind: kind, Field: field, Reason: fmt.Sprintf(format, args...)}
	}
}

func (r *fieldReader) need(n int, field string) bool {
	if r.err != nil {
		return false
	}
	if r.remaining() < n {
		r.fail(DecodeTruncated, field, "need %d bytes, have %d", n, r.remaining())
		return false
	}
	return true
}

func (r *fieldReader) u8(field string) uint8 {
	if !r.need(1, field) {
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *fieldReader) u16(field string) uint16 {
	if !r.need(2, field) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

func (r *fieldReader) u32(field string) uint32 {
	if !r.need(4, field) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

// cstring reads a NUL-terminated string of at most max bytes (NUL included).
func (r *fieldReader) cstring(field string, max int) string {
	if r.err != nil {
		return ""
	}
	limit := r.remaining()
	if limit > max {
		limit = max
	}
	for i := 0; i < limit; i++ {
		if r.data[r.off+i] == 0 {
			s := string(r.data[r.off : r.off+i])
			r.off += i + 1
			return s
		}
	}
	if r.remaining() < max {
		r.fail(DecodeTruncated, field, "unterminated string")
	} else {
		r.fail(DecodeBadCString, field, "no terminator within %d bytes", max)
	}
	return ""
}

// timeString reads an SMPP absolute/relative time: empty or 16 characters.
func (r *fieldReader) timeString(field string) string {
	s := r.cstring(field, MaxTimeLength)
	if r.err == nil && len(s) != 0 && len(s) != MaxTimeLength-1 {
		r.fail(DecodeBadField, field, "time must be empty or %d characters, got %d", MaxTimeLength-1, len(s))
	}
	return s
}

func (r *fieldReader) octets(field string, n int) []byte {
	if n == 0 || !r.need(n, field) {
		return nil
	}
	v := make([]byte, n)
	copy(v, r.data[r.off:r.off+n])
	r.off += n
	return v
}

func (r *fieldReader) address(prefix string, max int) Address {
	return Address{
		TON:  r.u8(prefix + "_ton"),
		NPI:  r.u8(prefix + "_npi"),
		Addr: r.cstring(prefix, max),
	}
}

// end fails unless every body byte was consumed.
func (r *fieldReader) end() error {
	if r.err == nil && r.remaining() != 0 {
		r.fail(DecodeTrailingBytes, "", "%d unread body bytes", r.remaining())
	}
	return r.err
}

// fieldWriter appends body fields to a pooled buffer with the same sticky
// error handling as fieldReader.
type fieldWriter struct {
	buf *bytebufferpool.ByteBuffer
	err error
}

func (w *fieldWriter) u8(v uint8) {
	if w.err == nil {
		w.buf.B = append(w.buf.B, v)
	}
}

func (w *fieldWriter) u16(v uint16) {
	if w.err == nil {
		w.buf.B = binary.BigEndian.AppendUint16(w.buf.B, v)
	}
}

func (w *fieldWriter) u32(v uint32) {
	if w.err == nil {
		w.buf.B = binary.BigEndian.AppendUint32(w.buf.B, v)
	}
}

func (w *fieldWriter) cstring(field, s string, max int) {
	if w.err != nil {
		return
	}
	if len(s)+1 > max {
		w.err = fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFieldTooLong, field, len(s), max-1)
		return
	}
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			w.err = fmt.Errorf("%w: %s contains NUL", ErrInvalidField, field)
			return
		}
	}
	w.buf.B = append(w.buf.B, s...)
	w.buf.B = append(w.buf.B, 0)
}

func (w *fieldWriter) timeString(field, s string) {
	if w.err == nil && len(s) != 0 && len(s) != MaxTimeLength-1 {
		w.err = fmt.Errorf("%w: %s must be empty or %d characters", ErrInvalidField, field, MaxTimeLength-1)
		return
	}
	w.cstring(field, s, MaxTimeLength)
}

func (w *fieldWriter) octets(v []byte) {
	if w.err == nil {
		w.buf.B = append(w.buf.B, v...)
	}
}

func (w *fieldWriter) address(prefix string, a Address, max int) {
	w.u8(a.TON)
	w.u8(a.NPI)
	w.cstring(prefix, a.Addr, max)
}
