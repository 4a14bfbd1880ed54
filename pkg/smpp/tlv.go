package smpp

import (
	"encoding/binary"
	"fmt"
	"math"
)

// OptionalParameter is one TLV. Length is derived from Value on encode.
type OptionalParameter struct {
	Tag   uint16
	Value []byte
}

// OptionalParameters keeps TLVs in wire order. Tags the codec does not
// know are carried through untouched.
type OptionalParameters []OptionalParameter

// Get returns the value for tag.
func (o OptionalParameters) Get(tag uint16) ([]byte, bool) {
	for _, p := range o {
		if p.Tag == tag {
			return p.Value, true
		}
	}
	return nil, false
}

// Has reports whether tag is present.
func (o OptionalParameters) Has(tag uint16) bool {
	_, ok := o.Get(tag)
	return ok
}

// Set replaces the value of tag in place or appends it.
func (o *OptionalParameters) Set(tag uint16, value []byte) {
	for i := range *o {
		if (*o)[i].Tag == tag {
			(*o)[i].Value = value
			return
		}
	}
	*o = append(*o, OptionalParameter{Tag: tag, Value: value})
}

// SetString stores s as a NUL-terminated value.
func (o *OptionalParameters) SetString(tag uint16, s string) {
	v := make([]byte, len(s)+1)
	copy(v, s)
	o.Set(tag, v)
}

// GetString returns a C-string valued TLV with its terminator removed.
func (o OptionalParameters) GetString(tag uint16) (string, bool) {
	v, ok := o.Get(tag)
	if !ok {
		return "", false
	}
	for i, b := range v {
		if b == 0 {
			return string(v[:i]), true
		}
	}
	return string(v), true
}

// SetUint8 stores a one-octet value.
func (o *OptionalParameters) SetUint8(tag uint16, v uint8) {
	o.Set(tag, []byte{v})
}

// GetUint8 returns a one-octet value.
func (o OptionalParameters) GetUint8(tag uint16) (uint8, bool) {
	v, ok := o.Get(tag)
	if !ok || len(v) != 1 {
		return 0, false
	}
	return v[0], true
}

// SetUint16 stores a two-octet value.
func (o *OptionalParameters) SetUint16(tag uint16, v uint16) {
	o.Set(tag, binary.BigEndian.AppendUint16(nil, v))
}

// GetUint16 returns a two-octet value.
func (o OptionalParameters) GetUint16(tag uint16) (uint16, bool) {
	v, ok := o.Get(tag)
	if !ok || len(v) != 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(v), true
}

func (o OptionalParameters) marshal(w *fieldWriter) {
	for _, p := range o {
		if w.err != nil {
			return
		}
		if len(p.Value) > math.MaxUint16 {
			w.err = fmt.Errorf("%w: tlv 0x%04X value is %d bytes", ErrFieldTooLong, p.Tag, len(p.Value))
			return
		}
		w.u16(p.Tag)
		w.u16(uint16(len(p.Value)))
		w.octets(p.Value)
	}
}

// unmarshalOptionalParameters consumes the rest of the body as TLVs.
func unmarshalOptionalParameters(r *fieldReader) OptionalParameters {
	if r.err != nil || r.remaining() == 0 {
		return nil
	}
	var params OptionalParameters
	for r.remaining() > 0 {
		if r.remaining() < 4 {
			r.fail(DecodeBadTLV, "tlv", "%d trailing bytes cannot hold a tlv header", r.remaining())
			return nil
		}
		tag := binary.BigEndian.Uint16(r.data[r.off:])
		length := int(binary.BigEndian.Uint16(r.data[r.off+2:]))
		r.off += 4
		if length > r.remaining() {
			r.fail(DecodeBadTLV, fmt.Sprintf("tlv 0x%04X", tag), "length %d exceeds remaining %d", length, r.remaining())
			return nil
		}
		if params.Has(tag) {
			r.fail(DecodeDuplicateTLV, fmt.Sprintf("tlv 0x%04X", tag), "tag repeated")
			return nil
		}
		value := make([]byte, length)
		copy(value, r.data[r.off:r.off+length])
		r.off += length
		params = append(params, OptionalParameter{Tag: tag, Value: value})
	}
	return params
}
