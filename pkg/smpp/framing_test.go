package smpp

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// oneByteReader returns at most one byte per Read.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

// shortWriter accepts at most n bytes per Write.
type shortWriter struct {
	buf bytes.Buffer
	n   int
}

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) > s.n {
		p = p[:s.n]
	}
	return s.buf.Write(p)
}

func encodeAll(t *testing.T, pdus ...*PDU) []byte {
	t.Helper()
	var out []byte
	for _, p := range pdus {
		b, err := NewPDUEncoder().Encode(p)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, b...)
	}
	return out
}

func TestFrameReaderOneByteAtATime(t *testing.T) {
	a := NewPDU(&SubmitSM{Dest: Address{Addr: "447900000000"}, ShortMessage: []byte("hi")})
	a.Header.SequenceNum = 2
	b := NewPDU(&EnquireLink{})
	b.Header.SequenceNum = 3
	stream := encodeAll(t, a, b)

	fr := NewFrameReader(oneByteReader{bytes.NewReader(stream)}, 0)
	dec := NewPDUDecoder(0)

	for _, want := range []uint32{2, 3} {
		frame, err := fr.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		p, _, err := dec.Decode(frame)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if p.Header.SequenceNum != want {
			t.Errorf("seq = %d, want %d", p.Header.SequenceNum, want)
		}
	}
	if _, err := fr.ReadFrame(); err != io.EOF {
		t.Fatalf("after last frame err = %v, want io.EOF", err)
	}
}

func TestFrameReaderEOFMidFrame(t *testing.T) {
	stream := encodeAll(t, NewPDU(&SubmitSMResp{MessageID: "abc"}))
	fr := NewFrameReader(bytes.NewReader(stream[:len(stream)-2]), 0)
	if _, err := fr.ReadFrame(); err != io.ErrUnexpectedEOF {
		t.Fatalf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestFrameReaderRejectsImplausibleLength(t *testing.T) {
	for _, length := range []uint32{0, 15, 1 << 20} {
		prefix := []byte{byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length)}
		fr := NewFrameReader(bytes.NewReader(append(prefix, make([]byte, 32)...)), 4096)

		_, err := fr.ReadFrame()
		var fe *FramingError
		if !errors.As(err, &fe) {
			t.Fatalf("length %d: err = %v, want *FramingError", length, err)
		}
		if fe.Length != length || fe.Max != 4096 {
			t.Errorf("FramingError = %+v", fe)
		}
	}
}

func TestFrameWriterRetriesShortWrites(t *testing.T) {
	frame := encodeAll(t, NewPDU(&SubmitSM{Dest: Address{Addr: "1"}, ShortMessage: []byte("hello world")}))
	w := &shortWriter{n: 3}
	if err := NewFrameWriter(w).WriteFrame(frame); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(w.buf.Bytes(), frame) {
		t.Fatal("written bytes differ from frame")
	}
}

type zeroWriter struct{}

func (zeroWriter) Write([]byte) (int, error) { return 0, nil }

func TestFrameWriterZeroProgress(t *testing.T) {
	if err := NewFrameWriter(zeroWriter{}).WriteFrame([]byte{1}); err != io.ErrShortWrite {
		t.Fatalf("err = %v, want io.ErrShortWrite", err)
	}
}
