package smpp

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// FramingError is returned when a length prefix cannot start a valid PDU.
// The stream cannot be resynchronised after it.
type FramingError struct {
	Length uint32
	Max    uint32
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("smpp: implausible command_length %d (allowed %d..%d)", e.Length, HeaderLength, e.Max)
}

// FrameReader splits a byte stream into PDU frames.
type FrameReader struct {
	r   *bufio.Reader
	max uint32
}

// NewFrameReader reads frames of at most maxPDUSize bytes from r.
func NewFrameReader(r io.Reader, maxPDUSize uint32) *FrameReader {
	if maxPDUSize == 0 {
		maxPDUSize = DefaultMaxPDUSize
	}
	return &FrameReader{r: bufio.NewReader(r), max: maxPDUSize}
}

// ReadFrame blocks until one whole frame is available. It returns io.EOF
// only when the stream ends on a frame boundary.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(fr.r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n < HeaderLength || n > fr.max {
		return nil, &FramingError{Length: n, Max: fr.max}
	}

	frame := make([]byte, n)
	copy(frame, prefix[:])
	if _, err := io.ReadFull(fr.r, frame[4:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

// FrameWriter writes whole frames, retrying short writes.
type FrameWriter struct {
	w io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes every byte of frame or returns the error that stopped it.
func (fw *FrameWriter) WriteFrame(frame []byte) error {
	for len(frame) > 0 {
		n, err := fw.w.Write(frame)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		frame = frame[n:]
	}
	return nil
}
