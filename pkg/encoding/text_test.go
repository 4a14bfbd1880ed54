package encoding

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	e := NewTextEncoder()
	tests := []struct {
		text   string
		coding uint8
	}{
		{"Hello @ £5 {ok}", CodingDefault},
		{"plain ascii", CodingIA5},
		{"café", CodingLatin1},
		{"Привет 👋", CodingUCS2},
		{"\x00\x01raw", CodingBinary8},
	}
	for _, tt := range tests {
		enc, err := e.Encode(tt.text, tt.coding)
		if err != nil {
			t.Fatalf("Encode(%q, %d): %v", tt.text, tt.coding, err)
		}
		dec, err := e.Decode(enc, tt.coding)
		if err != nil {
			t.Fatalf("Decode(%x, %d): %v", enc, tt.coding, err)
		}
		if dec != tt.text {
			t.Errorf("coding %d: got %q, want %q", tt.coding, dec, tt.text)
		}
	}
}

func TestGSMExtendedUsesEscape(t *testing.T) {
	got := NewTextEncoder().EncodeGSM7Bit("€")
	if !bytes.Equal(got, []byte{0x1B, 0x65}) {
		t.Fatalf("got %x", got)
	}
	if got := NewTextEncoder().EncodeGSM7Bit("✓"); !bytes.Equal(got, []byte{0x3F}) {
		t.Fatalf("unsupported rune encoded as %x", got)
	}
}

func TestDetectOptimalEncoding(t *testing.T) {
	e := NewTextEncoder()
	tests := map[string]uint8{
		"hello":      CodingDefault,
		"price: 5€":  CodingDefault,
		"naïve café": CodingLatin1,
		"日本":         CodingUCS2,
	}
	for text, want := range tests {
		if got := e.DetectOptimalEncoding(text); got != want {
			t.Errorf("DetectOptimalEncoding(%q) = %d, want %d", text, got, want)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	e := NewTextEncoder()
	if _, err := e.Decode([]byte{0x00, 0x41, 0x00}, CodingUCS2); err == nil {
		t.Error("odd length UCS2 accepted")
	}
	if _, err := e.Decode([]byte("x"), 0x77); err == nil {
		t.Error("unknown data coding accepted")
	}
	if _, err := e.Encode("é", CodingIA5); err == nil {
		t.Error("non-ASCII IA5 accepted")
	}
}
