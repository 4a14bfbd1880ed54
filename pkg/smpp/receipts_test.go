package smpp

import (
	"testing"
	"time"
)

func TestParseDeliveryReceipt(t *testing.T) {
	dsm := &DeliverSM{
		EsmClass:     EsmClassDeliveryReceipt,
		ShortMessage: []byte("id:abc123 sub:001 dlvrd:001 submit date:2510181200 done date:2510181201 stat:DELIVRD err:000 text:hello world"),
	}
	r, err := ParseDeliveryReceipt(dsm)
	if err != nil {
		t.Fatal(err)
	}
	if r.MessageID != "abc123" || r.Submitted != 1 || r.Delivered != 1 || r.Stat != "DELIVRD" || r.Err != "000" {
		t.Fatalf("receipt = %+v", r)
	}
	if r.Text != "hello world" {
		t.Errorf("text = %q", r.Text)
	}
	if want := time.Date(2025, 10, 18, 12, 0, 0, 0, time.UTC); !r.SubmitDate.Equal(want) {
		t.Errorf("submit date = %v", r.SubmitDate)
	}
	if want := time.Date(2025, 10, 18, 12, 1, 0, 0, time.UTC); !r.DoneDate.Equal(want) {
		t.Errorf("done date = %v", r.DoneDate)
	}
	if r.State() != MessageStateDelivered {
		t.Errorf("state = %d", r.State())
	}
}

func TestParseReceiptKeysInAnyCase(t *testing.T) {
	r, err := ParseDeliveryReceipt(&DeliverSM{ShortMessage: []byte("ID:77 STAT:undeliv ERR:005")})
	if err != nil {
		t.Fatal(err)
	}
	if r.MessageID != "77" || r.Stat != "UNDELIV" || r.Err != "005" {
		t.Fatalf("receipt = %+v", r)
	}
}

func TestParseReceiptPrefersTLV(t *testing.T) {
	dsm := &DeliverSM{ShortMessage: []byte("id:from-text stat:DELIVRD")}
	dsm.Options.SetString(TagReceiptedMessageID, "from-tlv")

	r, err := ParseDeliveryReceipt(dsm)
	if err != nil {
		t.Fatal(err)
	}
	if r.MessageID != "from-tlv" {
		t.Fatalf("message id = %q", r.MessageID)
	}
	if id, ok := ReceiptedMessageID(dsm); !ok || id != "from-tlv" {
		t.Fatalf("ReceiptedMessageID = %q, %v", id, ok)
	}
}

func TestParseReceiptFromPayload(t *testing.T) {
	dsm := &DeliverSM{}
	dsm.Options.Set(TagMessagePayload, []byte("id:p1 stat:EXPIRED"))
	r, err := ParseDeliveryReceipt(dsm)
	if err != nil {
		t.Fatal(err)
	}
	if r.MessageID != "p1" || r.State() != MessageStateExpired {
		t.Fatalf("receipt = %+v", r)
	}
}

func TestParseReceiptWithoutID(t *testing.T) {
	if _, err := ParseDeliveryReceipt(&DeliverSM{ShortMessage: []byte("stat:DELIVRD")}); err == nil {
		t.Fatal("receipt without id accepted")
	}
	if _, ok := ReceiptedMessageID(&DeliverSM{ShortMessage: []byte("hello")}); ok {
		t.Fatal("plain text treated as receipt")
	}
}

func TestNewDeliveryReceipt(t *testing.T) {
	orig := &SubmitSM{
		Source: Address{TON: TONInternational, NPI: NPIISDN, Addr: "447700900000"},
		Dest:   Address{TON: TONInternational, NPI: NPIISDN, Addr: "447900000000"},
	}
	at := time.Date(2025, 10, 18, 9, 30, 0, 0, time.UTC)
	dsm := NewDeliveryReceipt(orig, &DeliveryReceipt{
		MessageID:  "m-9",
		Submitted:  1,
		Delivered:  1,
		SubmitDate: at,
		DoneDate:   at.Add(time.Minute),
		Stat:       "DELIVRD",
		Text:       "this text is longer than twenty characters",
	})

	if !dsm.IsReceipt() {
		t.Fatal("esm_class does not mark a receipt")
	}
	if dsm.Source.Addr != "447900000000" || dsm.Dest.Addr != "447700900000" {
		t.Fatalf("addresses not swapped: %+v -> %+v", dsm.Source, dsm.Dest)
	}
	want := "id:m-9 sub:001 dlvrd:001 submit date:2510180930 done date:2510180931 stat:DELIVRD err:000 text:this text is longer "
	if got := string(dsm.ShortMessage); got != want {
		t.Fatalf("text:\n got %q\nwant %q", got, want)
	}
	if st, ok := dsm.Options.GetUint8(TagMessageStateOption); !ok || st != MessageStateDelivered {
		t.Fatalf("message_state = %d, %v", st, ok)
	}

	r, err := ParseDeliveryReceipt(dsm)
	if err != nil || r.MessageID != "m-9" || !r.DoneDate.Equal(at.Add(time.Minute)) {
		t.Fatalf("parse back: %+v, %v", r, err)
	}
}

func TestFormatAbsoluteTime(t *testing.T) {
	at := time.Date(2025, 10, 18, 12, 30, 45, 300*int(time.Millisecond), time.UTC)
	if got := FormatAbsoluteTime(at); got != "251018123045300+" {
		t.Fatalf("got %q", got)
	}
}

func TestStatTokens(t *testing.T) {
	for state, stat := range statByState {
		if StatFromMessageState(state) != stat || MessageStateFromStat(stat) != state {
			t.Errorf("state %d <-> %s does not round trip", state, stat)
		}
	}
	if MessageStateFromStat("bogus") != MessageStateUnknown {
		t.Error("unknown stat not mapped to UNKNOWN")
	}
}
