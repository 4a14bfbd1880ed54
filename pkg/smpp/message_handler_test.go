package smpp_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oarkflow/smpp-engine/internal/storage"
	"github.com/oarkflow/smpp-engine/pkg/events"
	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

type receiptRecorder struct {
	ch chan *smpp.DeliverSM
}

func (r *receiptRecorder) DeliverReceipt(_ context.Context, dsm *smpp.DeliverSM) error {
	r.ch <- dsm
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []smpp.Event
}

func (r *eventRecorder) handle(_ context.Context, ev smpp.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) types() []smpp.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []smpp.EventType
	for _, ev := range r.events {
		out = append(out, ev.GetEventType())
	}
	return out
}

func newHandler(t *testing.T, receipts smpp.ReceiptSender) (*smpp.DefaultMessageHandler, *storage.InMemoryMessageStore, *eventRecorder) {
	t.Helper()
	store := storage.NewInMemoryMessageStore(nil)
	rec := &eventRecorder{}
	bus := events.NewEventBus(nil)
	if err := bus.Subscribe(context.Background(), events.AllEvents, events.NewEventHandlerFunc("recorder", rec.handle)); err != nil {
		t.Fatal(err)
	}
	n := 0
	h := smpp.NewDefaultMessageHandler(smpp.MessageHandlerDependencies{
		Store:          store,
		EventPublisher: bus,
		Receipts:       receipts,
		NewMessageID: func() string {
			n++
			return "msg-00" + string(rune('0'+n))
		},
	})
	t.Cleanup(h.Close)
	return h, store, rec
}

func submit(dest, text string) *smpp.SubmitSM {
	return &smpp.SubmitSM{
		Source:       smpp.Address{TON: smpp.TONInternational, NPI: smpp.NPIISDN, Addr: "447700900000"},
		Dest:         smpp.Address{TON: smpp.TONInternational, NPI: smpp.NPIISDN, Addr: dest},
		ShortMessage: []byte(text),
	}
}

func TestSubmitStoresMessage(t *testing.T) {
	h, store, rec := newHandler(t, nil)
	ctx := context.Background()

	id, err := h.OnSubmit(ctx, "s1", submit("447900000000", "hi"))
	if err != nil {
		t.Fatal(err)
	}
	if id != "msg-001" {
		t.Fatalf("id = %q", id)
	}
	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "s1" || got.State != smpp.MessageStateEnroute || string(got.Submit.ShortMessage) != "hi" {
		t.Fatalf("record = %+v", got)
	}
	if types := rec.types(); len(types) != 1 || types[0] != smpp.EventTypeSMSSubmitted {
		t.Fatalf("events = %v", types)
	}
}

func TestSubmitValidation(t *testing.T) {
	h, store, _ := newHandler(t, nil)
	ctx := context.Background()

	_, err := h.OnSubmit(ctx, "s1", submit("", "hi"))
	if smpp.StatusOf(err, 0) != smpp.StatusInvDstAdr {
		t.Fatalf("empty destination: %v", err)
	}

	odd := submit("1", "")
	odd.DataCoding = smpp.DataCodingUCS2
	odd.ShortMessage = []byte{0x00, 0x41, 0x00}
	_, err = h.OnSubmit(ctx, "s1", odd)
	if smpp.StatusOf(err, 0) != smpp.StatusSubmitFail {
		t.Fatalf("odd ucs2: %v", err)
	}
	if store.Count() != 0 {
		t.Fatalf("rejected messages were stored")
	}
}

func TestSubmitSchedulesReceipt(t *testing.T) {
	rr := &receiptRecorder{ch: make(chan *smpp.DeliverSM, 1)}
	h, store, _ := newHandler(t, rr)
	ctx := context.Background()

	sm := submit("447900000000", "hello")
	sm.RegisteredDelivery = smpp.RegisteredDeliverySuccessFailure
	id, err := h.OnSubmit(ctx, "s1", sm)
	if err != nil {
		t.Fatal(err)
	}

	var dsm *smpp.DeliverSM
	select {
	case dsm = <-rr.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no receipt sent")
	}
	r, err := smpp.ParseDeliveryReceipt(dsm)
	if err != nil {
		t.Fatal(err)
	}
	if r.MessageID != id || r.Stat != "DELIVRD" || r.Text != "hello" {
		t.Fatalf("receipt = %+v", r)
	}
	got, _ := store.Get(ctx, id)
	if got.State != smpp.MessageStateDelivered || got.DoneAt.IsZero() {
		t.Fatalf("record after receipt = %+v", got)
	}
}

func TestQueryCancelReplace(t *testing.T) {
	h, _, _ := newHandler(t, nil)
	ctx := context.Background()
	id, _ := h.OnSubmit(ctx, "s1", submit("447900000000", "first"))

	q, err := h.OnQuery(ctx, "s1", &smpp.QuerySM{MessageID: id})
	if err != nil || q.MessageState != smpp.MessageStateEnroute || q.FinalDate != "" {
		t.Fatalf("query = %+v, %v", q, err)
	}

	_, err = h.OnQuery(ctx, "s1", &smpp.QuerySM{MessageID: id, Source: smpp.Address{Addr: "999"}})
	if smpp.StatusOf(err, 0) != smpp.StatusInvSrcAdr {
		t.Fatalf("query from wrong source: %v", err)
	}
	_, err = h.OnQuery(ctx, "s1", &smpp.QuerySM{MessageID: "nope"})
	if smpp.StatusOf(err, 0) != smpp.StatusQueryFail {
		t.Fatalf("query unknown: %v", err)
	}

	if err := h.OnReplace(ctx, "s1", &smpp.ReplaceSM{MessageID: id, ShortMessage: []byte("second")}); err != nil {
		t.Fatal(err)
	}

	if err := h.OnCancel(ctx, "s1", &smpp.CancelSM{MessageID: id}); err != nil {
		t.Fatal(err)
	}
	q, _ = h.OnQuery(ctx, "s1", &smpp.QuerySM{MessageID: id})
	if q.MessageState != smpp.MessageStateDeleted || q.FinalDate == "" {
		t.Fatalf("query after cancel = %+v", q)
	}

	if err := h.OnCancel(ctx, "s1", &smpp.CancelSM{MessageID: id}); smpp.StatusOf(err, 0) != smpp.StatusCancelFail {
		t.Fatalf("second cancel: %v", err)
	}
	if err := h.OnReplace(ctx, "s1", &smpp.ReplaceSM{MessageID: id}); smpp.StatusOf(err, 0) != smpp.StatusReplaceFail {
		t.Fatalf("replace after cancel: %v", err)
	}
}

func TestReplaceChangesText(t *testing.T) {
	h, store, _ := newHandler(t, nil)
	ctx := context.Background()
	id, _ := h.OnSubmit(ctx, "s1", submit("447900000000", "first"))

	if err := h.OnReplace(ctx, "s1", &smpp.ReplaceSM{MessageID: id, ShortMessage: []byte("second")}); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Get(ctx, id)
	if string(got.Submit.ShortMessage) != "second" || got.Submit.Dest.Addr != "447900000000" {
		t.Fatalf("after replace = %+v", got.Submit)
	}
}

func TestDeliverReceiptUpdatesRecord(t *testing.T) {
	h, store, rec := newHandler(t, nil)
	ctx := context.Background()
	id, _ := h.OnSubmit(ctx, "s1", submit("447900000000", "x"))

	dsm := &smpp.DeliverSM{
		EsmClass:     smpp.EsmClassDeliveryReceipt,
		ShortMessage: []byte("id:" + id + " sub:001 dlvrd:000 submit date:2510181200 done date:2510181205 stat:UNDELIV err:005 text:x"),
	}
	if err := h.OnDeliver(ctx, "s2", dsm); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Get(ctx, id)
	if got.State != smpp.MessageStateUndeliverable || got.ErrorCode != 5 {
		t.Fatalf("record = %+v", got)
	}
	types := rec.types()
	if types[len(types)-1] != smpp.EventTypeDeliveryReport {
		t.Fatalf("events = %v", types)
	}

	// receipts for unknown messages are still acknowledged
	unknown := &smpp.DeliverSM{EsmClass: smpp.EsmClassDeliveryReceipt, ShortMessage: []byte("id:gone stat:DELIVRD")}
	if err := h.OnDeliver(ctx, "s2", unknown); err != nil {
		t.Fatal(err)
	}
}

func TestSubmitMultiReportsDistributionLists(t *testing.T) {
	h, store, _ := newHandler(t, nil)
	ctx := context.Background()

	sm := &smpp.SubmitMulti{
		Source: smpp.Address{Addr: "447700900000"},
		Dests: []smpp.DestinationAddress{
			{Flag: smpp.DestFlagSMEAddress, Address: smpp.Address{Addr: "447900000001"}},
			{Flag: smpp.DestFlagDistributionList, DLName: "friends"},
		},
		ShortMessage: []byte("hi all"),
	}
	id, failed, err := h.OnSubmitMulti(ctx, "s1", sm)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ErrorStatus != smpp.StatusInvDstAdr {
		t.Fatalf("failed = %+v", failed)
	}
	if _, err := store.Get(ctx, id); err != nil {
		t.Fatal(err)
	}

	_, _, err = h.OnSubmitMulti(ctx, "s1", &smpp.SubmitMulti{})
	if smpp.StatusOf(err, 0) != smpp.StatusInvNumDests {
		t.Fatalf("no destinations: %v", err)
	}
}

func TestHandlerWithoutStore(t *testing.T) {
	h := smpp.NewDefaultMessageHandler(smpp.MessageHandlerDependencies{})
	ctx := context.Background()
	if _, err := h.OnSubmit(ctx, "s1", submit("1", "x")); err != nil {
		t.Fatal(err)
	}
	_, err := h.OnQuery(ctx, "s1", &smpp.QuerySM{MessageID: "x"})
	var se *smpp.StatusError
	if !errors.As(err, &se) || se.Status != smpp.StatusQueryFail {
		t.Fatalf("query without store: %v", err)
	}
}
