package smpp

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"
)

type wirePeer struct {
	t    *testing.T
	conn net.Conn
	r    *FrameReader
	enc  *PDUEncoder
	dec  *PDUDecoder
}

func newWirePeer(t *testing.T, conn net.Conn) *wirePeer {
	return &wirePeer{t: t, conn: conn, r: NewFrameReader(conn, DefaultMaxPDUSize), enc: NewPDUEncoder(), dec: NewPDUDecoder(0)}
}

func (w *wirePeer) send(body PDUBody, seq uint32) {
	w.t.Helper()
	frame, err := w.enc.Encode(request(body, seq))
	if err != nil {
		w.t.Fatal(err)
	}
	if err := NewFrameWriter(w.conn).WriteFrame(frame); err != nil {
		w.t.Fatalf("write: %v", err)
	}
}

func (w *wirePeer) recv() *PDU {
	w.t.Helper()
	w.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	frame, err := w.r.ReadFrame()
	if err != nil {
		w.t.Fatalf("read: %v", err)
	}
	p, _, err := w.dec.Decode(frame)
	if err != nil {
		w.t.Fatalf("decode: %v", err)
	}
	return p
}

func startServer(t *testing.T, deps ServerDependencies) *Server {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(ServerConfig{SystemID: "SMSC"}, SessionConfig{}, deps)
	go srv.Serve(l)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	for srv.Addr() == nil {
		time.Sleep(time.Millisecond)
	}
	return srv
}

func TestServerBindSubmitUnbind(t *testing.T) {
	h := &fakeHandler{messageID: "msg-001"}
	auth := AuthenticatorFunc(func(_ context.Context, id, pw, _ string) error {
		if id != "smppclient1" {
			return ErrInvalidSystemID
		}
		if pw != "pass" {
			return ErrInvalidPassword
		}
		return nil
	})
	srv := startServer(t, ServerDependencies{Authenticator: auth, MessageHandler: h})

	nc, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()
	peer := newWirePeer(t, nc)

	peer.send(&BindRequest{Mode: BindTransceiver, SystemID: "smppclient1", Password: "pass", InterfaceVersion: SMPPVersion}, 1)
	resp := peer.recv()
	if resp.CommandID() != CommandBindTransceiverResp || resp.Header.SequenceNum != 1 || resp.Header.CommandStatus != StatusOK {
		t.Fatalf("bind: got %s", resp)
	}

	peer.send(&SubmitSM{
		Source:       Address{TON: TONInternational, NPI: NPIISDN, Addr: "447700900000"},
		Dest:         Address{TON: TONInternational, NPI: NPIISDN, Addr: "447900000000"},
		ShortMessage: []byte("hi"),
	}, 2)
	resp = peer.recv()
	if resp.CommandID() != CommandSubmitSMResp || resp.Header.SequenceNum != 2 || resp.Header.CommandStatus != StatusOK {
		t.Fatalf("submit: got %s", resp)
	}
	if id := resp.Body.(*SubmitSMResp).MessageID; id != "msg-001" {
		t.Fatalf("message_id = %q", id)
	}

	sessions := srv.Sessions()
	if len(sessions) != 1 || sessions[0].SystemID != "smppclient1" || sessions[0].State != StateBoundTRX {
		t.Fatalf("Sessions() = %+v", sessions)
	}

	peer.send(&Unbind{}, 3)
	resp = peer.recv()
	if resp.CommandID() != CommandUnbindResp || resp.Header.SequenceNum != 3 {
		t.Fatalf("unbind: got %s", resp)
	}

	nc.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := peer.r.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("after unbind_resp: err = %v, want EOF", err)
	}
}

func TestServerRejectsBadPassword(t *testing.T) {
	auth := AuthenticatorFunc(func(_ context.Context, _, pw, _ string) error {
		if pw != "pass" {
			return ErrInvalidPassword
		}
		return nil
	})
	srv := startServer(t, ServerDependencies{Authenticator: auth})

	nc, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()
	peer := newWirePeer(t, nc)

	peer.send(&BindRequest{Mode: BindTransmitter, SystemID: "smppclient1", Password: "wrong"}, 1)
	if resp := peer.recv(); resp.Header.CommandStatus != StatusInvPaswd {
		t.Fatalf("got %s, want ESME_RINVPASWD", resp)
	}

	// the connection stays open for another attempt
	peer.send(&BindRequest{Mode: BindTransmitter, SystemID: "smppclient1", Password: "pass"}, 2)
	if resp := peer.recv(); resp.Header.CommandStatus != StatusOK || resp.Header.SequenceNum != 2 {
		t.Fatalf("retry: got %s", resp)
	}
}

func TestServerAnswersGarbageWithNack(t *testing.T) {
	srv := startServer(t, ServerDependencies{})
	nc, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()
	peer := newWirePeer(t, nc)

	// submit_sm header followed by a body with no terminators
	frame := []byte{0, 0, 0, 20, 0, 0, 0, 4, 0, 0, 0, 0, 0, 0, 0, 9, 'a', 'b', 'c', 'd'}
	if _, err := nc.Write(frame); err != nil {
		t.Fatal(err)
	}
	resp := peer.recv()
	if resp.CommandID() != CommandGenericNack || resp.Header.SequenceNum != 9 || resp.Header.CommandStatus != StatusInvCmdLen {
		t.Fatalf("got %s", resp)
	}
}

func TestServerMaxConnections(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(ServerConfig{MaxConnections: 1}, SessionConfig{}, ServerDependencies{})
	go srv.Serve(l)
	defer srv.Stop(context.Background())

	first, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	newWirePeer(t, first).send(&EnquireLink{}, 1)
	if resp := newWirePeer(t, first).recv(); resp.CommandID() != CommandEnquireLinkResp {
		t.Fatalf("got %s", resp)
	}

	second, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := second.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("second connection: err = %v, want EOF", err)
	}
}

func clientConfig(srv *Server, bindType string) ClientConfig {
	host, port, _ := net.SplitHostPort(srv.Addr().String())
	p, _ := strconv.Atoi(port)
	return ClientConfig{Host: host, Port: p, SystemID: "smppclient1", Password: "pass", BindType: bindType, ConnectTimeout: time.Second}
}

func TestClientReceivesRoutedReceipt(t *testing.T) {
	h := &fakeHandler{messageID: "msg-042"}
	srv := startServer(t, ServerDependencies{MessageHandler: h})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, clientConfig(srv, "transceiver"), ClientDependencies{})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	id, err := client.SendText(ctx, "447700900000", "447900000000", "hello", RegisteredDeliverySuccessFailure)
	if err != nil {
		t.Fatal(err)
	}
	if id != "msg-042" {
		t.Fatalf("message_id = %q", id)
	}

	sm := h.lastSubmit()
	receipt := NewDeliveryReceipt(sm, &DeliveryReceipt{MessageID: id, Submitted: 1, Delivered: 1, Stat: "DELIVRD"})
	if err := srv.DeliverReceipt(ctx, receipt); err != nil {
		t.Fatalf("DeliverReceipt: %v", err)
	}

	select {
	case dsm := <-client.Deliveries():
		r, err := ParseDeliveryReceipt(dsm)
		if err != nil {
			t.Fatal(err)
		}
		if r.MessageID != "msg-042" || r.Stat != "DELIVRD" {
			t.Fatalf("receipt = %+v", r)
		}
		if dsm.Dest.Addr != "447700900000" {
			t.Fatalf("receipt addressed to %q", dsm.Dest.Addr)
		}
	case <-ctx.Done():
		t.Fatal("receipt not delivered")
	}

	if err := srv.DeliverReceipt(ctx, receipt); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("second receipt: err = %v, want ErrNoRoute", err)
	}

	if err := client.Unbind(ctx); err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	if r := client.Conn().Reason(); r != ReasonUnbound {
		t.Fatalf("client reason = %s", r)
	}
}

func TestClientBindRefused(t *testing.T) {
	auth := AuthenticatorFunc(func(context.Context, string, string, string) error { return ErrInvalidPassword })
	srv := startServer(t, ServerDependencies{Authenticator: auth})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Dial(ctx, clientConfig(srv, "transmitter"), ClientDependencies{})
	if StatusOf(err, 0) != StatusInvPaswd {
		t.Fatalf("err = %v, want ESME_RINVPASWD", err)
	}
}

func TestClientBindCarriesAccountFields(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	peer := newWirePeer(t, b)

	cfg := ClientConfig{SystemID: "billing", Password: "s3cr3t", SystemType: "VMA", BindType: "receiver", AddressRange: "^4479"}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	type result struct {
		c   *Client
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := NewClient(ctx, a, cfg, ClientDependencies{})
		done <- result{c, err}
	}()

	p := peer.recv()
	req, ok := p.Body.(*BindRequest)
	if !ok {
		t.Fatalf("got %s, want bind_receiver", CommandName(p.CommandID()))
	}
	if req.Mode != BindReceiver || req.SystemID != "billing" || req.Password != "s3cr3t" ||
		req.SystemType != "VMA" || req.AddressRange != "^4479" || req.InterfaceVersion != SMPPVersion {
		t.Fatalf("bind = %+v", req)
	}
	peer.send(&BindResponse{Mode: BindReceiver, SystemID: "SMSC"}, p.Header.SequenceNum)

	r := <-done
	if r.err != nil {
		t.Fatalf("NewClient: %v", r.err)
	}
	r.c.Close()
}

func TestServerStopUnbindsClients(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(ServerConfig{}, SessionConfig{}, ServerDependencies{})
	go srv.Serve(l)
	for srv.Addr() == nil {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, clientConfig(srv, "receiver"), ClientDependencies{})
	if err != nil {
		t.Fatal(err)
	}

	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-client.Done():
	case <-ctx.Done():
		t.Fatal("client not disconnected")
	}
	if r := client.Conn().Reason(); r != ReasonUnbound {
		t.Fatalf("client reason = %s, want unbound", r)
	}
	if srv.IsRunning() {
		t.Fatal("server still running")
	}
}

func TestServerStopUnbindsAfterStartContextCancelled(t *testing.T) {
	srv := NewServer(ServerConfig{Host: "127.0.0.1", SystemID: "SMSC"}, SessionConfig{}, ServerDependencies{})
	runCtx, stopRun := context.WithCancel(context.Background())
	if err := srv.Start(runCtx); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, clientConfig(srv, "receiver"), ClientDependencies{})
	if err != nil {
		t.Fatal(err)
	}

	stopRun()
	select {
	case <-client.Done():
		t.Fatalf("session closed before Stop: %s", client.Conn().Reason())
	case <-time.After(100 * time.Millisecond):
	}
	if got := len(srv.Sessions()); got != 1 {
		t.Fatalf("sessions = %d, want 1", got)
	}

	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-client.Done():
	case <-ctx.Done():
		t.Fatal("client not disconnected")
	}
	if r := client.Conn().Reason(); r != ReasonUnbound {
		t.Fatalf("client reason = %s, want unbound", r)
	}
}

func TestConnRequestOverPipe(t *testing.T) {
	a, b := net.Pipe()
	smsc := NewConn(a, "smsc", RoleSMSC, SessionConfig{}, SessionDependencies{Handler: &fakeHandler{messageID: "m-1"}}, ConnHooks{})
	esme := NewConn(b, "esme", RoleESME, SessionConfig{}, SessionDependencies{}, ConnHooks{})
	go smsc.Run(context.Background())
	go esme.Run(context.Background())
	defer smsc.Close()
	defer esme.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := esme.Submit(ctx, &SubmitSM{}); !errors.Is(err, ErrNotBound) {
		t.Fatalf("submit before bind: %v", err)
	}
	if _, err := esme.Request(ctx, NewPDU(&BindRequest{Mode: BindTransmitter, SystemID: "x"})); err != nil {
		t.Fatal(err)
	}
	id, err := esme.Submit(ctx, &SubmitSM{Dest: Address{Addr: "1"}, ShortMessage: []byte("x")})
	if err != nil || id != "m-1" {
		t.Fatalf("Submit = %q, %v", id, err)
	}
	if err := esme.EnquireLink(ctx); err != nil {
		t.Fatal(err)
	}
	if err := esme.Unbind(ctx); err != nil {
		t.Fatal(err)
	}
	<-smsc.Done()
	if smsc.Reason() != ReasonUnbound || esme.Reason() != ReasonUnbound {
		t.Fatalf("reasons: smsc=%s esme=%s", smsc.Reason(), esme.Reason())
	}
}
