package errorrecovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

func fastConfig(retries int) RetryConfig {
	return RetryConfig{MaxRetries: retries, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
}

func TestRetryUntilSuccess(t *testing.T) {
	calls := 0
	res := Retry(context.Background(), fastConfig(5), func(context.Context) error {
		calls++
		if calls < 3 {
			return io.EOF
		}
		return nil
	})
	if res.Error != nil || res.Attempts != 3 {
		t.Fatalf("result = %+v", res)
	}
}

func TestRetryGivesUp(t *testing.T) {
	res := Retry(context.Background(), fastConfig(2), func(context.Context) error {
		return syscall.ECONNREFUSED
	})
	if !errors.Is(res.Error, syscall.ECONNREFUSED) || res.Attempts != 3 {
		t.Fatalf("result = %+v", res)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	res := Retry(context.Background(), fastConfig(5), func(context.Context) error {
		return fmt.Errorf("bind: %w", smpp.NewStatusError(smpp.StatusInvPaswd, ""))
	})
	if res.Attempts != 1 {
		t.Fatalf("retried a bad password %d times", res.Attempts)
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(10)
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	res := Retry(ctx, cfg, func(context.Context) error { return io.EOF })
	if !errors.Is(res.Error, context.Canceled) || res.Attempts != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestCustomRetryable(t *testing.T) {
	cfg := fastConfig(3)
	cfg.Retryable = func(error) bool { return false }
	res := Retry(context.Background(), cfg, func(context.Context) error { return io.EOF })
	if res.Attempts != 1 {
		t.Fatalf("attempts = %d", res.Attempts)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{io.EOF, true},
		{io.ErrUnexpectedEOF, true},
		{smpp.ErrSessionClosed, true},
		{smpp.ErrResponseTimeout, true},
		{&net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{smpp.NewStatusError(smpp.StatusThrottled, ""), true},
		{smpp.NewStatusError(smpp.StatusBindFail, ""), true},
		{smpp.NewStatusError(smpp.StatusInvPaswd, ""), false},
		{smpp.NewStatusError(smpp.StatusInvSysID, ""), false},
		{errors.New("bad config"), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestCalculateDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second}
	for i, w := range want {
		if got := calculateDelay(cfg, i); got != w {
			t.Errorf("attempt %d: delay %v, want %v", i, got, w)
		}
	}

	cfg.JitterFactor = 0.5
	for i := 0; i < 50; i++ {
		if d := calculateDelay(cfg, 0); d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay %v out of range", d)
		}
	}
}

func TestFromClientConfig(t *testing.T) {
	rc := FromClientConfig(smpp.ClientConfig{MaxReconnectAttempts: 7, ReconnectInterval: 2 * time.Second})
	if rc.MaxRetries != 7 || rc.InitialDelay != 2*time.Second {
		t.Fatalf("config = %+v", rc)
	}
}

func TestDialClientRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	cfg := smpp.ClientConfig{Host: "127.0.0.1", Port: port, BindType: "transmitter", ConnectTimeout: time.Second}
	client, res := DialClient(context.Background(), cfg, smpp.ClientDependencies{}, fastConfig(1))
	if client != nil || res.Error == nil || res.Attempts != 2 {
		t.Fatalf("client=%v result=%+v", client, res)
	}
}
