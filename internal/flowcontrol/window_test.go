package flowcontrol

import "testing"

func TestWindowLimitsOutstanding(t *testing.T) {
	w := NewWindow(2)

	if !w.TryAcquire() || !w.TryAcquire() {
		t.Fatal("first two acquires should succeed")
	}
	if w.TryAcquire() {
		t.Fatal("third acquire should be refused")
	}

	w.Release()
	if got := w.Outstanding(); got != 1 {
		t.Fatalf("Outstanding() = %d, want 1", got)
	}
	if !w.TryAcquire() {
		t.Fatal("acquire after release should succeed")
	}
}

func TestWindowReleaseNeverGoesNegative(t *testing.T) {
	w := NewWindow(0)
	if !w.TryAcquire() {
		t.Fatal("a window of 0 should still admit one request")
	}
	if w.TryAcquire() {
		t.Fatal("a window of 0 should admit only one request")
	}
	w.Release()
	w.Release()
	if got := w.Outstanding(); got != 0 {
		t.Fatalf("Outstanding() = %d, want 0", got)
	}
	w.TryAcquire()
	w.Reset()
	if got := w.Outstanding(); got != 0 {
		t.Fatalf("Outstanding() after Reset = %d, want 0", got)
	}
}
