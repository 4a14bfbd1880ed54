package ratelimit

import (
	"testing"
	"time"
)

func TestThrottleBurstThenRefill(t *testing.T) {
	th := NewThrottle(1, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if !th.AllowAt(now) || !th.AllowAt(now) {
		t.Fatal("burst of 2 should be admitted")
	}
	if th.AllowAt(now) {
		t.Fatal("third request in the same instant should be refused")
	}
	if !th.AllowAt(now.Add(time.Second)) {
		t.Fatal("one token should refill after a second")
	}
}

func TestUnlimitedThrottle(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var nilThrottle *Throttle
	if !nilThrottle.AllowAt(now) {
		t.Fatal("nil throttle should admit")
	}
	th := NewThrottle(0, 0)
	for i := 0; i < 1000; i++ {
		if !th.AllowAt(now) {
			t.Fatal("unlimited throttle refused a request")
		}
	}
}
