package faucet

import (
	"testing"
	"time"
)

func TestWindowReserveConfirm(t *testing.T) {
	w := NewWindow(time.Hour)

	res, err := w.Reserve("stablecoin:0xabc")
	if err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}
	res.Confirm()

	_, err = w.Reserve("stablecoin:0xabc")
	limited, ok := err.(*RateLimitedError)
	if !ok {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if limited.RetryAfter > time.Hour {
		t.Errorf("retry after %s exceeds the window", limited.RetryAfter)
	}
}

func TestWindowInFlightBlocksDuplicate(t *testing.T) {
	w := NewWindow(time.Hour)

	res, err := w.Reserve("native:0xabc")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	// A concurrent duplicate arrives before the first confirms.
	if _, err := w.Reserve("native:0xabc"); err == nil {
		t.Fatal("duplicate reserve succeeded while in flight")
	}

	res.Release()
	if _, err := w.Reserve("native:0xabc"); err != nil {
		t.Fatalf("reserve after release failed: %v", err)
	}
}

func TestWindowExpiry(t *testing.T) {
	w := NewWindow(10 * time.Millisecond)

	res, err := w.Reserve("stablecoin:0xdef")
	if err != nil {
		t.Fatal(err)
	}
	res.Confirm()

	time.Sleep(20 * time.Millisecond)

	if _, err := w.Reserve("stablecoin:0xdef"); err != nil {
		t.Fatalf("reserve after expiry failed: %v", err)
	}
}

func TestWindowKeysIndependent(t *testing.T) {
	w := NewWindow(time.Hour)

	res, err := w.Reserve("stablecoin:0xabc")
	if err != nil {
		t.Fatal(err)
	}
	res.Confirm()

	if _, err := w.Reserve("stablecoin:0xdef"); err != nil {
		t.Fatalf("unrelated key was limited: %v", err)
	}
	if _, err := w.Reserve("native:0xabc"); err != nil {
		t.Fatalf("other kind for same address was limited: %v", err)
	}
}

func TestReservationIdempotent(t *testing.T) {
	w := NewWindow(time.Hour)

	res, _ := w.Reserve("k")
	res.Confirm()
	res.Release() // no-op after confirm

	if _, err := w.Reserve("k"); err == nil {
		t.Fatal("confirm followed by release must keep the window")
	}
}
