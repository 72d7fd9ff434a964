package ratelimit

import (
	"testing"
	"time"
)

func TestFixedWindow_AllowsUpToLimit(t *testing.T) {
	f := NewFixedWindow(3, time.Hour)
	for i := 0; i < 3; i++ {
		if !f.Allow() {
			t.Fatalf("expected Allow() to succeed on call %d", i+1)
		}
	}
	if f.Allow() {
		t.Fatal("expected 4th call to be denied")
	}
}

func TestFixedWindow_ResetsAfterWindow(t *testing.T) {
	f := NewFixedWindow(1, 20*time.Millisecond)
	if !f.Allow() {
		t.Fatal("expected first call to succeed")
	}
	if f.Allow() {
		t.Fatal("expected second call in same window to fail")
	}
	time.Sleep(30 * time.Millisecond)
	if !f.Allow() {
		t.Fatal("expected call after window reset to succeed")
	}
}
