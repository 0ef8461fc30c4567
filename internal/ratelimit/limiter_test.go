package ratelimit

import (
	"testing"
	"time"
)

func TestAllow_FirstRequest(t *testing.T) {
	limiter := New(100 * time.Millisecond)

	if !limiter.Allow("user-1") {
		t.Error("Allow() should return true for first request for a key")
	}
}

func TestAllow_SecondRequestTooSoon(t *testing.T) {
	limiter := New(100 * time.Millisecond)

	limiter.Allow("user-1")
	if limiter.Allow("user-1") {
		t.Error("Allow() should return false for second request before minInterval")
	}
}

func TestAllow_SecondRequestAfterInterval(t *testing.T) {
	limiter := New(50 * time.Millisecond)

	limiter.Allow("user-1")
	time.Sleep(60 * time.Millisecond)

	if !limiter.Allow("user-1") {
		t.Error("Allow() should return true after minInterval has passed")
	}
}

func TestAllow_DifferentKeys(t *testing.T) {
	limiter := New(100 * time.Millisecond)

	limiter.Allow("user-1")
	if !limiter.Allow("user-2") {
		t.Error("Allow() should return true for a different key")
	}
}
