package iio

import "testing"

func TestCancelTokenIdempotent(t *testing.T) {
	tok := newCancelToken(nil)
	if tok.Cancelled() {
		t.Fatal("fresh token should not be cancelled")
	}
	tok.Cancel()
	tok.Cancel() // must not panic or double-close the context's channel
	if !tok.Cancelled() {
		t.Fatal("token should report cancelled after Cancel")
	}
	select {
	case <-tok.Context().Done():
	default:
		t.Fatal("context should be done after Cancel")
	}
}

func TestCancelTokenRefuseIfCancelled(t *testing.T) {
	tok := newCancelToken(nil)
	if err := tok.refuseIfCancelled("op"); err != nil {
		t.Fatalf("fresh token should not refuse: %v", err)
	}
	tok.Cancel()
	err := tok.refuseIfCancelled("op")
	if err == nil || classify(err) != Cancelled {
		t.Fatalf("expected a Cancelled error, got %v", err)
	}
}
