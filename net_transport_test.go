package iio

import (
	"net"
	"testing"
	"time"
)

//TestSetDataTimeoutChangesReadDeadline checks that SetDataTimeout takes
//effect on the next ReadVec rather than only on a port freshly dialed with
//the new value: a blocked read against an idle net.Pipe must now time out
//on the order of the new, shorter duration.
func TestSetDataTimeoutChangesReadDeadline(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()
	port := newNetTransportFromConn(clientConn, time.Hour)

	if err := port.SetDataTimeout(20 * time.Millisecond); err != nil {
		t.Fatalf("SetDataTimeout: %v", err)
	}

	start := time.Now()
	_, err := port.ReadVec([][]byte{make([]byte, 16)})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected a timeout reading from an idle pipe")
	}
	if classify(err) != Timeout {
		t.Fatalf("expected a Timeout error, got %v", classify(err))
	}
	if elapsed > 2*time.Second {
		t.Fatalf("read took %v, want roughly the new 20ms deadline, not the original 1h one", elapsed)
	}
}
