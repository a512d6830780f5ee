package iio

import (
	"net"
	"testing"
	"time"
)

//newTestResponder wires a Responder's client side of a net.Pipe and
//returns it started, plus the raw server-side net.Conn a test can drive by
//hand to stand in for a remote iiod.
func newTestResponder(t *testing.T, handler CommandHandler) (*Responder, net.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	port := newNetTransportFromConn(clientConn, 0)
	r := NewResponder(port, handler)
	r.Start()
	t.Cleanup(func() { r.Stop() })
	return r, serverConn
}

func (r *Responder) pendingReaders() int {
	r.rlock.Lock()
	defer r.rlock.Unlock()
	return len(r.readers)
}

func (r *Responder) pendingWriters() int {
	r.wlock.Lock()
	defer r.wlock.Unlock()
	return len(r.writers)
}

func readHeader(t *testing.T, conn net.Conn) Command {
	t.Helper()
	hdr := make([]byte, headerSize)
	if _, err := readFull(conn, hdr); err != nil {
		t.Fatalf("server: read header: %v", err)
	}
	cmd, err := decodeCommand(hdr)
	if err != nil {
		t.Fatalf("server: decode header: %v", err)
	}
	return cmd
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeResponse(t *testing.T, conn net.Conn, clientID uint16, payload []byte) {
	t.Helper()
	cmd := Command{ClientID: clientID, Op: OpResponse, Code: int32(len(payload))}
	if _, err := conn.Write(cmd.encode()); err != nil {
		t.Fatalf("server: write response header: %v", err)
	}
	if len(payload) > 0 {
		if _, err := conn.Write(payload); err != nil {
			t.Fatalf("server: write response payload: %v", err)
		}
	}
}

//TestSingleAttributeRead exercises a single client_id round trip: send a READ_ATTR, get its RESPONSE back.
func TestSingleAttributeRead(t *testing.T) {
	r, server := newTestResponder(t, nil)
	defer server.Close()

	client := NewClient(r)

	done := make(chan struct{})
	go func() {
		defer close(done)
		cmd := readHeader(t, server)
		if cmd.Op != OpReadAttr {
			t.Errorf("got op %v, want READ_ATTR", cmd.Op)
		}
		name := make([]byte, cmd.Code)
		readFull(server, name)
		if string(name) != "in_voltage0_raw" {
			t.Errorf("got attribute name %q", name)
		}
		writeResponse(t, server, cmd.ClientID, []byte("1234\n"))
	}()

	val, err := client.ReadAttr(0, "in_voltage0_raw")
	<-done
	if err != nil {
		t.Fatalf("ReadAttr: %v", err)
	}
	if string(val) != "1234\n" {
		t.Fatalf("got %q, want %q", val, "1234\n")
	}
}

//TestInterleavedClientIDs covers two in-flight requests,
//server replies out of order, each slot gets its own payload back.
func TestInterleavedClientIDs(t *testing.T) {
	r, server := newTestResponder(t, nil)
	defer server.Close()

	slotA := r.NewReader()
	slotB := r.NewReader()

	bufA := make([]byte, 32)
	bufB := make([]byte, 8)

	resultsA := make(chan error, 1)
	resultsB := make(chan error, 1)

	go func() {
		_, err := slotA.ExecCommand(Command{Op: OpReadAttr, Code: 1}, []byte("A"), bufA)
		resultsA <- err
	}()
	go func() {
		_, err := slotB.ExecCommand(Command{Op: OpReadAttr, Code: 1}, []byte("B"), bufB)
		resultsB <- err
	}()

	cmd1 := readHeader(t, server)
	readFull(server, make([]byte, cmd1.Code))
	cmd2 := readHeader(t, server)
	readFull(server, make([]byte, cmd2.Code))

	longPayload := bytes(32, 'a')
	shortPayload := []byte("short")

	// reply to whichever client_id belongs to slotB first
	if cmd1.ClientID == slotB.ClientID() {
		writeResponse(t, server, cmd1.ClientID, shortPayload)
		writeResponse(t, server, cmd2.ClientID, longPayload)
	} else {
		writeResponse(t, server, cmd2.ClientID, shortPayload)
		writeResponse(t, server, cmd1.ClientID, longPayload)
	}

	if err := <-resultsA; err != nil {
		t.Fatalf("slot A: %v", err)
	}
	if err := <-resultsB; err != nil {
		t.Fatalf("slot B: %v", err)
	}
	if string(bufA[:len(longPayload)]) != string(longPayload) {
		t.Errorf("slot A payload mismatch: got %q", bufA[:len(longPayload)])
	}
	if string(bufB[:len(shortPayload)]) != string(shortPayload) {
		t.Errorf("slot B payload mismatch: got %q", bufB[:len(shortPayload)])
	}
	if n := r.pendingReaders(); n != 0 {
		t.Errorf("expected no pending readers after both complete, got %d", n)
	}
}

func bytes(n int, b byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

//TestOrphanResponseDropped covers a response for a
//cancelled slot is drained without desynchronizing the framing.
func TestOrphanResponseDropped(t *testing.T) {
	r, server := newTestResponder(t, nil)
	defer server.Close()

	orphanSlot := r.NewReader()
	orphanSlot.GetResponseAsync(nil)
	orphanSlot.Cancel()

	// give the reader loop's dispatch nothing to synchronize on but time
	time.Sleep(10 * time.Millisecond)
	writeResponse(t, server, orphanSlot.ClientID(), make([]byte, 16))

	// a subsequent, unrelated exchange must still be framed correctly
	nextSlot := r.NewReader()
	resultCh := make(chan int32, 1)
	errCh := make(chan error, 1)
	go func() {
		code, err := nextSlot.ExecCommand(Command{Op: OpReadAttr, Code: 1}, []byte("x"), nil)
		resultCh <- code
		errCh <- err
	}()

	cmd := readHeader(t, server)
	readFull(server, make([]byte, cmd.Code))
	writeResponse(t, server, cmd.ClientID, nil)

	if err := <-errCh; err != nil {
		t.Fatalf("post-orphan exchange failed: %v", err)
	}
	if code := <-resultCh; code != 0 {
		t.Fatalf("got code %d, want 0", code)
	}
}

//TestExecCommandMatchesSendThenGet checks the round-trip law:
//send_command + get_response == exec_command.
func TestExecCommandMatchesSendThenGet(t *testing.T) {
	r, server := newTestResponder(t, nil)
	defer server.Close()

	go func() {
		for i := 0; i < 2; i++ {
			cmd := readHeader(t, server)
			readFull(server, make([]byte, cmd.Code))
			writeResponse(t, server, cmd.ClientID, []byte("ok"))
		}
	}()

	slot1 := r.NewReader()
	buf1 := make([]byte, 2)
	if _, err := slot1.SendCommand(Command{Op: OpReadAttr, Code: 1}, [][]byte{[]byte("a")}); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	code1, err := slot1.GetResponse([][]byte{buf1})
	if err != nil {
		t.Fatalf("GetResponse: %v", err)
	}

	slot2 := r.NewReader()
	buf2 := make([]byte, 2)
	code2, err := slot2.ExecCommand(Command{Op: OpReadAttr, Code: 1}, []byte("a"), buf2)
	if err != nil {
		t.Fatalf("ExecCommand: %v", err)
	}

	if code1 != code2 {
		t.Fatalf("codes differ: %d vs %d", code1, code2)
	}
	if string(buf1) != string(buf2) {
		t.Fatalf("payloads differ: %q vs %q", buf1, buf2)
	}
}

//TestGetAndRequestResponsePipelines checks the round-trip law for
//back-to-back pipelining.
func TestGetAndRequestResponsePipelines(t *testing.T) {
	r, server := newTestResponder(t, nil)
	defer server.Close()

	slot := r.NewReader()
	buf1 := make([]byte, 4)
	slot.GetResponseAsync([][]byte{buf1})

	go func() {
		writeResponse(t, server, slot.ClientID(), []byte("aaaa"))
		writeResponse(t, server, slot.ClientID(), []byte("bbbb"))
	}()

	buf2 := make([]byte, 4)
	code1, err1 := slot.GetAndRequestResponse([][]byte{buf2})
	if err1 != nil {
		t.Fatalf("first leg: %v", err1)
	}
	code2, err2 := slot.WaitForResponse()
	if err2 != nil {
		t.Fatalf("second leg: %v", err2)
	}

	if code1 != 4 || code2 != 4 {
		t.Fatalf("got codes %d, %d, want 4, 4", code1, code2)
	}
	if string(buf1) != "aaaa" || string(buf2) != "bbbb" {
		t.Fatalf("got %q, %q", buf1, buf2)
	}
}

//TestWriterQueueIsFIFO checks the writer queue preserves submission order.
func TestWriterQueueIsFIFO(t *testing.T) {
	r, server := newTestResponder(t, nil)
	defer server.Close()

	const n = 5
	slots := make([]*RequestSlot, n)
	for i := range slots {
		slots[i] = r.NewReader()
		slots[i].SendCommandAsync(Command{Op: OpPrint, Code: int32(i)}, nil, nil, nil)
	}
	for i := 0; i < n; i++ {
		cmd := readHeader(t, server)
		if int(cmd.Code) != i {
			t.Fatalf("frame %d arrived out of order: code=%d", i, cmd.Code)
		}
	}
	for _, s := range slots {
		if _, err := s.WaitForWriteDone(); err != nil {
			t.Fatalf("WaitForWriteDone: %v", err)
		}
	}
}

//TestCancelDuringWaitForResponse checks a cancelled slot is unlinked immediately.
func TestCancelDuringWaitForResponse(t *testing.T) {
	r, server := newTestResponder(t, nil)
	defer server.Close()

	slot := r.NewReader()
	slot.GetResponseAsync(nil)

	if n := r.pendingReaders(); n != 1 {
		t.Fatalf("expected 1 pending reader, got %d", n)
	}
	slot.Cancel()
	if n := r.pendingReaders(); n != 0 {
		t.Fatalf("expected slot removed from readers after cancel, got %d pending", n)
	}
}
