package iio

import (
	"fmt"
	"time"
)

/*Port is the abstract duplex byte-stream carrier a Responder drives. A
single Responder owns exactly one Port, and only the Responder's
reader/writer goroutines may touch it.

ReadVec/WriteVec accept a vector of buffers rather than a single []byte so
that rwAll can hand the wire a command header and its payload buffers (or a
response and its destination buffers) as one logical transfer; an
implementation is free to satisfy the call one buffer at a time, or with a
real vectored syscall (the TCP transport uses net.Buffers for writes).*/
type Port interface {
	fmt.Stringer

	//ReadVec reads into the head of bufs and returns how many bytes were
	//read into it. It must behave like a single blocking read call.
	ReadVec(bufs [][]byte) (int, error)

	//WriteVec writes bufs (all of them, if it can) and returns how many
	//bytes were written, counted across however many of bufs it consumed.
	WriteVec(bufs [][]byte) (int, error)

	//Discard drops up to n unread bytes from the stream, returning how many
	//were actually discarded. Used to drop orphaned response payloads and
	//read-path overflow without ever handing the caller the bytes.
	Discard(n int) (int, error)

	//SetDataTimeout changes the deadline applied to every ReadVec/WriteVec
	//issued from this point on. It is safe to call concurrently with a
	//blocked ReadVec/WriteVec; the new value takes effect on the next
	//deadline computed, not retroactively on one already in flight.
	SetDataTimeout(d time.Duration) error

	Close() error
}
