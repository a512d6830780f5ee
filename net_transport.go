package iio

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

/*NetTransport is the TCP rendition of Port: a single duplex net.Conn
wrapped to honor the Port contract, with a cancelToken-driven cancellable
wait in place of the original's select-on-(fd,event) socket adapter.
Writes are issued through net.Buffers so a command header and its
payload buffers reach the kernel as one vectored write where the
platform supports it, generalizing a single io.Writer.Write call to a
buffer vector.*/
type NetTransport struct {
	network, address string
	dataTimeout      atomic.Int64 // nanoseconds, per atomic.Int64.Store/Load

	conn  net.Conn
	token *cancelToken
}

//DialNet opens a TCP connection to address (host:port) and returns a Port.
//dataTimeout, if non-zero, bounds every individual Read/Write; ctx, if
//cancelled, aborts the dial and any subsequent blocked I/O.
func DialNet(ctx context.Context, address string, dataTimeout time.Duration) (*NetTransport, error) {
	token := newCancelToken(ctx)

	dialer := net.Dialer{KeepAlive: 15 * time.Second}
	conn, err := dialer.DialContext(token.Context(), "tcp", address)
	if err != nil {
		token.Cancel()
		return nil, mapNetErr("DialNet", err)
	}

	nt := &NetTransport{
		network: "tcp",
		address: address,
		conn:    conn,
		token:   token,
	}
	nt.dataTimeout.Store(int64(dataTimeout))

	context.AfterFunc(token.Context(), func() {
		_ = conn.SetDeadline(time.Unix(0, 1))
	})

	return nt, nil
}

//newNetTransportFromConn wraps an already-established net.Conn (used by
//tests driving both ends of a net.Pipe without a real socket dial).
func newNetTransportFromConn(conn net.Conn, dataTimeout time.Duration) *NetTransport {
	nt := &NetTransport{
		network: "tcp",
		address: conn.RemoteAddr().String(),
		conn:    conn,
		token:   newCancelToken(nil),
	}
	nt.dataTimeout.Store(int64(dataTimeout))
	return nt
}

func (nt *NetTransport) String() string {
	return fmt.Sprintf("tcp connection to %s", nt.address)
}

func (nt *NetTransport) deadline() time.Time {
	d := time.Duration(nt.dataTimeout.Load())
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

//SetDataTimeout changes the deadline every subsequent ReadVec/WriteVec
//computes. It never touches a deadline already set on the connection by a
//call already in flight.
func (nt *NetTransport) SetDataTimeout(d time.Duration) error {
	nt.dataTimeout.Store(int64(d))
	return nil
}

//ReadVec reads into the head of bufs, as a single blocking recv.
func (nt *NetTransport) ReadVec(bufs [][]byte) (int, error) {
	if err := nt.token.refuseIfCancelled("NetTransport.ReadVec"); err != nil {
		return 0, err
	}
	if len(bufs) == 0 || len(bufs[0]) == 0 {
		return 0, nil
	}
	if err := nt.conn.SetReadDeadline(nt.deadline()); err != nil {
		return 0, mapNetErr("NetTransport.ReadVec", err)
	}
	n, err := nt.conn.Read(bufs[0])
	if err != nil {
		return n, nt.classifyIOErr("NetTransport.ReadVec", err)
	}
	return n, nil
}

//WriteVec writes bufs as one vectored write via net.Buffers, falling back
//to sequential Write calls for a connection that isn't a *net.TCPConn.
func (nt *NetTransport) WriteVec(bufs [][]byte) (int, error) {
	if err := nt.token.refuseIfCancelled("NetTransport.WriteVec"); err != nil {
		return 0, err
	}
	if err := nt.conn.SetWriteDeadline(nt.deadline()); err != nil {
		return 0, mapNetErr("NetTransport.WriteVec", err)
	}

	buffers := net.Buffers(bufs)
	n64, err := buffers.WriteTo(nt.conn)
	if err != nil {
		return int(n64), nt.classifyIOErr("NetTransport.WriteVec", err)
	}
	return int(n64), nil
}

//Discard reads and drops up to n bytes, used to drain orphaned response
//payloads without exposing them to a caller.
func (nt *NetTransport) Discard(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	if err := nt.token.refuseIfCancelled("NetTransport.Discard"); err != nil {
		return 0, err
	}
	buf := make([]byte, 4096)
	discarded := 0
	for discarded < n {
		want := len(buf)
		if remaining := n - discarded; remaining < want {
			want = remaining
		}
		if err := nt.conn.SetReadDeadline(nt.deadline()); err != nil {
			return discarded, mapNetErr("NetTransport.Discard", err)
		}
		k, err := nt.conn.Read(buf[:want])
		discarded += k
		if err != nil {
			return discarded, nt.classifyIOErr("NetTransport.Discard", err)
		}
	}
	return discarded, nil
}

//Close cancels the transport's token and closes the underlying connection.
func (nt *NetTransport) Close() error {
	nt.token.Cancel()
	return nt.conn.Close()
}

func (nt *NetTransport) classifyIOErr(op string, err error) error {
	if nt.token.Cancelled() {
		return newErr(Cancelled, op, err)
	}
	return mapNetErr(op, err)
}

//mapNetErr classifies a net.Conn error into the package's ErrorKind
//enumeration: a timed-out transfer maps to Timeout, a use of the closed
//connection to BrokenPipe, anything else to Io.
func mapNetErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return newErr(Timeout, op, err)
	}
	if errors.Is(err, net.ErrClosed) {
		return newErr(BrokenPipe, op, err)
	}
	return newErr(Io, op, err)
}
