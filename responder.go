package iio

import (
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

/*CommandData lets an inbound-command handler consume the command's
additional payload, the Go rendition of iiod_command_data_read.*/
type CommandData struct {
	responder *Responder
}

//Read reads len(buf) bytes of the current inbound command's payload.
func (d *CommandData) Read(buf []byte) (int, error) {
	return rwAll(d.responder.port, nil, [][]byte{buf}, len(buf), true)
}

/*CommandHandler is the collaborator-supplied callback invoked for every
inbound frame whose opcode is not RESPONSE. It may read the command's
payload through data, and may itself enqueue responses on a reader bound
to cmd.ClientID (see Responder.ReaderForID). A non-nil error propagates
out of the reader loop and stops the responder.*/
type CommandHandler func(cmd Command, data *CommandData) error

type responderMetrics struct {
	inFlight     prometheus.Gauge
	orphanBytes  prometheus.Counter
	bytesRead    prometheus.Counter
	bytesWritten prometheus.Counter
}

func newResponderMetrics(reg prometheus.Registerer) *responderMetrics {
	if reg == nil {
		return nil
	}
	m := &responderMetrics{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iio_responder_inflight_slots",
			Help: "Number of queued writes and armed response reads (counted per direction of a request slot) not yet completed.",
		}),
		orphanBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iio_responder_orphan_bytes_discarded_total",
			Help: "Bytes discarded from RESPONSE frames whose client_id matched no live slot.",
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iio_responder_bytes_read_total",
			Help: "Bytes read from the port.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iio_responder_bytes_written_total",
			Help: "Bytes written to the port.",
		}),
	}
	reg.MustRegister(m.inFlight, m.orphanBytes, m.bytesRead, m.bytesWritten)
	return m
}

/*Responder is the per-link multiplexer owning one reader and one writer
goroutine. It routes inbound RESPONSE frames to the RequestSlot waiting
on the matching client_id, serializes all outbound frames through a
single writer so a command's header and payload are always contiguous on
the wire, and drops orphaned responses.*/
type Responder struct {
	port    Port
	handler CommandHandler
	logger  log.Logger
	metrics *responderMetrics

	ids clientIDRegistry

	rlock   sync.Mutex
	readers map[uint16]*RequestSlot

	wlock    sync.Mutex
	wcond    *sync.Cond
	writers  []*RequestSlot
	thrdStop bool

	done chan struct{}
	err  error
}

//Option configures a Responder at construction time.
type Option func(*Responder)

//WithLogger sets the logger used for loop lifecycle events.
func WithLogger(l log.Logger) Option {
	return func(r *Responder) { r.logger = l }
}

//WithRegisterer registers the responder's metrics with reg. A nil reg (the
//default) disables metrics entirely.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Responder) { r.metrics = newResponderMetrics(reg) }
}

/*NewResponder creates a Responder bound to port. handler is invoked for
every inbound frame that is not itself a RESPONSE; it may be nil if the
caller never expects to receive anything but responses (the common case for
a pure client). Start must be called to launch the reader/writer loops.*/
func NewResponder(port Port, handler CommandHandler, opts ...Option) *Responder {
	r := &Responder{
		port:    port,
		handler: handler,
		readers: make(map[uint16]*RequestSlot),
		logger:  log.NewNopLogger(),
	}
	r.wcond = sync.NewCond(&r.wlock)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

/*Start launches the reader and writer goroutines under an oklog/run.Group,
so that either one stopping unblocks and stops the other: either loop
exiting sets thrd_stop, using run.Group's actor/interrupt idiom instead of
a hand-rolled WaitGroup and flag polling.*/
func (r *Responder) Start() {
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)

		var g run.Group
		g.Add(r.readerLoop, func(error) {
			_ = r.port.Close()
		})
		g.Add(r.writerLoop, func(error) {
			r.setStop()
		})
		r.err = g.Run()
	}()
}

//Wait blocks until both loops have stopped and returns the responder's
//terminal error (nil on a clean Stop).
func (r *Responder) Wait() error {
	if r.done != nil {
		<-r.done
	}
	return r.err
}

//Stop requests an orderly shutdown: the writer loop drains its queue and
//exits, which (via the run.Group wiring) closes the port and unblocks the
//reader loop too.
func (r *Responder) Stop() {
	r.setStop()
}

func (r *Responder) setStop() {
	r.wlock.Lock()
	r.thrdStop = true
	r.wcond.Broadcast()
	r.wlock.Unlock()
}

//SetDataTimeout proxies to the underlying Port, so a negotiated timeout
//change takes effect on every ReadVec/WriteVec from this point on.
func (r *Responder) SetDataTimeout(d time.Duration) error {
	return r.port.SetDataTimeout(d)
}

//NewReader allocates a fresh client_id and returns a RequestSlot bound to
//it, the Go rendition of iiod_responder_create_reader.
func (r *Responder) NewReader() *RequestSlot {
	return r.ReaderForID(r.ids.allocate())
}

//ReaderForID returns a RequestSlot bound to an already-known client_id, the
//Go rendition of iiod_command_create_reader: used by a CommandHandler that
//wants to respond to the inbound command it was just handed.
func (r *Responder) ReaderForID(id uint16) *RequestSlot {
	return &RequestSlot{clientID: id, responder: r}
}

func (r *Responder) readerLoop() (err error) {
	defer r.setStop()
	defer func() {
		r.rlock.Lock()
		for id, slot := range r.readers {
			delete(r.readers, id)
			slot.rIO.complete(-1, err)
			if r.metrics != nil {
				r.metrics.inFlight.Dec()
			}
		}
		r.rlock.Unlock()
	}()

	hdr := make([]byte, headerSize)
	for {
		n, err := rwAll(r.port, nil, [][]byte{hdr}, headerSize, true)
		if r.metrics != nil && n > 0 {
			r.metrics.bytesRead.Add(float64(n))
		}
		if err != nil || n <= 0 {
			if err == nil {
				err = newErr(EndOfStream, "reader", errors.New("zero-length header read"))
			}
			level.Debug(r.logger).Log("msg", "reader loop exiting", "err", err)
			return err
		}

		cmd, err := decodeCommand(hdr)
		if err != nil {
			level.Error(r.logger).Log("msg", "reader loop exiting on protocol violation", "err", err)
			return err
		}

		if cmd.Op != OpResponse {
			if r.handler == nil {
				level.Error(r.logger).Log("msg", "no command handler installed for inbound command", "op", cmd.Op)
				return newErr(ProtocolViolation, "reader", errors.Errorf("unhandled inbound opcode %s", cmd.Op))
			}
			if herr := r.handler(cmd, &CommandData{responder: r}); herr != nil {
				return herr
			}
			continue
		}

		r.dispatchResponse(cmd)
	}
}

func (r *Responder) dispatchResponse(cmd Command) {
	r.rlock.Lock()
	slot, ok := r.readers[cmd.ClientID]
	if ok {
		delete(r.readers, cmd.ClientID)
	}
	r.rlock.Unlock()

	if !ok {
		if cmd.Code > 0 {
			discarded, _ := r.port.Discard(int(cmd.Code))
			if r.metrics != nil {
				r.metrics.orphanBytes.Add(float64(discarded))
			}
		}
		level.Debug(r.logger).Log("msg", "orphan response discarded", "client_id", cmd.ClientID, "code", cmd.Code)
		return
	}

	rec := slot.rIO
	var readErr error

	if cmd.Code > 0 {
		if len(rec.bufs) > 0 {
			want := sumLen(rec.bufs)
			if want > int(cmd.Code) {
				want = int(cmd.Code)
			}
			n, rerr := rwAll(r.port, nil, rec.bufs, want, true)
			if r.metrics != nil && n > 0 {
				r.metrics.bytesRead.Add(float64(n))
			}
			readErr = rerr
			if rerr == nil && n < int(cmd.Code) {
				_, _ = r.port.Discard(int(cmd.Code) - n)
			}
		} else {
			_, _ = r.port.Discard(int(cmd.Code))
		}
	}

	if r.metrics != nil {
		r.metrics.inFlight.Dec()
	}

	r.rlock.Lock()
	rec.complete(cmd.Code, readErr)
	r.rlock.Unlock()

	if rec.cleanup != nil {
		rec.cleanup(rec.cleanupArg, int(cmd.Code), readErr)
	}
}

/*writerLoop drains the write queue until Stop sets thrd_stop, mirroring
iiod_responder_writer_thrd: a failed write is stored as a negative code on
that slot alone and the loop moves on to the next queued writer. Only the
reader loop's own read failure tears the connection down - a bad write
(a USB STALL, a transient busy/timeout) fails the one caller waiting on
it, not every other in-flight slot.*/
func (r *Responder) writerLoop() error {
	for {
		r.wlock.Lock()
		for len(r.writers) == 0 && !r.thrdStop {
			r.wcond.Wait()
		}
		if len(r.writers) == 0 && r.thrdStop {
			r.wlock.Unlock()
			level.Debug(r.logger).Log("msg", "writer loop stopped")
			return nil
		}

		slot := r.writers[0]
		r.writers = r.writers[1:]
		r.wlock.Unlock()

		rec := slot.wIO
		hdr := rec.cmd.encode()
		n, err := rwAll(r.port, hdr, rec.bufs, 0, false)
		if r.metrics != nil && n > 0 {
			r.metrics.bytesWritten.Add(float64(n))
		}

		code := int32(n)
		if err != nil {
			code = -1
			level.Debug(r.logger).Log("msg", "write failed", "client_id", slot.clientID, "err", err)
		}

		r.wlock.Lock()
		rec.complete(code, err)
		r.wlock.Unlock()

		if r.metrics != nil {
			r.metrics.inFlight.Dec()
		}
		if rec.cleanup != nil {
			rec.cleanup(rec.cleanupArg, n, err)
		}
	}
}

func sumLen(bufs [][]byte) int {
	n := 0
	for _, b := range bufs {
		n += len(b)
	}
	return n
}

//---------------------------------------------------------------------------
// Per-slot async/blocking primitives.
//---------------------------------------------------------------------------

func (r *Responder) enqueueWrite(slot *RequestSlot, op Opcode, dev uint8, code int32, bufs [][]byte, cleanup cleanupFunc, arg interface{}) {
	cmd := Command{ClientID: slot.clientID, Op: op, Dev: dev, Code: code}
	rec := newIORecord(cmd, bufs, cleanup, arg)

	r.wlock.Lock()
	slot.wIO = rec
	r.writers = append(r.writers, slot)
	r.wcond.Signal()
	r.wlock.Unlock()

	if r.metrics != nil {
		r.metrics.inFlight.Inc()
	}
}

func (r *Responder) enqueueRead(slot *RequestSlot, bufs [][]byte) {
	rec := newIORecord(Command{}, bufs, nil, nil)

	r.rlock.Lock()
	slot.rIO = rec
	r.readers[slot.clientID] = slot
	r.rlock.Unlock()

	if r.metrics != nil {
		r.metrics.inFlight.Inc()
	}
}

/*SendCommandAsync queues cmd (with slot's client_id substituted in) for
the writer loop and returns immediately; use WaitForWriteDone to block for
completion. The Go rendition of iiod_reader_send_command_async.*/
func (s *RequestSlot) SendCommandAsync(cmd Command, bufs [][]byte, cleanup cleanupFunc, arg interface{}) {
	s.responder.enqueueWrite(s, cmd.Op, cmd.Dev, cmd.Code, bufs, cleanup, arg)
}

//WaitForWriteDone blocks until the most recently enqueued write on this
//slot has been sent, and returns the byte count written (or a negative
//sentinel) and any transport error - iiod_reader_wait_for_command_done.
func (s *RequestSlot) WaitForWriteDone() (int32, error) {
	rec := s.wIO
	<-rec.done
	return rec.cmd.Code, rec.err
}

//SendCommand is the blocking convenience form: async send + wait.
func (s *RequestSlot) SendCommand(cmd Command, bufs [][]byte) (int32, error) {
	s.SendCommandAsync(cmd, bufs, nil, nil)
	return s.WaitForWriteDone()
}

/*GetResponseAsync arms the slot to receive the next RESPONSE addressed to
its client_id, writing payload (if any) into bufs. The Go rendition of
iiod_reader_get_response_async.*/
func (s *RequestSlot) GetResponseAsync(bufs [][]byte) {
	s.responder.enqueueRead(s, bufs)
}

//WaitForResponse blocks for a response armed by GetResponseAsync and
//returns its code - iiod_reader_wait_for_response.
func (s *RequestSlot) WaitForResponse() (int32, error) {
	rec := s.rIO
	<-rec.done
	return rec.cmd.Code, rec.err
}

//GetResponse is the blocking convenience form: async get + wait.
func (s *RequestSlot) GetResponse(bufs [][]byte) (int32, error) {
	s.GetResponseAsync(bufs)
	return s.WaitForResponse()
}

/*GetAndRequestResponse atomically consumes the response already armed on
this slot and re-arms it with a new buffer vector for the next one, so a
caller can pipeline back-to-back request/response cycles with no gap on
the wire - iiod_reader_get_and_request_response.*/
func (s *RequestSlot) GetAndRequestResponse(bufs [][]byte) (int32, error) {
	rec := s.rIO
	<-rec.done
	code, err := rec.cmd.Code, rec.err

	s.responder.enqueueRead(s, bufs)

	return code, err
}

/*ExecCommand sends cmd and waits for its response in one call, reading the
response payload into buf. On a send failure the slot is cancelled before
the error is returned - iiod_reader_exec_command.*/
func (s *RequestSlot) ExecCommand(cmd Command, cmdBuf []byte, buf []byte) (int32, error) {
	var respBufs [][]byte
	if buf != nil {
		respBufs = [][]byte{buf}
	}
	s.GetResponseAsync(respBufs)

	var sendBufs [][]byte
	if cmdBuf != nil {
		sendBufs = [][]byte{cmdBuf}
	}
	if _, err := s.SendCommand(cmd, sendBufs); err != nil {
		s.Cancel()
		return 0, err
	}

	return s.WaitForResponse()
}

/*Cancel removes the slot from both the readers and writers lists, under
the respective lock - rlock around the readers unlink, wlock around the
writers unlink, never both locks at once. Any I/O already in flight for
the slot still completes on the wire, but its result will not be delivered
to a waiter that has already moved on: a caller that races Cancel against a
pending Wait must treat "no change" as cancellation.*/
func (s *RequestSlot) Cancel() {
	r := s.responder
	removed := 0

	r.rlock.Lock()
	if cur, ok := r.readers[s.clientID]; ok && cur == s {
		delete(r.readers, s.clientID)
		removed++
	}
	r.rlock.Unlock()

	r.wlock.Lock()
	for i, w := range r.writers {
		if w == s {
			r.writers = append(r.writers[:i], r.writers[i+1:]...)
			removed++
			break
		}
	}
	r.wlock.Unlock()

	if r.metrics != nil {
		r.metrics.inFlight.Sub(float64(removed))
	}
}
