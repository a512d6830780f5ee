package iio

import (
	"sync"

	"github.com/pkg/errors"
)

//Vendor control requests understood by the iiod USB gadget.
const (
	usbCmdResetPipes = 0
	usbCmdOpenPipe   = 1
	usbCmdClosePipe  = 2
)

//usbPipeCtrlTimeoutMS bounds every control transfer: these should never
//take long, so a short fixed timeout is used regardless of the context's
//configured data timeout.
const usbPipeCtrlTimeoutMS = 1000

//usbMaxBulkTransfer is the per-submission cap a kernel URB allocation
//imposes; a chunked-I/O path above this layer must segment larger
//transfers.
const usbMaxBulkTransfer = 1 << 20

//epCouple is one (IN, OUT) bulk endpoint pair, an "endpoint couple".
//Couple 0 is permanently reserved for the control/attribute stream and
//is never handed out by acquire.
type epCouple struct {
	inAddr, outAddr uint8
	pipeID          uint16
	inUse           bool
	ownerDev        uint8
}

/*endpointPool arbitrates a fixed set of endpoint couples across opened
devices. acquire/release replace the original in_use flag with a pool the
caller cannot forget to release so long as it defers Couple.Close, an
RAII-style handle in place of manual reservation bookkeeping.*/
type endpointPool struct {
	mu      sync.Mutex
	couples []epCouple
}

func newEndpointPool(couples []epCouple) *endpointPool {
	return &endpointPool{couples: couples}
}

//Couple is a handle on a reserved endpoint couple; Close releases it back
//to the pool exactly once.
type Couple struct {
	pool     *endpointPool
	index    int
	released bool
}

func (p *endpointPool) acquire(dev uint8) (*Couple, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 1; i < len(p.couples); i++ {
		if !p.couples[i].inUse {
			p.couples[i].inUse = true
			p.couples[i].ownerDev = dev
			return &Couple{pool: p, index: i}, nil
		}
	}
	return nil, newErr(Busy, "endpointPool.acquire", errors.New("no free USB endpoint couple"))
}

func (p *endpointPool) release(index int) {
	p.mu.Lock()
	p.couples[index].inUse = false
	p.mu.Unlock()
}

func (p *endpointPool) control() epCouple {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.couples[0]
}

func (p *endpointPool) get(index int) epCouple {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.couples[index]
}

//PipeID returns the reserved couple's pipe_id, used to build the
//OPEN_PIPE/CLOSE_PIPE control requests.
func (c *Couple) PipeID() uint16 {
	return c.pool.get(c.index).pipeID
}

func (c *Couple) endpoints() (inAddr, outAddr uint8) {
	ep := c.pool.get(c.index)
	return ep.inAddr, ep.outAddr
}

//Close releases the couple back to the pool. Safe to call more than once.
func (c *Couple) Close() error {
	if c.released {
		return nil
	}
	c.released = true
	c.pool.release(c.index)
	return nil
}
