package iio

import "sync"

/*clientIDRegistry hands out monotonically increasing 16-bit client ids,
wrapping around silently once the counter overflows. The id space vastly
exceeds the concurrent-operations ceiling in practice, so the caller -
here, Responder - is responsible for ensuring no outstanding slot
collides with a freshly minted id.*/
type clientIDRegistry struct {
	mu   sync.Mutex
	next uint16
}

func (r *clientIDRegistry) allocate() uint16 {
	r.mu.Lock()
	id := r.next
	r.next++
	r.mu.Unlock()
	return id
}
