package iio

import (
	"context"
	"sync/atomic"
)

/*cancelToken is the cancellation primitive transports share: Cancel is
idempotent and sets cancelled permanently, so once fired, a later
operation on the same endpoint fails fast until the owning device is
closed and reopened. It replaces cancellation-by-pointer-mutation with a
token the device owns and checks/shares atomically.

The token wraps a context.Context rather than the original's mutex-guarded
in-flight-transfer-handle: cancelling it cancels that context, and each
transport adapter races its blocking I/O against ctx.Done() however its
underlying library allows (the TCP adapter forces an expired read/write
deadline; the USB adapter stops waiting on the pending gousb transfer and
returns Cancelled, but does not abort that transfer itself).*/
type cancelToken struct {
	cancelled atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
}

func newCancelToken(parent context.Context) *cancelToken {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &cancelToken{ctx: ctx, cancel: cancel}
}

//Cancel aborts any current or future blocking I/O guarded by this token.
//Calling it more than once has no further effect.
func (t *cancelToken) Cancel() {
	if t.cancelled.CompareAndSwap(false, true) {
		t.cancel()
	}
}

//Cancelled reports whether Cancel has ever been called on this token.
func (t *cancelToken) Cancelled() bool {
	return t.cancelled.Load()
}

//Context returns the token's context, done exactly when Cancel is called.
func (t *cancelToken) Context() context.Context {
	return t.ctx
}

//refuseIfCancelled returns a Cancelled Error if the token has fired; callers
//use this to refuse starting new I/O on an endpoint that has already seen a
//cancellation, so it fails fast until the endpoint is reopened.
func (t *cancelToken) refuseIfCancelled(op string) error {
	if t.Cancelled() {
		return newErr(Cancelled, op, t.ctx.Err())
	}
	return nil
}
