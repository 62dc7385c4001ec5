package curtain

import (
	"context"
	"sync"
)

// afterQueue holds work a controller operation runs once it has released
// its key locks: after-hooks and lifecycle signals.
type afterQueue struct {
	mu  sync.Mutex
	fns []func()
}

type afterQueueKey struct{}

// withAfterQueue returns ctx carrying a fresh queue. Nested helpers of one
// operation share it; every public operation starts its own.
func withAfterQueue(ctx context.Context) (context.Context, *afterQueue) {
	q := &afterQueue{}
	return context.WithValue(ctx, afterQueueKey{}, q), q
}

// RunAfter queues fn to run when the controller operation that ctx belongs
// to has released its locks. Outside a controller operation fn runs
// immediately.
func RunAfter(ctx context.Context, fn func()) {
	if q, ok := ctx.Value(afterQueueKey{}).(*afterQueue); ok {
		q.mu.Lock()
		q.fns = append(q.fns, fn)
		q.mu.Unlock()
		return
	}
	fn()
}

// run drains the queue in order, including work queued while draining.
func (q *afterQueue) run() {
	for {
		q.mu.Lock()
		fns := q.fns
		q.fns = nil
		q.mu.Unlock()
		if len(fns) == 0 {
			return
		}
		for _, fn := range fns {
			fn()
		}
	}
}
