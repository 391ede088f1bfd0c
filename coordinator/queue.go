package coordinator

import (
	"sync"

	"github.com/coregraph-labs/hashgraph/event"
)

// Result is delivered to a transaction's submitter once the event carrying
// it has been finalized and the transaction applied.
type Result struct {
	Err error
}

// pendingTx pairs a queued transaction with the channel its submitter is
// waiting on.
type pendingTx struct {
	tx     event.Transaction
	result chan Result
}

// queue is the single point of cross-thread entry into the coordinator: a
// mutex-guarded slice of (transaction, future) pairs. Any goroutine may
// submit; the coordinator is the sole consumer, via Drain.
type queue struct {
	mu    sync.Mutex
	items []pendingTx
}

// Submit appends tx to the queue and returns a channel that will receive
// exactly one Result once the transaction commits.
func (q *queue) Submit(tx event.Transaction) <-chan Result {
	ch := make(chan Result, 1)
	q.mu.Lock()
	q.items = append(q.items, pendingTx{tx: tx, result: ch})
	q.mu.Unlock()
	return ch
}

// Drain removes and returns every queued item, in submission order.
func (q *queue) Drain() []pendingTx {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
