/*
Package mempool implements the payload source of the consensus engine.
Transaction batching happens elsewhere; the mempool only hands out opaque
digests of batches in the order they were submitted.
*/
package mempool

import (
	"context"

	"github.com/gitzhang10/chainedbft/sign"
)

// Mempool is a bounded FIFO of payload digests.
type Mempool struct {
	queue chan sign.Digest
}

// New creates a mempool holding at most capacity digests.
func New(capacity int) *Mempool {
	return &Mempool{queue: make(chan sign.Digest, capacity)}
}

// Submit queues a batch digest, waiting while the mempool is full.
func (m *Mempool) Submit(ctx context.Context, digest sign.Digest) error {
	select {
	case m.queue <- digest:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NextPayload returns the oldest queued digest, or the zero digest (an empty
// block) when nothing is queued. It never blocks.
func (m *Mempool) NextPayload() sign.Digest {
	select {
	case digest := <-m.queue:
		return digest
	default:
		return sign.Digest{}
	}
}

// Len returns the number of queued digests.
func (m *Mempool) Len() int {
	return len(m.queue)
}
