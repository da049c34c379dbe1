// Copyright 2026 ethlite
// This file is part of the ethlite/fastsync library.
//
// This software is provided "as is", without warranty of any kind,
// express or implied, including but not limited to the warranties
// of merchantability, fitness for a particular purpose and
// noninfringement. In no event shall the authors or copyright
// holders be liable for any claim, damages, or other liability,
// whether in an action of contract, tort or otherwise, arising
// from, out of or in connection with the software or the use or
// other dealings in the software.

package downloader

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	ethlitecore "github.com/ethlite/fastsync/core"
)

// slotState is the per-WorkItem state machine of spec §3: items
// progress Initial -> Requested -> Received -> Persisted, with the
// single allowed revert Requested -> Initial on failure.
type slotState int

const (
	StateInitial slotState = iota
	StateRequested
	StateReceived
	StatePersisted
)

func (s slotState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateRequested:
		return "requested"
	case StateReceived:
		return "received"
	case StatePersisted:
		return "persisted"
	default:
		return "unknown"
	}
}

// WorkItem is a reservation for a contiguous block range inside the
// sync window, plus whatever material has been downloaded for it.
type WorkItem struct {
	startIndex BlockNumber
	numBlocks  uint32
	state      slotState

	headers []*types.Header
	bodies  []*types.Body
}

// StartIndex and NumBlocks expose the slot's range; endIndex is the
// last block number included in the range (inclusive).
func (w *WorkItem) StartIndex() BlockNumber { return w.startIndex }
func (w *WorkItem) NumBlocks() uint32       { return w.numBlocks }
func (w *WorkItem) State() slotState        { return w.state }

func (w *WorkItem) endIndex() BlockNumber {
	if w.numBlocks == 0 {
		return w.startIndex
	}
	return w.startIndex.Add(uint64(w.numBlocks - 1))
}

// WorkQueue is the in-memory sliding window of block-range work items
// described in spec §4.1. It is safe for concurrent use by many
// per-peer download tasks; claimAvailable, markReceived and revert
// are each individually atomic, and together with drain they keep the
// invariants of spec §3 intact regardless of how many goroutines call
// in.
type WorkQueue struct {
	mu sync.Mutex

	items []*WorkItem

	finalizedBlock      BlockNumber
	endBlockNumber      BlockNumber
	hasOutOfOrderBlocks bool

	log log.Logger
}

// NewWorkQueue creates a queue seeded with the chain's current head.
func NewWorkQueue(finalized BlockNumber, logger log.Logger) *WorkQueue {
	if logger == nil {
		logger = log.New("module", "downloader/queue")
	}
	return &WorkQueue{
		finalizedBlock: finalized,
		endBlockNumber: finalized,
		log:            logger,
	}
}

// RaiseEndBlockNumber extends the sync window. The window only ever
// grows: a lower n is silently ignored (spec §5, endBlockNumber
// advances monotonically).
func (q *WorkQueue) RaiseEndBlockNumber(n BlockNumber) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n.Cmp(q.endBlockNumber) > 0 {
		q.endBlockNumber = n
	}
}

// FinalizedBlock returns the current persistence watermark.
func (q *WorkQueue) FinalizedBlock() BlockNumber {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.finalizedBlock
}

// EndBlockNumber returns the current sync window ceiling.
func (q *WorkQueue) EndBlockNumber() BlockNumber {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.endBlockNumber
}

// HasOutOfOrderBlocks reports whether the reorder buffer is
// non-empty.
func (q *WorkQueue) HasOutOfOrderBlocks() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hasOutOfOrderBlocks
}

// Done reports whether the sync window has been fully drained: every
// slot is Persisted and the window cannot be extended further.
func (q *WorkQueue) Done() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.finalizedBlock.Add(1).Cmp(q.endBlockNumber) < 0 {
		return false
	}
	for _, it := range q.items {
		if it.state != StatePersisted {
			return false
		}
	}
	return true
}

// claimAvailable implements the slot-selection algorithm of spec
// §4.1. It recycles the first Initial slot it finds; failing that, it
// extends the window by reusing a Persisted slot (lowest index) or
// appending a new one. The claim itself transitions the chosen slot
// to Requested atomically, which is the serialization point spec §5
// relies on to guarantee a slot is never Requested by two workers at
// once — the algorithm's own description of creating a slot "in
// Initial state" and returning its index is fused here into one
// critical section with the immediate Requested transition.
func (q *WorkQueue) claimAvailable() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	maxPending := q.finalizedBlock
	initialIdx := -1
	for i, it := range q.items {
		if end := it.endIndex(); end.Cmp(maxPending) > 0 {
			maxPending = end
		}
		if it.state == StateInitial && initialIdx == -1 {
			initialIdx = i
		}
	}
	if initialIdx != -1 {
		q.items[initialIdx].state = StateRequested
		return initialIdx, true
	}

	nextStart := maxPending.Add(1)
	if nextStart.Cmp(q.endBlockNumber) >= 0 {
		return 0, false
	}
	remaining := q.endBlockNumber.Sub(nextStart)
	numBlocks := minBlockNumber(remaining, NewBlockNumber(MaxHeaderFetch))
	n32 := uint32(numBlocks.Uint64())
	if n32 == 0 {
		// endBlockNumber == nextStart would have failed the >= check
		// above; this only guards a pathological Sub() saturation.
		return 0, false
	}

	for i, it := range q.items {
		if it.state == StatePersisted {
			it.startIndex = nextStart
			it.numBlocks = n32
			it.state = StateRequested
			it.headers = nil
			it.bodies = nil
			return i, true
		}
	}

	item := &WorkItem{startIndex: nextStart, numBlocks: n32, state: StateRequested}
	q.items = append(q.items, item)
	return len(q.items) - 1, true
}

// markReceived transitions a Requested slot to Received, storing the
// downloaded material. It fails if the slot is not currently
// Requested or if the delivered counts don't match the reservation
// (invariant 1 of spec §3).
func (q *WorkQueue) markReceived(idx int, headers []*types.Header, bodies []*types.Body) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if idx < 0 || idx >= len(q.items) {
		return errStaleSlot
	}
	it := q.items[idx]
	if it.state != StateRequested {
		return errStaleSlot
	}
	if len(headers) != int(it.numBlocks) || len(bodies) != int(it.numBlocks) {
		return errBadPeer
	}
	it.headers = headers
	it.bodies = bodies
	it.state = StateReceived
	return nil
}

// revert transitions a Requested slot back to Initial, discarding any
// partial data. It is a no-op-safe operation: calling it on a slot
// that is no longer Requested (e.g. already reclaimed) is ignored
// rather than erroring, since callers reach this path from failure
// handling and have no useful recovery otherwise.
func (q *WorkQueue) revert(idx int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if idx < 0 || idx >= len(q.items) {
		return
	}
	it := q.items[idx]
	if it.state != StateRequested {
		return
	}
	it.state = StateInitial
	it.headers = nil
	it.bodies = nil
}

// drain implements the reorder-buffer persistence loop of spec §4.2.
// It is idempotent: calling it repeatedly on a queue with nothing new
// to persist is a safe no-op. ChainSink.Persist calls are made while
// holding the queue's own lock, which is what guarantees the single
// logical owner / total ordering spec §5 requires — no two drain
// calls, from any goroutine, can interleave their Persist calls.
func (q *WorkQueue) drain(ctx context.Context, sink ethlitecore.ChainSink) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		progressed := false
		for _, it := range q.items {
			if it.state != StateReceived {
				continue
			}
			if it.startIndex.Cmp(q.finalizedBlock.Add(1)) != 0 {
				continue
			}
			if err := sink.Persist(ctx, it.headers, it.bodies); err != nil {
				return err
			}
			persistedCount := int64(it.numBlocks)
			q.finalizedBlock = it.endIndex()
			it.state = StatePersisted
			it.headers = nil
			it.bodies = nil
			progressed = true
			blocksPersisted.Mark(persistedCount)
			q.log.Debug("Persisted block range", "start", it.startIndex, "end", q.finalizedBlock)
			break // ranges are disjoint; restart the scan from the new watermark
		}
		if !progressed {
			break
		}
	}

	q.hasOutOfOrderBlocks = false
	for _, it := range q.items {
		if it.state == StateReceived {
			q.hasOutOfOrderBlocks = true
			break
		}
	}
	return nil
}

// Pending reports slot counts useful for status/metrics reporting.
func (q *WorkQueue) Pending() (requested, received int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		switch it.state {
		case StateRequested:
			requested++
		case StateReceived:
			received++
		}
	}
	return
}
