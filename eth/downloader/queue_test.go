package downloader

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// headerRange/bodyRange slice [lo,hi] inclusive out of the fixture
// maps built by buildChain, in ascending order, ready to hand to
// markReceived.
func headerRange(headers map[uint64]*types.Header, lo, hi uint64) []*types.Header {
	out := make([]*types.Header, 0, hi-lo+1)
	for n := lo; n <= hi; n++ {
		out = append(out, headers[n])
	}
	return out
}

func bodyRange(bodies map[common.Hash]*types.Body, headers map[uint64]*types.Header, lo, hi uint64) []*types.Body {
	out := make([]*types.Body, 0, hi-lo+1)
	for n := lo; n <= hi; n++ {
		out = append(out, bodies[headers[n].Hash()])
	}
	return out
}

func TestClaimAvailableExtendsWindow(t *testing.T) {
	q := NewWorkQueue(NewBlockNumber(100), nil)
	q.RaiseEndBlockNumber(NewBlockNumber(101 + 2*uint64(MaxHeaderFetch)))

	idx1, ok := q.claimAvailable()
	require.True(t, ok)
	item1 := q.items[idx1]
	assert.Equal(t, uint64(101), item1.StartIndex().Uint64())
	assert.Equal(t, uint32(MaxHeaderFetch), item1.NumBlocks())
	assert.Equal(t, StateRequested, item1.State())

	idx2, ok := q.claimAvailable()
	require.True(t, ok)
	item2 := q.items[idx2]
	assert.Equal(t, uint64(101+MaxHeaderFetch), item2.StartIndex().Uint64())
	assert.NotEqual(t, idx1, idx2)
}

func TestClaimAvailableRecyclesInitialSlotBeforeExtending(t *testing.T) {
	q := NewWorkQueue(NewBlockNumber(0), nil)
	q.RaiseEndBlockNumber(NewBlockNumber(1000))

	idx, ok := q.claimAvailable()
	require.True(t, ok)

	// Revert it back to Initial, simulating a failed peer.
	q.revert(idx)
	assert.Equal(t, StateInitial, q.items[idx].State())

	// The next claim must recycle the same slot rather than creating a
	// new one starting further along the window.
	idx2, ok := q.claimAvailable()
	require.True(t, ok)
	assert.Equal(t, idx, idx2)
	assert.Equal(t, StateRequested, q.items[idx2].State())
}

func TestClaimAvailableExhaustsWindow(t *testing.T) {
	q := NewWorkQueue(NewBlockNumber(100), nil)
	q.RaiseEndBlockNumber(NewBlockNumber(105))

	idx, ok := q.claimAvailable()
	require.True(t, ok)
	item := q.items[idx]
	assert.Equal(t, uint32(4), item.NumBlocks()) // [101,104]

	_, ok = q.claimAvailable()
	assert.False(t, ok, "window is fully claimed; no more work until it extends or a slot frees up")
}

func TestClaimAvailableReusesPersistedSlot(t *testing.T) {
	headers, bodies := buildChain(300)
	sink := newFakeChain(headers[100])

	q := NewWorkQueue(NewBlockNumber(100), nil)
	q.RaiseEndBlockNumber(NewBlockNumber(103))

	idx, ok := q.claimAvailable()
	require.True(t, ok)
	require.NoError(t, q.markReceived(idx, headerRange(headers, 101, 102), bodyRange(bodies, headers, 101, 102)))
	require.NoError(t, q.drain(context.Background(), sink))
	assert.Equal(t, StatePersisted, q.items[idx].State())

	q.RaiseEndBlockNumber(NewBlockNumber(110))
	idx2, ok := q.claimAvailable()
	require.True(t, ok)
	assert.Equal(t, idx, idx2, "a Persisted slot should be recycled before a new one is appended")
	assert.Equal(t, uint64(103), q.items[idx2].StartIndex().Uint64())
}

func TestMarkReceivedRejectsCountMismatch(t *testing.T) {
	headers, bodies := buildChain(300)
	q := NewWorkQueue(NewBlockNumber(100), nil)
	q.RaiseEndBlockNumber(NewBlockNumber(110))

	idx, ok := q.claimAvailable()
	require.True(t, ok)

	err := q.markReceived(idx, headerRange(headers, 101, 105), bodyRange(bodies, headers, 101, 104))
	assert.ErrorIs(t, err, errBadPeer)
}

func TestDrainIsIdempotentAndOutOfOrderSafe(t *testing.T) {
	headers, bodies := buildChain(100 + 3*uint64(MaxHeaderFetch))
	sink := newFakeChain(headers[100])

	q := NewWorkQueue(NewBlockNumber(100), nil)
	q.RaiseEndBlockNumber(NewBlockNumber(100 + 3*uint64(MaxHeaderFetch)))

	idxA, _ := q.claimAvailable()
	idxB, _ := q.claimAvailable()
	idxC, _ := q.claimAvailable()

	startA, endA := q.items[idxA].StartIndex().Uint64(), q.items[idxA].endIndex().Uint64()
	startB, endB := q.items[idxB].StartIndex().Uint64(), q.items[idxB].endIndex().Uint64()
	startC, endC := q.items[idxC].StartIndex().Uint64(), q.items[idxC].endIndex().Uint64()

	// Deliver out of order: C, then A, then B.
	require.NoError(t, q.markReceived(idxC, headerRange(headers, startC, endC), bodyRange(bodies, headers, startC, endC)))
	require.NoError(t, q.drain(context.Background(), sink))
	assert.True(t, q.HasOutOfOrderBlocks())
	assert.Empty(t, sink.batches(), "nothing can persist until the contiguous prefix arrives")

	require.NoError(t, q.markReceived(idxA, headerRange(headers, startA, endA), bodyRange(bodies, headers, startA, endA)))
	require.NoError(t, q.drain(context.Background(), sink))
	require.NoError(t, q.drain(context.Background(), sink)) // idempotent: second call is a no-op
	assert.Len(t, sink.batches(), 1)

	require.NoError(t, q.markReceived(idxB, headerRange(headers, startB, endB), bodyRange(bodies, headers, startB, endB)))
	require.NoError(t, q.drain(context.Background(), sink))
	assert.Len(t, sink.batches(), 3)
	assert.False(t, q.HasOutOfOrderBlocks())
	assert.Equal(t, endC, q.FinalizedBlock().Uint64())

	batches := sink.batches()
	for i := 1; i < len(batches); i++ {
		assert.Equal(t, batches[i-1].end+1, batches[i].start, "persisted ranges must be contiguous and ascending")
	}
}

func TestDoneRequiresFullWindowPersisted(t *testing.T) {
	headers, bodies := buildChain(110)
	sink := newFakeChain(headers[100])
	q := NewWorkQueue(NewBlockNumber(100), nil)
	q.RaiseEndBlockNumber(NewBlockNumber(102)) // exclusive bound: block 101 is the last included block

	assert.False(t, q.Done())

	idx, ok := q.claimAvailable()
	require.True(t, ok)
	require.NoError(t, q.markReceived(idx, headerRange(headers, 101, 101), bodyRange(bodies, headers, 101, 101)))
	require.NoError(t, q.drain(context.Background(), sink))

	assert.True(t, q.Done())
	_, ok = q.claimAvailable()
	assert.False(t, ok)
}
