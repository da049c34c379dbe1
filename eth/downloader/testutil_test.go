package downloader

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/holiman/uint256"

	ethlitecore "github.com/ethlite/fastsync/core"
	ethproto "github.com/ethlite/fastsync/eth/protocols/eth"
	"github.com/ethlite/fastsync/p2p"
)

// buildChain synthesizes a trivial chain of headers [0, n] with empty
// bodies, a shallow fixture style used instead of a full
// state-transition chain.
func buildChain(n uint64) (map[uint64]*types.Header, map[common.Hash]*types.Body) {
	return buildChainVariant(n, "")
}

// buildChainVariant is buildChain but with a tag folded into every
// header's Extra field, so two calls with different tags produce
// chains that never share a single hash — used to simulate peers
// sitting on genuinely disjoint forks.
func buildChainVariant(n uint64, tag string) (map[uint64]*types.Header, map[common.Hash]*types.Body) {
	headers := make(map[uint64]*types.Header, n+1)
	bodies := make(map[common.Hash]*types.Body, n+1)

	parent := common.Hash{}
	for i := uint64(0); i <= n; i++ {
		h := &types.Header{
			ParentHash: parent,
			Number:     new(big.Int).SetUint64(i),
			Difficulty: big.NewInt(1),
			GasLimit:   8_000_000,
			Time:       i,
			Extra:      []byte(tag),
		}
		hash := h.Hash()
		headers[i] = h
		bodies[hash] = &types.Body{}
		parent = hash
	}
	return headers, bodies
}

// fakePeer is a synthetic WireClient backed by in-memory header and
// body maps, a hand-rolled fake rather than a mocking framework.
type fakePeer struct {
	id       string
	headers  map[uint64]*types.Header
	bodies   map[common.Hash]*types.Body
	bestHash common.Hash
	bestNum  uint64
	td       *uint256.Int

	mu           sync.Mutex
	disconnected bool
	dropReason   ethproto.DropReason

	failHeaders bool
	failBodies  bool
	dropBody    common.Hash // if set, this one hash is omitted from body responses
}

func newFakePeer(id string, headers map[uint64]*types.Header, bodies map[common.Hash]*types.Body, bestNum uint64, td uint64) *fakePeer {
	return &fakePeer{
		id:       id,
		headers:  headers,
		bodies:   bodies,
		bestHash: headers[bestNum].Hash(),
		bestNum:  bestNum,
		td:       uint256.NewInt(td),
	}
}

func (p *fakePeer) ID() string                             { return p.id }
func (p *fakePeer) BestBlockHash() common.Hash              { return p.bestHash }
func (p *fakePeer) BestTotalDifficulty() *uint256.Int        { return p.td }

// resolveOrigin turns a HashOrNumber into a concrete block number,
// exactly as a real wire peer would before walking forward or
// backward from it. A non-zero Hash always takes precedence over
// Number.
func (p *fakePeer) resolveOrigin(o ethproto.HashOrNumber) (uint64, bool) {
	if o.Hash != (common.Hash{}) {
		for n, h := range p.headers {
			if h.Hash() == o.Hash {
				return n, true
			}
		}
		return 0, false
	}
	return o.Number, true
}

func (p *fakePeer) GetBlockHeaders(ctx context.Context, req ethproto.GetBlockHeadersPacket) (ethproto.BlockHeadersPacket, error) {
	if p.failHeaders {
		return nil, errors.New("fakePeer: header fetch failed")
	}
	n, ok := p.resolveOrigin(req.Origin)
	if !ok {
		return nil, nil
	}
	var out ethproto.BlockHeadersPacket
	for i := uint64(0); i < req.Amount; i++ {
		if n > p.bestNum {
			break
		}
		h, ok := p.headers[n]
		if !ok {
			break
		}
		out = append(out, h)
		if req.Reverse {
			if n == 0 {
				break
			}
			n--
		} else {
			n++
		}
	}
	return out, nil
}

func (p *fakePeer) GetBlockBodies(ctx context.Context, hashes []common.Hash) (ethproto.BlockBodiesPacket, error) {
	if p.failBodies {
		return nil, errors.New("fakePeer: body fetch failed")
	}
	var out ethproto.BlockBodiesPacket
	for _, h := range hashes {
		if h == p.dropBody {
			continue
		}
		b, ok := p.bodies[h]
		if !ok {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (p *fakePeer) Disconnect(reason ethproto.DropReason) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = true
	p.dropReason = reason
}

func (p *fakePeer) wasDisconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnected
}

// fakeChain is an in-memory ChainSink recording every persisted batch
// in call order, so tests can assert ascending, non-overlapping,
// gap-free delivery (spec §8 invariant 1).
type fakeChain struct {
	mu        sync.Mutex
	best      *types.Header
	persisted []batchRange
	failAt    uint64 // Persist fails once if the batch starts here; 0 disables
	failed    bool
}

type batchRange struct{ start, end uint64 }

func newFakeChain(best *types.Header) *fakeChain {
	return &fakeChain{best: best}
}

func (c *fakeChain) BestHeader() *types.Header { return c.best }

func (c *fakeChain) Persist(ctx context.Context, headers []*types.Header, bodies []*types.Body) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := headers[0].Number.Uint64()
	if c.failAt != 0 && start == c.failAt && !c.failed {
		c.failed = true
		return ethlitecore.ErrSinkFailure
	}
	end := headers[len(headers)-1].Number.Uint64()
	c.persisted = append(c.persisted, batchRange{start, end})
	return nil
}

func (c *fakeChain) batches() []batchRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]batchRange, len(c.persisted))
	copy(out, c.persisted)
	return out
}

// fakePool is a PeerPool whose connect/disconnect calls are driven
// directly by the test, via a plain event.Feed.
type fakePool struct {
	feed event.Feed
}

func (p *fakePool) SubscribeEvents(ch chan<- *p2p.PeerEvent) event.Subscription {
	return p.feed.Subscribe(ch)
}

func (p *fakePool) connect(peer ethproto.Peer) {
	p.feed.Send(&p2p.PeerEvent{Peer: peer, Joining: true})
}

func (p *fakePool) disconnect(peer ethproto.Peer) {
	p.feed.Send(&p2p.PeerEvent{Peer: peer, Joining: false})
}
