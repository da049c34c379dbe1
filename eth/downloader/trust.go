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
	"math/rand"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	ethproto "github.com/ethlite/fastsync/eth/protocols/eth"
	mapset "github.com/deckarep/golang-set/v2"
)

// AdmitOutcome reports what a trust-protocol admission decided, so
// the caller knows which follow-up actions to take (spec §4.3).
type AdmitOutcome struct {
	Admitted bool
	// Evicted holds the id of a peer removed from the trust set
	// because it disagreed with the candidate, or "" if nobody was
	// evicted.
	Evicted string
	// CrossedThreshold is true when this admission moved the trust set
	// from below Config.MinPeersToStartSync to at least that size,
	// signaling the caller to launch one download task per
	// currently-trusted peer rather than just one for the candidate.
	CrossedThreshold bool
}

// TrustedPeerSet maintains the set of peers whose chain view has been
// cross-validated, per spec §4.3.
type TrustedPeerSet struct {
	mu     sync.Mutex
	ids    mapset.Set[string]
	peers  map[string]ethproto.Peer
	min    int
	max    int
	log    log.Logger
}

// NewTrustedPeerSet builds an empty trust set bounded by [min, max].
func NewTrustedPeerSet(min, max int, logger log.Logger) *TrustedPeerSet {
	if logger == nil {
		logger = log.New("module", "downloader/trust")
	}
	return &TrustedPeerSet{
		ids:   mapset.NewSet[string](),
		peers: make(map[string]ethproto.Peer),
		min:   min,
		max:   max,
		log:   logger,
	}
}

// Len returns the current trust-set size.
func (t *TrustedPeerSet) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ids.Cardinality()
}

// Contains reports whether id is currently trusted.
func (t *TrustedPeerSet) Contains(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ids.Contains(id)
}

// Peers returns a snapshot of the currently-trusted peers.
func (t *TrustedPeerSet) Peers() []ethproto.Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ethproto.Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	return out
}

// Remove clears id from the trust set, e.g. on disconnect (spec
// §4.5 onPeerDisconnected).
func (t *TrustedPeerSet) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids.Remove(id)
	delete(t.peers, id)
	trustSetGauge.Update(int64(t.ids.Cardinality()))
}

// peersAgreeOnChain implements the pairwise-agreement probe of spec
// §4.3: the peer with the lower reported total difficulty is asked
// whether it knows the other's best hash, by requesting a single
// reversed header starting from that hash. Agreement holds iff the
// response contains a header.
func peersAgreeOnChain(ctx context.Context, a, b ethproto.Peer) (bool, error) {
	queried, target := a, b
	if a.BestTotalDifficulty().Cmp(b.BestTotalDifficulty()) > 0 {
		queried, target = b, a
	}
	headers, err := queried.GetBlockHeaders(ctx, ethproto.GetBlockHeadersPacket{
		Origin:  ethproto.HashOrNumber{Hash: target.BestBlockHash()},
		Amount:  1,
		Reverse: true,
	})
	if err != nil {
		return false, err
	}
	return len(headers) > 0, nil
}

// AdmitCandidate runs the admission table of spec §4.3 against a
// newly connected peer. It never blocks on anything but the pairwise
// probes it issues itself.
func (t *TrustedPeerSet) AdmitCandidate(ctx context.Context, candidate ethproto.Peer) (AdmitOutcome, error) {
	t.mu.Lock()
	existing := make([]ethproto.Peer, 0, len(t.peers))
	for _, p := range t.peers {
		existing = append(existing, p)
	}
	size := t.ids.Cardinality()
	t.mu.Unlock()

	switch {
	case size == 0:
		return t.admit(candidate, ""), nil

	case size < t.min:
		var disagreeing []ethproto.Peer
		for _, existingPeer := range existing {
			ok, err := peersAgreeOnChain(ctx, candidate, existingPeer)
			if err != nil {
				t.log.Debug("Trust probe failed", "candidate", candidate.ID(), "peer", existingPeer.ID(), "err", err)
				ok = false
			}
			if !ok {
				disagreeing = append(disagreeing, existingPeer)
			}
		}
		switch len(disagreeing) {
		case 0:
			return t.admit(candidate, ""), nil
		case 1:
			liar := disagreeing[0].ID()
			t.Remove(liar)
			t.log.Warn("Evicted disagreeing peer during trust bootstrap", "peer", liar, "admitted", candidate.ID())
			return t.admit(candidate, liar), nil
		default:
			return AdmitOutcome{}, nil
		}

	default:
		if len(existing) == 0 {
			return AdmitOutcome{}, nil
		}
		reference := existing[rand.Intn(len(existing))]
		ok, err := peersAgreeOnChain(ctx, candidate, reference)
		if err != nil || !ok {
			return AdmitOutcome{}, err
		}
		return t.admit(candidate, ""), nil
	}
}

// admit records the candidate as trusted, evicting evictedID first if
// non-empty, and reports whether this call crossed the bootstrap
// threshold.
func (t *TrustedPeerSet) admit(candidate ethproto.Peer, evictedID string) AdmitOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	if evictedID != "" {
		t.ids.Remove(evictedID)
		delete(t.peers, evictedID)
	}
	before := t.ids.Cardinality()
	if t.max > 0 && before >= t.max {
		return AdmitOutcome{}
	}
	t.ids.Add(candidate.ID())
	t.peers[candidate.ID()] = candidate
	after := t.ids.Cardinality()
	trustSetGauge.Update(int64(after))

	return AdmitOutcome{
		Admitted:         true,
		Evicted:          evictedID,
		CrossedThreshold: before < t.min && after >= t.min,
	}
}
