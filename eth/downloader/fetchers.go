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
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	ethlitecore "github.com/ethlite/fastsync/core"
	ethproto "github.com/ethlite/fastsync/eth/protocols/eth"
)

// probeBestBlockNumber learns a peer's best block number. The wire
// contract only hands out a best-block hash and total difficulty at
// handshake time (spec §6), so the number is recovered with a
// single-header-by-hash request, the same trick the trust protocol
// uses to validate a claimed tip.
func probeBestBlockNumber(ctx context.Context, peer ethproto.Peer) (BlockNumber, error) {
	headers, err := peer.GetBlockHeaders(ctx, ethproto.GetBlockHeadersPacket{
		Origin: ethproto.HashOrNumber{Hash: peer.BestBlockHash()},
		Amount: 1,
	})
	if err != nil {
		return BlockNumber{}, err
	}
	if len(headers) == 0 {
		return BlockNumber{}, errBadPeer
	}
	return BlockNumberFromBig(headers[0].Number), nil
}

// obtainBlocksFromPeer is the per-peer download task of spec §4.4. It
// runs until the queue reports no more claimable work, or until the
// peer fails a range, in which case it disconnects the peer and
// returns so the caller (SyncEngine) can react to the peer loss. A
// revert never removes the slot it touched; a later worker, on any
// peer, reclaims it on its next claimAvailable.
func obtainBlocksFromPeer(ctx context.Context, q *WorkQueue, sink ethlitecore.ChainSink, peer ethproto.Peer, logger log.Logger) error {
	if logger == nil {
		logger = log.New("module", "downloader/fetch")
	}

	if best, err := probeBestBlockNumber(ctx, peer); err == nil {
		q.RaiseEndBlockNumber(best.Add(1))
	} else {
		logger.Debug("Best-block probe failed", "peer", peer.ID(), "err", err)
	}

	for {
		idx, ok := q.claimAvailable()
		if !ok {
			return nil
		}
		q.mu.Lock()
		item := q.items[idx]
		start, n := item.startIndex, item.numBlocks
		q.mu.Unlock()

		headersFetched.Mark(1)
		headers, err := peer.GetBlockHeaders(ctx, ethproto.GetBlockHeadersPacket{
			Origin: ethproto.HashOrNumber{Number: start.Uint64()},
			Amount: uint64(n),
		})
		if err != nil || len(headers) == 0 {
			q.revert(idx)
			peer.Disconnect(ethproto.DropSubprotocolViolation)
			logger.Debug("Empty or failed header response, dropping peer", "peer", peer.ID(), "start", start, "err", err)
			return fmt.Errorf("%w: header fetch from %s", errBadPeer, peer.ID())
		}

		hashes := make([]common.Hash, len(headers))
		for i, h := range headers {
			hashes[i] = h.Hash()
		}

		bodies, err := fetchBodiesInBatches(ctx, peer, hashes)
		if err != nil {
			q.revert(idx)
			peer.Disconnect(ethproto.DropSubprotocolViolation)
			logger.Debug("Body fetch failed, dropping peer", "peer", peer.ID(), "start", start, "err", err)
			return fmt.Errorf("%w: body fetch from %s", errBadPeer, peer.ID())
		}
		if len(bodies) != len(headers) {
			q.revert(idx)
			peer.Disconnect(ethproto.DropSubprotocolViolation)
			logger.Debug("Header/body count mismatch, dropping peer", "peer", peer.ID(), "headers", len(headers), "bodies", len(bodies))
			return fmt.Errorf("%w: body count mismatch from %s", errBadPeer, peer.ID())
		}

		if err := q.markReceived(idx, headers, bodies); err != nil {
			// Another worker already reclaimed this slot (e.g. after a
			// disconnect elsewhere reverted it); drop this delivery.
			logger.Debug("Discarding stale delivery", "peer", peer.ID(), "start", start, "err", err)
			continue
		}
		bodiesFetched.Mark(int64(len(bodies)))

		if err := q.drain(ctx, sink); err != nil {
			return fmt.Errorf("%w: %v", ethlitecore.ErrSinkFailure, err)
		}
	}
}

// fetchBodiesInBatches requests bodies MaxBodyFetch hashes at a time
// and concatenates the responses, preserving order.
func fetchBodiesInBatches(ctx context.Context, peer ethproto.Peer, hashes []common.Hash) (ethproto.BlockBodiesPacket, error) {
	var all ethproto.BlockBodiesPacket
	for len(hashes) > 0 {
		batch := hashes
		if len(batch) > MaxBodyFetch {
			batch = hashes[:MaxBodyFetch]
		}
		bodies, err := peer.GetBlockBodies(ctx, batch)
		if err != nil {
			return nil, err
		}
		all = append(all, bodies...)
		hashes = hashes[len(batch):]
	}
	return all, nil
}
