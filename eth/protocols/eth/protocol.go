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

// Package eth defines the narrow slice of the block-exchange wire
// protocol that the fast-sync engine consumes: header and body
// request/response packets plus the per-peer contract used to issue
// them. Handshake, framing and RLP wire encoding are external
// collaborators and are not implemented here.
package eth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Protocol version and per-message size caps, as specified by the
// block-exchange sub-protocol. MaxReceiptsPerRequest and
// MaxStatePerRequest describe message kinds this engine never issues
// (receipts and state sync are out of scope, see spec §1) but are kept
// alongside the rest of the wire constants since they are part of the
// external protocol surface, not something owned by the sync engine.
const (
	ProtocolVersion       = 63
	MaxHeadersPerRequest  = 192
	MaxBodiesPerRequest   = 128
	MaxReceiptsPerRequest = 256
	MaxStatePerRequest    = 384
)

// HashOrNumber is a combined field for specifying an origin block,
// mirroring the wire encoding used by the block-exchange protocol.
type HashOrNumber struct {
	Hash   common.Hash
	Number uint64
}

// GetBlockHeadersPacket represents a block header query.
type GetBlockHeadersPacket struct {
	Origin  HashOrNumber
	Amount  uint64
	Skip    uint64
	Reverse bool
}

// BlockHeadersPacket represents a block header response. A response
// containing fewer than Amount headers is legal and indicates the
// responder's chain tail.
type BlockHeadersPacket []*types.Header

// BlockBodiesPacket represents a block body response, aligned 1-to-1
// with the headers of the request that produced it.
type BlockBodiesPacket []*types.Body

// DropReason classifies why a peer is being disconnected.
type DropReason int

const (
	// DropSubprotocolViolation is used whenever a peer's response to a
	// header or body request is absent, empty, or internally
	// inconsistent (header/body count mismatch).
	DropSubprotocolViolation DropReason = iota
	// DropUselessPeer is used when a peer disagrees with the trust
	// quorum during the trust protocol.
	DropUselessPeer
)

func (r DropReason) String() string {
	switch r {
	case DropSubprotocolViolation:
		return "subprotocol violation"
	case DropUselessPeer:
		return "useless peer"
	default:
		return "unknown"
	}
}

// Peer is the WireClient contract: everything the sync engine needs
// from a single connected remote peer. Implementations are expected
// to enforce their own per-request timeout; GetBlockHeaders and
// GetBlockBodies returning a non-nil error is treated identically to
// a timeout by callers.
type Peer interface {
	// ID returns the peer's stable identity, assigned by the peer
	// pool at admission. Equality and hashing of peers must derive
	// from this identity alone.
	ID() string

	// BestBlockHash and BestTotalDifficulty return the peer's
	// handshake-cached chain view.
	BestBlockHash() common.Hash
	BestTotalDifficulty() *uint256.Int

	// GetBlockHeaders issues a forward or reverse header range
	// request. A nil, non-error result means the peer had nothing to
	// offer for this query (treated as empty by callers).
	GetBlockHeaders(ctx context.Context, req GetBlockHeadersPacket) (BlockHeadersPacket, error)

	// GetBlockBodies fetches the bodies for the given header hashes,
	// in the order requested.
	GetBlockBodies(ctx context.Context, hashes []common.Hash) (BlockBodiesPacket, error)

	// Disconnect signals a protocol violation or policy rejection to
	// the transport layer, which owns actually tearing down the
	// connection.
	Disconnect(reason DropReason)
}
