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

// Package core defines the chain-database contract the fast-sync
// engine persists into. The database's internal storage format and
// validation logic are external collaborators (see spec §1); this
// package only carries the narrow surface the sync engine calls.
package core

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/core/types"
)

// ErrSinkFailure is returned by Persist when the chain database
// rejects a batch it was asked to commit, e.g. because of an internal
// consistency check failure. The engine treats it as fatal: see
// DESIGN.md's decision on spec §9 open question 2.
var ErrSinkFailure = errors.New("chainsink: persist failed")

// ChainSink exposes the local chain's current head and accepts
// validated, contiguous, ascending-order header/body batches for
// durable persistence.
type ChainSink interface {
	// BestHeader returns the chain's current head, used once at sync
	// startup to seed the finalized-block watermark.
	BestHeader() *types.Header

	// Persist atomically commits a contiguous ascending range of
	// headers and their aligned bodies. The sync engine guarantees
	// headers[i] corresponds to bodies[i] and that ranges across
	// calls are strictly ascending and non-overlapping; Persist
	// itself is free to run additional internal consistency checks
	// and fail the batch.
	Persist(ctx context.Context, headers []*types.Header, bodies []*types.Body) error
}
