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

import "errors"

var (
	// errBadPeer is returned internally when a peer's response to a
	// header or body request is absent, empty, or inconsistent.
	errBadPeer = errors.New("downloader: peer response invalid")

	// errStaleSlot is returned by markReceived when the targeted slot
	// does not exist or is not in the Requested state. (revert ignores
	// such slots instead of reporting an error.)
	errStaleSlot = errors.New("downloader: slot not in expected state")

	// ErrNoPeers is returned by Synchronise, together with
	// NotEnoughPeers, when the trust set does not reach
	// Config.MinPeersToStartSync within Config.BootstrapTimeout.
	ErrNoPeers = errors.New("downloader: no peers available")
)

// Result is the outcome of a top-level Synchronise call. It is only
// meaningful when the accompanying error is nil; a ChainSink rejection
// is reported as a non-nil error with the zero Result, since none of
// the named outcomes describe it (spec §9 open question 2).
type Result int

const (
	// Success means the queue drained and every block up to
	// endBlockNumber was persisted.
	Success Result = iota
	// NotEnoughPeers means the trust set never reached
	// Config.MinPeersToStartSync within Config.BootstrapTimeout.
	NotEnoughPeers
	// TimedOut means one or more peers stalled without progress
	// within Config.StallTimeout.
	TimedOut
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case NotEnoughPeers:
		return "not enough peers"
	case TimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}
