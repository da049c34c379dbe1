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
	"time"

	ethproto "github.com/ethlite/fastsync/eth/protocols/eth"
)

// Wire-protocol bounds the engine's own requests must respect. These
// mirror the external protocol's own limits (eth/protocols/eth) rather
// than reinventing them.
const (
	MaxHeaderFetch = ethproto.MaxHeadersPerRequest // 192
	MaxBodyFetch   = ethproto.MaxBodiesPerRequest  // 128
)

// Config carries the engine's configuration surface (spec §6).
type Config struct {
	// MinPeersToStartSync is the trust-set size required before the
	// engine spawns the first batch of download tasks.
	MinPeersToStartSync int
	// MaxTrustedPeers bounds trust-set growth once bootstrap has
	// completed.
	MaxTrustedPeers int
	// BootstrapTimeout bounds how long Synchronise waits to reach
	// MinPeersToStartSync before returning NotEnoughPeers.
	BootstrapTimeout time.Duration
	// StallTimeout bounds how long Synchronise tolerates no
	// finalized-block progress once syncing has started before
	// returning TimedOut.
	StallTimeout time.Duration
}

// DefaultConfig mirrors the defaults listed in spec §6.
var DefaultConfig = Config{
	MinPeersToStartSync: 2,
	MaxTrustedPeers:     16,
	BootstrapTimeout:    30 * time.Second,
	StallTimeout:        2 * time.Minute,
}
