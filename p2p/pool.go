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

// Package p2p defines the peer-pool contract the sync engine observes.
// Discovery, dialing and connection lifecycle belong to the transport
// layer; the engine only ever sees connect/disconnect notifications
// for peers it does not own.
package p2p

import (
	"github.com/ethereum/go-ethereum/event"
	ethproto "github.com/ethlite/fastsync/eth/protocols/eth"
)

// PeerEvent is emitted whenever a peer capable of speaking the
// block-exchange protocol joins or leaves the pool. Peer references
// handed out this way are non-owning: the pool may tear the
// connection down at any time, including between an observer's
// await boundaries, so holders must tolerate a stale reference by
// treating its next failing call as peer loss.
type PeerEvent struct {
	Peer    ethproto.Peer
	Joining bool // true on connect, false on disconnect
}

// Pool is the external peer pool the sync engine registers against.
// It owns peer lifetimes; the engine is purely an observer.
type Pool interface {
	// SubscribeEvents registers ch to receive peer join/leave
	// notifications until the returned subscription is closed.
	SubscribeEvents(ch chan<- *PeerEvent) event.Subscription
}
