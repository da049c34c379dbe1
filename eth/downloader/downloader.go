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

// Package downloader implements the parallel fast-sync engine: it
// orchestrates per-peer download goroutines against a WorkQueue and a
// TrustedPeerSet, and drains validated header/body batches to a
// ChainSink in strict ascending order. See spec §2 for the component
// breakdown this package follows.
package downloader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	ethlitecore "github.com/ethlite/fastsync/core"
	ethproto "github.com/ethlite/fastsync/eth/protocols/eth"
	"github.com/ethlite/fastsync/p2p"
)

// StartEvent, DoneEvent and FailedEvent are sent on the engine's
// status feed as sync status changes, so an RPC layer can subscribe to
// them without reaching into engine internals.
type StartEvent struct{}
type DoneEvent struct{}
type FailedEvent struct{ Err error }

// Engine is the SyncEngine of spec §4.5: it reacts to peer pool
// events, drives the trust protocol, and spawns one download task per
// trusted peer.
type Engine struct {
	cfg  Config
	sink ethlitecore.ChainSink
	pool p2p.Pool

	queue *WorkQueue
	trust *TrustedPeerSet

	log    log.Logger
	status event.Feed
}

// New builds a Engine. A zero-value Config is replaced with
// DefaultConfig.
func New(sink ethlitecore.ChainSink, pool p2p.Pool, cfg Config) *Engine {
	if cfg.MinPeersToStartSync == 0 {
		cfg = DefaultConfig
	}
	logger := log.New("module", "downloader")
	return &Engine{
		cfg:   cfg,
		sink:  sink,
		pool:  pool,
		trust: NewTrustedPeerSet(cfg.MinPeersToStartSync, cfg.MaxTrustedPeers, logger),
		log:   logger,
	}
}

// SubscribeStatus exposes the engine's status event feed (StartEvent,
// DoneEvent, FailedEvent), for an API layer such as SyncStatusAPI to
// subscribe to.
func (e *Engine) SubscribeStatus(ch chan<- interface{}) event.Subscription {
	return e.status.Subscribe(ch)
}

// Progress reports the current sync watermark and window, used by the
// status API.
type Progress struct {
	FinalizedBlock BlockNumber
	EndBlockNumber BlockNumber
	TrustedPeers   int
}

func (e *Engine) Progress() Progress {
	if e.queue == nil {
		return Progress{}
	}
	return Progress{
		FinalizedBlock: e.queue.FinalizedBlock(),
		EndBlockNumber: e.queue.EndBlockNumber(),
		TrustedPeers:   e.trust.Len(),
	}
}

// admission is posted internally once a peer's trust-protocol
// interaction (spec §4.3) resolves, so the single engine goroutine
// that owns launching download tasks can act on it without racing
// with the trust set itself.
type admission struct {
	peer    ethproto.Peer
	outcome AdmitOutcome
}

// taskResult is posted when a download task exits, carrying whatever
// error ended it so Synchronise can tell an ordinary peer fault (drop
// the peer, keep syncing) apart from a ChainSink failure (abort
// entirely, see DESIGN.md's decision on spec §9 open question 2).
type taskResult struct {
	peer ethproto.Peer
	err  error
}

// Synchronise drives the sync to completion (or failure) against the
// peer pool, per spec §4.5 and §7. It returns Success once the window
// is fully persisted, NotEnoughPeers if the trust set never reaches
// Config.MinPeersToStartSync within Config.BootstrapTimeout, or
// TimedOut if no persistence progress is observed for
// Config.StallTimeout once syncing has begun.
func (e *Engine) Synchronise(ctx context.Context) (Result, error) {
	best := e.sink.BestHeader()
	e.queue = NewWorkQueue(BlockNumberFromBig(best.Number), e.log)

	events := make(chan *p2p.PeerEvent, 64)
	sub := e.pool.SubscribeEvents(events)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(ctx)

	e.status.Send(StartEvent{})

	admissions := make(chan admission, 64)
	taskDone := make(chan taskResult, 64)
	var wg sync.WaitGroup

	launchAfter := func(p ethproto.Peer, delay time.Duration) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if delay > 0 {
				time.Sleep(delay)
			}
			err := obtainBlocksFromPeer(ctx, e.queue, e.sink, p, e.log)
			if err != nil {
				e.log.Debug("Download task ended", "peer", p.ID(), "err", err)
			}
			taskDone <- taskResult{peer: p, err: err}
		}()
	}
	launch := func(p ethproto.Peer) {
		launchAfter(p, 0)
	}

	runTrustProtocol := func(p ethproto.Peer) {
		outcome, err := e.trust.AdmitCandidate(ctx, p)
		if err != nil {
			e.log.Debug("Trust protocol failed", "peer", p.ID(), "err", err)
			return
		}
		admissions <- admission{peer: p, outcome: outcome}
	}

	bootstrapTimer := time.NewTimer(e.cfg.BootstrapTimeout)
	defer bootstrapTimer.Stop()
	bootstrapped := false

	progressTicker := time.NewTicker(stallCheckInterval(e.cfg.StallTimeout))
	defer progressTicker.Stop()
	lastProgress := e.queue.FinalizedBlock()
	lastProgressAt := time.Now()

	// cancel must fire before wg.Wait(), so every in-flight
	// obtainBlocksFromPeer goroutine is signalled to stop before this
	// call blocks on them exiting; defer order is LIFO, so it is
	// deferred after wg.Wait() here even though it was constructed
	// earlier.
	defer func() {
		wg.Wait()
	}()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			e.status.Send(FailedEvent{Err: ctx.Err()})
			return TimedOut, ctx.Err()

		case ev := <-events:
			if ev == nil {
				continue
			}
			if ev.Joining {
				go runTrustProtocol(ev.Peer)
			} else {
				e.onPeerDisconnected(ev.Peer.ID())
			}

		case adm := <-admissions:
			if !adm.outcome.Admitted {
				continue
			}
			if !bootstrapped && adm.outcome.CrossedThreshold {
				bootstrapped = true
				for _, p := range e.trust.Peers() {
					launch(p)
				}
			} else if bootstrapped {
				launch(adm.peer)
			}

		case res := <-taskDone:
			if errors.Is(res.err, ethlitecore.ErrSinkFailure) {
				// Fatal: a rejected batch means the local chain database
				// itself refused valid, in-order data. No Result value
				// describes this, so the zero value is returned; callers
				// must check the error before interpreting Result (see
				// the doc comment on Result).
				e.status.Send(FailedEvent{Err: res.err})
				return Result(0), res.err
			}
			// Completion is judged only after a task has exited: until a
			// task's best-block probe raises endBlockNumber, the freshly
			// seeded queue has an empty window and reads as Done.
			if e.queue.Done() {
				e.status.Send(DoneEvent{})
				return Success, nil
			}
			if res.err != nil {
				// Ordinary peer fault (spec §4.4); the task has already
				// disconnected the peer. Drop it from the trust set so
				// a future reconnect goes back through bootstrap.
				e.trust.Remove(res.peer.ID())
				continue
			}
			// A clean exit means the task saw no claimable work left at
			// the time of its last check. If the window genuinely isn't
			// done yet, a revert on another task may have freed a slot
			// right after this one gave up; relaunching the peer (spec
			// §9 open question 1, orphaned-slot cleanup) closes that
			// race instead of leaving the slot stuck until a new peer
			// happens to connect. The pause lives in the relaunched
			// goroutine (launchAfter), not here, so a clean exit never
			// stalls this loop's handling of other events.
			if !e.queue.Done() && e.trust.Contains(res.peer.ID()) {
				launchAfter(res.peer, 5*time.Millisecond)
			}

		case <-bootstrapTimer.C:
			if !bootstrapped {
				e.status.Send(FailedEvent{Err: ErrNoPeers})
				return NotEnoughPeers, ErrNoPeers
			}

		case <-progressTicker.C:
			if !bootstrapped {
				continue
			}
			cur := e.queue.FinalizedBlock()
			if cur.Cmp(lastProgress) != 0 {
				lastProgress = cur
				lastProgressAt = time.Now()
				continue
			}
			if time.Since(lastProgressAt) >= e.cfg.StallTimeout {
				e.status.Send(FailedEvent{Err: context.DeadlineExceeded})
				return TimedOut, context.DeadlineExceeded
			}
		}
	}
}

// onPeerDisconnected implements spec §4.5: the peer is dropped from
// the trust set. Any in-flight download task bound to it is expected
// to terminate itself on its next network error; the engine does not
// cancel it proactively (see DESIGN.md's decision on spec §9 open
// question 1).
func (e *Engine) onPeerDisconnected(id string) {
	e.trust.Remove(id)
}

func stallCheckInterval(stall time.Duration) time.Duration {
	d := stall / 8
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	return d
}
