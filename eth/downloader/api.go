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

import "sync"

// SyncingResult reports the engine's current synchronisation status,
// the shape a surrounding node's RPC layer would forward to clients.
type SyncingResult struct {
	Syncing  bool
	Progress Progress
}

// SyncStatusAPI runs an internal event loop that listens to the
// engine's status feed and fans it out to any number of installed
// subscribers. Wiring it to an actual JSON-RPC notifier is a concern
// of the surrounding node binary, which this package does not own
// (spec §6).
type SyncStatusAPI struct {
	engine *Engine

	installSub   chan chan SyncingResult
	uninstallSub chan chan SyncingResult
}

// NewSyncStatusAPI starts the status fan-out loop for engine.
func NewSyncStatusAPI(engine *Engine) *SyncStatusAPI {
	api := &SyncStatusAPI{
		engine:       engine,
		installSub:   make(chan chan SyncingResult),
		uninstallSub: make(chan chan SyncingResult),
	}
	go api.eventLoop()
	return api
}

func (api *SyncStatusAPI) eventLoop() {
	events := make(chan interface{}, 16)
	sub := api.engine.SubscribeStatus(events)
	defer sub.Unsubscribe()

	subscribers := make(map[chan SyncingResult]struct{})
	for {
		select {
		case ch := <-api.installSub:
			subscribers[ch] = struct{}{}
		case ch := <-api.uninstallSub:
			delete(subscribers, ch)
			close(ch)
		case ev, ok := <-events:
			if !ok {
				return
			}
			var result SyncingResult
			switch ev.(type) {
			case StartEvent:
				result = SyncingResult{Syncing: true, Progress: api.engine.Progress()}
			case DoneEvent, FailedEvent:
				result = SyncingResult{Syncing: false, Progress: api.engine.Progress()}
			default:
				continue
			}
			for ch := range subscribers {
				select {
				case ch <- result:
				default:
					// Slow subscriber; drop rather than block the loop.
				}
			}
		}
	}
}

// SyncStatusSubscription is a handle returned by Subscribe.
type SyncStatusSubscription struct {
	api       *SyncStatusAPI
	ch        chan SyncingResult
	unsubOnce sync.Once
}

// Subscribe registers ch to receive future SyncingResult updates.
func (api *SyncStatusAPI) Subscribe(ch chan SyncingResult) *SyncStatusSubscription {
	api.installSub <- ch
	return &SyncStatusSubscription{api: api, ch: ch}
}

// Unsubscribe removes the subscription. Safe to call more than once.
func (s *SyncStatusSubscription) Unsubscribe() {
	s.unsubOnce.Do(func() {
		s.api.uninstallSub <- s.ch
	})
}
