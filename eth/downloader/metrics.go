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

import "github.com/ethereum/go-ethereum/metrics"

// Instrumentation mirrors the convention the wider corpus uses for
// its downloader packages: a handful of registered meters rather than
// ad-hoc counters sprinkled through the code.
var (
	headersFetched  = metrics.NewRegisteredMeter("downloader/headers/in", nil)
	bodiesFetched   = metrics.NewRegisteredMeter("downloader/bodies/in", nil)
	blocksPersisted = metrics.NewRegisteredMeter("downloader/blocks/persisted", nil)
	trustSetGauge   = metrics.NewRegisteredGauge("downloader/trustset/size", nil)
)
