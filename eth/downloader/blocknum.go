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
	"math/big"

	"github.com/holiman/uint256"
)

// BlockNumber is a 256-bit unsigned block index. All arithmetic
// saturates at the maximum representable value instead of wrapping,
// per spec §3.
type BlockNumber struct {
	v uint256.Int
}

// maxBlockNumber is the saturation ceiling: 2^256 - 1.
var maxBlockNumber = func() uint256.Int {
	var m uint256.Int
	m.SetAllOne()
	return m
}()

// NewBlockNumber builds a BlockNumber from a uint64.
func NewBlockNumber(n uint64) BlockNumber {
	var bn BlockNumber
	bn.v.SetUint64(n)
	return bn
}

// BlockNumberFromBig converts a *big.Int (as returned by
// core/types.Header.Number) into a BlockNumber, saturating if the
// input is out of range.
func BlockNumberFromBig(n *big.Int) BlockNumber {
	var bn BlockNumber
	overflow := bn.v.SetFromBig(n)
	if overflow {
		bn.v = maxBlockNumber
	}
	return bn
}

// Add returns b+delta, saturating at the maximum representable value.
func (b BlockNumber) Add(delta uint64) BlockNumber {
	var d, sum uint256.Int
	d.SetUint64(delta)
	if sum.AddOverflow(&b.v, &d) {
		return BlockNumber{v: maxBlockNumber}
	}
	return BlockNumber{v: sum}
}

// Sub returns b-other, saturating at zero rather than wrapping if
// other > b.
func (b BlockNumber) Sub(other BlockNumber) BlockNumber {
	var diff uint256.Int
	if diff.SubOverflow(&b.v, &other.v) {
		return BlockNumber{}
	}
	return BlockNumber{v: diff}
}

// Cmp compares two BlockNumbers: -1, 0, 1 as b </==/> other.
func (b BlockNumber) Cmp(other BlockNumber) int {
	return b.v.Cmp(&other.v)
}

// Uint64 truncates the BlockNumber to a uint64, for use in wire
// requests that only carry 64-bit block numbers.
func (b BlockNumber) Uint64() uint64 {
	return b.v.Uint64()
}

func (b BlockNumber) String() string {
	return b.v.Dec()
}

func minBlockNumber(a, b BlockNumber) BlockNumber {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
