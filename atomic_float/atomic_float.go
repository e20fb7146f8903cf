package atomic_float

import (
	"math"
	"sync/atomic"
)

// AtomicFloat64 encapsulates a float64 for non-locking atomic operations.
// The generation workers share one of these to publish their progress without a lock;
// the value is stored as its IEEE-754 bit pattern in an atomic.Uint64.
type AtomicFloat64 struct {
	bits atomic.Uint64
}

// NewAtomicFloat64 encapsulates a float64 for atomic operations.
func NewAtomicFloat64(val float64) *AtomicFloat64 {
	af := &AtomicFloat64{}
	af.bits.Store(math.Float64bits(val))
	return af
}

// AtomicRead atomically reads the float64.
func (af *AtomicFloat64) AtomicRead() float64 {
	return math.Float64frombits(af.bits.Load())
}

// AtomicAdd attempts to add @addend to the float64 once.
// If the value changed between the read and the swap, nothing is written and succeeded is false;
// the caller decides whether to retry, drop the update, or recalculate.
func (af *AtomicFloat64) AtomicAdd(addend float64) (newVal float64, succeeded bool) {
	old := af.bits.Load()
	newVal = math.Float64frombits(old) + addend
	succeeded = af.bits.CompareAndSwap(old, math.Float64bits(newVal))
	return
}

// Add adds @addend, retrying until the swap succeeds, and returns the new value.
func (af *AtomicFloat64) Add(addend float64) float64 {
	for {
		if newVal, ok := af.AtomicAdd(addend); ok {
			return newVal
		}
	}
}

// AtomicSet sets the float64 unconditionally.
func (af *AtomicFloat64) AtomicSet(newVal float64) {
	af.bits.Store(math.Float64bits(newVal))
}
