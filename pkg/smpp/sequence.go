package smpp

import "go.uber.org/atomic"

// MaxSequenceNum is the largest sequence number SMPP v3.4 allows.
const MaxSequenceNum uint32 = 0x7FFFFFFF

// SequenceAllocator issues sequence numbers in 1..MaxSequenceNum, wrapping
// back to 1 and skipping numbers still awaiting a response.
type SequenceAllocator struct {
	last atomic.Uint32
}

// NewSequenceAllocator returns an allocator whose first number is start+1.
func NewSequenceAllocator(start uint32) *SequenceAllocator {
	a := &SequenceAllocator{}
	a.last.Store(start)
	return a
}

// Next returns the next free number. inUse may be nil.
func (a *SequenceAllocator) Next(inUse func(uint32) bool) uint32 {
	for {
		prev := a.last.Load()
		next := prev + 1
		if next == 0 || next > MaxSequenceNum {
			next = 1
		}
		if !a.last.CompareAndSwap(prev, next) {
			continue
		}
		if inUse == nil || !inUse(next) {
			return next
		}
	}
}

// Last returns the most recently issued number.
func (a *SequenceAllocator) Last() uint32 {
	return a.last.Load()
}
