// Package bufpool recycles the block buffers of the data pump.
//
// Buffers are grouped in power-of-two classes from MinSize to MaxSize, so a
// transfer asking for a 64KiB block and one asking for 60KiB share the same
// class. Requests above MaxSize are allocated and never pooled.
package bufpool

import (
	"math/bits"
	"sync"
)

const (
	MinSize = 4 << 10
	MaxSize = 16 << 20

	minShift = 12 // log2(MinSize)
	classes  = 24 - minShift + 1
)

// Pool is a set of sync.Pools, one per size class. The zero value is not
// usable; call New.
type Pool struct {
	classes [classes]sync.Pool
}

// New returns an empty pool.
func New() *Pool {
	p := &Pool{}
	for i := range p.classes {
		size := MinSize << i
		p.classes[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
	return p
}

// class returns the index of the smallest class holding size bytes, or -1
// when size is above MaxSize.
func class(size int) int {
	if size <= MinSize {
		return 0
	}
	if size > MaxSize {
		return -1
	}
	return bits.Len(uint(size-1)) - minShift
}

// Get returns a buffer of length size. Its capacity may be larger.
func (p *Pool) Get(size int) []byte {
	if size <= 0 {
		return nil
	}
	c := class(size)
	if c < 0 {
		return make([]byte, size)
	}
	b := p.classes[c].Get().(*[]byte)
	return (*b)[:size]
}

// Put recycles buf. Buffers whose capacity is not a class size, such as
// oversized ones, are dropped.
func (p *Pool) Put(buf []byte) {
	n := cap(buf)
	c := class(n)
	if c < 0 || MinSize<<c != n {
		return
	}
	buf = buf[:n]
	p.classes[c].Put(&buf)
}

var global = New()

// Get takes a buffer from the process-wide pool.
func Get(size int) []byte { return global.Get(size) }

// Put returns buf to the process-wide pool.
func Put(buf []byte) { global.Put(buf) }
