package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClass(t *testing.T) {
	tests := []struct {
		size, want int
	}{
		{1, 0},
		{MinSize, 0},
		{MinSize + 1, 1},
		{64 << 10, 4},
		{60 << 10, 4},
		{MaxSize, classes - 1},
		{MaxSize + 1, -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, class(tt.size), "size %d", tt.size)
	}
}

func TestGet(t *testing.T) {
	p := New()

	buf := p.Get(60 << 10)
	assert.Len(t, buf, 60<<10)
	assert.Equal(t, 64<<10, cap(buf))

	assert.Nil(t, p.Get(0))

	big := p.Get(MaxSize + 1)
	assert.Len(t, big, MaxSize+1)
}

func TestPutReuses(t *testing.T) {
	p := New()
	buf := p.Get(32 << 10)
	buf[0] = 0xAB
	p.Put(buf)

	// sync.Pool gives no guarantee, but the buffer must come back with the
	// full requested length whatever the source.
	again := p.Get(20 << 10)
	require.Len(t, again, 20<<10)
	assert.Equal(t, 32<<10, cap(again))
}

func TestPutDropsForeignBuffers(t *testing.T) {
	p := New()
	p.Put(make([]byte, 5000))
	p.Put(make([]byte, MaxSize*2))
	p.Put(nil)

	buf := p.Get(5000)
	assert.Equal(t, 8<<10, cap(buf))
}

func TestConcurrentUse(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b := Get((n + 1) * 4096)
				b[len(b)-1] = byte(j)
				Put(b)
			}
		}(i)
	}
	wg.Wait()
}
