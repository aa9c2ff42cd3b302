package mft

import (
	"sync"

	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
)

// frameQueue is the ordered processing path of a connection. Push never
// blocks, so a dispatcher may queue frames for its own connection.
type frameQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames []packet.Frame
	closed bool
}

func newFrameQueue() *frameQueue {
	q := &frameQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends f. It reports false once the queue is closed.
func (q *frameQueue) push(f packet.Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.frames = append(q.frames, f)
	q.cond.Signal()
	return true
}

// pop blocks until a frame is available. It reports false once the queue is
// closed and drained.
func (q *frameQueue) pop() (packet.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.frames) == 0 {
		return packet.Frame{}, false
	}
	f := q.frames[0]
	q.frames[0] = packet.Frame{}
	q.frames = q.frames[1:]
	return f, true
}

// close stops accepting frames; queued ones are still delivered.
func (q *frameQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
