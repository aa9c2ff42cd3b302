package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marmos91/dittomft/internal/protocol/mft/codes"
	"github.com/marmos91/dittomft/pkg/transfer"
)

// ErrFailed is returned by Signal.Err when a signal failed without a cause.
var ErrFailed = errors.New("session signal failed")

// Result is the value a Signal resolves to.
type Result struct {
	Code codes.ErrorCode
	// Err is the failure cause, nil on success.
	Err error
	// Answered is set once the peer has been told about this result, so no
	// further Error packet needs to be sent.
	Answered   bool
	Descriptor *transfer.Descriptor
	// Other carries free-form information, usually from business hooks.
	Other string
	File  string
}

// NewResult builds a result for code on desc.
func NewResult(code codes.ErrorCode, desc *transfer.Descriptor) Result {
	return Result{Code: code, Descriptor: desc}
}

// Signal is a resolve-once completion cell.
//
// It starts pending and resolves exactly once to success or failure. Later
// resolutions are ignored except that they may set the Answered flag of the
// stored result. Any number of goroutines may wait on it.
type Signal struct {
	mu       sync.Mutex
	done     chan struct{}
	resolved bool
	success  bool
	result   Result
	err      error
}

// NewSignal returns a pending signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Succeed resolves the signal successfully. It returns false if the signal
// was already resolved.
func (s *Signal) Succeed(r Result) bool {
	return s.resolve(true, r, nil)
}

// Fail resolves the signal as failed. A nil err falls back to r.Err, then to
// ErrFailed. It returns false if the signal was already resolved.
func (s *Signal) Fail(r Result, err error) bool {
	if err == nil {
		err = r.Err
	}
	if err == nil {
		err = ErrFailed
	}
	r.Err = err
	return s.resolve(false, r, err)
}

func (s *Signal) resolve(success bool, r Result, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved {
		if r.Answered {
			s.result.Answered = true
		}
		return false
	}
	s.resolved = true
	s.success = success
	s.result = r
	s.err = err
	close(s.done)
	return true
}

// Done returns a channel closed on resolution.
func (s *Signal) Done() <-chan struct{} { return s.done }

// IsDone reports whether the signal is resolved.
func (s *Signal) IsDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// IsSuccess reports whether the signal resolved successfully.
func (s *Signal) IsSuccess() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolved && s.success
}

// Result returns the stored result; zero while pending.
func (s *Signal) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Err returns the failure cause, nil while pending or on success.
func (s *Signal) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Await blocks until the signal resolves or ctx is done.
func (s *Signal) Await(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result, s.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// AwaitTimeout waits at most d and reports whether the signal resolved.
// A non-positive d checks without waiting.
func (s *Signal) AwaitTimeout(d time.Duration) bool {
	if d <= 0 {
		return s.IsDone()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.done:
		return true
	case <-t.C:
		return false
	}
}
