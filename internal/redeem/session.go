package redeem

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

// Result is delivered for every redemption a ScanSession dispatched.
type Result struct {
	Code    string
	Outcome *Outcome
	Err     error
}

// ScanSession gates a continuous stream of decoded frames so that at most
// one redemption is in flight. Frames that arrive while one is in flight,
// or after Close, are dropped. A dispatched request is allowed to finish
// after Close but its result is discarded.
type ScanSession struct {
	r        *Redeemer
	ctx      context.Context
	onResult func(Result)

	// deliver serialises result delivery against Close. Lock order is
	// deliver, then mu.
	deliver  sync.Mutex
	mu       sync.Mutex
	inFlight bool
	closed   bool

	wg      sync.WaitGroup
	dropped atomic.Int64
}

// NewScanSession starts a session. Requests run with a context derived from
// ctx that is not cancelled with it. onResult is called from the request
// goroutine and must not call Close.
func NewScanSession(ctx context.Context, r *Redeemer, onResult func(Result)) *ScanSession {
	return &ScanSession{
		r:        r,
		ctx:      context.WithoutCancel(ctx),
		onResult: onResult,
	}
}

// Submit offers a decoded frame. It reports whether the frame was accepted.
func (s *ScanSession) Submit(code string) bool {
	code = strings.TrimSpace(code)

	s.mu.Lock()
	if code == "" || s.closed || s.inFlight {
		s.mu.Unlock()
		s.dropped.Add(1)
		return false
	}
	s.inFlight = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(code)
	return true
}

func (s *ScanSession) run(code string) {
	defer s.wg.Done()

	out, err := s.r.Redeem(s.ctx, code)

	s.deliver.Lock()
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		s.onResult(Result{Code: code, Outcome: out, Err: err})
	}
	s.deliver.Unlock()

	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// Close stops accepting frames. Once it returns no further result is
// delivered.
func (s *ScanSession) Close() {
	s.deliver.Lock()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.deliver.Unlock()
}

// Wait blocks until every dispatched redemption has finished.
func (s *ScanSession) Wait() {
	s.wg.Wait()
}

// Busy reports whether a redemption is in flight.
func (s *ScanSession) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Dropped returns how many frames were not accepted.
func (s *ScanSession) Dropped() int64 {
	return s.dropped.Load()
}
