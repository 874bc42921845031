// Package window implements credit-based send gating for the pty output
// pump. The sender starts with a full window, spends credit for every byte it
// emits, and is replenished by grants from the remote end.
package window

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrInvalidParams = errors.New("invalid window parameters")
	ErrInvalidGrant  = errors.New("invalid window grant")
	ErrOverflow      = errors.New("window credit overflow")
	ErrClosed        = errors.New("window closed")
)

// Params configures a Window.
type Params struct {
	// Size is the maximum number of bytes in flight without replenishment.
	Size int32
	// Threshold is the minimum credit required to resume after blocking.
	Threshold int32
}

func (p Params) Validate() error {
	if p.Size < 1 {
		return fmt.Errorf("%w: size %d must be at least 1", ErrInvalidParams, p.Size)
	}
	if p.Threshold < 1 || p.Threshold > p.Size {
		return fmt.Errorf("%w: threshold %d must be between 1 and size %d", ErrInvalidParams, p.Threshold, p.Size)
	}
	return nil
}

// Window tracks send credit. Await and TryConsume belong to the single
// sending goroutine; Grant, Close and Outstanding may be called from any
// goroutine.
type Window struct {
	params Params

	// balance is written only by the sender; other goroutines load it.
	balance atomic.Int32

	mu      sync.Mutex
	cond    *sync.Cond
	pending int32
	closed  bool
}

func New(params Params) (*Window, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	w := &Window{params: params}
	w.cond = sync.NewCond(&w.mu)
	w.balance.Store(params.Size)
	return w, nil
}

func (w *Window) Params() Params { return w.params }

// Balance returns the credit currently held by the sender, excluding grants
// it has not drained yet.
func (w *Window) Balance() int32 { return w.balance.Load() }

// Outstanding returns all unspent credit: the sender's balance plus grants
// waiting to be drained. It never exceeds Params.Size.
func (w *Window) Outstanding() int32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance.Load() + w.pending
}

// Await returns the credit available to the sender once it may send.
// A nonzero balance lets the sender continue; once the balance is exhausted
// the sender blocks until grants bring it back to at least Threshold.
func (w *Window) Await() (int32, error) {
	if b := w.balance.Load(); b >= w.params.Threshold {
		return b, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// An exhausted sender is blocked, and grants already pending only
	// count toward the threshold.
	if exhausted := w.balance.Load() == 0; !exhausted {
		if err := w.drainLocked(); err != nil {
			return 0, err
		}
		return w.balance.Load(), nil
	}
	for {
		if w.closed {
			return 0, ErrClosed
		}
		if err := w.drainLocked(); err != nil {
			return 0, err
		}
		if b := w.balance.Load(); b >= w.params.Threshold {
			return b, nil
		}
		w.cond.Wait()
	}
}

func (w *Window) drainLocked() error {
	taken := w.pending
	w.pending = 0
	b := w.balance.Load()
	if taken < 0 || taken > w.params.Size-b {
		return fmt.Errorf("%w: drained %d onto balance %d (size %d)", ErrOverflow, taken, b, w.params.Size)
	}
	w.balance.Store(b + taken)
	return nil
}

// TryConsume spends n bytes of credit. It reports false, spending nothing,
// when n is negative or exceeds the current balance.
func (w *Window) TryConsume(n int32) bool {
	b := w.balance.Load()
	if n < 0 || n > b {
		return false
	}
	w.balance.Store(b - n)
	return true
}

// Grant adds credit returned by the receiver. A grant that is negative or
// would push outstanding credit above Size is rejected and not applied.
func (w *Window) Grant(amount int32) error {
	w.mu.Lock()
	outstanding := w.balance.Load() + w.pending
	if amount < 0 || amount > w.params.Size-outstanding {
		w.mu.Unlock()
		return fmt.Errorf("%w: amount %d with %d of %d outstanding", ErrInvalidGrant, amount, outstanding, w.params.Size)
	}
	w.pending += amount
	w.mu.Unlock()

	w.cond.Signal()
	return nil
}

// Close wakes a blocked sender; subsequent blocking Await calls return
// ErrClosed.
func (w *Window) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.cond.Broadcast()
}
