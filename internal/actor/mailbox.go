// Package actor implements the Process/Mailbox primitive (§4.10): a typed
// mailbox with cast/call/reply semantics used by the persistent connection
// (and so, indirectly, by the transfer pipeline's workers) and the sync
// client.
//
// The original implementation (original_source/src/process/process.h) used a
// C++ template over an opaque Any payload type; §9 flags that as worth
// replacing with "a per-owner tagged union so the compiler can check
// replies." Go generics are the direct, idiomatic way to do that: Mailbox is
// parameterized over the cast/call message type M and the reply type R, so
// a caller's call() is statically typed end to end.
package actor

import (
	"sync"
	"time"

	"github.com/driftmirror/driftmirror/internal/xerrors"
)

// Envelope wraps a cast/call payload with its reference id. Every envelope,
// cast or call, carries a nonzero refid; only a Call waits for a Reply
// keyed by it.
type Envelope[M any] struct {
	Message M
	RefID   uint64
}

// Mailbox is an unbounded FIFO inbox supporting fire-and-forget casts and
// call/reply round trips. It is safe for concurrent use by multiple casting
// goroutines and a single consuming goroutine (the owning thread named in
// §4.10).
type Mailbox[M any, R any] struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Envelope[M]
	replies   map[uint64]R
	replyCond *sync.Cond
	nextRefID uint64
}

// New creates an empty mailbox.
func New[M any, R any]() *Mailbox[M, R] {
	b := &Mailbox[M, R]{
		replies: make(map[uint64]R),
	}
	b.cond = sync.NewCond(&b.mu)
	b.replyCond = sync.NewCond(&b.mu)
	return b
}

// Cast enqueues msg without waiting for a reply, returning the refid
// assigned to it (monotonically increasing, starting at 1).
func (b *Mailbox[M, R]) Cast(msg M) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextRefID++
	refid := b.nextRefID
	b.queue = append(b.queue, Envelope[M]{Message: msg, RefID: refid})
	b.cond.Signal()
	return refid
}

// Call casts msg and blocks until a matching Reply arrives or timeout
// elapses, in which case it returns a KindTimeout error.
func (b *Mailbox[M, R]) Call(msg M, timeout time.Duration) (R, error) {
	refid := b.Cast(msg)

	b.mu.Lock()
	defer b.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		if value, ok := b.replies[refid]; ok {
			delete(b.replies, refid)
			return value, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			var zero R
			return zero, xerrors.New(xerrors.KindTimeout, "call did not receive a response in time")
		}

		waitOnCondWithTimeout(b.replyCond, remaining)
	}
}

// Peek blocks (up to timeout, if non-zero) until a message is available and
// returns it without removing it from the queue. A zero timeout waits
// indefinitely.
func (b *Mailbox[M, R]) Peek(timeout time.Duration) (Envelope[M], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if timeout <= 0 {
		for len(b.queue) == 0 {
			b.cond.Wait()
		}
		return b.queue[0], nil
	}

	deadline := time.Now().Add(timeout)
	for len(b.queue) == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Envelope[M]{}, xerrors.New(xerrors.KindTimeout, "peek did not receive a message in time")
		}
		waitOnCondWithTimeout(b.cond, remaining)
	}
	return b.queue[0], nil
}

// Consume blocks until a message is available, removes it from the queue,
// and returns it.
func (b *Mailbox[M, R]) Consume() Envelope[M] {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queue) == 0 {
		b.cond.Wait()
	}
	msg := b.queue[0]
	b.queue = b.queue[1:]
	return msg
}

// ConsumeTimeout blocks up to timeout for a message, removing and returning
// it if one arrives. A zero or negative timeout blocks indefinitely. ok is
// false if timeout elapsed with the queue still empty (used by the
// persistent connection's idle timer, §4.4).
func (b *Mailbox[M, R]) ConsumeTimeout(timeout time.Duration) (msg Envelope[M], ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if timeout <= 0 {
		for len(b.queue) == 0 {
			b.cond.Wait()
		}
		msg = b.queue[0]
		b.queue = b.queue[1:]
		return msg, true
	}

	deadline := time.Now().Add(timeout)
	for len(b.queue) == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Envelope[M]{}, false
		}
		waitOnCondWithTimeout(b.cond, remaining)
	}
	msg = b.queue[0]
	b.queue = b.queue[1:]
	return msg, true
}

// Reply completes a pending Call for refid with value.
func (b *Mailbox[M, R]) Reply(refid uint64, value R) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies[refid] = value
	b.replyCond.Broadcast()
}

// Len reports the number of messages currently queued (diagnostic only).
func (b *Mailbox[M, R]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
