// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAlreadyClaimed is returned by Claim when another consumer owns the queue.
var ErrAlreadyClaimed = errors.New("stream already has a consumer")

// Queue is an ordered, unbounded, single-consumer event queue.
//
// Producers call Emit from any goroutine and never block. Close appends the
// single terminal event; later Emit and Close calls are ignored. The consumer
// reads with Next until io.EOF.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Event
	seq     int64
	closed  bool
	drained bool

	claimed atomic.Bool
	now     func() time.Time
}

// NewQueue creates an empty open queue.
func NewQueue() *Queue {
	q := &Queue{now: time.Now}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Emit appends an event. Terminal kinds are rejected here; use Close.
func (q *Queue) Emit(e Event) {
	if e.Terminal() {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.push(e)
}

func (q *Queue) push(e Event) {
	q.seq++
	e.Seq = q.seq
	if e.Time.IsZero() {
		e.Time = q.now()
	}
	q.pending = append(q.pending, e)
	q.cond.Broadcast()
}

// Close appends the terminal event: end when err is nil, failed otherwise.
// It reports whether this call closed the queue.
func (q *Queue) Close(err error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.closed = true

	terminal := Event{Kind: KindEnd}
	if err != nil {
		terminal = Event{Kind: KindFailed, Payload: ErrorPayload(err)}
	}
	q.push(terminal)
	return true
}

// Closed reports whether the terminal event has been enqueued.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of undelivered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Claim reserves the queue for one consumer.
func (q *Queue) Claim() error {
	if !q.claimed.CompareAndSwap(false, true) {
		return ErrAlreadyClaimed
	}
	return nil
}

// Release gives up the consumer reservation, for example when a client
// disconnects before the terminal event.
func (q *Queue) Release() {
	q.claimed.Store(false)
}

// Next blocks until an event is available. It returns io.EOF once the
// terminal event has been delivered, or ctx.Err() if ctx ends first.
func (q *Queue) Next(ctx context.Context) (Event, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) == 0 {
		if q.drained {
			return Event{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		q.cond.Wait()
	}

	e := q.pending[0]
	q.pending[0] = Event{}
	q.pending = q.pending[1:]
	if e.Terminal() {
		q.drained = true
	}
	return e, nil
}

// Drain delivers every event to fn until the terminal event (inclusive).
// It stops early if fn or ctx returns an error.
func (q *Queue) Drain(ctx context.Context, fn func(Event) error) error {
	for {
		e, err := q.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

var _ Sink = (*Queue)(nil)
