// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vclock implements a virtual clock and a bottom-half queue
// used to schedule the completion of long-latency device operations.
//
// A Clock is not safe for concurrent use: all device models sharing a
// Clock run in the same serialized emulator context.
package vclock // import "github.com/go-lpc/otdev/vclock"

import (
	"container/heap"
	"time"
)

// Clock is a virtual clock driving a queue of timed events.
type Clock struct {
	now time.Duration
	seq uint64
	q   events
}

// New returns a new clock, starting at t=0.
func New() *Clock {
	return &Clock{}
}

// Now returns the current virtual time.
func (clk *Clock) Now() time.Duration { return clk.now }

// Pending returns the number of scheduled events.
func (clk *Clock) Pending() int { return len(clk.q) }

// Timer is a handle on a scheduled event.
type Timer struct {
	clk *Clock
	ev  *event
}

// Stop cancels the event.
// Stop returns false if the event already ran or was already stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.ev == nil || t.ev.idx < 0 {
		return false
	}
	heap.Remove(&t.clk.q, t.ev.idx)
	t.ev = nil
	return true
}

// Schedule schedules fn to run after delay.
// A zero delay schedules fn as a bottom half: it runs once the current
// event returns, after every event already due.
func (clk *Clock) Schedule(delay time.Duration, fn func()) *Timer {
	if delay < 0 {
		delay = 0
	}
	ev := &event{
		at:  clk.now + delay,
		seq: clk.seq,
		fn:  fn,
	}
	clk.seq++
	heap.Push(&clk.q, ev)
	return &Timer{clk: clk, ev: ev}
}

// Step runs the earliest scheduled event, advancing the clock to its
// deadline. Step returns false if no event was scheduled.
func (clk *Clock) Step() bool {
	if len(clk.q) == 0 {
		return false
	}
	ev := heap.Pop(&clk.q).(*event)
	if ev.at > clk.now {
		clk.now = ev.at
	}
	ev.fn()
	return true
}

// RunUntilIdle runs events until the queue is empty and returns the
// number of events that ran.
func (clk *Clock) RunUntilIdle() int {
	n := 0
	for clk.Step() {
		n++
	}
	return n
}

// RunFor runs all events due within d of the current time, then
// advances the clock by d. RunFor returns the number of events that ran.
func (clk *Clock) RunFor(d time.Duration) int {
	var (
		n   = 0
		end = clk.now + d
	)
	for len(clk.q) != 0 && clk.q[0].at <= end {
		clk.Step()
		n++
	}
	if clk.now < end {
		clk.now = end
	}
	return n
}

type event struct {
	at  time.Duration
	seq uint64
	idx int
	fn  func()
}

type events []*event

func (q events) Len() int { return len(q) }

func (q events) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}

func (q events) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].idx = i
	q[j].idx = j
}

func (q *events) Push(x interface{}) {
	ev := x.(*event)
	ev.idx = len(*q)
	*q = append(*q, ev)
}

func (q *events) Pop() interface{} {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.idx = -1
	*q = old[:n-1]
	return ev
}
