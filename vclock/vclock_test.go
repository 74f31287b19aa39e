// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vclock

import (
	"reflect"
	"testing"
	"time"
)

func TestClockOrder(t *testing.T) {
	var (
		clk = New()
		got []string
	)

	clk.Schedule(2*time.Microsecond, func() { got = append(got, "c") })
	clk.Schedule(1*time.Microsecond, func() { got = append(got, "a") })
	clk.Schedule(1*time.Microsecond, func() {
		got = append(got, "b")
		clk.Schedule(0, func() { got = append(got, "bh") })
	})

	if got, want := clk.Pending(), 3; got != want {
		t.Fatalf("invalid pending: got=%d, want=%d", got, want)
	}

	n := clk.RunUntilIdle()
	if got, want := n, 4; got != want {
		t.Fatalf("invalid number of events: got=%d, want=%d", got, want)
	}

	want := []string{"a", "b", "bh", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid order:\ngot= %q\nwant=%q", got, want)
	}

	if got, want := clk.Now(), 2*time.Microsecond; got != want {
		t.Fatalf("invalid time: got=%v, want=%v", got, want)
	}
}

func TestTimerStop(t *testing.T) {
	var (
		clk = New()
		ran = false
	)

	tmr := clk.Schedule(time.Millisecond, func() { ran = true })
	if !tmr.Stop() {
		t.Fatalf("could not stop timer")
	}
	if tmr.Stop() {
		t.Fatalf("timer stopped twice")
	}
	clk.RunUntilIdle()
	if ran {
		t.Fatalf("stopped timer ran")
	}

	tmr = clk.Schedule(0, func() {})
	clk.RunUntilIdle()
	if tmr.Stop() {
		t.Fatalf("expired timer stopped")
	}

	var nilTimer *Timer
	if nilTimer.Stop() {
		t.Fatalf("nil timer stopped")
	}
}

func TestRunFor(t *testing.T) {
	var (
		clk = New()
		n   = 0
	)
	for i := 1; i <= 5; i++ {
		clk.Schedule(time.Duration(i)*time.Millisecond, func() { n++ })
	}

	if got, want := clk.RunFor(3*time.Millisecond), 3; got != want {
		t.Fatalf("invalid number of events: got=%d, want=%d", got, want)
	}
	if got, want := clk.Now(), 3*time.Millisecond; got != want {
		t.Fatalf("invalid time: got=%v, want=%v", got, want)
	}
	if got, want := clk.Pending(), 2; got != want {
		t.Fatalf("invalid pending: got=%d, want=%d", got, want)
	}

	clk.RunFor(10 * time.Millisecond)
	if got, want := n, 5; got != want {
		t.Fatalf("invalid count: got=%d, want=%d", got, want)
	}
	if got, want := clk.Now(), 13*time.Millisecond; got != want {
		t.Fatalf("invalid time: got=%v, want=%v", got, want)
	}
}
