// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lcctrl

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/otdev/internal/regs"
)

func TestRegisterSlots(t *testing.T) {
	tb := newTestbed(t, testConfig(), StateRaw, 0)
	var (
		sw   = tb.lc.SW()
		jtag = tb.lc.JTAG()
	)

	jtag.Write(regs.CLAIM_TRANSITION_IF, regs.MUBI8_TRUE)
	jtag.Write(regs.TRANSITION_TOKEN_0, 0xcafe)
	jtag.Write(regs.TRANSITION_TARGET, StateTestUnlocked0.Encode())
	jtag.Write(regs.TRANSITION_CTRL, 0xff)
	jtag.Write(regs.OTP_VENDOR_TEST_CTRL, 0x5)

	for _, tc := range []struct {
		addr uint32
		want uint32
	}{
		{regs.TRANSITION_TOKEN_0, 0xcafe},
		{regs.TRANSITION_TOKEN_1, 0},
		{regs.TRANSITION_TARGET, StateTestUnlocked0.Encode()},
		{regs.TRANSITION_CTRL, regs.TRANSITION_CTRL_MASK},
		{regs.OTP_VENDOR_TEST_CTRL, 0x5},
		{regs.OTP_VENDOR_TEST_STATUS, ^uint32(0x5)},
	} {
		if got := jtag.Read(tc.addr); got != tc.want {
			t.Fatalf("invalid JTAG register 0x%x: got=0x%x, want=0x%x", tc.addr, got, tc.want)
		}
		if got := sw.Read(tc.addr); got != 0 {
			t.Fatalf("SW reads JTAG register 0x%x: got=0x%x", tc.addr, got)
		}
	}

	// SW writes are dropped while JTAG holds the mutex.
	sw.Write(regs.TRANSITION_TOKEN_0, 0xbeef)
	if got, want := jtag.Read(regs.TRANSITION_TOKEN_0), uint32(0xcafe); got != want {
		t.Fatalf("invalid JTAG token: got=0x%x, want=0x%x", got, want)
	}

	// slots of different requesters are isolated.
	jtag.Write(regs.CLAIM_TRANSITION_IF, regs.MUBI8_FALSE)
	sw.Write(regs.CLAIM_TRANSITION_IF, regs.MUBI8_TRUE)
	if got := sw.Read(regs.TRANSITION_TOKEN_0); got != 0 {
		t.Fatalf("SW sees JTAG token: got=0x%x", got)
	}
	sw.Write(regs.TRANSITION_TOKEN_0, 0xbeef)
	if got, want := sw.Read(regs.TRANSITION_TOKEN_0), uint32(0xbeef); got != want {
		t.Fatalf("invalid SW token: got=0x%x, want=0x%x", got, want)
	}
}

func TestRegisterLockedWrites(t *testing.T) {
	tb := newTestbed(t, testConfig(), StateRaw, 0)
	buf := new(bytes.Buffer)
	tb.lc.msg = log.NewMsgStream("lc_ctrl", log.LvlError, buf)

	var (
		sw   = tb.lc.SW()
		jtag = tb.lc.JTAG()
	)
	jtag.Write(regs.CLAIM_TRANSITION_IF, regs.MUBI8_TRUE)

	for _, tc := range []struct {
		name string
		addr uint32
	}{
		{"TRANSITION_TOKEN", regs.TRANSITION_TOKEN_2},
		{"TRANSITION_TARGET", regs.TRANSITION_TARGET},
		{"TRANSITION_CTRL", regs.TRANSITION_CTRL},
		{"TRANSITION_CMD", regs.TRANSITION_CMD},
		{"OTP_VENDOR_TEST_CTRL", regs.OTP_VENDOR_TEST_CTRL},
	} {
		t.Run(tc.name, func(t *testing.T) {
			buf.Reset()
			sw.Write(tc.addr, 1)
			want := "guest error: sw write to " + tc.name + " while locked"
			if got := buf.String(); !strings.Contains(got, want) {
				t.Fatalf("invalid log message:\ngot= %q\nwant=%q", got, want)
			}
		})
	}

	if got, want := tb.lc.FSM(), FSMIdle; got != want {
		t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
	}
}

func TestRegisterReadOnly(t *testing.T) {
	tb := newTestbed(t, testConfig(), StateDev, 7)
	sw := tb.lc.SW()

	for _, tc := range []struct {
		addr uint32
		want uint32
	}{
		{regs.STATUS, StatusInitialized | StatusReady},
		{regs.LC_STATE, StateDev.Encode()},
		{regs.LC_TRANSITION_CNT, 7},
		{regs.LC_ID_STATE, IDBlank.Encode()},
		{regs.HW_REVISION0, 0x40010002},
		{regs.HW_REVISION1, 0x01},
		{regs.DEVICE_ID_0, 0xd0000000},
		{regs.DEVICE_ID_0 + 4*7, 0xd0000007},
		{regs.MANUF_STATE_0 + 4*3, 0xa0000003},
		{regs.TRANSITION_REGWEN, 0},
		{regs.CLAIM_TRANSITION_IF_REGWEN, 1},
		{regs.ALERT_TEST, 0},
		{regs.TRANSITION_CMD, 0},
	} {
		sw.Write(tc.addr, 0x12345678)
		if got := sw.Read(tc.addr); got != tc.want {
			t.Fatalf("invalid register 0x%x: got=0x%x, want=0x%x", tc.addr, got, tc.want)
		}
	}

	if got := sw.Read(0x200); got != 0 {
		t.Fatalf("invalid out-of-range read: got=0x%x", got)
	}
}

func TestRegisterAlertTest(t *testing.T) {
	tb := newTestbed(t, testConfig(), StateDev, 1)
	tb.lc.SW().Write(regs.ALERT_TEST, 0xff)
	want := []Alert{AlertFatalProgError, AlertFatalStateError, AlertFatalBusIntegError}
	if got := tb.alerts; len(got) != len(want) {
		t.Fatalf("invalid alerts: got=%v, want=%v", got, want)
	}
	for i := range want {
		if tb.alerts[i] != want[i] {
			t.Fatalf("invalid alert %d: got=%v, want=%v", i, tb.alerts[i], want[i])
		}
	}
	if got, want := tb.lc.FSM(), FSMIdle; got != want {
		t.Fatalf("alert test changed FSM state to %v", got)
	}
}

func TestRegisterAccess(t *testing.T) {
	tb := newTestbed(t, testConfig(), StateRaw, 0)
	sw := tb.lc.SW()

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, regs.MUBI8_TRUE)
	n, err := sw.WriteAt(buf, regs.CLAIM_TRANSITION_IF)
	if err != nil {
		t.Fatalf("could not write register: %+v", err)
	}
	if n != 4 {
		t.Fatalf("invalid number of bytes written: got=%d, want=4", n)
	}

	_, err = sw.ReadAt(buf, regs.CLAIM_TRANSITION_IF)
	if err != nil {
		t.Fatalf("could not read register: %+v", err)
	}
	if got, want := binary.LittleEndian.Uint32(buf), uint32(regs.MUBI8_TRUE); got != want {
		t.Fatalf("invalid register value: got=0x%x, want=0x%x", got, want)
	}

	for _, tc := range []struct {
		size int
		off  int64
		want string
	}{
		{2, regs.STATUS, "lcctrl: invalid 2-byte access at 0x4"},
		{4, regs.STATUS + 1, "lcctrl: invalid 4-byte access at 0x5"},
		{4, Span, "lcctrl: invalid 4-byte access at 0x8c"},
		{4, -4, "lcctrl: invalid 4-byte access at 0x-4"},
	} {
		_, err := sw.ReadAt(make([]byte, tc.size), tc.off)
		if err == nil {
			t.Fatalf("expected an error")
		}
		if got := err.Error(); got != tc.want {
			t.Fatalf("invalid error:\ngot= %v\nwant=%v", got, tc.want)
		}
		_, err = sw.WriteAt(make([]byte, tc.size), tc.off)
		if err == nil {
			t.Fatalf("expected an error")
		}
	}
}
