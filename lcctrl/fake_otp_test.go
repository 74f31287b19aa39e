// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lcctrl

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/otdev/internal/regs"
	"github.com/go-lpc/otdev/kmac"
	"github.com/go-lpc/otdev/vclock"
)

const (
	testRawToken   = "00112233445566778899aabbccddeeff"
	testOTPLatency = 10 * time.Microsecond
)

var (
	testUnlockToken = Token{Lo: 0x1111111111111111, Hi: 0x2222222222222222}
	testExitToken   = Token{Lo: 0x3333333333333333, Hi: 0x4444444444444444}
	testRMAToken    = Token{Lo: 0x5555555555555555, Hi: 0x6666666666666666}
)

func testValues(n int) TransValues {
	return TransValues{
		First: strings.Repeat("00ff", n),
		Last:  strings.Repeat("ffff", n),
	}
}

func testConfig() Config {
	return Config{
		SiliconCreatorID:  0x4001,
		ProductID:         0x0002,
		RevisionID:        0x01,
		RawUnlockToken:    testRawToken,
		VolatileRawUnlock: true,
		KMACApp:           1,
		LCState:           testValues(StateWords),
		LCCount:           testValues(CountWords),
		Ownership:         testValues(OwnershipWords),
		SocDbg:            testValues(SocDbgWords),
	}
}

// fakeOTP is an in-memory OTP backend acknowledging programming
// requests after a fixed latency.
type fakeOTP struct {
	clk  *vclock.Clock
	info OTPInfo

	busy    bool
	nack    bool // reject the next programming requests
	refuse  bool // report busy on the next programming requests
	nreqs   int
	devID   [8]uint32
	manuf   [8]uint32
	vendor  uint32
	pending *vclock.Timer
}

func newFakeOTP(clk *vclock.Clock, tbls *Tables, st State, cnt int) *fakeOTP {
	otp := &fakeOTP{
		clk: clk,
		info: OTPInfo{
			State:       tbls.State(st),
			Count:       tbls.Count(cnt),
			Valid:       true,
			SecretValid: regs.MUBI8_FALSE,
		},
	}
	for i, tk := range []Token{testUnlockToken, testExitToken, testRMAToken} {
		otp.info.Tokens[i] = HashToken(tk)
		otp.info.TokenValid |= 1 << uint(i)
	}
	for i := range otp.devID {
		otp.devID[i] = 0xd0000000 | uint32(i)
		otp.manuf[i] = 0xa0000000 | uint32(i)
	}
	return otp
}

func (otp *fakeOTP) LCInfo() OTPInfo { return otp.info }

func (otp *fakeOTP) ProgramReq(state EncodedState, count EncodedCount, ack func(ok bool)) bool {
	if otp.busy || otp.refuse {
		return false
	}
	otp.nreqs++
	otp.busy = true
	ok := !otp.nack
	for i := range state {
		if otp.info.State[i]&^state[i] != 0 {
			ok = false
		}
	}
	for i := range count {
		if otp.info.Count[i]&^count[i] != 0 {
			ok = false
		}
	}
	otp.pending = otp.clk.Schedule(testOTPLatency, func() {
		otp.busy = false
		otp.pending = nil
		if ok {
			otp.info.State = state
			otp.info.Count = count
		}
		ack(ok)
	})
	return true
}

func (otp *fakeOTP) DeviceID() [8]uint32      { return otp.devID }
func (otp *fakeOTP) ManufState() [8]uint32    { return otp.manuf }
func (otp *fakeOTP) VendorTestCtrl(v uint32)  { otp.vendor = v }
func (otp *fakeOTP) VendorTestStatus() uint32 { return ^otp.vendor }

var (
	_ OTP          = (*fakeOTP)(nil)
	_ HWConfig     = (*fakeOTP)(nil)
	_ VendorTester = (*fakeOTP)(nil)
)

// testbed gathers a controller with its collaborators.
type testbed struct {
	clk  *vclock.Clock
	kmac *kmac.Engine
	otp  *fakeOTP
	lc   *Controller

	alerts  []Alert
	signals []Signals
}

func newTestbed(t *testing.T, cfg Config, st State, cnt int) *testbed {
	t.Helper()

	msg := log.NewMsgStream("lc_ctrl", log.LvlError, io.Discard)
	tbls, err := NewTables(cfg.LCState, cfg.LCCount, cfg.Ownership, cfg.SocDbg)
	if err != nil {
		t.Fatalf("could not create tables: %+v", err)
	}

	tb := &testbed{clk: vclock.New()}
	tb.kmac = kmac.New(tb.clk, kmac.WithLogger(msg))
	tb.otp = newFakeOTP(tb.clk, tbls, st, cnt)
	tb.lc, err = New(cfg, tb.otp, tb.kmac, WithLogger(msg))
	if err != nil {
		t.Fatalf("could not create controller: %+v", err)
	}
	tb.lc.OnAlert(func(a Alert) { tb.alerts = append(tb.alerts, a) })
	tb.lc.OnSignals(func(s Signals) { tb.signals = append(tb.signals, s) })
	tb.lc.Init()
	return tb
}

// reset performs a device reset, with the KMAC engine and the OTP
// controller reset alongside the life-cycle controller.
func (tb *testbed) reset() {
	tb.kmac.Reset()
	if tb.otp.pending != nil {
		tb.otp.pending.Stop()
		tb.otp.pending = nil
		tb.otp.busy = false
	}
	tb.lc.Reset()
	tb.lc.Init()
}

// transition claims the mutex from p, programs a transition to target
// with tk, and starts it.
func (tb *testbed) transition(p *Interface, target State, tk Token, ctrl uint32) {
	p.Write(regs.CLAIM_TRANSITION_IF, regs.MUBI8_TRUE)
	for i, w := range tk.Words() {
		p.Write(regs.TRANSITION_TOKEN_0+4*uint32(i), w)
	}
	p.Write(regs.TRANSITION_TARGET, target.Encode())
	p.Write(regs.TRANSITION_CTRL, ctrl)
	p.Write(regs.TRANSITION_CMD, regs.TRANSITION_CMD_START)
}

func (tb *testbed) hasAlert(a Alert) bool {
	for _, v := range tb.alerts {
		if v == a {
			return true
		}
	}
	return false
}

func rawToken(t *testing.T) Token {
	t.Helper()
	tk, err := ParseToken(testRawToken)
	if err != nil {
		t.Fatalf("could not parse raw token: %+v", err)
	}
	return tk
}
