// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lcctrl

import (
	"strings"
	"testing"

	"github.com/go-lpc/otdev/internal/regs"
)

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  func(cfg *Config)
		err  string
	}{
		{
			name: "creator-id",
			cfg:  func(cfg *Config) { cfg.SiliconCreatorID = 0 },
			err:  "lcctrl: invalid silicon creator ID 0x0",
		},
		{
			name: "product-id",
			cfg:  func(cfg *Config) { cfg.ProductID = 0xffff },
			err:  "lcctrl: invalid product ID 0xffff",
		},
		{
			name: "revision-id",
			cfg:  func(cfg *Config) { cfg.RevisionID = 0x100 },
			err:  "lcctrl: invalid revision ID 0x100",
		},
		{
			name: "raw-token",
			cfg:  func(cfg *Config) { cfg.RawUnlockToken = "cafe" },
			err:  "lcctrl: could not parse raw unlock token",
		},
		{
			name: "transition-values",
			cfg:  func(cfg *Config) { cfg.LCCount.Last = cfg.LCCount.First[4:] },
			err:  "lcctrl: could not build transition tables",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tb := newTestbed(t, testConfig(), StateRaw, 0)
			cfg := testConfig()
			tc.cfg(&cfg)
			_, err := New(cfg, tb.otp, tb.kmac)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !strings.HasPrefix(err.Error(), tc.err) {
				t.Fatalf("invalid error:\ngot= %v\nwant=%v", err, tc.err)
			}
		})
	}

	t.Run("kmac-app", func(t *testing.T) {
		tb := newTestbed(t, testConfig(), StateRaw, 0)
		_, err := New(testConfig(), tb.otp, tb.kmac)
		if err == nil {
			t.Fatalf("expected an error")
		}
		if got, want := err.Error(), "lcctrl: could not connect to KMAC: kmac: app 1 already connected"; got != want {
			t.Fatalf("invalid error:\ngot= %v\nwant=%v", got, want)
		}
	})
}

func TestInit(t *testing.T) {
	tb := newTestbed(t, testConfig(), StateDev, 3)
	lc := tb.lc

	if got, want := lc.FSM(), FSMIdle; got != want {
		t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
	}
	if got, want := lc.State(), StateDev; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if got, ok := lc.Count(); got != 3 || !ok {
		t.Fatalf("invalid count: got=%d (valid=%v), want=3", got, ok)
	}
	if got, want := lc.Status(), uint32(StatusInitialized|StatusReady); got != want {
		t.Fatalf("invalid status: got=0x%x, want=0x%x", got, want)
	}
	if !lc.Signals().Has(SigKeymgrEn) {
		t.Fatalf("keymgr should be enabled in DEV: %v", lc.Signals())
	}

	// second init is ignored.
	lc.Init()
	if got, want := lc.FSM(), FSMIdle; got != want {
		t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
	}

	t.Run("invalid", func(t *testing.T) {
		tb := newTestbed(t, testConfig(), StateDev, 3)
		tb.otp.info.Valid = false
		tb.reset()
		lc := tb.lc
		if got, want := lc.FSM(), FSMInvalid; got != want {
			t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
		}
		if got, want := lc.State(), StateInvalid; got != want {
			t.Fatalf("invalid state: got=%v, want=%v", got, want)
		}
		want := uint32(StatusInitialized | StatusStateError | StatusOTPPartitionError)
		if got := lc.Status(); got != want {
			t.Fatalf("invalid status: got=0x%x, want=0x%x", got, want)
		}
		if !tb.hasAlert(AlertFatalStateError) {
			t.Fatalf("missing fatal state alert")
		}
		if got, want := lc.Signals(), sigs(SigEscalateEn); got != want {
			t.Fatalf("invalid signals: got=%v, want=%v", got, want)
		}
		if got, want := lc.SW().Read(regs.LC_TRANSITION_CNT), uint32(invalidCount); got != want {
			t.Fatalf("invalid count register: got=%d, want=%d", got, want)
		}
	})

	t.Run("scrap", func(t *testing.T) {
		tb := newTestbed(t, testConfig(), StateScrap, MaxCount)
		if got, want := tb.lc.FSM(), FSMScrap; got != want {
			t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
		}
		if got, want := tb.lc.Signals(), sigs(SigEscalateEn); got != want {
			t.Fatalf("invalid signals: got=%v, want=%v", got, want)
		}
	})

	t.Run("force-raw", func(t *testing.T) {
		tb := newTestbed(t, testConfig(), StateTestLocked0, 2)
		tb.lc.SetForceRaw(true)
		tb.reset()
		if got, want := tb.lc.State(), StateRaw; got != want {
			t.Fatalf("invalid state: got=%v, want=%v", got, want)
		}
	})
}

func TestTransition(t *testing.T) {
	for _, tc := range []struct {
		name   string
		state  State
		count  int
		target State
		token  func(t *testing.T) Token
		ctrl   uint32
		setup  func(tb *testbed)
		status uint32
		otp    State // OTP state after reset
		cnt    int   // OTP count after reset
		nreqs  int
	}{
		{
			name:   "raw-unlock",
			state:  StateRaw,
			target: StateTestUnlocked0,
			token:  rawToken,
			status: StatusTransitionSuccessful,
			otp:    StateTestUnlocked0,
			cnt:    1,
			nreqs:  2,
		},
		{
			name:   "raw-unlock-ext-clock",
			state:  StateRaw,
			target: StateTestUnlocked0,
			token:  rawToken,
			ctrl:   regs.TRANSITION_CTRL_EXT_CLOCK_EN,
			status: StatusTransitionSuccessful | StatusExtClockSwitched,
			otp:    StateTestUnlocked0,
			cnt:    1,
			nreqs:  2,
		},
		{
			name:   "test-lock",
			state:  StateTestUnlocked0,
			count:  1,
			target: StateTestLocked0,
			token:  func(*testing.T) Token { return Token{} },
			status: StatusTransitionSuccessful,
			otp:    StateTestLocked0,
			cnt:    2,
			nreqs:  2,
		},
		{
			name:   "test-unlock",
			state:  StateTestLocked0,
			count:  2,
			target: StateTestUnlocked1,
			token:  func(*testing.T) Token { return testUnlockToken },
			status: StatusTransitionSuccessful,
			otp:    StateTestUnlocked1,
			cnt:    3,
			nreqs:  2,
		},
		{
			name:   "test-exit",
			state:  StateTestUnlocked1,
			count:  3,
			target: StateProd,
			token:  func(*testing.T) Token { return testExitToken },
			status: StatusTransitionSuccessful,
			otp:    StateProd,
			cnt:    4,
			nreqs:  2,
		},
		{
			name:   "rma",
			state:  StateDev,
			count:  4,
			target: StateRMA,
			token:  func(*testing.T) Token { return testRMAToken },
			status: StatusTransitionSuccessful,
			otp:    StateRMA,
			cnt:    5,
			nreqs:  2,
		},
		{
			name:   "scrap",
			state:  StateProdEnd,
			count:  4,
			target: StateScrap,
			token:  func(*testing.T) Token { return Token{} },
			status: StatusTransitionSuccessful,
			otp:    StateScrap,
			cnt:    MaxCount,
			nreqs:  2,
		},
		{
			// the count is programmed before the token is checked, so a
			// rejected token still consumes one transition.
			name:   "wrong-token",
			state:  StateRaw,
			target: StateTestUnlocked0,
			token:  func(*testing.T) Token { return testUnlockToken },
			status: StatusTokenError,
			otp:    StateRaw,
			cnt:    1,
			nreqs:  1,
		},
		{
			name:   "invalid-transition",
			state:  StateDev,
			count:  4,
			target: StateProd,
			token:  func(*testing.T) Token { return Token{} },
			status: StatusTransitionError,
			otp:    StateDev,
			cnt:    5,
			nreqs:  1,
		},
		{
			name:   "invalid-target",
			state:  StateDev,
			count:  4,
			target: StatePostTransition,
			token:  func(*testing.T) Token { return Token{} },
			status: StatusTransitionError,
			otp:    StateDev,
			cnt:    5,
			nreqs:  1,
		},
		{
			name:   "max-count",
			state:  StateTestLocked0,
			count:  MaxCount,
			target: StateTestUnlocked1,
			token:  func(*testing.T) Token { return testUnlockToken },
			status: StatusTransitionCountError,
			otp:    StateTestLocked0,
			cnt:    MaxCount,
			nreqs:  0,
		},
		{
			name:   "otp-nack",
			state:  StateRaw,
			target: StateTestUnlocked0,
			token:  rawToken,
			setup:  func(tb *testbed) { tb.otp.nack = true },
			status: StatusOTPError,
			otp:    StateRaw,
			cnt:    0,
			nreqs:  1,
		},
		{
			name:   "otp-busy",
			state:  StateRaw,
			target: StateTestUnlocked0,
			token:  rawToken,
			setup:  func(tb *testbed) { tb.otp.refuse = true },
			status: StatusOTPError,
			otp:    StateRaw,
			cnt:    0,
			nreqs:  0,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tb := newTestbed(t, testConfig(), tc.state, tc.count)
			if tc.setup != nil {
				tc.setup(tb)
			}
			sw := tb.lc.SW()
			tb.transition(sw, tc.target, tc.token(t), tc.ctrl)
			tb.clk.RunUntilIdle()

			if got, want := tb.lc.FSM(), FSMPostTrans; got != want {
				t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
			}
			if got, want := sw.Read(regs.STATUS), StatusInitialized|tc.status; got != want {
				t.Fatalf("invalid status: got=0x%x, want=0x%x", got, want)
			}
			if got, want := sw.Read(regs.LC_STATE), StatePostTransition.Encode(); got != want {
				t.Fatalf("invalid LC_STATE: got=0x%08x, want=0x%08x", got, want)
			}
			if got, want := tb.lc.Signals(), sigs(SigEscalateEn); got != want {
				t.Fatalf("invalid signals: got=%v, want=%v", got, want)
			}
			if got, want := tb.otp.nreqs, tc.nreqs; got != want {
				t.Fatalf("invalid number of OTP requests: got=%d, want=%d", got, want)
			}
			if got, want := tb.hasAlert(AlertFatalProgError), tc.status == StatusOTPError; got != want {
				t.Fatalf("invalid prog error alert: got=%v, want=%v", got, want)
			}

			tb.otp.nack = false
			tb.otp.refuse = false
			tb.reset()

			if got, want := tb.lc.State(), tc.otp; got != want {
				t.Fatalf("invalid state after reset: got=%v, want=%v", got, want)
			}
			if got, want := sw.Read(regs.LC_TRANSITION_CNT), uint32(tc.cnt); got != want {
				t.Fatalf("invalid count after reset: got=%d, want=%d", got, want)
			}
		})
	}
}

func TestPostTransition(t *testing.T) {
	t.Run("failure-release", func(t *testing.T) {
		tb := newTestbed(t, testConfig(), StateRaw, 0)
		sw := tb.lc.SW()
		tb.transition(sw, StateTestUnlocked0, testExitToken, regs.TRANSITION_CTRL_EXT_CLOCK_EN)
		tb.clk.RunUntilIdle()

		if got, want := tb.lc.FSM(), FSMPostTrans; got != want {
			t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
		}
		if !tb.lc.ExtClock() {
			t.Fatalf("external clock should be requested")
		}

		// a second start under the same claim is ignored.
		sw.Write(regs.TRANSITION_CMD, regs.TRANSITION_CMD_START)
		if got, want := tb.otp.nreqs, 1; got != want {
			t.Fatalf("invalid number of OTP requests: got=%d, want=%d", got, want)
		}

		sw.Write(regs.CLAIM_TRANSITION_IF, regs.MUBI8_FALSE)
		if got, want := tb.lc.FSM(), FSMIdle; got != want {
			t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
		}
		if tb.lc.ExtClock() {
			t.Fatalf("external clock should be released")
		}
		if got, want := tb.lc.Owner(), RequesterNone; got != want {
			t.Fatalf("invalid owner: got=%v, want=%v", got, want)
		}

		// retry with the right token.
		tb.transition(sw, StateTestUnlocked0, rawToken(t), 0)
		if got := tb.lc.Status() & StatusTokenError; got != 0 {
			t.Fatalf("token error not cleared by new transition")
		}
		tb.clk.RunUntilIdle()
		if got, want := tb.lc.Status()&StatusDone, uint32(StatusTransitionSuccessful); got != want {
			t.Fatalf("invalid status: got=0x%x, want=0x%x", got, want)
		}
		tb.reset()
		if got, ok := tb.lc.Count(); got != 2 || !ok {
			t.Fatalf("invalid count: got=%d (valid=%v), want=2", got, ok)
		}
	})

	t.Run("success-sticky", func(t *testing.T) {
		tb := newTestbed(t, testConfig(), StateRaw, 0)
		sw := tb.lc.SW()
		tb.transition(sw, StateTestUnlocked0, rawToken(t), 0)
		tb.clk.RunUntilIdle()

		sw.Write(regs.CLAIM_TRANSITION_IF, regs.MUBI8_FALSE)
		if got, want := tb.lc.FSM(), FSMPostTrans; got != want {
			t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
		}
		if got, want := tb.lc.Owner(), RequesterNone; got != want {
			t.Fatalf("invalid owner: got=%v, want=%v", got, want)
		}
	})

	t.Run("release-in-flight", func(t *testing.T) {
		tb := newTestbed(t, testConfig(), StateRaw, 0)
		sw := tb.lc.SW()
		tb.transition(sw, StateTestUnlocked0, rawToken(t), 0)
		if got, want := tb.lc.FSM(), FSMCntProg; got != want {
			t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
		}
		if !tb.lc.Signals().Has(SigCheckBypEn) {
			t.Fatalf("check bypass should be enabled during transition")
		}
		tb.lc.Release(RequesterSW)
		if got, want := tb.lc.Owner(), RequesterSW; got != want {
			t.Fatalf("invalid owner: got=%v, want=%v", got, want)
		}
		tb.clk.RunUntilIdle()
		if got, want := tb.lc.Status()&StatusDone, uint32(StatusTransitionSuccessful); got != want {
			t.Fatalf("invalid status: got=0x%x, want=0x%x", got, want)
		}
	})
}

func TestMutex(t *testing.T) {
	tb := newTestbed(t, testConfig(), StateRaw, 0)
	var (
		lc   = tb.lc
		sw   = lc.SW()
		jtag = lc.JTAG()
	)

	if !lc.Claim(RequesterJTAG) {
		t.Fatalf("could not claim mutex from JTAG")
	}
	if !lc.Claim(RequesterJTAG) {
		t.Fatalf("claim should be idempotent")
	}
	if lc.Claim(RequesterSW) {
		t.Fatalf("SW claimed mutex held by JTAG")
	}
	if lc.Claim(RequesterNone) {
		t.Fatalf("invalid requester claimed mutex")
	}

	if got, want := sw.Read(regs.CLAIM_TRANSITION_IF), uint32(regs.MUBI8_FALSE); got != want {
		t.Fatalf("invalid SW claim register: got=0x%x, want=0x%x", got, want)
	}
	if got, want := jtag.Read(regs.CLAIM_TRANSITION_IF), uint32(regs.MUBI8_TRUE); got != want {
		t.Fatalf("invalid JTAG claim register: got=0x%x, want=0x%x", got, want)
	}
	if got, want := sw.Read(regs.TRANSITION_REGWEN), uint32(0); got != want {
		t.Fatalf("invalid SW regwen: got=%d, want=%d", got, want)
	}
	if got, want := jtag.Read(regs.TRANSITION_REGWEN), uint32(1); got != want {
		t.Fatalf("invalid JTAG regwen: got=%d, want=%d", got, want)
	}

	// SW cannot start a transition while JTAG holds the mutex.
	tb.transition(sw, StateTestUnlocked0, rawToken(t), 0)
	if got, want := lc.FSM(), FSMIdle; got != want {
		t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
	}
	lc.Start(RequesterSW)
	if got, want := tb.otp.nreqs, 0; got != want {
		t.Fatalf("invalid number of OTP requests: got=%d, want=%d", got, want)
	}

	// SW releasing a mutex it does not hold is ignored.
	sw.Write(regs.CLAIM_TRANSITION_IF, regs.MUBI8_FALSE)
	lc.Release(RequesterSW)
	if got, want := lc.Owner(), RequesterJTAG; got != want {
		t.Fatalf("invalid owner: got=%v, want=%v", got, want)
	}

	// JTAG drives a transition.
	tb.transition(jtag, StateTestUnlocked0, rawToken(t), 0)
	tb.clk.RunUntilIdle()
	if got, want := jtag.Read(regs.STATUS)&StatusDone, uint32(StatusTransitionSuccessful); got != want {
		t.Fatalf("invalid status: got=0x%x, want=0x%x", got, want)
	}

	jtag.Write(regs.CLAIM_TRANSITION_IF, 0)
	if !lc.Claim(RequesterSW) {
		t.Fatalf("could not claim released mutex from SW")
	}
}

func TestClaimRegwen(t *testing.T) {
	tb := newTestbed(t, testConfig(), StateDev, 1)
	sw := tb.lc.SW()

	// only the owner can clear the regwen.
	sw.Write(regs.CLAIM_TRANSITION_IF_REGWEN, 0)
	if got, want := sw.Read(regs.CLAIM_TRANSITION_IF_REGWEN), uint32(1); got != want {
		t.Fatalf("invalid regwen: got=%d, want=%d", got, want)
	}

	sw.Write(regs.CLAIM_TRANSITION_IF, regs.MUBI8_TRUE)
	sw.Write(regs.CLAIM_TRANSITION_IF_REGWEN, 1)
	if got, want := sw.Read(regs.CLAIM_TRANSITION_IF_REGWEN), uint32(1); got != want {
		t.Fatalf("invalid regwen: got=%d, want=%d", got, want)
	}
	sw.Write(regs.CLAIM_TRANSITION_IF_REGWEN, 0)
	if got, want := sw.Read(regs.CLAIM_TRANSITION_IF_REGWEN), uint32(0); got != want {
		t.Fatalf("invalid regwen: got=%d, want=%d", got, want)
	}

	// the claim is now locked.
	sw.Write(regs.CLAIM_TRANSITION_IF, regs.MUBI8_FALSE)
	if got, want := tb.lc.Owner(), RequesterSW; got != want {
		t.Fatalf("invalid owner: got=%v, want=%v", got, want)
	}

	tb.reset()
	if got, want := sw.Read(regs.CLAIM_TRANSITION_IF_REGWEN), uint32(1); got != want {
		t.Fatalf("invalid regwen after reset: got=%d, want=%d", got, want)
	}
	if got, want := tb.lc.Owner(), RequesterNone; got != want {
		t.Fatalf("invalid owner after reset: got=%v, want=%v", got, want)
	}
}

func TestEscalate(t *testing.T) {
	tb := newTestbed(t, testConfig(), StateDev, 1)
	lc := tb.lc
	sw := lc.SW()

	sw.Write(regs.CLAIM_TRANSITION_IF, regs.MUBI8_TRUE)
	lc.Escalate()

	if got, want := lc.FSM(), FSMEscalate; got != want {
		t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
	}
	if got, want := sw.Read(regs.LC_STATE), StateEscalate.Encode(); got != want {
		t.Fatalf("invalid LC_STATE: got=0x%08x, want=0x%08x", got, want)
	}
	if got, want := lc.Signals(), sigs(SigEscalateEn); got != want {
		t.Fatalf("invalid signals: got=%v, want=%v", got, want)
	}
	if !tb.hasAlert(AlertFatalStateError) {
		t.Fatalf("missing fatal state alert")
	}

	// no way out but a reset.
	tb.transition(sw, StateRMA, testRMAToken, 0)
	tb.clk.RunUntilIdle()
	lc.Release(RequesterSW)
	lc.Init()
	if got, want := lc.FSM(), FSMEscalate; got != want {
		t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
	}
	if got, want := tb.otp.nreqs, 0; got != want {
		t.Fatalf("invalid number of OTP requests: got=%d, want=%d", got, want)
	}

	tb.reset()
	if got, want := lc.FSM(), FSMIdle; got != want {
		t.Fatalf("invalid FSM state after reset: got=%v, want=%v", got, want)
	}
	if got, want := lc.State(), StateDev; got != want {
		t.Fatalf("invalid state after reset: got=%v, want=%v", got, want)
	}

	t.Run("in-flight", func(t *testing.T) {
		tb := newTestbed(t, testConfig(), StateDev, 1)
		tb.transition(tb.lc.SW(), StateRMA, testRMAToken, 0)
		tb.clk.RunFor(testOTPLatency + testOTPLatency/10)
		if got, want := tb.lc.FSM(), FSMTokenHash; got != want {
			t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
		}
		tb.lc.Escalate()
		tb.clk.RunUntilIdle()
		if got, want := tb.lc.FSM(), FSMEscalate; got != want {
			t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
		}
		if got, want := tb.otp.nreqs, 1; got != want {
			t.Fatalf("invalid number of OTP requests: got=%d, want=%d", got, want)
		}
	})
}

func TestResetInFlight(t *testing.T) {
	tb := newTestbed(t, testConfig(), StateRaw, 0)
	lc := tb.lc
	tb.transition(lc.SW(), StateTestUnlocked0, rawToken(t), 0)
	if got, want := lc.FSM(), FSMCntProg; got != want {
		t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
	}

	// the OTP acknowledgment lands after the reset and is dropped.
	lc.Reset()
	tb.clk.RunUntilIdle()
	if got, want := lc.FSM(), FSMReset; got != want {
		t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
	}
	if got, want := lc.Signals(), Signals(0); got != want {
		t.Fatalf("invalid signals: got=%v, want=%v", got, want)
	}

	lc.Init()
	if got, want := lc.State(), StateRaw; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	if got, ok := lc.Count(); got != 1 || !ok {
		t.Fatalf("invalid count: got=%d, want=1", got)
	}
	if got, want := lc.Status(), uint32(StatusInitialized|StatusReady); got != want {
		t.Fatalf("invalid status: got=0x%x, want=0x%x", got, want)
	}
}

func TestResetDuringHash(t *testing.T) {
	tb := newTestbed(t, testConfig(), StateRaw, 0)
	lc := tb.lc
	tb.transition(lc.SW(), StateTestUnlocked0, rawToken(t), 0)
	for lc.FSM() != FSMTokenHash {
		if !tb.clk.Step() {
			t.Fatalf("transition stalled in %v", lc.FSM())
		}
	}

	// only the controller is reset: the KMAC engine must not keep the
	// half-absorbed token.
	lc.Reset()
	lc.Init()
	tb.clk.RunUntilIdle()
	if got, want := lc.FSM(), FSMIdle; got != want {
		t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
	}

	tb.transition(lc.SW(), StateTestUnlocked0, rawToken(t), 0)
	tb.clk.RunUntilIdle()
	if got, want := lc.Status()&StatusDone, uint32(StatusTransitionSuccessful); got != want {
		t.Fatalf("invalid status: got=0x%x, want=0x%x (fsm=%v)", lc.Status(), want, lc.FSM())
	}
	if got, want := lc.FSM(), FSMPostTrans; got != want {
		t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
	}
}

func TestVolatileUnlock(t *testing.T) {
	const ctrl = regs.TRANSITION_CTRL_VOLATILE_RAW_UNLOCK

	t.Run("success", func(t *testing.T) {
		tb := newTestbed(t, testConfig(), StateRaw, 0)
		lc := tb.lc
		sw := lc.SW()
		tb.transition(sw, StateTestUnlocked0, rawToken(t), ctrl)

		if got, want := lc.FSM(), FSMIdle; got != want {
			t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
		}
		if got, want := sw.Read(regs.STATUS), uint32(StatusInitialized|StatusReady|StatusTransitionSuccessful); got != want {
			t.Fatalf("invalid status: got=0x%x, want=0x%x", got, want)
		}
		if got, want := sw.Read(regs.LC_STATE), StateTestUnlocked0.Encode(); got != want {
			t.Fatalf("invalid LC_STATE: got=0x%08x, want=0x%08x", got, want)
		}
		if !lc.Volatile() {
			t.Fatalf("volatile unlock not reported")
		}
		if !lc.Signals().Has(SigDFTEn) {
			t.Fatalf("DFT should be enabled: %v", lc.Signals())
		}
		if got, want := tb.otp.nreqs, 0; got != want {
			t.Fatalf("invalid number of OTP requests: got=%d, want=%d", got, want)
		}

		tb.reset()
		if got, want := lc.State(), StateRaw; got != want {
			t.Fatalf("invalid state after reset: got=%v, want=%v", got, want)
		}
		if lc.Volatile() {
			t.Fatalf("volatile unlock survived reset")
		}
	})

	for _, tc := range []struct {
		name   string
		cfg    func(cfg *Config)
		state  State
		target State
		token  Token
		status uint32
	}{
		{
			name:   "wrong-token",
			state:  StateRaw,
			target: StateTestUnlocked0,
			token:  testUnlockToken,
			status: StatusTokenError,
		},
		{
			name:   "wrong-target",
			state:  StateRaw,
			target: StateTestUnlocked1,
			status: StatusTransitionError,
		},
		{
			name:   "wrong-state",
			state:  StateTestLocked0,
			target: StateTestUnlocked0,
			status: StatusTransitionError,
		},
		{
			name:   "no-raw-token",
			cfg:    func(cfg *Config) { cfg.RawUnlockToken = "" },
			state:  StateRaw,
			target: StateTestUnlocked0,
			status: StatusTransitionError,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			if tc.cfg != nil {
				tc.cfg(&cfg)
			}
			cnt := 0
			if tc.state != StateRaw {
				cnt = 1
			}
			tb := newTestbed(t, cfg, tc.state, cnt)
			tk := tc.token
			if tk == (Token{}) {
				tk = rawToken(t)
			}
			tb.transition(tb.lc.SW(), tc.target, tk, ctrl)
			if got, want := tb.lc.FSM(), FSMIdle; got != want {
				t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
			}
			if got, want := tb.lc.Status()&StatusDone, tc.status; got != want {
				t.Fatalf("invalid status: got=0x%x, want=0x%x", got, want)
			}
			if tb.lc.Volatile() {
				t.Fatalf("volatile unlock reported")
			}
		})
	}

	t.Run("disabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.VolatileRawUnlock = false
		tb := newTestbed(t, cfg, StateRaw, 0)
		sw := tb.lc.SW()
		tb.transition(sw, StateTestUnlocked0, rawToken(t), ctrl)
		if got, want := sw.Read(regs.TRANSITION_CTRL), uint32(0); got != want {
			t.Fatalf("invalid ctrl register: got=0x%x, want=0x%x", got, want)
		}
		// falls back to a regular transition.
		if got, want := tb.lc.FSM(), FSMCntProg; got != want {
			t.Fatalf("invalid FSM state: got=%v, want=%v", got, want)
		}
	})
}

func TestObservers(t *testing.T) {
	tb := newTestbed(t, testConfig(), StateRaw, 0)
	var clks []bool
	tb.lc.OnExtClock(func(v bool) { clks = append(clks, v) })

	tb.transition(tb.lc.SW(), StateTestUnlocked0, rawToken(t), regs.TRANSITION_CTRL_EXT_CLOCK_EN)
	tb.clk.RunUntilIdle()
	tb.reset()

	if got, want := len(clks), 2; got != want {
		t.Fatalf("invalid number of ext-clock notifications: got=%d, want=%d", got, want)
	}
	if !clks[0] || clks[1] {
		t.Fatalf("invalid ext-clock notifications: %v", clks)
	}

	want := []Signals{
		sigs(SigRawTestRMA),                // init
		sigs(SigRawTestRMA, SigCheckBypEn), // transition
		sigs(SigEscalateEn),                // post-transition
		0,                                  // reset
		stateSignals(StateTestUnlocked0, IDBlank), // init
	}
	if got := tb.signals; len(got) != len(want) {
		t.Fatalf("invalid signal notifications:\ngot= %v\nwant=%v", got, want)
	}
	for i := range want {
		if tb.signals[i] != want[i] {
			t.Fatalf("invalid signal notification %d: got=%v, want=%v", i, tb.signals[i], want[i])
		}
	}
}
