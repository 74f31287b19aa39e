// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lcctrl

import (
	"fmt"
	"strings"
)

// State is a life-cycle state.
type State int

const (
	StateRaw State = iota
	StateTestUnlocked0
	StateTestLocked0
	StateTestUnlocked1
	StateTestLocked1
	StateTestUnlocked2
	StateTestLocked2
	StateTestUnlocked3
	StateTestLocked3
	StateTestUnlocked4
	StateTestLocked4
	StateTestUnlocked5
	StateTestLocked5
	StateTestUnlocked6
	StateTestLocked6
	StateTestUnlocked7
	StateDev
	StateProd
	StateProdEnd
	StateRMA
	StateScrap

	// synthetic states, never stored in OTP.
	StatePostTransition
	StateEscalate
	StateInvalid
)

// NumStates is the number of life-cycle states that can be stored in OTP.
const NumStates = int(StateScrap) + 1

var stateNames = [...]string{
	StateRaw:            "RAW",
	StateTestUnlocked0:  "TEST_UNLOCKED0",
	StateTestLocked0:    "TEST_LOCKED0",
	StateTestUnlocked1:  "TEST_UNLOCKED1",
	StateTestLocked1:    "TEST_LOCKED1",
	StateTestUnlocked2:  "TEST_UNLOCKED2",
	StateTestLocked2:    "TEST_LOCKED2",
	StateTestUnlocked3:  "TEST_UNLOCKED3",
	StateTestLocked3:    "TEST_LOCKED3",
	StateTestUnlocked4:  "TEST_UNLOCKED4",
	StateTestLocked4:    "TEST_LOCKED4",
	StateTestUnlocked5:  "TEST_UNLOCKED5",
	StateTestLocked5:    "TEST_LOCKED5",
	StateTestUnlocked6:  "TEST_UNLOCKED6",
	StateTestLocked6:    "TEST_LOCKED6",
	StateTestUnlocked7:  "TEST_UNLOCKED7",
	StateDev:            "DEV",
	StateProd:           "PROD",
	StateProdEnd:        "PROD_END",
	StateRMA:            "RMA",
	StateScrap:          "SCRAP",
	StatePostTransition: "POST_TRANSITION",
	StateEscalate:       "ESCALATE",
	StateInvalid:        "INVALID",
}

func (st State) String() string {
	if st < 0 || int(st) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(st))
	}
	return stateNames[st]
}

// ParseState returns the state named name (case insensitive).
func ParseState(name string) (State, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, v := range stateNames {
		if v == name {
			return State(i), nil
		}
	}
	return StateInvalid, fmt.Errorf("lcctrl: unknown life-cycle state %q", name)
}

// Valid reports whether st can be stored in OTP.
func (st State) Valid() bool {
	return st >= StateRaw && st <= StateScrap
}

func (st State) testUnlocked() bool {
	return st >= StateTestUnlocked0 && st <= StateTestUnlocked7 && (st-StateTestUnlocked0)%2 == 0
}

func (st State) testLocked() bool {
	return st >= StateTestLocked0 && st <= StateTestLocked6 && (st-StateTestLocked0)%2 == 0
}

// stateRepl replicates a 5-bit state index over the 30 bits of the
// LC_STATE and TRANSITION_TARGET registers.
const stateRepl = 0x02108421

// Encode returns the register encoding of st.
func (st State) Encode() uint32 {
	return uint32(st) * stateRepl
}

// DecodeState decodes a LC_STATE/TRANSITION_TARGET register value.
func DecodeState(v uint32) (State, bool) {
	st := State(v & 0x1f)
	if st > StateInvalid || st.Encode() != v {
		return StateInvalid, false
	}
	return st, true
}

// MaxCount is the maximum number of life-cycle transitions.
const MaxCount = 24

// invalidCount is reported by LC_TRANSITION_CNT when the counter is invalid.
const invalidCount = 0x1f

// IDState is the personalization state of the device.
type IDState int

const (
	IDBlank IDState = iota
	IDPersonalized
	IDInvalid
)

func (id IDState) String() string {
	switch id {
	case IDBlank:
		return "BLANK"
	case IDPersonalized:
		return "PERSONALIZED"
	case IDInvalid:
		return "INVALID"
	}
	return fmt.Sprintf("IDState(%d)", int(id))
}

// Encode returns the LC_ID_STATE register encoding of id.
func (id IDState) Encode() uint32 {
	return uint32(id) * 0x55555555
}

// FSMState is a state of the life-cycle controller state machine.
type FSMState int

const (
	FSMReset FSMState = iota
	FSMIdle
	FSMClkMux
	FSMCntIncr
	FSMCntProg
	FSMTransCheck
	FSMTokenHash
	FSMTokenCheck
	FSMTransProg
	FSMPostTrans
	FSMScrap
	FSMEscalate
	FSMInvalid
)

var fsmNames = [...]string{
	FSMReset:      "RESET",
	FSMIdle:       "IDLE",
	FSMClkMux:     "CLK_MUX",
	FSMCntIncr:    "CNT_INCR",
	FSMCntProg:    "CNT_PROG",
	FSMTransCheck: "TRANS_CHECK",
	FSMTokenHash:  "TOKEN_HASH",
	FSMTokenCheck: "TOKEN_CHECK",
	FSMTransProg:  "TRANS_PROG",
	FSMPostTrans:  "POST_TRANS",
	FSMScrap:      "SCRAP",
	FSMEscalate:   "ESCALATE",
	FSMInvalid:    "INVALID",
}

func (fsm FSMState) String() string {
	if fsm < 0 || int(fsm) >= len(fsmNames) {
		return fmt.Sprintf("FSMState(%d)", int(fsm))
	}
	return fsmNames[fsm]
}

// Terminal reports whether fsm can only be left through a device reset.
func (fsm FSMState) Terminal() bool {
	switch fsm {
	case FSMScrap, FSMEscalate, FSMInvalid:
		return true
	}
	return false
}

// inTransition reports whether a transition is being processed.
func (fsm FSMState) inTransition() bool {
	return fsm >= FSMClkMux && fsm <= FSMTransProg
}

// Requester identifies a bus interface competing for the hardware mutex.
type Requester int

const (
	RequesterNone Requester = iota
	RequesterSW             // software core (TL-UL)
	RequesterJTAG           // external debug interface (DMI/JTAG)
)

func (r Requester) String() string {
	switch r {
	case RequesterNone:
		return "none"
	case RequesterSW:
		return "sw"
	case RequesterJTAG:
		return "jtag"
	}
	return fmt.Sprintf("Requester(%d)", int(r))
}

func (r Requester) valid() bool {
	return r == RequesterSW || r == RequesterJTAG
}
