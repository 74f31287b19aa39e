// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lcctrl

import (
	"fmt"
	"strings"
)

// Signal is a broadcast signal driven by the controller.
type Signal int

const (
	SigRawTestRMA Signal = iota
	SigDFTEn
	SigNVMDebugEn
	SigHWDebugEn
	SigCPUEn
	SigKeymgrEn
	SigEscalateEn
	SigCheckBypEn
	SigCreatorSeedSWRWEn
	SigOwnerSeedSWRWEn
	SigIsoPartSWRdEn
	SigIsoPartSWWrEn
	SigSeedHWRdEn

	NumSignals
)

var sigNames = [NumSignals]string{
	SigRawTestRMA:        "raw_test_rma",
	SigDFTEn:             "dft_en",
	SigNVMDebugEn:        "nvm_debug_en",
	SigHWDebugEn:         "hw_debug_en",
	SigCPUEn:             "cpu_en",
	SigKeymgrEn:          "keymgr_en",
	SigEscalateEn:        "escalate_en",
	SigCheckBypEn:        "check_byp_en",
	SigCreatorSeedSWRWEn: "creator_seed_sw_rw_en",
	SigOwnerSeedSWRWEn:   "owner_seed_sw_rw_en",
	SigIsoPartSWRdEn:     "iso_part_sw_rd_en",
	SigIsoPartSWWrEn:     "iso_part_sw_wr_en",
	SigSeedHWRdEn:        "seed_hw_rd_en",
}

func (sig Signal) String() string {
	if sig < 0 || sig >= NumSignals {
		return fmt.Sprintf("Signal(%d)", int(sig))
	}
	return sigNames[sig]
}

// Signals is the set of asserted broadcast signals.
type Signals uint32

func sigs(lst ...Signal) Signals {
	var set Signals
	for _, sig := range lst {
		set |= 1 << uint(sig)
	}
	return set
}

// Has reports whether sig is asserted.
func (set Signals) Has(sig Signal) bool {
	return set&(1<<uint(sig)) != 0
}

func (set Signals) String() string {
	var names []string
	for sig := Signal(0); sig < NumSignals; sig++ {
		if set.Has(sig) {
			names = append(names, sig.String())
		}
	}
	return "[" + strings.Join(names, " ") + "]"
}

// computeSignals returns the broadcast signals for the provided
// controller state, life-cycle state and personalization state.
func computeSignals(fsm FSMState, st State, id IDState) Signals {
	switch {
	case fsm == FSMIdle:
	case fsm.inTransition():
		// keep decoding the current state while the transition is
		// processed, OTP consistency checks are bypassed.
		return stateSignals(st, id) | sigs(SigCheckBypEn)
	case fsm == FSMReset:
		return 0
	default:
		// post-transition and terminal states.
		return sigs(SigEscalateEn)
	}
	return stateSignals(st, id)
}

func stateSignals(st State, id IDState) Signals {
	var set Signals
	switch {
	case st == StateRaw:
		set = sigs(SigRawTestRMA)
	case st.testUnlocked():
		set = sigs(
			SigRawTestRMA, SigDFTEn, SigNVMDebugEn, SigHWDebugEn,
			SigCPUEn, SigIsoPartSWWrEn,
		)
	case st.testLocked():
		set = sigs(SigRawTestRMA)
	case st == StateDev:
		set = sigs(
			SigHWDebugEn, SigCPUEn, SigKeymgrEn,
			SigOwnerSeedSWRWEn, SigIsoPartSWWrEn,
		)
		set |= seedSignals(id)
	case st == StateProd, st == StateProdEnd:
		set = sigs(
			SigCPUEn, SigKeymgrEn,
			SigOwnerSeedSWRWEn, SigIsoPartSWRdEn, SigIsoPartSWWrEn,
		)
		set |= seedSignals(id)
	case st == StateRMA:
		set = sigs(
			SigRawTestRMA, SigDFTEn, SigNVMDebugEn, SigHWDebugEn,
			SigCPUEn, SigKeymgrEn, SigCheckBypEn,
			SigCreatorSeedSWRWEn, SigOwnerSeedSWRWEn,
			SigIsoPartSWRdEn, SigIsoPartSWWrEn, SigSeedHWRdEn,
		)
	default:
		// SCRAP and synthetic states.
		set = sigs(SigEscalateEn)
	}
	return set
}

// seedSignals returns the creator seed access signals for mission states.
func seedSignals(id IDState) Signals {
	switch id {
	case IDBlank:
		return sigs(SigCreatorSeedSWRWEn)
	case IDPersonalized:
		return sigs(SigSeedHWRdEn)
	}
	return 0
}
