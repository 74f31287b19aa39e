// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lcctrl

import (
	"fmt"
	"strings"

	"github.com/go-lpc/otdev/internal/regs"
)

// initError is a bitmap of the inconsistencies found in the OTP
// life-cycle partition.
type initError uint32

const (
	errStateUnknown      initError = 1 << iota // state matches no known encoding
	errCountUnknown                            // count matches no known encoding
	errPartitionInvalid                        // OTP reports a corrupted partition
	errSecretValid                             // secret-valid flag is not a valid MuBi8
	errZeroCount                               // non-RAW state with a zero count
	errPersonalization                         // personalized without the RMA token
	errVendorTestUnknown                       // vendor test partition in an unknown state
)

func (e initError) String() string {
	if e == 0 {
		return "none"
	}
	var (
		names = []string{
			"state-unknown", "count-unknown", "partition-invalid",
			"secret-valid", "zero-count", "personalization",
			"vendor-test-unknown",
		}
		o []string
	)
	for i, name := range names {
		if e&(1<<uint(i)) != 0 {
			o = append(o, name)
		}
	}
	return strings.Join(o, "|")
}

// initialState is the outcome of loading the OTP life-cycle partition.
type initialState struct {
	state      State
	count      int
	countValid bool
	id         IDState
	tokens     tokens
	errs       initError
}

// loadInitialState decodes and classifies the life-cycle information
// reported by the OTP backend.
// When forceRaw is set, the RAW state is used in place of the state
// reported by OTP.
func loadInitialState(tbls *Tables, info OTPInfo, forceRaw bool) initialState {
	var ini initialState

	if forceRaw {
		info.State = tbls.State(StateRaw)
	}

	st, ok := tbls.DecodeState(info.State)
	if !ok {
		ini.errs |= errStateUnknown
	}
	ini.state = st

	cnt, ok := tbls.DecodeCount(info.Count)
	if ok {
		ini.count = cnt
		ini.countValid = true
	} else {
		ini.errs |= errCountUnknown
	}

	if !info.Valid {
		ini.errs |= errPartitionInvalid
	}

	if info.VendorTestUnknown {
		ini.errs |= errVendorTestUnknown
	}

	switch info.SecretValid {
	case regs.MUBI8_TRUE:
		ini.id = IDPersonalized
	case regs.MUBI8_FALSE:
		ini.id = IDBlank
	default:
		ini.id = IDInvalid
		ini.errs |= errSecretValid
	}

	if ini.countValid && ini.count == 0 && st != StateRaw && st.Valid() {
		ini.errs |= errZeroCount
	}

	for i := OTPToken(0); i < NumOTPTokens; i++ {
		if info.TokenValid&(1<<uint(i)) == 0 {
			continue
		}
		ini.tokens.set(i.kind(), info.Tokens[i])
	}

	if ini.id == IDPersonalized && !ini.tokens.isValid(TokenRMA) {
		ini.errs |= errPersonalization
	}

	return ini
}

func (ini initialState) String() string {
	return fmt.Sprintf(
		"state=%v count=%d (valid=%v) id=%v errs=%v",
		ini.state, ini.count, ini.countValid, ini.id, ini.errs,
	)
}
