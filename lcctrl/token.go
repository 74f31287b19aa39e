// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lcctrl

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/otdev/kmac"
)

// TokenKind identifies the token gating a life-cycle transition.
type TokenKind int

const (
	TokenInvalid TokenKind = iota
	TokenZero
	TokenRawUnlock
	TokenTestUnlock
	TokenTestExit
	TokenRMA

	numTokenKinds
)

func (kind TokenKind) String() string {
	switch kind {
	case TokenInvalid:
		return "INVALID"
	case TokenZero:
		return "ZERO"
	case TokenRawUnlock:
		return "RAW_UNLOCK"
	case TokenTestUnlock:
		return "TEST_UNLOCK"
	case TokenTestExit:
		return "TEST_EXIT"
	case TokenRMA:
		return "RMA"
	}
	return fmt.Sprintf("TokenKind(%d)", int(kind))
}

// OTPToken indexes the hashed tokens stored in OTP.
type OTPToken int

const (
	OTPTokenTestUnlock OTPToken = iota
	OTPTokenTestExit
	OTPTokenRMA

	NumOTPTokens
)

func (tok OTPToken) kind() TokenKind {
	switch tok {
	case OTPTokenTestUnlock:
		return TokenTestUnlock
	case OTPTokenTestExit:
		return TokenTestExit
	case OTPTokenRMA:
		return TokenRMA
	}
	panic(fmt.Errorf("lcctrl: invalid OTP token index %d", int(tok)))
}

// Token is a 128-bit life-cycle token.
type Token struct {
	Lo uint64
	Hi uint64
}

// TokenCustomization is the cSHAKE128 customization string used to hash
// life-cycle tokens.
const TokenCustomization = "LC_CTRL"

// ParseToken parses a 128-bit token written as 32 hexadecimal digits,
// most significant digit first.
func ParseToken(s string) (Token, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 32 {
		return Token{}, fmt.Errorf("lcctrl: invalid token length %d (want 32 hex digits)", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Token{}, fmt.Errorf("lcctrl: could not decode token %q: %w", s, err)
	}
	return Token{
		Hi: binary.BigEndian.Uint64(raw[:8]),
		Lo: binary.BigEndian.Uint64(raw[8:]),
	}, nil
}

func (tk Token) String() string {
	return fmt.Sprintf("%016x%016x", tk.Hi, tk.Lo)
}

// TokenFromWords assembles a token from the four TRANSITION_TOKEN words.
func TokenFromWords(w [4]uint32) Token {
	return Token{
		Lo: uint64(w[1])<<32 | uint64(w[0]),
		Hi: uint64(w[3])<<32 | uint64(w[2]),
	}
}

// Words splits a token into the four TRANSITION_TOKEN words.
func (tk Token) Words() [4]uint32 {
	return [4]uint32{
		uint32(tk.Lo), uint32(tk.Lo >> 32),
		uint32(tk.Hi), uint32(tk.Hi >> 32),
	}
}

func (tk Token) halves() (lo, hi [8]byte) {
	binary.LittleEndian.PutUint64(lo[:], tk.Lo)
	binary.LittleEndian.PutUint64(hi[:], tk.Hi)
	return lo, hi
}

// HashToken returns the hashed form of a token, as stored in OTP.
func HashToken(tk Token) Token {
	lo, hi := tk.halves()
	d := kmac.Sum(TokenCustomization, append(lo[:], hi[:]...))
	return Token{Lo: d[0], Hi: d[1]}
}

// RequiredToken returns the token kind gating the transition from one
// life-cycle state to another.
// RequiredToken returns TokenInvalid for any disallowed pair.
func RequiredToken(from, to State) TokenKind {
	if !from.Valid() || !to.Valid() {
		return TokenInvalid
	}
	return transMatrix[from][to]
}

var transMatrix = newTransMatrix()

func newTransMatrix() [NumStates][NumStates]TokenKind {
	var m [NumStates][NumStates]TokenKind
	for i := range m {
		for j := range m[i] {
			m[i][j] = transToken(State(i), State(j))
		}
	}
	return m
}

func transToken(from, to State) TokenKind {
	mission := to == StateDev || to == StateProd || to == StateProdEnd
	switch {
	case from == StateScrap:
		return TokenInvalid
	case to == StateScrap:
		return TokenZero
	case from == StateRaw:
		if to.testUnlocked() {
			return TokenRawUnlock
		}
	case from.testUnlocked():
		switch {
		case to == StateRMA:
			return TokenZero
		case mission:
			return TokenTestExit
		case to.testLocked() && to > from:
			return TokenZero
		}
	case from.testLocked():
		switch {
		case mission:
			return TokenTestExit
		case to.testUnlocked() && to > from:
			return TokenTestUnlock
		}
	case from == StateDev, from == StateProd:
		if to == StateRMA {
			return TokenRMA
		}
	}
	return TokenInvalid
}

// tokens holds the hashed tokens known to the controller.
type tokens struct {
	hashed [numTokenKinds]Token
	valid  uint32 // bitmap indexed by TokenKind
}

func (ts *tokens) reset() {
	*ts = tokens{}
}

func (ts *tokens) set(kind TokenKind, hashed Token) {
	ts.hashed[kind] = hashed
	ts.valid |= 1 << uint(kind)
}

func (ts *tokens) isValid(kind TokenKind) bool {
	return ts.valid&(1<<uint(kind)) != 0
}

// match reports whether digest matches the stored hashed token of the
// provided kind.
func (ts *tokens) match(msg log.MsgStream, digest Token, kind TokenKind) bool {
	if kind <= TokenInvalid || kind >= numTokenKinds {
		msg.Warnf("token check against %v token", kind)
		return false
	}
	if !ts.isValid(kind) {
		msg.Warnf("token check against unset %v token", kind)
		return false
	}
	ok := ts.hashed[kind] == digest
	if !ok {
		msg.Debugf("%v token mismatch", kind)
	}
	return ok
}
