// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lcctrl

import (
	"fmt"
	"strconv"
	"strings"
)

// Family is a family of OTP transition values.
type Family int

const (
	FamilyLCState Family = iota
	FamilyLCCount
	FamilyOwnership
	FamilySocDbg

	numFamilies
)

const (
	StateWords     = 20 // 16-bit words of an encoded life-cycle state
	CountWords     = 24 // 16-bit words of an encoded transition count
	OwnershipWords = 8
	SocDbgWords    = 2
)

var familyWords = [numFamilies]int{
	FamilyLCState:   StateWords,
	FamilyLCCount:   CountWords,
	FamilyOwnership: OwnershipWords,
	FamilySocDbg:    SocDbgWords,
}

func (f Family) String() string {
	switch f {
	case FamilyLCState:
		return "lc_state"
	case FamilyLCCount:
		return "lc_tcount"
	case FamilyOwnership:
		return "ownership"
	case FamilySocDbg:
		return "socdbg"
	}
	return fmt.Sprintf("Family(%d)", int(f))
}

// Words returns the number of 16-bit words of an encoded value.
func (f Family) Words() int { return familyWords[f] }

// Values returns the number of encoded values of the family.
func (f Family) Values() int { return familyWords[f] + 1 }

// EncodedState is a life-cycle state as stored in OTP.
type EncodedState [StateWords]uint16

// EncodedCount is a transition count as stored in OTP.
type EncodedCount [CountWords]uint16

// TransValues holds the two endpoints of a family of transition values,
// as hexadecimal strings with 4 digits per 16-bit word, most significant
// word first.
//
// Value 0 of a family is all-zero; value i uses the words of Last below
// index i and the words of First otherwise. Each word of Last must be a
// superset of the bits of the matching word of First, as OTP bits can
// only be set.
type TransValues struct {
	First string
	Last  string
}

// Tables holds the transition values of every family.
type Tables struct {
	tbl [numFamilies][][]uint16
}

// NewTables builds the transition value tables from their endpoints.
func NewTables(lcState, lcCount, ownership, socDbg TransValues) (*Tables, error) {
	var (
		tbls Tables
		vals = [numFamilies]TransValues{lcState, lcCount, ownership, socDbg}
	)
	for i, v := range vals {
		f := Family(i)
		first, err := parseWords(v.First, f.Words())
		if err != nil {
			return nil, fmt.Errorf("lcctrl: invalid %v first values: %w", f, err)
		}
		last, err := parseWords(v.Last, f.Words())
		if err != nil {
			return nil, fmt.Errorf("lcctrl: invalid %v last values: %w", f, err)
		}
		for j := range first {
			if first[j]&last[j] != first[j] {
				return nil, fmt.Errorf(
					"lcctrl: invalid %v values: word %d last=0x%04x does not cover first=0x%04x",
					f, j, last[j], first[j],
				)
			}
		}
		tbls.tbl[f] = interpolate(first, last)
	}
	return &tbls, nil
}

func parseWords(s string, n int) ([]uint16, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 4*n {
		return nil, fmt.Errorf("invalid length %d (want %d hex digits)", len(s), 4*n)
	}
	words := make([]uint16, n)
	for i := range words {
		beg := len(s) - 4*(i+1)
		v, err := strconv.ParseUint(s[beg:beg+4], 16, 16)
		if err != nil {
			return nil, fmt.Errorf("could not parse word %d: %w", i, err)
		}
		words[i] = uint16(v)
	}
	return words, nil
}

func interpolate(first, last []uint16) [][]uint16 {
	tbl := make([][]uint16, len(first)+1)
	tbl[0] = make([]uint16, len(first))
	for i := 1; i < len(tbl); i++ {
		row := make([]uint16, len(first))
		copy(row[:i], last[:i])
		copy(row[i:], first[i:])
		tbl[i] = row
	}
	return tbl
}

// Encode returns value i of family f.
func (tbls *Tables) Encode(f Family, i int) []uint16 {
	tbl := tbls.tbl[f]
	if i < 0 || i >= len(tbl) {
		panic(fmt.Errorf("lcctrl: no %v value for index %d", f, i))
	}
	out := make([]uint16, len(tbl[i]))
	copy(out, tbl[i])
	return out
}

// Decode returns the index of the value of family f matching words.
func (tbls *Tables) Decode(f Family, words []uint16) (int, bool) {
	tbl := tbls.tbl[f]
	if len(words) != f.Words() {
		return -1, false
	}
loop:
	for i, row := range tbl {
		for j := range row {
			if row[j] != words[j] {
				continue loop
			}
		}
		return i, true
	}
	return -1, false
}

// State returns the OTP encoding of the life-cycle state st.
func (tbls *Tables) State(st State) EncodedState {
	if !st.Valid() {
		panic(fmt.Errorf("lcctrl: no OTP encoding for state %v", st))
	}
	var enc EncodedState
	copy(enc[:], tbls.tbl[FamilyLCState][st])
	return enc
}

// Count returns the OTP encoding of the transition count n.
func (tbls *Tables) Count(n int) EncodedCount {
	if n < 0 || n > MaxCount {
		panic(fmt.Errorf("lcctrl: no OTP encoding for transition count %d", n))
	}
	var enc EncodedCount
	copy(enc[:], tbls.tbl[FamilyLCCount][n])
	return enc
}

// DecodeState decodes an OTP life-cycle state.
func (tbls *Tables) DecodeState(enc EncodedState) (State, bool) {
	i, ok := tbls.Decode(FamilyLCState, enc[:])
	if !ok {
		return StateInvalid, false
	}
	return State(i), true
}

// DecodeCount decodes an OTP transition count.
func (tbls *Tables) DecodeCount(enc EncodedCount) (int, bool) {
	return tbls.Decode(FamilyLCCount, enc[:])
}
