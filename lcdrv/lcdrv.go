// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lcdrv is a guest driver for the life-cycle controller
// register window.
package lcdrv // import "github.com/go-lpc/otdev/lcdrv"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-lpc/otdev/internal/regs"
	"github.com/go-lpc/otdev/lcctrl"
)

var (
	ErrBusy    = errors.New("lcdrv: mutex held by another interface")
	ErrLocked  = errors.New("lcdrv: transition registers locked")
	ErrTimeout = errors.New("lcdrv: timeout waiting for transition")

	ErrCount      = errors.New("lcdrv: transition count exhausted")
	ErrTransition = errors.New("lcdrv: invalid transition")
	ErrToken      = errors.New("lcdrv: invalid token")
	ErrFlashRMA   = errors.New("lcdrv: flash RMA failure")
	ErrOTP        = errors.New("lcdrv: OTP programming failure")
	ErrState      = errors.New("lcdrv: invalid controller state")
)

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

type reg32 struct {
	r func() uint32
	w func(v uint32)
}

func newReg32(drv *Driver, rw rwer, offset int64) reg32 {
	return reg32{
		r: func() uint32 {
			return drv.readU32(rw, offset)
		},
		w: func(v uint32) {
			drv.writeU32(rw, offset, v)
		},
	}
}

// Driver drives a life-cycle controller through its register window.
type Driver struct {
	err error
	buf [4]byte

	regs struct {
		status      reg32
		claimRegwen reg32
		claim       reg32
		transRegwen reg32
		cmd         reg32
		ctrl        reg32
		token       [regs.NumTokenWords]reg32
		target      reg32
		lcState     reg32
		lcCount     reg32
		idState     reg32
		hwRev0      reg32
		hwRev1      reg32
		devID       [regs.NumDeviceIDWords]reg32
	}
}

// New creates a driver over the provided register window.
func New(rw rwer) *Driver {
	drv := &Driver{}
	drv.regs.status = newReg32(drv, rw, regs.STATUS)
	drv.regs.claimRegwen = newReg32(drv, rw, regs.CLAIM_TRANSITION_IF_REGWEN)
	drv.regs.claim = newReg32(drv, rw, regs.CLAIM_TRANSITION_IF)
	drv.regs.transRegwen = newReg32(drv, rw, regs.TRANSITION_REGWEN)
	drv.regs.cmd = newReg32(drv, rw, regs.TRANSITION_CMD)
	drv.regs.ctrl = newReg32(drv, rw, regs.TRANSITION_CTRL)
	for i := range drv.regs.token {
		drv.regs.token[i] = newReg32(drv, rw, regs.TRANSITION_TOKEN_0+4*int64(i))
	}
	drv.regs.target = newReg32(drv, rw, regs.TRANSITION_TARGET)
	drv.regs.lcState = newReg32(drv, rw, regs.LC_STATE)
	drv.regs.lcCount = newReg32(drv, rw, regs.LC_TRANSITION_CNT)
	drv.regs.idState = newReg32(drv, rw, regs.LC_ID_STATE)
	drv.regs.hwRev0 = newReg32(drv, rw, regs.HW_REVISION0)
	drv.regs.hwRev1 = newReg32(drv, rw, regs.HW_REVISION1)
	for i := range drv.regs.devID {
		drv.regs.devID[i] = newReg32(drv, rw, regs.DEVICE_ID_0+4*int64(i))
	}
	return drv
}

func (drv *Driver) readU32(r io.ReaderAt, off int64) uint32 {
	if drv.err != nil {
		return 0
	}
	_, drv.err = r.ReadAt(drv.buf[:4], off)
	if drv.err != nil {
		drv.err = fmt.Errorf("lcdrv: could not read register 0x%x: %w", off, drv.err)
		return 0
	}
	return binary.LittleEndian.Uint32(drv.buf[:4])
}

func (drv *Driver) writeU32(w io.WriterAt, off int64, v uint32) {
	if drv.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(drv.buf[:4], v)
	_, drv.err = w.WriteAt(drv.buf[:4], off)
	if drv.err != nil {
		drv.err = fmt.Errorf("lcdrv: could not write register 0x%x: %w", off, drv.err)
		return
	}
}

// Err returns the first bus error encountered by the driver.
func (drv *Driver) Err() error { return drv.err }

// Claim acquires the hardware mutex.
func (drv *Driver) Claim() error {
	drv.regs.claim.w(regs.MUBI8_TRUE)
	v := drv.regs.claim.r()
	if drv.err != nil {
		return drv.err
	}
	if v != regs.MUBI8_TRUE {
		return ErrBusy
	}
	return nil
}

// Release releases the hardware mutex.
func (drv *Driver) Release() error {
	drv.regs.claim.w(regs.MUBI8_FALSE)
	return drv.err
}

// LockClaim clears CLAIM_TRANSITION_IF_REGWEN, locking the mutex claim
// until the next reset.
func (drv *Driver) LockClaim() error {
	drv.regs.claimRegwen.w(0)
	return drv.err
}

// Request describes a life-cycle transition.
type Request struct {
	Target   lcctrl.State
	Token    lcctrl.Token
	ExtClock bool // switch to the external clock during the transition
	Volatile bool // volatile RAW unlock
}

// Transition programs and starts a transition.
// The mutex must have been claimed beforehand.
func (drv *Driver) Transition(req Request) error {
	regwen := drv.regs.transRegwen.r()
	if drv.err != nil {
		return drv.err
	}
	if regwen == 0 {
		return ErrLocked
	}

	for i, w := range req.Token.Words() {
		drv.regs.token[i].w(w)
	}
	drv.regs.target.w(req.Target.Encode())

	var ctrl uint32
	if req.ExtClock {
		ctrl |= regs.TRANSITION_CTRL_EXT_CLOCK_EN
	}
	if req.Volatile {
		ctrl |= regs.TRANSITION_CTRL_VOLATILE_RAW_UNLOCK
	}
	drv.regs.ctrl.w(ctrl)
	drv.regs.cmd.w(regs.TRANSITION_CMD_START)

	if drv.err != nil {
		return fmt.Errorf("lcdrv: could not start transition to %v: %w", req.Target, drv.err)
	}
	return nil
}

// Status returns the STATUS register.
func (drv *Driver) Status() (uint32, error) {
	v := drv.regs.status.r()
	return v, drv.err
}

// State returns the life-cycle state reported by the controller.
func (drv *Driver) State() (lcctrl.State, error) {
	v := drv.regs.lcState.r()
	if drv.err != nil {
		return lcctrl.StateInvalid, drv.err
	}
	st, ok := lcctrl.DecodeState(v)
	if !ok {
		return lcctrl.StateInvalid, fmt.Errorf("lcdrv: invalid LC_STATE value 0x%08x", v)
	}
	return st, nil
}

// Count returns the transition count reported by the controller.
func (drv *Driver) Count() (int, error) {
	v := drv.regs.lcCount.r()
	if drv.err != nil {
		return 0, drv.err
	}
	if v > lcctrl.MaxCount {
		return 0, fmt.Errorf("lcdrv: invalid transition count 0x%x", v)
	}
	return int(v), nil
}

// Personalized reports whether the device holds its secrets.
func (drv *Driver) Personalized() (bool, error) {
	v := drv.regs.idState.r()
	if drv.err != nil {
		return false, drv.err
	}
	switch v {
	case lcctrl.IDPersonalized.Encode():
		return true, nil
	case lcctrl.IDBlank.Encode():
		return false, nil
	}
	return false, fmt.Errorf("lcdrv: invalid LC_ID_STATE value 0x%08x", v)
}

// HWRevision returns the silicon creator, product and revision identifiers.
func (drv *Driver) HWRevision() (creator, product, revision uint32, err error) {
	rev0 := drv.regs.hwRev0.r()
	rev1 := drv.regs.hwRev1.r()
	if drv.err != nil {
		return 0, 0, 0, drv.err
	}
	creator = rev0 >> regs.HW_REVISION0_SILICON_CREATOR_ID_SHIFT
	product = rev0 & regs.HW_REVISION0_PRODUCT_ID_MASK
	revision = rev1 & regs.HW_REVISION1_REVISION_ID_MASK
	return creator, product, revision, nil
}

// DeviceID returns the device identifier.
func (drv *Driver) DeviceID() ([regs.NumDeviceIDWords]uint32, error) {
	var id [regs.NumDeviceIDWords]uint32
	for i := range id {
		id[i] = drv.regs.devID[i].r()
	}
	return id, drv.err
}

// Wait polls STATUS until the outcome of a transition is reported.
// step advances the system by one event and reports whether an event
// was pending; Wait gives up after max polls.
// Wait returns the final status, with a non-nil error if the transition
// failed.
func (drv *Driver) Wait(step func() bool, max int) (uint32, error) {
	var st uint32
	for i := 0; i <= max; i++ {
		var err error
		st, err = drv.Status()
		if err != nil {
			return st, err
		}
		if st&lcctrl.StatusDone != 0 {
			return st, StatusError(st)
		}
		if i == max || !step() {
			break
		}
	}
	return st, ErrTimeout
}

// StatusError returns the error reported by a STATUS register value,
// or nil if no error bit is set.
func StatusError(st uint32) error {
	switch {
	case st&lcctrl.StatusTransitionCountError != 0:
		return ErrCount
	case st&lcctrl.StatusTransitionError != 0:
		return ErrTransition
	case st&lcctrl.StatusTokenError != 0:
		return ErrToken
	case st&lcctrl.StatusFlashRMAError != 0:
		return ErrFlashRMA
	case st&lcctrl.StatusOTPError != 0:
		return ErrOTP
	case st&lcctrl.StatusStateError != 0:
		return ErrState
	}
	return nil
}
