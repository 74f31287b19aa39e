// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lcctrl models the OpenTitan life-cycle controller.
//
// The controller arbitrates a hardware mutex between the software core
// and the debug interface, verifies transition tokens through the KMAC
// engine, programs the new life-cycle state and transition count into
// OTP, and drives the broadcast signals gating the security posture of
// the rest of the chip.
//
// Long-latency operations (OTP programming, token hashing) complete
// through callbacks; a Controller is not safe for concurrent use.
package lcctrl // import "github.com/go-lpc/otdev/lcctrl"

import (
	"fmt"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/otdev/internal/regs"
)

// STATUS register bits.
const (
	StatusInitialized          = regs.STATUS_INITIALIZED
	StatusReady                = regs.STATUS_READY
	StatusExtClockSwitched     = regs.STATUS_EXT_CLOCK_SWITCHED
	StatusTransitionSuccessful = regs.STATUS_TRANSITION_SUCCESSFUL
	StatusTransitionCountError = regs.STATUS_TRANSITION_COUNT_ERROR
	StatusTransitionError      = regs.STATUS_TRANSITION_ERROR
	StatusTokenError           = regs.STATUS_TOKEN_ERROR
	StatusFlashRMAError        = regs.STATUS_FLASH_RMA_ERROR
	StatusOTPError             = regs.STATUS_OTP_ERROR
	StatusStateError           = regs.STATUS_STATE_ERROR
	StatusBusIntegError        = regs.STATUS_BUS_INTEG_ERROR
	StatusOTPPartitionError    = regs.STATUS_OTP_PARTITION_ERROR

	// StatusDone gathers the bits reporting the outcome of a transition.
	StatusDone = StatusTransitionSuccessful | StatusTransitionCountError |
		StatusTransitionError | StatusTokenError | StatusFlashRMAError |
		StatusOTPError | StatusStateError
)

// Alert is a fatal alert raised by the controller.
type Alert int

const (
	AlertFatalProgError Alert = iota
	AlertFatalStateError
	AlertFatalBusIntegError
)

func (a Alert) String() string {
	switch a {
	case AlertFatalProgError:
		return "fatal_prog_error"
	case AlertFatalStateError:
		return "fatal_state_error"
	case AlertFatalBusIntegError:
		return "fatal_bus_integ_error"
	}
	return fmt.Sprintf("Alert(%d)", int(a))
}

// slot holds the exclusive transition registers of a requester.
type slot struct {
	token      [regs.NumTokenWords]uint32
	target     uint32
	ctrl       uint32
	vendorTest uint32
}

// Controller is a life-cycle controller.
type Controller struct {
	msg  log.MsgStream
	cfg  Config
	tbls *Tables
	otp  OTP
	hash hasher

	toks     tokens
	rawToken Token // hashed RAW_UNLOCK token
	rawSet   bool

	fsm    FSMState
	gen    uint64 // bumped on reset/escalation to drop in-flight completions
	status uint32
	errs   initError

	owner  Requester
	shot   bool // a transition was started under the current mutex claim
	slots  [3]slot
	regwen bool // CLAIM_TRANSITION_IF_REGWEN

	state      State // life-cycle state, as seen by the rest of the chip
	otpState   State // life-cycle state, as stored in OTP
	count      int
	countValid bool
	id         IDState
	volatile   bool // volatile RAW unlock in effect
	forceRaw   bool

	trans struct {
		target      State
		targetValid bool
		token       Token
		kind        TokenKind
		count       int
	}

	devID [regs.NumDeviceIDWords]uint32
	manuf [regs.NumManufStateWords]uint32

	signals  Signals
	extClock bool

	onSignals  []func(Signals)
	onAlert    []func(Alert)
	onExtClock []func(bool)

	sw   Interface
	jtag Interface
}

// New creates a new life-cycle controller storing its state in otp and
// hashing tokens with eng.
// The controller is created in the RESET state; Init loads the
// life-cycle partition.
func New(cfg Config, otp OTP, eng HashEngine, opts ...Option) (*Controller, error) {
	o := newOptions(opts)

	err := cfg.validate()
	if err != nil {
		return nil, err
	}

	tbls, err := NewTables(cfg.LCState, cfg.LCCount, cfg.Ownership, cfg.SocDbg)
	if err != nil {
		return nil, fmt.Errorf("lcctrl: could not build transition tables: %w", err)
	}

	c := &Controller{
		msg:  o.msg,
		cfg:  cfg,
		tbls: tbls,
		otp:  otp,
		hash: hasher{
			msg: o.msg,
			eng: eng,
			app: cfg.KMACApp,
		},
	}
	c.sw = Interface{c: c, r: RequesterSW}
	c.jtag = Interface{c: c, r: RequesterJTAG}

	if cfg.RawUnlockToken != "" {
		tk, err := ParseToken(cfg.RawUnlockToken)
		if err != nil {
			return nil, fmt.Errorf("lcctrl: could not parse raw unlock token: %w", err)
		}
		c.rawToken = HashToken(tk)
		c.rawSet = true
	}

	err = c.hash.connect()
	if err != nil {
		return nil, fmt.Errorf("lcctrl: could not connect to KMAC: %w", err)
	}

	c.Reset()
	c.msg.Infof(
		"created (creator=0x%04x, product=0x%04x, revision=0x%02x, raw-unlock=%v, volatile=%v)",
		cfg.SiliconCreatorID, cfg.ProductID, cfg.RevisionID, c.rawSet, cfg.VolatileRawUnlock,
	)
	return c, nil
}

// Tables returns the transition value tables of the controller.
func (c *Controller) Tables() *Tables { return c.tbls }

// SW returns the register interface of the software core.
func (c *Controller) SW() *Interface { return &c.sw }

// JTAG returns the register interface of the debug module.
func (c *Controller) JTAG() *Interface { return &c.jtag }

// OnSignals registers fn to be called whenever the broadcast signals change.
func (c *Controller) OnSignals(fn func(Signals)) {
	c.onSignals = append(c.onSignals, fn)
}

// OnAlert registers fn to be called whenever an alert is raised.
func (c *Controller) OnAlert(fn func(Alert)) {
	c.onAlert = append(c.onAlert, fn)
}

// OnExtClock registers fn to be called whenever the external clock
// request changes.
func (c *Controller) OnExtClock(fn func(bool)) {
	c.onExtClock = append(c.onExtClock, fn)
}

// FSM returns the current state of the controller state machine.
func (c *Controller) FSM() FSMState { return c.fsm }

// Owner returns the current owner of the hardware mutex.
func (c *Controller) Owner() Requester { return c.owner }

// Signals returns the current broadcast signals.
func (c *Controller) Signals() Signals { return c.signals }

// ExtClock reports whether the external clock is requested.
func (c *Controller) ExtClock() bool { return c.extClock }

// Status returns the value of the STATUS register.
func (c *Controller) Status() uint32 {
	v := c.status
	if c.fsm == FSMIdle {
		v |= StatusReady
	}
	return v
}

// State returns the life-cycle state reported by the LC_STATE register.
func (c *Controller) State() State {
	switch c.fsm {
	case FSMPostTrans:
		return StatePostTransition
	case FSMEscalate:
		return StateEscalate
	case FSMInvalid:
		return StateInvalid
	case FSMScrap:
		return StateScrap
	}
	return c.state
}

// Count returns the transition count and whether it is valid.
func (c *Controller) Count() (int, bool) { return c.count, c.countValid }

// IDState returns the personalization state of the device.
func (c *Controller) IDState() IDState { return c.id }

// Volatile reports whether a volatile RAW unlock is in effect.
func (c *Controller) Volatile() bool { return c.volatile }

// SetForceRaw drives the SoC debug controller request forcing the RAW
// state. It is sampled by Init.
func (c *Controller) SetForceRaw(v bool) { c.forceRaw = v }

// Reset resets the controller. In-flight OTP and KMAC completions are
// dropped and the controller waits in RESET for Init.
func (c *Controller) Reset() {
	c.gen++
	c.hash.abort()

	c.fsm = FSMReset
	c.status = 0
	c.errs = 0
	c.owner = RequesterNone
	c.shot = false
	c.slots = [3]slot{}
	c.regwen = true
	c.toks.reset()
	c.state = StateInvalid
	c.otpState = StateInvalid
	c.count = 0
	c.countValid = false
	c.id = IDInvalid
	c.volatile = false
	c.trans.target = StateInvalid
	c.trans.targetValid = false
	c.trans.token = Token{}
	c.trans.kind = TokenInvalid
	c.trans.count = 0
	c.devID = [regs.NumDeviceIDWords]uint32{}
	c.manuf = [regs.NumManufStateWords]uint32{}

	c.setExtClock(false)
	c.update()
	c.msg.Debugf("reset")
}

// Init loads the life-cycle partition from OTP and moves the controller
// out of RESET: to IDLE if the partition is consistent, to SCRAP if the
// device is scrapped, to INVALID otherwise.
func (c *Controller) Init() {
	if c.fsm != FSMReset {
		c.msg.Errorf("init request in state %v", c.fsm)
		return
	}

	ini := loadInitialState(c.tbls, c.otp.LCInfo(), c.forceRaw)
	c.msg.Debugf("init: %v (force-raw=%v)", ini, c.forceRaw)

	c.state = ini.state
	c.otpState = ini.state
	c.count = ini.count
	c.countValid = ini.countValid
	c.id = ini.id
	c.errs = ini.errs
	c.toks = ini.tokens
	c.toks.set(TokenZero, HashToken(Token{}))
	if c.rawSet {
		c.toks.set(TokenRawUnlock, c.rawToken)
	}

	if hw, ok := c.otp.(HWConfig); ok {
		c.devID = hw.DeviceID()
		c.manuf = hw.ManufState()
	}

	c.status |= StatusInitialized
	switch {
	case ini.errs != 0:
		if ini.errs&errPartitionInvalid != 0 {
			c.status |= StatusOTPPartitionError
		}
		c.msg.Errorf("invalid life-cycle partition: %v", ini.errs)
		c.status |= StatusStateError
		c.setFSM(FSMInvalid)
		c.alert(AlertFatalStateError)
	case ini.state == StateScrap:
		c.setFSM(FSMScrap)
	default:
		c.setFSM(FSMIdle)
	}
}

// Escalate handles an escalation request from the alert handler.
// The controller moves to the terminal ESCALATE state until reset.
func (c *Controller) Escalate() {
	if c.fsm == FSMEscalate || c.fsm == FSMInvalid {
		return
	}
	c.msg.Warnf("escalation in state %v", c.fsm)
	c.escalate()
}

func (c *Controller) escalate() {
	c.gen++
	c.hash.abort()
	c.setFSM(FSMEscalate)
}

// Claim tries to acquire the hardware mutex on behalf of r.
// Claim succeeds if the mutex is free or already held by r.
func (c *Controller) Claim(r Requester) bool {
	if !r.valid() {
		return false
	}
	switch c.owner {
	case r:
		return true
	case RequesterNone:
		c.owner = r
		c.shot = false
		c.msg.Debugf("mutex claimed by %v", r)
		return true
	}
	c.msg.Debugf("mutex claim by %v rejected (owner=%v)", r, c.owner)
	return false
}

// Release releases the hardware mutex held by r.
// A failed transition leaves POST_TRANS for IDLE once the mutex is
// released; a successful one requires a reset.
func (c *Controller) Release(r Requester) {
	if c.owner != r {
		c.msg.Errorf("guest error: mutex release by %v (owner=%v)", r, c.owner)
		return
	}
	if c.fsm.inTransition() {
		c.msg.Errorf("guest error: mutex release by %v while in %v", r, c.fsm)
		return
	}
	c.owner = RequesterNone
	c.shot = false
	c.msg.Debugf("mutex released by %v", r)

	if c.fsm == FSMPostTrans && c.status&StatusTransitionSuccessful == 0 {
		c.setExtClock(false)
		c.setFSM(FSMIdle)
	}
}

// Start starts a transition with the content of the exclusive registers
// of r. Start is a no-op unless r holds the mutex and the controller
// is IDLE.
func (c *Controller) Start(r Requester) {
	switch {
	case !r.valid():
		return
	case c.owner != r:
		c.msg.Errorf("guest error: transition start by %v while mutex is held by %v", r, c.owner)
		return
	case c.fsm != FSMIdle:
		c.msg.Errorf("guest error: transition start by %v in state %v", r, c.fsm)
		return
	case c.shot:
		c.msg.Errorf("guest error: transition already attempted by %v under this mutex claim", r)
		return
	}

	c.shot = true
	c.status &^= StatusDone | StatusExtClockSwitched

	s := &c.slots[r]
	c.trans.target, c.trans.targetValid = DecodeState(s.target)
	c.trans.targetValid = c.trans.targetValid && c.trans.target.Valid()
	c.trans.token = TokenFromWords(s.token)
	c.trans.kind = TokenInvalid

	c.msg.Debugf("transition %v -> %v requested by %v (ctrl=0x%x)", c.otpState, c.trans.target, r, s.ctrl)

	if s.ctrl&regs.TRANSITION_CTRL_VOLATILE_RAW_UNLOCK != 0 {
		c.volatileUnlock()
		return
	}

	c.setFSM(FSMClkMux)
	if s.ctrl&regs.TRANSITION_CTRL_EXT_CLOCK_EN != 0 {
		c.setExtClock(true)
		c.status |= StatusExtClockSwitched
	}

	c.setFSM(FSMCntIncr)
	if !c.countValid || c.count >= MaxCount {
		c.fail(StatusTransitionCountError)
		return
	}
	c.trans.count = c.count + 1
	if c.trans.targetValid && c.trans.target == StateScrap {
		c.trans.count = MaxCount
	}

	c.setFSM(FSMCntProg)
	gen := c.gen
	ok := c.otp.ProgramReq(
		c.tbls.State(c.otpState), c.tbls.Count(c.trans.count),
		func(ack bool) { c.cntProgDone(gen, ack) },
	)
	if !ok {
		c.msg.Warnf("OTP busy, could not program transition count")
		c.fail(StatusOTPError)
	}
}

func (c *Controller) stale(gen uint64, want FSMState) bool {
	if gen == c.gen && c.fsm == want {
		return false
	}
	if !c.fsm.known() {
		c.msg.Errorf("unknown FSM state %v", c.fsm)
		c.status |= StatusStateError
		c.escalate()
		return true
	}
	c.msg.Debugf("dropping stale completion (state=%v, want=%v)", c.fsm, want)
	return true
}

func (c *Controller) cntProgDone(gen uint64, ack bool) {
	if c.stale(gen, FSMCntProg) {
		return
	}
	if !ack {
		c.fail(StatusOTPError)
		return
	}
	c.count = c.trans.count

	c.setFSM(FSMTransCheck)
	if c.trans.targetValid {
		c.trans.kind = RequiredToken(c.otpState, c.trans.target)
	}
	if c.trans.kind == TokenInvalid {
		c.fail(StatusTransitionError)
		return
	}

	c.setFSM(FSMTokenHash)
	c.hash.request(c.trans.token, func(digest Token) {
		c.tokenHashDone(gen, digest)
	})
}

func (c *Controller) tokenHashDone(gen uint64, digest Token) {
	if c.stale(gen, FSMTokenHash) {
		return
	}

	c.setFSM(FSMTokenCheck)
	if !c.toks.match(c.msg, digest, c.trans.kind) {
		c.fail(StatusTokenError)
		return
	}

	c.setFSM(FSMTransProg)
	ok := c.otp.ProgramReq(
		c.tbls.State(c.trans.target), c.tbls.Count(c.count),
		func(ack bool) { c.transProgDone(gen, ack) },
	)
	if !ok {
		c.msg.Warnf("OTP busy, could not program life-cycle state")
		c.fail(StatusOTPError)
	}
}

func (c *Controller) transProgDone(gen uint64, ack bool) {
	if c.stale(gen, FSMTransProg) {
		return
	}
	if !ack {
		c.fail(StatusOTPError)
		return
	}
	c.msg.Infof("transition %v -> %v successful (count=%d)", c.otpState, c.trans.target, c.count)
	c.otpState = c.trans.target
	c.status |= StatusTransitionSuccessful
	c.setFSM(FSMPostTrans)
}

// volatileUnlock checks the RAW_UNLOCK token synchronously and, on
// success, unlocks TEST_UNLOCKED0 without programming OTP.
func (c *Controller) volatileUnlock() {
	switch {
	case !c.rawSet:
		c.msg.Warnf("volatile raw unlock without raw unlock token")
		c.status |= StatusTransitionError
		return
	case c.state != StateRaw || c.trans.target != StateTestUnlocked0:
		c.msg.Warnf("volatile raw unlock %v -> %v rejected", c.state, c.trans.target)
		c.status |= StatusTransitionError
		return
	}

	if !c.toks.match(c.msg, HashToken(c.trans.token), TokenRawUnlock) {
		c.status |= StatusTokenError
		return
	}

	c.msg.Infof("volatile raw unlock to %v", StateTestUnlocked0)
	c.volatile = true
	c.state = StateTestUnlocked0
	c.status |= StatusTransitionSuccessful
	c.update()
}

func (c *Controller) fail(bit uint32) {
	c.msg.Debugf("transition failed in %v (status=0x%x)", c.fsm, bit)
	c.status |= bit
	if bit == StatusOTPError {
		c.alert(AlertFatalProgError)
	}
	c.setFSM(FSMPostTrans)
}

func (fsm FSMState) known() bool {
	return fsm >= FSMReset && fsm <= FSMInvalid
}

func (c *Controller) setFSM(fsm FSMState) {
	if !fsm.known() {
		c.msg.Errorf("unknown FSM state %v", fsm)
		c.status |= StatusStateError
		fsm = FSMEscalate
	}
	if fsm != c.fsm {
		c.msg.Debugf("fsm: %v -> %v", c.fsm, fsm)
	}
	prev := c.fsm
	c.fsm = fsm
	if fsm == FSMEscalate && prev != FSMEscalate {
		c.alert(AlertFatalStateError)
	}
	c.update()
}

// update recomputes the broadcast signals and notifies the listeners.
func (c *Controller) update() {
	sigs := computeSignals(c.fsm, c.state, c.id)
	if sigs == c.signals {
		return
	}
	c.signals = sigs
	for _, fn := range c.onSignals {
		fn(sigs)
	}
}

func (c *Controller) setExtClock(v bool) {
	if v == c.extClock {
		return
	}
	c.extClock = v
	for _, fn := range c.onExtClock {
		fn(v)
	}
}

func (c *Controller) alert(a Alert) {
	c.msg.Debugf("alert %v", a)
	for _, fn := range c.onAlert {
		fn(a)
	}
}
