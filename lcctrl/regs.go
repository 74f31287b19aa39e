// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lcctrl

import (
	"encoding/binary"
	"fmt"

	"github.com/go-lpc/otdev/internal/regs"
)

// Span is the size in bytes of the register window of the controller.
const Span = regs.SPAN

// Interface is the register window of the controller, as seen from one
// of its bus interfaces.
type Interface struct {
	c *Controller
	r Requester
}

// Requester returns the requester identity of the interface.
func (p *Interface) Requester() Requester { return p.r }

// ReadAt implements io.ReaderAt for 4-byte aligned accesses.
func (p *Interface) ReadAt(b []byte, off int64) (int, error) {
	err := checkAccess(len(b), off)
	if err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint32(b, p.Read(uint32(off)))
	return len(b), nil
}

// WriteAt implements io.WriterAt for 4-byte aligned accesses.
func (p *Interface) WriteAt(b []byte, off int64) (int, error) {
	err := checkAccess(len(b), off)
	if err != nil {
		return 0, err
	}
	p.Write(uint32(off), binary.LittleEndian.Uint32(b))
	return len(b), nil
}

func checkAccess(n int, off int64) error {
	if n != 4 || off%4 != 0 || off < 0 || off >= Span {
		return fmt.Errorf("lcctrl: invalid %d-byte access at 0x%x", n, off)
	}
	return nil
}

// Read reads the register at offset addr.
func (p *Interface) Read(addr uint32) uint32 {
	c := p.c
	owner := c.owner == p.r

	switch {
	case addr >= regs.DEVICE_ID_0 && addr < regs.DEVICE_ID_0+4*regs.NumDeviceIDWords:
		return c.devID[(addr-regs.DEVICE_ID_0)/4]
	case addr >= regs.MANUF_STATE_0 && addr < regs.MANUF_STATE_0+4*regs.NumManufStateWords:
		return c.manuf[(addr-regs.MANUF_STATE_0)/4]
	case addr >= regs.TRANSITION_TOKEN_0 && addr <= regs.TRANSITION_TOKEN_3:
		if !owner {
			return 0
		}
		return c.slots[p.r].token[(addr-regs.TRANSITION_TOKEN_0)/4]
	}

	switch addr {
	case regs.ALERT_TEST:
		return 0
	case regs.STATUS:
		return c.Status()
	case regs.CLAIM_TRANSITION_IF_REGWEN:
		if c.regwen {
			return 1
		}
		return 0
	case regs.CLAIM_TRANSITION_IF:
		if owner {
			return regs.MUBI8_TRUE
		}
		return regs.MUBI8_FALSE
	case regs.TRANSITION_REGWEN:
		if p.transRegwen() {
			return 1
		}
		return 0
	case regs.TRANSITION_CMD:
		return 0
	case regs.TRANSITION_CTRL:
		if !owner {
			return 0
		}
		return c.slots[p.r].ctrl
	case regs.TRANSITION_TARGET:
		if !owner {
			return 0
		}
		return c.slots[p.r].target
	case regs.OTP_VENDOR_TEST_CTRL:
		if !owner {
			return 0
		}
		return c.slots[p.r].vendorTest
	case regs.OTP_VENDOR_TEST_STATUS:
		if !owner {
			return 0
		}
		if vt, ok := c.otp.(VendorTester); ok {
			return vt.VendorTestStatus()
		}
		return 0
	case regs.LC_STATE:
		return c.State().Encode()
	case regs.LC_TRANSITION_CNT:
		cnt, ok := c.Count()
		if !ok || c.fsm == FSMInvalid {
			return invalidCount
		}
		return uint32(cnt)
	case regs.LC_ID_STATE:
		if c.fsm == FSMInvalid {
			return IDInvalid.Encode()
		}
		return c.id.Encode()
	case regs.HW_REVISION0:
		return c.cfg.SiliconCreatorID<<regs.HW_REVISION0_SILICON_CREATOR_ID_SHIFT |
			c.cfg.ProductID&regs.HW_REVISION0_PRODUCT_ID_MASK
	case regs.HW_REVISION1:
		return c.cfg.RevisionID & regs.HW_REVISION1_REVISION_ID_MASK
	}

	c.msg.Errorf("guest error: %v read at invalid offset 0x%x", p.r, addr)
	return 0
}

// Write writes v to the register at offset addr.
func (p *Interface) Write(addr, v uint32) {
	c := p.c

	if addr >= regs.TRANSITION_TOKEN_0 && addr <= regs.TRANSITION_TOKEN_3 {
		if !p.transRegwen() {
			c.msg.Errorf("guest error: %v write to TRANSITION_TOKEN while locked", p.r)
			return
		}
		c.slots[p.r].token[(addr-regs.TRANSITION_TOKEN_0)/4] = v
		return
	}

	switch addr {
	case regs.ALERT_TEST:
		v &= regs.ALERT_MASK
		for i, a := range []Alert{AlertFatalProgError, AlertFatalStateError, AlertFatalBusIntegError} {
			if v&(1<<uint(i)) != 0 {
				c.alert(a)
			}
		}

	case regs.CLAIM_TRANSITION_IF_REGWEN:
		if p.r != RequesterSW {
			c.msg.Errorf("guest error: %v write to CLAIM_TRANSITION_IF_REGWEN", p.r)
			return
		}
		// rw0c: only cleared, by the current owner while IDLE.
		if v&1 == 0 && c.owner == p.r && c.fsm == FSMIdle {
			c.regwen = false
		}

	case regs.CLAIM_TRANSITION_IF:
		if p.r == RequesterSW && !c.regwen {
			c.msg.Errorf("guest error: %v claim while CLAIM_TRANSITION_IF_REGWEN is cleared", p.r)
			return
		}
		if v&0xff == regs.MUBI8_TRUE {
			c.Claim(p.r)
			return
		}
		if c.owner == p.r {
			c.Release(p.r)
		}

	case regs.TRANSITION_CMD:
		if v&regs.TRANSITION_CMD_START == 0 {
			return
		}
		if !p.transRegwen() {
			c.msg.Errorf("guest error: %v write to TRANSITION_CMD while locked", p.r)
			return
		}
		c.Start(p.r)

	case regs.TRANSITION_CTRL:
		if !p.transRegwen() {
			c.msg.Errorf("guest error: %v write to TRANSITION_CTRL while locked", p.r)
			return
		}
		v &= regs.TRANSITION_CTRL_MASK
		if !c.cfg.VolatileRawUnlock {
			v &^= regs.TRANSITION_CTRL_VOLATILE_RAW_UNLOCK
		}
		c.slots[p.r].ctrl = v

	case regs.TRANSITION_TARGET:
		if !p.transRegwen() {
			c.msg.Errorf("guest error: %v write to TRANSITION_TARGET while locked", p.r)
			return
		}
		c.slots[p.r].target = v

	case regs.OTP_VENDOR_TEST_CTRL:
		if !p.transRegwen() {
			c.msg.Errorf("guest error: %v write to OTP_VENDOR_TEST_CTRL while locked", p.r)
			return
		}
		c.slots[p.r].vendorTest = v
		if vt, ok := c.otp.(VendorTester); ok {
			vt.VendorTestCtrl(v)
		}

	case regs.STATUS, regs.TRANSITION_REGWEN, regs.OTP_VENDOR_TEST_STATUS,
		regs.LC_STATE, regs.LC_TRANSITION_CNT, regs.LC_ID_STATE,
		regs.HW_REVISION0, regs.HW_REVISION1:
		c.msg.Errorf("guest error: %v write 0x%x to read-only register 0x%x", p.r, v, addr)

	default:
		if addr >= regs.DEVICE_ID_0 && addr < Span {
			c.msg.Errorf("guest error: %v write 0x%x to read-only register 0x%x", p.r, v, addr)
			return
		}
		c.msg.Errorf("guest error: %v write 0x%x at invalid offset 0x%x", p.r, v, addr)
	}
}

// transRegwen reports whether the transition registers of the
// interface are writable.
func (p *Interface) transRegwen() bool {
	return p.c.owner == p.r && p.c.fsm == FSMIdle
}
