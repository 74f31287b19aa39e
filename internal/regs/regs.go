// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs holds the register map of the life-cycle controller.
package regs // import "github.com/go-lpc/otdev/internal/regs"

// register offsets

const (
	ALERT_TEST                 = 0x00 // (W)
	STATUS                     = 0x04 // (R)
	CLAIM_TRANSITION_IF_REGWEN = 0x08 // (RW0C)
	CLAIM_TRANSITION_IF        = 0x0c // MuBi8 (RW)
	TRANSITION_REGWEN          = 0x10 // (R)
	TRANSITION_CMD             = 0x14 // (W1)
	TRANSITION_CTRL            = 0x18 // (RW)
	TRANSITION_TOKEN_0         = 0x1c // (RW)
	TRANSITION_TOKEN_1         = 0x20 // (RW)
	TRANSITION_TOKEN_2         = 0x24 // (RW)
	TRANSITION_TOKEN_3         = 0x28 // (RW)
	TRANSITION_TARGET          = 0x2c // (RW)
	OTP_VENDOR_TEST_CTRL       = 0x30 // (RW)
	OTP_VENDOR_TEST_STATUS     = 0x34 // (R)
	LC_STATE                   = 0x38 // (R)
	LC_TRANSITION_CNT          = 0x3c // (R)
	LC_ID_STATE                = 0x40 // (R)
	HW_REVISION0               = 0x44 // (R)
	HW_REVISION1               = 0x48 // (R)
	DEVICE_ID_0                = 0x4c // (R) 8 words
	MANUF_STATE_0              = 0x6c // (R) 8 words

	NumDeviceIDWords   = 8
	NumManufStateWords = 8
	NumTokenWords      = 4

	SPAN = MANUF_STATE_0 + 4*NumManufStateWords
)

// ALERT_TEST bits

const (
	ALERT_FATAL_PROG_ERROR      = 1 << 0
	ALERT_FATAL_STATE_ERROR     = 1 << 1
	ALERT_FATAL_BUS_INTEG_ERROR = 1 << 2

	ALERT_MASK = 0x7
)

// STATUS bits

const (
	STATUS_INITIALIZED            = 1 << 0
	STATUS_READY                  = 1 << 1
	STATUS_EXT_CLOCK_SWITCHED     = 1 << 2
	STATUS_TRANSITION_SUCCESSFUL  = 1 << 3
	STATUS_TRANSITION_COUNT_ERROR = 1 << 4
	STATUS_TRANSITION_ERROR       = 1 << 5
	STATUS_TOKEN_ERROR            = 1 << 6
	STATUS_FLASH_RMA_ERROR        = 1 << 7
	STATUS_OTP_ERROR              = 1 << 8
	STATUS_STATE_ERROR            = 1 << 9
	STATUS_BUS_INTEG_ERROR        = 1 << 10
	STATUS_OTP_PARTITION_ERROR    = 1 << 11
)

// TRANSITION_CMD / TRANSITION_CTRL bits

const (
	TRANSITION_CMD_START = 1 << 0

	TRANSITION_CTRL_EXT_CLOCK_EN        = 1 << 0
	TRANSITION_CTRL_VOLATILE_RAW_UNLOCK = 1 << 1
	TRANSITION_CTRL_MASK                = 0x3
)

// HW_REVISION fields

const (
	HW_REVISION0_PRODUCT_ID_MASK          = 0xffff
	HW_REVISION0_SILICON_CREATOR_ID_SHIFT = 16
	HW_REVISION1_REVISION_ID_MASK         = 0xff
)

// multi-bit booleans

const (
	MUBI8_TRUE  = 0x96
	MUBI8_FALSE = 0x69
)
