// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lcctrl

import "github.com/go-lpc/otdev/kmac"

// OTPInfo is the life-cycle information reported by the OTP backend.
type OTPInfo struct {
	State EncodedState
	Count EncodedCount

	Valid       bool  // integrity of the life-cycle partition
	SecretValid uint8 // MuBi8: the secret partition holding the RMA token is locked

	VendorTestUnknown bool // vendor test partition in an unrecognized state

	Tokens     [NumOTPTokens]Token // hashed tokens
	TokenValid uint8               // bitmap indexed by OTPToken
}

// OTP is the storage backend holding the life-cycle partition.
type OTP interface {
	// LCInfo returns the current content of the life-cycle partition.
	LCInfo() OTPInfo

	// ProgramReq requests the life-cycle partition to be durably
	// programmed with state and count.
	// ProgramReq returns false if the backend is busy, in which case ack
	// is never called. Otherwise ack is called exactly once, later,
	// with the outcome of the programming.
	ProgramReq(state EncodedState, count EncodedCount, ack func(ok bool)) bool
}

// HWConfig is implemented by OTP backends exposing the hardware
// configuration partition.
type HWConfig interface {
	DeviceID() [8]uint32
	ManufState() [8]uint32
}

// VendorTester is implemented by OTP backends with a vendor test interface.
type VendorTester interface {
	VendorTestCtrl(v uint32)
	VendorTestStatus() uint32
}

// HashEngine is the KMAC application interface used to hash tokens.
type HashEngine interface {
	Connect(app int, cfg kmac.AppConfig, fn func(kmac.Response)) error
	Request(app int, req kmac.Request)

	// Abort drops the partially absorbed message of app along with
	// its in-flight response.
	Abort(app int)
}

var (
	_ HashEngine = (*kmac.Engine)(nil)
)
