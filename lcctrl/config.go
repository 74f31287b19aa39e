// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lcctrl

import (
	"fmt"
	"os"

	"github.com/go-daq/tdaq/log"
)

// Config holds the construction-time configuration of a controller.
type Config struct {
	SiliconCreatorID uint32
	ProductID        uint32
	RevisionID       uint32

	// RawUnlockToken is the unhashed RAW_UNLOCK token, as 32 hex digits.
	// An empty token disables RAW to TEST_UNLOCKED transitions.
	RawUnlockToken string

	// VolatileRawUnlock enables the volatile RAW to TEST_UNLOCKED0
	// unlock, which does not program OTP.
	VolatileRawUnlock bool

	// KMACApp is the KMAC application port used to hash tokens.
	KMACApp int

	LCState   TransValues
	LCCount   TransValues
	Ownership TransValues
	SocDbg    TransValues
}

func (cfg Config) validate() error {
	switch {
	case cfg.SiliconCreatorID == 0 || cfg.SiliconCreatorID >= 0xffff:
		return fmt.Errorf("lcctrl: invalid silicon creator ID 0x%x", cfg.SiliconCreatorID)
	case cfg.ProductID == 0 || cfg.ProductID >= 0xffff:
		return fmt.Errorf("lcctrl: invalid product ID 0x%x", cfg.ProductID)
	case cfg.RevisionID > 0xff:
		return fmt.Errorf("lcctrl: invalid revision ID 0x%x", cfg.RevisionID)
	case cfg.KMACApp < 0:
		return fmt.Errorf("lcctrl: invalid KMAC application index %d", cfg.KMACApp)
	}
	return nil
}

type options struct {
	msg log.MsgStream
}

// Option configures a controller.
type Option func(*options)

// WithLogger sets the message stream of the controller.
func WithLogger(msg log.MsgStream) Option {
	return func(o *options) { o.msg = msg }
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.msg == nil {
		o.msg = log.NewMsgStream("lc_ctrl", log.LvlInfo, os.Stdout)
	}
	return o
}
