// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package earlgrey assembles a life-cycle controller, its OTP backend
// and its KMAC hashing engine on a shared virtual clock.
package earlgrey // import "github.com/go-lpc/otdev/earlgrey"

import (
	"fmt"
	"io"
	"os"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/otdev/kmac"
	"github.com/go-lpc/otdev/lcctrl"
	"github.com/go-lpc/otdev/otp"
	"github.com/go-lpc/otdev/vclock"
)

// Machine is a life-cycle controller together with its backends.
type Machine struct {
	Clock *vclock.Clock
	OTP   *otp.Device
	KMAC  *kmac.Engine
	LC    *lcctrl.Controller

	msg log.MsgStream
}

type options struct {
	w    io.Writer
	name string
}

// Option configures a machine.
type Option func(*options)

// WithOutput sets the writer of all the message streams of the machine.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.w = w }
}

// WithName sets the prefix of the message streams of the machine.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// New creates a machine from the provided configuration.
// The machine is reset and initialized before New returns.
func New(cfg Config, opts ...Option) (*Machine, error) {
	o := options{w: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	err := Validate(cfg)
	if err != nil {
		return nil, err
	}
	lvl, _ := parseLevel(cfg.LogLevel)

	stream := func(name string) log.MsgStream {
		if o.name != "" {
			name = o.name + "/" + name
		}
		return log.NewMsgStream(name, lvl, o.w)
	}

	m := &Machine{
		Clock: vclock.New(),
		msg:   stream("earlgrey"),
	}

	m.KMAC = kmac.New(
		m.Clock,
		kmac.WithLatency(cfg.KMAC.Latency),
		kmac.WithSeed(cfg.KMAC.Seed),
		kmac.WithLogger(stream("kmac")),
	)

	otpOpts := []otp.Option{
		otp.WithLatency(cfg.OTP.Latency),
		otp.WithLogger(stream("otp")),
	}
	switch cfg.OTP.Image {
	case "":
		m.OTP = otp.New(m.Clock, otpOpts...)
	default:
		m.OTP, err = otp.Open(m.Clock, cfg.OTP.Image, otpOpts...)
		if err != nil {
			return nil, fmt.Errorf("earlgrey: could not open OTP image: %w", err)
		}
	}
	defer func() {
		if err != nil {
			_ = m.OTP.Close()
		}
	}()

	m.LC, err = lcctrl.New(cfg.LC.lcctrl(), m.OTP, m.KMAC, lcctrl.WithLogger(stream("lc_ctrl")))
	if err != nil {
		return nil, fmt.Errorf("earlgrey: could not create life-cycle controller: %w", err)
	}

	if p := cfg.OTP.Provision; p != nil && m.OTP.Blank() {
		err = provision(m.OTP, m.LC.Tables(), *p)
		if err != nil {
			return nil, fmt.Errorf("earlgrey: could not provision OTP: %w", err)
		}
		m.msg.Infof("provisioned OTP (state=%s, count=%d)", p.State, p.Count)
	}

	m.Reset()
	m.RunUntilIdle()

	return m, nil
}

func provision(dev *otp.Device, tbls *lcctrl.Tables, p ProvisionConfig) error {
	st, err := lcctrl.ParseState(p.State)
	if err != nil {
		return err
	}
	err = dev.Provision(tbls, st, p.Count)
	if err != nil {
		return err
	}

	for _, tk := range p.Tokens.list() {
		if tk.hex == "" {
			continue
		}
		v, err := lcctrl.ParseToken(tk.hex)
		if err != nil {
			return fmt.Errorf("could not parse %s token: %w", tk.name, err)
		}
		err = dev.SetToken(tk.kind, lcctrl.HashToken(v))
		if err != nil {
			return fmt.Errorf("could not store %s token: %w", tk.name, err)
		}
	}

	err = dev.SetSecretValid(p.Personalized)
	if err != nil {
		return err
	}
	err = dev.SetPartitionValid(!p.Corrupted)
	if err != nil {
		return err
	}

	var id, manuf [8]uint32
	copy(id[:], p.DeviceID)
	copy(manuf[:], p.ManufState)
	err = dev.SetDeviceID(id)
	if err != nil {
		return err
	}
	return dev.SetManufState(manuf)
}

// Reset resets the machine.
// Pending hash and OTP operations are dropped and the controller is
// moved to RESET; the controller initialization runs as the next event
// of the clock.
func (m *Machine) Reset() {
	m.KMAC.Reset()
	m.OTP.Reset()
	m.LC.Reset()
	m.Clock.Schedule(0, m.LC.Init)
	m.msg.Debugf("reset")
}

// Step runs the next pending event and reports whether there was one.
func (m *Machine) Step() bool { return m.Clock.Step() }

// RunUntilIdle runs all the pending events and returns their number.
func (m *Machine) RunUntilIdle() int { return m.Clock.RunUntilIdle() }

// SW returns the software register window of the controller.
func (m *Machine) SW() *lcctrl.Interface { return m.LC.SW() }

// JTAG returns the JTAG register window of the controller.
func (m *Machine) JTAG() *lcctrl.Interface { return m.LC.JTAG() }

// Close releases the OTP image of the machine.
func (m *Machine) Close() error {
	err := m.OTP.Close()
	if err != nil {
		return fmt.Errorf("earlgrey: could not close machine: %w", err)
	}
	return nil
}
