// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package otp models the life-cycle and hardware configuration
// partitions of the OpenTitan OTP controller.
//
// Programming follows one-time-programmable semantics: bits can be set,
// never cleared. A device can be backed by a file, in which case every
// programmed value is written through to disk.
package otp // import "github.com/go-lpc/otdev/otp"

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/otdev/internal/crc16"
	"github.com/go-lpc/otdev/internal/mmap"
	"github.com/go-lpc/otdev/lcctrl"
	"github.com/go-lpc/otdev/vclock"
)

// image layout
const (
	offState       = 0
	offCount       = offState + 2*lcctrl.StateWords
	offTokens      = offCount + 2*lcctrl.CountWords
	offTokenValid  = offTokens + 16*int(lcctrl.NumOTPTokens)
	offSecretValid = offTokenValid + 1
	offCorrupted   = offSecretValid + 1
	offVendorTest  = offCorrupted + 1
	offFormat      = offVendorTest + 1
	offDigest      = offFormat + 1 // CRC-16 of the life-cycle partition
	offDeviceID    = offTokens + 16*int(lcctrl.NumOTPTokens) + 8
	offManufState  = offDeviceID + 4*8
	imageSize      = offManufState + 4*8

	formatMarker = 0xa5

	mubi8True  = 0x96
	mubi8False = 0x69
)

// Size is the size in bytes of an OTP image file.
const Size = imageSize

// Device is an OTP controller model.
type Device struct {
	clk *vclock.Clock
	msg log.MsgStream
	lat time.Duration

	img []byte
	h   *mmap.Handle // nil for in-memory devices

	blank  bool // formatted at creation
	sealed bool // life-cycle partition matches its digest
	busy   bool
	fault  bool
	gen    uint64 // bumped on reset to drop pending programs
	vendor uint32
}

// Option configures a Device.
type Option func(*Device)

// WithLatency sets the delay between a program request and its
// acknowledgment.
func WithLatency(d time.Duration) Option {
	return func(dev *Device) { dev.lat = d }
}

// WithLogger sets the message stream of the device.
func WithLogger(msg log.MsgStream) Option {
	return func(dev *Device) { dev.msg = msg }
}

// New creates a blank, in-memory OTP device scheduling its
// acknowledgments on clk.
func New(clk *vclock.Clock, opts ...Option) *Device {
	dev := newDevice(clk, opts)
	dev.format()
	return dev
}

// Open creates an OTP device backed by the named image file.
// A missing or blank image is formatted as a blank device.
func Open(clk *vclock.Clock, fname string, opts ...Option) (*Device, error) {
	h, err := mmap.Open(fname, imageSize)
	if err != nil {
		return nil, fmt.Errorf("otp: could not open image: %w", err)
	}

	dev := newDevice(clk, opts)
	dev.h = h
	_, err = h.ReadAt(dev.img, 0)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("otp: could not read image %q: %w", fname, err)
	}

	switch {
	case dev.img[offFormat] != formatMarker:
		dev.msg.Infof("formatting blank image %q", fname)
		dev.format()
		err = dev.flush()
		if err != nil {
			_ = h.Close()
			return nil, err
		}
	default:
		dev.sealed = dev.digest() == binary.LittleEndian.Uint16(dev.img[offDigest:])
		if !dev.sealed {
			dev.msg.Errorf("life-cycle partition of image %q does not match its digest", fname)
		}
	}
	return dev, nil
}

func newDevice(clk *vclock.Clock, opts []Option) *Device {
	dev := &Device{
		clk: clk,
		lat: 50 * time.Microsecond,
		img: make([]byte, imageSize),
	}
	for _, opt := range opts {
		opt(dev)
	}
	if dev.msg == nil {
		dev.msg = log.NewMsgStream("otp", log.LvlInfo, os.Stdout)
	}
	return dev
}

func (dev *Device) format() {
	for i := range dev.img {
		dev.img[i] = 0
	}
	dev.img[offSecretValid] = mubi8False
	dev.img[offFormat] = formatMarker
	dev.blank = true
	dev.seal()
}

// digest returns the CRC-16 of the life-cycle partition.
func (dev *Device) digest() uint16 {
	return crc16.Checksum(dev.img[:offDigest])
}

func (dev *Device) seal() {
	binary.LittleEndian.PutUint16(dev.img[offDigest:], dev.digest())
	dev.sealed = true
}

// flush seals the life-cycle partition and writes the image through to
// the backing file, if any.
func (dev *Device) flush() error {
	dev.seal()
	if dev.h == nil {
		return nil
	}
	_, err := dev.h.WriteAt(dev.img, 0)
	if err != nil {
		return fmt.Errorf("otp: could not write image: %w", err)
	}
	err = dev.h.Sync()
	if err != nil {
		return fmt.Errorf("otp: could not sync image: %w", err)
	}
	return nil
}

// Close releases the backing file of the device.
func (dev *Device) Close() error {
	if dev.h == nil {
		return nil
	}
	err := dev.h.Close()
	dev.h = nil
	if err != nil {
		return fmt.Errorf("otp: could not close image: %w", err)
	}
	return nil
}

// Reset aborts a pending program request; its acknowledgment never fires.
func (dev *Device) Reset() {
	dev.gen++
	dev.busy = false
	dev.fault = false
}

// Blank reports whether the device image was formatted when the device
// was created.
func (dev *Device) Blank() bool { return dev.blank }

// Busy reports whether a program request is pending.
func (dev *Device) Busy() bool { return dev.busy }

// InjectFault makes the next program request fail.
func (dev *Device) InjectFault() { dev.fault = true }

// LCInfo returns the content of the life-cycle partition.
func (dev *Device) LCInfo() lcctrl.OTPInfo {
	info := lcctrl.OTPInfo{
		State:       dev.state(),
		Count:       dev.count(),
		Valid:       dev.sealed && dev.img[offCorrupted] == 0,
		SecretValid: dev.img[offSecretValid],
		TokenValid:  dev.img[offTokenValid],

		VendorTestUnknown: dev.img[offVendorTest] != 0,
	}
	for i := range info.Tokens {
		off := offTokens + 16*i
		info.Tokens[i] = lcctrl.Token{
			Lo: binary.LittleEndian.Uint64(dev.img[off:]),
			Hi: binary.LittleEndian.Uint64(dev.img[off+8:]),
		}
	}
	return info
}

func (dev *Device) state() lcctrl.EncodedState {
	var enc lcctrl.EncodedState
	for i := range enc {
		enc[i] = binary.LittleEndian.Uint16(dev.img[offState+2*i:])
	}
	return enc
}

func (dev *Device) count() lcctrl.EncodedCount {
	var enc lcctrl.EncodedCount
	for i := range enc {
		enc[i] = binary.LittleEndian.Uint16(dev.img[offCount+2*i:])
	}
	return enc
}

func (dev *Device) setState(enc lcctrl.EncodedState) {
	for i, v := range enc {
		binary.LittleEndian.PutUint16(dev.img[offState+2*i:], v)
	}
}

func (dev *Device) setCount(enc lcctrl.EncodedCount) {
	for i, v := range enc {
		binary.LittleEndian.PutUint16(dev.img[offCount+2*i:], v)
	}
}

// ProgramReq requests the life-cycle partition to be programmed with
// state and count. ProgramReq returns false if a request is pending.
// A request clearing any programmed bit is rejected and leaves the
// partition untouched.
func (dev *Device) ProgramReq(state lcctrl.EncodedState, count lcctrl.EncodedCount, ack func(ok bool)) bool {
	if dev.busy {
		dev.msg.Warnf("program request while busy")
		return false
	}
	dev.busy = true
	gen := dev.gen
	dev.clk.Schedule(dev.lat, func() {
		if gen != dev.gen {
			return
		}
		dev.busy = false
		ack(dev.program(state, count))
	})
	return true
}

func (dev *Device) program(state lcctrl.EncodedState, count lcctrl.EncodedCount) bool {
	if dev.fault {
		dev.fault = false
		dev.msg.Warnf("program request failed (injected fault)")
		return false
	}

	var (
		curState = dev.state()
		curCount = dev.count()
	)
	for i := range state {
		if curState[i]&^state[i] != 0 {
			dev.msg.Errorf("program request clears state word %d (0x%04x -> 0x%04x)", i, curState[i], state[i])
			return false
		}
	}
	for i := range count {
		if curCount[i]&^count[i] != 0 {
			dev.msg.Errorf("program request clears count word %d (0x%04x -> 0x%04x)", i, curCount[i], count[i])
			return false
		}
	}

	prev := make([]byte, len(dev.img))
	copy(prev, dev.img)

	dev.setState(state)
	dev.setCount(count)
	err := dev.flush()
	if err != nil {
		dev.msg.Errorf("could not persist program request: %+v", err)
		copy(dev.img, prev)
		return false
	}
	return true
}

// Provision writes the life-cycle state and transition count, bypassing
// the programming interface.
func (dev *Device) Provision(tbls *lcctrl.Tables, st lcctrl.State, cnt int) error {
	if !st.Valid() {
		return fmt.Errorf("otp: invalid life-cycle state %v", st)
	}
	if cnt < 0 || cnt > lcctrl.MaxCount {
		return fmt.Errorf("otp: invalid transition count %d", cnt)
	}
	dev.setState(tbls.State(st))
	dev.setCount(tbls.Count(cnt))
	return dev.flush()
}

// SetToken stores the hashed token of the provided kind and marks it valid.
func (dev *Device) SetToken(kind lcctrl.OTPToken, hashed lcctrl.Token) error {
	if kind < 0 || kind >= lcctrl.NumOTPTokens {
		return fmt.Errorf("otp: invalid token index %d", int(kind))
	}
	off := offTokens + 16*int(kind)
	binary.LittleEndian.PutUint64(dev.img[off:], hashed.Lo)
	binary.LittleEndian.PutUint64(dev.img[off+8:], hashed.Hi)
	dev.img[offTokenValid] |= 1 << uint(kind)
	return dev.flush()
}

// SetSecretValid sets whether the secret partition holding the RMA
// token is locked.
func (dev *Device) SetSecretValid(v bool) error {
	dev.img[offSecretValid] = mubi8False
	if v {
		dev.img[offSecretValid] = mubi8True
	}
	return dev.flush()
}

// SetPartitionValid sets the integrity status of the life-cycle partition.
func (dev *Device) SetPartitionValid(v bool) error {
	dev.img[offCorrupted] = 1
	if v {
		dev.img[offCorrupted] = 0
	}
	return dev.flush()
}

// SetVendorTestValid sets whether the vendor test partition is in a
// known state.
func (dev *Device) SetVendorTestValid(v bool) error {
	dev.img[offVendorTest] = 1
	if v {
		dev.img[offVendorTest] = 0
	}
	return dev.flush()
}

// SetDeviceID stores the device identifier.
func (dev *Device) SetDeviceID(id [8]uint32) error {
	for i, v := range id {
		binary.LittleEndian.PutUint32(dev.img[offDeviceID+4*i:], v)
	}
	return dev.flush()
}

// SetManufState stores the manufacturing state.
func (dev *Device) SetManufState(st [8]uint32) error {
	for i, v := range st {
		binary.LittleEndian.PutUint32(dev.img[offManufState+4*i:], v)
	}
	return dev.flush()
}

// DeviceID returns the device identifier.
func (dev *Device) DeviceID() [8]uint32 {
	var id [8]uint32
	for i := range id {
		id[i] = binary.LittleEndian.Uint32(dev.img[offDeviceID+4*i:])
	}
	return id
}

// ManufState returns the manufacturing state.
func (dev *Device) ManufState() [8]uint32 {
	var st [8]uint32
	for i := range st {
		st[i] = binary.LittleEndian.Uint32(dev.img[offManufState+4*i:])
	}
	return st
}

// VendorTestCtrl drives the vendor test control word.
func (dev *Device) VendorTestCtrl(v uint32) {
	dev.msg.Debugf("vendor test control: 0x%08x", v)
	dev.vendor = v
}

// VendorTestStatus returns the vendor test status word: the last
// control word, with bit 31 set while a program request is pending.
func (dev *Device) VendorTestStatus() uint32 {
	v := dev.vendor &^ (1 << 31)
	if dev.busy {
		v |= 1 << 31
	}
	return v
}

var (
	_ lcctrl.OTP          = (*Device)(nil)
	_ lcctrl.HWConfig     = (*Device)(nil)
	_ lcctrl.VendorTester = (*Device)(nil)
)
