// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kmac models the application interface of the OpenTitan KMAC
// hashing engine.
//
// Applications connect to a numbered port, push 64-bit message chunks
// and receive a masked digest, split into two shares, once the last
// chunk has been absorbed.
package kmac // import "github.com/go-lpc/otdev/kmac"

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/otdev/vclock"
	"golang.org/x/crypto/sha3"
)

// DigestWords is the number of 64-bit words in each digest share.
const DigestWords = 2

// Mode is a hashing mode of the engine.
type Mode int

const (
	CShake128 Mode = iota + 1
)

func (m Mode) String() string {
	switch m {
	case CShake128:
		return "cSHAKE128"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// AppConfig configures an application port.
type AppConfig struct {
	Mode          Mode
	Customization string // cSHAKE customization string (S)
}

// Request is a message chunk pushed by an application.
type Request struct {
	Data [8]byte
	Last bool
}

// Response is delivered to an application once a chunk is absorbed.
// Intermediate responses have Done unset and carry no digest.
type Response struct {
	Done   bool
	Share0 [DigestWords]uint64
	Share1 [DigestWords]uint64
}

// Digest returns the unmasked digest.
func (rsp Response) Digest() [DigestWords]uint64 {
	var d [DigestWords]uint64
	for i := range d {
		d[i] = rsp.Share0[i] ^ rsp.Share1[i]
	}
	return d
}

type app struct {
	cfg  AppConfig
	fn   func(Response)
	buf  []byte
	busy bool
	gen  uint64 // bumped on abort to drop the in-flight response
}

// Engine is a KMAC engine model.
type Engine struct {
	clk  *vclock.Clock
	msg  log.MsgStream
	lat  time.Duration
	seed int64
	rnd  *rand.Rand
	apps map[int]*app
	gen  uint64 // bumped on reset to drop in-flight responses
}

// Option configures an Engine.
type Option func(*Engine)

// WithLatency sets the delay between a request and its response.
func WithLatency(d time.Duration) Option {
	return func(e *Engine) { e.lat = d }
}

// WithSeed seeds the generator of the digest masks.
func WithSeed(seed int64) Option {
	return func(e *Engine) { e.seed = seed }
}

// WithLogger sets the message stream of the engine.
func WithLogger(msg log.MsgStream) Option {
	return func(e *Engine) { e.msg = msg }
}

// New creates a new KMAC engine scheduling its responses on clk.
func New(clk *vclock.Clock, opts ...Option) *Engine {
	e := &Engine{
		clk:  clk,
		lat:  2 * time.Microsecond,
		seed: 1234,
		apps: make(map[int]*app),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.msg == nil {
		e.msg = log.NewMsgStream("kmac", log.LvlInfo, os.Stdout)
	}
	e.rnd = rand.New(rand.NewSource(e.seed))
	return e
}

// Connect registers fn as the response handler of application port id.
func (e *Engine) Connect(id int, cfg AppConfig, fn func(Response)) error {
	if _, dup := e.apps[id]; dup {
		return fmt.Errorf("kmac: app %d already connected", id)
	}
	switch cfg.Mode {
	case CShake128:
	default:
		return fmt.Errorf("kmac: app %d: unsupported mode %v", id, cfg.Mode)
	}
	if fn == nil {
		return fmt.Errorf("kmac: app %d: nil response handler", id)
	}
	e.apps[id] = &app{cfg: cfg, fn: fn}
	e.msg.Debugf("app %d connected (mode=%v, customization=%q)", id, cfg.Mode, cfg.Customization)
	return nil
}

// Request pushes a message chunk on application port id.
// The response is delivered asynchronously through the handler
// registered with Connect.
func (e *Engine) Request(id int, req Request) {
	a, ok := e.apps[id]
	if !ok {
		e.msg.Errorf("request on unconnected app %d", id)
		return
	}
	if a.busy {
		e.msg.Errorf("app %d: request while previous chunk is in flight", id)
		return
	}
	a.busy = true
	a.buf = append(a.buf, req.Data[:]...)

	var rsp Response
	if req.Last {
		d := Sum(a.cfg.Customization, a.buf)
		a.buf = a.buf[:0]
		rsp.Done = true
		for i := range d {
			rsp.Share0[i] = e.rnd.Uint64()
			rsp.Share1[i] = d[i] ^ rsp.Share0[i]
		}
	}

	gen, agen := e.gen, a.gen
	e.clk.Schedule(e.lat, func() {
		if gen != e.gen || agen != a.gen {
			return
		}
		a.busy = false
		a.fn(rsp)
	})
}

// Abort drops the partially absorbed message and the in-flight response
// of application port id.
func (e *Engine) Abort(id int) {
	a, ok := e.apps[id]
	if !ok {
		return
	}
	a.gen++
	a.buf = a.buf[:0]
	a.busy = false
}

// Reset drops all partially absorbed messages and in-flight responses.
// Application ports stay connected.
func (e *Engine) Reset() {
	e.gen++
	for _, a := range e.apps {
		a.buf = a.buf[:0]
		a.busy = false
	}
	e.rnd = rand.New(rand.NewSource(e.seed))
}

// Sum returns the first 128 bits of cSHAKE128(msg, N="", S=custom), as
// two little-endian 64-bit words.
func Sum(custom string, msg []byte) [DigestWords]uint64 {
	var (
		h   = sha3.NewCShake128(nil, []byte(custom))
		out [8 * DigestWords]byte
		d   [DigestWords]uint64
	)
	_, _ = h.Write(msg)
	_, _ = h.Read(out[:])
	for i := range d {
		d[i] = binary.LittleEndian.Uint64(out[8*i:])
	}
	return d
}
