// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lcctrl

import (
	"fmt"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/otdev/kmac"
)

type hashStep int

const (
	hashIdle hashStep = iota
	hashFirstSent
	hashSecondSent
)

func (s hashStep) String() string {
	switch s {
	case hashIdle:
		return "idle"
	case hashFirstSent:
		return "first-sent"
	case hashSecondSent:
		return "second-sent"
	}
	return fmt.Sprintf("hashStep(%d)", int(s))
}

// hasher drives the hashing of a token through the KMAC application
// interface, one 64-bit half at a time.
type hasher struct {
	msg  log.MsgStream
	eng  HashEngine
	app  int
	step hashStep
	hi   [8]byte
	done func(digest Token)
}

func (h *hasher) connect() error {
	return h.eng.Connect(h.app, kmac.AppConfig{
		Mode:          kmac.CShake128,
		Customization: TokenCustomization,
	}, h.handle)
}

// request starts hashing tk. done is called with the digest once the
// engine returned the final response.
func (h *hasher) request(tk Token, done func(digest Token)) {
	if h.step != hashIdle {
		panic(fmt.Errorf("lcctrl: hash request while previous request is %v", h.step))
	}
	lo, hi := tk.halves()
	h.hi = hi
	h.done = done
	h.step = hashFirstSent
	h.eng.Request(h.app, kmac.Request{Data: lo})
}

func (h *hasher) handle(rsp kmac.Response) {
	switch h.step {
	case hashFirstSent:
		if rsp.Done {
			h.msg.Errorf("unexpected final hash response for first token half")
			return
		}
		h.step = hashSecondSent
		h.eng.Request(h.app, kmac.Request{Data: h.hi, Last: true})

	case hashSecondSent:
		if !rsp.Done {
			h.msg.Errorf("unexpected intermediate hash response for last token half")
			return
		}
		d := rsp.Digest()
		done := h.done
		h.reset()
		done(Token{Lo: d[0], Hi: d[1]})

	default:
		h.msg.Debugf("dropping hash response (state=%v)", h.step)
	}
}

func (h *hasher) busy() bool { return h.step != hashIdle }

// abort cancels the hashing in progress, if any.
func (h *hasher) abort() {
	if h.step != hashIdle {
		h.eng.Abort(h.app)
	}
	h.reset()
}

func (h *hasher) reset() {
	h.step = hashIdle
	h.hi = [8]byte{}
	h.done = nil
}
