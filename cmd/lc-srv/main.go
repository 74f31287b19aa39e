// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command lc-srv starts a TDAQ server exposing a life-cycle controller
// machine.
//
// Usage:
//
//	$> lc-srv -id lc-srv -rc-addr :44000 ./earlgrey.yaml
//
// The /config command reloads the machine configuration and, when its
// body carries a target state and a token, sets the transition requested
// by /start.
// Every change of the broadcast signals is published on /lc-signals.
package main // import "github.com/go-lpc/otdev/cmd/lc-srv"

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/otdev/earlgrey"
	"github.com/go-lpc/otdev/lcctrl"
	"github.com/go-lpc/otdev/lcdrv"
)

func main() {
	cmd := flags.New()

	fname := ""
	if len(cmd.Args) > 0 {
		fname = cmd.Args[0]
	}
	dev := newServer(fname)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/lc-signals", dev.signals)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type server struct {
	fname string
	tick  time.Duration

	mu  sync.Mutex
	cfg earlgrey.Config
	m   *earlgrey.Machine
	req *lcdrv.Request

	data chan []byte
}

func newServer(fname string) *server {
	return &server{
		fname: fname,
		tick:  10 * time.Millisecond,
		cfg:   earlgrey.DefaultConfig(),
		data:  make(chan []byte, 1024),
	}
}

func (dev *server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	cfg := earlgrey.DefaultConfig()
	if dev.fname != "" {
		var err error
		cfg, err = earlgrey.LoadConfig(dev.fname)
		if err != nil {
			ctx.Msg.Errorf("could not load configuration: %+v", err)
			return err
		}
	}
	err := earlgrey.Validate(cfg)
	if err != nil {
		ctx.Msg.Errorf("invalid configuration: %+v", err)
		return err
	}

	var treq *lcdrv.Request
	if len(req.Body) > 0 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		target := dec.ReadStr()
		token := dec.ReadStr()
		st, err := lcctrl.ParseState(target)
		if err != nil {
			return fmt.Errorf("could not parse transition target: %w", err)
		}
		tk, err := lcctrl.ParseToken(token)
		if err != nil {
			return fmt.Errorf("could not parse transition token: %w", err)
		}
		treq = &lcdrv.Request{Target: st, Token: tk}
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.cfg = cfg
	dev.req = treq
	return nil
}

func (dev *server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.m != nil {
		_ = dev.m.Close()
		dev.m = nil
	}

	m, err := earlgrey.New(dev.cfg, earlgrey.WithOutput(os.Stdout))
	if err != nil {
		ctx.Msg.Errorf("could not create machine: %+v", err)
		return fmt.Errorf("could not create machine: %w", err)
	}
	m.LC.OnSignals(func(sigs lcctrl.Signals) {
		dev.publish(m.LC, sigs)
	})
	dev.m = m
	dev.publish(m.LC, m.LC.Signals())

	ctx.Msg.Infof("machine initialized: state=%v", m.LC.State())
	return nil
}

func (dev *server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.m == nil {
		return fmt.Errorf("machine not initialized")
	}
	dev.m.Reset()
	dev.m.RunUntilIdle()
	return nil
}

func (dev *server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.m == nil {
		return fmt.Errorf("machine not initialized")
	}
	if dev.req == nil {
		return nil
	}

	drv := lcdrv.New(dev.m.JTAG())
	err := drv.Claim()
	if err != nil {
		return fmt.Errorf("could not claim transition interface: %w", err)
	}
	err = drv.Transition(*dev.req)
	if err != nil {
		return fmt.Errorf("could not start transition: %w", err)
	}
	ctx.Msg.Infof("transition to %v started", dev.req.Target)
	return nil
}

func (dev *server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.m == nil {
		ctx.Msg.Debugf("received /stop command...")
		return nil
	}

	st := dev.m.LC.Status()
	ctx.Msg.Debugf("received /stop command... -> state=%v status=0x%03x", dev.m.LC.State(), st)
	if st&lcctrl.StatusDone != 0 {
		err := lcdrv.StatusError(st)
		if err != nil {
			ctx.Msg.Warnf("transition failed: %+v", err)
		}
	}
	return nil
}

func (dev *server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")

	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.m == nil {
		return nil
	}
	err := dev.m.Close()
	dev.m = nil
	return err
}

// publish queues a /lc-signals frame with the broadcast signals, the
// LC_STATE value and the STATUS value of the controller.
func (dev *server) publish(lc *lcctrl.Controller, sigs lcctrl.Signals) {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU32(uint32(sigs))
	enc.WriteU32(lc.State().Encode())
	enc.WriteU32(lc.Status())
	select {
	case dev.data <- buf.Bytes():
	default:
	}
}

func (dev *server) signals(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-dev.data:
		dst.Body = data
	}
	return nil
}

// step runs the pending events of the machine.
func (dev *server) step() int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.m == nil {
		return 0
	}
	return dev.m.RunUntilIdle()
}

func (dev *server) run(ctx tdaq.Context) error {
	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		default:
			if n := dev.step(); n > 0 {
				ctx.Msg.Debugf("ran %d events", n)
			}
		}
		time.Sleep(dev.tick)
	}
}
