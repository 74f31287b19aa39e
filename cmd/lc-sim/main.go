// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command lc-sim runs a life-cycle transition on a set of independent
// machines.
//
// Usage:
//
//	$> lc-sim -cfg ./earlgrey.yaml -n 4 -target TEST_UNLOCKED0 -token ea2b3f32bd7f1c2b4cd8cb5e25e0c4e5
package main // import "github.com/go-lpc/otdev/cmd/lc-sim"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/otdev"
	"github.com/go-lpc/otdev/earlgrey"
	"github.com/go-lpc/otdev/lcctrl"
	"github.com/go-lpc/otdev/lcdrv"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		fname    = flag.String("cfg", "", "path to YAML machine configuration")
		n        = flag.Int("n", 1, "number of machines")
		target   = flag.String("target", "TEST_UNLOCKED0", "target life-cycle state")
		token    = flag.String("token", "", "unlock token (32 hex digits)")
		jtag     = flag.Bool("jtag", false, "drive the transition through the JTAG interface")
		volatile = flag.Bool("volatile", false, "request a volatile RAW unlock")
		extClk   = flag.Bool("ext-clock", false, "switch to the external clock during the transition")
		max      = flag.Int("max-events", 1000, "maximum number of events per transition")
		verbose  = flag.Bool("v", false, "enable verbose mode")
		version  = flag.Bool("version", false, "print version and exit")
	)

	flag.Parse()

	log.SetPrefix("lc-sim: ")
	log.SetFlags(0)

	if *version {
		v, sum := otdev.Version()
		fmt.Printf("lc-sim %s %s\n", v, sum)
		return
	}

	cfg := earlgrey.DefaultConfig()
	if *fname != "" {
		var err error
		cfg, err = earlgrey.LoadConfig(*fname)
		if err != nil {
			log.Fatalf("could not load configuration: %+v", err)
		}
	}
	err := earlgrey.Validate(cfg)
	if err != nil {
		log.Fatalf("invalid configuration: %+v", err)
	}

	req, err := newRequest(*target, *token, *volatile, *extClk)
	if err != nil {
		log.Fatalf("invalid transition request: %+v", err)
	}

	msg := io.Discard
	if *verbose {
		msg = os.Stderr
	}

	err = run(os.Stdout, msg, cfg, *n, req, *jtag, *max)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func newRequest(target, token string, volatile, extClk bool) (lcdrv.Request, error) {
	st, err := lcctrl.ParseState(target)
	if err != nil {
		return lcdrv.Request{}, err
	}
	req := lcdrv.Request{
		Target:   st,
		Volatile: volatile,
		ExtClock: extClk,
	}
	if token != "" {
		req.Token, err = lcctrl.ParseToken(token)
		if err != nil {
			return lcdrv.Request{}, err
		}
	}
	return req, nil
}

type result struct {
	from   lcctrl.State
	to     lcctrl.State
	count  int
	status uint32
	err    error
}

func run(w, msg io.Writer, cfg earlgrey.Config, n int, req lcdrv.Request, jtag bool, max int) error {
	if n <= 0 {
		return fmt.Errorf("invalid number of machines %d", n)
	}

	var (
		grp  errgroup.Group
		rs   = make([]result, n)
		base = cfg.OTP.Image
	)
	for i := 0; i < n; i++ {
		i := i
		cfg := cfg
		if base != "" && n > 1 {
			cfg.OTP.Image = fmt.Sprintf("%s.%02d", base, i)
		}
		grp.Go(func() error {
			var err error
			rs[i], err = simulate(msg, fmt.Sprintf("m%02d", i), cfg, req, jtag, max)
			if err != nil {
				return fmt.Errorf("machine %02d: %w", i, err)
			}
			return nil
		})
	}

	err := grp.Wait()
	if err != nil {
		return fmt.Errorf("could not run simulation: %w", err)
	}

	nfail := 0
	for i, r := range rs {
		status := "ok"
		if r.err != nil {
			status = r.err.Error()
			nfail++
		}
		fmt.Fprintf(w, "machine %02d: %v -> %v (count=%d, status=0x%03x): %s\n",
			i, r.from, r.to, r.count, r.status, status,
		)
	}
	if nfail != 0 {
		return fmt.Errorf("%d/%d transitions failed", nfail, n)
	}
	return nil
}

func simulate(msg io.Writer, name string, cfg earlgrey.Config, req lcdrv.Request, jtag bool, max int) (result, error) {
	var r result

	m, err := earlgrey.New(cfg, earlgrey.WithOutput(msg), earlgrey.WithName(name))
	if err != nil {
		return r, err
	}
	defer m.Close()

	bus := m.SW()
	if jtag {
		bus = m.JTAG()
	}
	drv := lcdrv.New(bus)

	r.from, err = drv.State()
	if err != nil {
		return r, err
	}

	err = drv.Claim()
	if err != nil {
		return r, fmt.Errorf("could not claim transition interface: %w", err)
	}
	err = drv.Transition(req)
	if err != nil {
		return r, err
	}
	r.status, r.err = drv.Wait(m.Step, max)
	if r.err == lcdrv.ErrTimeout {
		return r, r.err
	}

	// volatile unlocks do not survive a reset.
	if !req.Volatile {
		m.Reset()
		m.RunUntilIdle()
	}

	r.to, err = drv.State()
	if err != nil {
		return r, err
	}
	r.count, err = drv.Count()
	if err != nil {
		return r, err
	}

	return r, m.Close()
}
