// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command lc-shell is an interactive shell driving the register
// windows of a life-cycle controller.
//
// Usage:
//
//	$> lc-shell -cfg ./earlgrey.yaml
//	lc> w jtag CLAIM_TRANSITION_IF 0x96
//	lc> r jtag STATUS
//	lc> state
package main // import "github.com/go-lpc/otdev/cmd/lc-shell"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-lpc/otdev/earlgrey"
	"github.com/go-lpc/otdev/internal/regs"
	"github.com/go-lpc/otdev/lcctrl"
	"github.com/peterh/liner"
)

func main() {
	var (
		fname = flag.String("cfg", "", "path to YAML machine configuration")
		hist  = flag.String("history", filepath.Join(os.TempDir(), ".lc-shell.history"), "path to history file")
	)

	flag.Parse()

	log.SetPrefix("lc-shell: ")
	log.SetFlags(0)

	cfg := earlgrey.DefaultConfig()
	if *fname != "" {
		var err error
		cfg, err = earlgrey.LoadConfig(*fname)
		if err != nil {
			log.Fatalf("could not load configuration: %+v", err)
		}
	}

	m, err := earlgrey.New(cfg, earlgrey.WithOutput(os.Stderr))
	if err != nil {
		log.Fatalf("could not create machine: %+v", err)
	}
	defer m.Close()

	err = run(newShell(m, os.Stdout), *hist)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(sh *shell, hist string) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(sh.complete)

	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			log.Printf("could not save history: %+v", err)
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("lc> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		quit, err := sh.exec(line)
		if err != nil {
			fmt.Fprintf(sh.w, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

var regNames = map[string]uint32{
	"ALERT_TEST":                 regs.ALERT_TEST,
	"STATUS":                     regs.STATUS,
	"CLAIM_TRANSITION_IF_REGWEN": regs.CLAIM_TRANSITION_IF_REGWEN,
	"CLAIM_TRANSITION_IF":        regs.CLAIM_TRANSITION_IF,
	"TRANSITION_REGWEN":          regs.TRANSITION_REGWEN,
	"TRANSITION_CMD":             regs.TRANSITION_CMD,
	"TRANSITION_CTRL":            regs.TRANSITION_CTRL,
	"TRANSITION_TOKEN_0":         regs.TRANSITION_TOKEN_0,
	"TRANSITION_TOKEN_1":         regs.TRANSITION_TOKEN_1,
	"TRANSITION_TOKEN_2":         regs.TRANSITION_TOKEN_2,
	"TRANSITION_TOKEN_3":         regs.TRANSITION_TOKEN_3,
	"TRANSITION_TARGET":          regs.TRANSITION_TARGET,
	"OTP_VENDOR_TEST_CTRL":       regs.OTP_VENDOR_TEST_CTRL,
	"OTP_VENDOR_TEST_STATUS":     regs.OTP_VENDOR_TEST_STATUS,
	"LC_STATE":                   regs.LC_STATE,
	"LC_TRANSITION_CNT":          regs.LC_TRANSITION_CNT,
	"LC_ID_STATE":                regs.LC_ID_STATE,
	"HW_REVISION0":               regs.HW_REVISION0,
	"HW_REVISION1":               regs.HW_REVISION1,
	"DEVICE_ID_0":                regs.DEVICE_ID_0,
	"MANUF_STATE_0":              regs.MANUF_STATE_0,
}

var cmdNames = []string{
	"r", "w", "step", "run", "reset", "esc", "fault", "state", "help", "quit",
}

type shell struct {
	m *earlgrey.Machine
	w io.Writer
}

func newShell(m *earlgrey.Machine, w io.Writer) *shell {
	return &shell{m: m, w: w}
}

func (sh *shell) exec(line string) (quit bool, err error) {
	args := strings.Fields(line)
	switch cmd := args[0]; cmd {
	case "r", "read":
		if len(args) != 3 {
			return false, fmt.Errorf("usage: r <sw|jtag> <offset>")
		}
		p, err := sh.bus(args[1])
		if err != nil {
			return false, err
		}
		off, err := parseOffset(args[2])
		if err != nil {
			return false, err
		}
		fmt.Fprintf(sh.w, "0x%02x: 0x%08x\n", off, p.Read(off))

	case "w", "write":
		if len(args) != 4 {
			return false, fmt.Errorf("usage: w <sw|jtag> <offset> <value>")
		}
		p, err := sh.bus(args[1])
		if err != nil {
			return false, err
		}
		off, err := parseOffset(args[2])
		if err != nil {
			return false, err
		}
		v, err := strconv.ParseUint(args[3], 0, 32)
		if err != nil {
			return false, fmt.Errorf("could not parse value %q: %w", args[3], err)
		}
		p.Write(off, uint32(v))

	case "step":
		ok := sh.m.Step()
		fmt.Fprintf(sh.w, "t=%v event=%v pending=%d\n", sh.m.Clock.Now(), ok, sh.m.Clock.Pending())

	case "run":
		n := sh.m.RunUntilIdle()
		fmt.Fprintf(sh.w, "t=%v events=%d\n", sh.m.Clock.Now(), n)

	case "reset":
		sh.m.Reset()
		sh.m.RunUntilIdle()

	case "esc", "escalate":
		sh.m.LC.Escalate()

	case "fault":
		sh.m.OTP.InjectFault()

	case "state":
		sh.state()

	case "help":
		fmt.Fprintf(sh.w, "commands: %s\n", strings.Join(cmdNames, ", "))
		names := make([]string, 0, len(regNames))
		for name := range regNames {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(sh.w, "registers: %s\n", strings.Join(names, ", "))

	case "quit", "exit":
		return true, nil

	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}
	return false, nil
}

func (sh *shell) bus(name string) (*lcctrl.Interface, error) {
	switch strings.ToLower(name) {
	case "sw":
		return sh.m.SW(), nil
	case "jtag":
		return sh.m.JTAG(), nil
	}
	return nil, fmt.Errorf("unknown interface %q", name)
}

func (sh *shell) state() {
	lc := sh.m.LC
	cnt, ok := lc.Count()
	fmt.Fprintf(sh.w, "fsm:      %v\n", lc.FSM())
	fmt.Fprintf(sh.w, "state:    %v\n", lc.State())
	fmt.Fprintf(sh.w, "count:    %d (valid=%v)\n", cnt, ok)
	fmt.Fprintf(sh.w, "id:       %v\n", lc.IDState())
	fmt.Fprintf(sh.w, "status:   0x%03x\n", lc.Status())
	fmt.Fprintf(sh.w, "owner:    %v\n", lc.Owner())
	fmt.Fprintf(sh.w, "volatile: %v\n", lc.Volatile())
	fmt.Fprintf(sh.w, "ext-clk:  %v\n", lc.ExtClock())
	fmt.Fprintf(sh.w, "signals:  %v\n", lc.Signals())
	fmt.Fprintf(sh.w, "time:     %v (pending=%d)\n", sh.m.Clock.Now(), sh.m.Clock.Pending())
}

func (sh *shell) complete(line string) []string {
	args := strings.Fields(line)
	switch {
	case len(args) == 0:
		return cmdNames
	case len(args) == 1 && !strings.HasSuffix(line, " "):
		var o []string
		for _, name := range cmdNames {
			if strings.HasPrefix(name, args[0]) {
				o = append(o, name)
			}
		}
		return o
	case len(args) >= 2 && (args[0] == "r" || args[0] == "w"):
		if len(args) == 2 && strings.HasSuffix(line, " ") || len(args) == 3 && !strings.HasSuffix(line, " ") {
			prefix := ""
			if len(args) == 3 {
				prefix = strings.ToUpper(args[2])
			}
			head := strings.Join(args[:2], " ") + " "
			var o []string
			for name := range regNames {
				if strings.HasPrefix(name, prefix) {
					o = append(o, head+name)
				}
			}
			sort.Strings(o)
			return o
		}
	}
	return nil
}

// parseOffset parses a register offset, given as a number or as a
// register name.
func parseOffset(s string) (uint32, error) {
	if off, ok := regNames[strings.ToUpper(s)]; ok {
		return off, nil
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("could not parse register offset %q: %w", s, err)
	}
	return uint32(v), nil
}
