// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package earlgrey

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/otdev/lcctrl"
	"gopkg.in/yaml.v3"
)

// Config is the configuration of a machine.
type Config struct {
	LogLevel string     `yaml:"log_level"` // debug, info, warning or error
	LC       LCConfig   `yaml:"lc_ctrl"`
	OTP      OTPConfig  `yaml:"otp"`
	KMAC     KMACConfig `yaml:"kmac"`
}

// ---- LC_CTRL ----

type LCConfig struct {
	SiliconCreatorID  uint32 `yaml:"silicon_creator_id"`
	ProductID         uint32 `yaml:"product_id"`
	RevisionID        uint32 `yaml:"revision_id"`
	RawUnlockToken    string `yaml:"raw_unlock_token"` // unhashed, 32 hex digits
	VolatileRawUnlock bool   `yaml:"volatile_raw_unlock"`
	KMACApp           int    `yaml:"kmac_app"`

	TransValues TransConfig `yaml:"trans_values"`
}

type TransConfig struct {
	LCState   Values `yaml:"lc_state"`
	LCCount   Values `yaml:"lc_tcount"`
	Ownership Values `yaml:"ownership"`
	SocDbg    Values `yaml:"socdbg"`
}

type Values struct {
	First string `yaml:"first"`
	Last  string `yaml:"last"`
}

func (v Values) trans() lcctrl.TransValues {
	return lcctrl.TransValues{First: v.First, Last: v.Last}
}

func (cfg LCConfig) lcctrl() lcctrl.Config {
	return lcctrl.Config{
		SiliconCreatorID:  cfg.SiliconCreatorID,
		ProductID:         cfg.ProductID,
		RevisionID:        cfg.RevisionID,
		RawUnlockToken:    cfg.RawUnlockToken,
		VolatileRawUnlock: cfg.VolatileRawUnlock,
		KMACApp:           cfg.KMACApp,
		LCState:           cfg.TransValues.LCState.trans(),
		LCCount:           cfg.TransValues.LCCount.trans(),
		Ownership:         cfg.TransValues.Ownership.trans(),
		SocDbg:            cfg.TransValues.SocDbg.trans(),
	}
}

// ---- OTP ----

type OTPConfig struct {
	Image   string        `yaml:"image"` // backing file; in-memory when empty
	Latency time.Duration `yaml:"latency"`

	// Provision is applied to blank images only.
	Provision *ProvisionConfig `yaml:"provision"`
}

type ProvisionConfig struct {
	State        string       `yaml:"state"`
	Count        int          `yaml:"count"`
	Tokens       TokensConfig `yaml:"tokens"`
	Personalized bool         `yaml:"personalized"`
	Corrupted    bool         `yaml:"corrupted"`
	DeviceID     []uint32     `yaml:"device_id"`
	ManufState   []uint32     `yaml:"manuf_state"`
}

// TokensConfig holds unhashed tokens, as 32 hex digits.
// Empty tokens are left unprovisioned.
type TokensConfig struct {
	TestUnlock string `yaml:"test_unlock"`
	TestExit   string `yaml:"test_exit"`
	RMA        string `yaml:"rma"`
}

type otpToken struct {
	name string
	kind lcctrl.OTPToken
	hex  string
}

func (cfg TokensConfig) list() []otpToken {
	return []otpToken{
		{"test_unlock", lcctrl.OTPTokenTestUnlock, cfg.TestUnlock},
		{"test_exit", lcctrl.OTPTokenTestExit, cfg.TestExit},
		{"rma", lcctrl.OTPTokenRMA, cfg.RMA},
	}
}

// ---- KMAC ----

type KMACConfig struct {
	Latency time.Duration `yaml:"latency"`
	Seed    int64         `yaml:"seed"`
}

// LoadConfig reads the YAML configuration file fname.
// Fields missing from the file keep the value of DefaultConfig.
func LoadConfig(fname string) (Config, error) {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return Config{}, fmt.Errorf("earlgrey: could not read config file: %w", err)
	}

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	err = dec.Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("earlgrey: could not decode config file %q: %w", fname, err)
	}
	return cfg, nil
}

// Validate checks the configuration.
// It does not modify the configuration.
func Validate(cfg Config) error {
	_, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	if cfg.LC.RawUnlockToken != "" {
		_, err = lcctrl.ParseToken(cfg.LC.RawUnlockToken)
		if err != nil {
			return fmt.Errorf("earlgrey: invalid raw_unlock_token: %w", err)
		}
	}
	tv := cfg.LC.TransValues
	_, err = lcctrl.NewTables(tv.LCState.trans(), tv.LCCount.trans(), tv.Ownership.trans(), tv.SocDbg.trans())
	if err != nil {
		return fmt.Errorf("earlgrey: invalid transition values: %w", err)
	}
	if cfg.OTP.Latency < 0 {
		return fmt.Errorf("earlgrey: invalid OTP latency %v", cfg.OTP.Latency)
	}
	if cfg.KMAC.Latency < 0 {
		return fmt.Errorf("earlgrey: invalid KMAC latency %v", cfg.KMAC.Latency)
	}

	p := cfg.OTP.Provision
	if p == nil {
		return nil
	}
	st, err := lcctrl.ParseState(p.State)
	if err != nil {
		return fmt.Errorf("earlgrey: invalid provisioning state: %w", err)
	}
	if !st.Valid() {
		return fmt.Errorf("earlgrey: invalid provisioning state %v", st)
	}
	if p.Count < 0 || p.Count > lcctrl.MaxCount {
		return fmt.Errorf("earlgrey: invalid provisioning count %d", p.Count)
	}
	for _, tk := range p.Tokens.list() {
		if tk.hex == "" {
			continue
		}
		_, err = lcctrl.ParseToken(tk.hex)
		if err != nil {
			return fmt.Errorf("earlgrey: invalid %s token: %w", tk.name, err)
		}
	}
	if n := len(p.DeviceID); n > 8 {
		return fmt.Errorf("earlgrey: invalid device_id length %d (max 8)", n)
	}
	if n := len(p.ManufState); n > 8 {
		return fmt.Errorf("earlgrey: invalid manuf_state length %d (max 8)", n)
	}
	return nil
}

// DefaultConfig returns a configuration with OpenTitan-like identifiers,
// a deterministic set of transition values and a blank in-memory OTP.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		LC: LCConfig{
			SiliconCreatorID:  0x4001,
			ProductID:         0x0002,
			RevisionID:        0x01,
			RawUnlockToken:    "ea2b3f32bd7f1c2b4cd8cb5e25e0c4e5",
			VolatileRawUnlock: true,
			KMACApp:           1,
			TransValues: TransConfig{
				LCState:   defaultValues(lcctrl.FamilyLCState, 1),
				LCCount:   defaultValues(lcctrl.FamilyLCCount, 2),
				Ownership: defaultValues(lcctrl.FamilyOwnership, 3),
				SocDbg:    defaultValues(lcctrl.FamilySocDbg, 4),
			},
		},
		OTP: OTPConfig{
			Latency: 50 * time.Microsecond,
		},
		KMAC: KMACConfig{
			Latency: 2 * time.Microsecond,
			Seed:    1234,
		},
	}
}

// defaultValues generates the transition values of a family.
// Each first word has bit 15 cleared and each last word has it set, so
// that all the values of a family are distinct.
func defaultValues(f lcctrl.Family, seed int64) Values {
	var (
		rnd   = rand.New(rand.NewSource(seed))
		n     = f.Words()
		first = make([]uint16, n)
		last  = make([]uint16, n)
	)
	for i := range first {
		first[i] = uint16(rnd.Intn(0x8000)) | 0x1
		last[i] = first[i] | uint16(rnd.Intn(0x10000)) | 0x8000
	}
	return Values{First: hexWords(first), Last: hexWords(last)}
}

// hexWords formats words most significant first.
func hexWords(ws []uint16) string {
	var o strings.Builder
	for i := len(ws) - 1; i >= 0; i-- {
		fmt.Fprintf(&o, "%04x", ws[i])
	}
	return o.String()
}

func parseLevel(s string) (log.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return log.LvlDebug, nil
	case "", "info":
		return log.LvlInfo, nil
	case "warn", "warning":
		return log.LvlWarning, nil
	case "error":
		return log.LvlError, nil
	}
	return log.LvlInfo, fmt.Errorf("earlgrey: invalid log level %q", s)
}
