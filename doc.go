// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package otdev holds device models of the OpenTitan life-cycle
// subsystem: the life-cycle controller, its OTP backend and the KMAC
// engine hashing its tokens.
package otdev // import "github.com/go-lpc/otdev"

import (
	"fmt"
	"runtime/debug"
)

const modulePath = "github.com/go-lpc/otdev"

// Version returns the module version of otdev and its checksum, as
// recorded in the build information of the running binary.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	mods := append([]*debug.Module{&b.Main}, b.Deps...)
	for _, m := range mods {
		if m == nil || m.Path != modulePath {
			continue
		}
		if r := m.Replace; r != nil {
			switch {
			case r.Path != "" && r.Version != "":
				return fmt.Sprintf("%s %s", r.Path, r.Version), r.Sum
			case r.Version != "":
				return r.Version, r.Sum
			case r.Path != "":
				return r.Path, r.Sum
			}
			return m.Version + "*", ""
		}
		return m.Version, m.Sum
	}
	return "", ""
}
