//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

// Package bhyve lowers a fully resolved vmspec into the legacy hypervisor
// command line. The lowering is pure: no filesystem or process I/O happens
// here, so a generated argument list can be diffed against a literal in
// tests.
package bhyve

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"bhyverun/pkg/vmspec"

	"github.com/google/uuid"
)

// DefaultBinary is the hypervisor executable looked up on PATH when neither
// the --bhyve flag nor BHYVE_EXEC is given.
const DefaultBinary = "bhyve"

// Binary resolves the hypervisor executable to invoke.
func Binary(override string) string {
	if override != "" {
		return override
	}
	if env := os.Getenv("BHYVE_EXEC"); env != "" {
		return env
	}
	return DefaultBinary
}

// UnsupportedDeviceError reports a device kind the legacy syntax cannot
// express.
type UnsupportedDeviceError struct {
	Kind string
}

func (e *UnsupportedDeviceError) Error() string {
	return fmt.Sprintf("device kind %q cannot be lowered to the legacy syntax", e.Kind)
}

// InvalidParameterError reports a device parameter that cannot be lowered.
type InvalidParameterError struct {
	Device string
	Field  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("%s: invalid %s: %s", e.Device, e.Field, e.Reason)
}

// Args lowers the resolved spec into the ordered legacy argument list. Every
// emulation must carry an allocated slot; device order is preserved.
func Args(spec *vmspec.VMSpec) ([]string, error) {
	argv := make([]string, 0, 16+2*len(spec.Emulations))

	pushIf := func(cond bool, flag string) {
		if cond {
			argv = append(argv, flag)
		}
	}
	pushIf(spec.GenerateACPI, "-A")
	pushIf(spec.WireGuestMem, "-S")
	pushIf(spec.YieldOnHLT, "-H")
	pushIf(spec.ForceMSI, "-W")
	pushIf(spec.DisableMPTableGen, "-Y")
	pushIf(spec.UTCClock, "-u")
	pushIf(spec.DestroyOnPowerOff, "-D")

	argv = append(argv, "-c", cpuArg(spec.CPU))
	argv = append(argv, "-m", memArg(uint64(spec.Mem.Bytes)))

	if spec.GDB != "" {
		argv = append(argv, "-G", spec.GDB)
	}
	if spec.UUID != "" {
		if _, err := uuid.Parse(spec.UUID); err != nil {
			return nil, &InvalidParameterError{Device: "vm", Field: "uuid", Reason: err.Error()}
		}
		argv = append(argv, "-U", spec.UUID)
	}

	for i, e := range spec.Emulations {
		token, err := deviceToken(i, e)
		if err != nil {
			return nil, err
		}
		argv = append(argv, "-s", token)
	}

	for _, lpc := range lpcLines(spec) {
		argv = append(argv, "-l", lpc)
	}

	for _, opt := range strings.Fields(spec.ExtraOptions) {
		argv = append(argv, opt)
	}

	argv = append(argv, spec.Name)
	return argv, nil
}

// cpuArg renders the topology: the single-count form when the topology
// collapses to one socket and core dimension, the triple otherwise.
func cpuArg(c vmspec.CPUSpec) string {
	if n, flat := c.FlatCount(); flat {
		return strconv.Itoa(n)
	}
	return fmt.Sprintf("sockets=%d,cores=%d,threads=%d", c.Sockets, c.Cores, c.Threads)
}

// memArg renders the byte count with the largest binary suffix that divides
// it evenly, falling back to the raw byte count.
func memArg(b uint64) string {
	suffixes := []struct {
		unit string
		size uint64
	}{
		{"T", 1 << 40},
		{"G", 1 << 30},
		{"M", 1 << 20},
		{"K", 1 << 10},
	}
	for _, s := range suffixes {
		if b >= s.size && b%s.size == 0 {
			return strconv.FormatUint(b/s.size, 10) + s.unit
		}
	}
	return strconv.FormatUint(b, 10)
}

// lpcLines collects the -l payloads: the boot ROM and the com ports.
func lpcLines(spec *vmspec.VMSpec) []string {
	var lines []string
	if spec.Bootrom != "" {
		if spec.Varfile != "" {
			lines = append(lines, fmt.Sprintf("bootrom,%s,%s", spec.Bootrom, spec.Varfile))
		} else {
			lines = append(lines, "bootrom,"+spec.Bootrom)
		}
	}
	for i, com := range []string{spec.Com1, spec.Com2, spec.Com3, spec.Com4} {
		if com != "" {
			lines = append(lines, fmt.Sprintf("com%d,%s", i+1, com))
		}
	}
	return lines
}
