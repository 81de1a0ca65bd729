//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

// Package vmspec holds the declarative description of one virtual machine:
// the JSON configuration document, the typed device model, and the merge of
// a base description with a named boot target.
package vmspec

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"bhyverun/pkg/pci"

	"github.com/containers/common/pkg/strongunits"
	units "github.com/docker/go-units"
	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var validate = validator.New()

// Classification buckets one hypervisor exit.
type Classification string

const (
	PowerOff Classification = "poweroff"
	Reboot   Classification = "reboot"
	Crash    Classification = "crash"
	Unknown  Classification = "unknown"
)

// ExitPlan maps an exit classification to the target booted next. An absent
// entry means the run terminates on that classification.
type ExitPlan map[Classification]string

// UnmarshalJSON accepts either the compact document form, a bare target name
// (meaning "boot this target after a guest reboot"), or the explicit
// classification-to-target object.
func (p *ExitPlan) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, `"`) {
		name, err := strconv.Unquote(text)
		if err != nil {
			return fmt.Errorf("invalid next_target %s: %w", text, err)
		}
		*p = ExitPlan{Reboot: name}
		return nil
	}

	var full map[Classification]string
	if err := json.Unmarshal(data, &full); err != nil {
		return fmt.Errorf("invalid next_target %s: %w", text, err)
	}
	*p = full
	return nil
}

// CPUSpec is the guest CPU topology. The document may give a bare core count,
// which expands to one socket and one core dimension.
type CPUSpec struct {
	Sockets int `json:"sockets"`
	Cores   int `json:"cores"`
	Threads int `json:"threads"`
}

// FromFlat expands a single count the way the legacy syntax does.
func FromFlat(threads int) CPUSpec {
	return CPUSpec{Sockets: 1, Cores: 1, Threads: threads}
}

// FlatCount reports the single-count form when the topology collapses to one.
func (c CPUSpec) FlatCount() (int, bool) {
	if c.Sockets == 1 && c.Cores == 1 {
		return c.Threads, true
	}
	return 0, false
}

func (c *CPUSpec) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if !strings.HasPrefix(text, "{") {
		n, err := strconv.Atoi(text)
		if err != nil {
			return fmt.Errorf("invalid cpu value %s: %w", text, err)
		}
		if n <= 0 {
			return fmt.Errorf("cpu count must be positive, got %d", n)
		}
		*c = FromFlat(n)
		return nil
	}

	type alias CPUSpec
	var full alias
	if err := json.Unmarshal(data, &full); err != nil {
		return err
	}
	if full.Sockets <= 0 || full.Cores <= 0 || full.Threads <= 0 {
		return fmt.Errorf("cpu topology fields must all be positive, got sockets=%d cores=%d threads=%d",
			full.Sockets, full.Cores, full.Threads)
	}
	*c = CPUSpec(full)
	return nil
}

// memPattern is the only string form the document accepts: digits plus one
// binary unit suffix.
var memPattern = regexp.MustCompile(`^[0-9]+[kKmMgGtT]$`)

// MemorySpec is the guest memory size resolved to an absolute byte count.
type MemorySpec struct {
	Bytes strongunits.B
}

func (m *MemorySpec) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, `"`) {
		str, err := strconv.Unquote(text)
		if err != nil {
			return fmt.Errorf("invalid mem value %s: %w", text, err)
		}
		if !memPattern.MatchString(str) {
			return fmt.Errorf("invalid mem value %q: want digits with a k/m/g/t suffix", str)
		}
		n, err := units.RAMInBytes(str)
		if err != nil {
			return fmt.Errorf("invalid mem value %q: %w", str, err)
		}
		m.Bytes = strongunits.B(n)
		return nil
	}

	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid mem value %s: %w", text, err)
	}
	m.Bytes = strongunits.B(n)
	return nil
}

func (m MemorySpec) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatUint(uint64(m.Bytes), 10)), nil
}

// VMSpec is the full description of one boot attempt. A freshly decoded spec
// is the base configuration; Resolve produces the per-run copy with a target
// merged in.
type VMSpec struct {
	Name string `json:"name" validate:"required"`

	CPU CPUSpec    `json:"cpu"`
	Mem MemorySpec `json:"mem"`

	Bootrom string `json:"bootrom,omitempty"`
	Varfile string `json:"varfile,omitempty"`

	// Console back-ends for the four legacy com ports, each either "stdio"
	// or a host device path. Com1 is the primary console.
	Com1 string `json:"com1,omitempty"`
	Com2 string `json:"com2,omitempty"`
	Com3 string `json:"com3,omitempty"`
	Com4 string `json:"com4,omitempty"`

	UUID string `json:"uuid,omitempty"`
	GDB  string `json:"gdb,omitempty"`

	UTCClock          bool `json:"utc_clock"`
	YieldOnHLT        bool `json:"yield_on_hlt"`
	GenerateACPI      bool `json:"generate_acpi"`
	WireGuestMem      bool `json:"wire_guest_mem"`
	ForceMSI          bool `json:"force_msi"`
	DisableMPTableGen bool `json:"disable_mptable_gen"`
	DestroyOnPowerOff bool `json:"power_off_destroy_vm"`

	ExtraOptions string `json:"extra_options,omitempty"`

	Emulations []Emulation `json:"emulations"`

	Targets map[string]TargetSpec `json:"targets,omitempty"`
	OnExit  ExitPlan              `json:"next_target,omitempty"`
}

func (s *VMSpec) UnmarshalJSON(data []byte) error {
	type alias VMSpec
	full := alias{
		UTCClock:     true,
		YieldOnHLT:   true,
		GenerateACPI: true,
	}
	if err := json.Unmarshal(data, &full); err != nil {
		return err
	}
	*s = VMSpec(full)
	return nil
}

// Validate checks the decoded document: top-level required fields, then each
// device's kind-specific parameter table.
func (s *VMSpec) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if s.CPU.Threads <= 0 {
		return fmt.Errorf("invalid configuration: cpu is required")
	}
	if s.Mem.Bytes == 0 {
		return fmt.Errorf("invalid configuration: mem is required")
	}
	for i, e := range s.Emulations {
		if e.Device == nil {
			return &MissingParameterError{Device: e.label(i), Field: "device"}
		}
		if err := e.Device.validate(e.label(i)); err != nil {
			return err
		}
	}
	for name, t := range s.Targets {
		for i, e := range t.Emulations {
			if e.Device == nil {
				return &MissingParameterError{Device: fmt.Sprintf("targets[%s].%s", name, e.label(i)), Field: "device"}
			}
			if err := e.Device.validate(fmt.Sprintf("targets[%s].%s", name, e.label(i))); err != nil {
				return err
			}
		}
	}
	return nil
}

// Decode reads and validates one configuration document.
func Decode(r io.Reader) (*VMSpec, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	var spec VMSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Load decodes the configuration document at path.
func Load(path string) (*VMSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open configuration: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Clone deep-copies the spec so a resolved run never aliases the stored base.
func (s *VMSpec) Clone() (*VMSpec, error) {
	buf, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("clone configuration: %w", err)
	}
	var c VMSpec
	if err := json.Unmarshal(buf, &c); err != nil {
		return nil, fmt.Errorf("clone configuration: %w", err)
	}
	return &c, nil
}

// AllocateSlots fills in a concrete PCI address for every emulation that
// lacks one. Explicit slots are preserved; duplicates among them fail.
func (s *VMSpec) AllocateSlots() error {
	bindings := make([]pci.Binding, len(s.Emulations))
	for i, e := range s.Emulations {
		bindings[i] = pci.Binding{Label: e.label(i), Slot: e.Slot}
	}
	resolved, err := pci.Assign(bindings)
	if err != nil {
		return err
	}
	for i := range s.Emulations {
		slot := resolved[i]
		s.Emulations[i].Slot = &slot
	}
	return nil
}
