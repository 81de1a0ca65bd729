//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

package vmspec

// DefaultTarget is the implicit boot target. Unless the configuration
// defines a target of this name, it denotes the unmodified base spec.
const DefaultTarget = "default"

// TargetSpec is a named override fragment layered over the base spec for one
// run. Absent fields leave the base value untouched.
type TargetSpec struct {
	CPU *CPUSpec    `json:"cpu,omitempty"`
	Mem *MemorySpec `json:"mem,omitempty"`

	Bootrom *string `json:"bootrom,omitempty"`
	Varfile *string `json:"varfile,omitempty"`

	Com1 *string `json:"com1,omitempty"`
	Com2 *string `json:"com2,omitempty"`
	Com3 *string `json:"com3,omitempty"`
	Com4 *string `json:"com4,omitempty"`

	UUID *string `json:"uuid,omitempty"`
	GDB  *string `json:"gdb,omitempty"`

	UTCClock          *bool `json:"utc_clock,omitempty"`
	YieldOnHLT        *bool `json:"yield_on_hlt,omitempty"`
	GenerateACPI      *bool `json:"generate_acpi,omitempty"`
	WireGuestMem      *bool `json:"wire_guest_mem,omitempty"`
	ForceMSI          *bool `json:"force_msi,omitempty"`
	DisableMPTableGen *bool `json:"disable_mptable_gen,omitempty"`
	DestroyOnPowerOff *bool `json:"power_off_destroy_vm,omitempty"`

	ExtraOptions *string `json:"extra_options,omitempty"`

	Emulations []Emulation `json:"emulations,omitempty"`

	OnExit ExitPlan `json:"next_target,omitempty"`
}

// Resolve produces the spec for one run: a deep copy of the base with the
// selected target merged in. An empty selection returns the copy unchanged.
// Selecting "default" when no such target exists also returns the base copy;
// the root configuration is the default target unless one is defined
// explicitly. Any other unknown name fails.
//
// Resolve is pure: it never mutates the receiver, and repeated calls with
// the same selection yield equal results.
func (s *VMSpec) Resolve(selected string) (*VMSpec, error) {
	resolved, err := s.Clone()
	if err != nil {
		return nil, err
	}
	if selected == "" {
		return resolved, nil
	}

	target, ok := resolved.Targets[selected]
	if !ok {
		if selected == DefaultTarget {
			return resolved, nil
		}
		return nil, &UnknownTargetError{Name: selected}
	}

	resolved.apply(&target)
	return resolved, nil
}

// HasTarget reports whether the configuration defines the named target.
func (s *VMSpec) HasTarget(name string) bool {
	_, ok := s.Targets[name]
	return ok
}

func (s *VMSpec) apply(t *TargetSpec) {
	if t.CPU != nil {
		s.CPU = *t.CPU
	}
	if t.Mem != nil {
		s.Mem = *t.Mem
	}
	if t.Bootrom != nil {
		s.Bootrom = *t.Bootrom
	}
	if t.Varfile != nil {
		s.Varfile = *t.Varfile
	}
	if t.Com1 != nil {
		s.Com1 = *t.Com1
	}
	if t.Com2 != nil {
		s.Com2 = *t.Com2
	}
	if t.Com3 != nil {
		s.Com3 = *t.Com3
	}
	if t.Com4 != nil {
		s.Com4 = *t.Com4
	}
	if t.UUID != nil {
		s.UUID = *t.UUID
	}
	if t.GDB != nil {
		s.GDB = *t.GDB
	}
	if t.UTCClock != nil {
		s.UTCClock = *t.UTCClock
	}
	if t.YieldOnHLT != nil {
		s.YieldOnHLT = *t.YieldOnHLT
	}
	if t.GenerateACPI != nil {
		s.GenerateACPI = *t.GenerateACPI
	}
	if t.WireGuestMem != nil {
		s.WireGuestMem = *t.WireGuestMem
	}
	if t.ForceMSI != nil {
		s.ForceMSI = *t.ForceMSI
	}
	if t.DisableMPTableGen != nil {
		s.DisableMPTableGen = *t.DisableMPTableGen
	}
	if t.DestroyOnPowerOff != nil {
		s.DestroyOnPowerOff = *t.DestroyOnPowerOff
	}
	if t.ExtraOptions != nil {
		s.ExtraOptions = *t.ExtraOptions
	}

	s.Emulations = mergeEmulations(s.Emulations, t.Emulations)

	if len(t.OnExit) > 0 {
		if s.OnExit == nil {
			s.OnExit = make(ExitPlan, len(t.OnExit))
		}
		for k, v := range t.OnExit {
			s.OnExit[k] = v
		}
	}
}

// mergeEmulations overlays the target's device list on the base list. An
// override replaces the first base device of the same kind it has not
// already replaced; overrides with no such match append after the base
// devices in the order the target gives them. First match wins.
func mergeEmulations(base, overrides []Emulation) []Emulation {
	used := make([]bool, len(overrides))
	merged := make([]Emulation, 0, len(base)+len(overrides))

	for _, b := range base {
		replaced := false
		for j, ov := range overrides {
			if used[j] || ov.Device == nil || b.Device == nil {
				continue
			}
			if ov.Device.Kind() == b.Device.Kind() {
				merged = append(merged, ov)
				used[j] = true
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, b)
		}
	}

	for j, ov := range overrides {
		if !used[j] {
			merged = append(merged, ov)
		}
	}
	return merged
}
