//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

// Package pci models the virtual PCI bus of a single guest: slot addresses
// and the deterministic allocation of free slots to devices.
package pci

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	MaxBus  = 255
	MaxSlot = 31
	MaxFunc = 7
)

// Slot is one address on the emulated PCI bus.
type Slot struct {
	Bus  uint8 `json:"bus"`
	Slot uint8 `json:"slot"`
	Func uint8 `json:"func"`
}

// ParseSlot accepts the legacy textual forms "slot", "slot/func" and
// "bus/slot/func".
func ParseSlot(s string) (Slot, error) {
	parts := strings.Split(s, "/")

	nums := make([]uint8, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return Slot{}, fmt.Errorf("invalid pci slot %q: %w", s, err)
		}
		nums = append(nums, uint8(v))
	}

	check := func(component string, value, max uint8) error {
		if value > max {
			return &SlotValueError{Component: component, Value: value, Max: max}
		}
		return nil
	}

	switch len(nums) {
	case 1:
		if err := check("slot", nums[0], MaxSlot); err != nil {
			return Slot{}, err
		}
		return Slot{Bus: 0, Slot: nums[0], Func: 0}, nil
	case 2:
		if err := check("slot", nums[0], MaxSlot); err != nil {
			return Slot{}, err
		}
		if err := check("func", nums[1], MaxFunc); err != nil {
			return Slot{}, err
		}
		return Slot{Bus: 0, Slot: nums[0], Func: nums[1]}, nil
	case 3:
		if err := check("slot", nums[1], MaxSlot); err != nil {
			return Slot{}, err
		}
		if err := check("func", nums[2], MaxFunc); err != nil {
			return Slot{}, err
		}
		return Slot{Bus: nums[0], Slot: nums[1], Func: nums[2]}, nil
	default:
		return Slot{}, fmt.Errorf("invalid pci slot %q: want $slot, $slot/$func or $bus/$slot/$func", s)
	}
}

// BhyveArg renders the slot the way the legacy -s option expects it. Slots
// on bus 0 function 0 collapse to the short single-number form.
func (s Slot) BhyveArg() string {
	if s.Bus == 0 && s.Func == 0 {
		return strconv.Itoa(int(s.Slot))
	}
	return fmt.Sprintf("%d:%d:%d", s.Bus, s.Slot, s.Func)
}

// PassthruArg renders the host-side address of a passed-through device.
func (s Slot) PassthruArg() string {
	return fmt.Sprintf("%d/%d/%d", s.Bus, s.Slot, s.Func)
}

func (s Slot) String() string {
	return fmt.Sprintf("%d/%d/%d", s.Bus, s.Slot, s.Func)
}

// UnmarshalJSON accepts either the textual slot forms or a bare integer
// naming a slot on bus 0.
func (s *Slot) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, `"`) {
		unquoted, err := strconv.Unquote(text)
		if err != nil {
			return fmt.Errorf("invalid pci slot %s: %w", text, err)
		}
		parsed, err := ParseSlot(unquoted)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}

	n, err := strconv.ParseUint(text, 10, 8)
	if err != nil {
		return fmt.Errorf("invalid pci slot %s: %w", text, err)
	}
	if n > MaxSlot {
		return &SlotValueError{Component: "slot", Value: uint8(n), Max: MaxSlot}
	}
	*s = Slot{Slot: uint8(n)}
	return nil
}

// MarshalJSON emits the canonical bus/slot/func form.
func (s Slot) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

// SlotValueError reports a slot component outside the addressable range.
type SlotValueError struct {
	Component string
	Value     uint8
	Max       uint8
}

func (e *SlotValueError) Error() string {
	return fmt.Sprintf("invalid value %d for %s in pci slot, max %d", e.Value, e.Component, e.Max)
}
