//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

package pci

import (
	"errors"
	"fmt"
)

// ErrSlotSpaceExhausted is returned when no address is left on the bus.
var ErrSlotSpaceExhausted = errors.New("run out of pci slots")

// SlotConflictError reports two devices claiming the same explicit slot.
type SlotConflictError struct {
	Slot    Slot
	DeviceA string
	DeviceB string
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("pci slot %s claimed by both %s and %s", e.Slot, e.DeviceA, e.DeviceB)
}

// Binding is one device's claim on the bus. Slot is nil when the
// configuration left the address to the allocator. Label identifies the
// device in error messages.
type Binding struct {
	Label string
	Slot  *Slot
}

// Assign resolves every binding to a concrete address and returns the
// addresses in input order.
//
// Two passes: all explicit slots are claimed first (a duplicate among them is
// a hard failure, never a silent override), then every unslotted binding
// receives the smallest free (bus, slot) address in list order, function 0.
// Assigning an already fully assigned list returns the same addresses.
func Assign(bindings []Binding) ([]Slot, error) {
	used := make(map[Slot]string, len(bindings))
	for _, b := range bindings {
		if b.Slot == nil {
			continue
		}
		if prev, taken := used[*b.Slot]; taken {
			return nil, &SlotConflictError{Slot: *b.Slot, DeviceA: prev, DeviceB: b.Label}
		}
		used[*b.Slot] = b.Label
	}

	resolved := make([]Slot, len(bindings))
	cursor := Slot{}
	for i, b := range bindings {
		if b.Slot != nil {
			resolved[i] = *b.Slot
			continue
		}
		next, err := nextFree(cursor, used)
		if err != nil {
			return nil, err
		}
		used[next] = b.Label
		resolved[i] = next
		cursor = next
	}
	return resolved, nil
}

func nextFree(from Slot, used map[Slot]string) (Slot, error) {
	s := from
	for {
		if _, taken := used[s]; !taken {
			return s, nil
		}
		if s.Slot == MaxSlot {
			if s.Bus == MaxBus {
				return Slot{}, ErrSlotSpaceExhausted
			}
			s = Slot{Bus: s.Bus + 1}
			continue
		}
		s.Slot++
	}
}
