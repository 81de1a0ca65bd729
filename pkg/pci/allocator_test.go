//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

package pci_test

import (
	"errors"
	"testing"

	"bhyverun/pkg/pci"

	"github.com/stretchr/testify/require"
)

func slot(bus, s, fn uint8) *pci.Slot {
	return &pci.Slot{Bus: bus, Slot: s, Func: fn}
}

func TestAssignSequential(t *testing.T) {
	got, err := pci.Assign([]pci.Binding{
		{Label: "net"},
		{Label: "disk"},
		{Label: "console"},
	})
	require.NoError(t, err)
	require.Equal(t, []pci.Slot{{Slot: 0}, {Slot: 1}, {Slot: 2}}, got)
}

func TestAssignPreservesExplicitSlots(t *testing.T) {
	got, err := pci.Assign([]pci.Binding{
		{Label: "net"},
		{Label: "disk", Slot: slot(0, 0, 0)},
		{Label: "console", Slot: slot(0, 3, 0)},
		{Label: "cd"},
	})
	require.NoError(t, err)
	// Explicit claims win; the free addresses fill around them in list order.
	require.Equal(t, []pci.Slot{{Slot: 1}, {Slot: 0}, {Slot: 3}, {Slot: 2}}, got)
}

func TestAssignConflictRegardlessOfOrder(t *testing.T) {
	bindings := []pci.Binding{
		{Label: "a", Slot: slot(0, 4, 0)},
		{Label: "b", Slot: slot(0, 4, 0)},
	}
	for i := 0; i < 2; i++ {
		_, err := pci.Assign(bindings)
		var conflict *pci.SlotConflictError
		require.ErrorAs(t, err, &conflict)
		require.Equal(t, pci.Slot{Slot: 4}, conflict.Slot)
		bindings[0], bindings[1] = bindings[1], bindings[0]
	}
}

func TestAssignIsIdempotent(t *testing.T) {
	first, err := pci.Assign([]pci.Binding{{Label: "net"}, {Label: "disk"}})
	require.NoError(t, err)

	assigned := []pci.Binding{
		{Label: "net", Slot: &first[0]},
		{Label: "disk", Slot: &first[1]},
	}
	second, err := pci.Assign(assigned)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestAssignCrossesBusBoundary(t *testing.T) {
	bindings := make([]pci.Binding, 0, 33)
	for s := uint8(0); s <= pci.MaxSlot; s++ {
		bindings = append(bindings, pci.Binding{Label: "fixed", Slot: slot(0, s, 0)})
	}
	bindings = append(bindings, pci.Binding{Label: "overflow"})

	got, err := pci.Assign(bindings)
	require.NoError(t, err)
	require.Equal(t, pci.Slot{Bus: 1, Slot: 0}, got[len(got)-1])
}

func TestAssignExhaustion(t *testing.T) {
	bindings := make([]pci.Binding, 0, (pci.MaxBus+1)*(pci.MaxSlot+1)+1)
	for bus := 0; bus <= pci.MaxBus; bus++ {
		for s := 0; s <= pci.MaxSlot; s++ {
			bindings = append(bindings, pci.Binding{Label: "fixed", Slot: slot(uint8(bus), uint8(s), 0)})
		}
	}
	bindings = append(bindings, pci.Binding{Label: "one too many"})

	_, err := pci.Assign(bindings)
	require.True(t, errors.Is(err, pci.ErrSlotSpaceExhausted))
}
