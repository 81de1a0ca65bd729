//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

package vmspec_test

import (
	"strings"
	"testing"

	"bhyverun/pkg/pci"
	"bhyverun/pkg/vmspec"

	"github.com/containers/common/pkg/strongunits"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, doc string) *vmspec.VMSpec {
	t.Helper()
	spec, err := vmspec.Decode(strings.NewReader(doc))
	require.NoError(t, err)
	return spec
}

func TestDecodeMinimal(t *testing.T) {
	spec := decode(t, `{
		"name": "testvm",
		"cpu": 2,
		"mem": "512M",
		"emulations": [
			{"device": "virtio-net", "name": "tap3"},
			{"device": "virtio-blk", "path": "disk.img"}
		]
	}`)

	require.Equal(t, "testvm", spec.Name)
	require.Equal(t, vmspec.CPUSpec{Sockets: 1, Cores: 1, Threads: 2}, spec.CPU)
	require.Equal(t, strongunits.B(536870912), spec.Mem.Bytes)
	require.Len(t, spec.Emulations, 2)
	require.Equal(t, vmspec.VirtioNet{Name: "tap3"}, spec.Emulations[0].Device)
	require.Equal(t, vmspec.VirtioBlk{Path: "disk.img"}, spec.Emulations[1].Device)

	// The legacy toggles default to on; the rest default to off.
	require.True(t, spec.UTCClock)
	require.True(t, spec.YieldOnHLT)
	require.True(t, spec.GenerateACPI)
	require.False(t, spec.WireGuestMem)
	require.False(t, spec.DestroyOnPowerOff)
}

func TestMemoryForms(t *testing.T) {
	cases := []struct {
		in   string
		want strongunits.B
	}{
		{`"512M"`, 536870912},
		{`"1G"`, 1 << 30},
		{`"2T"`, 2 << 40},
		{`"16k"`, 16384},
		{`536870912`, 536870912},
	}
	for _, c := range cases {
		var m vmspec.MemorySpec
		require.NoError(t, m.UnmarshalJSON([]byte(c.in)), c.in)
		require.Equal(t, c.want, m.Bytes, c.in)
	}

	for _, in := range []string{`"512"`, `"1.5G"`, `"512MB"`, `"G"`, `"-1G"`, `"huge"`} {
		var m vmspec.MemorySpec
		require.Error(t, m.UnmarshalJSON([]byte(in)), in)
	}
}

func TestCPUForms(t *testing.T) {
	var c vmspec.CPUSpec
	require.NoError(t, c.UnmarshalJSON([]byte(`4`)))
	require.Equal(t, vmspec.CPUSpec{Sockets: 1, Cores: 1, Threads: 4}, c)
	n, flat := c.FlatCount()
	require.True(t, flat)
	require.Equal(t, 4, n)

	require.NoError(t, c.UnmarshalJSON([]byte(`{"sockets": 2, "cores": 4, "threads": 2}`)))
	require.Equal(t, vmspec.CPUSpec{Sockets: 2, Cores: 4, Threads: 2}, c)
	_, flat = c.FlatCount()
	require.False(t, flat)

	require.Error(t, c.UnmarshalJSON([]byte(`0`)))
	require.Error(t, c.UnmarshalJSON([]byte(`-2`)))
	require.Error(t, c.UnmarshalJSON([]byte(`{"sockets": 2, "cores": 0, "threads": 2}`)))
}

func TestDecodeRejectsIncompleteDocuments(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"no name", `{"cpu": 1, "mem": "1G", "emulations": []}`},
		{"no cpu", `{"name": "x", "mem": "1G", "emulations": []}`},
		{"no mem", `{"name": "x", "cpu": 1, "emulations": []}`},
		{"net without name", `{"name": "x", "cpu": 1, "mem": "1G",
			"emulations": [{"device": "virtio-net"}]}`},
		{"blk without path", `{"name": "x", "cpu": 1, "mem": "1G",
			"emulations": [{"device": "virtio-blk"}]}`},
		{"console without ports", `{"name": "x", "cpu": 1, "mem": "1G",
			"emulations": [{"device": "virtio-console"}]}`},
		{"bad device in target", `{"name": "x", "cpu": 1, "mem": "1G", "emulations": [],
			"targets": {"install": {"emulations": [{"device": "ahci-cd"}]}}}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := vmspec.Decode(strings.NewReader(c.doc))
			require.Error(t, err)
		})
	}
}

func TestDecodeUnknownDeviceKind(t *testing.T) {
	_, err := vmspec.Decode(strings.NewReader(`{
		"name": "x", "cpu": 1, "mem": "1G",
		"emulations": [{"device": "floppy"}]
	}`))
	var unknown *vmspec.UnknownDeviceError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "floppy", unknown.Kind)
}

func TestExitPlanForms(t *testing.T) {
	var p vmspec.ExitPlan
	require.NoError(t, p.UnmarshalJSON([]byte(`"provisioned"`)))
	require.Equal(t, vmspec.ExitPlan{vmspec.Reboot: "provisioned"}, p)

	require.NoError(t, p.UnmarshalJSON([]byte(`{"reboot": "next", "poweroff": "final"}`)))
	require.Equal(t, vmspec.ExitPlan{vmspec.Reboot: "next", vmspec.PowerOff: "final"}, p)
}

func TestAllocateSlots(t *testing.T) {
	spec := decode(t, `{
		"name": "testvm",
		"cpu": 1,
		"mem": "1G",
		"emulations": [
			{"device": "virtio-net", "name": "tap0"},
			{"device": "virtio-blk", "path": "a.img", "slot": 5},
			{"device": "virtio-blk", "path": "b.img"}
		]
	}`)
	require.NoError(t, spec.AllocateSlots())

	require.Equal(t, &pci.Slot{Slot: 0}, spec.Emulations[0].Slot)
	require.Equal(t, &pci.Slot{Slot: 5}, spec.Emulations[1].Slot)
	require.Equal(t, &pci.Slot{Slot: 1}, spec.Emulations[2].Slot)
}

func TestAllocateSlotsConflict(t *testing.T) {
	spec := decode(t, `{
		"name": "testvm",
		"cpu": 1,
		"mem": "1G",
		"emulations": [
			{"device": "virtio-blk", "path": "a.img", "slot": 5},
			{"device": "virtio-blk", "path": "b.img", "slot": 5}
		]
	}`)
	err := spec.AllocateSlots()
	var conflict *pci.SlotConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestCloneDoesNotAlias(t *testing.T) {
	spec := decode(t, `{
		"name": "testvm",
		"cpu": 1,
		"mem": "1G",
		"emulations": [{"device": "virtio-console", "ports": ["/tmp/a.sock"]}]
	}`)
	clone, err := spec.Clone()
	require.NoError(t, err)

	clone.Name = "other"
	clone.Emulations[0].Device = vmspec.VirtioConsole{Ports: []string{"/tmp/b.sock"}}

	require.Equal(t, "testvm", spec.Name)
	require.Equal(t, vmspec.VirtioConsole{Ports: []string{"/tmp/a.sock"}}, spec.Emulations[0].Device)
}
