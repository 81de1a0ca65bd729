//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

package vmspec_test

import (
	"testing"

	"bhyverun/pkg/vmspec"

	"github.com/containers/common/pkg/strongunits"
	"github.com/stretchr/testify/require"
)

const installDoc = `{
	"name": "testvm",
	"cpu": 2,
	"mem": "512M",
	"emulations": [
		{"device": "virtio-net", "name": "tap3"},
		{"device": "virtio-blk", "path": "disk.img"}
	],
	"targets": {
		"install": {
			"emulations": [
				{"device": "ahci-cd", "path": "install.iso"}
			],
			"next_target": "default"
		},
		"big": {
			"cpu": {"sockets": 2, "cores": 2, "threads": 2},
			"mem": "4G",
			"emulations": [
				{"device": "virtio-blk", "path": "big.img", "ro": true}
			]
		}
	}
}`

func TestResolveEmptySelectionIsBaseCopy(t *testing.T) {
	spec := decode(t, installDoc)
	resolved, err := spec.Resolve("")
	require.NoError(t, err)
	require.Equal(t, spec.Name, resolved.Name)
	require.Equal(t, spec.Emulations, resolved.Emulations)

	// The resolution is a copy, never a view of the base.
	resolved.Emulations[0].Device = vmspec.VirtioNet{Name: "changed"}
	require.Equal(t, vmspec.VirtioNet{Name: "tap3"}, spec.Emulations[0].Device)
}

func TestResolveDefaultWithoutExplicitTarget(t *testing.T) {
	spec := decode(t, installDoc)
	resolved, err := spec.Resolve(vmspec.DefaultTarget)
	require.NoError(t, err)
	require.Equal(t, spec.Emulations, resolved.Emulations)
	require.Equal(t, spec.CPU, resolved.CPU)
}

func TestResolveUnknownTarget(t *testing.T) {
	spec := decode(t, installDoc)
	_, err := spec.Resolve("nonesuch")
	var unknown *vmspec.UnknownTargetError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "nonesuch", unknown.Name)
}

func TestResolveAppendsUnmatchedDevices(t *testing.T) {
	spec := decode(t, installDoc)
	resolved, err := spec.Resolve("install")
	require.NoError(t, err)

	// No ahci-cd in the base, so the target's device appends after it.
	require.Len(t, resolved.Emulations, 3)
	require.Equal(t, vmspec.VirtioNet{Name: "tap3"}, resolved.Emulations[0].Device)
	require.Equal(t, vmspec.VirtioBlk{Path: "disk.img"}, resolved.Emulations[1].Device)
	require.Equal(t, vmspec.AhciCd{Path: "install.iso"}, resolved.Emulations[2].Device)

	require.Equal(t, vmspec.ExitPlan{vmspec.Reboot: "default"}, resolved.OnExit)

	// The base stays pristine for the next resolution.
	require.Len(t, spec.Emulations, 2)
	require.Nil(t, spec.OnExit)
}

func TestResolveReplacesSameKindDevice(t *testing.T) {
	spec := decode(t, installDoc)
	resolved, err := spec.Resolve("big")
	require.NoError(t, err)

	require.Equal(t, vmspec.CPUSpec{Sockets: 2, Cores: 2, Threads: 2}, resolved.CPU)
	require.Equal(t, strongunits.B(4<<30), resolved.Mem.Bytes)

	// The override replaces the first virtio-blk in place, order preserved.
	require.Len(t, resolved.Emulations, 2)
	require.Equal(t, vmspec.VirtioNet{Name: "tap3"}, resolved.Emulations[0].Device)
	require.Equal(t, vmspec.VirtioBlk{Path: "big.img", ReadOnly: true}, resolved.Emulations[1].Device)
}

func TestResolveReplaceFirstMatchThenAppend(t *testing.T) {
	spec := decode(t, `{
		"name": "testvm",
		"cpu": 1,
		"mem": "1G",
		"emulations": [
			{"device": "virtio-blk", "path": "one.img"},
			{"device": "virtio-blk", "path": "two.img"}
		],
		"targets": {
			"swap": {
				"emulations": [
					{"device": "virtio-blk", "path": "first.img"},
					{"device": "virtio-blk", "path": "second.img"},
					{"device": "virtio-blk", "path": "third.img"}
				]
			}
		}
	}`)
	resolved, err := spec.Resolve("swap")
	require.NoError(t, err)

	require.Len(t, resolved.Emulations, 3)
	require.Equal(t, vmspec.VirtioBlk{Path: "first.img"}, resolved.Emulations[0].Device)
	require.Equal(t, vmspec.VirtioBlk{Path: "second.img"}, resolved.Emulations[1].Device)
	require.Equal(t, vmspec.VirtioBlk{Path: "third.img"}, resolved.Emulations[2].Device)
}

func TestResolveMergesExitPlans(t *testing.T) {
	spec := decode(t, `{
		"name": "testvm",
		"cpu": 1,
		"mem": "1G",
		"emulations": [],
		"next_target": {"reboot": "base", "poweroff": "cleanup"},
		"targets": {
			"other": {"next_target": {"reboot": "other-next"}}
		}
	}`)
	resolved, err := spec.Resolve("other")
	require.NoError(t, err)

	// Target entries override per classification; untouched entries survive.
	require.Equal(t, vmspec.ExitPlan{
		vmspec.Reboot:   "other-next",
		vmspec.PowerOff: "cleanup",
	}, resolved.OnExit)
}

func TestResolveIsRepeatable(t *testing.T) {
	spec := decode(t, installDoc)
	first, err := spec.Resolve("install")
	require.NoError(t, err)
	second, err := spec.Resolve("install")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestHasTarget(t *testing.T) {
	spec := decode(t, installDoc)
	require.True(t, spec.HasTarget("install"))
	require.False(t, spec.HasTarget("default"))
}
