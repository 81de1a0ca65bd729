//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

package bhyve

import (
	"fmt"
	"strings"

	"bhyverun/pkg/vmspec"
)

// deviceToken lowers one emulation into the -s payload:
// <slot>,<driver>[,<driver-specific-suffix>].
func deviceToken(index int, e vmspec.Emulation) (string, error) {
	at := fmt.Sprintf("emulations[%d]", index)
	if e.Slot == nil {
		return "", &InvalidParameterError{Device: at, Field: "slot", Reason: "no slot allocated"}
	}
	suffix, err := driverSuffix(at, e.Device)
	if err != nil {
		return "", err
	}
	return e.Slot.BhyveArg() + "," + suffix, nil
}

func driverSuffix(at string, dev vmspec.Device) (string, error) {
	switch d := dev.(type) {
	case vmspec.VirtioNet:
		if d.Name == "" {
			return "", &InvalidParameterError{Device: at, Field: "name", Reason: "empty interface name"}
		}
		var b strings.Builder
		fmt.Fprintf(&b, "virtio-net,%s", d.Name)
		if d.Backend != "" {
			fmt.Fprintf(&b, ",type=%s", d.Backend)
		}
		if d.MTU != 0 {
			fmt.Fprintf(&b, ",mtu=%d", d.MTU)
		}
		if d.MAC != "" {
			fmt.Fprintf(&b, ",mac=%s", d.MAC)
		}
		return b.String(), nil

	case vmspec.VirtioBlk:
		if d.Path == "" {
			return "", &InvalidParameterError{Device: at, Field: "path", Reason: "empty backing path"}
		}
		var b strings.Builder
		fmt.Fprintf(&b, "virtio-blk,%s", d.Path)
		if d.Direct {
			b.WriteString(",direct")
		}
		if d.NoCache {
			b.WriteString(",nocache")
		}
		if d.ReadOnly {
			b.WriteString(",ro")
		}
		if d.NoDelete {
			b.WriteString(",nodelete")
		}
		if d.LogicalSectorSize != 0 {
			if d.PhysicalSectorSize != 0 {
				fmt.Fprintf(&b, ",sectorsize=%d/%d", d.LogicalSectorSize, d.PhysicalSectorSize)
			} else {
				fmt.Fprintf(&b, ",sectorsize=%d", d.LogicalSectorSize)
			}
		}
		return b.String(), nil

	case vmspec.AhciCd:
		return ahciSuffix(at, "ahci-cd", d.Path, d.NMRR, d.Ser, d.Rev, d.Model)

	case vmspec.AhciHd:
		return ahciSuffix(at, "ahci-hd", d.Path, d.NMRR, d.Ser, d.Rev, d.Model)

	case vmspec.NVMe:
		var b strings.Builder
		b.WriteString("nvme")
		switch {
		case d.Path != "":
			b.WriteString("," + d.Path)
		case d.RAMMiB != 0:
			fmt.Fprintf(&b, ",ram=%d", d.RAMMiB)
		default:
			return "", &InvalidParameterError{Device: at, Field: "path", Reason: "empty backing path and no ram size"}
		}
		if d.QSz != 0 {
			fmt.Fprintf(&b, ",qsz=%d", d.QSz)
		}
		if d.IOSlots != 0 {
			fmt.Fprintf(&b, ",ioslots=%d", d.IOSlots)
		}
		if d.SectSz != 0 {
			fmt.Fprintf(&b, ",sectsz=%d", d.SectSz)
		}
		if d.Ser != "" {
			fmt.Fprintf(&b, ",ser=%s", d.Ser)
		}
		return b.String(), nil

	case vmspec.VirtioConsole:
		if len(d.Ports) == 0 {
			return "", &InvalidParameterError{Device: at, Field: "ports", Reason: "no console ports"}
		}
		var b strings.Builder
		b.WriteString("virtio-console")
		for i, port := range d.Ports {
			fmt.Fprintf(&b, ",port%d=%s", i+1, port)
		}
		return b.String(), nil

	case vmspec.Passthru:
		if d.Src == nil {
			return "", &InvalidParameterError{Device: at, Field: "src", Reason: "no host device address"}
		}
		token := "passthru," + d.Src.PassthruArg()
		if d.ROM != "" {
			token += ",rom=" + d.ROM
		}
		return token, nil

	case vmspec.Framebuffer:
		if d.Host == "" {
			return "", &InvalidParameterError{Device: at, Field: "host", Reason: "empty listen host"}
		}
		var b strings.Builder
		fmt.Fprintf(&b, "fbuf,tcp=%s:%d", d.Host, d.ListenPort())
		if d.Width != 0 {
			fmt.Fprintf(&b, ",w=%d", d.Width)
		}
		if d.Height != 0 {
			fmt.Fprintf(&b, ",h=%d", d.Height)
		}
		if d.VGA != "" {
			fmt.Fprintf(&b, ",vga=%s", d.VGA)
		}
		if d.Password != "" {
			fmt.Fprintf(&b, ",password=%s", d.Password)
		}
		if d.Wait {
			b.WriteString(",wait")
		}
		return b.String(), nil

	case vmspec.Xhci:
		return "xhci,tablet", nil

	case vmspec.RawDevice:
		if d.Value == "" {
			return "", &InvalidParameterError{Device: at, Field: "value", Reason: "empty raw emulation"}
		}
		return d.Value, nil

	default:
		kind := "nil"
		if dev != nil {
			kind = dev.Kind()
		}
		return "", &UnsupportedDeviceError{Kind: kind}
	}
}

func ahciSuffix(at, driver, path string, nmrr uint32, ser, rev, model string) (string, error) {
	if path == "" {
		return "", &InvalidParameterError{Device: at, Field: "path", Reason: "empty backing path"}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s,%s", driver, path)
	if nmrr != 0 {
		fmt.Fprintf(&b, ",nmrr=%d", nmrr)
	}
	if ser != "" {
		fmt.Fprintf(&b, ",ser=%s", ser)
	}
	if rev != "" {
		fmt.Fprintf(&b, ",rev=%s", rev)
	}
	if model != "" {
		fmt.Fprintf(&b, ",model=%s", model)
	}
	return b.String(), nil
}
