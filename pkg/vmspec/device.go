//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

package vmspec

import (
	"fmt"

	"bhyverun/pkg/pci"

	jsoniter "github.com/json-iterator/go"
)

// Device kind tags as they appear in the configuration document.
const (
	KindVirtioNet     = "virtio-net"
	KindVirtioBlk     = "virtio-blk"
	KindVirtioConsole = "virtio-console"
	KindAhciCd        = "ahci-cd"
	KindAhciHd        = "ahci-hd"
	KindNVMe          = "nvme"
	KindPassthru      = "passthru"
	KindFramebuffer   = "fbuf"
	KindXhci          = "xhci"
	KindRaw           = "raw"
)

// Device is one virtual hardware attachment. Implementations are plain value
// types; validate reports the first required parameter the configuration
// left out, labelled with the device position it was decoded from.
type Device interface {
	Kind() string
	validate(at string) error
}

// Emulation binds a device to an optional explicit PCI slot. Slot stays nil
// until the allocator fills it in.
type Emulation struct {
	Slot   *pci.Slot
	Device Device
}

// Label names the emulation for error messages, e.g. "emulations[1] (virtio-blk)".
func (e Emulation) label(index int) string {
	kind := "unknown"
	if e.Device != nil {
		kind = e.Device.Kind()
	}
	return fmt.Sprintf("emulations[%d] (%s)", index, kind)
}

// VirtioNet is a network front-end backed by a host interface.
type VirtioNet struct {
	Name    string `json:"name"`
	Backend string `json:"backend,omitempty"`
	MTU     uint32 `json:"mtu,omitempty"`
	MAC     string `json:"mac,omitempty"`
}

func (VirtioNet) Kind() string { return KindVirtioNet }

func (d VirtioNet) validate(at string) error {
	if d.Name == "" {
		return &MissingParameterError{Device: at, Field: "name"}
	}
	switch d.Backend {
	case "", "tap", "netgraph", "netmap", "vale":
	default:
		return fmt.Errorf("%s: unsupported network backend %q", at, d.Backend)
	}
	return nil
}

// VirtioBlk is a block front-end backed by a file or zvol.
type VirtioBlk struct {
	Path               string `json:"path"`
	NoCache            bool   `json:"nocache,omitempty"`
	Direct             bool   `json:"direct,omitempty"`
	ReadOnly           bool   `json:"ro,omitempty"`
	NoDelete           bool   `json:"nodelete,omitempty"`
	LogicalSectorSize  uint32 `json:"logical_sector_size,omitempty"`
	PhysicalSectorSize uint32 `json:"physical_sector_size,omitempty"`
}

func (VirtioBlk) Kind() string { return KindVirtioBlk }

func (d VirtioBlk) validate(at string) error {
	if d.Path == "" {
		return &MissingParameterError{Device: at, Field: "path"}
	}
	return nil
}

// AhciCd is an optical front-end on the emulated AHCI controller.
type AhciCd struct {
	Path  string `json:"path"`
	NMRR  uint32 `json:"nmrr,omitempty"`
	Ser   string `json:"ser,omitempty"`
	Rev   string `json:"rev,omitempty"`
	Model string `json:"model,omitempty"`
}

func (AhciCd) Kind() string { return KindAhciCd }

func (d AhciCd) validate(at string) error {
	if d.Path == "" {
		return &MissingParameterError{Device: at, Field: "path"}
	}
	return nil
}

// AhciHd is a disk front-end on the emulated AHCI controller.
type AhciHd struct {
	Path  string `json:"path"`
	NMRR  uint32 `json:"nmrr,omitempty"`
	Ser   string `json:"ser,omitempty"`
	Rev   string `json:"rev,omitempty"`
	Model string `json:"model,omitempty"`
}

func (AhciHd) Kind() string { return KindAhciHd }

func (d AhciHd) validate(at string) error {
	if d.Path == "" {
		return &MissingParameterError{Device: at, Field: "path"}
	}
	return nil
}

// NVMe is an NVMe front-end backed either by a file or by guest RAM.
type NVMe struct {
	Path    string `json:"path,omitempty"`
	RAMMiB  uint64 `json:"ram,omitempty"`
	QSz     uint32 `json:"qsz,omitempty"`
	IOSlots uint32 `json:"ioslots,omitempty"`
	SectSz  uint32 `json:"sectsz,omitempty"`
	Ser     string `json:"ser,omitempty"`
}

func (NVMe) Kind() string { return KindNVMe }

func (d NVMe) validate(at string) error {
	if d.Path == "" && d.RAMMiB == 0 {
		return &MissingParameterError{Device: at, Field: "path"}
	}
	return nil
}

// VirtioConsole is a console-class front-end. Every port is a filesystem
// socket the hypervisor creates at launch, so the ports double as the
// device's ephemeral resources.
type VirtioConsole struct {
	Ports []string `json:"ports"`
}

func (VirtioConsole) Kind() string { return KindVirtioConsole }

func (d VirtioConsole) validate(at string) error {
	if len(d.Ports) == 0 {
		return &MissingParameterError{Device: at, Field: "ports"}
	}
	for _, port := range d.Ports {
		if port == "" {
			return &MissingParameterError{Device: at, Field: "ports"}
		}
	}
	return nil
}

// Passthru hands a host PCI device through to the guest.
type Passthru struct {
	Src *pci.Slot `json:"src"`
	ROM string    `json:"rom,omitempty"`
}

func (Passthru) Kind() string { return KindPassthru }

func (d Passthru) validate(at string) error {
	if d.Src == nil {
		return &MissingParameterError{Device: at, Field: "src"}
	}
	return nil
}

// Framebuffer exposes the guest display over VNC.
type Framebuffer struct {
	Host     string `json:"host"`
	Port     uint16 `json:"port,omitempty"`
	Width    uint32 `json:"width,omitempty"`
	Height   uint32 `json:"height,omitempty"`
	VGA      string `json:"vga,omitempty"`
	Password string `json:"password,omitempty"`
	Wait     bool   `json:"wait,omitempty"`
}

func (Framebuffer) Kind() string { return KindFramebuffer }

// ListenPort is the TCP port the VNC server binds, defaulting to 5900.
func (d Framebuffer) ListenPort() uint16 {
	if d.Port == 0 {
		return 5900
	}
	return d.Port
}

func (d Framebuffer) validate(at string) error {
	if d.Host == "" {
		return &MissingParameterError{Device: at, Field: "host"}
	}
	return nil
}

// Xhci is the USB tablet controller.
type Xhci struct{}

func (Xhci) Kind() string { return KindXhci }

func (Xhci) validate(string) error { return nil }

// RawDevice carries an already lowered emulation token verbatim.
type RawDevice struct {
	Value string `json:"value"`
}

func (RawDevice) Kind() string { return KindRaw }

func (d RawDevice) validate(at string) error {
	if d.Value == "" {
		return &MissingParameterError{Device: at, Field: "value"}
	}
	return nil
}

// emulationDoc is the wire shape of one emulations[] entry: the device tag,
// the optional slot, and the kind-specific fields flattened beside them.
type emulationDoc struct {
	Device string    `json:"device"`
	Slot   *pci.Slot `json:"slot,omitempty"`
}

func (e *Emulation) UnmarshalJSON(data []byte) error {
	var doc emulationDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	var dev Device
	switch doc.Device {
	case KindVirtioNet:
		dev = &VirtioNet{}
	case KindVirtioBlk:
		dev = &VirtioBlk{}
	case KindVirtioConsole:
		dev = &VirtioConsole{}
	case KindAhciCd:
		dev = &AhciCd{}
	case KindAhciHd:
		dev = &AhciHd{}
	case KindNVMe:
		dev = &NVMe{}
	case KindPassthru:
		dev = &Passthru{}
	case KindFramebuffer:
		dev = &Framebuffer{}
	case KindXhci:
		dev = &Xhci{}
	case KindRaw:
		dev = &RawDevice{}
	case "":
		return &MissingParameterError{Device: "emulation", Field: "device"}
	default:
		return &UnknownDeviceError{Device: "emulation", Kind: doc.Device}
	}

	if err := json.Unmarshal(data, dev); err != nil {
		return err
	}

	e.Slot = doc.Slot
	e.Device = deref(dev)
	return nil
}

// deref stores devices by value so merged and cloned specs never alias.
func deref(dev Device) Device {
	switch d := dev.(type) {
	case *VirtioNet:
		return *d
	case *VirtioBlk:
		return *d
	case *VirtioConsole:
		ports := make([]string, len(d.Ports))
		copy(ports, d.Ports)
		d.Ports = ports
		return *d
	case *AhciCd:
		return *d
	case *AhciHd:
		return *d
	case *NVMe:
		return *d
	case *Passthru:
		if d.Src != nil {
			src := *d.Src
			d.Src = &src
		}
		return *d
	case *Framebuffer:
		return *d
	case *Xhci:
		return *d
	case *RawDevice:
		return *d
	default:
		return dev
	}
}

func (e Emulation) MarshalJSON() ([]byte, error) {
	fields, err := json.Marshal(e.Device)
	if err != nil {
		return nil, err
	}

	head := map[string]interface{}{"device": e.Device.Kind()}
	if e.Slot != nil {
		head["slot"] = e.Slot
	}
	base, err := json.Marshal(head)
	if err != nil {
		return nil, err
	}

	return mergeObjects(base, fields)
}

// mergeObjects splices two marshalled JSON objects into one.
func mergeObjects(a, b []byte) ([]byte, error) {
	var merged map[string]jsoniter.RawMessage
	if err := json.Unmarshal(a, &merged); err != nil {
		return nil, err
	}
	var rest map[string]jsoniter.RawMessage
	if err := json.Unmarshal(b, &rest); err != nil {
		return nil, err
	}
	for k, v := range rest {
		merged[k] = v
	}
	return json.Marshal(merged)
}
