//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

package vmspec

import "fmt"

// MissingParameterError reports a device whose kind requires a parameter the
// configuration did not provide.
type MissingParameterError struct {
	Device string
	Field  string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("%s: required field %q is missing", e.Device, e.Field)
}

// UnknownTargetError reports selection of a target name the configuration
// does not define.
type UnknownTargetError struct {
	Name string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("target %q not found in configuration", e.Name)
}

// UnknownDeviceError reports an emulation entry with an unrecognized device
// kind.
type UnknownDeviceError struct {
	Device string
	Kind   string
}

func (e *UnknownDeviceError) Error() string {
	return fmt.Sprintf("%s: unknown device kind %q", e.Device, e.Kind)
}
