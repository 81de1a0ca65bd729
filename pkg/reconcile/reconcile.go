//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

// Package reconcile reclaims the filesystem artifacts a previous hypervisor
// run may have left behind: control sockets created for console-class
// devices, and the supervisor's own pid file. Cleanup always runs strictly
// before a launch so a stale socket can never race the new process binding
// the same path.
package reconcile

import (
	"errors"
	"fmt"
	"os"

	"bhyverun/pkg/system"
	"bhyverun/pkg/vmspec"

	"github.com/containers/storage/pkg/fileutils"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// CleanupError reports a leftover artifact that could not be removed.
// Missing files are never an error; this is for real I/O or permission
// failures.
type CleanupError struct {
	Path  string
	Cause error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup of %s failed: %v", e.Path, e.Cause)
}

func (e *CleanupError) Unwrap() error { return e.Cause }

// Ephemerals lists the filesystem paths the resolved device list implies the
// hypervisor will create: one socket per virtio-console port.
func Ephemerals(spec *vmspec.VMSpec) []string {
	var paths []string
	for _, e := range spec.Emulations {
		console, ok := e.Device.(vmspec.VirtioConsole)
		if !ok {
			continue
		}
		paths = append(paths, console.Ports...)
	}
	return paths
}

// Clean removes every ephemeral artifact of a previous run of this spec and
// reaps a stale hypervisor child recorded in pidFile. Removal of a missing
// file is a no-op, so Clean is idempotent; any other failure is collected
// and reported, and the caller must treat it as fatal for the run.
func Clean(spec *vmspec.VMSpec, pidFile, hypervisor string) error {
	var errs *multierror.Error

	if pidFile != "" {
		if err := system.ReapStale(pidFile, hypervisor); err != nil {
			errs = multierror.Append(errs, &CleanupError{Path: pidFile, Cause: err})
		} else if err := removeIfPresent(pidFile); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	for _, path := range Ephemerals(spec) {
		if err := removeIfPresent(path); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
	}

	return errs.ErrorOrNil()
}

func removeIfPresent(path string) error {
	if err := fileutils.Exists(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return &CleanupError{Path: path, Cause: err}
	}
	logrus.Debugf("removing leftover %s", path)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &CleanupError{Path: path, Cause: err}
	}
	return nil
}
