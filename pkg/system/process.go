//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

// Package system wraps the host process table lookups the supervisor needs.
package system

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

// IsProcessAlive returns true if the process with the given pid is running.
func IsProcessAlive(pid int32) (bool, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return false, fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	statuses, err := proc.Status()
	if err != nil {
		return false, fmt.Errorf("failed to get process status: %w", err)
	}
	for _, s := range statuses {
		switch s {
		case process.Zombie, process.Stop, process.UnknownState:
			return false, nil
		default:
			return true, nil
		}
	}
	return false, nil
}

// ReapStale kills the process recorded in pidFile if it is still alive and
// still runs the expected executable. A missing pidfile, a dead pid, or a
// recycled pid running something else all reap nothing.
func ReapStale(pidFile, expectName string) error {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read pid file %s: %w", pidFile, err)
	}

	pid, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		logrus.Warnf("ignoring malformed pid file %s: %v", pidFile, err)
		return nil
	}

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	name, err := proc.Name()
	if err != nil || name != expectName {
		return nil
	}

	logrus.Infof("killing stale %s process %d left by a previous run", expectName, pid)
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill stale process %d: %w", pid, err)
	}
	return nil
}
