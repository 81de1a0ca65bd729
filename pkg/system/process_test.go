//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

package system

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestIsProcessAlive(t *testing.T) {
	alive, err := IsProcessAlive(int32(os.Getpid()))
	if err != nil {
		t.Fatalf("IsProcessAlive(self) error: %v", err)
	}
	if !alive {
		t.Error("IsProcessAlive(self) = false, want true")
	}
}

func TestReapStaleMissingPidFile(t *testing.T) {
	if err := ReapStale(filepath.Join(t.TempDir(), "none.pid"), "bhyve"); err != nil {
		t.Errorf("ReapStale on missing pid file: %v", err)
	}
}

func TestReapStaleNameMismatch(t *testing.T) {
	// Our own pid is alive but is not the hypervisor, so nothing is reaped.
	pidFile := filepath.Join(t.TempDir(), "vm.pid")
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ReapStale(pidFile, "bhyve"); err != nil {
		t.Errorf("ReapStale with recycled pid: %v", err)
	}
}
