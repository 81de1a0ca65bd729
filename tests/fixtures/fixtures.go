//  SPDX-FileCopyrightText: 2024-2025 OOMOL, Inc. <https://www.oomol.com>
//  SPDX-License-Identifier: MPL-2.0

// Package fixtures locates the shared test configuration documents from any
// test's working directory.
package fixtures

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var (
	dir  string
	once sync.Once
)

// Path returns the absolute path of the named fixture file.
func Path(name string) string {
	once.Do(func() {
		cwd, err := os.Getwd()
		if err != nil {
			panic(fmt.Errorf("failed to get current working directory: %w", err))
		}
		dir = findFixtures(cwd)
	})
	return filepath.Join(dir, name)
}

// findFixtures walks up from dir to the module root and returns its
// tests/fixtures directory.
func findFixtures(dir string) string {
	if dir == "/" || filepath.VolumeName(dir) == dir {
		panic(fmt.Errorf("could not find project root (no go.mod found)"))
	}

	if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
		return filepath.Join(dir, "tests", "fixtures")
	}
	return findFixtures(filepath.Dir(dir))
}
