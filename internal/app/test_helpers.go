// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/specialistvlad/gridflow/internal/registry"
	"github.com/stretchr/testify/require"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// WriteGrid writes src as main.hcl in a temp directory and returns its path.
func WriteGrid(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

// SetupAppTest creates a new app instance for system testing. Set
// GRIDFLOW_TEST_LOGS=true to print its output.
func SetupAppTest(t *testing.T, cfg *Config, modules ...registry.Module) (*App, *SafeBuffer) {
	t.Helper()

	out := &SafeBuffer{}
	cfg.LogLevel = "debug"
	t.Cleanup(func() {
		if os.Getenv("GRIDFLOW_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), out.String())
		}
	})

	a, err := NewApp(context.Background(), out, cfg, modules...)
	require.NoError(t, err)
	return a, out
}
