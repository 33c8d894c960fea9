// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/specialistvlad/gridflow/internal/app"
	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/specialistvlad/gridflow/internal/registry"
	"github.com/specialistvlad/gridflow/internal/testutil"
	"github.com/specialistvlad/gridflow/modules/print"
	"github.com/specialistvlad/gridflow/modules/value"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

// stubModule registers the "stub" node type backed by testutil.Stub.
type stubModule struct {
	recorder *testutil.Recorder
	started  chan string
}

type stubInput struct {
	Sleep string `hcl:"sleep,optional"`
	Fail  string `hcl:"fail,optional"`
}

func newStubModule() *stubModule {
	return &stubModule{recorder: testutil.NewRecorder(), started: make(chan string, 64)}
}

func (m *stubModule) Register(r *registry.Registry) {
	r.RegisterType("stub", &registry.NodeType{
		Description: "Records its execution, optionally sleeping or failing.",
		NewInput:    func() any { return new(stubInput) },
		Build: func(_ context.Context, input any, ins int) (*registry.Spec, error) {
			in := input.(*stubInput)
			s := &testutil.Stub{Ins: ins, Outs: 1, Recorder: m.recorder, Started: m.started}
			if in.Sleep != "" {
				d, err := time.ParseDuration(in.Sleep)
				if err != nil {
					return nil, err
				}
				s.Sleep = d
			}
			if in.Fail != "" {
				s.Err = errors.New(in.Fail)
			}
			ports := make([]node.Port, ins)
			for i := range ports {
				ports[i] = node.Port{Name: fmt.Sprintf("in%d", i), Type: cty.DynamicPseudoType}
			}
			return &registry.Spec{Model: s, In: ports, Out: []node.Port{{Name: "id", Type: cty.String}}}, nil
		},
	})
}

// engineFile names the engine config in setup's files. It is written
// outside the grid directory.
const engineFile = "engine.hcl"

// setup writes grid files into a temp directory and builds an app running
// the stub, value and print node types.
func setup(t *testing.T, files map[string]string, workers int) (*app.App, *stubModule, *app.SafeBuffer) {
	t.Helper()
	dir := t.TempDir()
	cfg := &app.Config{GridPath: dir, WorkerCount: workers}
	for name, src := range files {
		path := filepath.Join(dir, name)
		if name == engineFile {
			path = filepath.Join(t.TempDir(), name)
			cfg.ConfigPath = path
		}
		require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	}

	cfg.LogLevel = "debug"

	// Logs, printed values and the run summary share one buffer.
	stubs := newStubModule()
	out := &app.SafeBuffer{}
	a, err := app.NewApp(context.Background(), out, cfg, stubs, &value.Module{}, &print.Module{Out: out})
	require.NoError(t, err)
	return a, stubs, out
}
