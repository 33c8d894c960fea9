// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package http_request provides a node performing one HTTP request.
package http_request

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/specialistvlad/gridflow/internal/ctxlog"
	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/specialistvlad/gridflow/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	// Client performs requests. Nil means a client with a 30s timeout.
	Client *http.Client
}

// Input defines the arguments of an http_request node.
type Input struct {
	URL     string            `hcl:"url"`
	Method  string            `hcl:"method,optional"`
	Headers map[string]string `hcl:"headers,optional"`
	Body    string            `hcl:"body,optional"`
	// ExpectStatus fails the node on any other status when set.
	ExpectStatus int `hcl:"expect_status,optional"`
}

var responseType = cty.Object(map[string]cty.Type{
	"status_code": cty.Number,
	"body":        cty.String,
	"headers":     cty.Map(cty.String),
})

// Model performs the request on every execution.
type Model struct {
	client *http.Client
	input  Input
}

func (m *Model) Configure([]cty.Type) ([]cty.Type, error) {
	return []cty.Type{responseType}, nil
}

func (m *Model) Execute(ec node.ExecContext, _ []cty.Value) ([]cty.Value, error) {
	logger := ctxlog.FromContext(ec.Context())
	ctx, cancel := context.WithCancel(ec.Context())
	defer cancel()
	go func() {
		select {
		case <-ec.Canceled():
			cancel()
		case <-ctx.Done():
		}
	}()

	var body io.Reader
	if m.input.Body != "" {
		body = strings.NewReader(m.input.Body)
	}
	req, err := http.NewRequestWithContext(ctx, m.input.Method, m.input.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range m.input.Headers {
		req.Header.Set(k, v)
	}

	logger.Info("Making HTTP request", "method", m.input.Method, "url", m.input.URL)
	resp, err := m.client.Do(req)
	if err != nil {
		if cErr := ec.CheckCanceled(); cErr != nil {
			return nil, cErr
		}
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()
	logger.Info("Received HTTP response", "status", resp.Status)

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if m.input.ExpectStatus != 0 && resp.StatusCode != m.input.ExpectStatus {
		return nil, fmt.Errorf("unexpected status %d, want %d", resp.StatusCode, m.input.ExpectStatus)
	}

	headers := cty.MapValEmpty(cty.String)
	if len(resp.Header) > 0 {
		hm := make(map[string]cty.Value, len(resp.Header))
		for k := range resp.Header {
			hm[k] = cty.StringVal(resp.Header.Get(k))
		}
		headers = cty.MapVal(hm)
	}
	return []cty.Value{cty.ObjectVal(map[string]cty.Value{
		"status_code": cty.NumberIntVal(int64(resp.StatusCode)),
		"body":        cty.StringVal(string(b)),
		"headers":     headers,
	})}, nil
}

func (m *Model) Reset() {}

func (m *Model) CloneModel() node.Model { return &Model{client: m.client, input: m.input} }

// Register registers the node type with the engine.
func (m *Module) Register(r *registry.Registry) {
	client := m.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	r.RegisterType("http_request", &registry.NodeType{
		Description: "Performs an HTTP request and emits the response.",
		NewInput:    func() any { return new(Input) },
		Build: func(_ context.Context, input any, ins int) (*registry.Spec, error) {
			in := *input.(*Input)
			if in.Method == "" {
				in.Method = http.MethodGet
			}
			in.Method = strings.ToUpper(in.Method)
			ports := make([]node.Port, ins)
			for i := range ports {
				ports[i] = node.Port{Name: "after", Type: cty.DynamicPseudoType}
			}
			return &registry.Spec{
				Model: &Model{client: client, input: in},
				In:    ports,
				Out:   []node.Port{{Name: "response", Type: responseType}},
			}, nil
		},
	})
}
