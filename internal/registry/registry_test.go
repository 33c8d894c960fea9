// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

type goodInput struct {
	URL     string            `hcl:"url"`
	Headers map[string]string `hcl:"headers,optional"`
	Value   cty.Value         `hcl:"value,optional"`
}

type untaggedInput struct {
	URL string
}

type badTypeInput struct {
	Fn func() `hcl:"fn"`
}

func build(context.Context, any, int) (*Spec, error) { return &Spec{}, nil }

type testModule struct{ name string }

func (m testModule) Register(r *Registry) {
	r.RegisterType(m.name, &NodeType{Build: build})
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := Load(testModule{"b"}, testModule{"a"})

	assert.Equal(t, []string{"a", "b"}, r.Types())
	nt, ok := r.Lookup("a")
	require.True(t, ok)
	assert.NotNil(t, nt.Build)
	_, ok = r.Lookup("missing")
	assert.False(t, ok)

	assert.PanicsWithValue(t, "node type 'a' already registered", func() {
		r.RegisterType("a", &NodeType{Build: build})
	})
}

func TestRegistry_Validate(t *testing.T) {
	tests := []struct {
		name string
		typ  *NodeType
		want string
	}{
		{"valid", &NodeType{NewInput: func() any { return new(goodInput) }, Build: build}, ""},
		{"no arguments", &NodeType{Build: build}, ""},
		{"missing build", &NodeType{}, "no Build function"},
		{"not a pointer", &NodeType{NewInput: func() any { return goodInput{} }, Build: build}, "pointer to a struct"},
		{"untagged field", &NodeType{NewInput: func() any { return new(untaggedInput) }, Build: build}, "has no hcl tag"},
		{"undecodable field", &NodeType{NewInput: func() any { return new(badTypeInput) }, Build: build}, "cannot imply cty type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			r.RegisterType("x", tt.typ)
			err := r.Validate(context.Background())
			if tt.want == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.want)
		})
	}
}
