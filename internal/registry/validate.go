// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package registry

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/specialistvlad/gridflow/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

var ctyValueType = reflect.TypeOf(cty.Value{})

// Validate checks every registered type: it must have a Build function, and
// its input struct fields must carry hcl tags with types HCL can decode.
func (r *Registry) Validate(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	logger := ctxlog.FromContext(ctx)

	var errs []string
	for _, name := range r.sortedNames() {
		t := r.types[name]
		if t.Build == nil {
			errs = append(errs, fmt.Sprintf("node type '%s': no Build function", name))
		}
		if t.NewInput == nil {
			continue
		}
		input := reflect.TypeOf(t.NewInput())
		if input == nil || input.Kind() != reflect.Pointer || input.Elem().Kind() != reflect.Struct {
			errs = append(errs, fmt.Sprintf("node type '%s': NewInput must return a pointer to a struct, got %v", name, input))
			continue
		}
		input = input.Elem()
		for i := 0; i < input.NumField(); i++ {
			field := input.Field(i)
			if !field.IsExported() {
				continue
			}
			tag := strings.Split(field.Tag.Get("hcl"), ",")[0]
			if tag == "" {
				errs = append(errs, fmt.Sprintf("node type '%s': field '%s' has no hcl tag", name, field.Name))
				continue
			}
			if field.Type == ctyValueType {
				logger.Debug("Input accepts any value, static type checking disabled.", "type", name, "input", tag)
				continue
			}
			if _, err := gocty.ImpliedType(reflect.Zero(field.Type).Interface()); err != nil {
				errs = append(errs, fmt.Sprintf("node type '%s', input '%s': cannot imply cty type from %s: %v", name, tag, field.Type, err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func (r *Registry) sortedNames() []string {
	out := make([]string, 0, len(r.types))
	for name := range r.types {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
