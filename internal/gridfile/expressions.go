// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package gridfile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"go.uber.org/multierr"
)

// traversalKey renders a traversal as written, e.g. env.HOME.
func traversalKey(t hcl.Traversal) string {
	return strings.TrimSpace(string(hclwrite.TokensForTraversal(t).Bytes()))
}

// checkArguments reports every variable and function used by the
// arguments that evalCtx does not define. Node outputs are wired through
// inputs, never through expressions.
func checkArguments(body hcl.Body, evalCtx *hcl.EvalContext) error {
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		// Decoding reports malformed bodies with better context.
		return nil
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs error
	for _, name := range names {
		refs, funcs := references(attrs[name].Expr)
		for _, ref := range refs {
			if _, ok := evalCtx.Variables[ref.RootName()]; !ok {
				errs = multierr.Append(errs, fmt.Errorf("argument '%s' references unknown variable '%s'; read other nodes through inputs", name, traversalKey(ref)))
			}
		}
		for _, fn := range funcs {
			if _, ok := evalCtx.Functions[fn]; !ok {
				errs = multierr.Append(errs, fmt.Errorf("argument '%s' calls unknown function '%s' (available: %s)", name, fn, strings.Join(functionNames(evalCtx), ", ")))
			}
		}
	}
	return errs
}

func functionNames(evalCtx *hcl.EvalContext) []string {
	out := make([]string, 0, len(evalCtx.Functions))
	for name := range evalCtx.Functions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// references returns the unique traversals and function names used by
// expr, both sorted.
func references(expr hcl.Expression) ([]hcl.Traversal, []string) {
	traversals := make(map[string]hcl.Traversal)
	for _, t := range expr.Variables() {
		traversals[traversalKey(t)] = t
	}
	functions := make(map[string]struct{})
	if se, ok := expr.(hclsyntax.Expression); ok {
		walkForFunctions(se, functions)
	}

	keys := make([]string, 0, len(traversals))
	for k := range traversals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	refs := make([]hcl.Traversal, 0, len(keys))
	for _, k := range keys {
		refs = append(refs, traversals[k])
	}

	funcs := make([]string, 0, len(functions))
	for f := range functions {
		funcs = append(funcs, f)
	}
	sort.Strings(funcs)
	return refs, funcs
}

// walkForFunctions records the function calls in the syntax tree, which
// Variables does not report.
func walkForFunctions(expr hclsyntax.Expression, functions map[string]struct{}) {
	if expr == nil {
		return
	}
	switch e := expr.(type) {
	case *hclsyntax.FunctionCallExpr:
		functions[e.Name] = struct{}{}
		for _, arg := range e.Args {
			walkForFunctions(arg, functions)
		}
	case *hclsyntax.BinaryOpExpr:
		walkForFunctions(e.LHS, functions)
		walkForFunctions(e.RHS, functions)
	case *hclsyntax.ConditionalExpr:
		walkForFunctions(e.Condition, functions)
		walkForFunctions(e.TrueResult, functions)
		walkForFunctions(e.FalseResult, functions)
	case *hclsyntax.UnaryOpExpr:
		walkForFunctions(e.Val, functions)
	case *hclsyntax.TemplateExpr:
		for _, part := range e.Parts {
			walkForFunctions(part, functions)
		}
	case *hclsyntax.TemplateWrapExpr:
		walkForFunctions(e.Wrapped, functions)
	case *hclsyntax.TupleConsExpr:
		for _, item := range e.Exprs {
			walkForFunctions(item, functions)
		}
	case *hclsyntax.ObjectConsExpr:
		for _, item := range e.Items {
			walkForFunctions(item.KeyExpr, functions)
			walkForFunctions(item.ValueExpr, functions)
		}
	case *hclsyntax.ForExpr:
		walkForFunctions(e.CollExpr, functions)
		walkForFunctions(e.KeyExpr, functions)
		walkForFunctions(e.ValExpr, functions)
		walkForFunctions(e.CondExpr, functions)
	case *hclsyntax.IndexExpr:
		walkForFunctions(e.Collection, functions)
		walkForFunctions(e.Key, functions)
	case *hclsyntax.SplatExpr:
		walkForFunctions(e.Source, functions)
		walkForFunctions(e.Each, functions)
	case *hclsyntax.ParenthesesExpr:
		walkForFunctions(e.Expression, functions)
	}
}
