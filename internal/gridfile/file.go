// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package gridfile

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/gridflow/internal/ctxlog"
	"github.com/specialistvlad/gridflow/internal/fsutil"
)

// File is the decoded content of one or more grid files.
type File struct {
	Nodes []*NodeBlock `hcl:"node,block"`
	Loops []*LoopBlock `hcl:"loop,block"`
}

// NodeBlock declares one node.
type NodeBlock struct {
	Type       string   `hcl:"type,label"`
	ID         string   `hcl:"id,label"`
	Inputs     []string `hcl:"inputs,optional"`
	Partitions int      `hcl:"partitions,optional"`
	// Arguments holds every remaining attribute for the type's input.
	Arguments hcl.Body `hcl:",remain"`
}

// LoopBlock declares a parallel chunk loop.
type LoopBlock struct {
	Name   string `hcl:"name,label"`
	Chunks int    `hcl:"chunks"`
	Input  string `hcl:"input"`
	Body   string `hcl:"body"`
}

// StartID returns the id of the loop's splitting node.
func (l *LoopBlock) StartID() string { return l.Name + "_start" }

// Parse decodes grid source. filename names the source in diagnostics.
func Parse(filename string, src []byte) (*File, error) {
	parser := hclparse.NewParser()
	hf, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse grid file %s: %w", filename, diags)
	}
	return decode(filename, hf)
}

// Load decodes a grid file, or every .hcl file under a directory, into a
// single File.
func Load(ctx context.Context, path string) (*File, error) {
	logger := ctxlog.FromContext(ctx)
	paths, err := fsutil.FindFilesByExtension(path, ".hcl")
	if err != nil {
		return nil, fmt.Errorf("failed to find grid files: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no .hcl grid files found in %s", path)
	}

	parser := hclparse.NewParser()
	merged := &File{}
	for _, p := range paths {
		hf, diags := parser.ParseHCLFile(p)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse grid file %s: %w", p, diags)
		}
		f, err := decode(p, hf)
		if err != nil {
			return nil, err
		}
		merged.Nodes = append(merged.Nodes, f.Nodes...)
		merged.Loops = append(merged.Loops, f.Loops...)
		logger.Debug("Loaded grid file.", "file", p, "nodes", len(f.Nodes), "loops", len(f.Loops))
	}
	return merged, nil
}

func decode(filename string, hf *hcl.File) (*File, error) {
	var f File
	if diags := gohcl.DecodeBody(hf.Body, nil, &f); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode grid file %s: %w", filename, diags)
	}
	return &f, nil
}
