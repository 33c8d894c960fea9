// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package gridfile loads grid declarations from HCL and builds the
// workflow graph they describe.
//
// A node block names a registered type and a unique id. inputs lists the
// upstream nodes feeding its input ports in order; "id" reads output port
// 0 and "id.N" reads port N. Every other attribute is decoded into the
// type's input struct.
//
//	node "value" "numbers" {
//	  value = [1, 2, 3, 4]
//	}
//
//	loop "split" {
//	  chunks = 2
//	  input  = "numbers"
//	  body   = "pause"
//	}
//
//	node "sleep" "pause" {
//	  inputs   = ["split_start"]
//	  duration = "10ms"
//	}
//
//	node "print" "show" {
//	  inputs = ["split"]
//	}
//
// A loop block creates two nodes: "<name>_start" splits its input table
// into chunks and "<name>" joins the results of the body in chunk order.
// Attribute expressions may read env.NAME and call a small set of
// functions such as upper, format and range.
package gridfile
