// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package registry maps node type names used in grid files to the Go code
// that builds them.
//
// Modules register their types at startup. The registry is then validated
// so a type whose input struct cannot be decoded from HCL is rejected
// before any grid is loaded.
package registry
