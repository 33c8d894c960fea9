// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package app contains the core application logic. It loads the engine
// configuration and a grid, runs the grid on the scheduler and reports the
// outcome, decoupled from any specific entrypoint like a CLI or server.
package app
