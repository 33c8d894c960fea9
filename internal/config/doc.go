// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package config loads the engine configuration from an HCL file.
//
// A file holds one engine block and optional broadcast and server blocks:
//
//	engine {
//	  workers          = 8
//	  progress_buffer  = 128
//	  partitions       = 4
//	  monitor_interval = "250ms"
//	}
//
//	broadcast {
//	  url               = "http://localhost:3000"
//	  events_per_second = 20
//	}
//
//	server {
//	  port = 8080
//	}
//
// Missing values take their defaults; Validate rejects the rest.
package config
