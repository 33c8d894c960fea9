// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	GridPath   string // hcl file or directory
	ConfigPath string // engine config file, optional

	LogFormat string
	LogLevel  string
	// HealthcheckPort and WorkerCount override the engine config when set.
	HealthcheckPort int
	WorkerCount     int
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.GridPath == "" {
		return nil, errors.New("GridPath is a required configuration field and cannot be empty")
	}
	if cfg.WorkerCount < 0 {
		return nil, errors.New("WorkerCount cannot be negative")
	}
	return &cfg, nil
}
