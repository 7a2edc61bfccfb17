// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads simulation configuration from YAML files and the
// environment. The core package consumes only the fully-resolved
// simbft.Config and never touches files itself.
package config

import (
	"fmt"

	"github.com/ava-labs/simbft"
	"github.com/ilyakaznacheev/cleanenv"
)

// Load reads the configuration file at path over the defaults, applies
// environment overrides, and validates the result. An empty path yields the
// defaults with environment overrides only.
func Load(path string) (simbft.Config, error) {
	cfg := simbft.DefaultConfig()

	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return simbft.Config{}, fmt.Errorf("failed loading configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return simbft.Config{}, err
	}
	return cfg, nil
}
