// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/banctl/internal/errors"
)

// LoadFile loads, defaults, and validates the HCL configuration at path.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "failed to decode config %s", path)
	}

	cfg = cfg.WithDefaults()
	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, errors.Wrap(errs, errors.KindValidation, "invalid configuration")
	}

	return &cfg, nil
}

// ResolveSecret reads a secret value out of the named environment variable.
// An empty env var name is treated as "no secret configured".
func ResolveSecret(envVar string) (string, error) {
	if envVar == "" {
		return "", errors.New(errors.KindValidation, "secret environment variable not configured")
	}
	val, ok := os.LookupEnv(envVar)
	if !ok || val == "" {
		return "", errors.Errorf(errors.KindValidation, "environment variable %s is not set", envVar)
	}
	return val, nil
}
