package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/ilyakaznacheev/cleanenv"
)

// Load fills dst from the YAML file at path (when it exists) and then from the
// environment, so env vars always override file values. Struct fields are
// described with cleanenv tags (`env`, `env-default`, `env-required`).
func Load(path string, dst any) error {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, dst); err != nil {
				return fmt.Errorf("config file %s: %w", path, err)
			}
			return nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %s: %w", path, err)
		}
	}
	if err := cleanenv.ReadEnv(dst); err != nil {
		return fmt.Errorf("config env: %w", err)
	}
	return nil
}

// Port validates a TCP port value already loaded into a config struct.
func Port(name, value string) (string, error) {
	p, err := strconv.Atoi(value)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%s must be a valid TCP port (got %q)", name, value)
	}
	return value, nil
}
