package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the CLI's own YAML bootstrap file (conventionally
// s3db.yaml), distinct from the s3db.json manifest the Database maintains
// inside the bucket: this file never leaves the operator's machine, it
// just saves retyping --conn/--passphrase/--redis-addr on every
// invocation.
type FileConfig struct {
	Connection         string      `yaml:"connection"`
	Passphrase         string      `yaml:"passphrase"`
	GCSCredentialsFile string      `yaml:"gcs_credentials_file"`
	Concurrency        int         `yaml:"concurrency"`
	Redis              RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Coordination Service's optional FastLock
// pre-check (spec.md §9; never required for correctness).
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// loadFileConfig reads and parses path. A missing file is not an error —
// the CLI falls back entirely to flags/environment in that case.
func loadFileConfig(path string) (*FileConfig, error) {
	if path == "" {
		return &FileConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &FileConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &fc, nil
}

// firstNonEmpty returns the first non-empty string among candidates, in
// priority order (flag, then environment/file fallback).
func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}
