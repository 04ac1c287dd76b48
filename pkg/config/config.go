// Package config loads YAML configuration files into a caller-provided
// struct whose existing field values serve as defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Validator is implemented by configuration roots that check themselves
// after decoding.
type Validator interface {
	Validate() error
}

// Load reads filename and decodes it into target; see Parse.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	return Parse(data, target)
}

// LoadOptional is Load for deployments configured purely through the
// environment: a missing file only validates the defaults in target.
func LoadOptional[T any](filename string, target *T) error {
	_, err := os.Stat(filename)
	if errors.Is(err, os.ErrNotExist) {
		return validate(target)
	}
	return Load(filename, target)
}

// Parse expands ${VAR} and ${VAR:-fallback} references, decodes the YAML
// into target and validates the result. Keys absent from the document keep
// the value target already holds.
func Parse[T any](data []byte, target *T) error {
	expanded := Expand(string(data))
	if err := yaml.Unmarshal([]byte(expanded), target); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return validate(target)
}

// Expand substitutes environment references in s. An unset or empty
// variable with a ":-" fallback yields the fallback.
func Expand(s string) string {
	return os.Expand(s, func(ref string) string {
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		if v := os.Getenv(name); v != "" || !hasFallback {
			return v
		}
		return fallback
	})
}

func validate(target any) error {
	v, ok := target.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
