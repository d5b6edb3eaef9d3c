package config

import (
	"fmt"
	"strconv"
	"strings"
)

// validatePort validates a ":PORT" style listen address
func validatePort(port, fieldName string) error {
	if port == "" {
		return fmt.Errorf("%s: port cannot be empty", fieldName)
	}
	if !strings.HasPrefix(port, ":") {
		return fmt.Errorf("%s: port must be in format ':PORT' where PORT is numeric (current value: %s)", fieldName, port)
	}
	num, err := strconv.Atoi(strings.TrimPrefix(port, ":"))
	if err != nil {
		return fmt.Errorf("%s: port must be in format ':PORT' where PORT is numeric (current value: %s)", fieldName, port)
	}
	if num < 1 || num > 65535 {
		return fmt.Errorf("%s: port must be between 1 and 65535 (current value: %d)", fieldName, num)
	}
	return nil
}

// validateBackend validates the generation backend selector
func validateBackend(backend, fieldName string) error {
	switch backend {
	case "openai", "ollama", "local":
		return nil
	case "":
		return fmt.Errorf("%s: backend cannot be empty", fieldName)
	default:
		return fmt.Errorf("%s: backend must be one of 'openai', 'ollama', 'local' (current value: %s)", fieldName, backend)
	}
}

// ValidateConfig validates the whole configuration and collects all errors
func (c *Config) ValidateConfig() error {
	var errs []string

	if err := validatePort(c.Port, "Port"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateBackend(c.Generation.Backend, "Generation.Backend"); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Generation.Backend != "local" && c.Generation.BaseURL == "" {
		errs = append(errs, "Generation.BaseURL: base URL cannot be empty for remote backends")
	}
	if c.Generation.ContextWindow < MinNewTokens {
		errs = append(errs, fmt.Sprintf("Generation.ContextWindow: must be at least %d (current value: %d)", MinNewTokens, c.Generation.ContextWindow))
	}
	if c.Mesh.MaxOBJBytes <= 0 {
		errs = append(errs, "Mesh.MaxOBJBytes: must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, "RateLimit: RPS and Burst must be positive when rate limiting is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
