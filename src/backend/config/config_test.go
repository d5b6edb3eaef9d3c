package config

import (
	"strings"
	"testing"
)

func TestValidatePort(t *testing.T) {
	testCases := []struct {
		name      string
		port      string
		fieldName string
		expectErr bool
		errString string
	}{
		{
			name:      "valid port",
			port:      ":8080",
			fieldName: "Port",
			expectErr: false,
		},
		{
			name:      "empty port",
			port:      "",
			fieldName: "Port",
			expectErr: true,
			errString: "Port: port cannot be empty",
		},
		{
			name:      "no colon",
			port:      "8080",
			fieldName: "Port",
			expectErr: true,
			errString: "Port: port must be in format ':PORT' where PORT is numeric (current value: 8080)",
		},
		{
			name:      "non-numeric",
			port:      ":abcd",
			fieldName: "Port",
			expectErr: true,
			errString: "Port: port must be in format ':PORT' where PORT is numeric (current value: :abcd)",
		},
		{
			name:      "port out of range (low)",
			port:      ":0",
			fieldName: "Port",
			expectErr: true,
			errString: "Port: port must be between 1 and 65535 (current value: 0)",
		},
		{
			name:      "port out of range (high)",
			port:      ":65536",
			fieldName: "Port",
			expectErr: true,
			errString: "Port: port must be between 1 and 65535 (current value: 65536)",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validatePort(tc.port, tc.fieldName)
			if tc.expectErr {
				if err == nil {
					t.Errorf("expected an error, but got nil")
				} else if err.Error() != tc.errString {
					t.Errorf("expected error string '%s', but got '%s'", tc.errString, err.Error())
				}
			} else if err != nil {
				t.Errorf("expected no error, but got: %v", err)
			}
		})
	}
}

func TestValidateBackend(t *testing.T) {
	testCases := []struct {
		name      string
		backend   string
		expectErr bool
		errString string
	}{
		{name: "openai", backend: "openai"},
		{name: "ollama", backend: "ollama"},
		{name: "local", backend: "local"},
		{
			name:      "empty",
			backend:   "",
			expectErr: true,
			errString: "Generation.Backend: backend cannot be empty",
		},
		{
			name:      "unknown",
			backend:   "vllm",
			expectErr: true,
			errString: "Generation.Backend: backend must be one of 'openai', 'ollama', 'local' (current value: vllm)",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateBackend(tc.backend, "Generation.Backend")
			if tc.expectErr {
				if err == nil {
					t.Errorf("expected an error, but got nil")
				} else if err.Error() != tc.errString {
					t.Errorf("expected error string '%s', but got '%s'", tc.errString, err.Error())
				}
			} else if err != nil {
				t.Errorf("expected no error, but got: %v", err)
			}
		})
	}
}

func TestValidateConfig(t *testing.T) {
	testCases := []struct {
		name      string
		config    *Config
		expectErr bool
		errString string
	}{
		{
			name:      "valid default config",
			config:    DefaultConfig(),
			expectErr: false,
		},
		{
			name: "invalid port",
			config: func() *Config {
				c := DefaultConfig()
				c.Port = "invalid"
				return c
			}(),
			expectErr: true,
			errString: "Port: port must be in format ':PORT' where PORT is numeric (current value: invalid)",
		},
		{
			name: "remote backend without base URL",
			config: func() *Config {
				c := DefaultConfig()
				c.Generation.BaseURL = ""
				return c
			}(),
			expectErr: true,
			errString: "Generation.BaseURL: base URL cannot be empty for remote backends",
		},
		{
			name: "local backend without base URL is fine",
			config: func() *Config {
				c := DefaultConfig()
				c.Generation.Backend = "local"
				c.Generation.BaseURL = ""
				return c
			}(),
			expectErr: false,
		},
		{
			name: "multiple errors",
			config: func() *Config {
				c := DefaultConfig()
				c.Port = "invalid"
				c.Generation.Backend = "vllm"
				return c
			}(),
			expectErr: true,
			errString: "Port: port must be in format ':PORT' where PORT is numeric (current value: invalid); Generation.Backend: backend must be one of 'openai', 'ollama', 'local' (current value: vllm)",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.config.ValidateConfig()
			if tc.expectErr {
				if err == nil {
					t.Errorf("expected an error, but got nil")
				} else if err.Error() != tc.errString {
					for _, subErr := range strings.Split(tc.errString, "; ") {
						if !strings.Contains(err.Error(), subErr) {
							t.Errorf("expected error to contain '%s', but got '%s'", subErr, err.Error())
						}
					}
				}
			} else if err != nil {
				t.Errorf("expected no error, but got: %v", err)
			}
		})
	}
}

func TestClampNewTokens(t *testing.T) {
	testCases := []struct {
		in   int
		want int
	}{
		{in: 0, want: DefaultNewTokens},
		{in: -1, want: DefaultNewTokens},
		{in: 1, want: MinNewTokens},
		{in: 512, want: 512},
		{in: 100000, want: MaxNewTokens},
	}
	for _, tc := range testCases {
		if got := ClampNewTokens(tc.in); got != tc.want {
			t.Errorf("ClampNewTokens(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestClampTemperature(t *testing.T) {
	testCases := []struct {
		in   float64
		want float64
	}{
		{in: -0.5, want: 0},
		{in: 0, want: 0},
		{in: 0.95, want: 0.95},
		{in: 1.5, want: 1},
	}
	for _, tc := range testCases {
		if got := ClampTemperature(tc.in); got != tc.want {
			t.Errorf("ClampTemperature(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
