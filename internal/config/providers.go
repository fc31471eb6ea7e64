package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaharia-lab/dispatchd/internal/notification"
)

// LoadProvidersConfig reads the providers YAML file at filePath. ${ENV:VAR}
// references are substituted before parsing so secrets can stay out of the
// file. If the file does not exist, every provider is disabled (not an error).
func LoadProvidersConfig(filePath string) (*notification.ProvidersConfig, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // path is from admin-configured data dir
	if err != nil {
		if os.IsNotExist(err) {
			return &notification.ProvidersConfig{}, nil
		}
		return nil, fmt.Errorf("reading providers file %q: %w", filePath, err)
	}

	expanded, err := interpolateEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("providers file %q: %w", filePath, err)
	}

	var cfg notification.ProvidersConfig
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing providers file %q: %w", filePath, err)
	}
	return &cfg, nil
}

// interpolateEnv replaces all ${ENV:VAR_NAME} patterns in s with the corresponding
// environment variable values. Returns an error if a referenced variable is not set.
func interpolateEnv(s string) (string, error) {
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${ENV:")
		if start == -1 {
			break
		}
		end := strings.Index(rest[start:], "}")
		if end == -1 {
			break
		}
		end += start
		varName := rest[start+6 : end]
		value := os.Getenv(varName)
		if value == "" {
			return "", fmt.Errorf("required env var %q is not set", varName)
		}
		// Substituted values are emitted verbatim, never rescanned.
		b.WriteString(rest[:start])
		b.WriteString(value)
		rest = rest[end+1:]
	}
	b.WriteString(rest)
	return b.String(), nil
}
