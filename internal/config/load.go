package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses, and validates the runtime configuration.
//
// When no explicit path is given and config.jsonc is absent, a config.conf
// sibling from older installs is read instead, with a deprecation warning.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	base := Default()
	pathWarnings := make([]Warning, 0)

	content, err := os.ReadFile(resolvedPath)
	if err != nil && errors.Is(err, os.ErrNotExist) && strings.TrimSpace(explicitPath) == "" {
		legacy := LegacyPath(resolvedPath)
		if legacyContent, legacyErr := os.ReadFile(legacy); legacyErr == nil {
			pathWarnings = append(pathWarnings, Warning{
				Message: fmt.Sprintf("legacy config path %q is deprecated; migrate to %q", legacy, resolvedPath),
			})
			resolvedPath = legacy
			content = legacyContent
			err = nil
		}
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Loaded{
				Path:   resolvedPath,
				Config: base,
				Warnings: []Warning{{
					Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
				}},
				Exists: false,
			}, nil
		}
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	}

	cfg, warnings, err := Parse(string(content), base)
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
	}

	return Loaded{
		Path:     resolvedPath,
		Config:   cfg,
		Warnings: append(pathWarnings, warnings...),
		Exists:   true,
	}, nil
}
