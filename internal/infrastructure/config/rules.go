package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/recaptcha-defer/internal/eligibility"
)

// ErrRulesFormat is returned for a rules file with an unknown extension
var ErrRulesFormat = errors.New("unsupported rules file format")

// LoadRules reads eligibility rules from path. Keys missing from the file
// keep their defaults; an empty path returns the defaults.
func LoadRules(path string) (eligibility.Config, error) {
	rules := eligibility.DefaultConfig()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("failed to read rules: %w", err)
	}
	if err := ParseRules(filepath.Ext(path), data, &rules); err != nil {
		return rules, fmt.Errorf("failed to parse rules %s: %w", path, err)
	}
	return rules, nil
}

// ParseRules decodes data into rules according to the file extension
func ParseRules(ext string, data []byte, rules *eligibility.Config) error {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml":
		return yaml.Unmarshal(data, rules)
	case "toml":
		return toml.Unmarshal(data, rules)
	case "json":
		return sonic.Unmarshal(data, rules)
	default:
		return fmt.Errorf("%w: %q", ErrRulesFormat, ext)
	}
}
