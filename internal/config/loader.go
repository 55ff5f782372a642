package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix = "RLMETRICS_"
	envFile   = "RLMETRICS_CONFIG"
)

// Load builds a Config by layering defaults, an optional YAML file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (Default())
//  2. file (YAML) from path, or RLMETRICS_CONFIG when path is empty
//  3. env (prefix RLMETRICS_, "__" separates sections)
func Load(path string) (*Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(envFile)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrLoadConfig, path, err)
		}
	}

	// RLMETRICS_STREAM__WHIFF_COOLDOWN_S -> stream.whiff_cooldown_s
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		if s == "CONFIG" {
			return ""
		}
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
