package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// loadFile overlays the keys present in a YAML or TOML file onto cfg.
// The file is read into a generic tree and re-decoded as JSON, so sections
// that appear only partially keep their defaults for the missing keys.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	tree := map[string]any{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &tree)
	case ".toml":
		err = toml.Unmarshal(data, &tree)
	default:
		return fmt.Errorf("%w: unsupported config file extension %q", ErrInvalid, ext)
	}
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	raw, err := sonic.ConfigStd.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to normalize %s: %w", path, err)
	}
	if err := sonic.ConfigStd.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
	}
	return nil
}
