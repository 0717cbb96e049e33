package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const configHeader = `# tenantfs configuration file
#
# Every key can be overridden by an environment variable named after its
# path, e.g. TENANTFS_STORAGE_ROOT or TENANTFS_S3_BUCKET.

`

// RenderYAML returns cfg as YAML, keyed like the configuration file.
func RenderYAML(cfg *Config) ([]byte, error) {
	tree := map[string]any{}
	if err := mapstructure.Decode(cfg, &tree); err != nil {
		return nil, fmt.Errorf("failed to convert config: %w", err)
	}
	humanizeDurations(tree)

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(tree); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// humanizeDurations rewrites durations as strings such as "30s", which
// viper parses back.
func humanizeDurations(tree map[string]any) {
	for k, v := range tree {
		switch x := v.(type) {
		case time.Duration:
			tree[k] = x.String()
		case map[string]any:
			humanizeDurations(x)
		}
	}
}

// InitConfig writes the default configuration to path, or to the default
// location when path is empty. An existing file is kept unless force is set.
// Returns the path written.
func InitConfig(path string, force bool) (string, error) {
	if path == "" {
		path = GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	data, err := RenderYAML(GetDefaultConfig())
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}
