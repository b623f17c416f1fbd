package model

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	configDirEnv  = "BLKCAPT_CONFIG_DIR"
	defaultConfigDir = "/etc/blkcapt"
	configFileName   = "entities.yaml"
)

// ConfigDir returns the directory holding entities.yaml, honoring
// $BLKCAPT_CONFIG_DIR and falling back to /etc/blkcapt.
func ConfigDir() string {
	if dir := os.Getenv(configDirEnv); dir != "" {
		return dir
	}
	return defaultConfigDir
}

func configPath(dir string) string {
	return filepath.Join(dir, configFileName)
}

// Load reads and parses the entities document from dir. A missing file
// yields an empty Entities, matching first-run behavior.
func Load(dir string) (*Entities, error) {
	path := configPath(dir)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Entities{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var e Entities
	if err := yaml.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &e, nil
}

// Save writes the entities document to dir, creating it if necessary, and
// writes atomically via a temp file + rename so a crash mid-write never
// leaves a truncated config behind.
func Save(dir string, e *Entities) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir %s: %w", dir, err)
	}
	data, err := yaml.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := configPath(dir)
	tmp, err := os.CreateTemp(dir, ".entities-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("install config %s: %w", path, err)
	}
	return nil
}
