package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.inbox/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
}

// Load reads the global config. A missing file is an error the caller can
// test with errors.Is(err, fs.ErrNotExist).
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	return writeTOML(path, cfg)
}

// writeTOML encodes v into a temp file next to path and renames it into
// place, so a daemon reading the file never sees a partial write.
func writeTOML(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if err := f.Chmod(0600); err != nil {
		_ = f.Close()
		return err
	}
	if err := toml.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
