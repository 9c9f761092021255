// Package config loads the optional blockmap configuration file.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config represents the optional blockmap configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
}

// DefaultsConfig holds persistent flag defaults. Flags set explicitly
// on the command line always win over these.
type DefaultsConfig struct {
	Verbose  *bool `toml:"verbose"`
	Progress *bool `toml:"progress"`
	Null     *bool `toml:"null"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "blockmap", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	return LoadFile(Path())
}

// LoadFile reads a config file from an explicit path. A missing file
// is not an error; a malformed one is.
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}
