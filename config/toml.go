package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

var hostname = os.Hostname

/****** these are for production settings ***********/

// EnsureRoot creates the root, config, and data directories if they don't
// exist.
func EnsureRoot(rootDir string) error {
	for _, dir := range []string{
		rootDir,
		filepath.Join(rootDir, defaultConfigDir),
		filepath.Join(rootDir, defaultDataDir),
	} {
		if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
			return fmt.Errorf("could not create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ConfigFilePath returns the location of config.toml under rootDir.
func ConfigFilePath(rootDir string) string {
	return filepath.Join(rootDir, defaultConfigFilePath)
}

// WriteConfigFile encodes config as TOML and writes it to the config file
// under rootDir. It is called by the init command.
func WriteConfigFile(rootDir string, config *Config) error {
	return config.WriteTo(ConfigFilePath(rootDir))
}

// WriteTo writes the config to the exact file specified by path.
func (cfg *Config) WriteTo(path string) error {
	var buffer bytes.Buffer
	buffer.WriteString(configHeader)
	if err := toml.NewEncoder(&buffer).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, buffer.Bytes(), 0644)
}

// WriteDefaultConfigFileIfNone writes the default config unless a config
// file already exists.
func WriteDefaultConfigFileIfNone(rootDir string) error {
	_, err := os.Stat(ConfigFilePath(rootDir))
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return WriteConfigFile(rootDir, DefaultConfig())
}

const configHeader = `# This is a TOML config file for an acp0 agent.
# For more information, see https://github.com/toml-lang/toml
#
# Durations accept Go duration strings such as "60s" or "1m30s".
# Environment variables prefixed with ACP_ override values that also have
# a command line flag, e.g. ACP_NEGOTIATION_COLLECT_WINDOW=2s.

`
