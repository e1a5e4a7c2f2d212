package am

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/logger"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		logger.Warnw("Failed to delete old config backup", logger.FieldFile, back3, logger.FieldError, err)
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, 0644); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// WriteConfig encodes cfg as TOML at configPath, rotating any existing file into backups.
func WriteConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	var buf bytes.Buffer
	buf.WriteString("# scribe configuration\n# Environment variables (SCRIBE_*) override values here.\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return errors.Wrap(err, "failed to encode config")
	}

	if err := os.WriteFile(configPath, buf.Bytes(), 0600); err != nil {
		return errors.Wrapf(err, "failed to write %s", configPath)
	}
	return nil
}

// DefaultConfig returns the built-in defaults as a Config.
func DefaultConfig() *Config {
	v := newDefaultsViper()
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults are static; a failure here is a programming error.
		panic(errors.AssertionFailedf("default config does not decode: %v", err))
	}
	return cfg
}
