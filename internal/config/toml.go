// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Session SessionConfig `toml:"session"`
	Server  ServerConfig  `toml:"server"`
}

// SessionConfig maps session-runner settings.
type SessionConfig struct {
	ServerURL     *string `toml:"server-url"`
	WSURL         *string `toml:"ws-url"`
	Source        *string `toml:"source"`
	FramesDir     *string `toml:"frames-dir"`
	JPEGQuality   *int    `toml:"jpeg-quality"`
	MaxFrameWidth *int    `toml:"max-frame-width"`
	SendDelayMs   *int    `toml:"send-delay-ms"`
}

// ServerConfig maps report service settings.
type ServerConfig struct {
	Listen *string `toml:"listen"`
	DBPath *string `toml:"db-path"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
