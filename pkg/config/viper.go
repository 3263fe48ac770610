// Package config locates the catalog configuration file. It uses Viper's search path
// handling so the CLI can run without an explicit --config flag.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// SearchPaths are the directories checked, in order, for a config.{yaml,yml,json,toml} file.
var SearchPaths = []string{
	".",              // Current working directory
	"/etc/catalog/",  // System-wide configuration
	"$HOME/.catalog", // User-specific configuration
}

// Discover returns explicit when set. Otherwise it returns the first config file found in
// dirs, or "" when none exists so callers fall back to defaults and environment variables.
func Discover(explicit string, dirs ...string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	v := viper.New()
	v.SetConfigName("config")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("search config file: %w", err)
	}
	return v.ConfigFileUsed(), nil
}
