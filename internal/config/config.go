// Package config holds the fb CLI settings: a YAML file under
// ~/.config/fb, overridden by FB_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override (api.url -> FB_API_URL).
const EnvPrefix = "FB"

var (
	// v merges defaults, file and environment; file holds only what is on disk
	// so Save never writes defaults or env values back.
	v    *viper.Viper
	file *viper.Viper
	path string
)

// settable lists the keys and key prefixes the CLI may write.
var settable = []string{
	"api.url", "api.key", "session.token",
	"jira.", "sheets.", "webhook.", "status_map.",
	"server.addr", "server.cors_origins", "log.level", "log.format",
}

// DefaultPath returns ~/.config/fb/config.yaml.
func DefaultPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("find home directory: %w", err)
	}
	return filepath.Join(home, ".config", "fb", "config.yaml"), nil
}

// Initialize loads configPath, or FB_CONFIG, or the default path. A missing
// file is not an error.
func Initialize(configPath string) error {
	if configPath == "" {
		configPath = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		configPath = p
	}
	expanded, err := homedir.Expand(configPath)
	if err != nil {
		return fmt.Errorf("expand config path: %w", err)
	}
	path = expanded

	v = viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	file = viper.New()
	file.SetConfigFile(path)
	file.SetConfigType("yaml")
	file.SetConfigPermissions(0o600)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := file.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return v.MergeConfigMap(file.AllSettings())
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.url", "")
	v.SetDefault("api.key", "")
	v.SetDefault("session.token", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("sheets.sheet_name", "Feedback")
	v.SetDefault("sheets.oauth", false)
	v.SetDefault("transport.timeout", 30*time.Second)
	v.SetDefault("transport.max_retries", 3)
}

func ensure() {
	if v == nil {
		_ = Initialize("")
	}
}

// Path returns the config file in use.
func Path() string {
	ensure()
	return path
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	ensure()
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	ensure()
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	ensure()
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	ensure()
	return v.GetDuration(key)
}

// GetStringSlice retrieves a list. Comma-separated strings are split.
func GetStringSlice(key string) []string {
	ensure()
	out := []string{}
	for _, s := range v.GetStringSlice(key) {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// AllSettings returns the merged settings as a nested map.
func AllSettings() map[string]interface{} {
	ensure()
	return v.AllSettings()
}

// Flat returns every known key under prefix as dotted key -> string value.
// An empty prefix returns everything.
func Flat(prefix string) map[string]string {
	ensure()
	prefix = strings.ToLower(prefix)
	out := map[string]string{}
	for _, k := range v.AllKeys() {
		if prefix == "" || k == prefix || strings.HasPrefix(k, prefix+".") {
			out[k] = v.GetString(k)
		}
	}
	return out
}

// Keys returns the sorted dotted keys of Flat(prefix).
func Keys(prefix string) []string {
	flat := Flat(prefix)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsSettable reports whether the CLI may write key.
func IsSettable(key string) bool {
	key = strings.ToLower(key)
	for _, s := range settable {
		if strings.HasSuffix(s, ".") {
			if strings.HasPrefix(key, s) && len(key) > len(s) {
				return true
			}
			continue
		}
		if key == s {
			return true
		}
	}
	return false
}

// Set updates key in memory. Call Save to persist it.
func Set(key string, value interface{}) error {
	ensure()
	if !IsSettable(key) {
		return fmt.Errorf("config key %q is not settable", key)
	}
	v.Set(key, value)
	file.Set(key, value)
	return nil
}

// Save writes the file-backed settings, creating the directory if needed.
func Save() error {
	ensure()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := file.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
