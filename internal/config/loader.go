package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
	envPrefix         = "CASESMITH_"
)

// topLevelKeys are config keys that live outside any section and may contain underscores.
var topLevelKeys = map[string]bool{
	"test_type":   true,
	"concurrency": true,
}

// legacyEnv maps the bare variable names used by earlier releases onto config keys.
var legacyEnv = map[string]string{
	"BASE_URL":  "llm.base_url",
	"LLM_KEY":   "llm.api_key",
	"LLM_MODEL": "llm.model",
}

// Load loads configuration from the YAML file at configPath, then overrides
// it with environment variables.
//
// Precedence (highest to lowest):
//  1. CASESMITH_* environment variables (CASESMITH_RETRY_CALL_TIMEOUT -> retry.call_timeout)
//  2. BASE_URL, LLM_KEY and LLM_MODEL
//  3. YAML config file
//  4. Default()
//
// An empty configPath uses ~/.config/casesmith/config.yaml when it exists.
// An explicit configPath must exist.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	path, explicit, err := resolvePath(configPath)
	if err != nil {
		return nil, err
	}

	content, err := readConfigFile(path, explicit)
	if err != nil {
		return nil, err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return legacyEnv[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envKey maps CASESMITH_SECTION_FIELD_NAME to section.field_name.
// Only the first underscore after the prefix separates section from field.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	if topLevelKeys[lower] {
		return lower
	}
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "casesmith", "config.yaml"), nil
}

func resolvePath(configPath string) (string, bool, error) {
	if configPath != "" {
		return configPath, true, nil
	}
	path, err := DefaultPath()
	if err != nil {
		return "", false, err
	}
	return path, false, nil
}

// readConfigFile returns nil content when an implicit default file is absent.
func readConfigFile(path string, explicit bool) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Validate through the open descriptor to avoid a TOCTOU race.
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties rejects directories, world-writable files and oversized files.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("config path is a directory")
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("insecure config file permissions: %v (world-writable)", info.Mode().Perm())
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
