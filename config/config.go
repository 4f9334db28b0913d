package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"

	"stackvm/vm"
)

// Config holds settings for both the VM and the assembler. A zero value
// is never used directly; callers get one through DefaultConfig or Load.
type Config struct {
	// VM settings
	VM struct {
		TraceEnabled      bool   `toml:"trace_enabled"`
		GlobalMemoryWords int    `toml:"global_memory_words"`
		MaxSteps          uint64 `toml:"max_steps"`
	} `toml:"vm"`

	// Assembler settings
	Assembler struct {
		WarnUnusedLabels bool `toml:"warn_unused_labels"`
	} `toml:"assembler"`
}

// DefaultConfig returns a configuration with default values: no tracing,
// the spec's 65,535-word global memory, and no step limit.
func DefaultConfig() *Config {
	cfg := &Config{}

	// VM defaults
	cfg.VM.TraceEnabled = false
	cfg.VM.GlobalMemoryWords = vm.DefaultGlobalMemoryWords
	cfg.VM.MaxSteps = 0

	// Assembler defaults
	cfg.Assembler.WarnUnusedLabels = true

	return cfg
}

// GetConfigPath returns the platform-specific config file path
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		// Windows: %APPDATA%\stackvm\config.toml
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "stackvm")

	case "darwin", "linux":
		// macOS/Linux: ~/.config/stackvm/config.toml
		homeDir, err := os.UserHomeDir()
		if err != nil {
			// Fallback to current directory
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "stackvm")

	default:
		// Unknown platform: use current directory
		return "config.toml"
	}

	// Ensure directory exists
	if err := os.MkdirAll(configDir, 0750); err != nil {
		// If we can't create the directory, fall back to current directory
		return "config.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// Load loads configuration from the default config file
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from the specified file
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	// If file doesn't exist, return default config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read and parse config file
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to the specified file
func (c *Config) SaveTo(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create file
	f, err := os.Create(path) // #nosec G304 -- user config file path
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close config file: %w", closeErr)
		}
	}()

	// Encode to TOML
	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
