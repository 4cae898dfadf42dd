package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pelletier/go-toml/v2"
)

// Load loads configuration with priority: defaults < file < flags.
func Load() (*Config, error) {
	cfg := Default()

	configPath := ConfigPath()
	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", configPath, err)
		}
	}

	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the renderer cannot start with.
func (c *Config) Validate() error {
	switch c.Renderer.Mode {
	case "raster", "raytrace":
	default:
		return fmt.Errorf("renderer.mode must be raster or raytrace, got %q", c.Renderer.Mode)
	}
	if c.Renderer.MaxTextureSize <= 0 {
		return fmt.Errorf("renderer.max_texture_size must be positive, got %d", c.Renderer.MaxTextureSize)
	}
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return fmt.Errorf("window size must be non-zero, got %dx%d", c.Window.Width, c.Window.Height)
	}
	return nil
}

// findConfigFile looks for config in standard locations.
func findConfigFile() string {
	candidates := []string{
		"./prism.toml",
		filepath.Join(ConfigDir(), "prism.toml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Prism")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Prism")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "prism")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "prism")
	}
}

// loadFromFile loads config from a TOML file, merging with existing values.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return toml.Unmarshal(data, cfg)
}
