// Package config handles renderer configuration loading.
package config

// Config holds every runtime setting of the renderer and the testbed.
type Config struct {
	Window   WindowConfig   `toml:"window"`
	Renderer RendererConfig `toml:"renderer"`
	Shaders  ShaderConfig   `toml:"shaders"`
	Scene    SceneConfig    `toml:"scene"`
	Logging  LoggingConfig  `toml:"logging"`
}

// WindowConfig holds the initial window placement.
type WindowConfig struct {
	Title  string `toml:"title"`
	X      uint32 `toml:"x"`
	Y      uint32 `toml:"y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

// RendererConfig holds GPU and presentation settings.
type RendererConfig struct {
	Mode       string     `toml:"mode"` // "raster" or "raytrace"
	ClearColor [4]float32 `toml:"clear_color"`
	VSync      bool       `toml:"vsync"`
	Validation bool       `toml:"validation"`
	// MaxTextureSize bounds the longest side of a decoded scene texture; larger ones are
	// downscaled on load.
	MaxTextureSize int `toml:"max_texture_size"`
}

// ShaderConfig holds where shader sources live and how they are compiled.
type ShaderConfig struct {
	SourceDir string `toml:"source_dir"`
	OutputDir string `toml:"output_dir"`
	Glslc     string `toml:"glslc"`
	HotReload bool   `toml:"hot_reload"`
}

// SceneConfig points at the YAML scene manifest. Empty means the built-in demo scene.
type SceneConfig struct {
	Manifest string `toml:"manifest"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Window: WindowConfig{
			Title:  "Prism",
			X:      100,
			Y:      100,
			Width:  1280,
			Height: 720,
		},
		Renderer: RendererConfig{
			Mode:           "raster",
			ClearColor:     [4]float32{0.2, 0.2, 0.25, 1.0},
			VSync:          true,
			Validation:     false,
			MaxTextureSize: 2048,
		},
		Shaders: ShaderConfig{
			SourceDir: "assets/shaders",
			OutputDir: "assets/shaders/bin",
			Glslc:     "glslc",
			HotReload: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}
