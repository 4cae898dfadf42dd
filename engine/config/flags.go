package config

import "flag"

var (
	flagConfig     = flag.String("config", "", "Path to config file")
	flagDebug      = flag.Bool("debug", false, "Enable debug logging")
	flagMode       = flag.String("mode", "", "Start mode: raster or raytrace")
	flagScene      = flag.String("scene", "", "Path to a scene manifest")
	flagValidation = flag.Bool("validation", false, "Enable Vulkan validation layers")
	flagWidth      = flag.Int("width", 0, "Window width")
	flagHeight     = flag.Int("height", 0, "Window height")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagMode != "" {
		cfg.Renderer.Mode = *flagMode
	}
	if *flagScene != "" {
		cfg.Scene.Manifest = *flagScene
	}
	if *flagValidation {
		cfg.Renderer.Validation = true
	}
	if *flagWidth > 0 {
		cfg.Window.Width = uint32(*flagWidth)
	}
	if *flagHeight > 0 {
		cfg.Window.Height = uint32(*flagHeight)
	}
}
