package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	TempDir string `yaml:"temp_dir" env:"TEMP_DIR"`

	Pipeline PipelineConfig `yaml:"pipeline" envPrefix:"PIPELINE_"`
	Matting  MattingConfig  `yaml:"matting" envPrefix:"MATTING_"`
	FFmpeg   FFmpegConfig   `yaml:"ffmpeg" envPrefix:"FFMPEG_"`
	Output   OutputConfig   `yaml:"output" envPrefix:"OUTPUT_"`
}

type PipelineConfig struct {
	// Workers is the number of concurrent inference workers; 0 means one per CPU.
	Workers int `yaml:"workers" env:"WORKERS"`
	// Window caps the number of decoded frames in flight.
	Window int `yaml:"window" env:"WINDOW"`
}

type MattingConfig struct {
	// Engine is "onnx" or "chroma". An onnx engine without a model falls back to chroma.
	Engine       string     `yaml:"engine" env:"ENGINE"`
	ModelPath    string     `yaml:"model_path" env:"MODEL_PATH"`
	LibraryPath  string     `yaml:"onnx_library" env:"ONNX_LIBRARY"`
	InputWidth   int        `yaml:"input_width" env:"INPUT_WIDTH"`
	InputHeight  int        `yaml:"input_height" env:"INPUT_HEIGHT"`
	InputName    string     `yaml:"input_name"`
	OutputName   string     `yaml:"output_name"`
	Mean         [3]float32 `yaml:"mean"`
	Std          [3]float32 `yaml:"std"`
	KeyColor     string     `yaml:"key_color" env:"KEY_COLOR"`
	KeyTolerance float64    `yaml:"key_tolerance"`
	KeySoftness  float64    `yaml:"key_softness"`
}

type FFmpegConfig struct {
	Threads int `yaml:"threads" env:"THREADS"`
}

type OutputConfig struct {
	Codec string `yaml:"codec" env:"CODEC"`
	// Quality runs from 0 (best) to 1 (worst). x264/x265 get crf = quality × 51.
	Quality float64 `yaml:"quality" env:"QUALITY"`
}

// Load reads configuration from file or returns defaults, then applies
// VIDEOMATTE_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "VIDEOMATTE_"}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a job.
func (c *Config) Validate() error {
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline.workers must be >= 0, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.Window < 1 {
		return fmt.Errorf("pipeline.window must be >= 1, got %d", c.Pipeline.Window)
	}
	if c.Matting.InputWidth <= 0 || c.Matting.InputHeight <= 0 {
		return fmt.Errorf("matting input size must be positive, got %dx%d",
			c.Matting.InputWidth, c.Matting.InputHeight)
	}
	switch c.Matting.Engine {
	case "onnx", "chroma":
	default:
		return fmt.Errorf("unknown matting engine %q", c.Matting.Engine)
	}
	return nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func defaultConfig() *Config {
	return &Config{
		TempDir: os.TempDir(),
		Pipeline: PipelineConfig{
			Workers: 0,
			Window:  8,
		},
		Matting: MattingConfig{
			Engine:       "onnx",
			ModelPath:    "./models/modnet_photographic.onnx",
			InputWidth:   512,
			InputHeight:  288,
			InputName:    "input",
			OutputName:   "output",
			Mean:         [3]float32{0.5, 0.5, 0.5},
			Std:          [3]float32{0.5, 0.5, 0.5},
			KeyColor:     "#00b140",
			KeyTolerance: 0.25,
			KeySoftness:  0.15,
		},
		FFmpeg: FFmpegConfig{
			Threads: 0,
		},
		Output: OutputConfig{
			Codec:   "libx264",
			Quality: 0.35,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		filepath.Join(os.Getenv("HOME"), ".videomatte", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
