package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Config holds tool-level defaults. Per-project settings (resolution,
// transition, volumes) live in the project snapshot; values here only seed
// new projects and configure the process itself.
type Config struct {
	OutputDir string `yaml:"output_dir"`
	Workers   int    `yaml:"workers"` // 0 = derive from CPU count

	Render RenderConfig `yaml:"render"`
	FFmpeg FFmpegConfig `yaml:"ffmpeg"`
	Assist AssistConfig `yaml:"assist"`
	Server ServerConfig `yaml:"server"`
}

type RenderConfig struct {
	Resolution    string  `yaml:"resolution"` // "720p" or "1080p"
	FPS           int     `yaml:"fps"`        // 30 or 60
	Transition    string  `yaml:"transition"` // none, fade, slide, zoom
	TransitionSec float64 `yaml:"transition_sec"`
}

type FFmpegConfig struct {
	BinaryPath string `yaml:"binary_path"`
	Encoder    string `yaml:"encoder"` // empty = negotiate best available
	Quality    int    `yaml:"quality"` // 0 = per-encoder default
}

type AssistConfig struct {
	GeminiModel  string `yaml:"gemini_model"`
	WhisperURL   string `yaml:"whisper_url"`
	CaptionStyle string `yaml:"caption_style"`
	Concurrency  int    `yaml:"concurrency"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads configuration from path, or from the first config file found
// on the search path, falling back to defaults when none exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func Default() *Config {
	return &Config{
		OutputDir: "output",
		Workers:   0,
		Render: RenderConfig{
			Resolution:    "720p",
			FPS:           30,
			Transition:    "fade",
			TransitionSec: 0.5,
		},
		FFmpeg: FFmpegConfig{
			BinaryPath: "ffmpeg",
			Encoder:    "",
			Quality:    0,
		},
		Assist: AssistConfig{
			GeminiModel: "gemini-2.0-flash",
			WhisperURL:  "http://localhost:8086",
			Concurrency: 2,
		},
		Server: ServerConfig{
			Addr: ":8088",
		},
	}
}

// Dimensions maps the configured resolution name to pixel sizes.
func (r RenderConfig) Dimensions() (width, height int) {
	if r.Resolution == "1080p" {
		return 1920, 1080
	}
	return 1280, 720
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
	return Default()
}

func findConfigFile() string {
	candidates := []string{
		"./lyric2video.yaml",
		"./lyric2video.yml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".lyric2video", "config.yaml"))
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
