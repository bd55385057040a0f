package config

import (
	"bytes"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/vulkan"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Application ApplicationConfig `toml:"application"`
	Renderer    RendererConfig    `toml:"renderer"`
	Log         LogConfig         `toml:"log"`
}

type ApplicationConfig struct {
	Name        string `toml:"name"`
	StartPosX   uint32 `toml:"start_pos_x"`
	StartPosY   uint32 `toml:"start_pos_y"`
	StartWidth  uint32 `toml:"start_width"`
	StartHeight uint32 `toml:"start_height"`
	Resizable   bool   `toml:"resizable"`
	AssetsDir   string `toml:"assets_dir"`
}

type RendererConfig struct {
	FramesInFlight uint32 `toml:"frames_in_flight"`
	// 0 picks the device minimum plus one
	ImageCount           uint32 `toml:"image_count"`
	VSync                bool   `toml:"vsync"`
	FenceTimeoutMS       uint32 `toml:"fence_timeout_ms"`
	Validation           bool   `toml:"validation"`
	SerializeSubmissions bool   `toml:"serialize_submissions"`
	RequireDiscreteGPU   bool   `toml:"require_discrete_gpu"`
	AllocatorBlockSizeMB uint32 `toml:"allocator_block_size_mb"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

func Default() Config {
	return Config{
		Application: ApplicationConfig{
			Name:        "vkscaffold",
			StartPosX:   100,
			StartPosY:   100,
			StartWidth:  1280,
			StartHeight: 720,
			Resizable:   true,
			AssetsDir:   "assets",
		},
		Renderer: RendererConfig{
			FramesInFlight:       2,
			FenceTimeoutMS:       5000,
			AllocatorBlockSizeMB: 64,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the TOML file at path on top of the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes data on top of the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, errors.Wrap(ErrInvalidConfig, strict.String())
		}
		return Config{}, errors.Wrap(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Application.Name == "":
		return errors.Wrap(ErrInvalidConfig, "application.name is empty")
	case c.Application.StartWidth == 0 || c.Application.StartHeight == 0:
		return errors.Wrap(ErrInvalidConfig, "application window size must be positive")
	case c.Renderer.FramesInFlight == 0 || c.Renderer.FramesInFlight > vulkan.VULKAN_MAX_FRAMES_IN_FLIGHT:
		return errors.Wrapf(ErrInvalidConfig, "renderer.frames_in_flight must be within [1, %d]", vulkan.VULKAN_MAX_FRAMES_IN_FLIGHT)
	case c.Renderer.FenceTimeoutMS == 0:
		return errors.Wrap(ErrInvalidConfig, "renderer.fence_timeout_ms must be positive")
	case c.Renderer.AllocatorBlockSizeMB == 0:
		return errors.Wrap(ErrInvalidConfig, "renderer.allocator_block_size_mb must be positive")
	}
	if _, err := log.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "log.level: %s", err)
	}
	return nil
}

// FenceTimeout is the bound on every host wait for the GPU.
func (r RendererConfig) FenceTimeout() time.Duration {
	return time.Duration(r.FenceTimeoutMS) * time.Millisecond
}

// Vulkan returns the renderer settings in the form the backend takes.
func (c Config) Vulkan() vulkan.Config {
	return vulkan.Config{
		ApplicationName:      c.Application.Name,
		FramesInFlight:       c.Renderer.FramesInFlight,
		ImageCount:           c.Renderer.ImageCount,
		VSync:                c.Renderer.VSync,
		FenceTimeout:         c.Renderer.FenceTimeout(),
		SerializeSubmissions: c.Renderer.SerializeSubmissions,
		RequireDiscreteGPU:   c.Renderer.RequireDiscreteGPU,
		AllocatorBlockSize:   uint64(c.Renderer.AllocatorBlockSizeMB) << 20,
	}
}
