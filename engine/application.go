package engine

import (
	"github.com/spaghettifunk/vkscaffold/engine/config"
)

type ApplicationConfig struct {
	config.Config
	// ConfigPath is watched for changes while the application runs. Empty
	// disables hot reload.
	ConfigPath string
}

// LoadApplicationConfig reads path, or returns the defaults when path is
// empty.
func LoadApplicationConfig(path string) (*ApplicationConfig, error) {
	if path == "" {
		return &ApplicationConfig{Config: config.Default()}, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return &ApplicationConfig{Config: cfg, ConfigPath: path}, nil
}
