package systems

import (
	"runtime"

	"github.com/spaghettifunk/vkscaffold/engine/assets"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/vulkan"
)

type SystemManagerConfig struct {
	AssetsDir string
	// Workers is the number of job workers. 0 uses one per CPU, at most 4.
	Workers int
	Texture TextureSystemConfig
}

// SystemManager owns the systems that run beside the renderer and updates
// them once per frame on the render thread.
type SystemManager struct {
	JobSystem     *JobSystem
	AssetManager  *assets.AssetManager
	TextureSystem *TextureSystem
}

func NewSystemManager(config SystemManagerConfig, context *vulkan.Context, retirer Retirer) (*SystemManager, error) {
	workers := config.Workers
	if workers <= 0 {
		workers = min(runtime.NumCPU(), 4)
	}
	js, err := NewJobSystem(workers, 64)
	if err != nil {
		return nil, err
	}

	am, err := assets.NewAssetManager()
	if err != nil {
		js.Shutdown()
		return nil, err
	}
	if err := am.Initialize(config.AssetsDir); err != nil {
		am.Shutdown()
		js.Shutdown()
		return nil, err
	}

	if config.Texture.MaxTextureCount == 0 {
		config.Texture.MaxTextureCount = 1024
	}
	ts, err := NewTextureSystem(config.Texture, context, retirer, js, am)
	if err == nil {
		err = ts.Initialize()
	}
	if err != nil {
		am.Shutdown()
		js.Shutdown()
		return nil, err
	}

	return &SystemManager{
		JobSystem:     js,
		AssetManager:  am,
		TextureSystem: ts,
	}, nil
}

// Update runs once per frame, before the frame is recorded.
func (sm *SystemManager) Update() {
	sm.TextureSystem.Update()
	sm.JobSystem.Update()
}

// Shutdown stops the workers first so no callback can run against a
// released system.
func (sm *SystemManager) Shutdown() error {
	if err := sm.JobSystem.Shutdown(); err != nil {
		return err
	}
	sm.AssetManager.Shutdown()
	return sm.TextureSystem.Shutdown()
}
