package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/assets/loaders"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/resources"
)

var ErrAssetNotFound = errors.New("asset not found")

type AssetInfo struct {
	Path       string
	Type       resources.ResourceType
	LastLoaded time.Time
}

// AssetManager indexes the files under an assets directory, keeps the index
// current while files come and go, and reports modified assets on Changes so
// they can be reloaded.
type AssetManager struct {
	root    string
	assets  map[string]AssetInfo
	loaders map[resources.ResourceType]Loader

	mutex sync.RWMutex

	done     chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
	changes  chan string
	wg       sync.WaitGroup
}

func NewAssetManager() (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}

	return &AssetManager{
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[resources.ResourceType]Loader),
		fsnotify: fsWatch,
		changes:  make(chan string, 16),
		done:     make(chan struct{}),
	}, nil
}

func (am *AssetManager) Initialize(assetsDir string) error {
	root, err := filepath.Abs(assetsDir)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %s", assetsDir)
	}
	am.root = root

	// Register loaders
	am.registerLoader(resources.ResourceTypeImage, &loaders.ImageLoader{})

	if err := am.watchRecursive(root, false); err != nil {
		return errors.Wrapf(err, "failed to watch %s", assetsDir)
	}

	am.wg.Add(1)
	go am.start()
	core.LogInfo("asset manager watching %s (%d assets)", root, am.Count())
	return nil
}

// Changes reports the names of assets that were created or rewritten. Names
// are dropped when nobody reads them.
func (am *AssetManager) Changes() <-chan string {
	return am.changes
}

func (am *AssetManager) Count() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

func (am *AssetManager) Shutdown() {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return
	}
	am.isClosed = true
	am.mutex.Unlock()

	if am.root == "" {
		// never initialized, nothing is running
		am.fsnotify.Close()
		close(am.changes)
		return
	}
	close(am.done)
	am.wg.Wait()
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType resources.ResourceType, loader Loader) {
	am.loaders[assetType] = loader
}

// LoadAsset loads name, a path relative to the assets directory, with the
// loader registered for its type.
func (am *AssetManager) LoadAsset(name string, params interface{}) (*resources.Resource, error) {
	name = filepath.ToSlash(name)

	am.mutex.Lock()
	asset, exists := am.assets[name]
	if !exists {
		am.mutex.Unlock()
		return nil, errors.Wrap(ErrAssetNotFound, name)
	}
	// Load or reload asset from disk if necessary
	asset.LastLoaded = time.Now()
	am.assets[name] = asset // Update the loaded time
	am.mutex.Unlock()

	loader, loaderExists := am.loaders[asset.Type]
	if !loaderExists {
		return nil, fmt.Errorf("no loader registered for asset type: %s", asset.Type)
	}

	res, err := loader.Load(asset.Path, params)
	if err != nil {
		return nil, err
	}
	res.Name = name
	return res, nil
}

func (am *AssetManager) UnloadAsset(asset *resources.Resource) error {
	loader, ok := am.loaders[asset.Type]
	if !ok {
		return fmt.Errorf("no loader registered for asset type: %s", asset.Type)
	}
	return loader.Unload(asset)
}

func (am *AssetManager) start() {
	defer am.wg.Done()
	for {
		select {

		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					am.watchRecursive(e.Name, false)
				}
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if name, ok := am.handleFileEvent(e.Name); ok {
					am.notify(name)
				}
			}
			//Can't stat a deleted directory, so just pretend that it's always a directory and
			//try to remove from the watch list...  we really have no clue if it's a directory or not...
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				am.removeAsset(e.Name)
				am.fsnotify.Remove(e.Name)
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-am.done:
			am.fsnotify.Close()
			close(am.changes)
			return
		}
	}
}

func (am *AssetManager) notify(name string) {
	select {
	case am.changes <- name:
	default:
		core.LogWarn("asset change for %s dropped", name)
	}
}

// watchRecursive adds all directories under the given one to the watch list
// and indexes the files found on the way.
func (am *AssetManager) watchRecursive(path string, unWatch bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if unWatch {
				return am.fsnotify.Remove(walkPath)
			}
			return am.fsnotify.Add(walkPath)
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

// Handle the creation or modification of a file. Returns the asset name if
// the file is an asset.
func (am *AssetManager) handleFileEvent(path string) (string, bool) {
	assetType := determineAssetType(path)
	if assetType == resources.ResourceTypeNone {
		return "", false
	}
	name, err := filepath.Rel(am.root, path)
	if err != nil || strings.HasPrefix(name, "..") {
		return "", false
	}
	name = filepath.ToSlash(name)

	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.assets[name] = AssetInfo{
		Path: path,
		Type: assetType,
	}
	return name, true
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	name, err := filepath.Rel(am.root, path)
	if err != nil {
		return
	}
	am.mutex.Lock()
	defer am.mutex.Unlock()

	delete(am.assets, filepath.ToSlash(name))
}

func determineAssetType(path string) resources.ResourceType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff":
		return resources.ResourceTypeImage
	default:
		return resources.ResourceTypeNone
	}
}
