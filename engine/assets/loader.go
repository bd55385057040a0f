package assets

import "github.com/spaghettifunk/vkscaffold/engine/resources"

type Loader interface {
	Load(path string, params interface{}) (*resources.Resource, error) // `interface{}` here allows loaders to take their own parameters
	Unload(*resources.Resource) error
}
