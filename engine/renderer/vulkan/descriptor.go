package vulkan

import (
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

/**
 * @brief One binding of a descriptor group: its slot, type, the shader
 * stages reading it and the resources written into it. Exactly Count
 * entries of Buffers (buffer types) or Images (image types) are expected.
 */
type DescriptorBinding struct {
	Binding uint32
	Type    driver.DescriptorType
	Stages  driver.ShaderStage
	Count   uint32
	Buffers []driver.DescriptorBufferInfo
	Images  []driver.DescriptorImageInfo
}

// BufferBinding binds one whole buffer.
func BufferBinding(binding uint32, t driver.DescriptorType, stages driver.ShaderStage, buf *Buffer) DescriptorBinding {
	return DescriptorBinding{
		Binding: binding,
		Type:    t,
		Stages:  stages,
		Count:   1,
		Buffers: []driver.DescriptorBufferInfo{{Buffer: buf.Handle, Range: buf.Size}},
	}
}

// ImageBinding binds one shader-readable image with its sampler.
func ImageBinding(binding uint32, stages driver.ShaderStage, img *Image, sampler *Sampler) DescriptorBinding {
	return DescriptorBinding{
		Binding: binding,
		Type:    driver.DescriptorTypeCombinedImageSampler,
		Stages:  stages,
		Count:   1,
		Images: []driver.DescriptorImageInfo{{
			Sampler: sampler.Handle,
			View:    img.View,
			Layout:  driver.ImageLayoutShaderReadOnly,
		}},
	}
}

/**
 * @brief A pool, layout and set built together from a binding list and
 * destroyed together. The pool holds exactly what the set needs.
 */
type DescriptorGroup struct {
	ID       uuid.UUID
	Pool     driver.DescriptorPool
	Layout   driver.DescriptorSetLayout
	Set      driver.DescriptorSet
	Bindings []DescriptorBinding

	device driver.Device
}

func validateBindings(bindings []DescriptorBinding) error {
	if len(bindings) == 0 {
		return errors.Wrap(core.ErrDescriptorMismatch, "no bindings")
	}
	if len(bindings) > VULKAN_MAX_DESCRIPTOR_BINDINGS {
		return errors.Wrapf(core.ErrDescriptorMismatch, "%d bindings exceed the maximum of %d", len(bindings), VULKAN_MAX_DESCRIPTOR_BINDINGS)
	}
	seen := make(map[uint32]bool, len(bindings))
	for _, b := range bindings {
		if seen[b.Binding] {
			return errors.Wrapf(core.ErrDescriptorMismatch, "binding %d declared twice", b.Binding)
		}
		seen[b.Binding] = true
		if b.Count == 0 {
			return errors.Wrapf(core.ErrDescriptorMismatch, "binding %d has a zero count", b.Binding)
		}
		infos, wrong := len(b.Buffers), len(b.Images)
		if b.Type.IsImage() {
			infos, wrong = wrong, infos
		}
		if wrong > 0 {
			return errors.Wrapf(core.ErrDescriptorMismatch, "binding %d of type %s carries the wrong resource kind", b.Binding, b.Type)
		}
		if uint32(infos) != b.Count {
			return errors.Wrapf(core.ErrDescriptorMismatch, "binding %d declares %d descriptors but supplies %d", b.Binding, b.Count, infos)
		}
	}
	return nil
}

// poolSizes aggregates descriptor counts per type.
func poolSizes(bindings []DescriptorBinding) []driver.DescriptorPoolSize {
	counts := make(map[driver.DescriptorType]uint32)
	for _, b := range bindings {
		counts[b.Type] += b.Count
	}
	sizes := make([]driver.DescriptorPoolSize, 0, len(counts))
	for t, n := range counts {
		sizes = append(sizes, driver.DescriptorPoolSize{Type: t, Count: n})
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i].Type < sizes[j].Type })
	return sizes
}

// NewDescriptorGroup builds the pool, layout and set for bindings and
// writes every binding before returning. On failure nothing is left behind.
func NewDescriptorGroup(context *Context, bindings []DescriptorBinding) (*DescriptorGroup, error) {
	if err := validateBindings(bindings); err != nil {
		core.LogError("invalid descriptor bindings: %v", err)
		return nil, err
	}
	device := context.Device.LogicalDevice
	group := &DescriptorGroup{
		ID:       uuid.New(),
		Bindings: append([]DescriptorBinding(nil), bindings...),
		device:   device,
	}

	layoutBindings := make([]driver.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		layoutBindings[i] = driver.DescriptorSetLayoutBinding{
			Binding: b.Binding,
			Type:    b.Type,
			Count:   b.Count,
			Stages:  b.Stages,
		}
	}
	layout, err := device.CreateDescriptorSetLayout(layoutBindings)
	if err != nil {
		return nil, deviceError(err, "create descriptor set layout")
	}
	group.Layout = layout

	pool, err := device.CreateDescriptorPool(1, poolSizes(bindings))
	if err != nil {
		group.Destroy()
		return nil, deviceError(err, "create descriptor pool")
	}
	group.Pool = pool

	set, err := device.AllocateDescriptorSet(pool, layout)
	if err != nil {
		group.Destroy()
		return nil, deviceError(err, "allocate descriptor set")
	}
	group.Set = set

	writes := make([]driver.DescriptorWrite, len(bindings))
	for i, b := range bindings {
		writes[i] = driver.DescriptorWrite{
			Set:     set,
			Binding: b.Binding,
			Type:    b.Type,
			Buffers: b.Buffers,
			Images:  b.Images,
		}
	}
	device.UpdateDescriptorSets(writes)
	core.LogDebug("descriptor group %s created with %d bindings", group.ID, len(bindings))
	return group, nil
}

// Destroy releases the pool (and with it the set) and the layout.
func (g *DescriptorGroup) Destroy() {
	if g.Pool != 0 {
		g.device.DestroyDescriptorPool(g.Pool)
		g.Pool = 0
		g.Set = 0
	}
	if g.Layout != 0 {
		g.device.DestroyDescriptorSetLayout(g.Layout)
		g.Layout = 0
	}
}
