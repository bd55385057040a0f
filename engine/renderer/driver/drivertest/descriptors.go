package drivertest

import (
	"fmt"

	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

type descriptorPool struct {
	maxSets   uint32
	sets      uint32
	remaining map[driver.DescriptorType]uint32
}

type descriptorSet struct {
	pool   driver.DescriptorPool
	layout driver.DescriptorSetLayout
}

func (d *Device) CreateDescriptorSetLayout(bindings []driver.DescriptorSetLayoutBinding) (driver.DescriptorSetLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[uint32]bool, len(bindings))
	for _, b := range bindings {
		if seen[b.Binding] {
			return 0, fmt.Errorf("duplicate descriptor binding %d", b.Binding)
		}
		seen[b.Binding] = true
	}
	h := driver.DescriptorSetLayout(d.handle())
	d.layouts[h] = append([]driver.DescriptorSetLayoutBinding(nil), bindings...)
	return h, nil
}

func (d *Device) DestroyDescriptorSetLayout(h driver.DescriptorSetLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.layouts, h)
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []driver.DescriptorPoolSize) (driver.DescriptorPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if maxSets == 0 {
		return 0, fmt.Errorf("descriptor pool with zero max sets")
	}
	p := &descriptorPool{maxSets: maxSets, remaining: make(map[driver.DescriptorType]uint32)}
	for _, s := range sizes {
		p.remaining[s.Type] += s.Count
	}
	h := driver.DescriptorPool(d.handle())
	d.dpools[h] = p
	return h, nil
}

// DestroyDescriptorPool also frees every set allocated from the pool.
func (d *Device) DestroyDescriptorPool(h driver.DescriptorPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for sh, s := range d.dsets {
		if s.pool == h {
			delete(d.dsets, sh)
		}
	}
	delete(d.dpools, h)
}

func (d *Device) AllocateDescriptorSet(ph driver.DescriptorPool, lh driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.dpools[ph]
	if !ok {
		return 0, fmt.Errorf("unknown descriptor pool %d", ph)
	}
	bindings, ok := d.layouts[lh]
	if !ok {
		return 0, fmt.Errorf("unknown descriptor set layout %d", lh)
	}
	if p.sets >= p.maxSets {
		return 0, driver.ErrOutOfPoolMemory
	}
	need := make(map[driver.DescriptorType]uint32)
	for _, b := range bindings {
		need[b.Type] += b.Count
	}
	for t, n := range need {
		if p.remaining[t] < n {
			return 0, driver.ErrOutOfPoolMemory
		}
	}
	for t, n := range need {
		p.remaining[t] -= n
	}
	p.sets++
	h := driver.DescriptorSet(d.handle())
	d.dsets[h] = &descriptorSet{pool: ph, layout: lh}
	return h, nil
}

func (d *Device) UpdateDescriptorSets(writes []driver.DescriptorWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range writes {
		s, ok := d.dsets[w.Set]
		if !ok {
			d.violate("descriptor write to unknown set %d", w.Set)
			continue
		}
		var binding *driver.DescriptorSetLayoutBinding
		for i, b := range d.layouts[s.layout] {
			if b.Binding == w.Binding {
				binding = &d.layouts[s.layout][i]
				break
			}
		}
		if binding == nil {
			d.violate("descriptor write to missing binding %d", w.Binding)
			continue
		}
		if binding.Type != w.Type {
			d.violate("descriptor write of %s to binding %d declared %s", w.Type, w.Binding, binding.Type)
		}
		n := uint32(len(w.Buffers) + len(w.Images))
		if n == 0 || n > binding.Count {
			d.violate("descriptor write of %d descriptors to binding %d of count %d", n, w.Binding, binding.Count)
		}
		if w.Type.IsImage() && len(w.Buffers) > 0 || !w.Type.IsImage() && len(w.Images) > 0 {
			d.violate("descriptor write to binding %d carries the wrong resource kind", w.Binding)
		}
		for _, b := range w.Buffers {
			if _, ok := d.buffers[b.Buffer]; !ok {
				d.violate("descriptor write references destroyed buffer %d", b.Buffer)
			}
		}
		for _, img := range w.Images {
			if _, ok := d.views[img.View]; img.View != 0 && !ok {
				d.violate("descriptor write references destroyed view %d", img.View)
			}
		}
		d.writes = append(d.writes, w)
	}
}
