package drivertest

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

type swapchain struct {
	info       driver.SwapchainCreateInfo
	images     []driver.Image
	acquired   map[uint32]bool
	next       uint32
	outOfDate  bool
	suboptimal bool
	retired    bool
}

// SwapchainInfo returns the creation parameters of the most recently
// created live swapchain.
func (d *Device) SwapchainInfo() (driver.SwapchainCreateInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var (
		best  driver.Swapchain
		found bool
	)
	for h := range d.swapchains {
		if !found || h > best {
			best, found = h, true
		}
	}
	if !found {
		return driver.SwapchainCreateInfo{}, false
	}
	return d.swapchains[best].info, true
}

// Swapchains returns the number of live swapchains.
func (d *Device) Swapchains() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.swapchains)
}

// InvalidateSwapchains marks every live swapchain out of date, as a window
// resize would.
func (d *Device) InvalidateSwapchains() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sc := range d.swapchains {
		sc.outOfDate = true
	}
}

// SetSuboptimal makes acquire and present on live swapchains report
// suboptimal.
func (d *Device) SetSuboptimal(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sc := range d.swapchains {
		sc.suboptimal = v
	}
}

func (d *Device) CreateSwapchain(info driver.SwapchainCreateInfo) (driver.Swapchain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	caps := d.spec.Capabilities
	if info.MinImageCount < caps.MinImageCount || (caps.MaxImageCount > 0 && info.MinImageCount > caps.MaxImageCount) {
		d.violate("swapchain image count %d outside [%d, %d]", info.MinImageCount, caps.MinImageCount, caps.MaxImageCount)
	}
	if info.Extent.Width == 0 || info.Extent.Height == 0 {
		return 0, fmt.Errorf("swapchain extent %dx%d is empty", info.Extent.Width, info.Extent.Height)
	}
	if info.OldSwapchain != 0 {
		if old, ok := d.swapchains[info.OldSwapchain]; ok {
			old.retired = true
		}
	}
	h := driver.Swapchain(d.handle())
	sc := &swapchain{
		info:     info,
		acquired: make(map[uint32]bool),
	}
	for i := uint32(0); i < info.MinImageCount; i++ {
		ih := driver.Image(d.handle())
		img := newImage(driver.ImageCreateInfo{
			Format:    info.Format.Format,
			Extent:    driver.Extent3D{Width: info.Extent.Width, Height: info.Extent.Height, Depth: 1},
			MipLevels: 1,
			Usage:     info.Usage,
		})
		img.owner = h
		d.images[ih] = img
		sc.images = append(sc.images, ih)
	}
	d.swapchains[h] = sc
	return h, nil
}

func (d *Device) DestroySwapchain(h driver.Swapchain) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := d.swapchains[h]
	if !ok {
		return
	}
	for _, ih := range sc.images {
		if img, ok := d.images[ih]; ok && img.inFlight > 0 {
			d.violate("swapchain %d destroyed while image %d is in use", h, ih)
		}
		delete(d.images, ih)
	}
	delete(d.swapchains, h)
}

func (d *Device) SwapchainImages(h driver.Swapchain) ([]driver.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := d.swapchains[h]
	if !ok {
		return nil, fmt.Errorf("unknown swapchain %d", h)
	}
	return append([]driver.Image(nil), sc.images...), nil
}

// AcquireNextImage hands out images round-robin, skipping the ones the
// application still owns.
func (d *Device) AcquireNextImage(h driver.Swapchain, timeout time.Duration, signal driver.Semaphore, fh driver.Fence) (uint32, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Acquires++
	sc, ok := d.swapchains[h]
	if !ok {
		return 0, false, fmt.Errorf("unknown swapchain %d", h)
	}
	if sc.retired {
		d.violate("acquire from retired swapchain %d", h)
	}
	if sc.outOfDate {
		return 0, false, driver.ErrOutOfDate
	}
	n := uint32(len(sc.images))
	for i := uint32(0); i < n; i++ {
		idx := (sc.next + i) % n
		if sc.acquired[idx] {
			continue
		}
		sc.acquired[idx] = true
		sc.next = (idx + 1) % n
		if signal != 0 {
			d.signal(signal, "acquire")
		}
		if fh != 0 {
			if f, ok := d.fences[fh]; ok {
				f.signaled = true
			}
		}
		return idx, sc.suboptimal, nil
	}
	d.violate("acquire with all %d images held by the application", n)
	return 0, false, driver.ErrTimeout
}

func (d *Device) QueuePresent(q driver.Queue, info driver.PresentInfo) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Presents++
	for _, s := range info.WaitSemaphores {
		d.wait(s, "present")
	}
	sc, ok := d.swapchains[info.Swapchain]
	if !ok {
		return false, fmt.Errorf("unknown swapchain %d", info.Swapchain)
	}
	if !sc.acquired[info.ImageIndex] {
		d.violate("present of image %d which was not acquired", info.ImageIndex)
	}
	delete(sc.acquired, info.ImageIndex)
	if sc.outOfDate {
		return false, driver.ErrOutOfDate
	}
	return sc.suboptimal, nil
}
