package vulkan

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/vkscaffold/engine/core"
	"github.com/spaghettifunk/vkscaffold/engine/math"
	"github.com/spaghettifunk/vkscaffold/engine/renderer/driver"
)

// MemoryLocation is where a resource's memory lives.
type MemoryLocation int

const (
	// MemoryLocationDeviceLocal is fast GPU memory, not mappable.
	MemoryLocationDeviceLocal MemoryLocation = iota
	// MemoryLocationHostVisibleCoherent is mappable memory that needs no
	// explicit flushes.
	MemoryLocationHostVisibleCoherent
)

func (l MemoryLocation) String() string {
	if l == MemoryLocationHostVisibleCoherent {
		return "host-visible"
	}
	return "device-local"
}

func (l MemoryLocation) properties() driver.MemoryProperty {
	if l == MemoryLocationHostVisibleCoherent {
		return driver.MemoryPropertyHostVisible | driver.MemoryPropertyHostCoherent
	}
	return driver.MemoryPropertyDeviceLocal
}

// Allocation is a range of device memory handed out by the Allocator.
type Allocation struct {
	Memory    driver.Memory
	Offset    uint64
	Size      uint64
	TypeIndex uint32
	// Mapped aliases the allocation when its memory is host visible.
	Mapped []byte

	block *memoryBlock
}

// Dedicated reports whether the allocation owns its device memory. A freed
// sub-allocation no longer belongs to a block and reports true.
func (a *Allocation) Dedicated() bool {
	return a.block == nil
}

type memorySpan struct {
	offset, size uint64
}

type memoryBlock struct {
	memory    driver.Memory
	size      uint64
	typeIndex uint32
	mapped    []byte
	// free spans sorted by offset
	free []memorySpan
	used int
}

// AllocatorStats describes the device memory currently held.
type AllocatorStats struct {
	Blocks      int
	Dedicated   int
	Allocations int
	BlockBytes  uint64
}

// Allocator picks memory types and sub-allocates buffers and images from
// large blocks. Requests bigger than half a block get their own memory.
type Allocator struct {
	device    driver.Device
	props     driver.MemoryProperties
	blockSize uint64

	mu        sync.Mutex
	blocks    map[uint32][]*memoryBlock
	dedicated map[driver.Memory]bool
}

func NewAllocator(device driver.Device, props driver.MemoryProperties, blockSize uint64) *Allocator {
	return &Allocator{
		device:    device,
		props:     props,
		blockSize: blockSize,
		blocks:    make(map[uint32][]*memoryBlock),
		dedicated: make(map[driver.Memory]bool),
	}
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// has every property in propertyFlags.
func (a *Allocator) FindMemoryIndex(typeFilter uint32, propertyFlags driver.MemoryProperty) (uint32, bool) {
	for i, t := range a.props.Types {
		// Check each memory type to see if its bit is set to 1.
		if typeFilter&(1<<uint(i)) != 0 && t.Properties&propertyFlags == propertyFlags {
			return uint32(i), true
		}
	}
	return 0, false
}

func (a *Allocator) hostVisible(typeIndex uint32) bool {
	return a.props.Types[typeIndex].Properties&driver.MemoryPropertyHostVisible != 0
}

// Allocate returns memory satisfying req at location.
func (a *Allocator) Allocate(req driver.MemoryRequirements, location MemoryLocation) (*Allocation, error) {
	typeIndex, ok := a.FindMemoryIndex(req.MemoryTypeBits, location.properties())
	if !ok {
		return nil, errors.Wrapf(core.ErrOutOfMemory, "no %s memory type in bits %#x", location, req.MemoryTypeBits)
	}
	if req.Size == 0 {
		return nil, errors.New("zero-sized allocation")
	}
	alignment := math.Max(req.Alignment, 1)

	a.mu.Lock()
	defer a.mu.Unlock()

	if req.Size > a.blockSize/2 {
		return a.allocateDedicated(req.Size, typeIndex)
	}
	for _, b := range a.blocks[typeIndex] {
		if alloc := b.carve(req.Size, alignment); alloc != nil {
			return alloc, nil
		}
	}
	b, err := a.newBlock(typeIndex)
	if err != nil {
		return nil, err
	}
	alloc := b.carve(req.Size, alignment)
	if alloc == nil {
		return nil, errors.Errorf("allocation of %d bytes does not fit a fresh %d byte block", req.Size, a.blockSize)
	}
	return alloc, nil
}

func (a *Allocator) allocateMemory(size uint64, typeIndex uint32) (driver.Memory, []byte, error) {
	mem, err := a.device.AllocateMemory(size, typeIndex)
	if err != nil {
		return 0, nil, deviceError(err, "allocate device memory")
	}
	if !a.hostVisible(typeIndex) {
		return mem, nil, nil
	}
	mapped, err := a.device.MapMemory(mem, size)
	if err != nil {
		a.device.FreeMemory(mem)
		return 0, nil, errors.Wrap(err, "map memory")
	}
	return mem, mapped, nil
}

func (a *Allocator) allocateDedicated(size uint64, typeIndex uint32) (*Allocation, error) {
	mem, mapped, err := a.allocateMemory(size, typeIndex)
	if err != nil {
		return nil, err
	}
	a.dedicated[mem] = true
	return &Allocation{Memory: mem, Size: size, TypeIndex: typeIndex, Mapped: mapped}, nil
}

func (a *Allocator) newBlock(typeIndex uint32) (*memoryBlock, error) {
	mem, mapped, err := a.allocateMemory(a.blockSize, typeIndex)
	if err != nil {
		return nil, err
	}
	b := &memoryBlock{
		memory:    mem,
		size:      a.blockSize,
		typeIndex: typeIndex,
		mapped:    mapped,
		free:      []memorySpan{{0, a.blockSize}},
	}
	a.blocks[typeIndex] = append(a.blocks[typeIndex], b)
	core.LogDebug("allocated %d byte memory block of type %d", a.blockSize, typeIndex)
	return b, nil
}

// carve takes the first free span able to hold size bytes at alignment.
func (b *memoryBlock) carve(size, alignment uint64) *Allocation {
	for i, span := range b.free {
		offset := math.AlignUp(span.offset, alignment)
		end := span.offset + span.size
		if offset+size > end {
			continue
		}
		var rest []memorySpan
		if offset > span.offset {
			rest = append(rest, memorySpan{span.offset, offset - span.offset})
		}
		if offset+size < end {
			rest = append(rest, memorySpan{offset + size, end - offset - size})
		}
		b.free = append(b.free[:i], append(rest, b.free[i+1:]...)...)
		b.used++
		alloc := &Allocation{
			Memory:    b.memory,
			Offset:    offset,
			Size:      size,
			TypeIndex: b.typeIndex,
			block:     b,
		}
		if b.mapped != nil {
			alloc.Mapped = b.mapped[offset : offset+size : offset+size]
		}
		return alloc
	}
	return nil
}

// release returns a span and merges it with its neighbours.
func (b *memoryBlock) release(offset, size uint64) {
	i := 0
	for i < len(b.free) && b.free[i].offset < offset {
		i++
	}
	b.free = append(b.free, memorySpan{})
	copy(b.free[i+1:], b.free[i:])
	b.free[i] = memorySpan{offset, size}
	if i+1 < len(b.free) && b.free[i].offset+b.free[i].size == b.free[i+1].offset {
		b.free[i].size += b.free[i+1].size
		b.free = append(b.free[:i+1], b.free[i+2:]...)
	}
	if i > 0 && b.free[i-1].offset+b.free[i-1].size == b.free[i].offset {
		b.free[i-1].size += b.free[i].size
		b.free = append(b.free[:i], b.free[i+1:]...)
	}
	b.used--
}

// Free returns alloc to the allocator. Empty blocks are released to the
// driver.
func (a *Allocator) Free(alloc *Allocation) {
	if alloc == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if alloc.Dedicated() {
		if a.dedicated[alloc.Memory] {
			delete(a.dedicated, alloc.Memory)
			a.freeMemory(alloc.Memory, alloc.TypeIndex)
		}
		return
	}
	b := alloc.block
	b.release(alloc.Offset, alloc.Size)
	alloc.block = nil
	if b.used > 0 {
		return
	}
	blocks := a.blocks[b.typeIndex]
	for i := range blocks {
		if blocks[i] == b {
			a.blocks[b.typeIndex] = append(blocks[:i], blocks[i+1:]...)
			break
		}
	}
	a.freeMemory(b.memory, b.typeIndex)
}

func (a *Allocator) freeMemory(mem driver.Memory, typeIndex uint32) {
	if a.hostVisible(typeIndex) {
		a.device.UnmapMemory(mem)
	}
	a.device.FreeMemory(mem)
}

func (a *Allocator) Stats() AllocatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := AllocatorStats{Dedicated: len(a.dedicated)}
	for _, blocks := range a.blocks {
		for _, b := range blocks {
			s.Blocks++
			s.Allocations += b.used
			s.BlockBytes += b.size
		}
	}
	s.Allocations += len(a.dedicated)
	return s
}

// Destroy frees every block, live allocations included.
func (a *Allocator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for typeIndex, blocks := range a.blocks {
		for _, b := range blocks {
			if b.used > 0 {
				core.LogWarn("freeing memory block with %d live allocations", b.used)
			}
			a.freeMemory(b.memory, typeIndex)
		}
	}
	a.blocks = make(map[uint32][]*memoryBlock)
	for mem := range a.dedicated {
		// freeing implicitly unmaps
		a.device.FreeMemory(mem)
	}
	a.dedicated = make(map[driver.Memory]bool)
}
