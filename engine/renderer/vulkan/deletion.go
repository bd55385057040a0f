package vulkan

import (
	"github.com/spaghettifunk/vkscaffold/engine/containers"
	"github.com/spaghettifunk/vkscaffold/engine/core"
)

type deletion struct {
	generation uint64
	label      string
	destroy    func()
}

// DeletionQueue holds destroy callbacks until the submission generation
// they were retired at has finished on the GPU. Entries are pushed in
// generation order.
type DeletionQueue struct {
	entries *containers.RingQueue[deletion]
}

func NewDeletionQueue() *DeletionQueue {
	return &DeletionQueue{entries: containers.NewRingQueue[deletion](int(VULKAN_DELETION_QUEUE_CAPACITY))}
}

// Push defers destroy until generation completes.
func (q *DeletionQueue) Push(generation uint64, label string, destroy func()) {
	q.entries.Push(deletion{generation: generation, label: label, destroy: destroy})
}

// Collect runs every callback whose generation is at or below completed and
// returns how many ran.
func (q *DeletionQueue) Collect(completed uint64) int {
	n := 0
	for !q.entries.IsEmpty() {
		next, _ := q.entries.Peek()
		if next.generation > completed {
			break
		}
		_, _ = q.entries.Dequeue()
		core.LogDebug("destroying %s (generation %d)", next.label, next.generation)
		next.destroy()
		n++
	}
	return n
}

// Flush runs every pending callback. The device must be idle.
func (q *DeletionQueue) Flush() int {
	n := 0
	for !q.entries.IsEmpty() {
		next, _ := q.entries.Dequeue()
		next.destroy()
		n++
	}
	return n
}

func (q *DeletionQueue) Len() int {
	return q.entries.Len()
}
