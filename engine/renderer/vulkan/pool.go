package vulkan

import "sync"

// LockPool serializes queue access per queue family. When disabled every
// call runs unguarded, which is correct for a single render-loop thread.
type LockPool struct {
	enabled bool

	mu           sync.Mutex
	queueMutexes map[uint32]*sync.Mutex
	deviceMutex  sync.Mutex
}

func NewLockPool(enabled bool) *LockPool {
	return &LockPool{
		enabled:      enabled,
		queueMutexes: make(map[uint32]*sync.Mutex),
	}
}

func (lp *LockPool) Enabled() bool {
	return lp.enabled
}

func (lp *LockPool) queueLock(family uint32) *sync.Mutex {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if _, exists := lp.queueMutexes[family]; !exists {
		lp.queueMutexes[family] = &sync.Mutex{}
	}
	return lp.queueMutexes[family]
}

// SafeQueueCall runs fn holding the mutex of the queue family.
func (lp *LockPool) SafeQueueCall(queueFamilyIndex uint32, fn func() error) error {
	if !lp.enabled {
		return fn()
	}
	l := lp.queueLock(queueFamilyIndex)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// SafeDeviceCall runs fn holding every queue mutex known so far, as a
// device-wide wait touches all queues.
func (lp *LockPool) SafeDeviceCall(fn func() error) error {
	if !lp.enabled {
		return fn()
	}
	lp.deviceMutex.Lock()
	defer lp.deviceMutex.Unlock()

	lp.mu.Lock()
	locks := make([]*sync.Mutex, 0, len(lp.queueMutexes))
	for _, l := range lp.queueMutexes {
		locks = append(locks, l)
	}
	lp.mu.Unlock()

	for _, l := range locks {
		l.Lock()
	}
	defer func() {
		for _, l := range locks {
			l.Unlock()
		}
	}()
	return fn()
}
