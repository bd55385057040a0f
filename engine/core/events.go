package core

import "sync"

// EventContext carries the payload of an event.
type EventContext struct {
	Data struct {
		U32 [4]uint32
		I64 [2]int64
		S   string
		Any interface{}
	}
}

type SystemEventCode int

const (
	// Shuts the engine down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// Framebuffer resized by the OS.
	/* Context usage:
	 * width := data.Data.U32[0]
	 * height := data.Data.U32[1]
	 */
	EVENT_CODE_RESIZED SystemEventCode = 0x02

	// Configuration file changed on disk and was decoded successfully.
	/* Context usage:
	 * cfg := data.Data.Any
	 */
	EVENT_CODE_CONFIG_RELOADED SystemEventCode = 0x03

	// The swapchain and its dependents were rebuilt.
	/* Context usage:
	 * width := data.Data.U32[0]
	 * height := data.Data.U32[1]
	 * images := data.Data.U32[2]
	 */
	EVENT_CODE_SWAPCHAIN_REBUILT SystemEventCode = 0x04

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, listener interface{}, data EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventBus dispatches events to registered listeners in registration order.
type EventBus struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{registered: make(map[SystemEventCode][]registeredEvent)}
}

// Register adds a listener for code. A listener can only be registered once
// per code; duplicates return false.
func (b *EventBus) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if onEvent == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.registered[code] {
		if e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	b.registered[code] = append(b.registered[code], registeredEvent{listener: listener, callback: onEvent})
	return true
}

func (b *EventBus) Unregister(code SystemEventCode, listener interface{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.registered[code]
	for i, e := range events {
		if e.listener == listener {
			b.registered[code] = append(events[:i:i], events[i+1:]...)
			return true
		}
	}
	return false
}

// Fire sends the event to the listeners of code until one of them handles it.
func (b *EventBus) Fire(code SystemEventCode, sender interface{}, context EventContext) bool {
	b.mu.RLock()
	events := append([]registeredEvent(nil), b.registered[code]...)
	b.mu.RUnlock()
	for _, e := range events {
		if e.callback(code, sender, e.listener, context) {
			return true
		}
	}
	return false
}

func (b *EventBus) Shutdown() {
	b.mu.Lock()
	b.registered = make(map[SystemEventCode][]registeredEvent)
	b.mu.Unlock()
}
