package dispatch

import (
	"fmt"
	"sort"
	"sync"

	"github.com/presswire/contentqueue/internal/domain"
)

// ChannelRegistry maps auxiliary channel names to adapters.
type ChannelRegistry struct {
	mu       sync.RWMutex
	adapters map[domain.Channel]ChannelAdapter
}

func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{adapters: make(map[domain.Channel]ChannelAdapter)}
}

// Register adds an adapter under its Name. The primary channel and duplicate
// names are rejected.
func (r *ChannelRegistry) Register(a ChannelAdapter) error {
	name := a.Name()
	if name == "" || name.IsPrimary() {
		return fmt.Errorf("channel adapter name %q is reserved", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("channel adapter '%s' already registered", name)
	}
	r.adapters[name] = a
	return nil
}

func (r *ChannelRegistry) Get(name domain.Channel) (ChannelAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered channel names in sorted order.
func (r *ChannelRegistry) Names() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]domain.Channel, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// HandlerRegistry maps content types to generic job handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]JobHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]JobHandler)}
}

// Register adds a handler by content type.
func (r *HandlerRegistry) Register(contentType string, h JobHandler) error {
	if contentType == "" {
		return fmt.Errorf("handler content type must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[contentType]; exists {
		return fmt.Errorf("handler '%s' already registered", contentType)
	}
	r.handlers[contentType] = h
	return nil
}

func (r *HandlerRegistry) Get(contentType string) (JobHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[contentType]
	return h, ok
}

func (r *HandlerRegistry) Exists(contentType string) bool {
	_, ok := r.Get(contentType)
	return ok
}

func (r *HandlerRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
