package registry

import (
	"context"
	"strings"
	"sync"
)

// StaticRegistry holds a fixed console list, typically from the config file.
// Register and Deregister only change the in-memory list.
type StaticRegistry struct {
	mu       sync.RWMutex
	consoles []Console
}

// NewStaticRegistry creates a registry holding consoles.
func NewStaticRegistry(consoles []Console) *StaticRegistry {
	return &StaticRegistry{consoles: append([]Console(nil), consoles...)}
}

func (r *StaticRegistry) Register(ctx context.Context, console Console, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.consoles {
		if strings.EqualFold(r.consoles[i].Name, console.Name) {
			r.consoles[i] = console
			return nil
		}
	}
	r.consoles = append(r.consoles, console)
	return nil
}

func (r *StaticRegistry) Deregister(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.consoles[:0]
	for _, c := range r.consoles {
		if !strings.EqualFold(c.Name, name) {
			kept = append(kept, c)
		}
	}
	r.consoles = kept
	return nil
}

func (r *StaticRegistry) Discover(ctx context.Context) ([]Console, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Console(nil), r.consoles...), nil
}

// Watch emits the current list once. A static list never changes on its own.
func (r *StaticRegistry) Watch(ctx context.Context) <-chan []Console {
	ch := make(chan []Console, 1)
	consoles, _ := r.Discover(ctx)
	ch <- consoles
	close(ch)
	return ch
}
