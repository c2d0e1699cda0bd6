package loadbalance

import (
	"sync/atomic"

	"xbdm-loader/registry"
)

// RoundRobinBalancer hands out consoles in order.
// Uses an atomic counter for lock-free, goroutine-safe operation.
type RoundRobinBalancer struct {
	counter int64 // Atomic counter, incremented on each Pick()
}

// Pick selects the next console in round-robin order.
func (b *RoundRobinBalancer) Pick(consoles []registry.Console, key string) (*registry.Console, error) {
	if len(consoles) == 0 {
		return nil, errNoConsoles
	}
	index := (atomic.AddInt64(&b.counter, 1) - 1) % int64(len(consoles))
	return &consoles[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
