package registry

import (
	"context"
	"fmt"
	"strings"
)

// Console is one reachable development console.
type Console struct {
	Name    string `json:"name" yaml:"name"`
	Addr    string `json:"addr" yaml:"addr"`                           // host or host:port of the debug monitor
	Weight  int    `json:"weight,omitempty" yaml:"weight,omitempty"`   // Preference when picking among consoles
	Version string `json:"version,omitempty" yaml:"version,omitempty"` // Kernel/dashboard version, informational
}

// Registry finds consoles by name.
type Registry interface {
	Register(ctx context.Context, console Console, ttl int64) error
	Deregister(ctx context.Context, name string) error
	Discover(ctx context.Context) ([]Console, error)
	Watch(ctx context.Context) <-chan []Console
}

// Lookup returns the console whose name or address matches target, ignoring case.
func Lookup(ctx context.Context, reg Registry, target string) (*Console, error) {
	consoles, err := reg.Discover(ctx)
	if err != nil {
		return nil, err
	}
	for i := range consoles {
		if strings.EqualFold(consoles[i].Name, target) || strings.EqualFold(consoles[i].Addr, target) {
			return &consoles[i], nil
		}
	}
	return nil, fmt.Errorf("console %q is not registered", target)
}
