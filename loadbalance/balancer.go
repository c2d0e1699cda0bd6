// Package loadbalance picks the console a command runs against when the user
// did not name one.
//
// Four strategies are implemented:
//   - Named:          The configured default console, else the heaviest one
//   - RoundRobin:     Spread successive commands over a lab of kits
//   - WeightedRandom: Favor faster kits by their configured weight
//   - ConsistentHash: Keep deploying the same module to the same kit
package loadbalance

import (
	"fmt"

	"xbdm-loader/registry"
)

// Balancer is the interface for console selection strategies.
type Balancer interface {
	// Pick selects one console from the available list. key identifies the
	// work, typically the module path; strategies without affinity ignore it.
	// Must be goroutine-safe.
	Pick(consoles []registry.Console, key string) (*registry.Console, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// Strategy names accepted by New.
const (
	StrategyNamed          = "named"
	StrategyRoundRobin     = "round_robin"
	StrategyWeightedRandom = "weighted"
	StrategyConsistentHash = "sticky"
)

// New returns the balancer for strategy. preferred only applies to the
// named strategy.
func New(strategy, preferred string) (Balancer, error) {
	switch strategy {
	case "", StrategyNamed:
		return &NamedBalancer{Preferred: preferred}, nil
	case StrategyRoundRobin:
		return &RoundRobinBalancer{}, nil
	case StrategyWeightedRandom:
		return &WeightedRandomBalancer{}, nil
	case StrategyConsistentHash:
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("unknown balancer strategy %q", strategy)
	}
}

var errNoConsoles = fmt.Errorf("no consoles available")
