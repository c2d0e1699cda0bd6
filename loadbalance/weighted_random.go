package loadbalance

import (
	"fmt"
	"math/rand"

	"xbdm-loader/registry"
)

// WeightedRandomBalancer picks consoles at random in proportion to their
// weight. A console without a weight counts as 1.
type WeightedRandomBalancer struct{}

func weightOf(c registry.Console) int {
	if c.Weight <= 0 {
		return 1
	}
	return c.Weight
}

func (b *WeightedRandomBalancer) Pick(consoles []registry.Console, key string) (*registry.Console, error) {
	if len(consoles) == 0 {
		return nil, errNoConsoles
	}

	total := 0
	for _, c := range consoles {
		total += weightOf(c)
	}

	// Walk the list until the random point falls inside a console's share
	r := rand.Intn(total)
	for i := range consoles {
		r -= weightOf(consoles[i])
		if r < 0 {
			return &consoles[i], nil
		}
	}

	return nil, fmt.Errorf("unexpected error in weighted random selection")
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
