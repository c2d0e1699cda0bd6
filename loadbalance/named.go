package loadbalance

import (
	"fmt"
	"strings"

	"xbdm-loader/registry"
)

// NamedBalancer always picks the same console: the one whose name or address
// matches Preferred, or the highest-weighted one (first on ties) when
// Preferred is empty.
type NamedBalancer struct {
	Preferred string
}

func (b *NamedBalancer) Pick(consoles []registry.Console, key string) (*registry.Console, error) {
	if len(consoles) == 0 {
		return nil, errNoConsoles
	}
	if b.Preferred != "" {
		for i := range consoles {
			if strings.EqualFold(consoles[i].Name, b.Preferred) || strings.EqualFold(consoles[i].Addr, b.Preferred) {
				return &consoles[i], nil
			}
		}
		return nil, fmt.Errorf("console %q is not available", b.Preferred)
	}
	best := 0
	for i := range consoles {
		if consoles[i].Weight > consoles[best].Weight {
			best = i
		}
	}
	return &consoles[best], nil
}

func (b *NamedBalancer) Name() string {
	return "Named"
}
