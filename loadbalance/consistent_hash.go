package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"xbdm-loader/registry"
)

// ConsistentHashBalancer maps keys to consoles using a hash ring, so the same
// module keeps landing on the same kit while the lab stays the same. When a
// kit leaves, only the modules it owned move.
//
// Each console is placed on the ring as N virtual nodes to even out the
// distribution.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu      sync.Mutex
	members string            // Sorted console names the ring was built from
	ring    []uint32          // Sorted hash values on the ring
	nodes   map[uint32]string // Hash value → console name
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per console.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: 100}
}

// rebuild places every console onto the ring. Callers hold b.mu.
func (b *ConsistentHashBalancer) rebuild(consoles []registry.Console) {
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]string, len(consoles)*b.replicas)
	for _, c := range consoles {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", c.Name, i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = c.Name
		}
	}
	// Keep the ring sorted for binary search in Pick()
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Pick finds the console responsible for key. The ring is rebuilt only when
// the set of consoles changes.
func (b *ConsistentHashBalancer) Pick(consoles []registry.Console, key string) (*registry.Console, error) {
	if len(consoles) == 0 {
		return nil, errNoConsoles
	}

	names := make([]string, len(consoles))
	for i, c := range consoles {
		names[i] = c.Name
	}
	sort.Strings(names)
	members := strings.Join(names, "\x00")

	b.mu.Lock()
	if members != b.members || b.nodes == nil {
		b.rebuild(consoles)
		b.members = members
	}
	hash := crc32.ChecksumIEEE([]byte(strings.ToLower(key)))

	// First node with hash >= key's hash, wrapping around to the start
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	owner := b.nodes[b.ring[idx]]
	b.mu.Unlock()

	for i := range consoles {
		if consoles[i].Name == owner {
			return &consoles[i], nil
		}
	}
	return nil, fmt.Errorf("hash ring owner %q not in console list", owner)
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
