// Package registry keeps track of the consoles a developer can deploy to.
//
// Besides a static list from the config file, consoles can be published in
// etcd so a lab of devkits is shared by everyone pointing at the same cluster:
//
//	Key:   /xbdm-loader/consoles/{name}
//	Value: JSON-encoded Console
//
// Registration uses TTL-based leases: when the registering process (for
// example a console simulator or a lab agent) goes away, the lease expires
// and the entry disappears.
package registry

import (
	"context"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"xbdm-loader/codec"
)

// KeyPrefix is where consoles live in etcd.
const KeyPrefix = "/xbdm-loader/consoles/"

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
	codec  codec.Codec
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
// logger receives the etcd client's own logs; pass nil to silence them.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, codec: &codec.JSONCodec{}}, nil
}

// Close releases the etcd connection.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}

// Register publishes a console with a TTL lease and keeps the lease alive
// until ctx ends.
//
// Note: the lease id stays local instead of living on the struct, so several
// registrations through one EtcdRegistry do not race on it.
func (r *EtcdRegistry) Register(ctx context.Context, console Console, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := r.codec.Encode(console)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, KeyPrefix+console.Name, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes a console.
func (r *EtcdRegistry) Deregister(ctx context.Context, name string) error {
	_, err := r.client.Delete(ctx, KeyPrefix+name)
	return err
}

// Watch emits the full console list whenever anything under the prefix
// changes, until ctx ends.
func (r *EtcdRegistry) Watch(ctx context.Context) <-chan []Console {
	ch := make(chan []Console, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, KeyPrefix, clientv3.WithPrefix())
		for range watchChan {
			// Re-fetch the full list rather than applying individual events
			consoles, err := r.Discover(ctx)
			if err != nil {
				continue
			}
			select {
			case ch <- consoles:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns every registered console.
func (r *EtcdRegistry) Discover(ctx context.Context) ([]Console, error) {
	resp, err := r.client.Get(ctx, KeyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	consoles := make([]Console, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var console Console
		if err := r.codec.Decode(kv.Value, &console); err != nil {
			continue // Skip malformed entries
		}
		consoles = append(consoles, console)
	}

	return consoles, nil
}
