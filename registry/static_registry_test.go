package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticRegistry(t *testing.T) {
	ctx := context.Background()
	reg := NewStaticRegistry([]Console{
		{Name: "devkit", Addr: "192.168.1.20"},
		{Name: "testkit", Addr: "192.168.1.21:730"},
	})

	consoles, err := reg.Discover(ctx)
	require.NoError(t, err)
	assert.Len(t, consoles, 2)

	// Discover hands out a copy
	consoles[0].Name = "changed"
	c, err := Lookup(ctx, reg, "DEVKIT")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20", c.Addr)

	c, err = Lookup(ctx, reg, "192.168.1.21:730")
	require.NoError(t, err)
	assert.Equal(t, "testkit", c.Name)

	require.NoError(t, reg.Register(ctx, Console{Name: "devkit", Addr: "10.0.0.5"}, 0))
	c, err = Lookup(ctx, reg, "devkit")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", c.Addr)

	require.NoError(t, reg.Deregister(ctx, "Testkit"))
	_, err = Lookup(ctx, reg, "testkit")
	assert.Error(t, err)

	var last []Console
	for consoles := range reg.Watch(ctx) {
		last = consoles
	}
	assert.Equal(t, []Console{{Name: "devkit", Addr: "10.0.0.5"}}, last)
}
