package catalog

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geo-nearby/internal/query"
)

type pingSource struct {
	*query.MemorySource
	fail  atomic.Bool
	pings atomic.Int32
}

func (p *pingSource) Ping(context.Context) error {
	p.pings.Add(1)
	if p.fail.Load() {
		return errors.New("unreachable")
	}
	return nil
}

func TestCatalogSelectableOrder(t *testing.T) {
	c := New()
	c.Register(query.NewMemorySource("roads", "", "id", false, nil))
	c.Register(query.NewMemorySource("parcels", "", "id", true, nil))
	c.Register(query.NewMemorySource("hydrants", "", "id", true, nil))

	first, ok := c.FirstSelectable()
	require.True(t, ok)
	assert.Equal(t, "parcels", first)

	ids := []string{}
	for _, ds := range c.Selectable() {
		ids = append(ids, ds.ID())
	}
	assert.Equal(t, []string{"parcels", "hydrants"}, ids)

	_, ok = c.Get("roads")
	assert.True(t, ok)
	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCatalogEmpty(t *testing.T) {
	_, ok := New().FirstSelectable()
	assert.False(t, ok)
}

func TestCatalogHeartbeat(t *testing.T) {
	c := New()
	remote := &pingSource{MemorySource: query.NewMemorySource("remote", "", "id", true, nil)}
	c.Register(remote)
	c.Register(query.NewMemorySource("local", "", "id", true, nil))

	remote.fail.Store(true)
	c.Heartbeat(context.Background())
	first, _ := c.FirstSelectable()
	assert.Equal(t, "local", first)
	_, ok := c.Get("remote")
	assert.True(t, ok)

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "local", entries[0].ID)
	assert.False(t, entries[1].Healthy)

	remote.fail.Store(false)
	c.Heartbeat(context.Background())
	first, _ = c.FirstSelectable()
	assert.Equal(t, "remote", first)
}

func TestCatalogStartStops(t *testing.T) {
	c := New()
	c.SetHeartbeatInterval(5 * time.Millisecond)
	remote := &pingSource{MemorySource: query.NewMemorySource("remote", "", "id", true, nil)}
	c.Register(remote)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	assert.Eventually(t, func() bool { return remote.pings.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
}
