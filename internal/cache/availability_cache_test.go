package cache

import (
	"context"
	"testing"
	"time"

	"lodge-service/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupCache(t *testing.T) (*AvailabilityCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := NewRedisClient(mr.Addr(), "", 0, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return NewAvailabilityCache(rc, time.Minute, zap.NewNop()), mr
}

func TestAvailabilityCacheRoundTrip(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()
	tenant := uuid.New()

	v, err := c.Version(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	_, ok, err := c.Get(ctx, tenant, v, "q")
	require.NoError(t, err)
	assert.False(t, ok)

	want := []service.AvailabilityResult{{RoomTypeID: uuid.New(), Name: "Suite", MaxOccupancy: 2, AvailableCount: 3, EffectivePriceCents: 15000}}
	require.NoError(t, c.Put(ctx, tenant, v, "q", want))

	got, ok, err := c.Get(ctx, tenant, v, "q")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestAvailabilityCacheInvalidateBumpsVersion(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()
	tenant, other := uuid.New(), uuid.New()

	require.NoError(t, c.Put(ctx, tenant, 0, "q", []service.AvailabilityResult{{Name: "A"}}))
	require.NoError(t, c.Put(ctx, other, 0, "q", []service.AvailabilityResult{{Name: "B"}}))
	require.NoError(t, c.Invalidate(ctx, tenant))

	v, err := c.Version(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, ok, err := c.Get(ctx, tenant, v, "q")
	require.NoError(t, err)
	assert.False(t, ok, "entries under the old version must not be visible")

	// другой арендатор не затронут
	ov, _ := c.Version(ctx, other)
	_, ok, _ = c.Get(ctx, other, ov, "q")
	assert.True(t, ok)
}

func TestAvailabilityCacheTTL(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()
	tenant := uuid.New()

	require.NoError(t, c.Put(ctx, tenant, 0, "q", []service.AvailabilityResult{{Name: "A"}}))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, tenant, 0, "q")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAvailabilityCacheCorruptEntry(t *testing.T) {
	c, mr := setupCache(t)
	tenant := uuid.New()
	require.NoError(t, mr.Set(entryKey(tenant, 0, "q"), "not-json"))

	_, ok, err := c.Get(context.Background(), tenant, 0, "q")
	require.NoError(t, err)
	assert.False(t, ok)
}
