package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(mr.Host(), mustPort(t, mr), "", 0, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func mustPort(t *testing.T, mr *miniredis.Miniredis) int {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	return port
}

func TestExternalIDsRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.GetExternalIDs(ctx, "BRCA1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetExternalIDs(ctx, "BRCA1", []string{"@GENE_672"}))

	ids, ok, err := c.GetExternalIDs(ctx, " brca1 ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"@GENE_672"}, ids)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, time.Hour, mr.TTL(keys[0]))
}

func TestCachedNegativeResult(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetExternalIDs(ctx, "unknownium", []string{}))
	ids, ok, err := c.GetExternalIDs(ctx, "unknownium")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, ids)
}

func TestInvalidateNormalization(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetExternalIDs(ctx, "a", []string{"1"}))
	require.NoError(t, c.SetExternalIDs(ctx, "b", []string{"2"}))
	require.NoError(t, mr.Set("other:key", "x"))

	n, err := c.InvalidateNormalization(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"other:key"}, mr.Keys())
}
