package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewClient(context.Background(), Options{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
	assert.NoError(t, c.Close())
}

func TestNewClient_Errors(t *testing.T) {
	_, err := NewClient(context.Background(), Options{}, nil)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = NewClient(context.Background(), Options{Addr: addr, DialTimeout: 200 * time.Millisecond}, nil)
	assert.ErrorContains(t, err, "redis ping")
}
