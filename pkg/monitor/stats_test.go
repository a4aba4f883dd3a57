package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsCacheExpires(t *testing.T) {
	cache := newStatsCache(10 * time.Millisecond)
	now := time.Now()

	cache.put("instance-1", ContainerStats{CPUPercent: 42}, now)

	got, ok := cache.get("instance-1", now)
	assert.True(t, ok)
	assert.Equal(t, 42.0, got.CPUPercent)

	_, ok = cache.get("instance-1", now.Add(20*time.Millisecond))
	assert.False(t, ok)
}

func TestStatsCacheMiss(t *testing.T) {
	cache := newStatsCache(time.Second)
	_, ok := cache.get("unknown", time.Now())
	assert.False(t, ok)
}
