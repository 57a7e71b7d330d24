package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBoundedPutGet(t *testing.T) {
	q := NewBounded[int](2)
	assert.True(t, q.Put(1))
	assert.True(t, q.Put(2))
	assert.False(t, q.Put(3), "queue at capacity should reject without blocking")

	v, ok := q.Get(context.Background(), time.Second)
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestBoundedGetTimeout(t *testing.T) {
	q := NewBounded[int](1)
	start := time.Now()
	_, ok := q.Get(context.Background(), 20*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestBoundedGetCancelled(t *testing.T) {
	q := NewBounded[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := q.Get(ctx, time.Second)
	assert.False(t, ok)
}

func TestBoundedLen(t *testing.T) {
	q := NewBounded[int](5)
	q.Put(1)
	q.Put(2)
	assert.Equal(t, 2, q.Len())
}
