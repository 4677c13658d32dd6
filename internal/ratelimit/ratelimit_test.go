package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitAdmitsWithinBudget(t *testing.T) {
	l := New(map[string]int{"oneinch": 600})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, l.Wait(ctx, "oneinch"))
}

func TestWaitCreatesDefaultBucketForUnknownService(t *testing.T) {
	l := New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, l.Wait(ctx, "unregistered"))
}
