package sourcestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containerless/platform/pkg/clerr"
)

func TestFakeCreateGetRoundTrip(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.Create(ctx, "hello", []byte("source code")))
	got, err := f.Get(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "source code", string(got))
}

func TestFakeCreateConflict(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.Create(ctx, "hello", []byte("a")))

	err := f.Create(ctx, "hello", []byte("b"))
	assert.Equal(t, clerr.Conflict, clerr.KindOf(err))
}

func TestFakeGetNotFound(t *testing.T) {
	f := NewFake()
	_, err := f.Get(context.Background(), "missing")
	assert.Equal(t, clerr.NotFound, clerr.KindOf(err))
}

func TestFakeDeleteThenGetNotFound(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.Create(ctx, "hello", []byte("a")))
	require.NoError(t, f.Delete(ctx, "hello"))

	_, err := f.Get(ctx, "hello")
	assert.Equal(t, clerr.NotFound, clerr.KindOf(err))
}
