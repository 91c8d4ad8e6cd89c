package tracert

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containerless/platform/pkg/types"
)

func TestGenerateManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.txt")

	require.NoError(t, GenerateManifest(path, []string{"hello", "echo"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), "echo")
}

func TestRegistryInvokeUnlinked(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Linked("hello"))

	_, _, ok := r.Invoke(context.Background(), "hello", &types.Request{})
	assert.False(t, ok)
}

func TestRegistryUnloadIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Unload("missing") // must not panic
	assert.False(t, r.Linked("missing"))
}
