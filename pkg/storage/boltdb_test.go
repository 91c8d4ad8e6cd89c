package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containerless/platform/pkg/clerr"
	"github.com/containerless/platform/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetFunction(t *testing.T) {
	s := newTestStore(t)

	fn := &types.Function{Name: "echo", SourceRef: "src/echo", CreatedAt: time.Now()}
	require.NoError(t, s.CreateFunction(fn))

	got, err := s.GetFunction("echo")
	require.NoError(t, err)
	assert.Equal(t, fn.Name, got.Name)
	assert.Equal(t, fn.SourceRef, got.SourceRef)
}

func TestCreateFunctionConflict(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateFunction(&types.Function{Name: "echo"}))
	err := s.CreateFunction(&types.Function{Name: "echo"})
	assert.Equal(t, clerr.Conflict, clerr.KindOf(err))
}

func TestGetFunctionNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetFunction("missing")
	assert.Equal(t, clerr.NotFound, clerr.KindOf(err))
}

func TestListFunctions(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateFunction(&types.Function{Name: "a"}))
	require.NoError(t, s.CreateFunction(&types.Function{Name: "b"}))

	fns, err := s.ListFunctions()
	require.NoError(t, err)
	assert.Len(t, fns, 2)
}

func TestUpdateFunctionUpserts(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpdateFunction(&types.Function{Name: "echo", CompileStatus: types.CompileStatusVanilla}))
	got, err := s.GetFunction("echo")
	require.NoError(t, err)
	assert.Equal(t, types.CompileStatusVanilla, got.CompileStatus)

	got.CompileStatus = types.CompileStatusCompiled
	require.NoError(t, s.UpdateFunction(got))

	got, err = s.GetFunction("echo")
	require.NoError(t, err)
	assert.Equal(t, types.CompileStatusCompiled, got.CompileStatus)
}

func TestDeleteFunction(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateFunction(&types.Function{Name: "echo"}))
	require.NoError(t, s.DeleteFunction("echo"))

	_, err := s.GetFunction("echo")
	assert.Equal(t, clerr.NotFound, clerr.KindOf(err))

	// Deleting again is not an error.
	assert.NoError(t, s.DeleteFunction("echo"))
}

func TestFunctionsSurviveReopen(t *testing.T) {
	dir := t.TempDir()

	s1, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, s1.CreateFunction(&types.Function{Name: "echo"}))
	require.NoError(t, s1.Close())

	s2, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetFunction("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", got.Name)
}
