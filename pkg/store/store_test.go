package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containers/ramalama/pkg/modelref"
)

func writeBlob(t *testing.T, s *Store, storeKey, hash, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(s.blobsDir(storeKey), 0o755))
	require.NoError(t, os.WriteFile(s.blobPath(storeKey, hash), []byte(content), 0o644))
}

func TestPullCommitListRemoveLifecycle(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ref, err := modelref.Parse("ollama://library/tinyllama:latest")
	require.NoError(t, err)

	h, err := s.Reserve(ref, LockExclusive)
	require.NoError(t, err)

	hash := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	writeBlob(t, s, ref.StoreKey(), hash, "gguf-bytes")

	files := []ModelFile{{Name: "model.gguf", Hash: "sha256-" + hash, Type: FileTypeModel, Size: 10, Modified: 100}}
	require.NoError(t, s.CreateSnapshotLinks(ref.StoreKey(), ref.Tag, files))
	require.NoError(t, s.Commit(h, ref.StoreKey(), ref.Tag, Ref{ModelFiles: files}))
	require.NoError(t, h.Release())

	present, err := s.Present(ref)
	require.NoError(t, err)
	assert.True(t, present)

	models, err := s.ListModels(false)
	require.NoError(t, err)
	assert.Contains(t, models, "ollama://library/tinyllama:latest")
	assert.Len(t, models["ollama://library/tinyllama:latest"], 1)

	link := filepath.Join(s.snapshotDir(ref.StoreKey(), ref.Tag), "model.gguf")
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Contains(t, target, hash)

	require.NoError(t, s.Remove(ref))
	_, err = s.readRef(ref.StoreKey(), ref.Tag)
	require.Error(t, err)
	_, statErr := os.Stat(s.blobPath(ref.StoreKey(), hash))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRemoveKeepsSharedBlob(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	refA, err := modelref.Parse("ollama://library/a:latest")
	require.NoError(t, err)
	refB, err := modelref.Parse("ollama://library/a:v2")
	require.NoError(t, err)

	hash := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	writeBlob(t, s, refA.StoreKey(), hash, "shared")
	files := []ModelFile{{Name: "model.gguf", Hash: "sha256-" + hash, Type: FileTypeModel, Size: 6, Modified: 1}}

	for _, r := range []modelref.Reference{refA, refB} {
		h, err := s.Reserve(r, LockExclusive)
		require.NoError(t, err)
		require.NoError(t, s.CreateSnapshotLinks(r.StoreKey(), r.Tag, files))
		require.NoError(t, s.Commit(h, r.StoreKey(), r.Tag, Ref{ModelFiles: files}))
		require.NoError(t, h.Release())
	}

	require.NoError(t, s.Remove(refA))
	_, statErr := os.Stat(s.blobPath(refA.StoreKey(), hash))
	assert.NoError(t, statErr, "blob shared with refB must survive removal of refA")

	models, err := s.ListModels(false)
	require.NoError(t, err)
	assert.NotContains(t, models, "ollama://library/a:latest")
	assert.Contains(t, models, "ollama://library/a:v2")
}

func TestListModelsHidesPartialByDefault(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ref, err := modelref.Parse("ollama://library/partial:latest")
	require.NoError(t, err)
	h, err := s.Reserve(ref, LockExclusive)
	require.NoError(t, err)
	files := []ModelFile{{Name: "model.gguf", Hash: "sha256-c", Type: FileTypeModel, Size: 1, Modified: 1, IsPartial: true}}
	require.NoError(t, s.Commit(h, ref.StoreKey(), ref.Tag, Ref{ModelFiles: files}))
	require.NoError(t, h.Release())

	models, err := s.ListModels(false)
	require.NoError(t, err)
	assert.NotContains(t, models, "ollama://library/partial:latest")

	models, err = s.ListModels(true)
	require.NoError(t, err)
	assert.Contains(t, models, "ollama://library/partial:latest")
}
