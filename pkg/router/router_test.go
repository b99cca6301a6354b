package router

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containers/ramalama/internal/rlerr"
	"github.com/containers/ramalama/pkg/modelref"
	"github.com/containers/ramalama/pkg/serve"
	"github.com/containers/ramalama/pkg/store"
)

func commitModel(t *testing.T, s *store.Store, canonical, hash string) {
	t.Helper()
	ref, err := modelref.Parse(canonical)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(s.BlobsDir(ref.StoreKey()), 0o755))
	require.NoError(t, os.WriteFile(s.BlobPath(ref.StoreKey(), hash), []byte("gguf"), 0o644))

	h, err := s.Reserve(ref, store.LockExclusive)
	require.NoError(t, err)
	files := []store.ModelFile{{Name: "model.gguf", Hash: "sha256-" + hash, Type: store.FileTypeModel, Size: 4, Modified: 1}}
	require.NoError(t, s.CreateSnapshotLinks(ref.StoreKey(), ref.Tag, files))
	require.NoError(t, s.Commit(h, ref.StoreKey(), ref.Tag, store.Ref{ModelFiles: files}))
	require.NoError(t, h.Release())
}

func TestAliasDisambiguatesOnCollision(t *testing.T) {
	seen := map[string]bool{}
	a := Alias("ollama://library/model:latest", "aaaaaaaaaaaaaaaa", seen)
	b := Alias("ollama://library/model:latest", "bbbbbbbbbbbbbbbb", seen)
	assert.NotEqual(t, a, b)
	assert.Equal(t, "ollama-library-model-latest.gguf", a)
}

func TestPlanFailsNotSupportedWhenNative(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, err = Plan(s, serve.Request{Port: 8080}, true)
	require.Error(t, err)
	assert.True(t, rlerr.As(err, rlerr.KindNotSupported))
}

func TestPlanMountsEveryModel(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	commitModel(t, s, "ollama://library/a:latest", "1111111111111111111111111111111111111111111111111111111111111111")
	commitModel(t, s, "ollama://library/b:latest", "2222222222222222222222222222222222222222222222222222222222222222")

	p, err := Plan(s, serve.Request{Port: 8080}, false)
	require.NoError(t, err)
	assert.Len(t, p.Mounts, 2)
	for _, m := range p.Mounts {
		assert.True(t, filepath.IsAbs(m.Dest) || m.Dest != "")
	}
	assert.True(t, p.RouterMode)
}

func TestPlanFailsWhenStoreEmpty(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, err = Plan(s, serve.Request{Port: 8080}, false)
	require.Error(t, err)
	assert.True(t, rlerr.As(err, rlerr.KindNotFound))
}
