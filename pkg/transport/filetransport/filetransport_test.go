package filetransport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containers/ramalama/pkg/modelref"
	"github.com/containers/ramalama/pkg/store"
	"github.com/containers/ramalama/pkg/transport"
)

func TestPullSymlinksRatherThanCopies(t *testing.T) {
	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "weights.gguf")
	require.NoError(t, os.WriteFile(srcPath, []byte("gguf-weights"), 0o644))

	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ref, err := modelref.Parse("file://" + srcPath + ":latest")
	require.NoError(t, err)

	tr := &Transport{store: s}
	require.NoError(t, tr.Pull(context.Background(), ref, transport.PullOptions{}))

	present, err := tr.Exists(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, present)

	blobPath := s.BlobPath(ref.StoreKey(), hashOf(t, srcPath))
	target, err := os.Readlink(blobPath)
	require.NoError(t, err)
	assert.Equal(t, srcPath, target)
}

func TestPullMissingFileIsNotFound(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ref, err := modelref.Parse("file:///does/not/exist.gguf:latest")
	require.NoError(t, err)

	tr := &Transport{store: s}
	err = tr.Pull(context.Background(), ref, transport.PullOptions{})
	require.Error(t, err)
}

func hashOf(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
