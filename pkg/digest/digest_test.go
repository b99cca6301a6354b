package digest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containers/ramalama/internal/rlerr"
)

func TestDigest(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "blob")
	require.NoError(t, os.WriteFile(p, []byte("hello world"), 0o644))

	d, err := Digest(p)
	require.NoError(t, err)
	assert.Equal(t, "sha256:b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", d.String())
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "sha256-b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9")
	require.NoError(t, os.WriteFile(good, []byte("hello world"), 0o644))

	ok, err := Verify(good)
	require.NoError(t, err)
	assert.True(t, ok)

	bad := filepath.Join(dir, "sha256-0000000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, os.WriteFile(bad, []byte("hello world"), 0o644))
	ok, err = Verify(bad)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyBadName(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "model.bin")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	_, err := Verify(p)
	require.Error(t, err)
	assert.True(t, rlerr.As(err, rlerr.KindBadName))
}

func TestGGUFEndian(t *testing.T) {
	dir := t.TempDir()

	native := filepath.Join(dir, "native.gguf")
	require.NoError(t, os.WriteFile(native, append([]byte("GGUF"), make([]byte, 4)...), 0o644))
	e, err := GGUFEndian(native)
	require.NoError(t, err)
	assert.Equal(t, Native, e)

	swapped := filepath.Join(dir, "swapped.gguf")
	require.NoError(t, os.WriteFile(swapped, append([]byte("FUGG"), make([]byte, 4)...), 0o644))
	e, err = GGUFEndian(swapped)
	require.NoError(t, err)
	assert.Equal(t, Swapped, e)

	notGGUF := filepath.Join(dir, "other.bin")
	require.NoError(t, os.WriteFile(notGGUF, []byte("not a gguf at all"), 0o644))
	e, err = GGUFEndian(notGGUF)
	require.NoError(t, err)
	assert.Equal(t, NotGGUF, e)
}
