package oci

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containers/ramalama/internal/rlerr"
	"github.com/containers/ramalama/pkg/modelref"
	"github.com/containers/ramalama/pkg/transport"
)

// fakeEngine writes an executable shell script standing in for the
// container engine binary, so Transport.run can be exercised without a real
// podman/docker installation.
func fakeEngine(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-engine")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestImageRef(t *testing.T) {
	ref, err := modelref.Parse("oci://quay.io/ramalama/model:v1")
	require.NoError(t, err)
	assert.Equal(t, "quay.io/ramalama/model:v1", imageRef(ref))
}

func TestPullSucceeds(t *testing.T) {
	tr := &Transport{engineBin: fakeEngine(t, "exit 0")}
	ref, err := modelref.Parse("oci://quay.io/ramalama/model:v1")
	require.NoError(t, err)
	require.NoError(t, tr.Pull(context.Background(), ref, transport.PullOptions{}))
}

func TestPullNotFoundMapsToNotFoundKind(t *testing.T) {
	tr := &Transport{engineBin: fakeEngine(t, `echo "Error: manifest unknown: not found" >&2; exit 1`)}
	ref, err := modelref.Parse("oci://quay.io/ramalama/missing:v1")
	require.NoError(t, err)
	err = tr.Pull(context.Background(), ref, transport.PullOptions{})
	require.Error(t, err)
	assert.True(t, rlerr.As(err, rlerr.KindNotFound))
}

func TestRemoveIgnoresNotFoundWhenRequested(t *testing.T) {
	tr := &Transport{engineBin: fakeEngine(t, `echo "Error: image not found" >&2; exit 1`)}
	ref, err := modelref.Parse("oci://quay.io/ramalama/missing:v1")
	require.NoError(t, err)
	removed, err := tr.Remove(context.Background(), ref, transport.RemoveOptions{Ignore: true})
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRemoveFailsNotFoundWithoutIgnore(t *testing.T) {
	tr := &Transport{engineBin: fakeEngine(t, `echo "Error: image not found" >&2; exit 1`)}
	ref, err := modelref.Parse("oci://quay.io/ramalama/missing:v1")
	require.NoError(t, err)
	_, err = tr.Remove(context.Background(), ref, transport.RemoveOptions{})
	require.Error(t, err)
	assert.True(t, rlerr.As(err, rlerr.KindNotFound))
}

func TestRemoveStopsOnNonNotFoundError(t *testing.T) {
	tr := &Transport{engineBin: fakeEngine(t, `echo "Error: permission denied" >&2; exit 1`)}
	ref, err := modelref.Parse("oci://quay.io/ramalama/model:v1")
	require.NoError(t, err)
	_, err = tr.Remove(context.Background(), ref, transport.RemoveOptions{Ignore: true})
	require.Error(t, err)
	assert.False(t, rlerr.As(err, rlerr.KindNotFound))
}
