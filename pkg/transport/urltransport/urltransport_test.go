package urltransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containers/ramalama/pkg/modelref"
	"github.com/containers/ramalama/pkg/store"
	"github.com/containers/ramalama/pkg/transport"
)

func TestFilenameIsTrailingPathComponent(t *testing.T) {
	ref, err := modelref.Parse("https://example.com/weights/model.gguf:latest")
	require.NoError(t, err)
	assert.Equal(t, "model.gguf", filename(ref))
	assert.Equal(t, "model", roleOf(filename(ref)))
}

func TestPullFetchesSingleFile(t *testing.T) {
	content := []byte("gguf-weights")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer srv.Close()

	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	u := strings.TrimPrefix(srv.URL, "http://")
	ref, err := modelref.Parse("http://" + u + "/model.gguf:latest")
	require.NoError(t, err)

	tr := &Transport{store: s}
	require.NoError(t, tr.Pull(context.Background(), ref, transport.PullOptions{}))

	present, err := tr.Exists(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, present)
}
