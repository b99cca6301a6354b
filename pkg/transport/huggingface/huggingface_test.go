package huggingface

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containers/ramalama/pkg/modelref"
	"github.com/containers/ramalama/pkg/store"
	"github.com/containers/ramalama/pkg/transport"
)

func TestRoleOf(t *testing.T) {
	assert.Equal(t, "model", roleOf("model.gguf"))
	assert.Equal(t, "mmproj", roleOf("mmproj-model.gguf"))
	assert.Equal(t, "chat_template", roleOf("tokenizer_config.json"))
	assert.Equal(t, "other", roleOf("README.md"))
}

func withTestAPIBase(t *testing.T, url string) {
	t.Helper()
	prev := apiBase
	apiBase = url
	t.Cleanup(func() { apiBase = prev })
}

func withTestResolveBase(t *testing.T, url string) {
	t.Helper()
	prev := resolveBase
	resolveBase = url
	t.Cleanup(func() { resolveBase = prev })
}

func TestManifestFiltersDraftByDefault(t *testing.T) {
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"siblings":[{"path":"model.gguf","size":10},{"path":"draft-model.gguf","size":5},{"path":"README.md","size":1}]}`))
	}))
	defer hub.Close()
	withTestAPIBase(t, hub.URL)

	ref, err := modelref.Parse("hf://org/repo:latest")
	require.NoError(t, err)

	entries, err := manifest(context.Background(), ref, transport.PullOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "model.gguf", entries[0].LogicalName)
}

func TestManifestIncludesDraftWhenRequested(t *testing.T) {
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"siblings":[{"path":"model.gguf","size":10},{"path":"draft-model.gguf","size":5}]}`))
	}))
	defer hub.Close()
	withTestAPIBase(t, hub.URL)

	ref, err := modelref.Parse("hf://org/repo:latest")
	require.NoError(t, err)

	entries, err := manifest(context.Background(), ref, transport.PullOptions{IncludeDraft: true})
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestPullFetchesAndCommits(t *testing.T) {
	content := []byte("gguf-weights")
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"siblings":[{"path":"model.gguf","size":` + strconv.Itoa(len(content)) + `}]}`))
	}))
	defer hub.Close()
	fileSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer fileSrv.Close()

	withTestAPIBase(t, hub.URL)
	withTestResolveBase(t, fileSrv.URL)

	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ref, err := modelref.Parse("hf://org/repo:latest")
	require.NoError(t, err)

	tr := &Transport{store: s}
	require.NoError(t, tr.Pull(context.Background(), ref, transport.PullOptions{}))

	present, err := tr.Exists(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, present)
}

func TestRemoveDeletesModel(t *testing.T) {
	content := []byte("gguf-weights")
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"siblings":[{"path":"model.gguf","size":` + strconv.Itoa(len(content)) + `}]}`))
	}))
	defer hub.Close()
	fileSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer fileSrv.Close()

	withTestAPIBase(t, hub.URL)
	withTestResolveBase(t, fileSrv.URL)

	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ref, err := modelref.Parse("hf://org/repo:latest")
	require.NoError(t, err)

	tr := &Transport{store: s}
	require.NoError(t, tr.Pull(context.Background(), ref, transport.PullOptions{}))

	removed, err := tr.Remove(context.Background(), ref, transport.RemoveOptions{})
	require.NoError(t, err)
	assert.True(t, removed)

	present, err := tr.Exists(context.Background(), ref)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestRemoveMissingWithIgnore(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ref, err := modelref.Parse("hf://org/missing:latest")
	require.NoError(t, err)

	tr := &Transport{store: s}
	removed, err := tr.Remove(context.Background(), ref, transport.RemoveOptions{Ignore: true})
	require.NoError(t, err)
	assert.False(t, removed)
}
