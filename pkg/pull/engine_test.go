package pull

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containers/ramalama/internal/rlerr"
)

func hashOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestFetchDownloadsAndVerifies(t *testing.T) {
	content := []byte("gguf weights go here")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "blob")
	e := New(true)
	err := e.Fetch(context.Background(), []Request{{
		URL: srv.URL, DestPath: dest, ExpectedHash: hashOf(content), Size: int64(len(content)), LogicalName: "model.gguf",
	}}, Options{})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestFetchSkipsAlreadyVerifiedBlob(t *testing.T) {
	content := []byte("already here")
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(content)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "blob")
	require.NoError(t, os.WriteFile(dest, content, 0o644))

	e := New(true)
	err := e.Fetch(context.Background(), []Request{{
		URL: srv.URL, DestPath: dest, ExpectedHash: hashOf(content), Size: int64(len(content)),
	}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, hits, "already-verified blob must not be re-fetched")
}

func TestFetchNotFoundIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	e := New(true)
	err := e.Fetch(context.Background(), []Request{{
		URL: srv.URL, DestPath: filepath.Join(dir, "blob"), ExpectedHash: "deadbeef",
	}}, Options{})
	require.Error(t, err)
	assert.True(t, rlerr.As(err, rlerr.KindNotFound))
}

func TestFetchCorruptBodyIsReportedAsCorrupt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("wrong content"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	e := New(true)
	err := e.Fetch(context.Background(), []Request{{
		URL: srv.URL, DestPath: filepath.Join(dir, "blob"), ExpectedHash: hashOf([]byte("expected content")),
	}}, Options{})
	require.Error(t, err)
	assert.True(t, rlerr.As(err, rlerr.KindCorrupt))
}

func TestFetchEndianMismatchQuarantinesBlob(t *testing.T) {
	swapped := append([]byte("FUGG"), make([]byte, 12)...)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(swapped)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "blob.gguf")
	e := New(true)
	err := e.Fetch(context.Background(), []Request{{
		URL: srv.URL, DestPath: dest, ExpectedHash: hashOf(swapped),
	}}, Options{VerifyEndian: true})
	require.Error(t, err)
	assert.True(t, rlerr.As(err, rlerr.KindEndianMismatch))

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "mismatched blob must not be left at its committed name")
	_, statErr = os.Stat(dest + ".wrongendian")
	assert.NoError(t, statErr)
}
