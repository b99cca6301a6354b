package transport

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/containers/ramalama/pkg/modelref"
	"github.com/containers/ramalama/pkg/pull"
	"github.com/containers/ramalama/pkg/store"
)

// RunFetchAndCommit is the pull orchestration every network transport
// (HuggingFace, ModelScope, Ollama, plain URL) shares once it has resolved a
// manifest: reserve the model directory, hand each entry's bytes to the pull
// engine, content-address any blob whose hash wasn't already known, link the
// snapshot, and commit the ref (spec §4.F-G). The OCI transport does not use
// it. Registry transports that already know a blob's digest (Ollama) pass it
// as entry.DestHash, so
// the pull engine fetches straight into that blob's final content-addressed
// path and can skip it outright on a retry; transports that don't
// (HuggingFace, URL) leave it empty, fetch under a provisional staging name,
// and let CommitBlob name the blob from its actual content once it lands.
//
// Pull is idempotent on an already-complete ref (spec §8 property 4): no
// blob is re-fetched and the ref file is left untouched.
func RunFetchAndCommit(ctx context.Context, s *store.Store, ref modelref.Reference, entries []ManifestEntry, opts PullOptions, authHeader string) error {
	storeKey := ref.StoreKey()

	h, err := s.Reserve(ref, store.LockExclusive)
	if err != nil {
		return err
	}
	defer h.Release()

	present, err := s.Present(ref)
	if err != nil {
		return err
	}
	if present {
		return nil
	}

	blobsDir := s.BlobsDir(storeKey)
	staging := make(map[string]string, len(entries))
	requests := make([]pull.Request, 0, len(entries))
	for _, e := range entries {
		expected := strings.TrimPrefix(strings.TrimPrefix(e.DestHash, "sha256-"), "sha256:")
		path := filepath.Join(blobsDir, "staging-"+sanitizeStagingName(e.LogicalName))
		if expected != "" {
			path = s.BlobPath(storeKey, expected)
		}
		staging[e.LogicalName] = path
		requests = append(requests, pull.Request{
			URL:          e.URL,
			DestPath:     path,
			ExpectedHash: expected,
			Size:         e.Size,
			LogicalName:  e.LogicalName,
		})
	}

	tlsVerify := true
	if opts.TLSVerifySet {
		tlsVerify = opts.TLSVerify
	}

	eng := pull.New(tlsVerify)
	if err := eng.Fetch(ctx, requests, pull.Options{
		Concurrency:  opts.Concurrency,
		TLSVerify:    tlsVerify,
		AuthHeader:   authHeader,
		Progress:     opts.Progress,
		VerifyEndian: opts.Verify,
	}); err != nil {
		return err
	}

	files := make([]store.ModelFile, 0, len(entries))
	now := float64(nowUnix())
	for _, e := range entries {
		hash := strings.TrimPrefix(strings.TrimPrefix(e.DestHash, "sha256-"), "sha256:")
		if hash == "" {
			// No registry-advertised digest: the blob landed under a staging
			// name and CommitBlob names it from its actual content.
			hash, err = s.CommitBlob(storeKey, staging[e.LogicalName])
			if err != nil {
				return err
			}
		}
		files = append(files, store.ModelFile{
			Name:     filepath.Base(e.LogicalName),
			Hash:     "sha256-" + hash,
			Type:     store.FileType(e.Role),
			Size:     e.Size,
			Modified: now,
		})
	}

	if err := s.CreateSnapshotLinks(storeKey, ref.Tag, files); err != nil {
		return err
	}
	return s.Commit(h, storeKey, ref.Tag, store.Ref{ModelFiles: files})
}

// sanitizeStagingName turns a possibly-nested logical path (HuggingFace repos
// nest files under subdirectories) into a single path-safe component.
func sanitizeStagingName(name string) string {
	return strings.ReplaceAll(filepath.ToSlash(name), "/", "_")
}

// nowUnix is the one place RunFetchAndCommit reaches for wall-clock time, so
// a future "pin Modified for reproducible test fixtures" need only override it.
func nowUnix() int64 { return time.Now().Unix() }
