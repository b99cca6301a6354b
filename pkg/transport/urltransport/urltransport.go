// Package urltransport implements the http:// / https:// transport: a
// single-file pull whose filename is the trailing path component, per spec
// §4.F. Grounded on pkg/transport/huggingface's manifest-then-fetch shape,
// reduced to one file since a bare URL carries no repo listing to filter.
package urltransport

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/containers/ramalama/internal/rlerr"
	"github.com/containers/ramalama/pkg/modelref"
	"github.com/containers/ramalama/pkg/store"
	"github.com/containers/ramalama/pkg/transport"
)

func init() {
	factory := func(s *store.Store) transport.Transport { return &Transport{store: s} }
	transport.Register(modelref.SchemeHTTP, factory)
	transport.Register(modelref.SchemeHTTPS, factory)
}

// Transport implements transport.Transport for bare http(s) URLs.
type Transport struct {
	store *store.Store
}

// filename is the trailing path component of ref.Path, used both as the
// snapshot's logical file name and to guess the file's role.
func filename(ref modelref.Reference) string {
	return path.Base(ref.Path)
}

func roleOf(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".gguf") {
		return "model"
	}
	return "other"
}

func manifest(ref modelref.Reference) transport.ManifestEntry {
	name := filename(ref)
	return transport.ManifestEntry{
		URL:         fmt.Sprintf("%s://%s", ref.Scheme, ref.Path),
		Role:        roleOf(name),
		LogicalName: name,
	}
}

func (t *Transport) ModelName(ref modelref.Reference) string  { return ref.Path }
func (t *Transport) ModelTag(ref modelref.Reference) string    { return ref.Tag }
func (t *Transport) ModelAlias(ref modelref.Reference) string { return ref.ServedIdentity() }

func (t *Transport) MountCmd(ref modelref.Reference, snapshotDir string) (string, error) {
	return fmt.Sprintf("--mount=type=bind,src=%s,dst=/mnt/models,ro", snapshotDir), nil
}

// Pull fetches the single file named by ref into the store. Idempotent:
// RunFetchAndCommit is a no-op when ref is already fully present (spec §8
// property 4).
func (t *Transport) Pull(ctx context.Context, ref modelref.Reference, opts transport.PullOptions) error {
	entry := manifest(ref)
	return transport.RunFetchAndCommit(ctx, t.store, ref, []transport.ManifestEntry{entry}, opts, "")
}

// EnsureModelExists pulls ref only if the store doesn't already have it.
func (t *Transport) EnsureModelExists(ctx context.Context, ref modelref.Reference, opts transport.PullOptions) error {
	present, err := t.store.Present(ref)
	if err != nil {
		return err
	}
	if present {
		return nil
	}
	return t.Pull(ctx, ref, opts)
}

// Exists reports whether ref is fully present in the store.
func (t *Transport) Exists(ctx context.Context, ref modelref.Reference) (bool, error) {
	return t.store.Present(ref)
}

// Remove deletes ref from the store. A bare URL has no server-side state.
func (t *Transport) Remove(ctx context.Context, ref modelref.Reference, opts transport.RemoveOptions) (bool, error) {
	present, err := t.store.Present(ref)
	if err != nil && !opts.Ignore {
		return false, err
	}
	if !present {
		if opts.Ignore {
			return false, nil
		}
		return false, rlerr.New(rlerr.KindNotFound, "model "+ref.Canonical()+" not present")
	}
	if err := t.store.Remove(ref); err != nil {
		if opts.Ignore && rlerr.As(err, rlerr.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
