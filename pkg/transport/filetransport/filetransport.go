// Package filetransport implements the file:// transport: a local path is
// symlinked (never copied) into the store after a best-effort integrity
// check, per spec §4.F. Grounded on pkg/transport/huggingface's
// reserve-then-commit shape, with the pull engine's network fetch replaced
// by a direct symlink into the content-addressed blobs directory so the rest
// of the store's invariants (Present, VerifyAll, Remove's reference
// counting) keep working unmodified.
package filetransport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/containers/ramalama/internal/rlerr"
	"github.com/containers/ramalama/pkg/digest"
	"github.com/containers/ramalama/pkg/modelref"
	"github.com/containers/ramalama/pkg/store"
	"github.com/containers/ramalama/pkg/transport"
)

func init() {
	transport.Register(modelref.SchemeFile, func(s *store.Store) transport.Transport { return &Transport{store: s} })
}

// Transport implements transport.Transport for local filesystem paths.
type Transport struct {
	store *store.Store
}

func roleOf(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".gguf") {
		return "model"
	}
	return "other"
}

func (t *Transport) ModelName(ref modelref.Reference) string  { return ref.Path }
func (t *Transport) ModelTag(ref modelref.Reference) string    { return ref.Tag }
func (t *Transport) ModelAlias(ref modelref.Reference) string { return ref.ServedIdentity() }

func (t *Transport) MountCmd(ref modelref.Reference, snapshotDir string) (string, error) {
	return fmt.Sprintf("--mount=type=bind,src=%s,dst=/mnt/models,ro", snapshotDir), nil
}

// Pull symlinks ref.Path into the store's blobs directory under its content
// digest, then links it into the snapshot. When opts.Verify is set, a
// swapped-endian GGUF file fails the pull; the source file itself is left
// untouched, since it isn't ours
// to quarantine.
func (t *Transport) Pull(ctx context.Context, ref modelref.Reference, opts transport.PullOptions) error {
	info, err := os.Stat(ref.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return rlerr.New(rlerr.KindNotFound, fmt.Sprintf("local model path %s does not exist", ref.Path))
		}
		return fmt.Errorf("statting %s: %w", ref.Path, err)
	}

	role := roleOf(ref.Path)
	if opts.Verify && role == "model" {
		endian, err := digest.GGUFEndian(ref.Path)
		if err != nil {
			return err
		}
		if endian == digest.Swapped {
			return rlerr.New(rlerr.KindEndianMismatch, fmt.Sprintf("%s has swapped-endian GGUF magic", ref.Path))
		}
	}

	d, err := digest.Digest(ref.Path)
	if err != nil {
		return err
	}
	hash := d.Encoded()

	storeKey := ref.StoreKey()
	h, err := t.store.Reserve(ref, store.LockExclusive)
	if err != nil {
		return err
	}
	defer h.Release()

	blobPath := t.store.BlobPath(storeKey, hash)
	os.Remove(blobPath)
	absSource, err := filepath.Abs(ref.Path)
	if err != nil {
		return fmt.Errorf("resolving absolute path for %s: %w", ref.Path, err)
	}
	if err := os.Symlink(absSource, blobPath); err != nil {
		return fmt.Errorf("linking %s into store: %w", ref.Path, err)
	}

	files := []store.ModelFile{{
		Name:     filepath.Base(ref.Path),
		Hash:     "sha256-" + hash,
		Type:     store.FileType(role),
		Size:     info.Size(),
		Modified: float64(info.ModTime().Unix()),
	}}
	if err := t.store.CreateSnapshotLinks(storeKey, ref.Tag, files); err != nil {
		return err
	}
	return t.store.Commit(h, storeKey, ref.Tag, store.Ref{ModelFiles: files})
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

// Remove deletes ref from the store. The original file on disk is never
// touched, only the store's symlink and its ref.
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
