// Package transport defines the uniform pull/remove/exists/inspect contract
// every registry-specific plugin implements (spec §4.E), and the dispatch
// registry transports self-register into, grounded on containers/image's
// transports.Register + alltransports blank-import pattern.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/containers/ramalama/internal/rlerr"
	"github.com/containers/ramalama/pkg/modelref"
	"github.com/containers/ramalama/pkg/progress"
	"github.com/containers/ramalama/pkg/store"
)

// PullOptions configures a Pull or EnsureModelExists call. This is the typed
// plan record replacing the source's duck-typed options bag (design note in
// SPEC_FULL.md). Only TLSVerify has an explicit presence flag (TLSVerifySet);
// every other field takes its zero value as the default.
type PullOptions struct {
	AuthFilePath   string
	TLSVerifySet   bool
	TLSVerify      bool
	IncludeDraft   bool
	DraftModelName string
	Concurrency    int
	Progress       progress.Sink
	Verify         bool // run the endian check after each GGUF blob lands; the zero value (false) skips the check
}

// RemoveOptions configures a Remove call.
type RemoveOptions struct {
	// Ignore makes Remove return (false, nil) instead of a NotFound error
	// when there is nothing to remove. OCI removal moves past a NotFound at
	// each of its steps whether or not Ignore is set.
	Ignore bool
}

// ManifestEntry is one file a transport's manifest step resolved to a
// downloadable URL, prior to handing the bytes to the pull engine (spec §4.F).
type ManifestEntry struct {
	URL          string
	DestHash     string // sha256 hex, optionally "sha256-" or "sha256:" prefixed; empty if unknown until after download (e.g. URL transport)
	Size         int64
	Role         string // "model", "mmproj", "chat_template", "draft", "other"
	LogicalName  string
}

// Transport is the uniform contract every registry-specific plugin implements.
type Transport interface {
	// Pull populates the store for this (model,tag). Idempotent when already complete.
	Pull(ctx context.Context, ref modelref.Reference, opts PullOptions) error
	// Remove deletes the model, returning true if anything was removed.
	Remove(ctx context.Context, ref modelref.Reference, opts RemoveOptions) (bool, error)
	// Exists reports whether the model is fully present.
	Exists(ctx context.Context, ref modelref.Reference) (bool, error)
	// MountCmd returns the engine mount flag string for this model.
	MountCmd(ref modelref.Reference, snapshotDir string) (string, error)
	// EnsureModelExists pulls if missing, validates if present.
	EnsureModelExists(ctx context.Context, ref modelref.Reference, opts PullOptions) error

	ModelName(ref modelref.Reference) string
	ModelTag(ref modelref.Reference) string
	ModelAlias(ref modelref.Reference) string
}

// Factory constructs a Transport bound to the given store.
type Factory func(s *store.Store) Transport

var (
	mu        sync.RWMutex
	factories = map[modelref.Scheme]Factory{}
)

// Register adds f as the factory for scheme. Called from each
// implementation's init(), mirroring transports.Register.
func Register(scheme modelref.Scheme, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[scheme] = f
}

// Resolve selects exactly one transport for ref's scheme, bound to s. oci://
// serves as the fallback when a reference's scheme has no dedicated
// implementation registered, per spec §4.E.
func Resolve(ref modelref.Reference, s *store.Store) (Transport, error) {
	mu.RLock()
	defer mu.RUnlock()

	scheme := ref.NormalizedScheme()
	if f, ok := factories[scheme]; ok {
		return f(s), nil
	}
	if f, ok := factories[modelref.SchemeOCI]; ok {
		return f(s), nil
	}
	return nil, rlerr.New(rlerr.KindNotFound, fmt.Sprintf("no transport registered for scheme %q", scheme))
}
