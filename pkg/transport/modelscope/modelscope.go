// Package modelscope implements the ms:// / modelscope:// transport: list a
// model repo's files via the ModelScope file-tree API, filter to the roles
// this core cares about, and delegate bytes to the pull engine. Grounded on
// containers/image's docker_image_src.go manifest-fetch-then-filter shape,
// the same way pkg/transport/huggingface is, adapted to ModelScope's
// differently-shaped listing and download-URL API (spec §4.F: "HuggingFace /
// ModelScope: list repo files filtered to weights + mmproj + chat template").
package modelscope

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/containers/ramalama/internal/rlerr"
	"github.com/containers/ramalama/pkg/modelref"
	"github.com/containers/ramalama/pkg/store"
	"github.com/containers/ramalama/pkg/transport"
	"github.com/containers/ramalama/pkg/transport/auth"
)

func init() {
	transport.Register(modelref.SchemeMS, func(s *store.Store) transport.Transport { return &Transport{store: s} })
}

// apiBase is a var, not a const, so tests can point it at an httptest server.
var apiBase = "https://modelscope.cn"

const revision = "master"

// Transport implements transport.Transport for ModelScope repositories.
type Transport struct {
	store *store.Store
}

type repoFile struct {
	Path string `json:"Path"`
	Name string `json:"Name"`
	Size int64  `json:"Size"`
}

type fileListResponse struct {
	Data struct {
		Files []repoFile `json:"Files"`
	} `json:"Data"`
}

// listFiles queries the ModelScope file-tree API for repo's files.
func listFiles(ctx context.Context, repo string) ([]repoFile, error) {
	u := fmt.Sprintf("%s/api/v1/models/%s/repo/files?Revision=%s", apiBase, repo, revision)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, rlerr.Wrap(rlerr.KindTransient, "listing ModelScope repo "+repo, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, rlerr.New(rlerr.KindNotFound, "ModelScope repo "+repo+" not found")
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, rlerr.New(rlerr.KindAuthRequired, "ModelScope repo "+repo+" requires authentication")
	}
	if resp.StatusCode >= 400 {
		return nil, rlerr.New(rlerr.KindTransient, fmt.Sprintf("ModelScope API returned %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var parsed fileListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing ModelScope repo listing: %w", err)
	}
	return parsed.Data.Files, nil
}

// roleOf classifies a file path into the model_files role taxonomy from spec §3.
func roleOf(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "mmproj"):
		return "mmproj"
	case strings.Contains(lower, "chat_template") || strings.HasSuffix(lower, "tokenizer_config.json"):
		return "chat_template"
	case strings.HasSuffix(lower, ".gguf"):
		return "model"
	default:
		return "other"
	}
}

// manifest resolves a reference to the set of files to fetch, identically to
// HuggingFace's rules: GGUF weights, mmproj, and chat template always; a file
// whose path contains "draft" only when opts.IncludeDraft is set or when it
// matches opts.DraftModelName (which also gives it the "draft" role).
func manifest(ctx context.Context, ref modelref.Reference, opts transport.PullOptions) ([]transport.ManifestEntry, error) {
	files, err := listFiles(ctx, ref.Path)
	if err != nil {
		return nil, err
	}

	var entries []transport.ManifestEntry
	for _, f := range files {
		role := roleOf(f.Path)
		if role == "other" {
			continue
		}
		if opts.DraftModelName != "" && strings.Contains(f.Path, opts.DraftModelName) {
			role = "draft"
		} else if strings.Contains(strings.ToLower(f.Path), "draft") && !opts.IncludeDraft {
			continue
		}
		entries = append(entries, transport.ManifestEntry{
			URL:         fmt.Sprintf("%s/api/v1/models/%s/repo?Revision=%s&FilePath=%s", apiBase, ref.Path, revision, url.QueryEscape(f.Path)),
			Size:        f.Size,
			Role:        role,
			LogicalName: f.Path,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].LogicalName < entries[j].LogicalName })
	return entries, nil
}

func authHeader(opts transport.PullOptions) (string, error) {
	return auth.BearerHeader(opts.AuthFilePath, "modelscope.cn")
}

func (t *Transport) ModelName(ref modelref.Reference) string  { return ref.Path }
func (t *Transport) ModelTag(ref modelref.Reference) string   { return ref.Tag }
func (t *Transport) ModelAlias(ref modelref.Reference) string { return ref.ServedIdentity() }

func (t *Transport) MountCmd(ref modelref.Reference, snapshotDir string) (string, error) {
	return fmt.Sprintf("--mount=type=bind,src=%s,dst=/mnt/models,ro", snapshotDir), nil
}

// Pull resolves ref's manifest and fetches every entry into the store.
// Idempotent: RunFetchAndCommit is a no-op when ref is already fully present
// (spec §8 property 4).
func (t *Transport) Pull(ctx context.Context, ref modelref.Reference, opts transport.PullOptions) error {
	entries, err := manifest(ctx, ref, opts)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return rlerr.New(rlerr.KindNotFound, "ModelScope repo "+ref.Path+" has no files matching a known role")
	}
	header, err := authHeader(opts)
	if err != nil {
		return err
	}
	return transport.RunFetchAndCommit(ctx, t.store, ref, entries, opts, header)
}

// EnsureModelExists pulls ref only if the store doesn't already have a
// complete snapshot for it.
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

// Exists reports whether ref is fully present in the store, without
// contacting ModelScope.
func (t *Transport) Exists(ctx context.Context, ref modelref.Reference) (bool, error) {
	return t.store.Present(ref)
}

// Remove deletes ref from the store.
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
