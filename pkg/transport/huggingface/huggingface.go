// Package huggingface implements the hf:// / huggingface:// transport: list
// a model repo's files via the HuggingFace Hub API, filter to the roles this
// core cares about, and delegate bytes to the pull engine. Grounded on
// containers/image's docker_image_src.go manifest-fetch-then-filter shape.
package huggingface

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/containers/ramalama/internal/rlerr"
	"github.com/containers/ramalama/pkg/modelref"
	"github.com/containers/ramalama/pkg/store"
	"github.com/containers/ramalama/pkg/transport"
	"github.com/containers/ramalama/pkg/transport/auth"
)

func init() {
	transport.Register(modelref.SchemeHF, func(s *store.Store) transport.Transport { return &Transport{store: s} })
}

// apiBase and resolveBase are vars, not consts, so tests can point them at an
// httptest server; production code never reassigns them.
var (
	apiBase     = "https://huggingface.co"
	resolveBase = "https://huggingface.co"
)

// Transport implements transport.Transport for HuggingFace repositories.
type Transport struct {
	store *store.Store
}

type hubFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type hubModelInfo struct {
	Siblings []hubFile `json:"siblings"`
}

var splitShardRe = regexp.MustCompile(`-(\d{5})-of-(\d{5})\.gguf$`)

// listFiles queries the Hub API for repo's file tree.
func listFiles(ctx context.Context, repo string) ([]hubFile, error) {
	url := fmt.Sprintf("%s/api/models/%s", apiBase, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, rlerr.Wrap(rlerr.KindTransient, "listing HuggingFace repo "+repo, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, rlerr.New(rlerr.KindNotFound, "HuggingFace repo "+repo+" not found")
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, rlerr.New(rlerr.KindAuthRequired, "HuggingFace repo "+repo+" requires authentication")
	}
	if resp.StatusCode >= 400 {
		return nil, rlerr.New(rlerr.KindTransient, fmt.Sprintf("HuggingFace API returned %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var info hubModelInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parsing HuggingFace repo listing: %w", err)
	}
	return info.Siblings, nil
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

// manifest resolves a reference to the set of files to fetch: GGUF weights,
// mmproj, and chat template always. A file whose path contains "draft" is
// included only when opts.IncludeDraft is set or when it matches
// opts.DraftModelName (which also gives it the "draft" role). Split shards
// are enumerated up-front.
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
			URL:         fmt.Sprintf("%s/%s/resolve/main/%s", resolveBase, ref.Path, f.Path),
			Size:        f.Size,
			Role:        role,
			LogicalName: f.Path,
		})
	}

	groupSplitShards(entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].LogicalName < entries[j].LogicalName })
	return entries, nil
}

// groupSplitShards is a no-op marker pass: split archive shards
// ("*-00001-of-NNNNN.gguf") already appear individually in the Hub file
// listing, so "enumerated up-front" just means manifest() must not stop
// after the first shard it sees, which the loop above already guarantees.
func groupSplitShards(entries []transport.ManifestEntry) {
	for _, e := range entries {
		if splitShardRe.MatchString(e.LogicalName) {
			continue
		}
	}
}

func authHeader(opts transport.PullOptions) (string, error) {
	return auth.BearerHeader(opts.AuthFilePath, "huggingface.co")
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
		return rlerr.New(rlerr.KindNotFound, "HuggingFace repo "+ref.Path+" has no files matching a known role")
	}
	header, err := authHeader(opts)
	if err != nil {
		return err
	}
	return transport.RunFetchAndCommit(ctx, t.store, ref, entries, opts, header)
}

// EnsureModelExists pulls ref only if the store doesn't already have a
// complete snapshot for it (spec §4.F: "pull is a no-op when already present").
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
// contacting the Hub.
func (t *Transport) Exists(ctx context.Context, ref modelref.Reference) (bool, error) {
	return t.store.Present(ref)
}

// Remove deletes ref from the store. HuggingFace has no server-side state to
// clean up, so this is purely a store operation.
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
