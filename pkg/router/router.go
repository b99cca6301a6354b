// Package router implements spec §4.J's multi-model router mode: enumerate
// every GGUF model in the store, build a readable alias per model, bind-mount
// each into a shared directory, and hand off to the llama.cpp planner in
// router_mode. Grounded on pkg/store.ListModels' ref-walking shape and
// pkg/serve's typed Request/plan.Serve contract.
package router

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/containers/ramalama/internal/plan"
	"github.com/containers/ramalama/internal/rlerr"
	"github.com/containers/ramalama/pkg/modelref"
	"github.com/containers/ramalama/pkg/serve"
	"github.com/containers/ramalama/pkg/store"
)

const routerMountRoot = "/mnt/models"

// entry is one model eligible for router mode: its canonical reference and
// the snapshot path of its GGUF weight file.
type entry struct {
	canonical string // "<scheme>://<path>:<tag>"
	hash      string
	modelPath string
}

// Enumerate walks every ref in s whose files include a "model" role GGUF
// payload, per spec §4.J step 1.
func Enumerate(s *store.Store) ([]entry, error) {
	models, err := s.ListModels(false)
	if err != nil {
		return nil, err
	}

	var entries []entry
	for canonical, files := range models {
		for _, f := range files {
			if f.Type != store.FileTypeModel || !strings.HasSuffix(strings.ToLower(f.Name), ".gguf") {
				continue
			}
			ref, err := modelref.Parse(canonical)
			if err != nil {
				continue // a canonical string ListModels produced must parse; skip defensively rather than fail the whole scan
			}
			_, resolved, err := s.OpenForServe(ref)
			if err != nil {
				continue
			}
			entries = append(entries, entry{
				canonical: canonical,
				hash:      strings.TrimPrefix(strings.TrimPrefix(f.Hash, "sha256-"), "sha256:"),
				modelPath: resolved[string(store.FileTypeModel)],
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].canonical < entries[j].canonical })
	return entries, nil
}

// Alias builds the "<scheme>-<path>-<tag>.gguf" readable alias spec §4.J
// step 2 specifies, disambiguating duplicates with the first 8 hex of hash.
func Alias(canonical, hash string, seen map[string]bool) string {
	scheme, rest, _ := strings.Cut(canonical, "://")
	pathPart, tag, _ := strings.Cut(rest, ":")
	base := fmt.Sprintf("%s-%s-%s.gguf", scheme, strings.ReplaceAll(pathPart, "/", "-"), tag)
	if !seen[base] {
		seen[base] = true
		return base
	}
	short := hash
	if len(short) > 8 {
		short = short[:8]
	}
	disambiguated := fmt.Sprintf("%s-%s-%s-%s.gguf", scheme, strings.ReplaceAll(pathPart, "/", "-"), tag, short)
	seen[disambiguated] = true
	return disambiguated
}

// Plan enumerates the store and produces the multi-model plan.Serve, per
// spec §4.J. Container-only: native is the caller's --nocontainer request,
// and router mode fails NotSupported when set, since llama-server's router
// front-end only exists inside the served image.
func Plan(s *store.Store, req serve.Request, native bool) (plan.Serve, error) {
	if native {
		return plan.Serve{}, rlerr.New(rlerr.KindNotSupported, "router mode requires a container runtime")
	}

	entries, err := Enumerate(s)
	if err != nil {
		return plan.Serve{}, err
	}
	if len(entries) == 0 {
		return plan.Serve{}, rlerr.New(rlerr.KindNotFound, "no GGUF models present in the store for router mode")
	}

	seen := map[string]bool{}
	mounts := make([]plan.Mount, 0, len(entries))
	for _, e := range entries {
		alias := Alias(e.canonical, e.hash, seen)
		mounts = append(mounts, plan.Mount{
			Source:   e.modelPath,
			Dest:     path.Join(routerMountRoot, alias),
			ReadOnly: true,
		})
	}

	req.Mounts = append(req.Mounts, mounts...)
	req.RouterModelsDir = routerMountRoot
	return serve.PlanLlamaCPPRouterMode(req)
}
