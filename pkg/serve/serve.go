// Package serve builds a per-runtime plan.Serve from a store snapshot, per
// spec §4.I. Each planner is pure: it reads the file paths OpenForServe
// resolved and the user's request, and returns a plan the engine builder
// turns into an argv. Grounded on pkg/transport's PullOptions pattern of a
// fully-typed request record rather than a duck-typed options bag.
package serve

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/containers/ramalama/internal/plan"
	"github.com/containers/ramalama/internal/rlerr"
)

// Request is everything a planner needs to produce a plan.Serve for one model.
type Request struct {
	ModelAlias string // served identity, e.g. "hf/org/repo:latest"
	Files      map[string]string // role -> snapshot file path, from store.OpenForServe
	Runtime    plan.Runtime

	Port int
	Host string

	ContextSize  int
	CacheReuse   int
	NGPULayers   int
	Threads      int
	Temp         float64
	Embedding    bool
	WebUI        bool

	Env     map[string]string
	Mounts  []plan.Mount
	Devices []plan.Device

	SELinux    bool
	CapDropAll bool
	Privileged bool
	Labels     map[string]string

	ContainerName string
	Image         string

	// RouterModelsDir is the in-container directory router mode scans for
	// models, populated by pkg/router's per-model bind mounts.
	RouterModelsDir string
}

// Plan dispatches req to the planner for req.Runtime.
func Plan(req Request) (plan.Serve, error) {
	switch req.Runtime {
	case plan.RuntimeLlamaCPP, "":
		return planLlamaCPP(req, false)
	case plan.RuntimeVLLM:
		return planVLLM(req)
	case plan.RuntimeMLX:
		return planMLX(req)
	default:
		return plan.Serve{}, rlerr.New(rlerr.KindBadName, fmt.Sprintf("unknown runtime %q", req.Runtime))
	}
}

// PlanLlamaCPPRouterMode assembles llama-server's multi-model front-end
// arguments, the hand-off target for pkg/router's router_mode=true plan
// (spec §4.J).
func PlanLlamaCPPRouterMode(req Request) (plan.Serve, error) {
	return planLlamaCPP(req, true)
}

// planLlamaCPP assembles llama-server's CLI flags. routerMode switches it
// into the multi-model front-end the router planner uses.
func planLlamaCPP(req Request, routerMode bool) (plan.Serve, error) {
	args := []string{
		"llama-server",
		"--port", fmt.Sprintf("%d", req.Port),
		"--host", hostOrDefault(req.Host),
	}

	if !routerMode {
		modelPath, ok := req.Files["model"]
		if !ok {
			return plan.Serve{}, rlerr.New(rlerr.KindBadName, "no model file resolved for "+req.ModelAlias)
		}
		args = append(args, "--model", modelPath, "--alias", req.ModelAlias)
	} else {
		args = append(args, "--models-dir", req.RouterModelsDir)
	}

	if req.ContextSize > 0 {
		args = append(args, "--ctx-size", fmt.Sprintf("%d", req.ContextSize))
	}
	if req.CacheReuse > 0 {
		args = append(args, "--cache-reuse", fmt.Sprintf("%d", req.CacheReuse))
	}
	if req.NGPULayers > 0 {
		args = append(args, "--n-gpu-layers", fmt.Sprintf("%d", req.NGPULayers))
	}
	if req.Threads > 0 {
		args = append(args, "--threads", fmt.Sprintf("%d", req.Threads))
	}
	if req.Temp > 0 {
		args = append(args, "--temp", fmt.Sprintf("%g", req.Temp))
	}
	if chat, ok := req.Files["chat_template"]; ok {
		args = append(args, "--jinja")
		args = append(args, "--chat-template-file", chat)
	}
	if mmproj, ok := req.Files["mmproj"]; ok {
		args = append(args, "--mmproj", mmproj)
	}
	if req.Embedding {
		args = append(args, "--embedding", "--pooling", "last")
	}
	if !req.WebUI {
		args = append(args, "--no-webui")
	}

	mounts := append([]plan.Mount{}, req.Mounts...)
	for role, p := range req.Files {
		_ = role
		mounts = append(mounts, plan.Mount{Source: filepath.Dir(p), Dest: filepath.Dir(p), ReadOnly: true})
	}

	return plan.Serve{
		Runtime:       plan.RuntimeLlamaCPP,
		Containerized: true,
		Image:         defaultImage(req.Image, "quay.io/ramalama/llama-server"),
		ContainerName: req.ContainerName,
		Args:          args,
		Env:           req.Env,
		Mounts:        dedupMounts(mounts),
		Devices:       req.Devices,
		Port:          req.Port,
		Host:          hostOrDefault(req.Host),
		SELinux:       req.SELinux,
		CapDropAll:    req.CapDropAll,
		Privileged:    req.Privileged,
		Labels:        req.Labels,
		RouterMode:    routerMode,
	}, nil
}

// planVLLM assembles vLLM's CLI flags. Always containerized (spec §4.I).
func planVLLM(req Request) (plan.Serve, error) {
	modelPath, ok := req.Files["model"]
	if !ok {
		return plan.Serve{}, rlerr.New(rlerr.KindBadName, "no model file resolved for "+req.ModelAlias)
	}
	args := []string{
		"--model", modelPath,
		"--port", fmt.Sprintf("%d", req.Port),
		"--host", hostOrDefault(req.Host),
	}
	if req.ContextSize > 0 {
		args = append(args, "--max-model-len", fmt.Sprintf("%d", req.ContextSize))
	}

	return plan.Serve{
		Runtime:       plan.RuntimeVLLM,
		Containerized: true,
		Image:         defaultImage(req.Image, "quay.io/ramalama/vllm"),
		ContainerName: req.ContainerName,
		Args:          args,
		Env:           req.Env,
		Mounts:        append([]plan.Mount{{Source: filepath.Dir(modelPath), Dest: filepath.Dir(modelPath), ReadOnly: true}}, req.Mounts...),
		Devices:       req.Devices,
		Port:          req.Port,
		Host:          hostOrDefault(req.Host),
		SELinux:       req.SELinux,
		CapDropAll:    req.CapDropAll,
		Privileged:    req.Privileged,
		Labels:        req.Labels,
	}, nil
}

// planMLX assembles mlx_lm.server's CLI flags. Native-only: fails NotSupported
// outside Apple silicon, per spec §4.I, and always runs uncontainerized.
func planMLX(req Request) (plan.Serve, error) {
	if runtime.GOOS != "darwin" || runtime.GOARCH != "arm64" {
		return plan.Serve{}, rlerr.New(rlerr.KindNotSupported, "mlx runtime requires Apple silicon")
	}
	modelPath, ok := req.Files["model"]
	if !ok {
		return plan.Serve{}, rlerr.New(rlerr.KindBadName, "no model file resolved for "+req.ModelAlias)
	}
	args := []string{
		"mlx_lm.server",
		"--model", modelPath,
		"--port", fmt.Sprintf("%d", req.Port),
		"--host", hostOrDefault(req.Host),
	}
	return plan.Serve{
		Runtime:       plan.RuntimeMLX,
		Containerized: false,
		Args:          args,
		Env:           req.Env,
		Port:          req.Port,
		Host:          hostOrDefault(req.Host),
	}, nil
}

func hostOrDefault(h string) string {
	if h == "" {
		return "0.0.0.0"
	}
	return h
}

func defaultImage(image, fallback string) string {
	if image != "" {
		return image
	}
	return fallback
}

func dedupMounts(mounts []plan.Mount) []plan.Mount {
	seen := map[string]bool{}
	var out []plan.Mount
	for _, m := range mounts {
		key := m.Source + "->" + m.Dest
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}
