// Package plan defines the typed, immutable records that flow from the
// serve/router planners (I/J) into the engine builder (H) and the generator
// (K), replacing the source's duck-typed options bag the same way
// pkg/transport.PullOptions replaces it for the pull path (design note in
// SPEC_FULL.md).
package plan

// Mount is one bind mount the container needs.
type Mount struct {
	Source      string
	Dest        string
	ReadOnly    bool
	Propagation string // "", "rprivate", "rshared", "rslave" — passed through verbatim
}

// Device is a host device node to expose inside the container.
type Device struct {
	Path string
}

// Runtime identifies which serving backend a Serve plan targets.
type Runtime string

const (
	RuntimeLlamaCPP Runtime = "llama.cpp"
	RuntimeVLLM     Runtime = "vllm"
	RuntimeMLX      Runtime = "mlx"
)

// Serve is the fully composed plan for one `ramalama serve` invocation,
// produced by pkg/serve (or pkg/router, for multi-model mode) and consumed
// by pkg/engine to build an argv, or pkg/generate to emit a unit file.
type Serve struct {
	Runtime      Runtime
	Containerized bool

	Image         string
	ContainerName string

	Args []string // runtime-native CLI flags, fully resolved ("--model", path, ...)
	Env  map[string]string
	Mounts []Mount
	Devices []Device

	Port int
	Host string

	SELinux      bool
	CapDropAll   bool
	Privileged   bool
	Labels       map[string]string

	RouterMode bool
}
