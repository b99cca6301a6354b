// Package engine assembles a container-engine argv from a typed serve plan
// and optionally execs it, mirroring spec §4.H's "pure assembly" contract:
// nothing here talks to a daemon API, only subprocess argv construction and
// (for inspection commands) parsing the engine's own text output. Grounded
// on containers/image's decision to keep storage/network concerns behind a
// narrow Go interface rather than an SDK client, adapted here to a
// subprocess boundary since spec §9 rules out the Docker Engine API client
// stack entirely.
package engine

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/opencontainers/selinux/go-selinux"
	"github.com/sirupsen/logrus"

	"github.com/containers/ramalama/internal/plan"
	"github.com/containers/ramalama/internal/rlerr"
)

// Engine builds and runs container-engine commands for one binary (podman
// or docker), resolved once at construction.
type Engine struct {
	Bin string
}

// New returns an Engine bound to bin ("podman", "docker", ...).
func New(bin string) *Engine {
	return &Engine{Bin: bin}
}

const alnum = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomName generates a "ramalama-<10 alnum>" container name, spec §4.H's
// fallback when the caller doesn't supply one.
func randomName() string {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		logrus.WithError(err).Warn("crypto/rand unavailable, falling back to a fixed suffix")
		return "ramalama-0000000000"
	}
	for i := range b {
		b[i] = alnum[int(b[i])%len(alnum)]
	}
	return "ramalama-" + string(b)
}

// deviceCandidates is the fixed set of GPU device nodes auto-probed per spec §4.H.
var deviceCandidates = []string{"/dev/dri", "/dev/kfd", "/dev/accel"}

// AutoDevices returns the subset of deviceCandidates present on the host,
// or nil when noDevices suppresses auto-detection ("--device none").
func AutoDevices(noDevices bool) []plan.Device {
	if noDevices {
		return nil
	}
	var devices []plan.Device
	for _, path := range deviceCandidates {
		if _, err := os.Stat(path); err == nil {
			devices = append(devices, plan.Device{Path: path})
		}
	}
	return devices
}

// MergeEnv merges autoEnv (GPU-autodetection output) with userEnv
// (user-supplied KEY=VALUE pairs), user values winning on conflict, via
// mergo the way the teacher's ecosystem merges typed structs rather than
// hand-rolling map-union precedence rules.
func MergeEnv(autoEnv, userEnv map[string]string) (map[string]string, error) {
	merged := map[string]string{}
	for k, v := range autoEnv {
		merged[k] = v
	}
	if err := mergo.Merge(&merged, userEnv, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merging environment: %w", err)
	}
	return merged, nil
}

// SELinuxEnabled reports whether the host enforces SELinux, deciding
// whether the engine builder adds "--security-opt label=...".
func SELinuxEnabled() bool {
	return selinux.GetEnabled()
}

// portExclusion is the caller-supplied set of ports ComputeServingPort must
// skip even if unbound, needed when two servers launch together (spec
// §4.H: "needed when two servers are launched together for RAG").
type portExclusion map[int]bool

// NewPortExclusion builds a portExclusion set from explicit ports.
func NewPortExclusion(ports ...int) portExclusion {
	m := portExclusion{}
	for _, p := range ports {
		m[p] = true
	}
	return m
}

// ComputeServingPort implements spec §4.H's port selection: an explicit
// user port wins outright; otherwise scan upward from start, skipping
// excluded ports and any port a test bind reports as already in use.
func ComputeServingPort(userPort, start int, exclude portExclusion) (int, error) {
	if userPort != 0 {
		return userPort, nil
	}
	for port := start; port < start+1000; port++ {
		if exclude[port] {
			continue
		}
		if portFree(port) {
			return port, nil
		}
	}
	return 0, rlerr.New(rlerr.KindTransient, fmt.Sprintf("no free serving port found starting at %d", start))
}

func portFree(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	defer l.Close()
	return true
}

// BuildArgv assembles the full container-engine argv for p, ready to exec
// or to print for a dry run.
func BuildArgv(p plan.Serve) []string {
	name := p.ContainerName
	if name == "" {
		name = randomName()
	}

	argv := []string{"run", "--rm", "--name", name}
	argv = append(argv, "-p", fmt.Sprintf("%d:%d", p.Port, p.Port))

	for _, m := range p.Mounts {
		flag := fmt.Sprintf("type=bind,src=%s,dst=%s", m.Source, m.Dest)
		if m.ReadOnly {
			flag += ",ro"
		}
		if m.Propagation != "" {
			flag += ",propagation=" + m.Propagation
		}
		argv = append(argv, "--mount", flag)
	}
	for _, d := range p.Devices {
		argv = append(argv, "--device", d.Path)
	}
	if len(p.Devices) == 0 {
		argv = append(argv, "--device", "none")
	}

	for k, v := range p.Env {
		argv = append(argv, "-e", fmt.Sprintf("%s=%s", k, v))
	}

	if p.SELinux {
		argv = append(argv, "--security-opt", "label=type:container_runtime_t")
	}
	if p.CapDropAll {
		argv = append(argv, "--cap-drop=all")
	}
	if p.Privileged {
		argv = append(argv, "--privileged")
	}

	argv = append(argv, "--label", "ai.ramalama=true")
	for k, v := range p.Labels {
		argv = append(argv, "--label", fmt.Sprintf("%s=%s", k, v))
	}

	argv = append(argv, p.Image)
	argv = append(argv, p.Args...)
	return argv
}

// DryRunString renders argv the way spec §4.H's dry-run mode prints it:
// space-separated and shell-quoted.
func DryRunString(bin string, argv []string) string {
	parts := make([]string, 0, len(argv)+1)
	parts = append(parts, bin)
	for _, a := range argv {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

// shellQuote quotes s for safe inclusion in a POSIX shell command line,
// single-quoting unless s is already shell-safe.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, needsQuote) == -1 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("-_./:=@", r):
		return false
	default:
		return true
	}
}

// Run execs the container engine with argv, streaming its output to the
// current process's stdio.
func (e *Engine) Run(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(ctx, e.Bin, argv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Run(); err != nil {
		return rlerr.Wrap(rlerr.KindEngineFailure, fmt.Sprintf("%s %s", e.Bin, strings.Join(argv, " ")), err)
	}
	return nil
}

// Stop stops a running container by name.
func (e *Engine) Stop(ctx context.Context, name string) error {
	return e.runQuiet(ctx, "stop", name)
}

// RemoveContainer removes a stopped container by name.
func (e *Engine) RemoveContainer(ctx context.Context, name string) error {
	return e.runQuiet(ctx, "rm", "-f", name)
}

func (e *Engine) runQuiet(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, e.Bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "no such container") {
			return rlerr.New(rlerr.KindNotFound, msg)
		}
		return rlerr.Wrap(rlerr.KindEngineFailure, fmt.Sprintf("%s %s", e.Bin, strings.Join(args, " ")), fmt.Errorf("%s: %w", msg, err))
	}
	return nil
}

// Container is one row of `<engine> ps` filtered to ramalama-labeled containers.
type Container struct {
	ID     string
	Name   string
	Image  string
	Status string
}

// List returns every running container carrying the ai.ramalama label
// (spec's supplemented "containers"/"ps" listing feature).
func (e *Engine) List(ctx context.Context) ([]Container, error) {
	out, err := exec.CommandContext(ctx, e.Bin, "ps", "--filter", "label=ai.ramalama=true",
		"--format", "{{.ID}}\t{{.Names}}\t{{.Image}}\t{{.Status}}").Output()
	if err != nil {
		return nil, rlerr.Wrap(rlerr.KindEngineFailure, e.Bin+" ps", err)
	}
	var containers []Container
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			continue
		}
		containers = append(containers, Container{ID: fields[0], Name: fields[1], Image: fields[2], Status: fields[3]})
	}
	return containers, nil
}

// Health-check poller timing: 180s overall deadline, 1s between probes, 2s
// per connect attempt (spec §5).
const (
	healthCheckTimeout  = 180 * time.Second
	healthCheckInterval = 1 * time.Second
	healthCheckConnect  = 2 * time.Second
)

// WaitHealthy polls `<engine> inspect --format {{.State.Health.Status}}`
// until it reports "healthy", the container exits, or 180s elapse, whichever
// comes first (spec's supplemented health-check-polling feature). A caller
// deadline shorter than 180s still applies; one longer, or absent, does not
// let the poll run past 180s.
func (e *Engine) WaitHealthy(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return rlerr.Wrap(rlerr.KindTransient, "waiting for "+name+" to become healthy", ctx.Err())
		default:
		}
		status, err := e.probeHealth(ctx, name)
		if err != nil {
			return err
		}
		switch status {
		case "healthy":
			return nil
		case "unhealthy":
			return rlerr.New(rlerr.KindEngineFailure, name+" reported unhealthy")
		}
		select {
		case <-ctx.Done():
			return rlerr.Wrap(rlerr.KindTransient, "waiting for "+name+" to become healthy", ctx.Err())
		case <-time.After(healthCheckInterval):
		}
	}
}

// probeHealth runs a single inspect, bounded to healthCheckConnect
// independently of the overall WaitHealthy deadline.
func (e *Engine) probeHealth(ctx context.Context, name string) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, healthCheckConnect)
	defer cancel()
	out, err := exec.CommandContext(probeCtx, e.Bin, "inspect", "--format", "{{.State.Health.Status}}", name).Output()
	if err != nil {
		return "", rlerr.Wrap(rlerr.KindEngineFailure, e.Bin+" inspect "+name, err)
	}
	return strings.TrimSpace(string(out)), nil
}
