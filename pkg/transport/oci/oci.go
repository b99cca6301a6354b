// Package oci implements the oci:// transport and the dispatch fallback for
// any scheme with no dedicated plugin (spec §4.E/§4.F). Unlike the other
// transports, OCI artifacts live in the container engine's own storage, not
// this core's content-addressed store: pull, removal, and existence checks
// all shell out to the engine binary as argv, the same subprocess-only
// posture spec §4.H mandates for the engine builder, grounded on
// containers/image's docker/daemon transport delegating to an external
// daemon rather than speaking the registry protocol itself.
package oci

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/containers/ramalama/internal/rlerr"
	"github.com/containers/ramalama/pkg/modelref"
	"github.com/containers/ramalama/pkg/store"
	"github.com/containers/ramalama/pkg/transport"
)

func init() {
	transport.Register(modelref.SchemeOCI, func(s *store.Store) transport.Transport { return &Transport{store: s, engineBin: "podman"} })
}

// Transport implements transport.Transport by delegating to the container
// engine binary rather than this core's store.
type Transport struct {
	store     *store.Store
	engineBin string
}

// imageRef builds the engine-facing image reference for ref, oci:// models
// being named by their path (and tag) exactly as the engine expects.
func imageRef(ref modelref.Reference) string {
	return fmt.Sprintf("%s:%s", ref.Path, ref.Tag)
}

func (t *Transport) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, t.engineBin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		switch {
		case strings.Contains(msg, "not found") || strings.Contains(msg, "no such"):
			return "", rlerr.New(rlerr.KindNotFound, msg)
		case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "authentication required"):
			return "", rlerr.New(rlerr.KindAuthRequired, msg)
		default:
			rc := -1
			if cmd.ProcessState != nil {
				rc = cmd.ProcessState.ExitCode()
			}
			return "", rlerr.WithReturncode(fmt.Sprintf("%s %s", t.engineBin, strings.Join(args, " ")), fmt.Errorf("%s: %w", msg, err), rc)
		}
	}
	return stdout.String(), nil
}

func (t *Transport) ModelName(ref modelref.Reference) string  { return ref.Path }
func (t *Transport) ModelTag(ref modelref.Reference) string    { return ref.Tag }
func (t *Transport) ModelAlias(ref modelref.Reference) string { return ref.ServedIdentity() }

// MountCmd mounts the image or OCI artifact directly, since its bytes live
// in the engine's own storage rather than this core's snapshot directories
// (spec §4.F: "the mount command uses an image or artifact mount directly").
func (t *Transport) MountCmd(ref modelref.Reference, snapshotDir string) (string, error) {
	return fmt.Sprintf("--mount=type=image,src=%s,dst=/mnt/models,ro", imageRef(ref)), nil
}

// Pull shells out to `<engine> pull`.
func (t *Transport) Pull(ctx context.Context, ref modelref.Reference, opts transport.PullOptions) error {
	args := []string{"pull"}
	if opts.TLSVerifySet && !opts.TLSVerify {
		args = append(args, "--tls-verify=false")
	}
	if opts.AuthFilePath != "" {
		args = append(args, "--authfile", opts.AuthFilePath)
	}
	args = append(args, imageRef(ref))
	_, err := t.run(ctx, args...)
	return err
}

// EnsureModelExists pulls ref only if the engine doesn't already have it.
func (t *Transport) EnsureModelExists(ctx context.Context, ref modelref.Reference, opts transport.PullOptions) error {
	present, err := t.Exists(ctx, ref)
	if err != nil {
		return err
	}
	if present {
		return nil
	}
	return t.Pull(ctx, ref, opts)
}

// Exists runs `<engine> artifact inspect` (falling back to `image inspect`
// for a plain container image) to check presence without pulling.
func (t *Transport) Exists(ctx context.Context, ref modelref.Reference) (bool, error) {
	if _, err := t.run(ctx, "artifact", "inspect", imageRef(ref)); err == nil {
		return true, nil
	}
	_, err := t.run(ctx, "image", "inspect", imageRef(ref))
	if err != nil {
		if rlerr.As(err, rlerr.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Remove tries `manifest rm`, then `rmi`, then `artifact rm`, in that order,
// per spec §9's resolved Open Question #3: a *NotFound* from any step is
// swallowed and the next step is still attempted regardless of
// opts.Ignore, but any other error aborts immediately regardless of
// opts.Ignore.
func (t *Transport) Remove(ctx context.Context, ref modelref.Reference, opts transport.RemoveOptions) (bool, error) {
	removedAny := false
	steps := [][]string{
		{"manifest", "rm", imageRef(ref)},
		{"rmi", imageRef(ref)},
		{"artifact", "rm", imageRef(ref)},
	}
	for _, args := range steps {
		if _, err := t.run(ctx, args...); err != nil {
			if rlerr.As(err, rlerr.KindNotFound) {
				continue
			}
			return removedAny, err
		}
		removedAny = true
	}
	if !removedAny && !opts.Ignore {
		return false, rlerr.New(rlerr.KindNotFound, fmt.Sprintf("no image or artifact found for %s", imageRef(ref)))
	}
	return removedAny, nil
}
