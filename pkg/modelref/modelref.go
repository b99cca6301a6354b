// Package modelref parses the transport-qualified model reference grammar
// from spec §3 ("<scheme>://<path>[:<tag>]"), the data type every other
// component (store, transport dispatch, serve planner) keys off of. It plays
// the role containers/image's docker/reference package plays for Docker
// image references, narrowed to this core's smaller scheme set.
package modelref

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"

	"github.com/containers/ramalama/internal/rlerr"
)

// Scheme is one of the transport identifiers recognized by spec §3.
type Scheme string

const (
	SchemeHF          Scheme = "hf"
	SchemeHuggingFace Scheme = "huggingface"
	SchemeOllama      Scheme = "ollama"
	SchemeMS          Scheme = "ms"
	SchemeModelScope  Scheme = "modelscope"
	SchemeOCI         Scheme = "oci"
	SchemeHTTP        Scheme = "http"
	SchemeHTTPS       Scheme = "https"
	SchemeFile        Scheme = "file"
)

var validSchemes = map[Scheme]bool{
	SchemeHF: true, SchemeHuggingFace: true,
	SchemeOllama: true,
	SchemeMS:     true, SchemeModelScope: true,
	SchemeOCI: true, SchemeHTTP: true, SchemeHTTPS: true, SchemeFile: true,
}

// DefaultTag is used when a reference omits a tag.
const DefaultTag = "latest"

// Reference is a parsed, transport-qualified model reference.
type Reference struct {
	Scheme Scheme
	Path   string
	Tag    string
}

// knownHTTPSHosts rewrites an https:// URL reference to its native scheme
// before resolution, per spec §3.
var knownHTTPSHosts = map[string]Scheme{
	"huggingface.co":  SchemeHF,
	"www.modelscope.cn": SchemeModelScope,
	"modelscope.cn":    SchemeModelScope,
	"ollama.com":       SchemeOllama,
}

// Parse parses a fully-qualified reference string ("scheme://path:tag").
// Callers resolving a possibly-unqualified shortname should use
// pkg/shortnames first; Parse itself never consults any alias table.
func Parse(s string) (Reference, error) {
	if !strings.Contains(s, "://") {
		return Reference{}, rlerr.New(rlerr.KindBadName, fmt.Sprintf("reference %q is not transport-qualified (missing ://)", s))
	}

	schemeStr, rest, _ := strings.Cut(s, "://")
	scheme := Scheme(strings.ToLower(schemeStr))
	if !validSchemes[scheme] {
		return Reference{}, rlerr.New(rlerr.KindBadName, fmt.Sprintf("unknown reference scheme %q", schemeStr))
	}
	if rest == "" {
		return Reference{}, rlerr.New(rlerr.KindBadName, fmt.Sprintf("reference %q has an empty path", s))
	}

	path, tag := rest, DefaultTag
	// A tag, if present, is the text after the final ':' — but only when that
	// colon is not part of a host:port prefix of an http(s) URL, which is
	// handled by splitting off the tag from the right only after the last '/'.
	if scheme == SchemeHTTP || scheme == SchemeHTTPS {
		lastSlash := strings.LastIndexByte(path, '/')
		tail := path
		if lastSlash >= 0 {
			tail = path[lastSlash+1:]
		}
		if i := strings.LastIndexByte(tail, ':'); i >= 0 {
			tag = tail[i+1:]
			path = path[:lastSlash+1+i]
		}
	} else if i := strings.LastIndexByte(path, ':'); i >= 0 {
		tag = path[i+1:]
		path = path[:i]
	}

	if scheme != SchemeFile && scheme != SchemeHTTP && scheme != SchemeHTTPS {
		if _, err := reference.ParseNormalizedNamed(normalizeForValidation(path)); err != nil {
			return Reference{}, rlerr.New(rlerr.KindBadName, fmt.Sprintf("reference path %q is malformed: %v", path, err))
		}
	}

	ref := Reference{Scheme: scheme, Path: path, Tag: tag}
	return rewriteHTTPS(ref), nil
}

// normalizeForValidation adapts a model path (e.g. "library/tinyllama" or
// "Qwen/Qwen2-7B-Instruct-GGUF") into something distribution/reference's
// strict docker-name grammar accepts, purely to reuse its battle-tested
// validation of path components (lowercase segments, no illegal characters).
func normalizeForValidation(path string) string {
	return "localhost/" + strings.ToLower(path)
}

// rewriteHTTPS rewrites an https:// reference whose host is a known registry
// into that registry's native scheme, per spec §3.
func rewriteHTTPS(ref Reference) Reference {
	if ref.Scheme != SchemeHTTPS {
		return ref
	}
	host, rest, found := strings.Cut(ref.Path, "/")
	if !found {
		return ref
	}
	if native, ok := knownHTTPSHosts[strings.ToLower(host)]; ok {
		return Reference{Scheme: native, Path: rest, Tag: ref.Tag}
	}
	return ref
}

// Canonical is the "<scheme>://<path>:<tag>" reference string used in
// list_models output. The served OpenAI-compatible identity
// ("<scheme>/<path>:<tag>") comes from ServedIdentity instead.
func (r Reference) Canonical() string {
	return fmt.Sprintf("%s://%s:%s", r.Scheme, r.Path, r.Tag)
}

// ServedIdentity is the "<scheme>/<path>:<tag>" form advertised by the
// OpenAI-compatible server, per spec §6.
func (r Reference) ServedIdentity() string {
	return fmt.Sprintf("%s/%s:%s", r.Scheme, r.Path, r.Tag)
}

// StoreKey is the scheme/path used to build the on-disk store directory for
// this model, independent of tag.
func (r Reference) StoreKey() string {
	return fmt.Sprintf("%s/%s", r.NormalizedScheme(), r.Path)
}

// NormalizedScheme canonicalizes the long-form scheme aliases ("huggingface",
// "modelscope") to their short forms ("hf", "ms") for store-key purposes,
// since both forms name the same transport and must resolve to the same
// on-disk directory.
func (r Reference) NormalizedScheme() Scheme {
	switch r.Scheme {
	case SchemeHuggingFace:
		return SchemeHF
	case SchemeModelScope:
		return SchemeMS
	default:
		return r.Scheme
	}
}
