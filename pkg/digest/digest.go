// Package digest streams SHA-256 digests of on-disk model blobs and verifies
// that a blob's filename matches its content, the way containers/image's
// internal/putblobdigest computes a digest only when one isn't already known.
package digest

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"

	"github.com/containers/ramalama/internal/rlerr"
)

func errBadName(path string) error {
	return rlerr.New(rlerr.KindBadName, fmt.Sprintf("filename %q does not carry a sha256- or sha256: checksum", path))
}

// Digest streams the SHA-256 digest of the file at path without loading it into memory.
func Digest(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for digest: %w", path, err)
	}
	defer f.Close()

	digester := digest.Canonical.Digester()
	if _, err := io.Copy(digester.Hash(), f); err != nil {
		return "", fmt.Errorf("reading %s for digest: %w", path, err)
	}
	return digester.Digest(), nil
}

// nameDigest extracts the sha256 hex a filename advertises, accepting both the
// "sha256-<hex>" form used inside the store and the "sha256:<hex>" form used
// on the wire, and reports whether the filename carried one at all.
func nameDigest(name string) (digest.Digest, bool) {
	base := name
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	switch {
	case strings.HasPrefix(base, "sha256-"):
		return digest.NewDigestFromEncoded(digest.SHA256, base[len("sha256-"):]), true
	case strings.HasPrefix(base, "sha256:"):
		return digest.NewDigestFromEncoded(digest.SHA256, base[len("sha256:"):]), true
	default:
		return "", false
	}
}

// Verify streams path's content and compares it against the sha256 the filename
// advertises. A filename that does not carry a checksum is a BadName error, per
// the design's "filename carries its own checksum" contract.
func Verify(path string) (bool, error) {
	want, ok := nameDigest(path)
	if !ok {
		return false, errBadName(path)
	}
	if err := want.Validate(); err != nil {
		return false, errBadName(path)
	}

	got, err := Digest(path)
	if err != nil {
		return false, err
	}
	match := got == want
	if !match {
		logrus.Debugf("digest mismatch for %s: want %s got %s", path, want, got)
	}
	return match, nil
}
