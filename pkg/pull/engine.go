// Package pull implements the resumable, concurrent, checksum-verified blob
// fetcher every transport delegates its per-file bytes to (spec §4.G),
// grounded on containers/image's docker image source body-reader retry/range
// handling and its copy package's concurrent-blob progress reporting.
package pull

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/containers/ramalama/internal/rlerr"
	"github.com/containers/ramalama/pkg/digest"
	"github.com/containers/ramalama/pkg/progress"
)

// Request is one blob to fetch: a source URL, its destination path in the
// store's blobs directory, its expected hash (hex, no "sha256-" prefix, may
// be empty if unknown until after download), and its advertised size.
type Request struct {
	URL          string
	DestPath     string
	ExpectedHash string
	Size         int64
	LogicalName  string
}

// Options configures one Fetch call.
type Options struct {
	Concurrency  int // <=0 defaults to 3
	TLSVerify    bool
	AuthHeader   string // pre-resolved "Authorization: ..." value, or ""
	Progress     progress.Sink
	VerifyEndian bool // run the GGUF endian check on each completed blob
}

const (
	retryMax     = 5
	retryWaitMin = 1 * time.Second
	retryWaitMax = 30 * time.Second
	idleTimeout  = 30 * time.Second
)

// Engine fetches blobs per spec §4.G's resumable-download contract.
type Engine struct {
	client *retryablehttp.Client
}

// New constructs an Engine. tlsVerify controls whether TLS certificates are
// validated; the caller (F's registry transports) decides this per-call from
// its own options.
func New(tlsVerify bool) *Engine {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = retryWaitMin
	client.RetryWaitMax = retryWaitMax
	client.Logger = nil
	client.CheckRetry = checkRetry
	client.HTTPClient.Timeout = 0 // large blobs: no total timeout, only idle reads matter
	client.HTTPClient.Transport = newTLSTransport(tlsVerify)
	return &Engine{client: client}
}

// checkRetry classifies responses per spec §4.G: 5xx/network errors and 429
// retry, every other 4xx (NotFound/AuthRequired included) never does.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// Fetch downloads every request not already present-and-verified, resuming
// partials, up to opts.Concurrency in parallel, then runs the GGUF endian
// check on each newly-landed blob when opts.VerifyEndian is set.
func (e *Engine) Fetch(ctx context.Context, requests []Request, opts Options) error {
	n := opts.Concurrency
	if n <= 0 {
		n = 3
	}
	sem := semaphore.NewWeighted(int64(n))

	errCh := make(chan error, len(requests))
	for _, req := range requests {
		req := req
		if err := sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("acquiring fetch slot: %w", err)
		}
		go func() {
			defer sem.Release(1)
			errCh <- e.fetchOne(ctx, req, opts)
		}()
	}

	var firstErr error
	for range requests {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// fetchOne fetches a single blob, resuming from its .partial sibling if one
// exists, verifying on completion, and retrying a checksum failure once
// after deleting the partial (spec §4.G retry policy: "Corrupt retries once
// after deleting the partial").
func (e *Engine) fetchOne(ctx context.Context, req Request, opts Options) error {
	if req.ExpectedHash != "" {
		if fi, err := os.Stat(req.DestPath); err == nil {
			if ok, verr := verifyBlob(req.DestPath, req.ExpectedHash); verr == nil && ok {
				logrus.Debugf("blob %s already present and verified, skipping", req.DestPath)
				_ = fi
				return nil
			}
		}
	}

	attempt := func() error { return e.downloadOnce(ctx, req, opts) }

	if err := attempt(); err != nil {
		if rlerr.As(err, rlerr.KindCorrupt) {
			partial := req.DestPath + ".partial"
			os.Remove(partial)
			logrus.Warnf("checksum mismatch for %s, retrying once", req.LogicalName)
			return attempt()
		}
		return err
	}
	return nil
}

// downloadOnce performs one ranged-GET-and-resume cycle for req, fsyncing and
// atomically renaming the blob on success.
func (e *Engine) downloadOnce(ctx context.Context, req Request, opts Options) error {
	partial := req.DestPath + ".partial"
	var resumeFrom int64
	if fi, err := os.Stat(partial); err == nil {
		resumeFrom = fi.Size()
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", req.URL, err)
	}
	if opts.AuthHeader != "" {
		httpReq.Header.Set("Authorization", opts.AuthHeader)
	}
	if resumeFrom > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return rlerr.Wrap(rlerr.KindTransient, fmt.Sprintf("fetching %s", req.URL), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return rlerr.New(rlerr.KindNotFound, fmt.Sprintf("%s not found", req.URL))
	case http.StatusUnauthorized, http.StatusForbidden:
		return rlerr.New(rlerr.KindAuthRequired, fmt.Sprintf("%s requires authentication", req.URL))
	}
	if resp.StatusCode >= 400 {
		return rlerr.New(rlerr.KindTransient, fmt.Sprintf("%s returned %d", req.URL, resp.StatusCode))
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resp.StatusCode == http.StatusPartialContent {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
		resumeFrom = 0
	}
	f, err := os.OpenFile(partial, flags, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", partial, err)
	}

	hasher := sha256.New()
	if resumeFrom > 0 {
		if existing, rerr := os.ReadFile(partial); rerr == nil {
			hasher.Write(existing)
		}
	}

	total := req.Size
	current := resumeFrom
	counting := &countingReader{r: resp.Body, onRead: func(n int64) {
		current += n
		if opts.Progress != nil {
			opts.Progress.Progress(req.LogicalName, current, total)
		}
	}}

	if _, err := io.Copy(io.MultiWriter(f, hasher), counting); err != nil {
		f.Close()
		return rlerr.Wrap(rlerr.KindTransient, fmt.Sprintf("reading body for %s", req.URL), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsyncing %s: %w", partial, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", partial, err)
	}

	if req.ExpectedHash != "" {
		got := hex.EncodeToString(hasher.Sum(nil))
		if got != req.ExpectedHash {
			return rlerr.New(rlerr.KindCorrupt, fmt.Sprintf("%s: expected sha256 %s, got %s", req.URL, req.ExpectedHash, got))
		}
	}

	if err := os.Rename(partial, req.DestPath); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", partial, req.DestPath, err)
	}

	if opts.VerifyEndian {
		if err := verifyGGUFEndian(req.DestPath); err != nil {
			return err
		}
	}
	return nil
}

// verifyBlob checks a completed blob's digest against expectedHash (hex, no prefix).
func verifyBlob(path, expectedHash string) (bool, error) {
	d, err := digest.Digest(path)
	if err != nil {
		return false, err
	}
	return d.Encoded() == expectedHash, nil
}

// verifyGGUFEndian runs the endian check on a completed GGUF blob. A swapped
// result quarantines the blob to "<path>.wrongendian" and raises
// EndianMismatch, rolling back the caller's commit (spec §4.G).
func verifyGGUFEndian(path string) error {
	e, err := digest.GGUFEndian(path)
	if err != nil {
		return err
	}
	if e != digest.Swapped {
		return nil
	}
	quarantined := path + ".wrongendian"
	if err := os.Rename(path, quarantined); err != nil {
		logrus.WithError(err).Errorf("quarantining swapped-endian blob %s", path)
	}
	return rlerr.New(rlerr.KindEndianMismatch, fmt.Sprintf("%s has swapped-endian GGUF magic, quarantined to %s", path, quarantined))
}
