package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/go-openapi/strfmt"
	"github.com/sirupsen/logrus"

	"github.com/containers/ramalama/internal/rlerr"
	"github.com/containers/ramalama/pkg/digest"
	"github.com/containers/ramalama/pkg/modelref"
)

// Store is the content-addressed model store rooted at a user-specified
// directory, laid out per spec §3: <root>/<scheme>/<path>/{blobs,snapshots,refs}.
type Store struct {
	root  string
	cache *blobRefCache
}

// Open opens (creating if necessary) the store rooted at root, and its
// durable blob-reference cache.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating store root %s: %w", root, err)
	}
	cache, err := openBlobRefCache(filepath.Join(root, ".refcache.db"))
	if err != nil {
		return nil, err
	}
	return &Store{root: root, cache: cache}, nil
}

// Close releases the store's durable cache handle.
func (s *Store) Close() error { return s.cache.Close() }

func (s *Store) modelDir(storeKey string) string {
	return filepath.Join(s.root, filepath.FromSlash(storeKey))
}

func (s *Store) blobsDir(storeKey string) string     { return filepath.Join(s.modelDir(storeKey), "blobs") }
func (s *Store) snapshotsDir(storeKey string) string  { return filepath.Join(s.modelDir(storeKey), "snapshots") }
func (s *Store) refsDir(storeKey string) string       { return filepath.Join(s.modelDir(storeKey), "refs") }
func (s *Store) snapshotDir(storeKey, tag string) string {
	return filepath.Join(s.snapshotsDir(storeKey), tag)
}
func (s *Store) refPath(storeKey, tag string) string {
	return filepath.Join(s.refsDir(storeKey), tag+".json")
}
func (s *Store) blobPath(storeKey, hash string) string {
	return filepath.Join(s.blobsDir(storeKey), hash)
}

// Reserve acquires the (scheme,path) lock for ref's StoreKey, creating the
// model directory skeleton if needed.
func (s *Store) Reserve(ref modelref.Reference, mode LockMode) (*Handle, error) {
	dir := s.modelDir(ref.StoreKey())
	for _, sub := range []string{"blobs", "snapshots", "refs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", sub, err)
		}
	}
	return Reserve(dir, mode)
}

// readRef reads and, if necessary, migrates the ref file at storeKey/tag.
func (s *Store) readRef(storeKey, tag string) (Ref, error) {
	path := s.refPath(storeKey, tag)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Ref{}, rlerr.New(rlerr.KindNotFound, fmt.Sprintf("no ref for %s:%s", storeKey, tag))
		}
		return Ref{}, fmt.Errorf("reading ref %s: %w", path, err)
	}

	if !looksLikeJSON(data) {
		legacyHash := strings.TrimSpace(string(data))
		return migrateLegacyRef(tag, legacyHash, func() ([]ModelFile, error) {
			return s.walkSnapshotForMigration(storeKey, tag)
		})
	}

	var ref Ref
	if err := json.Unmarshal(data, &ref); err != nil {
		return Ref{}, fmt.Errorf("parsing ref %s: %w", path, err)
	}
	return ref, nil
}

// walkSnapshotForMigration regenerates a ref's model_files list by reading
// the symlinks already present under a legacy snapshot directory.
func (s *Store) walkSnapshotForMigration(storeKey, tag string) ([]ModelFile, error) {
	dir := s.snapshotDir(storeKey, tag)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot dir %s: %w", dir, err)
	}
	var files []ModelFile
	for _, e := range entries {
		target, err := os.Readlink(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		hash := filepath.Base(target)
		info, err := os.Stat(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		files = append(files, ModelFile{
			Name:     e.Name(),
			Hash:     hash,
			Type:     FileTypeOther,
			Size:     info.Size(),
			Modified: float64(info.ModTime().Unix()),
		})
	}
	return files, nil
}

// CreateSnapshotLinks (re)creates the snapshot directory's symlinks into the
// blobs directory, one per logical file, after all of a pull's blobs have
// landed (spec §3 lifecycle: "Snapshot symlinks created after all blobs land").
func (s *Store) CreateSnapshotLinks(storeKey, tag string, files []ModelFile) error {
	dir := s.snapshotDir(storeKey, tag)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir %s: %w", dir, err)
	}
	for _, f := range files {
		if f.IsPartial {
			continue // never expose a partial file through a snapshot
		}
		hash := strings.TrimPrefix(strings.TrimPrefix(f.Hash, "sha256-"), "sha256:")
		link := filepath.Join(dir, f.Name)
		target, err := filepath.Rel(dir, s.blobPath(storeKey, hash))
		if err != nil {
			target = s.blobPath(storeKey, hash)
		}
		os.Remove(link) // symlink re-creation must not fail on a stale existing link
		if err := os.Symlink(target, link); err != nil {
			return fmt.Errorf("linking snapshot file %s: %w", link, err)
		}
	}
	return nil
}

// BlobPath exposes the on-disk location of a content-addressed blob, for
// callers (the pull engine) writing into the store.
func (s *Store) BlobPath(storeKey, hash string) string { return s.blobPath(storeKey, hash) }

// BlobsDir exposes a model's blobs directory, for transports that stage a
// download under a provisional name before its content hash is known.
func (s *Store) BlobsDir(storeKey string) string { return s.blobsDir(storeKey) }

// CommitBlob hashes the file at stagingPath and renames it into the blobs
// directory under its content digest, the move every transport makes once a
// download completes, regardless of whether the upstream source advertised a
// hash up-front (spec §3: the store is content-addressed for every source).
func (s *Store) CommitBlob(storeKey, stagingPath string) (string, error) {
	d, err := digest.Digest(stagingPath)
	if err != nil {
		return "", err
	}
	hash := d.Encoded()
	dest := s.blobPath(storeKey, hash)
	if err := os.Rename(stagingPath, dest); err != nil {
		return "", fmt.Errorf("committing blob %s: %w", stagingPath, err)
	}
	return hash, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Commit atomically replaces the ref file for h's model/tag, then records
// each model file's hash in the durable blob-reference cache. If the ref
// already on disk names the same files (ignoring each file's Modified
// timestamp), the file is left untouched: a re-run of an operation that
// produced an identical result must not perturb the ref's mtime (spec §8
// invariant 4).
func (s *Store) Commit(h *Handle, storeKey, tag string, ref Ref) error {
	ref.Snapshot = tag
	existing, err := s.readRef(storeKey, tag)
	unchanged := err == nil && sameModelFiles(existing.ModelFiles, ref.ModelFiles)
	if !unchanged {
		if err := writeRefFile(s.refPath(storeKey, tag), ref); err != nil {
			return err
		}
	}
	modelKey := storeKey + ":" + tag
	for _, f := range ref.ModelFiles {
		if err := s.cache.RecordReference(modelKey, f.Hash); err != nil {
			logrus.WithError(err).Warnf("recording blob reference for %s", f.Hash)
		}
	}
	return nil
}

// sameModelFiles reports whether a and b name the same files, ignoring
// order and each file's Modified timestamp.
func sameModelFiles(a, b []ModelFile) bool {
	if len(a) != len(b) {
		return false
	}
	byName := make(map[string]ModelFile, len(a))
	for _, f := range a {
		byName[f.Name] = f
	}
	for _, f := range b {
		other, ok := byName[f.Name]
		if !ok {
			return false
		}
		if f.Hash != other.Hash || f.Type != other.Type || f.Size != other.Size || f.IsPartial != other.IsPartial {
			return false
		}
	}
	return true
}

// FileInfo is one file's metadata as surfaced by ListModels.
type FileInfo struct {
	Name      string
	Hash      string // "sha256-<hex>"
	Type      FileType
	Size      int64
	Modified  strfmt.DateTime
	IsPartial bool
}

// Present reports whether ref is fully present: its ref file exists, every
// blob it names exists, and none is marked partial (spec §3).
func (s *Store) Present(ref modelref.Reference) (bool, error) {
	r, err := s.readRef(ref.StoreKey(), ref.Tag)
	if err != nil {
		if rlerr.As(err, rlerr.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, f := range r.ModelFiles {
		if f.IsPartial {
			return false, nil
		}
		hash := strings.TrimPrefix(strings.TrimPrefix(f.Hash, "sha256-"), "sha256:")
		if _, err := os.Stat(s.blobPath(ref.StoreKey(), hash)); err != nil {
			return false, nil
		}
	}
	return true, nil
}

// ListModels enumerates every ref under the store root, aggregating file
// metadata per model. When showPartial is false, models with any partial
// file are omitted (spec §4.B: "partial blobs are invisible to
// list_models(all=false)").
func (s *Store) ListModels(showPartial bool) (map[string][]FileInfo, error) {
	result := map[string][]FileInfo{}

	schemeDirs, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading store root %s: %w", s.root, err)
	}
	for _, schemeDir := range schemeDirs {
		if !schemeDir.IsDir() {
			continue
		}
		scheme := schemeDir.Name()
		err := filepath.WalkDir(filepath.Join(s.root, scheme), func(path string, d os.DirEntry, err error) error {
			if err != nil || !d.IsDir() || d.Name() != "refs" {
				return nil
			}
			entries, err := os.ReadDir(path)
			if err != nil {
				return nil
			}
			modelDir := filepath.Dir(path)
			storeKey, relErr := filepath.Rel(s.root, modelDir)
			if relErr != nil {
				return nil
			}
			storeKey = filepath.ToSlash(storeKey)

			for _, e := range entries {
				if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
					continue
				}
				tag := strings.TrimSuffix(e.Name(), ".json")
				ref, err := s.readRef(storeKey, tag)
				if err != nil {
					logrus.WithError(err).Warnf("skipping unreadable ref %s/%s", storeKey, tag)
					continue
				}
				hasPartial := false
				var infos []FileInfo
				for _, f := range ref.ModelFiles {
					if f.IsPartial {
						hasPartial = true
					}
					infos = append(infos, FileInfo{
						Name:      f.Name,
						Hash:      f.Hash,
						Type:      f.Type,
						Size:      f.Size,
						Modified:  strfmt.DateTime(time.Unix(int64(f.Modified), 0).UTC()),
						IsPartial: f.IsPartial,
					})
				}
				if hasPartial && !showPartial {
					continue
				}
				canonical := fmt.Sprintf("%s://%s:%s", strings.SplitN(storeKey, "/", 2)[0], strings.SplitN(storeKey, "/", 2)[1], tag)
				result[canonical] = infos
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// TotalSize sums the size of a list_models entry's files, formatted human-readable via go-units.
func TotalSize(files []FileInfo) string {
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return units.HumanSize(float64(total))
}

// Remove deletes a model's ref, then its snapshot, then any blob that's no
// longer referenced by any other ref, in that order so a concurrent reader
// that already saw the ref still finds its blobs (spec §5 ordering
// guarantee, §8 property 5).
func (s *Store) Remove(ref modelref.Reference) error {
	storeKey, tag := ref.StoreKey(), ref.Tag
	h, err := s.Reserve(ref, LockExclusive)
	if err != nil {
		return err
	}
	defer h.Release()

	r, err := s.readRef(storeKey, tag)
	if err != nil {
		return err
	}

	refPath := s.refPath(storeKey, tag)
	if err := os.Remove(refPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing ref %s: %w", refPath, err)
	}

	snapDir := s.snapshotDir(storeKey, tag)
	if err := os.RemoveAll(snapDir); err != nil {
		return fmt.Errorf("removing snapshot %s: %w", snapDir, err)
	}

	modelKey := storeKey + ":" + tag
	for _, f := range r.ModelFiles {
		if err := s.cache.ForgetReference(modelKey, f.Hash); err != nil {
			logrus.WithError(err).Warn("forgetting blob reference")
			continue
		}
		stillUsed, err := s.cache.HasOtherReferences(modelKey, f.Hash)
		if err != nil {
			logrus.WithError(err).Warn("checking blob reference count")
			continue
		}
		if stillUsed {
			continue
		}
		hash := strings.TrimPrefix(strings.TrimPrefix(f.Hash, "sha256-"), "sha256:")
		blobPath := s.blobPath(storeKey, hash)
		if err := os.Remove(blobPath); err != nil && !os.IsNotExist(err) {
			logrus.WithError(err).Warnf("removing orphan blob %s", blobPath)
		}
	}
	return nil
}

// OpenForServe returns the snapshot directory and resolved file paths the
// serve planner needs, keyed by file role ("model", "mmproj", ...), reading
// under a shared lock. When several files share a role, the one listed last
// in the ref wins.
func (s *Store) OpenForServe(ref modelref.Reference) (dir string, files map[string]string, err error) {
	h, err := s.Reserve(ref, LockShared)
	if err != nil {
		return "", nil, err
	}
	defer h.Release()

	present, err := s.Present(ref)
	if err != nil {
		return "", nil, err
	}
	if !present {
		return "", nil, rlerr.New(rlerr.KindNotFound, fmt.Sprintf("model %s not fully present", ref.Canonical()))
	}

	snapDir := s.snapshotDir(ref.StoreKey(), ref.Tag)
	r, err := s.readRef(ref.StoreKey(), ref.Tag)
	if err != nil {
		return "", nil, err
	}
	out := map[string]string{}
	for _, f := range r.ModelFiles {
		out[string(f.Type)] = filepath.Join(snapDir, f.Name)
	}
	return snapDir, out, nil
}

// VerifyAll re-checks every blob's digest against its ref entry (spec §8
// invariant 1 and 2), used by tests and by `ramalama list --verify`-style tooling.
func (s *Store) VerifyAll(ref modelref.Reference) error {
	r, err := s.readRef(ref.StoreKey(), ref.Tag)
	if err != nil {
		return err
	}
	for _, f := range r.ModelFiles {
		hash := strings.TrimPrefix(strings.TrimPrefix(f.Hash, "sha256-"), "sha256:")
		path := s.blobPath(ref.StoreKey(), hash)
		got, err := digest.Digest(path)
		if err != nil {
			return err
		}
		if got.Encoded() != hash {
			return rlerr.New(rlerr.KindCorrupt, fmt.Sprintf("blob %s for %s failed verification", hash, f.Name))
		}
	}
	return nil
}
