// Package store implements the content-addressed model store: the on-disk
// blobs/snapshots/refs layout, its JSON ref index, and per-(scheme,path)
// advisory locking, grounded on containers/image's directory transport
// layout and its pkg/blobinfocache location-tracking idiom.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
	"github.com/xeipuuv/gojsonschema"
)

// FileType is the role a ModelFile plays within a snapshot.
type FileType string

const (
	FileTypeModel        FileType = "model"
	FileTypeMMProj        FileType = "mmproj"
	FileTypeChatTemplate FileType = "chat_template"
	FileTypeDraft        FileType = "draft"
	FileTypeOther        FileType = "other"
)

// ModelFile is one logical file composing a snapshot, per spec §3's ref schema.
type ModelFile struct {
	Name      string   `json:"name"`
	Hash      string   `json:"hash"` // "sha256-<hex>"
	Type      FileType `json:"type"`
	IsPartial bool     `json:"is_partial"`
	Size      int64    `json:"size"`
	Modified  float64  `json:"modified"` // unix epoch seconds
}

// Ref is the JSON index of a model at a tag (the "ref file" in the design).
// Unknown top-level fields are preserved across a read-modify-write cycle so
// that a future schema addition doesn't get silently dropped by an older
// binary, the same forward-compatibility stance containers/image's manifest
// types take towards unrecognized fields.
type Ref struct {
	Snapshot   string      `json:"snapshot"`
	ModelFiles []ModelFile `json:"model_files"`

	extra map[string]json.RawMessage `json:"-"`
}

var refSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["snapshot", "model_files"],
	"properties": {
		"snapshot": {"type": "string"},
		"model_files": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "hash", "type", "is_partial", "size", "modified"],
				"properties": {
					"name": {"type": "string"},
					"hash": {"type": "string"},
					"type": {"type": "string", "enum": ["model", "mmproj", "chat_template", "draft", "other"]},
					"is_partial": {"type": "boolean"},
					"size": {"type": "integer"},
					"modified": {"type": "number"}
				}
			}
		}
	}
}`)

// UnmarshalJSON implements forward-compatible decoding: known fields land in
// the typed struct, everything else is retained verbatim in extra.
func (r *Ref) UnmarshalJSON(data []byte) error {
	if result, err := gojsonschema.Validate(refSchema, gojsonschema.NewBytesLoader(data)); err != nil {
		return fmt.Errorf("validating ref schema: %w", err)
	} else if !result.Valid() {
		return fmt.Errorf("ref file does not match schema: %v", result.Errors())
	}

	type alias Ref
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = Ref(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	delete(raw, "snapshot")
	delete(raw, "model_files")
	if len(raw) > 0 {
		r.extra = raw
	}
	return nil
}

// MarshalJSON re-serializes the ref with stable key ordering via RFC 8785
// JSON canonicalization, so two writers producing byte-identical data
// produce a byte-identical file (testable property #6: a concurrent write
// race must never produce a merged file, only one writer's full result).
func (r Ref) MarshalJSON() ([]byte, error) {
	merged := map[string]json.RawMessage{}
	for k, v := range r.extra {
		merged[k] = v
	}

	snapJSON, err := json.Marshal(r.Snapshot)
	if err != nil {
		return nil, err
	}
	merged["snapshot"] = snapJSON

	files := r.ModelFiles
	if files == nil {
		files = []ModelFile{}
	}
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return nil, err
	}
	merged["model_files"] = filesJSON

	plain, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	canon, err := jsoncanonicalizer.Transform(plain)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing ref JSON: %w", err)
	}
	return canon, nil
}

// migrateLegacyRef converts a pre-JSON plain-text ref (a bare snapshot hash)
// into a Ref by walking the snapshot directory and regenerating the index,
// per spec §4.C's "legacy plain-text ref" migration requirement.
func migrateLegacyRef(tag string, snapshotHash string, walk func() ([]ModelFile, error)) (Ref, error) {
	files, err := walk()
	if err != nil {
		return Ref{}, fmt.Errorf("migrating legacy ref %s: %w", snapshotHash, err)
	}
	return Ref{Snapshot: tag, ModelFiles: files}, nil
}

// looksLikeJSON is a cheap sniff used by readRef to distinguish a modern JSON
// ref from a legacy plain-text one before attempting to unmarshal.
func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// sortModelFiles imposes a stable order (by logical name) so that two refs
// describing the same snapshot serialize identically regardless of the order
// files were discovered in.
func sortModelFiles(files []ModelFile) {
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
}

func writeRefFile(path string, ref Ref) error {
	sortModelFiles(ref.ModelFiles)
	data, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("marshaling ref: %w", err)
	}
	return atomicWriteFile(path, data, 0o644)
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating temp file %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temp file %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsyncing temp file %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temp file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}
