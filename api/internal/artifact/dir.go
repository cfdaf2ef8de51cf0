package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"media-relay/api/internal/media"
)

// DirStore keeps every artifact as two files under a per-kind directory:
//
//	<root>/photos/<id>       raw bytes
//	<root>/photos/<id>.json  metadata
//
// Voice clips live under <root>/audio. The metadata file is written last, so
// an artifact without it is treated as absent. Bytes are zstd-compressed when
// that makes them smaller; the metadata records the encoding.
type DirStore struct {
	root string
	now  func() time.Time
}

var (
	_ Store  = (*DirStore)(nil)
	_ Purger = (*DirStore)(nil)
)

type dirMeta struct {
	Kind      string    `json:"kind"`
	Owner     int64     `json:"owner"`
	Size      int       `json:"size"`
	Encoding  string    `json:"encoding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func OpenDir(root string) (*DirStore, error) {
	for _, k := range []media.Kind{media.Photo, media.Voice} {
		if err := os.MkdirAll(filepath.Join(root, kindDir(k)), 0o755); err != nil {
			return nil, fmt.Errorf("creating artifact directory: %w", err)
		}
	}
	return &DirStore{root: root, now: time.Now}, nil
}

func kindDir(k media.Kind) string {
	if k == media.Voice {
		return "audio"
	}
	return "photos"
}

func (s *DirStore) Put(_ context.Context, kind media.Kind, owner media.UserID, data []byte) (media.ArtifactID, error) {
	if !kind.Valid() {
		return "", ErrUnknownKind
	}
	id := newID()
	base := filepath.Join(s.root, kindDir(kind), string(id))

	blob, enc := compressBlob(data)
	if err := writeFileAtomic(base, blob); err != nil {
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	meta, _ := json.Marshal(dirMeta{
		Kind:      kind.String(),
		Owner:     int64(owner),
		Size:      len(data),
		Encoding:  enc,
		CreatedAt: s.now().UTC(),
	})
	if err := writeFileAtomic(base+".json", meta); err != nil {
		_ = os.Remove(base)
		return "", fmt.Errorf("writing artifact metadata: %w", err)
	}
	return id, nil
}

func (s *DirStore) Get(_ context.Context, id media.ArtifactID) (media.Artifact, bool, error) {
	if !validID(id) {
		return media.Artifact{}, false, nil
	}
	for _, k := range []media.Kind{media.Photo, media.Voice} {
		base := filepath.Join(s.root, kindDir(k), string(id))
		raw, err := os.ReadFile(base + ".json")
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return media.Artifact{}, false, err
		}
		var meta dirMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return media.Artifact{}, false, fmt.Errorf("artifact %s: bad metadata: %w", id, err)
		}
		blob, err := os.ReadFile(base)
		if errors.Is(err, fs.ErrNotExist) {
			return media.Artifact{}, false, nil
		}
		if err != nil {
			return media.Artifact{}, false, err
		}
		data, err := decompressBlob(blob, meta.Encoding, meta.Size)
		if err != nil {
			return media.Artifact{}, false, fmt.Errorf("artifact %s: %w", id, err)
		}
		return media.Artifact{
			ID:        id,
			Kind:      k,
			Owner:     media.UserID(meta.Owner),
			Data:      data,
			CreatedAt: meta.CreatedAt,
		}, true, nil
	}
	return media.Artifact{}, false, nil
}

func (s *DirStore) PurgeOlderThan(_ context.Context, olderThan time.Duration) (int64, error) {
	if err := checkPurgeAge(olderThan); err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-olderThan)

	var n int64
	for _, k := range []media.Kind{media.Photo, media.Voice} {
		dir := filepath.Join(s.root, kindDir(k))
		metas, err := filepath.Glob(filepath.Join(dir, "*.json"))
		if err != nil {
			return n, err
		}
		for _, mp := range metas {
			raw, err := os.ReadFile(mp)
			if err != nil {
				continue
			}
			var meta dirMeta
			if json.Unmarshal(raw, &meta) != nil || !meta.CreatedAt.Before(cutoff) {
				continue
			}
			// metadata goes first so a concurrent Get sees the artifact as absent
			if err := os.Remove(mp); err != nil {
				return n, err
			}
			_ = os.Remove(strings.TrimSuffix(mp, ".json"))
			n++
		}
	}
	return n, nil
}

// validID rejects anything that could escape the store directory.
func validID(id media.ArtifactID) bool {
	s := string(id)
	return s != "" && !strings.ContainsAny(s, `/\.`)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
