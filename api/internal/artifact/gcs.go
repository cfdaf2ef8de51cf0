package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"media-relay/api/internal/media"
)

// GCSStore keeps artifacts as objects named "<prefix>artifacts/<id>" in a
// Google Cloud Storage bucket. Kind, owner and creation time travel as
// object metadata.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
	now    func() time.Time
}

var (
	_ Store  = (*GCSStore)(nil)
	_ Purger = (*GCSStore)(nil)
)

const (
	metaKind    = "relay-kind"
	metaOwner   = "relay-owner"
	metaCreated = "relay-created"
)

// NewGCSStore creates a [GCSStore] using application default credentials.
func NewGCSStore(ctx context.Context, bucketName, prefix string) (*GCSStore, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes: []string{storage.ScopeReadWrite},
	})
	if err != nil {
		return nil, fmt.Errorf("get credentials for storage: %w", err)
	}
	client, err := storage.NewClient(ctx, option.WithAuthCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: client.Bucket(bucketName),
		prefix: prefix,
		now:    time.Now,
	}, nil
}

func (s *GCSStore) Close() error { return s.client.Close() }

func (s *GCSStore) objectName(id media.ArtifactID) string {
	return s.prefix + "artifacts/" + string(id)
}

func (s *GCSStore) Put(ctx context.Context, kind media.Kind, owner media.UserID, data []byte) (media.ArtifactID, error) {
	if !kind.Valid() {
		return "", ErrUnknownKind
	}
	id := newID()
	created := s.now().UTC()

	w := s.bucket.Object(s.objectName(id)).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.Metadata = map[string]string{
		metaKind:    kind.String(),
		metaOwner:   strconv.FormatInt(int64(owner), 10),
		metaCreated: created.Format(time.RFC3339Nano),
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close object writer: %w", err)
	}
	return id, nil
}

func (s *GCSStore) Get(ctx context.Context, id media.ArtifactID) (media.Artifact, bool, error) {
	obj := s.bucket.Object(s.objectName(id))
	attrs, err := obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return media.Artifact{}, false, nil
	}
	if err != nil {
		return media.Artifact{}, false, err
	}
	kind, ok := media.ParseKind(attrs.Metadata[metaKind])
	if !ok {
		return media.Artifact{}, false, fmt.Errorf("artifact %s: %w", id, ErrUnknownKind)
	}
	owner, _ := strconv.ParseInt(attrs.Metadata[metaOwner], 10, 64)
	created, err := time.Parse(time.RFC3339Nano, attrs.Metadata[metaCreated])
	if err != nil {
		created = attrs.Created
	}

	// pin the generation so bytes and metadata describe the same object
	r, err := obj.Generation(attrs.Generation).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return media.Artifact{}, false, nil
	}
	if err != nil {
		return media.Artifact{}, false, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return media.Artifact{}, false, err
	}

	return media.Artifact{
		ID:        id,
		Kind:      kind,
		Owner:     media.UserID(owner),
		Data:      data,
		CreatedAt: created.UTC(),
	}, true, nil
}

// PurgeOlderThan deletes objects under the store prefix created before the
// cutoff. Bucket lifecycle rules are an alternative for large buckets.
func (s *GCSStore) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if err := checkPurgeAge(olderThan); err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-olderThan)

	var n int64
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.prefix + "artifacts/"})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return n, err
		}
		if !attrs.Created.Before(cutoff) {
			continue
		}
		err = s.bucket.Object(attrs.Name).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return n, err
		}
		n++
	}
	return n, nil
}
