// Package artifact stores uploaded media bytes behind opaque identifiers.
//
// Artifacts are write-once: the rest of the relay can only Put and Get.
// Removal happens exclusively through retention (see Purger).
package artifact

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"media-relay/api/internal/media"
)

var ErrUnknownKind = errors.New("artifact: unknown media kind")

// Store is the artifact storage contract.
//
// Get reports a missing identifier with ok == false and a nil error; a
// non-nil error means the backend itself failed.
type Store interface {
	Put(ctx context.Context, kind media.Kind, owner media.UserID, data []byte) (media.ArtifactID, error)
	Get(ctx context.Context, id media.ArtifactID) (a media.Artifact, ok bool, err error)
}

// Purger is implemented by stores that can drop artifacts by age.
type Purger interface {
	PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)
}

func newID() media.ArtifactID {
	return media.ArtifactID(uuid.NewString())
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func checkPurgeAge(olderThan time.Duration) error {
	if olderThan <= 0 {
		return errors.New("olderThan must be > 0")
	}
	return nil
}
