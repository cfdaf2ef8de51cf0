package artifact

import (
	"context"
	"sync"
	"time"

	"media-relay/api/internal/media"
)

// MemoryStore keeps artifacts in process memory. It is the default store
// for a single bot process.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[media.ArtifactID]media.Artifact
	now       func() time.Time
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Purger = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		artifacts: make(map[media.ArtifactID]media.Artifact),
		now:       time.Now,
	}
}

func (s *MemoryStore) Put(_ context.Context, kind media.Kind, owner media.UserID, data []byte) (media.ArtifactID, error) {
	if !kind.Valid() {
		return "", ErrUnknownKind
	}
	a := media.Artifact{
		ID:        newID(),
		Kind:      kind,
		Owner:     owner,
		Data:      cloneBytes(data),
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	s.artifacts[a.ID] = a
	s.mu.Unlock()
	return a.ID, nil
}

// Get returns a copy so callers cannot alter stored bytes.
func (s *MemoryStore) Get(_ context.Context, id media.ArtifactID) (media.Artifact, bool, error) {
	s.mu.RLock()
	a, ok := s.artifacts[id]
	s.mu.RUnlock()
	if !ok {
		return media.Artifact{}, false, nil
	}
	a.Data = cloneBytes(a.Data)
	return a, true, nil
}

func (s *MemoryStore) PurgeOlderThan(_ context.Context, olderThan time.Duration) (int64, error) {
	if err := checkPurgeAge(olderThan); err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, a := range s.artifacts {
		if a.CreatedAt.Before(cutoff) {
			delete(s.artifacts, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored artifacts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.artifacts)
}
