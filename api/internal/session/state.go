// Package session tracks, per user, the most recent upload of each media kind.
//
// State values are immutable: RecordUpload returns a new State and LastOf is
// a projection. The only mutable structure is Table, which the dispatcher owns.
package session

import "media-relay/api/internal/media"

// State is one user's record. The zero value means "nothing uploaded yet".
type State struct {
	LastPhoto media.ArtifactID
	LastVoice media.ArtifactID
}

// RecordUpload returns prev with exactly the field for kind replaced by id.
// An unknown kind leaves the state unchanged.
func RecordUpload(prev State, kind media.Kind, id media.ArtifactID) State {
	next := prev
	switch kind {
	case media.Photo:
		next.LastPhoto = id
	case media.Voice:
		next.LastVoice = id
	}
	return next
}

// LastOf returns the latest artifact of kind, ok == false when absent.
func LastOf(s State, kind media.Kind) (media.ArtifactID, bool) {
	var id media.ArtifactID
	switch kind {
	case media.Photo:
		id = s.LastPhoto
	case media.Voice:
		id = s.LastVoice
	}
	return id, id != ""
}
