// Package media holds the identifiers and records shared by the store,
// the session table and the command pipeline.
package media

import (
	"fmt"
	"time"
)

// Kind - вид загруженного медиа.
type Kind int

const (
	Photo Kind = iota + 1
	Voice
)

func (k Kind) String() string {
	switch k {
	case Photo:
		return "photo"
	case Voice:
		return "voice"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String for the known kinds.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "photo":
		return Photo, true
	case "voice":
		return Voice, true
	}
	return 0, false
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool { return k == Photo || k == Voice }

// ArtifactID is opaque outside the artifact store.
type ArtifactID string

// UserID identifies the chat participant who issues commands.
type UserID int64

// Artifact is one stored upload. It is never mutated after Put.
type Artifact struct {
	ID        ArtifactID
	Kind      Kind
	Owner     UserID
	Data      []byte
	CreatedAt time.Time
}
