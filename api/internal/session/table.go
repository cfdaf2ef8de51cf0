package session

import (
	"sync"

	"media-relay/api/internal/media"
)

// Table maps users to their State. Each user has its own lock, so updates
// for one user never wait on another user's.
type Table struct {
	entries sync.Map // media.UserID -> *entry
}

type entry struct {
	mu    sync.Mutex
	state State
}

func NewTable() *Table { return &Table{} }

func (t *Table) entry(user media.UserID) *entry {
	if v, ok := t.entries.Load(user); ok {
		return v.(*entry)
	}
	v, _ := t.entries.LoadOrStore(user, &entry{})
	return v.(*entry)
}

// Get returns a consistent snapshot of the user's state.
func (t *Table) Get(user media.UserID) State {
	v, ok := t.entries.Load(user)
	if !ok {
		return State{}
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Update applies fn to the user's state as one atomic read-modify-write and
// returns the stored result.
func (t *Table) Update(user media.UserID, fn func(State) State) State {
	e := t.entry(user)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = fn(e.state)
	return e.state
}

// Record is Update with RecordUpload.
func (t *Table) Record(user media.UserID, kind media.Kind, id media.ArtifactID) State {
	return t.Update(user, func(s State) State { return RecordUpload(s, kind, id) })
}
