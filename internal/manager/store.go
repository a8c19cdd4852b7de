package manager

import (
	"sync/atomic"

	"infracontrol/internal/models"
)

// SnapshotStore holds the last published snapshot. Readers never block on
// a running cycle and must treat the returned value as read-only.
type SnapshotStore struct {
	current atomic.Pointer[models.Snapshot]
}

func NewSnapshotStore(initial *models.Snapshot) *SnapshotStore {
	s := &SnapshotStore{}
	if initial != nil {
		s.current.Store(initial)
	}
	return s
}

// Load returns the current snapshot, or nil before anything was published.
func (s *SnapshotStore) Load() *models.Snapshot {
	return s.current.Load()
}

// Publish replaces the current snapshot in one step.
func (s *SnapshotStore) Publish(snap *models.Snapshot) {
	if snap == nil {
		return
	}
	s.current.Store(snap)
}
