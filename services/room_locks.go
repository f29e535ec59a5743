package services

import "sync"

// RoomLocks serializes writes per room. Writes to different rooms never wait
// on each other. Locks are never freed; a room id costs one mutex.
type RoomLocks struct {
	locks sync.Map // roomID -> *sync.Mutex
}

// NewRoomLocks creates an empty lock set shared by the roster and message
// services.
func NewRoomLocks() *RoomLocks {
	return &RoomLocks{}
}

// Lock acquires the room's mutex and returns its unlock function.
func (l *RoomLocks) Lock(roomID string) func() {
	v, _ := l.locks.LoadOrStore(roomID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
