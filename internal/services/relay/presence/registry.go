// Package presence tracks which connection sits in which room.
package presence

import (
	"container/list"
	"sync"
)

// Participant is one connection registered in a room.
type Participant struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	RoomID       string `json:"roomId"`
}

type entry struct {
	connectionID string
	participant  Participant
}

// Registry is an insertion-ordered map from connection id to Participant.
// The zero value is not usable; call NewRegistry.
type Registry struct {
	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Register inserts the participant under connectionID. An existing entry is
// overwritten in place and keeps its position.
func (r *Registry) Register(connectionID string, p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerLocked(connectionID, p)
}

func (r *Registry) registerLocked(connectionID string, p Participant) {
	if elem, ok := r.entries[connectionID]; ok {
		elem.Value = entry{connectionID: connectionID, participant: p}
		return
	}
	r.entries[connectionID] = r.order.PushBack(entry{connectionID: connectionID, participant: p})
}

// Lookup returns the participant registered under connectionID.
func (r *Registry) Lookup(connectionID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	elem, ok := r.entries[connectionID]
	if !ok {
		return Participant{}, false
	}
	return elem.Value.(entry).participant, true
}

// ListRoom returns the members of roomID in insertion order, skipping any
// connection id listed in excluding.
func (r *Registry) ListRoom(roomID string, excluding ...string) []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listRoomLocked(roomID, excluding)
}

func (r *Registry) listRoomLocked(roomID string, excluding []string) []Participant {
	members := make([]Participant, 0)
	for elem := r.order.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(entry)
		if e.participant.RoomID != roomID || excluded(e.connectionID, excluding) {
			continue
		}
		members = append(members, e.participant)
	}
	return members
}

func excluded(connectionID string, excluding []string) bool {
	for _, id := range excluding {
		if id == connectionID {
			return true
		}
	}
	return false
}

// Remove deletes the entry for connectionID and returns what was removed.
// Removing a missing id is a no-op.
func (r *Registry) Remove(connectionID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	elem, ok := r.entries[connectionID]
	if !ok {
		return Participant{}, false
	}
	delete(r.entries, connectionID)
	r.order.Remove(elem)
	return elem.Value.(entry).participant, true
}

// Join snapshots the other members of p.RoomID and registers p, atomically.
func (r *Registry) Join(connectionID string, p Participant) []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing := r.listRoomLocked(p.RoomID, []string{connectionID})
	r.registerLocked(connectionID, p)
	return existing
}

// Rooms returns the member count of each non-empty room.
func (r *Registry) Rooms() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := make(map[string]int)
	for elem := r.order.Front(); elem != nil; elem = elem.Next() {
		rooms[elem.Value.(entry).participant.RoomID]++
	}
	return rooms
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}
