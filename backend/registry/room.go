package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/livecast/signaling/backend/model"
)

var (
	ErrRoomNotFound = errors.New("room not found")
)

// RoomRegistry tracks every room ever created: the per-role counters, the
// live flag, the member set of connected peers and the set of user IDs that
// joined over the signaling transport. Rooms are created lazily on first
// use and never removed; an empty room stays queryable.
//
// Each room carries its own lock, so operations on different rooms do not
// contend. The registry lock only guards the room map itself.
type RoomRegistry struct {
	mx    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	mx               sync.RWMutex
	broadcasterCount int
	viewerCount      int
	isActive         bool
	members          map[string]model.Peer
	// users is nil until the first live join; "room exists but nobody ever
	// joined" and "room whose users all left" are distinct states for the
	// room-users query.
	users map[string]struct{}
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]*room),
	}
}

func (rr *RoomRegistry) getOrCreate(id string) *room {
	rr.mx.Lock()
	defer rr.mx.Unlock()
	r, ok := rr.rooms[id]
	if !ok {
		r = &room{members: make(map[string]model.Peer)}
		rr.rooms[id] = r
	}
	return r
}

func (rr *RoomRegistry) get(id string) (*room, bool) {
	rr.mx.RLock()
	defer rr.mx.RUnlock()
	r, ok := rr.rooms[id]
	return r, ok
}

// EnsureRoom creates the room with zero counters if it does not exist yet.
// Idempotent.
func (rr *RoomRegistry) EnsureRoom(id string) {
	rr.getOrCreate(id)
}

// IncrementRole bumps the counter for the given role. Adding a broadcaster
// makes the room live.
func (rr *RoomRegistry) IncrementRole(id, role string) {
	r := rr.getOrCreate(id)
	r.mx.Lock()
	defer r.mx.Unlock()
	if role == model.RoleBroadcaster {
		r.broadcasterCount++
		r.isActive = true
	} else {
		r.viewerCount++
	}
}

// DecrementRole lowers the counter for the given role, clamped at zero.
// Dropping the last broadcaster clears the live flag.
func (rr *RoomRegistry) DecrementRole(id, role string) {
	r, ok := rr.get(id)
	if !ok {
		return
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	if role == model.RoleBroadcaster {
		if r.broadcasterCount > 0 {
			r.broadcasterCount--
		}
		if r.broadcasterCount == 0 {
			r.isActive = false
		}
	} else if r.viewerCount > 0 {
		r.viewerCount--
	}
}

// GetRoom returns the room's counters or ErrRoomNotFound.
func (rr *RoomRegistry) GetRoom(id string) (model.RoomStatus, error) {
	r, ok := rr.get(id)
	if !ok {
		return model.RoomStatus{}, ErrRoomNotFound
	}
	r.mx.RLock()
	defer r.mx.RUnlock()
	return r.status(id), nil
}

// ListRooms returns a point-in-time snapshot of every room's counters,
// sorted by room ID.
func (rr *RoomRegistry) ListRooms() []model.RoomStatus {
	type entry struct {
		id string
		r  *room
	}

	rr.mx.RLock()
	entries := make([]entry, 0, len(rr.rooms))
	for id, r := range rr.rooms {
		entries = append(entries, entry{id: id, r: r})
	}
	rr.mx.RUnlock()

	out := make([]model.RoomStatus, 0, len(entries))
	for _, e := range entries {
		e.r.mx.RLock()
		out = append(out, e.r.status(e.id))
		e.r.mx.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out
}

// StartLive forces the live flag on, creating the room if needed.
func (rr *RoomRegistry) StartLive(id string) model.RoomStatus {
	r := rr.getOrCreate(id)
	r.mx.Lock()
	defer r.mx.Unlock()
	r.isActive = true
	return r.status(id)
}

// StopLive forces the live flag off. Unlike StartLive it does not create
// the room.
func (rr *RoomRegistry) StopLive(id string) (model.RoomStatus, error) {
	r, ok := rr.get(id)
	if !ok {
		return model.RoomStatus{}, ErrRoomNotFound
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	r.isActive = false
	return r.status(id), nil
}

// AddMember registers a live connection in the room's member set.
func (rr *RoomRegistry) AddMember(id string, peer model.Peer) {
	r := rr.getOrCreate(id)
	r.mx.Lock()
	defer r.mx.Unlock()
	r.members[peer.ID] = peer
}

// RemoveMember drops a connection from the room's member set.
func (rr *RoomRegistry) RemoveMember(id, peerID string) {
	r, ok := rr.get(id)
	if !ok {
		return
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	delete(r.members, peerID)
}

// Member looks up one peer in the room by its address token.
func (rr *RoomRegistry) Member(id, peerID string) (model.Peer, bool) {
	r, ok := rr.get(id)
	if !ok {
		return model.Peer{}, false
	}
	r.mx.RLock()
	defer r.mx.RUnlock()
	p, ok := r.members[peerID]
	return p, ok
}

// MemberSnapshot copies the member set under the room lock so callers can
// iterate it without observing concurrent joins and leaves.
func (rr *RoomRegistry) MemberSnapshot(id string) []model.Peer {
	r, ok := rr.get(id)
	if !ok {
		return nil
	}
	r.mx.RLock()
	defer r.mx.RUnlock()
	out := make([]model.Peer, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, p)
	}
	return out
}

// AddUser records a user ID in the room's user set, allocating the set on
// the first live join.
func (rr *RoomRegistry) AddUser(id, userID string) {
	r := rr.getOrCreate(id)
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.users == nil {
		r.users = make(map[string]struct{})
	}
	r.users[userID] = struct{}{}
}

// RemoveUser drops a user ID from the room's user set.
func (rr *RoomRegistry) RemoveUser(id, userID string) {
	r, ok := rr.get(id)
	if !ok {
		return
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	delete(r.users, userID)
}

// Users returns the room's user IDs. The second return value is false when
// the room has never seen a live join, even if the room itself exists.
func (rr *RoomRegistry) Users(id string) ([]string, bool) {
	r, ok := rr.get(id)
	if !ok {
		return nil, false
	}
	r.mx.RLock()
	defer r.mx.RUnlock()
	if r.users == nil {
		return nil, false
	}
	out := make([]string, 0, len(r.users))
	for u := range r.users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, true
}

func (r *room) status(id string) model.RoomStatus {
	return model.RoomStatus{
		Room:             id,
		IsActive:         r.isActive,
		BroadcasterCount: r.broadcasterCount,
		ViewerCount:      r.viewerCount,
	}
}
