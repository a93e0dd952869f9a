package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/livecast/signaling/backend/model"
)

var (
	ErrUserExists      = errors.New("user already exists")
	ErrUserNotFound    = errors.New("user not found")
	ErrAlreadyAttached = errors.New("user already has a live connection")
	ErrInvalidRole     = errors.New(`role must be either "broadcaster" or "viewer"`)
)

// ParticipantRegistry maps durable user IDs to their role, room and live
// connection. User IDs are unique across the whole system, not per room.
// The registry keeps the room registry's per-room user sets in sync on
// attach and removal.
type ParticipantRegistry struct {
	mx    sync.RWMutex
	users map[string]model.Participant
	rooms *RoomRegistry
}

func NewParticipantRegistry(rooms *RoomRegistry) *ParticipantRegistry {
	return &ParticipantRegistry{
		users: make(map[string]model.Participant),
		rooms: rooms,
	}
}

// AssignRole pre-registers a user before any live connection exists.
// Fails with ErrUserExists if the user ID is already registered anywhere;
// the existing record is returned alongside the error so callers can show
// the current role and room.
func (pr *ParticipantRegistry) AssignRole(userID, role, room string) (model.Participant, error) {
	if !model.ValidRole(role) {
		return model.Participant{}, ErrInvalidRole
	}

	pr.mx.Lock()
	defer pr.mx.Unlock()

	if existing, ok := pr.users[userID]; ok {
		return existing, fmt.Errorf("%w: user %s already exists with role %s in room %s",
			ErrUserExists, userID, existing.Role, existing.Room)
	}

	p := model.Participant{
		UserID:   userID,
		Role:     role,
		Room:     room,
		JoinedAt: time.Now().UTC(),
	}
	pr.users[userID] = p
	return p, nil
}

// AttachConnection binds a live connection to a user ID on join. Unseen
// user IDs are auto-registered; pre-registered ones get the connection
// attached. Fails with ErrAlreadyAttached when a different live connection
// already holds the user ID.
//
// The record is rebuilt from the join arguments rather than merged with a
// possible pre-registration, so the room and role fixed at join time win.
func (pr *ParticipantRegistry) AttachConnection(userID, connID, role, room string) (model.Participant, error) {
	pr.mx.Lock()
	if existing, ok := pr.users[userID]; ok && existing.SocketID != "" && existing.SocketID != connID {
		pr.mx.Unlock()
		return model.Participant{}, fmt.Errorf("%w: user %s", ErrAlreadyAttached, userID)
	}
	p := model.Participant{
		UserID:   userID,
		Role:     role,
		Room:     room,
		SocketID: connID,
		JoinedAt: time.Now().UTC(),
	}
	pr.users[userID] = p
	pr.mx.Unlock()

	pr.rooms.AddUser(room, userID)
	return p, nil
}

// Release removes the user record on transport close, but only while it is
// still bound to the given connection. A record that was deleted over the
// API, or taken over by a newer connection, is left alone.
func (pr *ParticipantRegistry) Release(userID, connID string) bool {
	pr.mx.Lock()
	p, ok := pr.users[userID]
	if !ok || p.SocketID != connID {
		pr.mx.Unlock()
		return false
	}
	delete(pr.users, userID)
	pr.mx.Unlock()

	pr.rooms.RemoveUser(p.Room, userID)
	return true
}

// ChangeRole mutates the user's role and updatedAt timestamp, returning the
// updated record and the previous role. It deliberately does not touch the
// room counters fixed at join time.
func (pr *ParticipantRegistry) ChangeRole(userID, role string) (model.Participant, string, error) {
	if !model.ValidRole(role) {
		return model.Participant{}, "", ErrInvalidRole
	}

	pr.mx.Lock()
	defer pr.mx.Unlock()

	p, ok := pr.users[userID]
	if !ok {
		return model.Participant{}, "", fmt.Errorf("%w: user %s", ErrUserNotFound, userID)
	}
	oldRole := p.Role
	now := time.Now().UTC()
	p.Role = role
	p.UpdatedAt = &now
	pr.users[userID] = p
	return p, oldRole, nil
}

// Remove deletes the user record and returns the deleted snapshot.
func (pr *ParticipantRegistry) Remove(userID string) (model.Participant, error) {
	pr.mx.Lock()
	p, ok := pr.users[userID]
	if !ok {
		pr.mx.Unlock()
		return model.Participant{}, fmt.Errorf("%w: user %s", ErrUserNotFound, userID)
	}
	delete(pr.users, userID)
	pr.mx.Unlock()

	pr.rooms.RemoveUser(p.Room, userID)
	return p, nil
}

// Get returns the user record or ErrUserNotFound.
func (pr *ParticipantRegistry) Get(userID string) (model.Participant, error) {
	pr.mx.RLock()
	defer pr.mx.RUnlock()
	p, ok := pr.users[userID]
	if !ok {
		return model.Participant{}, fmt.Errorf("%w: user %s", ErrUserNotFound, userID)
	}
	return p, nil
}

// ListAll returns every user record, sorted by user ID.
func (pr *ParticipantRegistry) ListAll() []model.Participant {
	pr.mx.RLock()
	out := make([]model.Participant, 0, len(pr.users))
	for _, p := range pr.users {
		out = append(out, p)
	}
	pr.mx.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ListByRoom returns the records of every user that joined the room over
// the signaling transport. Fails with ErrRoomNotFound when the room has no
// user set at all, which is distinct from an empty one.
func (pr *ParticipantRegistry) ListByRoom(roomID string) ([]model.Participant, error) {
	userIDs, ok := pr.rooms.Users(roomID)
	if !ok {
		return nil, fmt.Errorf("%w: room %s", ErrRoomNotFound, roomID)
	}

	pr.mx.RLock()
	defer pr.mx.RUnlock()
	out := make([]model.Participant, 0, len(userIDs))
	for _, id := range userIDs {
		if p, ok := pr.users[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}
