package model

import (
	"encoding/json"
	"time"
)

// DefaultRoom is used when a join message or an API request does not name a room.
const DefaultRoom = "default"

// Participant roles. A broadcaster publishes media, a viewer consumes it;
// the relay itself only cares about these values for counter bookkeeping
// and new-peer announcements.
const (
	RoleBroadcaster = "broadcaster"
	RoleViewer      = "viewer"
)

// Signaling message types handled by the relay itself. Everything else
// (offer, answer, ice-candidate) is forwarded opaquely.
const (
	MessageTypeJoin          = "join"
	MessageTypeRoleConfirmed = "role-confirmed"
	MessageTypeNewPeer       = "new-peer"
)

func ValidRole(role string) bool {
	return role == RoleBroadcaster || role == RoleViewer
}

// Message is a tagged signaling message. Payload stays raw so negotiation
// content passes through the relay byte-for-byte.
type Message struct {
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	Role    string          `json:"role,omitempty"`
	UserID  string          `json:"userId,omitempty"`
	ID      string          `json:"id,omitempty"` // address token carried by new-peer
	Target  string          `json:"target,omitempty"`
	From    string          `json:"from,omitempty"` // server re-assigns this based on the sending connection
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Wire bridges one websocket session and the relay.
// RX carries inbound messages, TX outbound ones.
type Wire struct {
	RX chan Message
	TX chan Message
}

const defaultTXBuffer = 256

// NewWire creates a wire with a buffered TX side so that forwarding to a
// slow or closing peer never blocks the sender's relay loop.
func NewWire() Wire {
	return Wire{
		RX: make(chan Message),
		TX: make(chan Message, defaultTXBuffer),
	}
}

// Peer is a live connection registered in a room's member set, keyed by
// its ephemeral address token.
type Peer struct {
	ID     string
	UserID string
	Role   string
	Wire   Wire
}

// RoomStatus is the aggregate counter view of a room.
type RoomStatus struct {
	Room             string `json:"room"`
	IsActive         bool   `json:"isActive"`
	BroadcasterCount int    `json:"broadcasterCount"`
	ViewerCount      int    `json:"viewerCount"`
}

// Participant is a durable user record. SocketID is the address token of
// the live connection and stays empty for users that were pre-registered
// via the role API but never connected.
type Participant struct {
	UserID    string     `json:"userId"`
	Role      string     `json:"role"`
	Room      string     `json:"room"`
	SocketID  string     `json:"socketId,omitempty"`
	JoinedAt  time.Time  `json:"joinedAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}
