package relay

import (
	"context"
	"errors"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/livecast/signaling/backend/model"
	"github.com/livecast/signaling/backend/registry"
)

type (
	// RoomRegistry is the relay's view of room state.
	RoomRegistry interface {
		EnsureRoom(id string)
		IncrementRole(id, role string)
		DecrementRole(id, role string)
		AddMember(id string, peer model.Peer)
		RemoveMember(id, peerID string)
		Member(id, peerID string) (model.Peer, bool)
		MemberSnapshot(id string) []model.Peer
	}

	// ParticipantRegistry is the relay's view of durable user records.
	ParticipantRegistry interface {
		AttachConnection(userID, connID, role, room string) (model.Participant, error)
		Release(userID, connID string) bool
		Remove(userID string) (model.Participant, error)
	}

	Config struct {
		Logger       *zerolog.Logger
		Rooms        RoomRegistry
		Participants ParticipantRegistry
	}

	// Relay drives one message loop per live connection, interpreting join
	// messages and forwarding everything else to the addressed peer within
	// the sender's room.
	Relay struct {
		logger       zerolog.Logger
		rooms        RoomRegistry
		participants ParticipantRegistry
	}
)

func New(cfg Config) *Relay {
	return &Relay{
		logger:       cfg.Logger.With().Str("component", "relay").Logger(),
		rooms:        cfg.Rooms,
		participants: cfg.Participants,
	}
}

// session holds the per-connection state machine. A connection is unjoined
// until its first join message and keeps its room and role until the next
// join or until close.
type session struct {
	id     string
	wire   model.Wire
	joined bool
	room   string
	role   string
	userID string
}

// Serve runs the message loop for one connection until ctx is canceled or
// the RX side closes, both of which mean the transport is gone. Cleanup of
// whatever the connection registered runs unconditionally on exit.
func (rl *Relay) Serve(ctx context.Context, connID string, wire model.Wire) {
	s := &session{id: connID, wire: wire}
	logger := rl.logger.With().Str("connID", connID).Logger()

	defer rl.leave(s, &logger)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-wire.RX:
			if !ok {
				return
			}
			logger.Trace().Str("message", spew.Sdump(msg)).Msg("received")
			if msg.Type == model.MessageTypeJoin {
				rl.join(s, msg, &logger)
			} else {
				rl.forward(s, msg, &logger)
			}
		}
	}
}

// join runs the Unjoined -> Joined transition. A second join on the same
// connection is allowed and re-registers it, possibly into a different room
// or role; the previous registration is dropped first so the counters keep
// matching the member sets.
func (rl *Relay) join(s *session, msg model.Message, logger *zerolog.Logger) {
	if s.joined {
		rl.leave(s, logger)
	}

	room := msg.Room
	if room == "" {
		room = model.DefaultRoom
	}
	role := msg.Role
	if role != model.RoleBroadcaster {
		role = model.RoleViewer
	}
	userID := msg.UserID
	if userID == "" {
		userID = uuid.NewString()
	}

	rl.rooms.EnsureRoom(room)

	_, err := rl.participants.AttachConnection(userID, s.id, role, room)
	if errors.Is(err, registry.ErrAlreadyAttached) {
		// same user ID joining from a new connection: treated as
		// reassignment, the newer connection takes over
		_, _ = rl.participants.Remove(userID)
		_, err = rl.participants.AttachConnection(userID, s.id, role, room)
		logger.Warn().Str("userID", userID).Msg("user reattached from new connection")
	}
	if err != nil {
		logger.Error().Err(err).Str("userID", userID).Msg("join dropped, cannot attach connection")
		return
	}

	rl.rooms.AddMember(room, model.Peer{ID: s.id, UserID: userID, Role: role, Wire: s.wire})
	rl.rooms.IncrementRole(room, role)

	s.joined = true
	s.room = room
	s.role = role
	s.userID = userID

	send(model.Message{
		Type:   model.MessageTypeRoleConfirmed,
		UserID: userID,
		Role:   role,
		Room:   room,
	}, s.wire.TX, logger)

	logger.Debug().
		Str("roomID", room).
		Str("userID", userID).
		Str("role", role).
		Msg("connection joined")

	// every broadcaster in the room learns about a joining viewer, so it
	// can start per-viewer negotiation
	if role == model.RoleViewer {
		announce := model.Message{Type: model.MessageTypeNewPeer, ID: s.id, UserID: userID}
		for _, peer := range rl.rooms.MemberSnapshot(room) {
			if peer.Role == model.RoleBroadcaster {
				send(announce, peer.Wire.TX, logger)
			}
		}
	}
}

// forward stamps the sender's address token onto the message and delivers
// it to the addressed peer in the sender's room. The payload is not
// interpreted, and an unknown or departed target is a silent drop.
func (rl *Relay) forward(s *session, msg model.Message, logger *zerolog.Logger) {
	if !s.joined {
		logger.Debug().Str("type", msg.Type).Msg("message before join ignored")
		return
	}
	if msg.Target == "" {
		logger.Debug().Str("type", msg.Type).Msg("message without target dropped")
		return
	}

	peer, ok := rl.rooms.Member(s.room, msg.Target)
	if !ok {
		logger.Debug().
			Str("type", msg.Type).
			Str("target", msg.Target).
			Msg("cannot forward, target not found")
		return
	}

	msg.From = s.id
	if send(msg, peer.Wire.TX, logger) {
		logger.Debug().
			Str("type", msg.Type).
			Str("target", msg.Target).
			Msg("message forwarded")
	}
}

// leave runs the Close transition for a joined connection: membership set,
// role counter and participant record are all rolled back.
func (rl *Relay) leave(s *session, logger *zerolog.Logger) {
	if !s.joined {
		return
	}

	rl.rooms.RemoveMember(s.room, s.id)
	rl.rooms.DecrementRole(s.room, s.role)
	rl.participants.Release(s.userID, s.id)

	logger.Debug().
		Str("roomID", s.room).
		Str("userID", s.userID).
		Msg("connection left")

	s.joined = false
	s.room = ""
	s.role = ""
	s.userID = ""
}

// send is fire-and-forget: the TX side is buffered and a peer that stopped
// draining it loses the message instead of blocking the sender's loop.
func send(msg model.Message, tx chan<- model.Message, logger *zerolog.Logger) bool {
	select {
	case tx <- msg:
		return true
	default:
		logger.Debug().Str("type", msg.Type).Msg("endpoint not draining, message dropped")
		return false
	}
}
