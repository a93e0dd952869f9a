package websocket

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livecast/signaling/backend/chat"
	"github.com/livecast/signaling/backend/model"
	"github.com/livecast/signaling/backend/registry"
	"github.com/livecast/signaling/backend/relay"
)

type testServer struct {
	ts    *httptest.Server
	rooms *registry.RoomRegistry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zerolog.Nop()
	rooms := registry.NewRoomRegistry()
	participants := registry.NewParticipantRegistry(rooms)
	srv := NewServer(Config{
		Logger: &logger,
		Relay: relay.New(relay.Config{
			Logger:       &logger,
			Rooms:        rooms,
			Participants: participants,
		}),
		Chat:       chat.NewHub(&logger),
		ListenAddr: ":0",
	})

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return &testServer{ts: ts, rooms: rooms}
}

func (s *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(s.ts.URL, "http", "ws", 1) + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) model.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg model.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestServer_SignalJoinAndForward(t *testing.T) {
	s := newTestServer(t)

	pub := s.dial(t, "/signal")
	require.NoError(t, pub.WriteJSON(model.Message{
		Type: model.MessageTypeJoin, Room: "r1", Role: model.RoleBroadcaster, UserID: "p1",
	}))
	confirmed := readMessage(t, pub)
	require.Equal(t, model.MessageTypeRoleConfirmed, confirmed.Type)
	require.Equal(t, "p1", confirmed.UserID)

	sub := s.dial(t, "/signal")
	require.NoError(t, sub.WriteJSON(model.Message{
		Type: model.MessageTypeJoin, Room: "r1", UserID: "v1",
	}))
	subConfirmed := readMessage(t, sub)
	require.Equal(t, model.RoleViewer, subConfirmed.Role, "role defaults to viewer")

	newPeer := readMessage(t, pub)
	require.Equal(t, model.MessageTypeNewPeer, newPeer.Type)
	require.Equal(t, "v1", newPeer.UserID)
	require.NotEmpty(t, newPeer.ID)

	require.NoError(t, pub.WriteJSON(model.Message{
		Type:    "offer",
		Target:  newPeer.ID,
		Payload: []byte(`{"sdp":"x"}`),
	}))
	offer := readMessage(t, sub)
	assert.Equal(t, "offer", offer.Type)
	assert.NotEmpty(t, offer.From)
	assert.NotEqual(t, newPeer.ID, offer.From)
	assert.JSONEq(t, `{"sdp":"x"}`, string(offer.Payload))
}

func TestServer_MalformedMessageKeepsConnectionOpen(t *testing.T) {
	s := newTestServer(t)

	conn := s.dial(t, "/signal")
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json at all")))

	require.NoError(t, conn.WriteJSON(model.Message{Type: model.MessageTypeJoin, Room: "r1"}))
	confirmed := readMessage(t, conn)
	assert.Equal(t, model.MessageTypeRoleConfirmed, confirmed.Type)
}

func TestServer_DisconnectDecrementsCounters(t *testing.T) {
	s := newTestServer(t)

	conn := s.dial(t, "/signal")
	require.NoError(t, conn.WriteJSON(model.Message{
		Type: model.MessageTypeJoin, Room: "r1", Role: model.RoleBroadcaster,
	}))
	readMessage(t, conn)

	st, err := s.rooms.GetRoom("r1")
	require.NoError(t, err)
	require.Equal(t, 1, st.BroadcasterCount)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		st, err := s.rooms.GetRoom("r1")
		return err == nil && st.BroadcasterCount == 0 && !st.IsActive
	}, 2*time.Second, 50*time.Millisecond)
}

func TestServer_ChatBroadcast(t *testing.T) {
	s := newTestServer(t)

	a := s.dial(t, "/chat")
	b := s.dial(t, "/chat")

	// registration of b may lag the dial slightly
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("hello there")))

	for name, conn := range map[string]*websocket.Conn{"a": a, "b": b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err, "client %s", name)
		assert.Equal(t, "hello there", string(msg), "client %s", name)
	}
}
