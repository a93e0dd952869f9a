package chat

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	logger := zerolog.Nop()
	return NewHub(&logger)
}

func TestHub_BroadcastReachesEveryoneIncludingSender(t *testing.T) {
	h := newTestHub()

	chans := make(map[string]chan []byte)
	for _, id := range []string{"a", "b", "c"} {
		ch := make(chan []byte, 4)
		chans[id] = ch
		h.Register(id, ch)
	}
	require.Equal(t, 3, h.Clients())

	h.Broadcast([]byte("hello"))

	for id, ch := range chans {
		select {
		case msg := <-ch:
			assert.Equal(t, "hello", string(msg), "client %s", id)
		default:
			t.Fatalf("client %s got nothing", id)
		}
	}
}

func TestHub_UnregisterStopsDelivery(t *testing.T) {
	h := newTestHub()

	a := make(chan []byte, 4)
	b := make(chan []byte, 4)
	h.Register("a", a)
	h.Register("b", b)

	h.Unregister("a")
	assert.Equal(t, 1, h.Clients())

	h.Broadcast([]byte("bye"))
	assert.Empty(t, a)
	require.Len(t, b, 1)
}

func TestHub_FullClientBufferDoesNotBlock(t *testing.T) {
	h := newTestHub()

	stuck := make(chan []byte) // nobody drains this
	ok := make(chan []byte, 4)
	h.Register("stuck", stuck)
	h.Register("ok", ok)

	h.Broadcast([]byte("one"))
	h.Broadcast([]byte("two"))

	require.Len(t, ok, 2)
}
