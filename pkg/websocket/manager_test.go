package websocket

import (
	"testing"

	"im-sync/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain 取出会话队列中已有的全部帧
func drain(t *testing.T, s *Session) []protocol.Frame {
	t.Helper()
	var frames []protocol.Frame
	for {
		select {
		case data := <-s.Outbound():
			frame, err := protocol.Decode(data)
			require.NoError(t, err)
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func TestRegisterSendsPresenceListAndBroadcastsOnline(t *testing.T) {
	r := NewRegistry()
	alice := NewSession(1, "alice", 16)
	bob := NewSession(2, "bob", 16)

	assert.True(t, r.Register(alice))
	assert.Equal(t, []protocol.Frame{&protocol.PresenceList{OnlineUserIDs: []uint{}}}, drain(t, alice))

	assert.True(t, r.Register(bob))
	assert.Equal(t, []protocol.Frame{&protocol.PresenceList{OnlineUserIDs: []uint{1}}}, drain(t, bob))
	assert.Equal(t, []protocol.Frame{&protocol.Status{UserID: 2, Status: protocol.PresenceOnline}}, drain(t, alice))
}

func TestSecondDeviceDoesNotRebroadcast(t *testing.T) {
	r := NewRegistry()
	alice := NewSession(1, "alice", 16)
	bobPhone := NewSession(2, "bob", 16)
	bobLaptop := NewSession(2, "bob", 16)

	r.Register(alice)
	r.Register(bobPhone)
	drain(t, alice)

	assert.False(t, r.Register(bobLaptop))
	assert.Empty(t, drain(t, alice))
	assert.Len(t, r.SessionsFor(2), 2)

	assert.False(t, r.Unregister(bobPhone))
	assert.Empty(t, drain(t, alice))
	assert.True(t, r.IsOnline(2))

	assert.True(t, r.Unregister(bobLaptop))
	assert.Equal(t, []protocol.Frame{&protocol.Status{UserID: 2, Status: protocol.PresenceOffline}}, drain(t, alice))
	assert.False(t, r.IsOnline(2))
	assert.Empty(t, r.SessionsFor(2))
}

func TestUnregisterUnknownSessionIsNoop(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Unregister(NewSession(9, "ghost", 1)))
}

func TestDeliverReachesEverySessionExceptOrigin(t *testing.T) {
	r := NewRegistry()
	origin := NewSession(1, "alice", 16)
	otherDevice := NewSession(1, "alice", 16)
	bob := NewSession(2, "bob", 16)
	for _, s := range []*Session{origin, otherDevice, bob} {
		r.Register(s)
	}
	for _, s := range []*Session{origin, otherDevice, bob} {
		drain(t, s)
	}

	n, err := r.DeliverFrame([]uint{2, 1, 2, 3}, &protocol.Typing{SenderID: 1, RecipientID: uintPtr(2), IsTyping: true}, origin)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, drain(t, origin))
	assert.Len(t, drain(t, otherDevice), 1)
	assert.Len(t, drain(t, bob), 1)
}

func TestPresenceListener(t *testing.T) {
	r := NewRegistry()
	var events []bool
	r.SetPresenceListener(func(userID uint, username string, online bool) {
		assert.Equal(t, uint(5), userID)
		events = append(events, online)
	})

	a := NewSession(5, "eve", 4)
	b := NewSession(5, "eve", 4)
	r.Register(a)
	r.Register(b)
	r.Unregister(a)
	r.Unregister(b)
	assert.Equal(t, []bool{true, false}, events)
}

func TestSlowConsumerIsClosed(t *testing.T) {
	s := NewSession(1, "alice", 1)
	require.NoError(t, s.Enqueue([]byte("1")))
	assert.ErrorIs(t, s.Enqueue([]byte("2")), ErrSlowConsumer)

	select {
	case <-s.Done():
	default:
		t.Fatal("session should be closed")
	}
	assert.ErrorIs(t, s.Enqueue([]byte("3")), ErrSessionClosed)
}

func TestOrderPreservedPerSession(t *testing.T) {
	s := NewSession(1, "alice", 8)
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, s.Enqueue([]byte(p)))
	}
	assert.Equal(t, "a", string(<-s.Outbound()))
	assert.Equal(t, "b", string(<-s.Outbound()))
	assert.Equal(t, "c", string(<-s.Outbound()))
}

func uintPtr(v uint) *uint { return &v }
