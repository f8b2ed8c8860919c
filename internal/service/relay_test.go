package service

import (
	"testing"

	"im-sync/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfferToOfflineReceiverGetsBusy(t *testing.T) {
	f := newFixture(t)
	caller := f.connect(t, 1, "alice")
	relay := NewSignalRelay(f.registry)

	outcome, err := relay.Relay(caller, &protocol.Signal{Type: protocol.SignalOffer, ReceiverID: 7, Payload: "sdp"})
	require.NoError(t, err)
	assert.Equal(t, SignalBusy, outcome)
	assert.Equal(t, []protocol.Frame{&protocol.Signal{
		Type:       protocol.SignalBusy,
		SenderID:   7,
		ReceiverID: 1,
		Payload:    "offline",
	}}, drain(t, caller))
}

func TestNonOfferToOfflineReceiverIsDropped(t *testing.T) {
	f := newFixture(t)
	caller := f.connect(t, 1, "alice")

	outcome, err := NewSignalRelay(f.registry).Relay(caller, &protocol.Signal{Type: protocol.SignalHangup, ReceiverID: 7})
	require.NoError(t, err)
	assert.Equal(t, SignalDropped, outcome)
	assert.Empty(t, drain(t, caller))
}

func TestSignalForwardedWithAuthenticatedSender(t *testing.T) {
	f := newFixture(t)
	caller := f.connect(t, 1, "alice")
	phone := f.connect(t, 2, "bob")
	laptop := f.connect(t, 2, "bob")

	outcome, err := NewSignalRelay(f.registry).Relay(caller, &protocol.Signal{
		Type:       protocol.SignalOffer,
		SenderID:   99, // 伪造的发送者会被覆盖
		ReceiverID: 2,
		Payload:    "sdp",
	})
	require.NoError(t, err)
	assert.Equal(t, SignalForwarded, outcome)

	want := []protocol.Frame{&protocol.Signal{Type: protocol.SignalOffer, SenderID: 1, ReceiverID: 2, Payload: "sdp"}}
	assert.Equal(t, want, drain(t, phone))
	assert.Equal(t, want, drain(t, laptop))
	assert.Empty(t, drain(t, caller))
}
