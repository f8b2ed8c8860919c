package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeChatSubmission(t *testing.T) {
	frame, err := Decode([]byte(`{"kind":"chat","cid":"c1","content":"hi","recipientId":42}`))
	require.NoError(t, err)

	chat, ok := frame.(*Chat)
	require.True(t, ok)
	assert.Equal(t, "c1", chat.Cid)
	require.NotNil(t, chat.Target())
	assert.Equal(t, uint(42), *chat.Target())
}

func TestDecodeRejectsMissingAndUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"cid":"c1","content":"hi"}`))
	assert.ErrorIs(t, err, ErrMissingKind)

	_, err = Decode([]byte(`{"kind":"sticker","cid":"c1"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeValidatesShape(t *testing.T) {
	cases := map[string]string{
		"empty chat":             `{"kind":"chat","cid":"c1"}`,
		"bad signal type":        `{"kind":"signal","type":"RING","receiverId":7}`,
		"signal without target":  `{"kind":"signal","type":"OFFER"}`,
		"bad receipt status":     `{"kind":"delivery_status","cid":"c1","status":"SENT","recipientId":1}`,
		"receipt without target": `{"kind":"delivery_status","cid":"c1","status":"READ"}`,
		"typing two targets":     `{"kind":"typing","recipientId":1,"groupId":2,"isTyping":true}`,
		"ack without cid":        `{"kind":"ack","status":"SENT"}`,
		"status bad value":       `{"kind":"status","userId":1,"status":"away"}`,
		"wrong field type":       `{"kind":"signal","type":"OFFER","receiverId":"seven"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestEncodeWritesKind(t *testing.T) {
	data, err := Encode(&Ack{Cid: "c1", MessageID: "m1", Status: StatusSent})
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "ack", raw["kind"])
	assert.Equal(t, "c1", raw["cid"])
	assert.Equal(t, "SENT", raw["status"])

	frame, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, &Ack{Cid: "c1", MessageID: "m1", Status: StatusSent}, frame)
}

func TestEncodeEmptyPresenceList(t *testing.T) {
	data, err := Encode(&PresenceList{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"presence_list","onlineUserIds":null}`, string(data))
}
