package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"im-sync/internal/model"
	"im-sync/pkg/errs"
	"im-sync/pkg/protocol"
	"im-sync/pkg/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(f *fixture) *ChatRouter {
	r := NewChatRouter(f.messages, f.users, f.groups, f.registry)
	seq := 0
	r.newID = func() string {
		seq++
		return fmt.Sprintf("srv-%d", seq)
	}
	r.now = func() time.Time { return time.UnixMilli(1000) }
	return r
}

func TestSubmitDirectFansOutAndAcks(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	phone := f.connect(t, alice, "alice")
	laptop := f.connect(t, alice, "alice")
	bobSession := f.connect(t, bob, "bob")
	router := newTestRouter(f)

	msg, err := router.Submit(context.Background(), phone, &protocol.Chat{Cid: "c1", Content: "hi", RecipientID: uintPtr(bob)})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", msg.MessageID)
	assert.Equal(t, int64(1000), msg.Timestamp)
	assert.Equal(t, "text", msg.MessageType)

	got := drain(t, bobSession)
	require.Len(t, got, 1)
	chat := got[0].(*protocol.Chat)
	assert.Equal(t, "c1", chat.Cid)
	assert.Equal(t, alice, chat.SenderID)
	assert.Equal(t, bob, *chat.ReceiverID)

	// 发送者的其他设备也收到，发起会话只收到 ack
	assert.Len(t, drain(t, laptop), 1)
	assert.Equal(t, []protocol.Frame{&protocol.Ack{Cid: "c1", MessageID: "srv-1", Status: protocol.StatusSent}}, drain(t, phone))
}

func TestSubmitSameCidIsIdempotent(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	phone := f.connect(t, alice, "alice")
	router := newTestRouter(f)
	ctx := context.Background()

	first, err := router.Submit(ctx, phone, &protocol.Chat{Cid: "c1", Content: "hi", RecipientID: uintPtr(bob)})
	require.NoError(t, err)
	second, err := router.Submit(ctx, phone, &protocol.Chat{Cid: "c1", Content: "hi again", RecipientID: uintPtr(bob)})
	require.NoError(t, err)

	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Equal(t, "hi", second.Content)

	var n int64
	require.NoError(t, f.orm.Model(&model.Message{}).Where("cid = ?", "c1").Count(&n).Error)
	assert.Equal(t, int64(1), n)

	acks := drain(t, phone)
	require.Len(t, acks, 2)
	assert.Equal(t, acks[0], acks[1])
}

func TestSubmitRejections(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	phone := f.connect(t, alice, "alice")
	router := newTestRouter(f)
	ctx := context.Background()

	cases := []struct {
		name string
		sub  *protocol.Chat
		kind error
	}{
		{"unknown recipient", &protocol.Chat{Cid: "r1", Content: "x", RecipientID: uintPtr(999)}, errs.ErrNotFound},
		{"self message", &protocol.Chat{Cid: "r2", Content: "x", RecipientID: uintPtr(alice)}, errs.ErrConflictInvariant},
		{"no target", &protocol.Chat{Cid: "r3", Content: "x"}, errs.ErrConflictInvariant},
		{"both targets", &protocol.Chat{Cid: "r4", Content: "x", RecipientID: uintPtr(bob), GroupID: uintPtr(1)}, errs.ErrConflictInvariant},
		{"unknown group", &protocol.Chat{Cid: "r5", Content: "x", GroupID: uintPtr(77)}, errs.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := router.Submit(ctx, phone, tc.sub)
			assert.ErrorIs(t, err, tc.kind)
			assert.Equal(t, []protocol.Frame{&protocol.Ack{Cid: tc.sub.Cid, Status: protocol.StatusFailed}}, drain(t, phone))
		})
	}

	var n int64
	require.NoError(t, f.orm.Model(&model.Message{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestSubmitWithoutCidIsDroppedSilently(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	phone := f.connect(t, alice, "alice")
	bobSession := f.connect(t, bob, "bob")

	_, err := newTestRouter(f).Submit(context.Background(), phone, &protocol.Chat{Content: "x", RecipientID: uintPtr(bob)})
	assert.Error(t, err)
	assert.Empty(t, drain(t, phone))
	assert.Empty(t, drain(t, bobSession))
}

func TestSubmitRequiresAuthenticatedSession(t *testing.T) {
	f := newFixture(t)
	bob := f.user(t, "bob")
	anon := websocket.NewSession(0, "", 4)

	_, err := newTestRouter(f).Submit(context.Background(), anon, &protocol.Chat{Cid: "c1", Content: "x", RecipientID: uintPtr(bob)})
	assert.ErrorIs(t, err, errs.ErrAuthentication)
	assert.Empty(t, drain(t, anon))
}

func TestSubmitCidOwnedByAnotherSender(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	aliceSession := f.connect(t, alice, "alice")
	bobSession := f.connect(t, bob, "bob")
	router := newTestRouter(f)
	ctx := context.Background()

	_, err := router.Submit(ctx, aliceSession, &protocol.Chat{Cid: "c1", Content: "x", RecipientID: uintPtr(bob)})
	require.NoError(t, err)
	drain(t, aliceSession)
	drain(t, bobSession)

	_, err = router.Submit(ctx, bobSession, &protocol.Chat{Cid: "c1", Content: "y", RecipientID: uintPtr(alice)})
	assert.ErrorIs(t, err, errs.ErrConflictInvariant)
	assert.Equal(t, []protocol.Frame{&protocol.Ack{Cid: "c1", Status: protocol.StatusFailed}}, drain(t, bobSession))
	assert.Empty(t, drain(t, aliceSession))
}

func TestSubmitGroupMessage(t *testing.T) {
	f := newFixture(t)
	alice, bob, carol, dave := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol"), f.user(t, "dave")
	gid := f.group(t, alice, bob, carol)
	aliceSession := f.connect(t, alice, "alice")
	bobSession := f.connect(t, bob, "bob")
	daveSession := f.connect(t, dave, "dave")
	router := newTestRouter(f)
	ctx := context.Background()

	msg, err := router.Submit(ctx, aliceSession, &protocol.Chat{Cid: "g1", Content: "hey", GroupID: uintPtr(gid), MediaKey: "media/a.png"})
	require.NoError(t, err)
	assert.Nil(t, msg.ReceiverID)
	assert.Equal(t, protocol.TypeImage, msg.MessageType)

	got := drain(t, bobSession)
	require.Len(t, got, 1)
	assert.Equal(t, gid, *got[0].(*protocol.Chat).GroupID)
	assert.Empty(t, drain(t, daveSession))

	// 非成员不能发群消息
	_, err = router.Submit(ctx, daveSession, &protocol.Chat{Cid: "g2", Content: "hey", GroupID: uintPtr(gid)})
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Equal(t, []protocol.Frame{&protocol.Ack{Cid: "g2", Status: protocol.StatusFailed}}, drain(t, daveSession))
}

func TestResubmitDeletedMessageAcksWithoutFanout(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	aliceSession := f.connect(t, alice, "alice")
	bobSession := f.connect(t, bob, "bob")
	router := newTestRouter(f)
	ctx := context.Background()

	_, err := router.Submit(ctx, aliceSession, &protocol.Chat{Cid: "c1", Content: "x", RecipientID: uintPtr(bob)})
	require.NoError(t, err)
	_, err = f.messages.DeleteByCid(ctx, "c1", alice, 2000)
	require.NoError(t, err)
	drain(t, aliceSession)
	drain(t, bobSession)

	_, err = router.Submit(ctx, aliceSession, &protocol.Chat{Cid: "c1", Content: "x", RecipientID: uintPtr(bob)})
	require.NoError(t, err)
	assert.Equal(t, []protocol.Frame{&protocol.Ack{Cid: "c1", MessageID: "srv-1", Status: protocol.StatusSent}}, drain(t, aliceSession))
	assert.Empty(t, drain(t, bobSession))
}

// brokenStore 查重未命中，写入总是失败
type brokenStore struct {
	MessageStore
	err error
}

func (s *brokenStore) FindByCid(context.Context, string) (*model.Message, error) {
	return nil, errs.NotFound("消息不存在")
}

func (s *brokenStore) Create(context.Context, *model.Message) error { return s.err }

func TestSubmitPersistenceFailureAcksFailedWithoutFanout(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	phone := f.connect(t, alice, "alice")
	laptop := f.connect(t, alice, "alice")
	bobSession := f.connect(t, bob, "bob")
	router := NewChatRouter(&brokenStore{MessageStore: f.messages, err: errors.New("磁盘已满")}, f.users, f.groups, f.registry)

	msg, err := router.Submit(context.Background(), phone, &protocol.Chat{Cid: "c1", Content: "hi", RecipientID: uintPtr(bob)})
	assert.Nil(t, msg)
	assert.EqualError(t, err, "磁盘已满")

	assert.Equal(t, []protocol.Frame{&protocol.Ack{Cid: "c1", Status: protocol.StatusFailed}}, drain(t, phone))
	assert.Empty(t, drain(t, bobSession))
	assert.Empty(t, drain(t, laptop))
}
