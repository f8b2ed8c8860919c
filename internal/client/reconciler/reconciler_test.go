package reconciler

import (
	"context"
	"path/filepath"
	"testing"

	"im-sync/internal/client/localstore"
	"im-sync/pkg/errs"
	"im-sync/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice uint = 1
	bob   uint = 2
)

func uintPtr(v uint) *uint { return &v }

func newTestReconciler(t *testing.T, viewer uint) (*Reconciler, *localstore.Store) {
	t.Helper()
	store, err := localstore.Open(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, viewer), store
}

func fromBob(cid, serverID string, ts int64) *protocol.Chat {
	return &protocol.Chat{
		MessageID:  serverID,
		Cid:        cid,
		SenderID:   bob,
		SenderName: "bob",
		Content:    "hello",
		Timestamp:  ts,
		ReceiverID: uintPtr(alice),
	}
}

func TestDeriveThread(t *testing.T) {
	tests := []struct {
		name    string
		chat    *protocol.Chat
		want    localstore.ThreadKey
		wantErr bool
	}{
		{"群消息", &protocol.Chat{SenderID: bob, GroupID: uintPtr(9)}, localstore.GroupThread(9), false},
		{"自己发出", &protocol.Chat{SenderID: alice, RecipientID: uintPtr(bob)}, localstore.DirectThread(bob), false},
		{"别人发来", &protocol.Chat{SenderID: bob, ReceiverID: uintPtr(alice)}, localstore.DirectThread(bob), false},
		{"发给自己", &protocol.Chat{SenderID: alice, ReceiverID: uintPtr(alice)}, localstore.ThreadKey{}, true},
		{"自己发出缺少接收者", &protocol.Chat{SenderID: alice}, localstore.ThreadKey{}, true},
		{"不是发给我的", &protocol.Chat{SenderID: bob, ReceiverID: uintPtr(3)}, localstore.ThreadKey{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveThread(alice, tt.chat)
			if tt.wantErr {
				assert.ErrorIs(t, err, errs.ErrConflictInvariant)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize(t *testing.T) {
	cid, err := Normalize(&protocol.Chat{MessageID: "srv-1"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", cid)

	_, err = Normalize(&protocol.Chat{Content: "x"})
	assert.ErrorIs(t, err, ErrUnidentifiable)
}

func TestApplyMessageIsIdempotent(t *testing.T) {
	r, store := newTestReconciler(t, alice)
	ctx := context.Background()

	created, err := r.ApplyMessage(ctx, fromBob("c1", "srv-1", 100), localstore.StatusSynced)
	require.NoError(t, err)
	assert.True(t, created)

	// 实时通道和同步都送达了同一条消息
	created, err = r.ApplyMessage(ctx, fromBob("c1", "srv-1", 100), localstore.StatusSynced)
	require.NoError(t, err)
	assert.False(t, created)

	th, err := store.GetThread(ctx, localstore.DirectThread(bob))
	require.NoError(t, err)
	assert.Equal(t, 1, th.UnreadCount)
	assert.Equal(t, "hello", th.LastPreview)

	msgs, err := store.ListMessages(ctx, localstore.DirectThread(bob), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].IsMine)
	assert.Equal(t, protocol.TypeText, msgs[0].Kind)
}

func TestApplyMessageInfersMediaKind(t *testing.T) {
	r, store := newTestReconciler(t, alice)
	ctx := context.Background()

	chat := fromBob("c1", "srv-1", 100)
	chat.Content = ""
	chat.MediaKey = "uploads/a.opus"
	_, err := r.ApplyMessage(ctx, chat, localstore.StatusSynced)
	require.NoError(t, err)

	m, err := store.GetMessage(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeVoice, m.Kind)
	th, err := store.GetThread(ctx, localstore.DirectThread(bob))
	require.NoError(t, err)
	assert.Equal(t, "[语音]", th.LastPreview)
}

func TestOutgoingLifecycle(t *testing.T) {
	r, store := newTestReconciler(t, alice)
	ctx := context.Background()

	require.NoError(t, r.RecordOutgoing(ctx, &localstore.Message{
		Cid: "c1", Thread: localstore.DirectThread(bob), Content: "hi", Timestamp: 50,
	}))
	require.NoError(t, r.ApplyAck(ctx, &protocol.Ack{Cid: "c1", MessageID: "srv-1", Status: protocol.StatusSent}))

	// 同步拿到的回显不会降低状态，也不会再加未读
	echo := &protocol.Chat{MessageID: "srv-1", Cid: "c1", SenderID: alice, Content: "hi", Timestamp: 60, ReceiverID: uintPtr(bob)}
	created, err := r.ApplyMessage(ctx, echo, localstore.StatusSynced)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, r.ApplyStatus(ctx, &protocol.DeliveryStatus{
		MessageID: "srv-1", Status: protocol.StatusRead, UserID: bob, RecipientID: uintPtr(alice),
	}))
	require.NoError(t, r.ApplyStatus(ctx, &protocol.DeliveryStatus{
		Cid: "c1", Status: protocol.StatusDelivered, UserID: bob, RecipientID: uintPtr(alice),
	}))
	// 迟到的失败确认被丢弃
	require.NoError(t, r.ApplyAck(ctx, &protocol.Ack{Cid: "c1", Status: protocol.StatusFailed}))

	m, err := store.GetMessage(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, localstore.StatusRead, m.Status)
	assert.Equal(t, "srv-1", m.ServerID)
	assert.True(t, m.IsMine)

	th, err := store.GetThread(ctx, localstore.DirectThread(bob))
	require.NoError(t, err)
	assert.Zero(t, th.UnreadCount)
}

func TestReadFromOwnDeviceClearsUnread(t *testing.T) {
	r, store := newTestReconciler(t, alice)
	ctx := context.Background()

	_, err := r.ApplyMessage(ctx, fromBob("c1", "srv-1", 100), localstore.StatusSynced)
	require.NoError(t, err)
	require.NoError(t, r.ApplyStatus(ctx, &protocol.DeliveryStatus{
		Cid: "c1", Status: protocol.StatusRead, UserID: alice, RecipientID: uintPtr(bob),
	}))

	th, err := store.GetThread(ctx, localstore.DirectThread(bob))
	require.NoError(t, err)
	assert.Zero(t, th.UnreadCount)
}

func TestApplyStatusUnknownMessage(t *testing.T) {
	r, _ := newTestReconciler(t, alice)
	err := r.ApplyStatus(context.Background(), &protocol.DeliveryStatus{
		Cid: "nope", MessageID: "srv-x", Status: protocol.StatusRead, UserID: bob, RecipientID: uintPtr(alice),
	})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestTombstones(t *testing.T) {
	r, store := newTestReconciler(t, alice)
	ctx := context.Background()

	_, err := r.ApplyMessage(ctx, fromBob("c1", "srv-1", 100), localstore.StatusSynced)
	require.NoError(t, err)
	_, err = r.ApplyMessage(ctx, fromBob("", "srv-2", 110), localstore.StatusSynced)
	require.NoError(t, err)
	group := &protocol.Chat{MessageID: "srv-3", Cid: "g1", SenderID: bob, Content: "yo", Timestamp: 120, GroupID: uintPtr(9)}
	_, err = r.ApplyMessage(ctx, group, localstore.StatusSynced)
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx *localstore.Tx) error {
		for _, item := range []protocol.TombstoneItem{
			{ItemType: protocol.TombstoneMessage, ItemID: "c1", DeletedAt: 200},
			{ItemType: protocol.TombstoneMessage, ItemID: "srv-2", DeletedAt: 201},
			{ItemType: protocol.TombstoneMessage, ItemID: "absent", DeletedAt: 202},
			{ItemType: protocol.TombstoneGroup, ItemID: "9", DeletedAt: 203},
			{ItemType: protocol.TombstoneGroup, ItemID: "9", DeletedAt: 204},
		} {
			if err := r.TombstoneTx(ctx, tx, item); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	ok, err := store.MessageExists(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = store.MessageExists(ctx, "srv-2")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = store.GetThread(ctx, localstore.GroupThread(9))
	assert.ErrorIs(t, err, errs.ErrNotFound)

	err = store.WithTx(ctx, func(tx *localstore.Tx) error {
		return r.TombstoneTx(ctx, tx, protocol.TombstoneItem{ItemType: protocol.TombstoneChat, ItemID: "bob"})
	})
	assert.ErrorIs(t, err, errs.ErrConflictInvariant)
}
