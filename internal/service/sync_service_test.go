package service

import (
	"context"
	"testing"

	"im-sync/config"
	"im-sync/internal/model"
	"im-sync/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSync(f *fixture, pageSize int) *SyncService {
	return NewSyncService(f.messages, f.tombstones, f.groups, config.SyncConfig{PageSize: pageSize, MaxPageSize: 50})
}

func seedDirect(t *testing.T, f *fixture, cid string, from, to uint, ts int64) {
	t.Helper()
	require.NoError(t, f.messages.Create(context.Background(), &model.Message{
		MessageID:  "m-" + cid,
		Cid:        cid,
		SenderID:   from,
		ReceiverID: uintPtr(to),
		Content:    cid,
		Timestamp:  ts,
	}))
}

func pageCids(page *protocol.SyncPage) []string {
	out := make([]string, 0, len(page.Messages))
	for _, m := range page.Messages {
		out = append(out, m.Cid)
	}
	return out
}

func TestPullReturnsMessagesAfterCursor(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	seedDirect(t, f, "old", alice, bob, 100)
	seedDirect(t, f, "c1", alice, bob, 200)
	seedDirect(t, f, "c2", bob, alice, 300)
	sync := newTestSync(f, 10)
	ctx := context.Background()

	page, err := sync.Pull(ctx, bob, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, pageCids(page))
	assert.False(t, page.HasMore)
	assert.Equal(t, int64(300), page.LastTs)

	// 同一游标再次拉取：空批次，游标不变
	again, err := sync.Pull(ctx, bob, page.LastTs, 0)
	require.NoError(t, err)
	assert.Empty(t, again.Messages)
	assert.Empty(t, again.Tombstones)
	assert.False(t, again.HasMore)
	assert.Equal(t, int64(300), again.LastTs)
}

func TestPullOnlyReturnsVisibleMessages(t *testing.T) {
	f := newFixture(t)
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	gid := f.group(t, alice, carol)
	seedDirect(t, f, "ab", alice, bob, 10)
	seedDirect(t, f, "ac", alice, carol, 20)
	require.NoError(t, f.messages.Create(context.Background(), &model.Message{
		MessageID: "m-g", Cid: "g", SenderID: alice, GroupID: uintPtr(gid), Content: "g", Timestamp: 30,
	}))
	sync := newTestSync(f, 10)

	page, err := sync.Pull(context.Background(), carol, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"ac", "g"}, pageCids(page))

	page, err = sync.Pull(context.Background(), bob, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"ab"}, pageCids(page))
}

func TestPullNeverSplitsSameTimestamp(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	seedDirect(t, f, "a", alice, bob, 10)
	seedDirect(t, f, "b", alice, bob, 20)
	seedDirect(t, f, "c", alice, bob, 20)
	seedDirect(t, f, "d", alice, bob, 20)
	seedDirect(t, f, "e", alice, bob, 30)
	sync := newTestSync(f, 2)
	ctx := context.Background()

	page, err := sync.Pull(ctx, bob, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, pageCids(page))
	assert.True(t, page.HasMore)
	assert.Equal(t, int64(20), page.LastTs)

	page, err = sync.Pull(ctx, bob, page.LastTs, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"e"}, pageCids(page))
	assert.False(t, page.HasMore)
	assert.Equal(t, int64(30), page.LastTs)
}

func TestPullReturnsTombstones(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	seedDirect(t, f, "c1", alice, bob, 100)
	sync := newTestSync(f, 10)
	ctx := context.Background()

	first, err := sync.Pull(ctx, bob, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"c1"}, pageCids(first))

	_, err = f.messages.DeleteByCid(ctx, "c1", alice, 500)
	require.NoError(t, err)

	page, err := sync.Pull(ctx, bob, first.LastTs, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.Equal(t, []protocol.TombstoneItem{{ItemType: model.TombstoneMessage, ItemID: "c1", DeletedAt: 500}}, page.Tombstones)
	assert.Equal(t, int64(500), page.LastTs)

	// 从头同步时已删除的消息不会再出现
	fresh, err := sync.Pull(ctx, bob, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, fresh.Messages)
	assert.Len(t, fresh.Tombstones, 1)
}

func TestPullClampsPageSize(t *testing.T) {
	sync := NewSyncService(nil, nil, nil, config.SyncConfig{PageSize: 20, MaxPageSize: 100})
	assert.Equal(t, 20, sync.pageSize(0))
	assert.Equal(t, 20, sync.pageSize(-3))
	assert.Equal(t, 7, sync.pageSize(7))
	assert.Equal(t, 100, sync.pageSize(1000))
}
