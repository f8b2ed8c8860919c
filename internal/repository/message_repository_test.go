package repository

import (
	"context"
	"fmt"
	"testing"

	"im-sync/internal/model"
	"im-sync/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func direct(cid string, from, to uint, ts int64) *model.Message {
	return &model.Message{
		MessageID:  "m-" + cid,
		Cid:        cid,
		SenderID:   from,
		ReceiverID: uintPtr(to),
		Content:    "hello " + cid,
		Timestamp:  ts,
	}
}

func TestCreateRejectsDuplicateCid(t *testing.T) {
	repo := NewMessageRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, direct("c1", 1, 2, 10)))
	dup := direct("c1", 1, 2, 11)
	dup.MessageID = "other"
	assert.ErrorIs(t, repo.Create(ctx, dup), ErrDuplicateCid)

	found, err := repo.FindByCid(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "m-c1", found.MessageID)

	_, err = repo.FindByCid(ctx, "nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListAfterRespectsScopeAndOrder(t *testing.T) {
	orm := newTestDB(t)
	repo := NewMessageRepository(orm)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, direct("b", 1, 2, 20)))
	require.NoError(t, repo.Create(ctx, direct("a", 2, 1, 20)))
	require.NoError(t, repo.Create(ctx, direct("c", 1, 2, 10)))
	require.NoError(t, repo.Create(ctx, direct("other", 3, 4, 15)))
	require.NoError(t, repo.Create(ctx, &model.Message{
		MessageID: "m-g", Cid: "g", SenderID: 3, GroupID: uintPtr(9), Content: "group", Timestamp: 30,
	}))

	msgs, err := repo.ListAfter(ctx, Scope{UserID: 1}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, cids(msgs))

	msgs, err = repo.ListAfter(ctx, Scope{UserID: 1, GroupIDs: []uint{9}}, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "g"}, cids(msgs))

	msgs, err = repo.ListAfter(ctx, Scope{UserID: 1, GroupIDs: []uint{9}}, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, cids(msgs))

	msgs, err = repo.ListAt(ctx, Scope{UserID: 2}, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cids(msgs))
}

func TestDeleteByCidWritesTombstone(t *testing.T) {
	orm := newTestDB(t)
	repo := NewMessageRepository(orm)
	tombs := NewTombstoneRepository(orm)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, direct("c1", 1, 2, 10)))

	_, err := repo.DeleteByCid(ctx, "c1", 2, 50)
	assert.ErrorIs(t, err, errs.ErrNotFound, "only the sender may delete")

	deleted, err := repo.DeleteByCid(ctx, "c1", 1, 50)
	require.NoError(t, err)
	assert.Equal(t, "c1", deleted.Cid)

	msgs, err := repo.ListAfter(ctx, Scope{UserID: 2}, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// 已删除的消息仍可按幂等键找到，防止重放被当成新消息
	found, err := repo.FindByCid(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, found.DeletedAt.Valid)

	items, err := tombs.ListAfter(ctx, Scope{UserID: 2}, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.TombstoneMessage, items[0].ItemType)
	assert.Equal(t, "c1", items[0].ItemID)

	items, err = tombs.ListAfter(ctx, Scope{UserID: 3}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = tombs.ListAfter(ctx, Scope{UserID: 2}, 0, 40)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMarkReadByCidOnlyForReceiver(t *testing.T) {
	repo := NewMessageRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, direct("c1", 1, 2, 10)))

	changed, err := repo.MarkReadByCid(ctx, "c1", 1)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = repo.MarkReadByCid(ctx, "c1", 2)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkReadByCid(ctx, "c1", 2)
	require.NoError(t, err)
	assert.False(t, changed)
}

func cids(msgs []*model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Cid)
	}
	return out
}

func TestGroupRepository(t *testing.T) {
	orm := newTestDB(t)
	groups := NewGroupRepository(orm)
	tombs := NewTombstoneRepository(orm)
	ctx := context.Background()

	g := &model.Group{Name: "team", OwnerID: 1}
	require.NoError(t, groups.Create(ctx, g, []uint{2, 3, 1}))

	ids, err := groups.MemberIDs(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2, 3}, ids)

	role, err := groups.Role(ctx, g.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, role)
	_, err = groups.Role(ctx, g.ID, 9)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, groups.AddMembers(ctx, g.ID, []uint{3, 4}))
	ids, err = groups.MemberIDs(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2, 3, 4}, ids)

	mine, err := groups.GroupIDsForUser(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, []uint{g.ID}, mine)

	require.NoError(t, groups.Delete(ctx, g.ID, 99))
	_, err = groups.GetByID(ctx, g.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, groups.Delete(ctx, g.ID, 100), errs.ErrNotFound)

	items, err := tombs.ListAfter(ctx, Scope{UserID: 4, GroupIDs: mine}, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.TombstoneGroup, items[0].ItemType)
	assert.Equal(t, fmt.Sprint(g.ID), items[0].ItemID)
}

func TestRemoveMemberTombstoneOnlyForRemovedUser(t *testing.T) {
	orm := newTestDB(t)
	groups := NewGroupRepository(orm)
	tombs := NewTombstoneRepository(orm)
	ctx := context.Background()

	g := &model.Group{Name: "team", OwnerID: 1}
	require.NoError(t, groups.Create(ctx, g, []uint{2, 3}))

	require.NoError(t, groups.RemoveMember(ctx, g.ID, 3, 20))
	assert.ErrorIs(t, groups.RemoveMember(ctx, g.ID, 3, 21), errs.ErrNotFound)

	ids, err := groups.MemberIDs(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2}, ids)
	mine, err := groups.GroupIDsForUser(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, mine)

	items, err := tombs.ListAfter(ctx, Scope{UserID: 3}, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.TombstoneGroup, items[0].ItemType)
	assert.Equal(t, fmt.Sprint(g.ID), items[0].ItemID)

	items, err = tombs.ListAfter(ctx, Scope{UserID: 1, GroupIDs: []uint{g.ID}}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestHideConversationWritesPrivateChatTombstone(t *testing.T) {
	orm := newTestDB(t)
	repo := NewMessageRepository(orm)
	tombs := NewTombstoneRepository(orm)
	ctx := context.Background()

	assert.ErrorIs(t, repo.HideConversation(ctx, 1, 2, 30), errs.ErrNotFound)

	require.NoError(t, repo.Create(ctx, direct("c1", 2, 1, 10)))
	require.NoError(t, repo.HideConversation(ctx, 1, 2, 30))

	items, err := tombs.ListAfter(ctx, Scope{UserID: 1}, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.TombstoneChat, items[0].ItemType)
	assert.Equal(t, "2", items[0].ItemID)

	items, err = tombs.ListAfter(ctx, Scope{UserID: 2}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	// 消息本身保留，对方照常可见
	msgs, err := repo.ListAfter(ctx, Scope{UserID: 2}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, cids(msgs))
}
