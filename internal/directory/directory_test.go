package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryDirectoryLifecycle 建档、查找、上下线标记
func TestMemoryDirectoryLifecycle(t *testing.T) {
	ctx := context.Background()
	d := NewMemory()

	_, ok, err := d.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := d.Create(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Username)
	assert.False(t, rec.Online)

	_, err = d.Create(ctx, "alice")
	assert.ErrorIs(t, err, ErrUserExists)

	require.NoError(t, d.MarkOnline(ctx, "alice", "sess-1"))
	rec, ok, err = d.Lookup(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rec.Online)
	assert.Equal(t, "sess-1", rec.SessionID)

	require.NoError(t, d.MarkOffline(ctx, "alice"))
	rec, _, err = d.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, rec.Online)
	assert.Empty(t, rec.SessionID)
}

// TestMarkOnlineCreatesUnknownUser 未知用户上线时自动建档
func TestMarkOnlineCreatesUnknownUser(t *testing.T) {
	ctx := context.Background()
	d := NewMemory()

	require.NoError(t, d.MarkOnline(ctx, "bob", "sess-2"))

	rec, ok, err := d.Lookup(ctx, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rec.Online)
}

// TestUsernamesIncludesOffline 已知用户枚举包含离线用户，有序
func TestUsernamesIncludesOffline(t *testing.T) {
	ctx := context.Background()
	d := NewMemory()

	_, err := d.Create(ctx, "bob")
	require.NoError(t, err)
	_, err = d.Create(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, d.MarkOnline(ctx, "alice", "s"))
	require.NoError(t, d.MarkOffline(ctx, "alice"))

	names, err := d.Usernames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, names)
}

// TestLookupReturnsCopy 查找返回副本，改副本不影响内部记录
func TestLookupReturnsCopy(t *testing.T) {
	ctx := context.Background()
	d := NewMemory()

	_, err := d.Create(ctx, "alice")
	require.NoError(t, err)

	rec, _, err := d.Lookup(ctx, "alice")
	require.NoError(t, err)
	rec.Online = true

	again, _, err := d.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, again.Online)
}

// TestDelete 删除用户记录后查找不到
func TestDelete(t *testing.T) {
	ctx := context.Background()
	d := NewMemory()

	_, err := d.Create(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, d.Delete(ctx, "alice"))

	_, ok, err := d.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}
