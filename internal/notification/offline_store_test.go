package notification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryOfflineStoreDrainsInOccurrenceOrder(t *testing.T) {
	store := NewMemoryOfflineStore(10)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "alice", []byte("第1条")))
	require.NoError(t, store.Append(ctx, "alice", []byte("第2条")))
	require.NoError(t, store.Append(ctx, "alice", []byte("第3条")))

	msgs, err := store.Drain(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("第1条"), []byte("第2条"), []byte("第3条")}, msgs)

	// 排空后再取为空
	msgs, err = store.Drain(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestMemoryOfflineStoreEvictsOldest(t *testing.T) {
	store := NewMemoryOfflineStore(2)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "bob", []byte("第1条")))
	require.NoError(t, store.Append(ctx, "bob", []byte("第2条")))
	require.NoError(t, store.Append(ctx, "bob", []byte("第3条")))

	msgs, err := store.Drain(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("第2条"), []byte("第3条")}, msgs)
}
