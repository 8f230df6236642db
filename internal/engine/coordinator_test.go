package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSortLocksGlobalOrder(t *testing.T) {
	locks := []Lock{
		{Kind: LockStockItem, ID: 9},
		{Kind: LockAccount, ID: 3},
		{Kind: LockStockItem, ID: 2},
		{Kind: LockOrder, ID: 7},
		{Kind: LockAccount, ID: 1},
	}
	sorted := SortLocks(locks)
	require.Equal(t, []Lock{
		{Kind: LockOrder, ID: 7},
		{Kind: LockAccount, ID: 1},
		{Kind: LockAccount, ID: 3},
		{Kind: LockStockItem, ID: 2},
		{Kind: LockStockItem, ID: 9},
	}, sorted)
}

func TestSortLocksDeduplicates(t *testing.T) {
	locks := []Lock{
		{Kind: LockStockItem, ID: 5},
		{Kind: LockStockItem, ID: 5},
		{Kind: LockOrder, ID: 1},
		{Kind: LockOrder, ID: 1},
	}
	sorted := SortLocks(locks)
	require.Len(t, sorted, 2)
	require.Equal(t, Lock{Kind: LockOrder, ID: 1}, sorted[0])
	require.Equal(t, Lock{Kind: LockStockItem, ID: 5}, sorted[1])
}

func TestSortLocksIdempotent(t *testing.T) {
	require.Empty(t, SortLocks(nil))
	once := SortLocks([]Lock{{Kind: LockAccount, ID: 2}, {Kind: LockAccount, ID: 1}})
	require.Equal(t, once, SortLocks(once))
}
