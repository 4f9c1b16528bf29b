package command

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringKnown(t *testing.T) {
	require.Equal(t, "xbcTransactionHold", TransactionHold.String())
	require.Equal(t, "xbcInvalid", Invalid.String())
}

func TestStringUnknown(t *testing.T) {
	require.Equal(t, "xbcUnknown", Command(9999).String())
}

func TestIsBroadcast(t *testing.T) {
	require.True(t, IsBroadcast(Transaction))
	require.True(t, IsBroadcast(TransactionCancel))
	require.True(t, IsBroadcast(TransactionFinished))
	require.True(t, IsBroadcast(TransactionDropped))
	require.True(t, IsBroadcast(PendingTransaction))
	require.True(t, IsBroadcast(AddressBookEntry))
	require.False(t, IsBroadcast(TransactionHold))
}

func TestAllCoversEveryName(t *testing.T) {
	all := All()
	require.Len(t, all, len(names))
	for _, c := range all {
		require.NotEqual(t, "xbcUnknown", c.String())
	}
}
