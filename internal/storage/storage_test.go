package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(&Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOrderCreateGetRename(t *testing.T) {
	s := newTestStorage(t)

	o := &Order{
		LocalID:      "localid1",
		State:        OrderStateNew,
		FromAddress:  "addrA",
		FromCurrency: "BLOCK",
		FromAmount:   100,
		ToAddress:    "addrB",
		ToCurrency:   "LTC",
		ToAmount:     50,
	}
	require.NoError(t, s.CreateOrder(o))

	got, err := s.GetOrder("localid1")
	require.NoError(t, err)
	require.Equal(t, "addrA", got.FromAddress)
	require.Empty(t, got.HubID)

	require.NoError(t, s.RenameOrder("localid1", "hubid1", "hubnode1", OrderStateHold))
	got, err = s.GetOrderByHubID("hubid1")
	require.NoError(t, err)
	require.Equal(t, OrderStateHold, got.State)
	require.Equal(t, "hubnode1", got.HubNodeID)

	_, err = s.GetOrder("nonexistent")
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestExpirePendingOrders(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.CreateOrder(&Order{LocalID: "l1", State: OrderStateNew}))

	n, err := s.ExpirePendingOrders(time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = s.GetOrder("l1")
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestTransactionLifecycle(t *testing.T) {
	s := newTestStorage(t)

	tx := &Transaction{
		HubID: "hub1",
		State: TxStateJoined,
		First: Member{OrderID: "l1", SourceAddr: "a1", DestAddr: "a2", Currency: "BLOCK", Amount: 100},
		Second: Member{OrderID: "l2", SourceAddr: "a2", DestAddr: "a1", Currency: "LTC", Amount: 50},
	}
	require.NoError(t, s.CreateTransaction(tx))

	require.NoError(t, s.SetAck("hub1", true))
	both, err := s.BothAcked("hub1")
	require.NoError(t, err)
	require.False(t, both)

	require.NoError(t, s.SetAck("hub1", false))
	both, err = s.BothAcked("hub1")
	require.NoError(t, err)
	require.True(t, both)

	require.NoError(t, s.UpdateTransactionState("hub1", TxStateHold))
	got, err := s.GetTransaction("hub1")
	require.NoError(t, err)
	require.Equal(t, TxStateHold, got.State)
	require.False(t, got.First.Ack)
	require.False(t, got.Second.Ack)

	require.NoError(t, s.SetMemberTxHash("hub1", true, "txhashA"))
	require.NoError(t, s.SetMemberTxHash("hub1", false, "txhashB"))

	confirmed, count, err := s.ConfirmMember("hub1", true, "txhashA")
	require.NoError(t, err)
	require.True(t, confirmed)
	require.Equal(t, 1, count)

	confirmed, count, err = s.ConfirmMember("hub1", false, "txhashB")
	require.NoError(t, err)
	require.True(t, confirmed)
	require.Equal(t, 2, count)

	// A spurious duplicate observation of an already-confirmed hash is a
	// no-op: it neither re-confirms nor bumps the counter again.
	confirmed, count, err = s.ConfirmMember("hub1", true, "txhashA")
	require.NoError(t, err)
	require.False(t, confirmed)
	require.Equal(t, 2, count)

	require.NoError(t, s.DeleteTransaction("hub1"))
	_, err = s.GetTransaction("hub1")
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestListExpiredTransactions(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.CreateTransaction(&Transaction{HubID: "hub1", State: TxStateHold}))
	require.NoError(t, s.CreateTransaction(&Transaction{HubID: "hub2", State: TxStateFinished}))

	expired, err := s.ListExpiredTransactions(time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "hub1", expired[0].HubID)
}

func TestAddressBookUpsertAndList(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.UpsertAddressBookEntry(&AddressBookEntry{
		Address: "addr1", Currency: "BLOCK", Name: "wallet1", IsLocal: true,
	}))
	require.NoError(t, s.UpsertAddressBookEntry(&AddressBookEntry{
		Address: "addr1", Currency: "BLOCK", Name: "renamed", IsLocal: true,
	}))

	got, err := s.GetAddressBookEntry("addr1")
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Name)

	local, err := s.ListLocalAddresses()
	require.NoError(t, err)
	require.Len(t, local, 1)
}

func TestKnownMessageDedup(t *testing.T) {
	s := newTestStorage(t)

	seen, err := s.HasSeenMessage("hash1")
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, s.RecordKnownMessage("hash1"))
	require.NoError(t, s.RecordKnownMessage("hash1")) // duplicate insert is a no-op

	seen, err = s.HasSeenMessage("hash1")
	require.NoError(t, err)
	require.True(t, seen)

	n, err := s.PruneKnownMessages(time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}
