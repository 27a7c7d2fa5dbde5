package wallet

import (
	"testing"

	"github.com/richardliu001/eventkernel/internal/es"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWallet_Lifecycle(t *testing.T) {
	w := New("w-1")
	assert.ErrorIs(t, w.Deposit(decimal.NewFromInt(1)), ErrNotOpen)

	require.NoError(t, w.Open("EUR"))
	assert.ErrorIs(t, w.Open("EUR"), ErrAlreadyOpen)
	require.NoError(t, w.Deposit(decimal.NewFromInt(100)))
	require.NoError(t, w.Withdraw(decimal.NewFromInt(30)))

	assert.ErrorIs(t, w.Withdraw(decimal.NewFromInt(71)), ErrInsufficientFunds)
	assert.ErrorIs(t, w.Deposit(decimal.Zero), ErrInvalidAmount)
	assert.ErrorIs(t, w.Withdraw(decimal.NewFromInt(-1)), ErrInvalidAmount)

	assert.Equal(t, "70", w.Balance().String())
	assert.Equal(t, "EUR", w.Currency())
	assert.Len(t, w.Changes(), 3)
	assert.Equal(t, int64(-1), w.Version())
}

func TestWallet_ReplayMatchesLiveState(t *testing.T) {
	live := New("w-2")
	require.NoError(t, live.Open("USD"))
	require.NoError(t, live.Deposit(decimal.RequireFromString("12.50")))
	require.NoError(t, live.Withdraw(decimal.RequireFromString("2.25")))

	var history []es.Event
	for _, e := range live.Changes() {
		data, err := Registry().Encode(e)
		require.NoError(t, err)
		decoded, err := Registry().Decode(e.EventType(), data)
		require.NoError(t, err)
		history = append(history, decoded)
	}

	replayed := New("w-2")
	require.NoError(t, replayed.LoadFromHistory(history))
	assert.True(t, live.Balance().Equal(replayed.Balance()))
	assert.True(t, replayed.IsOpen())
	assert.Equal(t, int64(2), replayed.Version())
	assert.Empty(t, replayed.Changes())
}

func TestRegistry_CoversWalletEvents(t *testing.T) {
	assert.Equal(t, []string{EventDeposited, EventOpened, EventWithdrawn}, Registry().Types())
}
