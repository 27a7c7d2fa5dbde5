package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/richardliu001/eventkernel/internal/bus"
	"github.com/richardliu001/eventkernel/internal/es"
	"github.com/richardliu001/eventkernel/internal/idempotency"
	"github.com/richardliu001/eventkernel/internal/model"
	"github.com/richardliu001/eventkernel/internal/repo"
	"github.com/richardliu001/eventkernel/internal/repo/repotest"
	"github.com/richardliu001/eventkernel/internal/wallet"
)

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = val
	return nil
}

type fixture struct {
	svc   *WalletService
	store *repo.EventStore
	db    *gorm.DB
	local *bus.LocalBus
}

func newTestService(t *testing.T) (*fixture, context.Context) {
	t.Helper()
	log := zap.NewNop().Sugar()
	db := repotest.OpenDB(t)
	local := bus.NewLocalBus()
	store := repo.NewEventStore(db, wallet.Registry(), bus.NewDispatcher(local), log)
	guard := idempotency.NewGuard(&memoryCache{data: map[string][]byte{}}, idempotency.Options{Strict: true}, log)
	svc := NewWalletService(store, guard, local, nil, Options{ConflictRetries: 10}, log)
	return &fixture{svc: svc, store: store, db: db, local: local}, context.Background()
}

func (f *fixture) count(t *testing.T, m interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(m).Count(&n).Error)
	return n
}

func TestWalletService_FullFlow(t *testing.T) {
	f, ctx := newTestService(t)
	svc := f.svc

	res, err := svc.Deposit(ctx, DepositFunds{WalletID: "1", Amount: decimal.NewFromInt(100), Key: "init1"})
	require.NoError(t, err)
	assert.Equal(t, "100", res.Balance.StringFixed(0))
	assert.Equal(t, int64(1), res.Version, "open + deposit")

	_, err = svc.Withdraw(ctx, WithdrawFunds{WalletID: "1", Amount: decimal.NewFromInt(130), Key: "w1"})
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	tr, err := svc.Transfer(ctx, TransferFunds{FromID: "1", ToID: "2", Amount: decimal.NewFromInt(30), Key: "tx1"})
	require.NoError(t, err)
	assert.Equal(t, "70", tr.From.Balance.StringFixed(0))
	assert.Equal(t, "30", tr.To.Balance.StringFixed(0))

	again, err := svc.Transfer(ctx, TransferFunds{FromID: "1", ToID: "2", Amount: decimal.NewFromInt(30), Key: "tx1"})
	require.NoError(t, err)
	assert.True(t, tr.From.Balance.Equal(again.From.Balance))
	assert.True(t, tr.To.Balance.Equal(again.To.Balance))

	b1, err := svc.GetBalance(ctx, "1")
	require.NoError(t, err)
	b2, err := svc.GetBalance(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "70", b1.StringFixed(0))
	assert.Equal(t, "30", b2.StringFixed(0))

	hist, err := svc.History(ctx, "1")
	require.NoError(t, err)
	assert.Len(t, hist, 3) // opened, deposited, withdrawn

	assert.Equal(t, int64(5), f.count(t, &model.EventRecord{}))
	assert.Equal(t, int64(5), f.count(t, &model.OutboxMessage{}))
}

func TestWalletService_DuplicateKeyRunsHandlerOnce(t *testing.T) {
	f, ctx := newTestService(t)
	cmd := DepositFunds{WalletID: "dup", Amount: decimal.NewFromInt(10), Key: "same"}

	first, err := f.svc.Deposit(ctx, cmd)
	require.NoError(t, err)
	second, err := f.svc.Deposit(ctx, cmd)
	require.NoError(t, err)

	assert.Equal(t, first.Version, second.Version)
	assert.True(t, first.Balance.Equal(second.Balance))
	hist, err := f.svc.History(ctx, "dup")
	require.NoError(t, err)
	assert.Len(t, hist, 2, "second call replayed the cached response")

	_, err = f.svc.Withdraw(ctx, WithdrawFunds{WalletID: "dup", Amount: decimal.NewFromInt(1), Key: "same"})
	require.NoError(t, err)
	hist, err = f.svc.History(ctx, "dup")
	require.NoError(t, err)
	assert.Len(t, hist, 3, "same key under another command type is independent")
}

func TestWalletService_ConcurrentDepositsAreNotLost(t *testing.T) {
	f, ctx := newTestService(t)
	_, err := f.svc.Deposit(ctx, DepositFunds{WalletID: "hot", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)

	const n = 5
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Deposit(ctx, DepositFunds{
				WalletID: "hot", Amount: decimal.NewFromInt(10), Key: fmt.Sprintf("k-%d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	bal, err := f.svc.GetBalance(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, "51", bal.String())
	hist, err := f.svc.History(ctx, "hot")
	require.NoError(t, err)
	for i, rec := range hist {
		assert.Equal(t, int64(i), rec.Version)
	}
}

func TestWalletService_ValidationAndNotFound(t *testing.T) {
	f, ctx := newTestService(t)

	_, err := f.svc.Deposit(ctx, DepositFunds{WalletID: "v", Amount: decimal.Zero})
	assert.ErrorIs(t, err, wallet.ErrInvalidAmount)
	_, err = f.svc.Deposit(ctx, DepositFunds{Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrMissingWallet)
	_, err = f.svc.Transfer(ctx, TransferFunds{FromID: "a", ToID: "a", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrSelfTransfer)

	_, err = f.svc.Withdraw(ctx, WithdrawFunds{WalletID: "ghost", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, es.ErrNotFound)
	_, err = f.svc.GetBalance(ctx, "ghost")
	assert.ErrorIs(t, err, es.ErrNotFound)
	_, err = f.svc.History(ctx, "ghost")
	assert.ErrorIs(t, err, es.ErrNotFound)
}

func TestWalletService_TransferCurrencyMismatch(t *testing.T) {
	f, ctx := newTestService(t)
	_, err := f.svc.Deposit(ctx, DepositFunds{WalletID: "eur", Amount: decimal.NewFromInt(5), Currency: "EUR"})
	require.NoError(t, err)
	_, err = f.svc.Deposit(ctx, DepositFunds{WalletID: "usd", Amount: decimal.NewFromInt(5), Currency: "USD"})
	require.NoError(t, err)

	_, err = f.svc.Transfer(ctx, TransferFunds{FromID: "eur", ToID: "usd", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestWalletService_BalanceCache(t *testing.T) {
	log := zap.NewNop().Sugar()
	db := repotest.OpenDB(t)
	local := bus.NewLocalBus()
	store := repo.NewEventStore(db, wallet.Registry(), bus.NewDispatcher(local), log)
	rdb, mock := redismock.NewClientMock()
	svc := NewWalletService(store, nil, local, rdb, Options{}, log)
	ctx := context.Background()

	mock.ExpectDel("balance:c").SetVal(0)
	mock.ExpectDel("balance:c").SetVal(0)
	_, err := svc.Deposit(ctx, DepositFunds{WalletID: "c", Amount: decimal.NewFromInt(8)})
	require.NoError(t, err)

	mock.ExpectGet("balance:c").RedisNil()
	mock.ExpectSet("balance:c", "8", balanceTTL).SetVal("OK")
	bal, err := svc.GetBalance(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "8", bal.String())

	mock.ExpectGet("balance:c").SetVal("8")
	bal, err = svc.GetBalance(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "8", bal.String())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletService_BalanceCacheDropsValueOutdatedByConcurrentCommit(t *testing.T) {
	log := zap.NewNop().Sugar()
	db := repotest.OpenDB(t)
	store := repo.NewEventStore(db, wallet.Registry(), bus.NewDispatcher(nil), log)
	rdb, mock := redismock.NewClientMock()
	svc := NewWalletService(store, nil, nil, rdb, Options{}, log)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, DepositFunds{WalletID: "r", Amount: decimal.NewFromInt(8)})
	require.NoError(t, err)

	// another writer commits after the replay; its invalidation already ran
	other := NewWalletService(store, nil, nil, nil, Options{}, log)
	svc.afterReplay = func(id string) {
		svc.afterReplay = nil
		_, err := other.Deposit(ctx, DepositFunds{WalletID: id, Amount: decimal.NewFromInt(2)})
		require.NoError(t, err)
	}

	mock.ExpectGet("balance:r").RedisNil()
	mock.ExpectSet("balance:r", "8", balanceTTL).SetVal("OK")
	mock.ExpectDel("balance:r").SetVal(1)
	_, err = svc.GetBalance(ctx, "r")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectGet("balance:r").RedisNil()
	mock.ExpectSet("balance:r", "10", balanceTTL).SetVal("OK")
	bal, err := svc.GetBalance(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, "10", bal.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}
