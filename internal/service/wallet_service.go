package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/richardliu001/eventkernel/internal/bus"
	"github.com/richardliu001/eventkernel/internal/command"
	"github.com/richardliu001/eventkernel/internal/es"
	"github.com/richardliu001/eventkernel/internal/idempotency"
	"github.com/richardliu001/eventkernel/internal/model"
	"github.com/richardliu001/eventkernel/internal/repo"
	"github.com/richardliu001/eventkernel/internal/wallet"
)

const balanceTTL = 5 * time.Minute

var ErrCurrencyMismatch = errors.New("wallet currencies differ")

type Options struct {
	// ConflictRetries is how many times a command reloads and retries after
	// losing a version race.
	ConflictRetries int
	DefaultCurrency string
}

// WalletService glues the command pipeline and the event store.
type WalletService struct {
	store    *repo.EventStore
	commands *command.Bus
	rdb      *redis.Client
	opts     Options
	log      *zap.SugaredLogger

	// afterReplay runs between the replay and the cache fill in GetBalance.
	afterReplay func(walletID string)
}

// NewWalletService registers the wallet handlers behind validation, logging
// and the idempotency guard. local must be the bus the store dispatches to;
// it is used to keep the balance cache fresh. rdb may be nil to disable the
// balance cache.
func NewWalletService(store *repo.EventStore, guard *idempotency.Guard, local *bus.LocalBus, rdb *redis.Client, opts Options, log *zap.SugaredLogger) *WalletService {
	if opts.ConflictRetries < 0 {
		opts.ConflictRetries = 0
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "USD"
	}
	s := &WalletService{store: store, rdb: rdb, opts: opts, log: log}

	mws := []command.Middleware{command.Logging(log), command.Validation()}
	if guard != nil {
		mws = append(mws, guard.Middleware())
	}
	s.commands = command.NewBus(mws...)
	s.commands.Register(CmdDeposit, s.handleDeposit)
	s.commands.Register(CmdWithdraw, s.handleWithdraw)
	s.commands.Register(CmdTransfer, s.handleTransfer)

	if local != nil {
		for _, t := range wallet.Registry().Types() {
			local.Subscribe(t, s.invalidateBalance)
		}
	}
	return s
}

func (s *WalletService) Deposit(ctx context.Context, cmd DepositFunds) (BalanceResult, error) {
	return execute[BalanceResult](ctx, s.commands, cmd)
}

func (s *WalletService) Withdraw(ctx context.Context, cmd WithdrawFunds) (BalanceResult, error) {
	return execute[BalanceResult](ctx, s.commands, cmd)
}

func (s *WalletService) Transfer(ctx context.Context, cmd TransferFunds) (TransferResult, error) {
	return execute[TransferResult](ctx, s.commands, cmd)
}

func execute[T any](ctx context.Context, b *command.Bus, cmd command.Command) (T, error) {
	res, err := b.Execute(ctx, cmd)
	if err != nil {
		var zero T
		return zero, err
	}
	return command.Decode[T](res)
}

func (s *WalletService) handleDeposit(ctx context.Context, c command.Command) (any, error) {
	cmd := c.(DepositFunds)
	return s.withRetry(ctx, func() (any, error) {
		w, err := s.loadOrOpen(ctx, cmd.WalletID, cmd.Currency)
		if err != nil {
			return nil, err
		}
		if err := w.Deposit(cmd.Amount); err != nil {
			return nil, err
		}
		if err := s.store.Save(ctx, w); err != nil {
			return nil, err
		}
		return balanceOf(w), nil
	})
}

func (s *WalletService) handleWithdraw(ctx context.Context, c command.Command) (any, error) {
	cmd := c.(WithdrawFunds)
	return s.withRetry(ctx, func() (any, error) {
		w, err := repo.LoadAs(ctx, s.store, cmd.WalletID, wallet.New)
		if err != nil {
			return nil, err
		}
		if err := w.Withdraw(cmd.Amount); err != nil {
			return nil, err
		}
		if err := s.store.Save(ctx, w); err != nil {
			return nil, err
		}
		return balanceOf(w), nil
	})
}

func (s *WalletService) handleTransfer(ctx context.Context, c command.Command) (any, error) {
	cmd := c.(TransferFunds)
	return s.withRetry(ctx, func() (any, error) {
		from, err := repo.LoadAs(ctx, s.store, cmd.FromID, wallet.New)
		if err != nil {
			return nil, err
		}
		to, err := s.loadOrOpen(ctx, cmd.ToID, from.Currency())
		if err != nil {
			return nil, err
		}
		if to.Currency() != from.Currency() {
			return nil, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, from.Currency(), to.Currency())
		}
		if err := from.Withdraw(cmd.Amount); err != nil {
			return nil, err
		}
		if err := to.Deposit(cmd.Amount); err != nil {
			return nil, err
		}
		if err := s.store.SaveAll(ctx, from, to); err != nil {
			return nil, err
		}
		return TransferResult{From: balanceOf(from), To: balanceOf(to)}, nil
	})
}

// loadOrOpen returns the wallet, opening a new one if it has no history yet.
func (s *WalletService) loadOrOpen(ctx context.Context, id, currency string) (*wallet.Wallet, error) {
	w, err := repo.LoadAs(ctx, s.store, id, wallet.New)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, es.ErrNotFound) {
		return nil, err
	}
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}
	w = wallet.New(id)
	if err := w.Open(currency); err != nil {
		return nil, err
	}
	return w, nil
}

// withRetry reruns fn from a fresh load while it loses version races.
func (s *WalletService) withRetry(ctx context.Context, fn func() (any, error)) (any, error) {
	for attempt := 0; ; attempt++ {
		res, err := fn()
		if err == nil || !es.IsRetryable(err) || attempt >= s.opts.ConflictRetries {
			return res, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.log.Infow("version conflict, retrying", "attempt", attempt+1)
	}
}

// GetBalance reads the cached balance, falling back to a replay.
func (s *WalletService) GetBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	if bal, err := s.cachedBalance(ctx, walletID); err == nil {
		return bal, nil
	}
	w, err := repo.LoadAs(ctx, s.store, walletID, wallet.New)
	if err != nil {
		return decimal.Zero, err
	}
	if s.afterReplay != nil {
		s.afterReplay(walletID)
	}
	s.cacheBalance(ctx, walletID, w.Balance(), w.Version())
	return w.Balance(), nil
}

// History returns the stored events of a wallet.
func (s *WalletService) History(ctx context.Context, walletID string) ([]model.EventRecord, error) {
	rows, err := s.store.History(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", es.ErrNotFound, walletID)
	}
	return rows, nil
}

func balanceKey(walletID string) string { return "balance:" + walletID }

func (s *WalletService) cachedBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	if s.rdb == nil {
		return decimal.Zero, redis.Nil
	}
	str, err := s.rdb.Get(ctx, balanceKey(walletID)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}

// cacheBalance fills the cache with a balance replayed at version. A commit
// landing after the replay may already have run its invalidation, so the
// head version is read back after the write and a stale entry is dropped.
func (s *WalletService) cacheBalance(ctx context.Context, walletID string, bal decimal.Decimal, version int64) {
	if s.rdb == nil {
		return
	}
	key := balanceKey(walletID)
	if err := s.rdb.Set(ctx, key, bal.String(), balanceTTL).Err(); err != nil {
		s.log.Warnw("cache balance", "wallet", walletID, "error", err)
		return
	}
	head, err := s.store.CurrentVersion(ctx, walletID)
	if err == nil && head == version {
		return
	}
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		s.log.Warnw("drop stale balance", "wallet", walletID, "error", err)
	}
}

// invalidateBalance runs after every committed wallet event. A cache outage
// is logged, not returned, so it cannot fail the save that triggered it.
func (s *WalletService) invalidateBalance(ctx context.Context, evt es.Event) error {
	if s.rdb == nil {
		return nil
	}
	if err := s.rdb.Del(ctx, balanceKey(evt.AggregateID())).Err(); err != nil {
		s.log.Warnw("invalidate balance", "wallet", evt.AggregateID(), "error", err)
	}
	return nil
}
