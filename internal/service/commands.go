package service

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/richardliu001/eventkernel/internal/wallet"
)

const (
	CmdDeposit  = "wallet.deposit"
	CmdWithdraw = "wallet.withdraw"
	CmdTransfer = "wallet.transfer"
)

var (
	ErrMissingWallet = errors.New("wallet id is required")
	ErrSelfTransfer  = errors.New("cannot transfer to self")
)

// DepositFunds opens the wallet on first use.
type DepositFunds struct {
	WalletID string
	Amount   decimal.Decimal
	Currency string
	Key      string
}

func (DepositFunds) CommandType() string      { return CmdDeposit }
func (c DepositFunds) IdempotencyKey() string { return c.Key }

func (c DepositFunds) Validate() error {
	if c.WalletID == "" {
		return ErrMissingWallet
	}
	if !c.Amount.IsPositive() {
		return wallet.ErrInvalidAmount
	}
	return nil
}

type WithdrawFunds struct {
	WalletID string
	Amount   decimal.Decimal
	Key      string
}

func (WithdrawFunds) CommandType() string      { return CmdWithdraw }
func (c WithdrawFunds) IdempotencyKey() string { return c.Key }

func (c WithdrawFunds) Validate() error {
	if c.WalletID == "" {
		return ErrMissingWallet
	}
	if !c.Amount.IsPositive() {
		return wallet.ErrInvalidAmount
	}
	return nil
}

// TransferFunds moves money between two wallets in one commit.
type TransferFunds struct {
	FromID string
	ToID   string
	Amount decimal.Decimal
	Key    string
}

func (TransferFunds) CommandType() string      { return CmdTransfer }
func (c TransferFunds) IdempotencyKey() string { return c.Key }

func (c TransferFunds) Validate() error {
	if c.FromID == "" || c.ToID == "" {
		return ErrMissingWallet
	}
	if c.FromID == c.ToID {
		return ErrSelfTransfer
	}
	if !c.Amount.IsPositive() {
		return wallet.ErrInvalidAmount
	}
	return nil
}

// BalanceResult is the serialized response of deposit and withdraw.
type BalanceResult struct {
	WalletID string          `json:"wallet_id"`
	Balance  decimal.Decimal `json:"balance"`
	Version  int64           `json:"version"`
}

type TransferResult struct {
	From BalanceResult `json:"from"`
	To   BalanceResult `json:"to"`
}

func balanceOf(w *wallet.Wallet) BalanceResult {
	return BalanceResult{WalletID: w.AggregateID(), Balance: w.Balance(), Version: w.Version()}
}
