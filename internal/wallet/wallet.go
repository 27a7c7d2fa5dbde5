// Package wallet is an event-sourced wallet used as the reference aggregate
// for the persistence kernel.
package wallet

import (
	"errors"
	"fmt"

	"github.com/richardliu001/eventkernel/internal/es"
	"github.com/shopspring/decimal"
)

const AggregateType = "wallet"

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotOpen           = errors.New("wallet is not open")
	ErrAlreadyOpen       = errors.New("wallet is already open")
)

type Wallet struct {
	es.Base
	open     bool
	currency string
	balance  decimal.Decimal
}

func New(id string) *Wallet {
	w := &Wallet{balance: decimal.Zero}
	w.Base = es.NewBase(id, AggregateType, w.apply)
	return w
}

// Factory satisfies es.Factory.
func Factory(id string) es.Aggregate { return New(id) }

func (w *Wallet) IsOpen() bool             { return w.open }
func (w *Wallet) Currency() string         { return w.currency }
func (w *Wallet) Balance() decimal.Decimal { return w.balance }

func (w *Wallet) Open(currency string) error {
	if w.open {
		return ErrAlreadyOpen
	}
	return w.ApplyChange(&Opened{Meta: es.NewMeta(w.AggregateID()), Currency: currency})
}

func (w *Wallet) Deposit(amount decimal.Decimal) error {
	if !w.open {
		return ErrNotOpen
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return w.ApplyChange(&Deposited{Meta: es.NewMeta(w.AggregateID()), Amount: amount})
}

func (w *Wallet) Withdraw(amount decimal.Decimal) error {
	if !w.open {
		return ErrNotOpen
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if w.balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	return w.ApplyChange(&Withdrawn{Meta: es.NewMeta(w.AggregateID()), Amount: amount})
}

// apply is the pure transition; business checks live in the methods above.
func (w *Wallet) apply(e es.Event) error {
	switch evt := e.(type) {
	case *Opened:
		w.open = true
		w.currency = evt.Currency
	case *Deposited:
		w.balance = w.balance.Add(evt.Amount)
	case *Withdrawn:
		w.balance = w.balance.Sub(evt.Amount)
	default:
		return fmt.Errorf("%w: %s", es.ErrUnknownEventType, e.EventType())
	}
	return nil
}
