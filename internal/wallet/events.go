package wallet

import (
	"github.com/richardliu001/eventkernel/internal/es"
	"github.com/shopspring/decimal"
)

const (
	EventOpened    = "wallet.opened"
	EventDeposited = "wallet.deposited"
	EventWithdrawn = "wallet.withdrawn"
)

type Opened struct {
	es.Meta
	Currency string `json:"currency"`
}

func (Opened) EventType() string { return EventOpened }

type Deposited struct {
	es.Meta
	Amount decimal.Decimal `json:"amount"`
}

func (Deposited) EventType() string { return EventDeposited }

type Withdrawn struct {
	es.Meta
	Amount decimal.Decimal `json:"amount"`
}

func (Withdrawn) EventType() string { return EventWithdrawn }

var registry = es.MustRegistry(
	es.EntryFor[Opened](),
	es.EntryFor[Deposited](),
	es.EntryFor[Withdrawn](),
)

// Registry returns the wallet event types. It is built once at init.
func Registry() *es.Registry { return registry }
