package models

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrFeedUnavailable   = errors.New("feed unavailable")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrExchange          = errors.New("exchange error")
	ErrNetwork           = errors.New("network error")
	ErrCapitalExceeded   = errors.New("capital exceeded")
	ErrUnknownPosition   = errors.New("unknown position")
	ErrLedgerWrite       = errors.New("ledger write failure")
	// ErrOrderNotFound биржа не знает такого ордера.
	ErrOrderNotFound = errors.New("order not found")
	// ErrUnrecorded ордер исполнен на бирже, но в журнал не попал.
	ErrUnrecorded = errors.New("order executed but not recorded")
)

type Kind string

const (
	KindNone              Kind = ""
	KindFeedUnavailable   Kind = "FeedUnavailable"
	KindInsufficientFunds Kind = "InsufficientFunds"
	KindExchange          Kind = "ExchangeError"
	KindNetwork           Kind = "NetworkError"
	KindCapitalExceeded   Kind = "CapitalExceeded"
	KindUnknownPosition   Kind = "UnknownPosition"
	KindLedgerWrite       Kind = "LedgerWriteFailure"
	KindUnrecorded        Kind = "Unrecorded"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrUnrecorded, KindUnrecorded},
	{ErrLedgerWrite, KindLedgerWrite},
	{ErrCapitalExceeded, KindCapitalExceeded},
	{ErrUnknownPosition, KindUnknownPosition},
	{ErrFeedUnavailable, KindFeedUnavailable},
	{ErrInsufficientFunds, KindInsufficientFunds},
	{ErrNetwork, KindNetwork},
	{ErrExchange, KindExchange},
}

// KindOf сводит ошибку к таксономии. Неизвестное считается ExchangeError.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindExchange
}

// Classify помечает ошибку err операции op видом kind, сохраняя исходную причину.
func Classify(kind error, op string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", op, kind)
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}
