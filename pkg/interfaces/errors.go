package interfaces

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

var (
	ErrNotImplementedByAdapter = errors.New("operation not implemented by adapter")
	ErrUnsupportedExchange     = errors.New("unsupported exchange")
	ErrInvalidConfiguration    = errors.New("invalid configuration")
	ErrMissingCredentials      = errors.New("missing credentials")
)

// NotImplementedError names the exchange and the capability it lacks.
type NotImplementedError struct {
	Exchange   schema.ExchangeName
	Market     schema.MarketType
	Capability Capability
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s %s: %s not implemented by adapter", e.Exchange, e.Market, e.Capability)
}

func (e *NotImplementedError) Is(target error) bool {
	return target == ErrNotImplementedByAdapter
}

// UnsupportedExchangeError is returned when no resolution step matches.
type UnsupportedExchangeError struct {
	Exchange schema.ExchangeName
	Custom   []string
	Default  []string
}

func (e *UnsupportedExchangeError) Error() string {
	return fmt.Sprintf("unsupported exchange %q (custom: [%s], default: [%s])",
		e.Exchange, strings.Join(e.Custom, ", "), strings.Join(e.Default, ", "))
}

func (e *UnsupportedExchangeError) Is(target error) bool {
	return target == ErrUnsupportedExchange
}
