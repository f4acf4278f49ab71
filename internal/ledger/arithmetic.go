// Package ledger holds the pure price and balance arithmetic shared by renewals,
// payments and invoices. Nothing here touches storage.
package ledger

import (
	"errors"
	"fmt"

	"gymledger/pkg/money"
)

// ErrInvalidDiscount is returned when a discount falls outside [0, price].
var ErrInvalidDiscount = errors.New("ledger: invalid discount")

// Split is the outcome of dividing a net price into what is charged now and what is owed.
type Split struct {
	Charge  money.Money `json:"charge"`
	Balance money.Money `json:"balance"`
}

// NetPrice returns price minus discount.
func NetPrice(price, discount money.Money) (money.Money, error) {
	if discount.IsNegative() || discount > price {
		return 0, fmt.Errorf("%w: discount %s outside [0, %s]", ErrInvalidDiscount, discount, price)
	}
	return price.Sub(discount), nil
}

// ComputeBalance returns what is still owed after paid is applied to net.
// Overpayment is not kept as credit, and a negative payment counts as nothing paid.
func ComputeBalance(net, paid money.Money) money.Money {
	paid = money.Max(paid, money.Zero)
	return money.Max(money.Zero, net.Sub(paid))
}

// SplitPayment decides how much of net is charged now.
func SplitPayment(net money.Money, isFullPayment bool, requested money.Money) Split {
	if isFullPayment {
		return Split{Charge: net, Balance: money.Zero}
	}
	charge := money.Min(money.Max(requested, money.Zero), net)
	return Split{Charge: charge, Balance: net.Sub(charge)}
}
