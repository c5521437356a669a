package utils

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"quadbot/internal/domain"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewTradeID generates a unique, lexicographically sortable trade ID.
func NewTradeID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// PctChange returns the signed percent move from entry to current, positive
// when favorable for the given side.
func PctChange(entry, current float64, side domain.OrderSide) float64 {
	if entry == 0 {
		return 0
	}
	if side == domain.Buy {
		return (current - entry) / entry * 100
	}
	return (entry - current) / entry * 100
}

// RoundQty floors a quantity to the venue's step size.
func RoundQty(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	return math.Floor(qty/step) * step
}

// RoundPrice rounds a price to the venue's tick size.
func RoundPrice(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}

// SafeDiv divides a by b, returning def when b is zero.
func SafeDiv(a, b, def float64) float64 {
	if b == 0 {
		return def
	}
	return a / b
}
