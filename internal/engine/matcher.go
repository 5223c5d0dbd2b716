package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MatchOrder walks the opposite side of the book in price/time priority and
// consumes liquidity until the taker is filled or prices stop crossing.
// Every fill executes at the maker's resting price. A limit order with
// remaining quantity rests on the book; a market order never rests.
func (ob *OrderBook) MatchOrder(incoming *Order) ([]Fill, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if err := validateOrderFields(incoming); err != nil {
		return nil, err
	}
	side := normalizeSide(incoming.Side)
	orderType := normalizeType(incoming.Type)

	opposite := ob.sells
	if side == SideSell {
		opposite = ob.buys
	}

	fills := make([]Fill, 0)
	remaining := incoming.Remaining()

	for remaining.GreaterThan(decimal.Zero) {
		best := opposite.best()
		if best == nil {
			break
		}
		if !priceCrosses(incoming, best.price) {
			break
		}

		makerElem := best.orders.Front()
		if makerElem == nil {
			break
		}
		maker := makerElem.Value.(*Order)
		makerRemaining := maker.Remaining()
		if makerRemaining.LessThanOrEqual(decimal.Zero) {
			// Stale maker left behind by an out-of-band update.
			ob.removeOrderLocked(maker.ID)
			continue
		}

		matchQty := minDecimal(remaining, makerRemaining)
		maker.Filled = maker.Filled.Add(matchQty)
		incoming.Filled = incoming.Filled.Add(matchQty)
		remaining = incoming.Remaining()

		fills = append(fills, Fill{
			MakerOrderID: maker.ID,
			MakerUserID:  maker.UserID,
			MakerSide:    maker.Side,
			Price:        best.price,
			Quantity:     matchQty,
			ExecutedAt:   time.Now().UTC(),
		})

		if maker.Remaining().LessThanOrEqual(decimal.Zero) {
			ob.removeOrderLocked(maker.ID)
		}
	}

	if incoming.Remaining().GreaterThan(decimal.Zero) && orderType == TypeLimit {
		if err := ob.addOrderLocked(incoming); err != nil {
			return fills, err
		}
	}

	return fills, nil
}

func priceCrosses(incoming *Order, makerPrice decimal.Decimal) bool {
	if normalizeType(incoming.Type) == TypeMarket {
		// A market buy carries the per-unit ceiling its reservation covers;
		// matching stops at makers priced above it.
		if normalizeSide(incoming.Side) == SideBuy && incoming.Price.IsPositive() {
			return makerPrice.Cmp(incoming.Price) <= 0
		}
		return true
	}
	switch normalizeSide(incoming.Side) {
	case SideBuy:
		return makerPrice.Cmp(incoming.Price) <= 0
	case SideSell:
		return makerPrice.Cmp(incoming.Price) >= 0
	default:
		return false
	}
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func validateOrderFields(order *Order) error {
	if order == nil {
		return fmt.Errorf("order required")
	}
	if order.ID == uuid.Nil {
		return fmt.Errorf("order id required")
	}
	if order.Symbol == "" {
		return fmt.Errorf("symbol required")
	}
	if normalizeSide(order.Side) == "" {
		return fmt.Errorf("invalid side")
	}
	if normalizeType(order.Type) == "" {
		return fmt.Errorf("invalid type")
	}
	if order.Quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("quantity must be positive")
	}
	if normalizeType(order.Type) == TypeLimit && order.Price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("price must be positive for limit")
	}
	return nil
}
