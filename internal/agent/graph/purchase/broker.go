package purchase

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/stockbroker-core/server/internal/agent/model"
	logx "github.com/stockbroker-core/server/pkg/logger"
)

// Broker performs the trade effect. Buy is idempotent on p.CallID: a record
// that was already traded returns its existing order.
type Broker interface {
	Buy(ctx context.Context, p model.PendingPurchase) (*model.Order, error)
}

// SimulatedBroker records orders in memory instead of trading.
type SimulatedBroker struct {
	mu     sync.Mutex
	orders []model.Order
	byCall map[string]int
}

func NewSimulatedBroker() *SimulatedBroker {
	return &SimulatedBroker{byCall: map[string]int{}}
}

func (b *SimulatedBroker) Buy(ctx context.Context, p model.PendingPurchase) (*model.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Join(errors.New("refusing invalid order"), err)
	}
	if p.CallID == "" {
		return nil, errors.New("refusing order without a request call id")
	}

	b.mu.Lock()
	if i, ok := b.byCall[p.CallID]; ok {
		order := b.orders[i]
		b.mu.Unlock()
		logx.Warn().
			Str("order_id", order.ID).
			Str("call_id", order.RequestCallID).
			Msg("Purchase already executed; returning existing order")
		return &order, nil
	}
	order := model.Order{
		ID:               uuid.NewString(),
		Ticker:           p.Ticker,
		Quantity:         p.Quantity,
		MaxPurchasePrice: p.MaxPurchasePrice,
		RequestCallID:    p.CallID,
	}
	b.byCall[p.CallID] = len(b.orders)
	b.orders = append(b.orders, order)
	b.mu.Unlock()

	logx.Info().
		Str("order_id", order.ID).
		Str("ticker", order.Ticker).
		Int("quantity", order.Quantity).
		Str("max_purchase_price", order.MaxPurchasePrice.String()).
		Str("call_id", order.RequestCallID).
		Msg("Simulated purchase executed")
	return &order, nil
}

// Orders returns a copy of the executed orders.
func (b *SimulatedBroker) Orders() []model.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Order(nil), b.orders...)
}
