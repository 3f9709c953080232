package execution

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"tradebot-go/internal/metrics"
)

// SimulatedExecutor fills every order at its reference price adjusted by a fixed slippage.
// Orders are deduplicated by client id.
type SimulatedExecutor struct {
	log      zerolog.Logger
	slippage float64
	mu       sync.Mutex
	seen     map[string]Fill
}

// NewSimulatedExecutor wraps a zerolog logger; slippageBps is applied against the taker.
func NewSimulatedExecutor(slippageBps float64, log zerolog.Logger) *SimulatedExecutor {
	if slippageBps < 0 {
		slippageBps = 0
	}
	return &SimulatedExecutor{log: log, slippage: slippageBps / 10000, seen: make(map[string]Fill)}
}

func (s *SimulatedExecutor) Mode() string { return "simulated" }

// Execute fills the order immediately.
func (s *SimulatedExecutor) Execute(_ context.Context, order Order) (Fill, error) {
	if err := validate(order); err != nil {
		return Fill{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.ClientID != "" {
		if fill, ok := s.seen[order.ClientID]; ok {
			return fill, nil
		}
	}
	price := order.Price
	if order.Side == Buy {
		price *= 1 + s.slippage
	} else {
		price *= 1 - s.slippage
	}
	fill := Fill{
		ClientID: order.ClientID,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Qty:      order.Qty,
		Price:    price,
		Time:     order.Time,
	}
	if order.ClientID != "" {
		s.seen[order.ClientID] = fill
	}
	metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Side)).Inc()
	s.log.Info().Str("sym", order.Symbol).Str("side", string(order.Side)).Str("action", string(order.Action)).
		Float64("qty", order.Qty).Float64("px", price).Msg("simulated fill")
	return fill, nil
}
