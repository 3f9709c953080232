package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"tradebot-go/internal/metrics"
)

// LiveExecutor sends orders to a venue, retrying transient failures.
// Before every resubmission the venue is asked whether the client id already
// exists so a lost acknowledgement never produces a second order.
type LiveExecutor struct {
	venue      Venue
	log        zerolog.Logger
	maxRetries int
	retryMin   time.Duration
	retryMax   time.Duration
}

// NewLiveExecutor builds a live executor around venue.
func NewLiveExecutor(venue Venue, maxRetries int, retryMin, retryMax time.Duration, log zerolog.Logger) *LiveExecutor {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if retryMin <= 0 {
		retryMin = 500 * time.Millisecond
	}
	if retryMax < retryMin {
		retryMax = 10 * retryMin
	}
	return &LiveExecutor{venue: venue, log: log, maxRetries: maxRetries, retryMin: retryMin, retryMax: retryMax}
}

func (l *LiveExecutor) Mode() string { return "live" }

// Execute submits the order, retrying ErrExchangeIO up to maxRetries times.
func (l *LiveExecutor) Execute(ctx context.Context, order Order) (Fill, error) {
	if err := validate(order); err != nil {
		return Fill{}, err
	}
	if order.ClientID == "" {
		order.ClientID = ClientOrderID(order.Symbol, order.Side, order.Time, order.Action)
	}
	b := &backoff.Backoff{Min: l.retryMin, Max: l.retryMax, Factor: 2, Jitter: true}
	logger := l.log.With().Str("sym", order.Symbol).Str("side", string(order.Side)).
		Str("client_id", order.ClientID).Str("venue", l.venue.Name()).Logger()

	var lastErr error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.OrderRetriesTotal.WithLabelValues(order.Symbol).Inc()
			wait := b.Duration()
			logger.Warn().Err(lastErr).Int("attempt", attempt).Dur("wait", wait).Msg("retrying order")
			select {
			case <-ctx.Done():
				return Fill{}, fmt.Errorf("order %s: %w", order.ClientID, ctx.Err())
			case <-time.After(wait):
			}
			fill, found, err := l.venue.LookupOrder(ctx, order.Symbol, order.ClientID)
			if err == nil && found {
				logger.Info().Float64("px", fill.Price).Msg("order already accepted")
				return fill, nil
			}
			if err != nil {
				lastErr = err
				if !errors.Is(err, ErrExchangeIO) {
					return Fill{}, err
				}
				continue
			}
		}
		fill, err := l.venue.CreateOrder(ctx, order)
		if err == nil {
			metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Side)).Inc()
			logger.Info().Float64("qty", fill.Qty).Float64("px", fill.Price).Str("venue_order_id", fill.VenueOrderID).Msg("order filled")
			return fill, nil
		}
		lastErr = err
		if !errors.Is(err, ErrExchangeIO) {
			logger.Error().Err(err).Msg("order rejected")
			return Fill{}, err
		}
	}
	return Fill{}, fmt.Errorf("order %s failed after %d retries: %w", order.ClientID, l.maxRetries, lastErr)
}
