// Package execution handles order lifecycle and interaction with venues.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy indicates a long order.
	Buy Side = "BUY"
	// Sell indicates a short order.
	Sell Side = "SELL"
)

// Action says whether an order opens or closes a position.
type Action string

const (
	ActionOpen  Action = "open"
	ActionClose Action = "close"
)

// Order represents a placement request the executor can process.
type Order struct {
	ClientID string    `json:"client_id"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Action   Action    `json:"action"`
	Qty      float64   `json:"qty"`
	Price    float64   `json:"price"` // reference price; fills are market
	Time     time.Time `json:"time"`
}

// Fill is the executed result of an order.
type Fill struct {
	ClientID     string    `json:"client_id"`
	VenueOrderID string    `json:"venue_order_id,omitempty"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Qty          float64   `json:"qty"`
	Price        float64   `json:"price"`
	Time         time.Time `json:"time"`
}

var (
	// ErrExchangeIO marks transient venue failures that may be retried.
	ErrExchangeIO = errors.New("exchange i/o error")
	// ErrRejected marks orders the venue refused; they are not retried.
	ErrRejected = errors.New("order rejected")
	// ErrInvalidOrder is returned for orders with bad quantity or price.
	ErrInvalidOrder = errors.New("invalid order")
)

// Executor turns orders into fills.
type Executor interface {
	Execute(ctx context.Context, order Order) (Fill, error)
	Mode() string
}

// Venue is a market that accepts orders keyed by client id.
type Venue interface {
	Name() string
	CreateOrder(ctx context.Context, order Order) (Fill, error)
	// LookupOrder finds an order previously sent with clientID; found is false if the venue never saw it.
	LookupOrder(ctx context.Context, symbol, clientID string) (fill Fill, found bool, err error)
}

var clientIDNamespace = uuid.MustParse("0b7d9d2e-4f8a-5c3b-9e61-7a2f4c8d1e90")

// ClientOrderID derives a deterministic id from the decision that produced the order,
// so a retried submission carries the same id as the original.
func ClientOrderID(symbol string, side Side, barTime time.Time, action Action) string {
	key := fmt.Sprintf("%s|%s|%d|%s", symbol, side, barTime.UTC().UnixNano(), action)
	return uuid.NewSHA1(clientIDNamespace, []byte(key)).String()
}

func validate(order Order) error {
	if order.Symbol == "" || order.Qty <= 0 || order.Price <= 0 {
		return fmt.Errorf("%w: %s qty=%v px=%v", ErrInvalidOrder, order.Symbol, order.Qty, order.Price)
	}
	if order.Side != Buy && order.Side != Sell {
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, order.Side)
	}
	return nil
}

// Options configures New.
type Options struct {
	Mode        string
	SlippageBps float64
	MaxRetries  int
	RetryMin    time.Duration
	RetryMax    time.Duration
}

// New returns the executor variant named by opts.Mode.
func New(opts Options, venue Venue, log zerolog.Logger) (Executor, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Mode)) {
	case "", "simulated", "paper", "dry_run":
		return NewSimulatedExecutor(opts.SlippageBps, log), nil
	case "live":
		if venue == nil {
			return nil, errors.New("live execution requires a venue")
		}
		return NewLiveExecutor(venue, opts.MaxRetries, opts.RetryMin, opts.RetryMax, log), nil
	default:
		return nil, fmt.Errorf("unknown execution mode %q", opts.Mode)
	}
}
