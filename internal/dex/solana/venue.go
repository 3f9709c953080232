package solana

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradebot-go/internal/execution"
	"tradebot-go/internal/signal"
)

// Pair maps a bot symbol onto the two SPL mints of an on-chain market.
type Pair struct {
	Symbol        string
	BaseMint      string
	QuoteMint     string
	BaseDecimals  int32
	QuoteDecimals int32
}

// Swapper is the part of JupiterClient the venue uses. BuildAndSendSwap
// returns the signature whenever the transaction was submitted, even if
// confirmation then failed.
type Swapper interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*Quote, error)
	BuildAndSendSwap(ctx context.Context, quote *Quote) (solana.Signature, error)
	WaitConfirmed(ctx context.Context, sig solana.Signature) error
}

// lookupTimeout bounds how long LookupOrder waits on an unconfirmed swap.
const lookupTimeout = 10 * time.Second

type pendingSwap struct {
	sig   solana.Signature
	quote *Quote
	order execution.Order
	pair  Pair
}

// JupiterVenue routes market orders through Jupiter swaps. Buys spend quote
// tokens for base tokens; sells do the reverse.
type JupiterVenue struct {
	swapper     Swapper
	pairs       map[string]Pair
	slippageBps int
	log         zerolog.Logger

	mu      sync.Mutex
	journal map[string]execution.Fill
	pending map[string]pendingSwap
}

// NewJupiterVenue builds a venue over the given pairs.
func NewJupiterVenue(swapper Swapper, pairs []Pair, slippageBps int, log zerolog.Logger) (*JupiterVenue, error) {
	if swapper == nil {
		return nil, errors.New("jupiter venue needs a swapper")
	}
	m := make(map[string]Pair, len(pairs))
	for _, p := range pairs {
		if p.BaseMint == "" || p.QuoteMint == "" {
			return nil, fmt.Errorf("pair %s: mints are required", p.Symbol)
		}
		m[signal.NormalizeSymbol(p.Symbol)] = p
	}
	return &JupiterVenue{swapper: swapper, pairs: m, slippageBps: slippageBps, log: log,
		journal: make(map[string]execution.Fill), pending: make(map[string]pendingSwap)}, nil
}

func (v *JupiterVenue) Name() string { return "jupiter" }

// CreateOrder quotes and submits one swap. The order price is only used to
// size the quote leg of a buy.
func (v *JupiterVenue) CreateOrder(ctx context.Context, order execution.Order) (execution.Fill, error) {
	pair, ok := v.pairs[signal.NormalizeSymbol(order.Symbol)]
	if !ok {
		return execution.Fill{}, fmt.Errorf("%w: no on-chain pair for %s", execution.ErrRejected, order.Symbol)
	}
	qty := decimal.NewFromFloat(order.Qty)
	var in, out string
	var amount decimal.Decimal
	switch order.Side {
	case execution.Buy:
		in, out = pair.QuoteMint, pair.BaseMint
		amount = qty.Mul(decimal.NewFromFloat(order.Price)).Shift(pair.QuoteDecimals)
	case execution.Sell:
		in, out = pair.BaseMint, pair.QuoteMint
		amount = qty.Shift(pair.BaseDecimals)
	default:
		return execution.Fill{}, fmt.Errorf("%w: side %q", execution.ErrInvalidOrder, order.Side)
	}
	units := amount.Floor()
	if !units.IsPositive() {
		return execution.Fill{}, fmt.Errorf("%w: amount rounds to zero", execution.ErrInvalidOrder)
	}

	quote, err := v.swapper.GetQuote(ctx, in, out, uint64(units.IntPart()), v.slippageBps)
	if err != nil {
		return execution.Fill{}, classify(err)
	}
	sig, err := v.swapper.BuildAndSendSwap(ctx, quote)
	if err != nil {
		if sig != (solana.Signature{}) && !errors.Is(err, ErrTxFailed) {
			v.mu.Lock()
			v.pending[order.ClientID] = pendingSwap{sig: sig, quote: quote, order: order, pair: pair}
			v.mu.Unlock()
			v.log.Warn().Err(err).Str("sym", order.Symbol).Str("sig", sig.String()).Msg("swap submitted but unconfirmed")
		}
		return execution.Fill{}, classify(err)
	}
	fill, err := fillFromQuote(order, pair, quote, sig.String())
	if err != nil {
		return execution.Fill{}, err
	}
	v.mu.Lock()
	v.journal[order.ClientID] = fill
	v.mu.Unlock()
	v.log.Info().Str("sym", order.Symbol).Str("side", string(order.Side)).Str("sig", fill.VenueOrderID).
		Float64("qty", fill.Qty).Float64("px", fill.Price).Msg("swap submitted")
	return fill, nil
}

// LookupOrder consults the local journal; swaps carry no client id on-chain.
// A swap that was submitted but not confirmed is resolved through its
// signature status.
func (v *JupiterVenue) LookupOrder(ctx context.Context, _ string, clientID string) (execution.Fill, bool, error) {
	v.mu.Lock()
	fill, ok := v.journal[clientID]
	p, pending := v.pending[clientID]
	v.mu.Unlock()
	if ok || !pending {
		return fill, ok, nil
	}

	cctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	if err := v.swapper.WaitConfirmed(cctx, p.sig); err != nil {
		if errors.Is(err, ErrTxFailed) {
			v.mu.Lock()
			delete(v.pending, clientID)
			v.mu.Unlock()
			return execution.Fill{}, false, nil
		}
		return execution.Fill{}, false, classify(err)
	}
	fill, err := fillFromQuote(p.order, p.pair, p.quote, p.sig.String())
	if err != nil {
		return execution.Fill{}, false, err
	}
	v.mu.Lock()
	delete(v.pending, clientID)
	v.journal[clientID] = fill
	v.mu.Unlock()
	return fill, true, nil
}

func fillFromQuote(order execution.Order, pair Pair, q *Quote, sig string) (execution.Fill, error) {
	inAmt, err := decimal.NewFromString(q.InAmount)
	if err != nil {
		return execution.Fill{}, fmt.Errorf("parse inAmount: %w", err)
	}
	outAmt, err := decimal.NewFromString(q.OutAmount)
	if err != nil {
		return execution.Fill{}, fmt.Errorf("parse outAmount: %w", err)
	}
	var base, quote decimal.Decimal
	if order.Side == execution.Buy {
		base, quote = outAmt.Shift(-pair.BaseDecimals), inAmt.Shift(-pair.QuoteDecimals)
	} else {
		base, quote = inAmt.Shift(-pair.BaseDecimals), outAmt.Shift(-pair.QuoteDecimals)
	}
	if !base.IsPositive() {
		return execution.Fill{}, fmt.Errorf("%w: empty swap", execution.ErrRejected)
	}
	at := order.Time
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return execution.Fill{
		ClientID:     order.ClientID,
		VenueOrderID: sig,
		Symbol:       order.Symbol,
		Side:         order.Side,
		Qty:          base.InexactFloat64(),
		Price:        quote.Div(base).InexactFloat64(),
		Time:         at,
	}, nil
}

func classify(err error) error {
	if errors.Is(err, ErrTxFailed) {
		return fmt.Errorf("%w: %v", execution.ErrRejected, err)
	}
	var se *StatusError
	if errors.As(err, &se) && !se.Transient() {
		return fmt.Errorf("%w: %v", execution.ErrRejected, err)
	}
	return fmt.Errorf("%w: %v", execution.ErrExchangeIO, err)
}

