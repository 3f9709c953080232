package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"tradebot-go/internal/execution"
	"tradebot-go/internal/signal"
)

const (
	codeOrderNotFound = -2013
	codeTooManyReqs   = -1003
	codeUnknown       = -1000
	codeTimeout       = -1007
)

// BinanceOptions configures the spot REST client.
type BinanceOptions struct {
	APIKey            string
	APISecret         string
	BaseURL           string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Binance is the spot REST connector: klines, balances and market orders.
type Binance struct {
	client  *binance.Client
	limiter *rate.Limiter
	log     zerolog.Logger

	mu    sync.Mutex
	steps map[string]decimal.Decimal
}

// NewBinance builds a connector. Calls are throttled to RequestsPerSecond.
func NewBinance(opts BinanceOptions, log zerolog.Logger) *Binance {
	client := binance.NewClient(opts.APIKey, opts.APISecret)
	if base := strings.TrimSuffix(strings.TrimSpace(opts.BaseURL), "/"); base != "" {
		client.BaseURL = base
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	return &Binance{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log,
		steps:   make(map[string]decimal.Decimal),
	}
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) wait(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", execution.ErrExchangeIO, err)
	}
	return nil
}

// classify maps client errors onto the execution error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeTooManyReqs, codeUnknown, codeTimeout:
			return fmt.Errorf("%w: %w", execution.ErrExchangeIO, err)
		}
		return fmt.Errorf("%w: %w", execution.ErrRejected, err)
	}
	return fmt.Errorf("%w: %w", execution.ErrExchangeIO, err)
}

// FetchOHLCV returns closed klines starting at since.
func (b *Binance) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]signal.Bar, error) {
	symbol = signal.NormalizeSymbol(symbol)
	if limit <= 0 || limit > PageLimit {
		limit = PageLimit
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	svc := b.client.NewKlinesService().Symbol(symbol).Interval(timeframe).Limit(limit)
	if !since.IsZero() {
		svc = svc.StartTime(since.UnixMilli())
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	now := time.Now().UnixMilli()
	out := make([]signal.Bar, 0, len(kls))
	for _, kl := range kls {
		if kl == nil || kl.CloseTime > now {
			continue
		}
		bar, err := barFromStrings(symbol, kl.OpenTime, kl.Open, kl.High, kl.Low, kl.Close, kl.Volume)
		if err != nil {
			b.log.Warn().Err(err).Str("sym", symbol).Msg("skipping malformed kline")
			continue
		}
		out = append(out, bar)
	}
	return out, nil
}

func barFromStrings(symbol string, openTime int64, open, high, low, closePx, volume string) (signal.Bar, error) {
	vals := make([]float64, 5)
	for i, s := range []string{open, high, low, closePx, volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return signal.Bar{}, err
		}
		vals[i] = v
	}
	bar := signal.Bar{Symbol: symbol, Time: time.UnixMilli(openTime).UTC(),
		Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}
	return bar, signal.ValidateBar(bar)
}

// FetchBalance returns the free balance of asset.
func (b *Binance) FetchBalance(ctx context.Context, asset string) (float64, error) {
	if err := b.wait(ctx); err != nil {
		return 0, err
	}
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, classify(err)
	}
	for _, bal := range acct.Balances {
		if strings.EqualFold(bal.Asset, asset) {
			return strconv.ParseFloat(bal.Free, 64)
		}
	}
	return 0, nil
}

// stepSize returns the LOT_SIZE step for symbol, cached after the first lookup.
func (b *Binance) stepSize(ctx context.Context, symbol string) decimal.Decimal {
	b.mu.Lock()
	step, ok := b.steps[symbol]
	b.mu.Unlock()
	if ok {
		return step
	}
	step = decimal.New(1, -8)
	if err := b.wait(ctx); err == nil {
		info, err := b.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
		if err == nil {
			for _, s := range info.Symbols {
				if s.Symbol != symbol {
					continue
				}
				if lot := s.LotSizeFilter(); lot != nil {
					if d, err := decimal.NewFromString(lot.StepSize); err == nil && d.IsPositive() {
						step = d
					}
				}
			}
		} else {
			b.log.Warn().Err(err).Str("sym", symbol).Msg("exchange info unavailable, using default step")
		}
	}
	b.mu.Lock()
	b.steps[symbol] = step
	b.mu.Unlock()
	return step
}

// FormatQuantity floors qty to a multiple of step.
func FormatQuantity(qty float64, step decimal.Decimal) string {
	if !step.IsPositive() {
		step = decimal.New(1, -8)
	}
	q := decimal.NewFromFloat(qty).Div(step).Floor().Mul(step)
	return q.StringFixed(step.Exponent() * -1)
}

// CreateOrder places a market order tagged with the order's client id.
func (b *Binance) CreateOrder(ctx context.Context, order execution.Order) (execution.Fill, error) {
	symbol := signal.NormalizeSymbol(order.Symbol)
	qty := FormatQuantity(order.Qty, b.stepSize(ctx, symbol))
	if d, _ := decimal.NewFromString(qty); !d.IsPositive() {
		return execution.Fill{}, fmt.Errorf("%w: quantity %v below step", execution.ErrInvalidOrder, order.Qty)
	}
	side := binance.SideTypeBuy
	if order.Side == execution.Sell {
		side = binance.SideTypeSell
	}
	if err := b.wait(ctx); err != nil {
		return execution.Fill{}, err
	}
	resp, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(qty).
		NewClientOrderID(order.ClientID).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return execution.Fill{}, classify(err)
	}
	return fillFromTotals(order, strconv.FormatInt(resp.OrderID, 10), resp.ExecutedQuantity,
		resp.CummulativeQuoteQuantity, time.UnixMilli(resp.TransactTime))
}

// LookupOrder finds an order by client id.
func (b *Binance) LookupOrder(ctx context.Context, symbol, clientID string) (execution.Fill, bool, error) {
	symbol = signal.NormalizeSymbol(symbol)
	if err := b.wait(ctx); err != nil {
		return execution.Fill{}, false, err
	}
	o, err := b.client.NewGetOrderService().Symbol(symbol).OrigClientOrderID(clientID).Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeOrderNotFound {
			return execution.Fill{}, false, nil
		}
		return execution.Fill{}, false, classify(err)
	}
	side := execution.Buy
	if o.Side == binance.SideTypeSell {
		side = execution.Sell
	}
	ref := execution.Order{ClientID: clientID, Symbol: symbol, Side: side}
	fill, err := fillFromTotals(ref, strconv.FormatInt(o.OrderID, 10), o.ExecutedQuantity,
		o.CummulativeQuoteQuantity, time.UnixMilli(o.UpdateTime))
	if err != nil {
		return execution.Fill{}, false, err
	}
	return fill, true, nil
}

func fillFromTotals(order execution.Order, venueID, executedQty, quoteQty string, at time.Time) (execution.Fill, error) {
	qty, err := decimal.NewFromString(executedQty)
	if err != nil {
		return execution.Fill{}, fmt.Errorf("%w: executed qty %q", execution.ErrExchangeIO, executedQty)
	}
	quote, err := decimal.NewFromString(quoteQty)
	if err != nil {
		return execution.Fill{}, fmt.Errorf("%w: quote qty %q", execution.ErrExchangeIO, quoteQty)
	}
	if !qty.IsPositive() {
		return execution.Fill{}, fmt.Errorf("%w: order %s not filled", execution.ErrRejected, venueID)
	}
	return execution.Fill{
		ClientID:     order.ClientID,
		VenueOrderID: venueID,
		Symbol:       order.Symbol,
		Side:         order.Side,
		Qty:          qty.InexactFloat64(),
		Price:        quote.Div(qty).InexactFloat64(),
		Time:         at.UTC(),
	}, nil
}
