package solana

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"tradebot-go/internal/execution"
)

type fakeSwapper struct {
	quote      *Quote
	quoteErr   error
	swapErr    error
	sig        solana.Signature
	confirmErr error
	lastIn     string
	lastAmt    uint64
	swaps      int
	confirms   int
}

func (f *fakeSwapper) GetQuote(_ context.Context, in, _ string, amount uint64, _ int) (*Quote, error) {
	f.lastIn, f.lastAmt = in, amount
	return f.quote, f.quoteErr
}

func (f *fakeSwapper) BuildAndSendSwap(context.Context, *Quote) (solana.Signature, error) {
	f.swaps++
	if f.swapErr != nil {
		return f.sig, f.swapErr
	}
	return solana.Signature{1, 2, 3}, nil
}

func (f *fakeSwapper) WaitConfirmed(context.Context, solana.Signature) error {
	f.confirms++
	return f.confirmErr
}

var solPair = Pair{Symbol: "SOL/USDC", BaseMint: "SOLMINT", QuoteMint: "USDCMINT", BaseDecimals: 9, QuoteDecimals: 6}

func buyOrder() execution.Order {
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	return execution.Order{ClientID: execution.ClientOrderID("SOLUSDC", execution.Buy, at, execution.ActionOpen),
		Symbol: "SOLUSDC", Side: execution.Buy, Action: execution.ActionOpen, Qty: 2, Price: 150, Time: at}
}

func TestVenueBuySpendsQuoteToken(t *testing.T) {
	sw := &fakeSwapper{quote: &Quote{InAmount: "300000000", OutAmount: "1990000000"}}
	v, err := NewJupiterVenue(sw, []Pair{solPair}, 100, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewJupiterVenue: %v", err)
	}
	fill, err := v.CreateOrder(context.Background(), buyOrder())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if sw.lastIn != "USDCMINT" || sw.lastAmt != 300_000_000 {
		t.Fatalf("expected 300 USDC in, got %s %d", sw.lastIn, sw.lastAmt)
	}
	if fill.Qty != 1.99 {
		t.Fatalf("expected 1.99 SOL out, got %v", fill.Qty)
	}
	if fill.Price < 150.75 || fill.Price > 150.76 {
		t.Fatalf("unexpected average price %v", fill.Price)
	}
	found, ok, err := v.LookupOrder(context.Background(), "SOLUSDC", buyOrder().ClientID)
	if err != nil || !ok || found.VenueOrderID != fill.VenueOrderID {
		t.Fatalf("journal lookup failed: %+v %v %v", found, ok, err)
	}
}

func TestVenueSellSpendsBaseToken(t *testing.T) {
	sw := &fakeSwapper{quote: &Quote{InAmount: "500000000", OutAmount: "75000000"}}
	v, _ := NewJupiterVenue(sw, []Pair{solPair}, 100, zerolog.Nop())
	order := buyOrder()
	order.Side, order.Qty = execution.Sell, 0.5
	fill, err := v.CreateOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if sw.lastIn != "SOLMINT" || sw.lastAmt != 500_000_000 {
		t.Fatalf("expected 0.5 SOL in, got %s %d", sw.lastIn, sw.lastAmt)
	}
	if fill.Qty != 0.5 || fill.Price != 150 {
		t.Fatalf("unexpected fill %+v", fill)
	}
}

func TestVenueClassifiesErrors(t *testing.T) {
	v, _ := NewJupiterVenue(&fakeSwapper{quoteErr: &StatusError{Op: "quote", Code: http.StatusBadRequest}}, []Pair{solPair}, 100, zerolog.Nop())
	if _, err := v.CreateOrder(context.Background(), buyOrder()); !errors.Is(err, execution.ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}

	v, _ = NewJupiterVenue(&fakeSwapper{quoteErr: &StatusError{Op: "quote", Code: http.StatusBadGateway}}, []Pair{solPair}, 100, zerolog.Nop())
	if _, err := v.CreateOrder(context.Background(), buyOrder()); !errors.Is(err, execution.ErrExchangeIO) {
		t.Fatalf("expected transient error, got %v", err)
	}

	sw := &fakeSwapper{quote: &Quote{InAmount: "1", OutAmount: "1"}, swapErr: errors.New("rpc timeout")}
	v, _ = NewJupiterVenue(sw, []Pair{solPair}, 100, zerolog.Nop())
	if _, err := v.CreateOrder(context.Background(), buyOrder()); !errors.Is(err, execution.ErrExchangeIO) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if _, ok, _ := v.LookupOrder(context.Background(), "SOLUSDC", buyOrder().ClientID); ok {
		t.Fatalf("failed swaps must not be journaled")
	}

	order := buyOrder()
	order.Symbol = "BTCUSDT"
	if _, err := v.CreateOrder(context.Background(), order); !errors.Is(err, execution.ErrRejected) {
		t.Fatalf("expected rejection for unknown pair, got %v", err)
	}
}

func TestLiveExecutorOverVenue(t *testing.T) {
	sw := &fakeSwapper{quote: &Quote{InAmount: "300000000", OutAmount: "2000000000"}}
	v, _ := NewJupiterVenue(sw, []Pair{solPair}, 100, zerolog.Nop())
	exec := execution.NewLiveExecutor(v, 2, time.Millisecond, 2*time.Millisecond, zerolog.Nop())
	fill, err := exec.Execute(context.Background(), buyOrder())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fill.Qty != 2 || sw.swaps != 1 {
		t.Fatalf("unexpected fill %+v after %d swaps", fill, sw.swaps)
	}
}

func TestVenueResolvesUnconfirmedSwap(t *testing.T) {
	sw := &fakeSwapper{quote: &Quote{InAmount: "300000000", OutAmount: "2000000000"},
		swapErr: context.DeadlineExceeded, sig: solana.Signature{9}}
	v, _ := NewJupiterVenue(sw, []Pair{solPair}, 100, zerolog.Nop())
	if _, err := v.CreateOrder(context.Background(), buyOrder()); !errors.Is(err, execution.ErrExchangeIO) {
		t.Fatalf("expected transient error, got %v", err)
	}

	sw.confirmErr = context.DeadlineExceeded
	if _, _, err := v.LookupOrder(context.Background(), "SOLUSDC", buyOrder().ClientID); !errors.Is(err, execution.ErrExchangeIO) {
		t.Fatalf("expected unresolved lookup to be transient, got %v", err)
	}

	sw.confirmErr = nil
	fill, ok, err := v.LookupOrder(context.Background(), "SOLUSDC", buyOrder().ClientID)
	if err != nil || !ok {
		t.Fatalf("expected confirmed swap to be found: %v %v", ok, err)
	}
	if fill.Qty != 2 || fill.VenueOrderID != (solana.Signature{9}).String() {
		t.Fatalf("unexpected fill %+v", fill)
	}
}

func TestLiveExecutorDoesNotResendConfirmedSwap(t *testing.T) {
	sw := &fakeSwapper{quote: &Quote{InAmount: "300000000", OutAmount: "2000000000"},
		swapErr: context.DeadlineExceeded, sig: solana.Signature{7}}
	v, _ := NewJupiterVenue(sw, []Pair{solPair}, 100, zerolog.Nop())
	exec := execution.NewLiveExecutor(v, 2, time.Millisecond, 2*time.Millisecond, zerolog.Nop())
	fill, err := exec.Execute(context.Background(), buyOrder())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if sw.swaps != 1 || sw.confirms != 1 || fill.Qty != 2 {
		t.Fatalf("expected one swap resolved by lookup, got %d swaps %d confirms %+v", sw.swaps, sw.confirms, fill)
	}
}

func TestVenueForgetsFailedSwap(t *testing.T) {
	sw := &fakeSwapper{quote: &Quote{InAmount: "300000000", OutAmount: "2000000000"},
		swapErr: context.DeadlineExceeded, sig: solana.Signature{5}, confirmErr: ErrTxFailed}
	v, _ := NewJupiterVenue(sw, []Pair{solPair}, 100, zerolog.Nop())
	_, _ = v.CreateOrder(context.Background(), buyOrder())
	if _, ok, err := v.LookupOrder(context.Background(), "SOLUSDC", buyOrder().ClientID); ok || err != nil {
		t.Fatalf("failed swap must read as absent, got %v %v", ok, err)
	}

	sw.swapErr = ErrTxFailed
	if _, err := v.CreateOrder(context.Background(), buyOrder()); !errors.Is(err, execution.ErrRejected) {
		t.Fatalf("expected on-chain failure to reject, got %v", err)
	}
}
