package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"tradebot-go/internal/portfolio"
)

// EquityPoint is the mark-to-market equity after a bar.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Report summarizes a backtest.
type Report struct {
	Symbol             string            `json:"symbol"`
	Bars               int               `json:"bars"`
	InitialBalance     float64           `json:"initial_balance"`
	FinalBalance       float64           `json:"final_balance"`
	TotalReturn        float64           `json:"total_return"`
	TotalReturnPercent float64           `json:"total_return_percent"`
	TradeCount         int               `json:"trade_count"`
	Wins               int               `json:"wins"`
	Losses             int               `json:"losses"`
	WinRate            float64           `json:"win_rate"`
	AvgWin             float64           `json:"avg_win"`
	AvgLoss            float64           `json:"avg_loss"`
	MaxDrawdown        float64           `json:"max_drawdown"`
	MaxDrawdownPercent float64           `json:"max_drawdown_percent"`
	Sharpe             float64           `json:"sharpe"`
	Trades             []portfolio.Trade `json:"trades"`
	Equity             []EquityPoint     `json:"equity"`
}

func buildReport(symbol string, bars int, initial, final float64, trades []portfolio.Trade, equity []EquityPoint, annual float64) Report {
	rep := Report{
		Symbol:         symbol,
		Bars:           bars,
		InitialBalance: initial,
		FinalBalance:   final,
		TotalReturn:    final - initial,
		TradeCount:     len(trades),
		Trades:         trades,
		Equity:         equity,
	}
	rep.TotalReturnPercent = rep.TotalReturn / initial * 100

	var sumWin, sumLoss float64
	for _, t := range trades {
		if t.PnL > 0 {
			rep.Wins++
			sumWin += t.PnL
		} else {
			rep.Losses++
			sumLoss += t.PnL
		}
	}
	if rep.TradeCount > 0 {
		rep.WinRate = float64(rep.Wins) / float64(rep.TradeCount)
	}
	if rep.Wins > 0 {
		rep.AvgWin = sumWin / float64(rep.Wins)
	}
	if rep.Losses > 0 {
		rep.AvgLoss = sumLoss / float64(rep.Losses)
	}

	values := make([]float64, len(equity))
	for i, p := range equity {
		values[i] = p.Equity
	}
	rep.MaxDrawdown, rep.MaxDrawdownPercent = maxDrawdown(values)
	rep.Sharpe = sharpe(values, annual)
	return rep
}

// maxDrawdown returns the largest peak-to-trough decline, absolute and as a
// percent of the peak.
func maxDrawdown(equity []float64) (abs, pct float64) {
	if len(equity) == 0 {
		return 0, 0
	}
	peak := equity[0]
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		dd := peak - v
		if dd > abs {
			abs = dd
		}
		if peak > 0 && dd/peak*100 > pct {
			pct = dd / peak * 100
		}
	}
	return abs, pct
}

// sharpe is mean/stddev of bar-to-bar returns scaled by sqrt(annual). It is 0
// when the returns do not vary.
func sharpe(equity []float64, annual float64) float64 {
	if len(equity) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] <= 0 {
			continue
		}
		returns = append(returns, equity[i]/equity[i-1]-1)
	}
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var ss float64
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	std := math.Sqrt(ss / float64(len(returns)-1))
	if std < 1e-12 {
		return 0
	}
	if annual <= 0 {
		annual = 1
	}
	return mean / std * math.Sqrt(annual)
}

// String renders the headline numbers for terminals.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "symbol:        %s (%d bars)\n", r.Symbol, r.Bars)
	fmt.Fprintf(&b, "balance:       %.2f -> %.2f\n", r.InitialBalance, r.FinalBalance)
	fmt.Fprintf(&b, "return:        %.2f (%.2f%%)\n", r.TotalReturn, r.TotalReturnPercent)
	fmt.Fprintf(&b, "trades:        %d (wins %d, losses %d, win rate %.1f%%)\n", r.TradeCount, r.Wins, r.Losses, r.WinRate*100)
	fmt.Fprintf(&b, "avg win/loss:  %.2f / %.2f\n", r.AvgWin, r.AvgLoss)
	fmt.Fprintf(&b, "max drawdown:  %.2f (%.2f%%)\n", r.MaxDrawdown, r.MaxDrawdownPercent)
	fmt.Fprintf(&b, "sharpe:        %.3f\n", r.Sharpe)
	return b.String()
}

// WriteTradesCSV writes the report's trades with the recorder's column layout.
func WriteTradesCSV(w io.Writer, trades []portfolio.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(portfolio.CSVHeader); err != nil {
		return err
	}
	for _, t := range trades {
		if err := cw.Write(portfolio.CSVRow(t)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
