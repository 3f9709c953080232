package backtest

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderEquityChart writes a standalone HTML page plotting the equity curve
// with trade exits marked.
func RenderEquityChart(rep Report, w io.Writer) error {
	if len(rep.Equity) == 0 {
		return errors.New("report has no equity curve")
	}
	xAxis := make([]string, len(rep.Equity))
	equity := make([]opts.LineData, len(rep.Equity))
	exits := make([]opts.LineData, len(rep.Equity))
	closedAt := make(map[time.Time]float64, len(rep.Trades))
	for _, t := range rep.Trades {
		closedAt[t.ClosedAt] += t.PnL
	}
	for i, p := range rep.Equity {
		xAxis[i] = p.Time.UTC().Format("2006-01-02 15:04")
		equity[i] = opts.LineData{Value: round(p.Equity, 2)}
		if _, ok := closedAt[p.Time]; ok {
			exits[i] = opts.LineData{Value: round(p.Equity, 2)}
		} else {
			exits[i] = opts.LineData{Value: nil}
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Backtest " + rep.Symbol, Width: "1200px", Height: "520px"}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("%s equity", rep.Symbol),
			Subtitle: fmt.Sprintf("return %.2f%% | trades %d | win rate %.1f%% | max dd %.2f%% | sharpe %.2f",
				rep.TotalReturnPercent, rep.TradeCount, rep.WinRate*100, rep.MaxDrawdownPercent, rep.Sharpe),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	line.SetXAxis(xAxis).
		AddSeries("Equity", equity, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})).
		AddSeries("Exits", exits, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	return line.Render(w)
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
