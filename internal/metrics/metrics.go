package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	BarsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bars_total", Help: "Closed bars processed"},
		[]string{"symbol"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Fused signals by direction"},
		[]string{"symbol", "direction"},
	)
	RiskDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "risk_denials_total", Help: "Signals denied by the risk gate"},
		[]string{"symbol", "reason"},
	)
	ForcedExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "forced_exits_total", Help: "Stop-loss and take-profit closes"},
		[]string{"symbol", "kind"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	OrderRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_retries_total", Help: "Order submissions retried after exchange errors"},
		[]string{"symbol"},
	)
	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "equity", Help: "Marked-to-market account equity"},
	)
	DailyPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "daily_pnl", Help: "Realized PnL of the current UTC day"},
		[]string{"symbol"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "open_positions", Help: "Number of open positions"},
	)
	PersistFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "persist_failures_total", Help: "Failed writes to the state store"},
		[]string{"symbol", "op"},
	)
)

func init() {
	prometheus.MustRegister(BarsTotal, SignalsTotal, RiskDenialsTotal, ForcedExitsTotal,
		OrdersTotal, OrderRetriesTotal, Equity, DailyPnL, OpenPositions, PersistFailuresTotal)
}

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// Serve exposes /metrics on addr in the background. Listen failures are logged.
func Serve(addr string, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	return srv
}
