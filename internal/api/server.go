// Package api serves the bot's status, positions and trades over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tradebot-go/internal/engine"
	"tradebot-go/internal/metrics"
	"tradebot-go/internal/portfolio"
	"tradebot-go/internal/risk"
	"tradebot-go/internal/signal"
)

// TradeSource lists persisted trades, newest last.
type TradeSource interface {
	Trades(ctx context.Context, limit int) ([]portfolio.Trade, error)
}

// Config describes the server dependencies.
type Config struct {
	Addr   string
	Mode   string
	Engine *engine.Engine
	Trades TradeSource
	Log    zerolog.Logger
}

// Server exposes the HTTP endpoints.
type Server struct {
	cfg    Config
	router *gin.Engine
}

// SymbolStatus is the per-symbol part of /status.
type SymbolStatus struct {
	Symbol     string              `json:"symbol"`
	LastPrice  float64             `json:"last_price"`
	LastSignal signal.Signal       `json:"last_signal"`
	Risk       risk.State          `json:"risk"`
	Position   *portfolio.Position `json:"position,omitempty"`
}

// Status is the body of /status.
type Status struct {
	Mode       string            `json:"mode"`
	Halted     bool              `json:"halted"`
	HaltReason string            `json:"halt_reason,omitempty"`
	Summary    portfolio.Summary `json:"summary"`
	Symbols    []SymbolStatus    `json:"symbols"`
	Time       time.Time         `json:"time"`
}

// NewServer builds the router.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("api server requires an engine")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	s := &Server{cfg: cfg, router: router}
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", s.handleStatus)
	router.GET("/positions", s.handlePositions)
	router.GET("/trades", s.handleTrades)
	router.POST("/symbols/:symbol/emergency-stop", s.handleEmergencyStop)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	return s, nil
}

// Handler returns the router for embedding or tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.cfg.Log.Debug().Str("method", c.Request.Method).Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).Dur("took", time.Since(start)).Msg("http")
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	eng := s.cfg.Engine
	st := Status{
		Mode:       s.cfg.Mode,
		Halted:     eng.Halt().Engaged(),
		HaltReason: eng.Halt().Reason(),
		Summary:    eng.Ledger().Summary(eng.Marks()),
		Time:       time.Now().UTC(),
	}
	for _, t := range eng.Traders() {
		ss := SymbolStatus{
			Symbol:     t.Symbol(),
			LastPrice:  t.LastPrice(),
			LastSignal: t.LastSignal(),
			Risk:       t.RiskState(),
		}
		if pos, ok := eng.Ledger().Position(t.Symbol()); ok {
			ss.Position = &pos
		}
		st.Symbols = append(st.Symbols, ss)
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.cfg.Engine.Ledger().Positions()})
}

func (s *Server) handleTrades(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	if s.cfg.Trades != nil {
		trades, err := s.cfg.Trades.Trades(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"trades": trades})
		return
	}
	trades := s.cfg.Engine.Ledger().Trades()
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

type emergencyStopRequest struct {
	On *bool `json:"on" binding:"required"`
}

func (s *Server) handleEmergencyStop(c *gin.Context) {
	t, ok := s.cfg.Engine.Trader(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}
	var req emergencyStopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := t.SetEmergencyStop(c.Request.Context(), *req.On); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.cfg.Log.Warn().Str("sym", t.Symbol()).Bool("on", *req.On).Msg("emergency stop toggled")
	c.JSON(http.StatusOK, gin.H{"symbol": t.Symbol(), "emergency_stop": *req.On})
}
