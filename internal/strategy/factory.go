// Package strategy turns closed bars into fused BUY/SELL/HOLD signals.
package strategy

import (
	"errors"
	"fmt"
	"strings"

	"tradebot-go/internal/indicator"
	"tradebot-go/internal/signal"
)

// Strategy defines behaviour shared by strategy implementations used by the bot.
type Strategy interface {
	// OnBar ingests a closed bar. It returns a HOLD signal wrapped with
	// indicator.ErrInsufficientData while warming up.
	OnBar(bar signal.Bar) (signal.Signal, error)
	Name() string
	Warmup() int
	Snapshot() (indicator.Snapshot, bool)
}

// Params expresses tunable knobs required by strategy constructors.
type Params struct {
	Indicators        indicator.Params
	Voters            []string
	MinAgree          int
	RSIOversold       float64
	RSIOverbought     float64
	MomentumThreshold float64
	MomentumLookback  int
}

// DefaultParams returns the stock fusion settings.
func DefaultParams() Params {
	return Params{
		Indicators:        indicator.DefaultParams(),
		Voters:            DefaultVoters(),
		RSIOversold:       30,
		RSIOverbought:     70,
		MomentumThreshold: 1,
		MomentumLookback:  1,
	}
}

// DefaultVoters is the voter set of the fusion mode.
func DefaultVoters() []string {
	return []string{"rsi", "macd", "bollinger", "ma_cross", "momentum"}
}

// ErrUnknownMode is returned by Build for unsupported modes.
var ErrUnknownMode = errors.New("unknown strategy mode")

// Build returns a strategy implementation matching the configured mode.
func Build(mode, symbol string, params Params) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "fusion", "advanced":
		names := params.Voters
		if len(names) == 0 {
			names = DefaultVoters()
		}
		voters, err := buildVoters(names, params)
		if err != nil {
			return nil, err
		}
		return newIndicatorStrategy("fusion", symbol, params, voters, params.MinAgree)
	case "sma_cross", "simple":
		return newIndicatorStrategy("sma_cross", symbol, params, []Voter{MATrendVoter{}}, 1)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

func buildVoters(names []string, params Params) ([]Voter, error) {
	out := make([]Voter, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if seen[name] {
			return nil, fmt.Errorf("duplicate voter %q", name)
		}
		seen[name] = true
		switch name {
		case "rsi":
			if params.RSIOversold >= params.RSIOverbought {
				return nil, fmt.Errorf("rsi_oversold %.2f must be below rsi_overbought %.2f",
					params.RSIOversold, params.RSIOverbought)
			}
			out = append(out, RSIVoter{Oversold: params.RSIOversold, Overbought: params.RSIOverbought})
		case "macd":
			out = append(out, MACDVoter{})
		case "bollinger", "bb":
			out = append(out, BollingerVoter{})
		case "ma_cross", "ema_cross":
			out = append(out, MACrossVoter{})
		case "ma_trend", "sma_trend":
			out = append(out, MATrendVoter{})
		case "momentum":
			out = append(out, NewMomentum(params.MomentumThreshold, params.MomentumLookback))
		default:
			return nil, fmt.Errorf("unknown voter %q", raw)
		}
	}
	return out, nil
}

// IndicatorStrategy feeds bars through an indicator engine and fuses voter opinions.
type IndicatorStrategy struct {
	name   string
	symbol string
	engine *indicator.Engine
	fuser  *Fuser
}

func newIndicatorStrategy(name, symbol string, params Params, voters []Voter, minAgree int) (*IndicatorStrategy, error) {
	eng, err := indicator.NewEngine(params.Indicators)
	if err != nil {
		return nil, err
	}
	fuser, err := NewFuser(voters, minAgree)
	if err != nil {
		return nil, err
	}
	return &IndicatorStrategy{name: name, symbol: symbol, engine: eng, fuser: fuser}, nil
}

// Name returns the configured identifier for logging.
func (s *IndicatorStrategy) Name() string { return s.name }

// Warmup is the number of bars consumed before the first signal.
func (s *IndicatorStrategy) Warmup() int { return s.engine.Warmup() }

// Snapshot returns the latest indicator values.
func (s *IndicatorStrategy) Snapshot() (indicator.Snapshot, bool) { return s.engine.Current() }

// Fuser exposes the voting configuration.
func (s *IndicatorStrategy) Fuser() *Fuser { return s.fuser }

// OnBar updates indicators and returns the fused signal for the bar.
func (s *IndicatorStrategy) OnBar(bar signal.Bar) (signal.Signal, error) {
	snap, err := s.engine.Update(bar)
	if err != nil {
		if errors.Is(err, indicator.ErrInsufficientData) {
			s.observe(bar)
			return signal.HoldSignal(s.symbol, bar.Time, "insufficient data"), err
		}
		return signal.HoldSignal(s.symbol, bar.Time, err.Error()), err
	}
	s.observe(bar)
	var prev *indicator.Snapshot
	if p, ok := s.engine.Previous(); ok {
		prev = &p
	}
	return s.fuser.Fuse(s.symbol, bar.Time, prev, snap), nil
}

func (s *IndicatorStrategy) observe(bar signal.Bar) {
	for _, v := range s.fuser.voters {
		if o, ok := v.(Observer); ok {
			o.Observe(bar)
		}
	}
}
