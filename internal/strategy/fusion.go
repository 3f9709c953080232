package strategy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tradebot-go/internal/indicator"
	"tradebot-go/internal/signal"
)

// ErrNoVoters is returned when a fuser is built without voters.
var ErrNoVoters = errors.New("strategy needs at least one voter")

// Fuser combines voter opinions into one signal with a must-agree threshold.
type Fuser struct {
	voters   []Voter
	minAgree int
}

// NewFuser builds a fuser. minAgree <= 0 selects a strict majority of voters.
func NewFuser(voters []Voter, minAgree int) (*Fuser, error) {
	if len(voters) == 0 {
		return nil, ErrNoVoters
	}
	if minAgree <= 0 {
		minAgree = len(voters)/2 + 1
	}
	if minAgree > len(voters) {
		return nil, fmt.Errorf("min_agree %d exceeds %d voters", minAgree, len(voters))
	}
	return &Fuser{voters: voters, minAgree: minAgree}, nil
}

// MinAgree returns the effective threshold.
func (f *Fuser) MinAgree() int { return f.minAgree }

// Voters returns the configured voters in order.
func (f *Fuser) Voters() []Voter { return f.voters }

// Fuse polls every voter. Equal buy and sell counts resolve to HOLD, and the
// leading side must reach minAgree votes to be emitted.
func (f *Fuser) Fuse(symbol string, ts time.Time, prev *indicator.Snapshot, cur indicator.Snapshot) signal.Signal {
	votes := make([]signal.Vote, 0, len(f.voters))
	buys, sells := 0, 0
	for _, v := range f.voters {
		vote := v.Vote(prev, cur)
		switch vote.Direction {
		case signal.Buy:
			buys++
		case signal.Sell:
			sells++
		}
		votes = append(votes, vote)
	}

	total := len(f.voters)
	out := signal.Signal{Symbol: symbol, Direction: signal.Hold, Total: total, Votes: votes, Time: ts}
	var dir signal.Direction
	var agreeing int
	switch {
	case buys > sells:
		dir, agreeing = signal.Buy, buys
	case sells > buys:
		dir, agreeing = signal.Sell, sells
	default:
		out.Agreeing = buys
		out.Strength = float64(buys) / float64(total)
		out.Reason = fmt.Sprintf("HOLD (tie: buy=%d sell=%d of %d)", buys, sells, total)
		return out
	}
	out.Agreeing = agreeing
	out.Strength = float64(agreeing) / float64(total)
	if agreeing < f.minAgree {
		out.Reason = fmt.Sprintf("HOLD (insufficient agreement: buy=%d sell=%d need %d)", buys, sells, f.minAgree)
		return out
	}
	out.Direction = dir
	out.Reason = fmt.Sprintf("%s %d/%d: %s", dir, agreeing, total, details(votes, dir))
	return out
}

func details(votes []signal.Vote, dir signal.Direction) string {
	parts := make([]string, 0, len(votes))
	for _, v := range votes {
		if v.Direction != dir {
			continue
		}
		if v.Detail != "" {
			parts = append(parts, v.Detail)
		} else {
			parts = append(parts, v.Indicator)
		}
	}
	return strings.Join(parts, ", ")
}
