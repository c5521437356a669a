// Package signal combines independent indicator voters into a directional
// trading signal by majority rule.
package signal

import (
	"fmt"
	"strings"

	"quadbot/internal/domain"
	"quadbot/internal/indicators"
)

// Voter names, stable identifiers used in journals and notifications.
const (
	VoterTrend      = "trend"
	VoterOscillator = "oscillator"
	VoterBand       = "band"
	VoterMTF        = "mtf"
)

// Vote is a single voter's opinion on the latest indicator row.
type Vote struct {
	Name   string
	Value  domain.Direction
	Reason string
}

// CombinedSignal is the majority-rule aggregation of all voters. Combined is
// nonzero only when at least two voters agree and none oppose.
type CombinedSignal struct {
	Votes      []Vote
	BuyCount   int
	SellCount  int
	Combined   domain.Direction
	Confidence int
}

// Detail renders the votes as a compact human-readable summary.
func (s CombinedSignal) Detail() string {
	parts := make([]string, 0, len(s.Votes))
	for _, v := range s.Votes {
		parts = append(parts, fmt.Sprintf("%s=%+d(%s)", v.Name, int(v.Value), v.Reason))
	}
	return strings.Join(parts, " ")
}

// Snapshot converts the combined signal into the persisted form.
func (s CombinedSignal) Snapshot() domain.SignalSnapshot {
	snap := domain.SignalSnapshot{
		Combined:   int(s.Combined),
		Confidence: s.Confidence,
	}
	for _, v := range s.Votes {
		switch v.Name {
		case VoterTrend:
			snap.Trend = int(v.Value)
		case VoterOscillator:
			snap.Oscillator = int(v.Value)
		case VoterBand:
			snap.Band = int(v.Value)
		case VoterMTF:
			snap.MTF = int(v.Value)
		}
	}
	return snap
}

// Thresholds configures the voters. Zero values are replaced by defaults in
// NewEngine.
type Thresholds struct {
	ADXMin    float64 // Minimum trend strength for the trend voter
	ADXStrong float64 // Strength above which an aligned trend votes without a cross

	RSIOversold   float64
	RSIOverbought float64
	RSINeutralLo  float64
	RSINeutralHi  float64

	BandLowPct    float64 // %B below which price touches the lower band
	BandHighPct   float64 // %B above which price touches the upper band
	BandMinVolume float64 // Volume ratio gate for band-extreme votes

	MTFRSILongMax  float64
	MTFRSIShortMin float64
}

// DefaultThresholds returns the standard voter configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ADXMin:         20.0,
		ADXStrong:      25.0,
		RSIOversold:    35.0,
		RSIOverbought:  65.0,
		RSINeutralLo:   40.0,
		RSINeutralHi:   60.0,
		BandLowPct:     0.05,
		BandHighPct:    0.95,
		BandMinVolume:  1.0,
		MTFRSILongMax:  55.0,
		MTFRSIShortMin: 45.0,
	}
}

// Engine evaluates the four voters against indicator rows. It is stateless;
// the same engine serves live trading and backtesting.
type Engine struct {
	th Thresholds
}

// NewEngine creates a signal engine, filling zero thresholds with defaults.
func NewEngine(th Thresholds) *Engine {
	def := DefaultThresholds()
	if th.ADXMin == 0 {
		th.ADXMin = def.ADXMin
	}
	if th.ADXStrong == 0 {
		th.ADXStrong = def.ADXStrong
	}
	if th.RSIOversold == 0 {
		th.RSIOversold = def.RSIOversold
	}
	if th.RSIOverbought == 0 {
		th.RSIOverbought = def.RSIOverbought
	}
	if th.RSINeutralLo == 0 {
		th.RSINeutralLo = def.RSINeutralLo
	}
	if th.RSINeutralHi == 0 {
		th.RSINeutralHi = def.RSINeutralHi
	}
	if th.BandLowPct == 0 {
		th.BandLowPct = def.BandLowPct
	}
	if th.BandHighPct == 0 {
		th.BandHighPct = def.BandHighPct
	}
	if th.BandMinVolume == 0 {
		th.BandMinVolume = def.BandMinVolume
	}
	if th.MTFRSILongMax == 0 {
		th.MTFRSILongMax = def.MTFRSILongMax
	}
	if th.MTFRSIShortMin == 0 {
		th.MTFRSIShortMin = def.MTFRSIShortMin
	}
	return &Engine{th: th}
}

// Evaluate runs all voters against the latest row of the indicator history
// and combines their votes. Histories shorter than the indicator warm-up
// produce a neutral signal with every voter reporting insufficient data.
func (e *Engine) Evaluate(rows []indicators.Row) CombinedSignal {
	if len(rows) < indicators.MinCandles {
		votes := make([]Vote, 0, 4)
		for _, name := range []string{VoterTrend, VoterOscillator, VoterBand, VoterMTF} {
			votes = append(votes, Vote{Name: name, Value: domain.Neutral, Reason: "insufficient data"})
		}
		return CombinedSignal{Votes: votes}
	}

	row := rows[len(rows)-1]
	votes := []Vote{
		e.voteTrend(row),
		e.voteOscillator(row),
		e.voteBand(row),
		e.voteMTF(row),
	}

	sig := CombinedSignal{Votes: votes}
	for _, v := range votes {
		switch v.Value {
		case domain.Long:
			sig.BuyCount++
		case domain.Short:
			sig.SellCount++
		}
	}
	if sig.BuyCount >= 2 && sig.SellCount == 0 {
		sig.Combined = domain.Long
	} else if sig.SellCount >= 2 && sig.BuyCount == 0 {
		sig.Combined = domain.Short
	}
	if sig.BuyCount > sig.SellCount {
		sig.Confidence = sig.BuyCount
	} else {
		sig.Confidence = sig.SellCount
	}
	return sig
}
