package backtest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"quadbot/internal/indicators"
	"quadbot/internal/signal"
)

// ParamsFile is the YAML layout for a backtest run. Zero-valued indicator
// and threshold fields fall back to the engine defaults, so a file only
// needs the knobs it changes.
type ParamsFile struct {
	Symbol        string  `yaml:"symbol"`
	Interval      string  `yaml:"interval"`
	Days          int     `yaml:"days"`
	InitialEquity float64 `yaml:"initial_equity"`
	Leverage      int     `yaml:"leverage"`

	PositionSizePct         float64 `yaml:"position_size_pct"`
	HighConfidenceSizePct   float64 `yaml:"high_confidence_size_pct"`
	HighConfidenceThreshold int     `yaml:"high_confidence_threshold"`
	MinEntryConfidence      int     `yaml:"min_entry_confidence"`

	StopLossPct         float64 `yaml:"stop_loss_pct"`
	TakeProfitPct       float64 `yaml:"take_profit_pct"`
	EnableTrailing      bool    `yaml:"enable_trailing"`
	TrailingActivatePct float64 `yaml:"trailing_activate_pct"`
	TrailingCallbackPct float64 `yaml:"trailing_callback_pct"`
	TimeExitHours       int     `yaml:"time_exit_hours"`
	TakerFeeRate        float64 `yaml:"taker_fee_rate"`

	Indicators indicatorParams `yaml:"indicators"`
	Thresholds thresholdParams `yaml:"thresholds"`
}

type indicatorParams struct {
	EMAFast         int     `yaml:"ema_fast"`
	EMAMid          int     `yaml:"ema_mid"`
	EMASlow         int     `yaml:"ema_slow"`
	EMAVerySlow     int     `yaml:"ema_very_slow"`
	RSIPeriod       int     `yaml:"rsi_period"`
	ADXPeriod       int     `yaml:"adx_period"`
	BBPeriod        int     `yaml:"bb_period"`
	BBStdDev        float64 `yaml:"bb_std_dev"`
	PullbackDistPct float64 `yaml:"pullback_dist_pct"`
}

type thresholdParams struct {
	ADXMin        float64 `yaml:"adx_min"`
	ADXStrong     float64 `yaml:"adx_strong"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	BandLowPct    float64 `yaml:"band_low_pct"`
	BandHighPct   float64 `yaml:"band_high_pct"`
}

// LoadParams reads a backtest parameter file and applies defaults for
// everything left unset.
func LoadParams(path string) (*ParamsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading backtest params %s: %w", path, err)
	}
	p := &ParamsFile{
		Symbol:                  "XRPUSDT",
		Interval:                "1h",
		Days:                    90,
		InitialEquity:           10000,
		Leverage:                1,
		PositionSizePct:         5.0,
		HighConfidenceSizePct:   8.0,
		HighConfidenceThreshold: 3,
		MinEntryConfidence:      3,
		StopLossPct:             2.0,
		TakeProfitPct:           4.0,
		EnableTrailing:          true,
		TrailingActivatePct:     3.5,
		TrailingCallbackPct:     2.0,
		TimeExitHours:           48,
		TakerFeeRate:            0.00055,
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing backtest params %s: %w", path, err)
	}
	return p, nil
}

// EngineConfig converts the file into the backtest driver configuration.
func (p *ParamsFile) EngineConfig() Config {
	return Config{
		Symbol:                  p.Symbol,
		InitialEquity:           p.InitialEquity,
		Leverage:                p.Leverage,
		PositionSizePct:         p.PositionSizePct,
		HighConfidenceSizePct:   p.HighConfidenceSizePct,
		HighConfidenceThreshold: p.HighConfidenceThreshold,
		MinEntryConfidence:      p.MinEntryConfidence,
		StopLossPct:             p.StopLossPct,
		TakeProfitPct:           p.TakeProfitPct,
		EnableTrailing:          p.EnableTrailing,
		TrailingActivatePct:     p.TrailingActivatePct,
		TrailingCallbackPct:     p.TrailingCallbackPct,
		TimeExitHours:           p.TimeExitHours,
		TakerFeeRate:            p.TakerFeeRate,
	}
}

// IndicatorParams converts the file's indicator section.
func (p *ParamsFile) IndicatorParams() indicators.Params {
	return indicators.Params{
		EMAFast:         p.Indicators.EMAFast,
		EMAMid:          p.Indicators.EMAMid,
		EMASlow:         p.Indicators.EMASlow,
		EMAVerySlow:     p.Indicators.EMAVerySlow,
		RSIPeriod:       p.Indicators.RSIPeriod,
		ADXPeriod:       p.Indicators.ADXPeriod,
		BBPeriod:        p.Indicators.BBPeriod,
		BBStdDev:        p.Indicators.BBStdDev,
		PullbackDistPct: p.Indicators.PullbackDistPct,
	}
}

// SignalThresholds converts the file's threshold section.
func (p *ParamsFile) SignalThresholds() signal.Thresholds {
	return signal.Thresholds{
		ADXMin:        p.Thresholds.ADXMin,
		ADXStrong:     p.Thresholds.ADXStrong,
		RSIOversold:   p.Thresholds.RSIOversold,
		RSIOverbought: p.Thresholds.RSIOverbought,
		BandLowPct:    p.Thresholds.BandLowPct,
		BandHighPct:   p.Thresholds.BandHighPct,
	}
}
