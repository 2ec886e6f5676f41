package indicators

import (
	"github.com/coinpilot/coinpilot-core/internal/domain/entities"
)

// Config holds the indicator parameters for one snapshot computation.
// Defaults match the standard RSI-14 / MACD(12,26,9) / Bollinger(20,2)
// setup used by the strategy simulator.
type Config struct {
	RSIPeriod           int     `json:"rsi_period" mapstructure:"rsi_period"`
	MACDFastPeriod      int     `json:"macd_fast_period" mapstructure:"macd_fast_period"`
	MACDSlowPeriod      int     `json:"macd_slow_period" mapstructure:"macd_slow_period"`
	MACDSignalPeriod    int     `json:"macd_signal_period" mapstructure:"macd_signal_period"`
	BollingerPeriod     int     `json:"bollinger_period" mapstructure:"bollinger_period"`
	BollingerMultiplier float64 `json:"bollinger_multiplier" mapstructure:"bollinger_multiplier"`
}

// DefaultConfig returns the standard indicator parameters
func DefaultConfig() Config {
	return Config{
		RSIPeriod:           14,
		MACDFastPeriod:      12,
		MACDSlowPeriod:      26,
		MACDSignalPeriod:    9,
		BollingerPeriod:     20,
		BollingerMultiplier: 2.0,
	}
}

// Snapshot is the set of indicator values at one simulation step
type Snapshot struct {
	RSI            float64 `json:"rsi"`
	MACD           float64 `json:"macd"`
	MACDSignal     float64 `json:"macd_signal"`
	MACDHistogram  float64 `json:"macd_histogram"`
	BollingerUpper float64 `json:"bollinger_upper"`
	BollingerMid   float64 `json:"bollinger_mid"`
	BollingerLower float64 `json:"bollinger_lower"`
	Close          float64 `json:"close"`
}

// Compute evaluates all configured indicators over the candle window.
// The last candle in the window is the current step.
func Compute(candles []entities.Candle, cfg Config) Snapshot {
	snap := Snapshot{}
	if len(candles) == 0 {
		return snap
	}
	snap.Close = candles[len(candles)-1].Close

	snap.RSI = NewRSI(cfg.RSIPeriod).Latest(candles)
	snap.MACD, snap.MACDSignal, snap.MACDHistogram =
		NewMACD(cfg.MACDFastPeriod, cfg.MACDSlowPeriod, cfg.MACDSignalPeriod).Latest(candles)
	snap.BollingerUpper, snap.BollingerMid, snap.BollingerLower =
		NewBollingerBands(cfg.BollingerPeriod, cfg.BollingerMultiplier).Latest(candles)

	return snap
}
