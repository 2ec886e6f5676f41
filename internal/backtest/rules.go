package backtest

import (
	"fmt"

	"github.com/coinpilot/coinpilot-core/internal/indicators"
	"github.com/coinpilot/coinpilot-core/pkg/errors"
)

// Strategy identifiers accepted by NewRule
const (
	StrategyRSIReversion       = "rsi_reversion"
	StrategyBollingerReversion = "bollinger_reversion"
	StrategyMACDMomentum       = "macd_momentum"
)

// RuleConfig is the structured description of a strategy rule.
// Thresholds not used by the selected strategy are ignored.
type RuleConfig struct {
	Strategy      string     `json:"strategy" mapstructure:"strategy"`
	RSIEnterBelow float64    `json:"rsi_enter_below" mapstructure:"rsi_enter_below"`
	RSIExitAbove  float64    `json:"rsi_exit_above" mapstructure:"rsi_exit_above"`
	Risk          RiskLimits `json:"risk" mapstructure:"risk"`
}

// DefaultRuleConfig returns the standard oversold/overbought RSI setup
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		Strategy:      StrategyRSIReversion,
		RSIEnterBelow: 30,
		RSIExitAbove:  70,
	}
}

// NewRule builds the rule described by cfg
func NewRule(cfg RuleConfig) (StrategyRule, error) {
	if cfg.Risk.StopLossPct < 0 || cfg.Risk.StopLossPct >= 1 {
		return nil, errors.ValidationError("stop loss must be in [0, 1)")
	}
	if cfg.Risk.TakeProfitPct < 0 {
		return nil, errors.ValidationError("take profit must be non-negative")
	}

	switch cfg.Strategy {
	case StrategyRSIReversion:
		if cfg.RSIEnterBelow <= 0 || cfg.RSIExitAbove <= cfg.RSIEnterBelow || cfg.RSIExitAbove > 100 {
			return nil, errors.ValidationError("RSI thresholds must satisfy 0 < enter < exit <= 100")
		}
		return &rsiReversionRule{cfg: cfg}, nil
	case StrategyBollingerReversion:
		return &bollingerReversionRule{cfg: cfg}, nil
	case StrategyMACDMomentum:
		return &macdMomentumRule{cfg: cfg}, nil
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown strategy %q", cfg.Strategy))
	}
}

// rsiReversionRule buys oversold and sells overbought
type rsiReversionRule struct {
	cfg RuleConfig
}

func (r *rsiReversionRule) ID() string { return StrategyRSIReversion }

func (r *rsiReversionRule) RiskLimits() RiskLimits { return r.cfg.Risk }

func (r *rsiReversionRule) Evaluate(snap indicators.Snapshot, holding bool) Action {
	if !holding && snap.RSI < r.cfg.RSIEnterBelow {
		return Enter
	}
	if holding && snap.RSI > r.cfg.RSIExitAbove {
		return Exit
	}
	return Hold
}

// bollingerReversionRule buys a close below the lower band and sells a
// close above the upper band
type bollingerReversionRule struct {
	cfg RuleConfig
}

func (r *bollingerReversionRule) ID() string { return StrategyBollingerReversion }

func (r *bollingerReversionRule) RiskLimits() RiskLimits { return r.cfg.Risk }

func (r *bollingerReversionRule) Evaluate(snap indicators.Snapshot, holding bool) Action {
	if !holding && snap.Close < snap.BollingerLower {
		return Enter
	}
	if holding && snap.Close > snap.BollingerUpper {
		return Exit
	}
	return Hold
}

// macdMomentumRule follows the histogram sign: long while MACD is
// above its signal line
type macdMomentumRule struct {
	cfg RuleConfig
}

func (r *macdMomentumRule) ID() string { return StrategyMACDMomentum }

func (r *macdMomentumRule) RiskLimits() RiskLimits { return r.cfg.Risk }

func (r *macdMomentumRule) Evaluate(snap indicators.Snapshot, holding bool) Action {
	if !holding && snap.MACDHistogram > 0 {
		return Enter
	}
	if holding && snap.MACDHistogram < 0 {
		return Exit
	}
	return Hold
}
