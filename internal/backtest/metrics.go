package backtest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// periodsPerYear annualizes daily returns; crypto venues trade every day.
const periodsPerYear = 365

// Metrics provides performance metrics over a replay's equity curve.
type Metrics struct {
	result       *Result
	riskFreeRate decimal.Decimal // Annual risk-free rate (e.g., 0.05 for 5%)
}

// NewMetrics creates a new metrics calculator.
func NewMetrics(result *Result, riskFreeRate decimal.Decimal) *Metrics {
	return &Metrics{
		result:       result,
		riskFreeRate: riskFreeRate,
	}
}

// SharpeRatio calculates the annualized Sharpe ratio of daily returns.
// Sharpe = (mean_return - risk_free) / std_dev_returns * sqrt(365)
func (m *Metrics) SharpeRatio() decimal.Decimal {
	returns := m.dailyReturns()
	if len(returns) < 2 {
		return decimal.Zero
	}

	stdDev := standardDeviation(returns)
	if stdDev.IsZero() {
		return decimal.Zero
	}

	excessReturn := mean(returns).Sub(m.dailyRiskFree())
	return excessReturn.Div(stdDev).Mul(sqrtPeriods())
}

// SortinoRatio calculates the Sortino ratio (uses downside deviation).
func (m *Metrics) SortinoRatio() decimal.Decimal {
	returns := m.dailyReturns()
	if len(returns) < 2 {
		return decimal.Zero
	}

	downsideDev := downsideDeviation(returns, decimal.Zero)
	if downsideDev.IsZero() {
		return decimal.Zero
	}

	excessReturn := mean(returns).Sub(m.dailyRiskFree())
	return excessReturn.Div(downsideDev).Mul(sqrtPeriods())
}

// MaxDrawdown returns the maximum drawdown as a ratio.
func (m *Metrics) MaxDrawdown() decimal.Decimal {
	curve := m.result.EquityCurve
	if len(curve) == 0 {
		return decimal.Zero
	}

	hwm := curve[0].Equity
	maxDD := decimal.Zero
	for _, point := range curve {
		if point.Equity.GreaterThan(hwm) {
			hwm = point.Equity
		}
		if hwm.IsPositive() {
			dd := hwm.Sub(point.Equity).Div(hwm)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// CalmarRatio calculates the Calmar ratio (annual return / max drawdown).
func (m *Metrics) CalmarRatio() decimal.Decimal {
	maxDD := m.MaxDrawdown()
	if maxDD.IsZero() {
		return decimal.Zero
	}
	return m.AnnualizedReturn().Div(maxDD)
}

// AnnualizedReturn calculates the annualized return. Spans shorter than
// about four days return the plain total return.
func (m *Metrics) AnnualizedReturn() decimal.Decimal {
	curve := m.result.EquityCurve
	if len(curve) < 2 {
		return decimal.Zero
	}

	first := curve[0]
	last := curve[len(curve)-1]
	if first.Equity.IsZero() {
		return decimal.Zero
	}

	totalReturn := last.Equity.Sub(first.Equity).Div(first.Equity)

	days := last.Timestamp.Sub(first.Timestamp).Hours() / 24
	years := days / periodsPerYear
	if years < 0.01 {
		return totalReturn
	}

	annualized := math.Pow(1+totalReturn.InexactFloat64(), 1/years) - 1
	return decimal.NewFromFloat(annualized)
}

// FillRate returns executed signals over processed signals.
func (m *Metrics) FillRate() decimal.Decimal {
	if m.result.Processed == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(m.result.Executed).Div(decimal.NewFromInt(m.result.Processed))
}

// RejectionRate returns allocator rejections over processed signals.
func (m *Metrics) RejectionRate() decimal.Decimal {
	if m.result.Processed == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(m.result.Rejected).Div(decimal.NewFromInt(m.result.Processed))
}

func (m *Metrics) dailyRiskFree() decimal.Decimal {
	return m.riskFreeRate.Div(decimal.NewFromInt(periodsPerYear))
}

// dailyReturns computes returns between the last equity of consecutive UTC days.
func (m *Metrics) dailyReturns() []decimal.Decimal {
	curve := m.result.EquityCurve
	if len(curve) < 2 {
		return nil
	}

	var closes []decimal.Decimal
	var day time.Time
	for _, point := range curve {
		d := point.Timestamp.UTC().Truncate(24 * time.Hour)
		if len(closes) == 0 || !d.Equal(day) {
			closes = append(closes, point.Equity)
			day = d
			continue
		}
		closes[len(closes)-1] = point.Equity
	}

	returns := make([]decimal.Decimal, 0, len(closes))
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev.IsZero() {
			continue
		}
		returns = append(returns, closes[i].Sub(prev).Div(prev))
	}
	return returns
}

func sqrtPeriods() decimal.Decimal {
	return decimal.NewFromFloat(math.Sqrt(periodsPerYear))
}

// Helper: mean of decimal slice.
func mean(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// Helper: sample standard deviation of decimal slice.
func standardDeviation(values []decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}

	m := mean(values)
	sumSquares := decimal.Zero
	for _, v := range values {
		diff := v.Sub(m)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	}

	variance := sumSquares.Div(decimal.NewFromInt(int64(len(values) - 1))).InexactFloat64()
	if variance < 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(math.Sqrt(variance))
}

// Helper: downside deviation (std dev of returns below target).
func downsideDeviation(returns []decimal.Decimal, target decimal.Decimal) decimal.Decimal {
	var below []decimal.Decimal
	for _, r := range returns {
		if r.LessThan(target) {
			below = append(below, r)
		}
	}
	if len(below) < 2 {
		return decimal.Zero
	}
	return standardDeviation(below)
}
