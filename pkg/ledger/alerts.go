package ledger

import (
	"github.com/shopspring/decimal"
)

// AlertLevel grades how much of a line's allocation is committed.
type AlertLevel string

const (
	AlertNone      AlertLevel = "none"
	AlertWarning   AlertLevel = "warning"
	AlertCritical  AlertLevel = "critical"
	AlertExhausted AlertLevel = "exhausted"
)

var (
	warningRate  = decimal.NewFromInt(80)
	criticalRate = decimal.NewFromInt(95)
	fullRate     = decimal.NewFromInt(100)
)

func (a AlertLevel) rank() int {
	switch a {
	case AlertWarning:
		return 1
	case AlertCritical:
		return 2
	case AlertExhausted:
		return 3
	}
	return 0
}

// consumptionRate is committed / allocation as a percentage with two
// decimals.
func consumptionRate(committed, dotation decimal.Decimal) decimal.Decimal {
	if !dotation.IsPositive() {
		if committed.IsPositive() {
			return fullRate
		}
		return decimal.Zero
	}
	return committed.Mul(fullRate).Div(dotation).Round(2)
}

func alertFor(committed, dotation decimal.Decimal) AlertLevel {
	rate := consumptionRate(committed, dotation)
	switch {
	case rate.GreaterThanOrEqual(fullRate):
		return AlertExhausted
	case rate.GreaterThan(criticalRate):
		return AlertCritical
	case rate.GreaterThan(warningRate):
		return AlertWarning
	}
	return AlertNone
}

// ConsumptionAlert grades the validated commitments of a line against its
// current allocation: warning above 80%, critical above 95%, exhausted from
// 100%.
func ConsumptionAlert(line *BudgetLineRecord) AlertLevel {
	return alertFor(line.TotalEngage, line.DotationActuelle)
}
