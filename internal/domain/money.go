package domain

import "github.com/shopspring/decimal"

// MoneyScale is the number of fractional digits kept for currency amounts.
const MoneyScale = 6

var (
	// RepayTolerance absorbs sub-cent drift when deciding a full repayment.
	RepayTolerance = decimal.RequireFromString("0.01")
	// RepayOverpayFactor bounds how far above total debt a repayment request may go.
	RepayOverpayFactor = decimal.RequireFromString("1.01")
	bpsDenominator     = decimal.NewFromInt(10000)
)

func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// Bps converts basis points into a fraction, 5000 -> 0.5.
func Bps(bps int64) decimal.Decimal {
	return decimal.NewFromInt(bps).Div(bpsDenominator)
}
