package core

import "github.com/shopspring/decimal"

// MonthCashflow aggregates movement totals for a single month.
type MonthCashflow struct {
	Year    int
	Month   int
	Income  decimal.Decimal
	Expense decimal.Decimal
}

// Net returns income minus expense magnitude for the month.
func (m MonthCashflow) Net() decimal.Decimal {
	return m.Income.Sub(m.Expense)
}

// CashflowOverview is a year of monthly totals for the dashboard.
type CashflowOverview struct {
	Year   int
	Months []MonthCashflow
}
