package http

import (
	"net/http"
	"sync/atomic"

	"gestionale/internal/core"

	"github.com/shopspring/decimal"
)

type monthCashflowView struct {
	Month   int    `json:"month"`
	Income  string `json:"income"`
	Expense string `json:"expense"`
	Net     string `json:"net"`
}

type cashflowResponse struct {
	Year         int                 `json:"year"`
	CompanyID    string              `json:"companyId"`
	TotalIncome  string              `json:"totalIncome"`
	TotalExpense string              `json:"totalExpense"`
	TotalNet     string              `json:"totalNet"`
	Months       []monthCashflowView `json:"months"`
}

// handleCashflow returns the monthly income/expense totals for a year.
func (s *Server) handleCashflow(w http.ResponseWriter, r *http.Request) {
	year := ParseYearParam(r.URL.Query())
	companyID := r.URL.Query().Get("companyId")
	if companyID == "" {
		companyID = s.defaultCompanyID
	}

	overview, err := s.cachedCashflow(r, companyID, year)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := cashflowResponse{
		Year:      overview.Year,
		CompanyID: companyID,
		Months:    make([]monthCashflowView, 0, len(overview.Months)),
	}
	totalIncome := decimal.Zero
	totalExpense := decimal.Zero
	for _, m := range overview.Months {
		totalIncome = totalIncome.Add(m.Income)
		totalExpense = totalExpense.Add(m.Expense)
		resp.Months = append(resp.Months, monthCashflowView{
			Month:   m.Month,
			Income:  m.Income.StringFixed(2),
			Expense: m.Expense.StringFixed(2),
			Net:     m.Net().StringFixed(2),
		})
	}
	resp.TotalIncome = totalIncome.StringFixed(2)
	resp.TotalExpense = totalExpense.StringFixed(2)
	resp.TotalNet = totalIncome.Sub(totalExpense).StringFixed(2)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cachedCashflow(r *http.Request, companyID string, year int) (core.CashflowOverview, error) {
	key := s.cacheKey(companyID, year)
	if overview, found := s.cashflowCache.Get(key); found {
		atomic.AddInt64(&s.appMetrics.cacheHits, 1)
		return overview, nil
	}
	atomic.AddInt64(&s.appMetrics.cacheMisses, 1)

	months, err := s.storage.MonthlyCashflow(r.Context(), companyID, year)
	if err != nil {
		return core.CashflowOverview{}, err
	}
	overview := core.CashflowOverview{Year: year, Months: months}
	s.cashflowCache.Set(key, overview)
	return overview, nil
}
