package invsync

import "gestionale/internal/core"

// ResolveFlowDate computes the movement flow date: issue date plus the
// payment terms in calendar days. Resolving a default for absent terms is
// the caller's job; this function takes the days it is given.
//
// ResolveFlowDate(d, 0) == d, and the result is non-decreasing in termsDays.
func ResolveFlowDate(issueDate core.Date, termsDays int) core.Date {
	if termsDays <= 0 {
		return issueDate
	}
	return issueDate.AddDays(termsDays)
}
