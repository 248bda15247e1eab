package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance; struct rules live on the
// request DTO tags.
var validate = validator.New(validator.WithRequiredStructEnabled())

// createInvoiceRequest registers an invoice in the dashboard.
type createInvoiceRequest struct {
	CompanyID          string `json:"companyId"`
	Direction          string `json:"direction" validate:"required,oneof=outgoing incoming"`
	TypeCode           string `json:"typeCode" validate:"required,startswith=TD,len=4"`
	Number             string `json:"number" validate:"required"`
	Year               int    `json:"year" validate:"required,gte=1900,lte=3000"`
	TotalAmount        string `json:"totalAmount" validate:"required"`
	TotalTaxAmount     string `json:"totalTaxAmount"`
	TotalTaxableAmount string `json:"totalTaxableAmount"`
	IssueDate          string `json:"issueDate" validate:"required,datetime=2006-01-02"`
	PaymentTermsDays   *int   `json:"paymentTermsDays" validate:"omitempty,gte=0"`
	Status             string `json:"status" validate:"omitempty,oneof=draft sent paid overdue cancelled"`
	PaymentDate        string `json:"paymentDate" validate:"omitempty,datetime=2006-01-02"`
	CustomerID         string `json:"customerId"`
	SupplierID         string `json:"supplierId"`
	XMLContent         string `json:"xmlContent"`
	Notes              string `json:"notes"`
}

// createMovementRequest drives movement generation for an invoice.
type createMovementRequest struct {
	CoreID           string `json:"coreId" validate:"required"`
	ForceCreate      bool   `json:"forceCreate"`
	StatusID         string `json:"statusId"`
	ReasonID         string `json:"reasonId"`
	PaymentTermsDays *int   `json:"paymentTermsDays" validate:"omitempty,gte=0"`
	AdditionalNotes  string `json:"additionalNotes" validate:"max=1000"`
}

// updateInvoiceStatusRequest changes the canonical invoice status.
type updateInvoiceStatusRequest struct {
	Status      string `json:"status" validate:"required,oneof=draft sent paid overdue cancelled"`
	PaymentDate string `json:"paymentDate" validate:"omitempty,datetime=2006-01-02"`
}

// decodeAndValidate parses the JSON body into dst and runs the validator.
// Unknown fields are rejected so typos fail loudly instead of silently
// falling back to defaults.
func decodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("malformed request body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid request fields: %s", strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

// MonthParams holds parsed year/month values from query parameters.
type MonthParams struct {
	Year  int
	Month int
}

// ParseMonthParams extracts year and month from query parameters, using the
// current date as defaults.
func ParseMonthParams(query url.Values) MonthParams {
	now := time.Now()
	params := MonthParams{
		Year:  now.Year(),
		Month: int(now.Month()),
	}

	if v := strings.TrimSpace(query.Get("year")); v != "" {
		if y, err := strconv.Atoi(v); err == nil {
			params.Year = y
		}
	}
	if v := strings.TrimSpace(query.Get("month")); v != "" {
		if m, err := strconv.Atoi(v); err == nil {
			params.Month = m
		}
	}

	return params
}

// ParseYearParam extracts a year from query parameters, defaulting to the
// current year.
func ParseYearParam(query url.Values) int {
	if v := strings.TrimSpace(query.Get("year")); v != "" {
		if y, err := strconv.Atoi(v); err == nil {
			return y
		}
	}
	return time.Now().Year()
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
