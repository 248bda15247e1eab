package http

import (
	"net/http"

	"gestionale/internal/core"

	"github.com/shopspring/decimal"
)

type invoiceView struct {
	ID                 string  `json:"id"`
	CompanyID          string  `json:"companyId"`
	Direction          string  `json:"direction"`
	TypeCode           string  `json:"typeCode"`
	Number             string  `json:"number"`
	Year               int     `json:"year"`
	InvoiceNumber      string  `json:"invoiceNumber"`
	TotalAmount        string  `json:"totalAmount"`
	TotalTaxAmount     string  `json:"totalTaxAmount"`
	TotalTaxableAmount string  `json:"totalTaxableAmount"`
	IssueDate          string  `json:"issueDate"`
	PaymentTermsDays   *int    `json:"paymentTermsDays,omitempty"`
	Status             string  `json:"status"`
	PaymentDate        *string `json:"paymentDate,omitempty"`
	CustomerID         string  `json:"customerId,omitempty"`
	SupplierID         string  `json:"supplierId,omitempty"`
	Notes              string  `json:"notes,omitempty"`
	Version            int64   `json:"version"`
}

func invoiceToView(inv core.Invoice) invoiceView {
	view := invoiceView{
		ID:                 inv.ID,
		CompanyID:          inv.CompanyID,
		Direction:          string(inv.Direction),
		TypeCode:           string(inv.TypeCode),
		Number:             inv.Number,
		Year:               inv.Year,
		InvoiceNumber:      inv.InvoiceNumber(),
		TotalAmount:        inv.TotalAmount.StringFixed(2),
		TotalTaxAmount:     inv.TotalTaxAmount.StringFixed(2),
		TotalTaxableAmount: inv.TotalTaxableAmount.StringFixed(2),
		IssueDate:          inv.IssueDate.String(),
		PaymentTermsDays:   inv.PaymentTermsDays,
		Status:             string(inv.Status),
		CustomerID:         inv.CustomerID,
		SupplierID:         inv.SupplierID,
		Notes:              inv.Notes,
		Version:            inv.Version,
	}
	if inv.PaymentDate != nil {
		d := inv.PaymentDate.String()
		view.PaymentDate = &d
	}
	return view
}

// handleCreateInvoice registers an invoice in the dashboard.
func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	inv, err := s.invoiceFromRequest(req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_invoice", err.Error())
		return
	}
	if err := inv.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_invoice", err.Error())
		return
	}

	created, err := s.storage.CreateInvoice(r.Context(), inv)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, invoiceToView(created))
}

func (s *Server) invoiceFromRequest(req createInvoiceRequest) (core.Invoice, error) {
	total, err := decimal.NewFromString(req.TotalAmount)
	if err != nil {
		return core.Invoice{}, err
	}
	tax := decimal.Zero
	if req.TotalTaxAmount != "" {
		if tax, err = decimal.NewFromString(req.TotalTaxAmount); err != nil {
			return core.Invoice{}, err
		}
	}
	taxable := decimal.Zero
	if req.TotalTaxableAmount != "" {
		if taxable, err = decimal.NewFromString(req.TotalTaxableAmount); err != nil {
			return core.Invoice{}, err
		}
	}

	issueDate, err := core.ParseDate(req.IssueDate)
	if err != nil {
		return core.Invoice{}, err
	}

	companyID := req.CompanyID
	if companyID == "" {
		companyID = s.defaultCompanyID
	}
	status := core.InvoiceStatus(req.Status)
	if req.Status == "" {
		status = core.InvoiceDraft
	}

	inv := core.Invoice{
		CompanyID:          companyID,
		Direction:          core.Direction(req.Direction),
		TypeCode:           core.TypeCode(req.TypeCode),
		Number:             sanitizeInput(req.Number),
		Year:               req.Year,
		TotalAmount:        total,
		TotalTaxAmount:     tax,
		TotalTaxableAmount: taxable,
		IssueDate:          issueDate,
		PaymentTermsDays:   req.PaymentTermsDays,
		Status:             status,
		CustomerID:         req.CustomerID,
		SupplierID:         req.SupplierID,
		XMLContent:         []byte(req.XMLContent),
		Notes:              sanitizeInput(req.Notes),
	}
	if req.PaymentDate != "" {
		paid, err := core.ParseDate(req.PaymentDate)
		if err != nil {
			return core.Invoice{}, err
		}
		inv.PaymentDate = &paid
	}
	return inv, nil
}

// handleGetInvoice returns a single invoice by id.
func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.storage.GetInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceToView(inv))
}

// handleUpdateInvoiceStatus changes the invoice status and emits the status
// event that drives the reverse movement sync.
func (s *Server) handleUpdateInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	var req updateInvoiceStatusRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	var paymentDate *core.Date
	if req.PaymentDate != "" {
		d, err := core.ParseDate(req.PaymentDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		paymentDate = &d
	}

	invoiceID := r.PathValue("id")
	if err := s.statusSync.UpdateInvoiceStatus(r.Context(), invoiceID, core.InvoiceStatus(req.Status), paymentDate); err != nil {
		writeDomainError(w, r, err)
		return
	}

	inv, err := s.storage.GetInvoice(r.Context(), invoiceID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceToView(inv))
}
