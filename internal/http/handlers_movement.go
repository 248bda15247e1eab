package http

import (
	"net/http"
	"sync/atomic"
	"time"

	"gestionale/internal/core"
	"gestionale/internal/invsync"
)

type movementView struct {
	ID                   string  `json:"id"`
	CompanyID            string  `json:"companyId"`
	CoreID               string  `json:"coreId"`
	Type                 string  `json:"type"`
	Amount               string  `json:"amount"`
	VATAmount            string  `json:"vatAmount"`
	NetAmount            string  `json:"netAmount"`
	FlowDate             string  `json:"flowDate"`
	InsertDate           string  `json:"insertDate"`
	StatusID             string  `json:"statusId"`
	ReasonID             string  `json:"reasonId"`
	CustomerID           string  `json:"customerId,omitempty"`
	SupplierID           string  `json:"supplierId,omitempty"`
	InvoiceNumber        string  `json:"invoiceNumber,omitempty"`
	DocumentNumber       string  `json:"documentNumber,omitempty"`
	Notes                string  `json:"notes,omitempty"`
	IsVerified           bool    `json:"isVerified"`
	VerificationStatus   string  `json:"verificationStatus,omitempty"`
	LastVerificationDate *string `json:"lastVerificationDate,omitempty"`
}

func movementToView(m core.Movement) movementView {
	view := movementView{
		ID:                 m.ID,
		CompanyID:          m.CompanyID,
		CoreID:             m.CoreID,
		Type:               string(m.Type),
		Amount:             m.Amount.StringFixed(2),
		VATAmount:          m.VATAmount.StringFixed(2),
		NetAmount:          m.NetAmount.StringFixed(2),
		FlowDate:           m.FlowDate.String(),
		InsertDate:         m.InsertDate.Format(time.RFC3339),
		StatusID:           m.StatusID,
		ReasonID:           m.ReasonID,
		CustomerID:         m.CustomerID,
		SupplierID:         m.SupplierID,
		InvoiceNumber:      m.InvoiceNumber,
		DocumentNumber:     m.DocumentNumber,
		Notes:              m.Notes,
		IsVerified:         m.IsVerified,
		VerificationStatus: m.VerificationStatus,
	}
	if m.LastVerificationDate != nil {
		d := m.LastVerificationDate.String()
		view.LastVerificationDate = &d
	}
	return view
}

type mappingView struct {
	Amount             string `json:"amount"`
	MovementType       string `json:"movementType"`
	IsNegativeAmount   bool   `json:"isNegativeAmount"`
	ReasonCode         string `json:"reasonCode"`
	PaymentTermsDays   int    `json:"paymentTermsDays"`
	AutoGeneratedNotes string `json:"autoGeneratedNotes"`
}

type createMovementResponse struct {
	MovementID string       `json:"movementId"`
	InvoiceID  string       `json:"invoiceId"`
	Movement   movementView `json:"movement"`
	Mapping    mappingView  `json:"mapping"`
}

// handleCreateMovement generates a ledger movement from an invoice.
func (s *Server) handleCreateMovement(w http.ResponseWriter, r *http.Request) {
	var req createMovementRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	invoiceID := r.PathValue("id")
	result, err := s.movements.CreateMovementFromInvoice(r.Context(), invoiceID, invsync.CreateOptions{
		ForceCreate:      req.ForceCreate,
		CoreID:           req.CoreID,
		StatusID:         req.StatusID,
		ReasonID:         req.ReasonID,
		PaymentTermsDays: req.PaymentTermsDays,
		AdditionalNotes:  sanitizeInput(req.AdditionalNotes),
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	s.countMovementCreated()
	s.invalidateCompanyYear(result.Movement.CompanyID, result.Movement.FlowDate.Year())

	writeJSON(w, http.StatusOK, createMovementResponse{
		MovementID: result.Movement.ID,
		InvoiceID:  invoiceID,
		Movement:   movementToView(result.Movement),
		Mapping: mappingView{
			Amount:             result.Summary.Amount.StringFixed(2),
			MovementType:       string(result.Summary.MovementType),
			IsNegativeAmount:   result.Summary.NegativeAmount,
			ReasonCode:         result.Summary.ReasonCode,
			PaymentTermsDays:   result.Summary.PaymentTermsDays,
			AutoGeneratedNotes: result.Summary.AutoGeneratedNotes,
		},
	})
}

type syncStatusResponse struct {
	MovementID string `json:"movementId"`
	InvoiceID  string `json:"invoiceId"`
	StatusID   string `json:"statusId"`
	Applied    bool   `json:"applied"`
}

// handleSyncStatus propagates the invoice status to its linked movement.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	invoiceID := r.PathValue("id")
	outcome, err := s.statusSync.SyncInvoiceStatus(r.Context(), invoiceID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if outcome.Applied {
		s.countStatusSync()
		if movement, err := s.storage.GetMovement(r.Context(), outcome.MovementID); err == nil {
			s.invalidateCompanyYear(movement.CompanyID, movement.FlowDate.Year())
		}
	}

	writeJSON(w, http.StatusOK, syncStatusResponse{
		MovementID: outcome.MovementID,
		InvoiceID:  invoiceID,
		StatusID:   outcome.Patch.StatusID,
		Applied:    outcome.Applied,
	})
}

type movementListResponse struct {
	Year      int            `json:"year"`
	Month     int            `json:"month"`
	CompanyID string         `json:"companyId"`
	Count     int            `json:"count"`
	Movements []movementView `json:"movements"`
}

// handleListMovements lists movements for a month, newest flow date first.
func (s *Server) handleListMovements(w http.ResponseWriter, r *http.Request) {
	params := ParseMonthParams(r.URL.Query())
	if params.Month < 1 || params.Month > 12 {
		writeError(w, http.StatusBadRequest, "bad_request", "month must be between 1 and 12")
		return
	}

	companyID := r.URL.Query().Get("companyId")
	if companyID == "" {
		companyID = s.defaultCompanyID
	}

	movements, err := s.cachedMovements(r, companyID, params.Year, params.Month)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	views := make([]movementView, 0, len(movements))
	for _, m := range movements {
		views = append(views, movementToView(m))
	}
	writeJSON(w, http.StatusOK, movementListResponse{
		Year:      params.Year,
		Month:     params.Month,
		CompanyID: companyID,
		Count:     len(views),
		Movements: views,
	})
}

func (s *Server) cachedMovements(r *http.Request, companyID string, year, month int) ([]core.Movement, error) {
	key := s.monthCacheKey(companyID, year, month)
	if items, found := s.movementsCache.Get(key); found {
		atomic.AddInt64(&s.appMetrics.cacheHits, 1)
		result := make([]core.Movement, len(items))
		copy(result, items)
		return result, nil
	}
	atomic.AddInt64(&s.appMetrics.cacheMisses, 1)

	items, err := s.storage.ListMovementsByMonth(r.Context(), companyID, year, month)
	if err != nil {
		return nil, err
	}
	s.movementsCache.Set(key, items)
	return items, nil
}

// handleGetMovement returns a single movement by id.
func (s *Server) handleGetMovement(w http.ResponseWriter, r *http.Request) {
	movement, err := s.storage.GetMovement(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, movementToView(movement))
}
