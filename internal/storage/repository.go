package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gestionale/internal/core"
	"gestionale/internal/invsync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLiteRepository is the storage layer. SQLite is the system of record;
// the Google Sheets ledger mirror is fed asynchronously from the export
// queue and never read back.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// GetCompany retrieves a tenant by id.
func (r *SQLiteRepository) GetCompany(ctx context.Context, id string) (core.Company, error) {
	var c core.Company
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, vat_number, iban FROM companies WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.VATNumber, &c.IBAN)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Company{}, fmt.Errorf("company %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Company{}, fmt.Errorf("get company: %w", err)
	}
	return c, nil
}

const invoiceColumns = `id, company_id, direction, type_code, number, year,
	total_amount, total_tax_amount, total_taxable_amount, issue_date,
	payment_terms_days, status, payment_date, customer_id, supplier_id,
	xml_content, notes, version`

// GetInvoice retrieves an invoice by id.
func (r *SQLiteRepository) GetInvoice(ctx context.Context, id string) (core.Invoice, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)

	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Invoice{}, fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Invoice{}, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

// CreateInvoice persists a new invoice. The id is assigned here when empty.
func (r *SQLiteRepository) CreateInvoice(ctx context.Context, inv core.Invoice) (core.Invoice, error) {
	if err := inv.Validate(); err != nil {
		return core.Invoice{}, fmt.Errorf("validate invoice: %w", err)
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.Version == 0 {
		inv.Version = 1
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO invoices (
			id, company_id, direction, type_code, number, year,
			total_amount, total_tax_amount, total_taxable_amount, issue_date,
			payment_terms_days, status, payment_date, customer_id, supplier_id,
			xml_content, notes, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.CompanyID, string(inv.Direction), string(inv.TypeCode),
		inv.Number, inv.Year,
		inv.TotalAmount.StringFixed(2), inv.TotalTaxAmount.StringFixed(2),
		inv.TotalTaxableAmount.StringFixed(2), inv.IssueDate.String(),
		nullableInt(inv.PaymentTermsDays), string(inv.Status),
		nullableDate(inv.PaymentDate), inv.CustomerID, inv.SupplierID,
		inv.XMLContent, inv.Notes, inv.Version, now, now)
	if err != nil {
		return core.Invoice{}, fmt.Errorf("create invoice: %w", err)
	}

	slog.InfoContext(ctx, "Invoice saved",
		"id", inv.ID,
		"company_id", inv.CompanyID,
		"number", inv.InvoiceNumber(),
		"type_code", inv.TypeCode)

	return inv, nil
}

// UpdateInvoiceStatus moves an invoice through its lifecycle and bumps the
// version so at-least-once consumers can discard stale events. A recorded
// payment date survives later updates that carry none.
func (r *SQLiteRepository) UpdateInvoiceStatus(ctx context.Context, id string, status core.InvoiceStatus, paymentDate *core.Date) error {
	if !status.IsValid() {
		return core.ErrInvalidStatus
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE invoices
		SET status = ?, payment_date = COALESCE(?, payment_date),
		    version = version + 1, updated_at = ?
		WHERE id = ?`,
		string(status), nullableDate(paymentDate),
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	return nil
}

const movementColumns = `id, company_id, core_id, type, amount, vat_amount,
	net_amount, flow_date, insert_date, status_id, reason_id, customer_id,
	supplier_id, invoice_number, document_number, xml_data, notes,
	is_verified, verification_status, last_verification_date`

// GetMovement retrieves a movement by id.
func (r *SQLiteRepository) GetMovement(ctx context.Context, id string) (core.Movement, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+movementColumns+` FROM movements WHERE id = ?`, id)

	m, err := scanMovement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Movement{}, fmt.Errorf("movement %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Movement{}, fmt.Errorf("get movement: %w", err)
	}
	return m, nil
}

// ListCandidateMovements returns every movement of the company, the
// candidate set the linkage rules run over.
func (r *SQLiteRepository) ListCandidateMovements(ctx context.Context, companyID string) ([]core.Movement, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+movementColumns+` FROM movements WHERE company_id = ? ORDER BY insert_date`,
		companyID)
	if err != nil {
		return nil, fmt.Errorf("list candidate movements: %w", err)
	}
	defer rows.Close()

	return collectMovements(rows)
}

// ListMovementsByMonth returns the company's movements with a flow date in
// the given month, ordered by flow date.
func (r *SQLiteRepository) ListMovementsByMonth(ctx context.Context, companyID string, year, month int) ([]core.Movement, error) {
	start := core.NewDate(year, month, 1)
	end := core.Date{Time: start.AddDate(0, 1, 0)}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+movementColumns+` FROM movements
		 WHERE company_id = ? AND flow_date >= ? AND flow_date < ?
		 ORDER BY flow_date, insert_date`,
		companyID, start.String(), end.String())
	if err != nil {
		return nil, fmt.Errorf("list movements by month: %w", err)
	}
	defer rows.Close()

	return collectMovements(rows)
}

// CreateMovementGuarded persists a movement draft inside a transaction that
// re-runs the linkage check over the company's movements. SQLite's single
// writer serializes concurrent creates, so the losing request of a race
// sees the winner's row and gets a DuplicateMovementError. force skips the
// guard for intentional duplicates.
func (r *SQLiteRepository) CreateMovementGuarded(ctx context.Context, inv core.Invoice, draft invsync.MovementDraft, force bool) (core.Movement, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Movement{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if !force {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+movementColumns+` FROM movements WHERE company_id = ?`,
			inv.CompanyID)
		if err != nil {
			return core.Movement{}, fmt.Errorf("re-check candidates: %w", err)
		}
		candidates, err := collectMovements(rows)
		rows.Close()
		if err != nil {
			return core.Movement{}, err
		}
		if link := invsync.ResolveLinkage(inv, candidates); link.Linked {
			return core.Movement{}, &DuplicateMovementError{
				ExistingMovementID: link.MovementID,
				MatchedRule:        link.MatchedRule,
			}
		}
	}

	m := core.Movement{
		ID:                   uuid.NewString(),
		CompanyID:            draft.CompanyID,
		CoreID:               draft.CoreID,
		Type:                 draft.Type,
		Amount:               draft.Amount,
		VATAmount:            draft.VATAmount,
		NetAmount:            draft.NetAmount,
		FlowDate:             draft.FlowDate,
		InsertDate:           time.Now().UTC(),
		StatusID:             draft.StatusID,
		ReasonID:             draft.ReasonID,
		CustomerID:           draft.CustomerID,
		SupplierID:           draft.SupplierID,
		InvoiceNumber:        draft.InvoiceNumber,
		DocumentNumber:       draft.DocumentNumber,
		XMLData:              draft.XMLData,
		Notes:                draft.Notes,
		IsVerified:           draft.IsVerified,
		VerificationStatus:   draft.VerificationStatus,
		LastVerificationDate: draft.LastVerificationDate,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO movements (
			id, company_id, core_id, type, amount, vat_amount, net_amount,
			flow_date, insert_date, status_id, reason_id, customer_id,
			supplier_id, invoice_number, document_number, xml_data, notes,
			is_verified, verification_status, last_verification_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.CompanyID, m.CoreID, string(m.Type),
		m.Amount.StringFixed(2), m.VATAmount.StringFixed(2), m.NetAmount.StringFixed(2),
		m.FlowDate.String(), m.InsertDate.Format(time.RFC3339),
		m.StatusID, m.ReasonID, m.CustomerID, m.SupplierID,
		m.InvoiceNumber, m.DocumentNumber, m.XMLData, m.Notes,
		m.IsVerified, m.VerificationStatus,
		nullableDate(m.LastVerificationDate))
	if err != nil {
		return core.Movement{}, fmt.Errorf("insert movement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Movement{}, fmt.Errorf("commit movement: %w", err)
	}

	slog.InfoContext(ctx, "Movement saved",
		"id", m.ID,
		"company_id", m.CompanyID,
		"type", m.Type,
		"amount", m.Amount.StringFixed(2),
		"invoice_number", m.InvoiceNumber)

	return m, nil
}

// ApplyMovementPatch updates the status and verification fields of a
// movement. Only fields present in the patch are touched; everything else
// is immutable after creation. Re-applying the same patch is a no-op.
func (r *SQLiteRepository) ApplyMovementPatch(ctx context.Context, movementID string, patch invsync.MovementPatch) error {
	query := `UPDATE movements SET `
	args := make([]any, 0, 5)
	first := true
	add := func(col string, val any) {
		if !first {
			query += ", "
		}
		query += col + " = ?"
		args = append(args, val)
		first = false
	}

	if patch.StatusID != "" {
		add("status_id", patch.StatusID)
	}
	if patch.IsVerified != nil {
		add("is_verified", *patch.IsVerified)
	}
	if patch.VerificationStatus != nil {
		add("verification_status", *patch.VerificationStatus)
	}
	if patch.LastVerificationDate != nil {
		add("last_verification_date", patch.LastVerificationDate.String())
	}
	if first {
		return nil
	}

	query += ` WHERE id = ?`
	args = append(args, movementID)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("apply movement patch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("movement %s: %w", movementID, ErrNotFound)
	}
	return nil
}

// StatusCatalog loads the company's status labels as the label to id map
// the status translator resolves against.
func (r *SQLiteRepository) StatusCatalog(ctx context.Context, companyID string) (invsync.StatusCatalog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT label, id FROM status_labels WHERE company_id = ?`, companyID)
	if err != nil {
		return nil, fmt.Errorf("load status catalog: %w", err)
	}
	defer rows.Close()

	catalog := invsync.StatusCatalog{}
	for rows.Next() {
		var label, id string
		if err := rows.Scan(&label, &id); err != nil {
			return nil, fmt.Errorf("scan status label: %w", err)
		}
		catalog[label] = id
	}
	return catalog, rows.Err()
}

// ReasonCatalog loads the company's reason labels as a code to id map.
func (r *SQLiteRepository) ReasonCatalog(ctx context.Context, companyID string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT code, id FROM reason_labels WHERE company_id = ?`, companyID)
	if err != nil {
		return nil, fmt.Errorf("load reason catalog: %w", err)
	}
	defer rows.Close()

	catalog := map[string]string{}
	for rows.Next() {
		var code, id string
		if err := rows.Scan(&code, &id); err != nil {
			return nil, fmt.Errorf("scan reason label: %w", err)
		}
		catalog[code] = id
	}
	return catalog, rows.Err()
}

// MonthlyCashflow aggregates the company's movements of a year into
// per-month income and expense totals. Aggregation happens here rather
// than in SQL because amounts are stored as decimal strings.
func (r *SQLiteRepository) MonthlyCashflow(ctx context.Context, companyID string, year int) ([]core.MonthCashflow, error) {
	start := core.NewDate(year, 1, 1)
	end := core.NewDate(year+1, 1, 1)

	rows, err := r.db.QueryContext(ctx,
		`SELECT type, amount, flow_date FROM movements
		 WHERE company_id = ? AND flow_date >= ? AND flow_date < ?`,
		companyID, start.String(), end.String())
	if err != nil {
		return nil, fmt.Errorf("load cashflow rows: %w", err)
	}
	defer rows.Close()

	months := make([]core.MonthCashflow, 12)
	for i := range months {
		months[i] = core.MonthCashflow{Year: year, Month: i + 1}
	}

	for rows.Next() {
		var typ, amountStr, flowDateStr string
		if err := rows.Scan(&typ, &amountStr, &flowDateStr); err != nil {
			return nil, fmt.Errorf("scan cashflow row: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amountStr, err)
		}
		flowDate, err := core.ParseDate(flowDateStr)
		if err != nil {
			return nil, fmt.Errorf("parse flow date %q: %w", flowDateStr, err)
		}

		mc := &months[int(flowDate.Month())-1]
		switch core.MovementType(typ) {
		case core.MovementIncome:
			mc.Income = mc.Income.Add(amount)
		case core.MovementExpense:
			mc.Expense = mc.Expense.Add(amount)
		}
	}
	return months, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (core.Invoice, error) {
	var (
		inv                      core.Invoice
		direction, typeCode      string
		status                   string
		totalStr, taxStr, netStr string
		issueDateStr             string
		termsDays                sql.NullInt64
		paymentDateStr           sql.NullString
	)

	err := row.Scan(&inv.ID, &inv.CompanyID, &direction, &typeCode,
		&inv.Number, &inv.Year, &totalStr, &taxStr, &netStr, &issueDateStr,
		&termsDays, &status, &paymentDateStr, &inv.CustomerID,
		&inv.SupplierID, &inv.XMLContent, &inv.Notes, &inv.Version)
	if err != nil {
		return core.Invoice{}, err
	}

	inv.Direction = core.Direction(direction)
	inv.TypeCode = core.TypeCode(typeCode)
	inv.Status = core.InvoiceStatus(status)

	if inv.TotalAmount, err = decimal.NewFromString(totalStr); err != nil {
		return core.Invoice{}, fmt.Errorf("parse total amount: %w", err)
	}
	if inv.TotalTaxAmount, err = decimal.NewFromString(taxStr); err != nil {
		return core.Invoice{}, fmt.Errorf("parse tax amount: %w", err)
	}
	if inv.TotalTaxableAmount, err = decimal.NewFromString(netStr); err != nil {
		return core.Invoice{}, fmt.Errorf("parse taxable amount: %w", err)
	}
	if inv.IssueDate, err = core.ParseDate(issueDateStr); err != nil {
		return core.Invoice{}, fmt.Errorf("parse issue date: %w", err)
	}
	if termsDays.Valid {
		days := int(termsDays.Int64)
		inv.PaymentTermsDays = &days
	}
	if paymentDateStr.Valid && paymentDateStr.String != "" {
		d, err := core.ParseDate(paymentDateStr.String)
		if err != nil {
			return core.Invoice{}, fmt.Errorf("parse payment date: %w", err)
		}
		inv.PaymentDate = &d
	}
	return inv, nil
}

func scanMovement(row rowScanner) (core.Movement, error) {
	var (
		m                          core.Movement
		typ                        string
		amountStr, vatStr, netStr  string
		flowDateStr, insertDateStr string
		lastVerificationStr        sql.NullString
	)

	err := row.Scan(&m.ID, &m.CompanyID, &m.CoreID, &typ, &amountStr,
		&vatStr, &netStr, &flowDateStr, &insertDateStr, &m.StatusID,
		&m.ReasonID, &m.CustomerID, &m.SupplierID, &m.InvoiceNumber,
		&m.DocumentNumber, &m.XMLData, &m.Notes, &m.IsVerified,
		&m.VerificationStatus, &lastVerificationStr)
	if err != nil {
		return core.Movement{}, err
	}

	m.Type = core.MovementType(typ)
	if m.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return core.Movement{}, fmt.Errorf("parse amount: %w", err)
	}
	if m.VATAmount, err = decimal.NewFromString(vatStr); err != nil {
		return core.Movement{}, fmt.Errorf("parse vat amount: %w", err)
	}
	if m.NetAmount, err = decimal.NewFromString(netStr); err != nil {
		return core.Movement{}, fmt.Errorf("parse net amount: %w", err)
	}
	if m.FlowDate, err = core.ParseDate(flowDateStr); err != nil {
		return core.Movement{}, fmt.Errorf("parse flow date: %w", err)
	}
	if m.InsertDate, err = time.Parse(time.RFC3339, insertDateStr); err != nil {
		return core.Movement{}, fmt.Errorf("parse insert date: %w", err)
	}
	if lastVerificationStr.Valid && lastVerificationStr.String != "" {
		d, err := core.ParseDate(lastVerificationStr.String)
		if err != nil {
			return core.Movement{}, fmt.Errorf("parse verification date: %w", err)
		}
		m.LastVerificationDate = &d
	}
	return m, nil
}

func collectMovements(rows *sql.Rows) ([]core.Movement, error) {
	var movements []core.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableDate(d *core.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}
