package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gestionale/internal/core"
	"gestionale/internal/invsync"

	"github.com/shopspring/decimal"
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()

	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "gestionale.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testInvoice() core.Invoice {
	return core.Invoice{
		CompanyID:          "default",
		Direction:          core.DirectionOutgoing,
		TypeCode:           core.TD01,
		Number:             "42",
		Year:               2025,
		TotalAmount:        decimal.RequireFromString("1200.00"),
		TotalTaxAmount:     decimal.RequireFromString("216.39"),
		TotalTaxableAmount: decimal.RequireFromString("983.61"),
		IssueDate:          core.NewDate(2025, 1, 15),
		Status:             core.InvoiceSent,
		CustomerID:         "cust-1",
		XMLContent:         []byte("<FatturaElettronica/>"),
		Notes:              "fattura di prova",
	}
}

func testDraft(inv core.Invoice) invsync.MovementDraft {
	return invsync.MovementDraft{
		CompanyID:      inv.CompanyID,
		CoreID:         "core-1",
		Type:           core.MovementIncome,
		Amount:         inv.TotalAmount,
		VATAmount:      inv.TotalTaxAmount,
		NetAmount:      inv.TotalTaxableAmount,
		FlowDate:       core.NewDate(2025, 2, 14),
		StatusID:       "st-in-lavorazione",
		ReasonID:       "rs-fatt-att",
		CustomerID:     inv.CustomerID,
		InvoiceNumber:  inv.InvoiceNumber(),
		DocumentNumber: "TD01-42",
		XMLData:        inv.XMLContent,
		Notes:          "Movimento generato da fattura 42/2025 (TD01)",
	}
}

func TestInvoiceRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.CreateInvoice(ctx, testInvoice())
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if created.ID == "" {
		t.Fatal("CreateInvoice did not assign an id")
	}

	got, err := repo.GetInvoice(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if got.InvoiceNumber() != "42/2025" {
		t.Errorf("InvoiceNumber = %q, want 42/2025", got.InvoiceNumber())
	}
	if !got.TotalAmount.Equal(decimal.RequireFromString("1200.00")) {
		t.Errorf("TotalAmount = %s, want 1200.00", got.TotalAmount)
	}
	if !got.IssueDate.Equal(core.NewDate(2025, 1, 15)) {
		t.Errorf("IssueDate = %s, want 2025-01-15", got.IssueDate)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
	if string(got.XMLContent) != "<FatturaElettronica/>" {
		t.Errorf("XMLContent = %q, want roundtrip", got.XMLContent)
	}
}

func TestGetInvoiceNotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetInvoice(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestUpdateInvoiceStatusBumpsVersion(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.CreateInvoice(ctx, testInvoice())
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	paidAt := core.NewDate(2025, 2, 1)
	if err := repo.UpdateInvoiceStatus(ctx, created.ID, core.InvoicePaid, &paidAt); err != nil {
		t.Fatalf("UpdateInvoiceStatus: %v", err)
	}

	got, err := repo.GetInvoice(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if got.Status != core.InvoicePaid {
		t.Errorf("Status = %s, want paid", got.Status)
	}
	if got.PaymentDate == nil || !got.PaymentDate.Equal(paidAt) {
		t.Errorf("PaymentDate = %v, want %s", got.PaymentDate, paidAt)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2 after status update", got.Version)
	}

	t.Run("later update without a date keeps the recorded one", func(t *testing.T) {
		if err := repo.UpdateInvoiceStatus(ctx, created.ID, core.InvoiceOverdue, nil); err != nil {
			t.Fatalf("UpdateInvoiceStatus: %v", err)
		}

		got, err := repo.GetInvoice(ctx, created.ID)
		if err != nil {
			t.Fatalf("GetInvoice: %v", err)
		}
		if got.Status != core.InvoiceOverdue {
			t.Errorf("Status = %s, want overdue", got.Status)
		}
		if got.PaymentDate == nil || !got.PaymentDate.Equal(paidAt) {
			t.Errorf("PaymentDate = %v, want %s preserved", got.PaymentDate, paidAt)
		}
	})
}

func TestCreateMovementGuarded(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	inv, err := repo.CreateInvoice(ctx, testInvoice())
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	first, err := repo.CreateMovementGuarded(ctx, inv, testDraft(inv), false)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	t.Run("second create is a duplicate", func(t *testing.T) {
		_, err := repo.CreateMovementGuarded(ctx, inv, testDraft(inv), false)
		var dup *DuplicateMovementError
		if !errors.As(err, &dup) {
			t.Fatalf("error = %T (%v), want *DuplicateMovementError", err, err)
		}
		if dup.ExistingMovementID != first.ID {
			t.Errorf("ExistingMovementID = %q, want %q", dup.ExistingMovementID, first.ID)
		}
	})

	t.Run("force bypasses the guard", func(t *testing.T) {
		forced, err := repo.CreateMovementGuarded(ctx, inv, testDraft(inv), true)
		if err != nil {
			t.Fatalf("forced create: %v", err)
		}
		if forced.ID == first.ID {
			t.Error("forced create reused the first movement id")
		}
	})

	t.Run("movement round trips", func(t *testing.T) {
		got, err := repo.GetMovement(ctx, first.ID)
		if err != nil {
			t.Fatalf("GetMovement: %v", err)
		}
		if !got.Amount.Equal(decimal.RequireFromString("1200.00")) {
			t.Errorf("Amount = %s, want 1200.00", got.Amount)
		}
		if got.InvoiceNumber != "42/2025" {
			t.Errorf("InvoiceNumber = %q, want 42/2025", got.InvoiceNumber)
		}
		if !got.FlowDate.Equal(core.NewDate(2025, 2, 14)) {
			t.Errorf("FlowDate = %s, want 2025-02-14", got.FlowDate)
		}
	})
}

func TestApplyMovementPatch(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	inv, err := repo.CreateInvoice(ctx, testInvoice())
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	mov, err := repo.CreateMovementGuarded(ctx, inv, testDraft(inv), false)
	if err != nil {
		t.Fatalf("CreateMovementGuarded: %v", err)
	}

	verified := true
	status := "verified"
	verifiedAt := core.NewDate(2025, 2, 1)
	patch := invsync.MovementPatch{
		StatusID:             "st-saldato",
		IsVerified:           &verified,
		VerificationStatus:   &status,
		LastVerificationDate: &verifiedAt,
	}

	if err := repo.ApplyMovementPatch(ctx, mov.ID, patch); err != nil {
		t.Fatalf("ApplyMovementPatch: %v", err)
	}
	// Applying the same patch again must be a no-op.
	if err := repo.ApplyMovementPatch(ctx, mov.ID, patch); err != nil {
		t.Fatalf("second ApplyMovementPatch: %v", err)
	}

	got, err := repo.GetMovement(ctx, mov.ID)
	if err != nil {
		t.Fatalf("GetMovement: %v", err)
	}
	if !patch.AppliedTo(got) {
		t.Errorf("movement does not reflect the patch: status=%q verified=%v", got.StatusID, got.IsVerified)
	}
	if !got.Amount.Equal(mov.Amount) {
		t.Error("patch must not touch the amount")
	}
}

func TestSeededCatalogs(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	statuses, err := repo.StatusCatalog(ctx, "default")
	if err != nil {
		t.Fatalf("StatusCatalog: %v", err)
	}
	if statuses["Saldato"] != "st-saldato" {
		t.Errorf(`statuses["Saldato"] = %q, want st-saldato`, statuses["Saldato"])
	}
	if len(statuses) != 5 {
		t.Errorf("status catalog size = %d, want 5", len(statuses))
	}

	reasons, err := repo.ReasonCatalog(ctx, "default")
	if err != nil {
		t.Fatalf("ReasonCatalog: %v", err)
	}
	if reasons["FATT_ATT"] != "rs-fatt-att" {
		t.Errorf(`reasons["FATT_ATT"] = %q, want rs-fatt-att`, reasons["FATT_ATT"])
	}

	company, err := repo.GetCompany(ctx, "default")
	if err != nil {
		t.Fatalf("GetCompany: %v", err)
	}
	if company.Name == "" {
		t.Error("seeded company has no name")
	}
	if company.IBAN == "" {
		t.Error("seeded company has no settlement IBAN")
	}
}

func TestMonthlyCashflow(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	inv, err := repo.CreateInvoice(ctx, testInvoice())
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	income := testDraft(inv)
	income.FlowDate = core.NewDate(2025, 3, 10)
	if _, err := repo.CreateMovementGuarded(ctx, inv, income, false); err != nil {
		t.Fatalf("create income: %v", err)
	}

	expense := testDraft(inv)
	expense.Type = core.MovementExpense
	expense.Amount = decimal.RequireFromString("400.00")
	expense.FlowDate = core.NewDate(2025, 3, 20)
	expense.InvoiceNumber = "99/2025"
	expense.DocumentNumber = "TD01-99"
	expense.XMLData = nil
	if _, err := repo.CreateMovementGuarded(ctx, inv, expense, true); err != nil {
		t.Fatalf("create expense: %v", err)
	}

	months, err := repo.MonthlyCashflow(ctx, "default", 2025)
	if err != nil {
		t.Fatalf("MonthlyCashflow: %v", err)
	}
	if len(months) != 12 {
		t.Fatalf("got %d months, want 12", len(months))
	}

	march := months[2]
	if !march.Income.Equal(decimal.RequireFromString("1200.00")) {
		t.Errorf("march income = %s, want 1200.00", march.Income)
	}
	if !march.Expense.Equal(decimal.RequireFromString("400.00")) {
		t.Errorf("march expense = %s, want 400.00", march.Expense)
	}
	if !march.Net().Equal(decimal.RequireFromString("800.00")) {
		t.Errorf("march net = %s, want 800.00", march.Net())
	}
	if !months[0].Income.IsZero() || !months[0].Expense.IsZero() {
		t.Error("january should be empty")
	}
}

func TestExportQueueLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	inv, err := repo.CreateInvoice(ctx, testInvoice())
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	mov, err := repo.CreateMovementGuarded(ctx, inv, testDraft(inv), false)
	if err != nil {
		t.Fatalf("CreateMovementGuarded: %v", err)
	}

	if err := repo.EnqueueExport(ctx, mov.ID); err != nil {
		t.Fatalf("EnqueueExport: %v", err)
	}

	items, err := repo.DequeueExportBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueExportBatch: %v", err)
	}
	if len(items) != 1 || items[0].MovementID != mov.ID {
		t.Fatalf("dequeued %v, want one item for %s", items, mov.ID)
	}
	item := items[0]

	t.Run("retry cycle", func(t *testing.T) {
		if err := repo.MarkExportProcessing(ctx, item.ID); err != nil {
			t.Fatalf("MarkExportProcessing: %v", err)
		}
		if err := repo.IncrementExportAttempt(ctx, item.ID, "sheets unavailable"); err != nil {
			t.Fatalf("IncrementExportAttempt: %v", err)
		}

		requeued, err := repo.DequeueExportBatch(ctx, 10)
		if err != nil {
			t.Fatalf("DequeueExportBatch after retry: %v", err)
		}
		if len(requeued) != 1 {
			t.Fatalf("got %d pending after retry, want 1", len(requeued))
		}
		if requeued[0].Attempts != 1 || requeued[0].LastError != "sheets unavailable" {
			t.Errorf("retry bookkeeping = (%d, %q), want (1, sheets unavailable)",
				requeued[0].Attempts, requeued[0].LastError)
		}
	})

	t.Run("stale processing items are requeued", func(t *testing.T) {
		if err := repo.MarkExportProcessing(ctx, item.ID); err != nil {
			t.Fatalf("MarkExportProcessing: %v", err)
		}
		if err := repo.ResetStaleExports(ctx); err != nil {
			t.Fatalf("ResetStaleExports: %v", err)
		}

		stats, err := repo.GetExportQueueStats(ctx)
		if err != nil {
			t.Fatalf("GetExportQueueStats: %v", err)
		}
		if stats.Pending != 1 || stats.Processing != 0 {
			t.Errorf("stats = %+v, want the item back in pending", stats)
		}
	})

	t.Run("completion and cleanup", func(t *testing.T) {
		if err := repo.MarkExportCompleted(ctx, item.ID); err != nil {
			t.Fatalf("MarkExportCompleted: %v", err)
		}
		if err := repo.CleanupCompletedExports(ctx, time.Now().Add(time.Minute)); err != nil {
			t.Fatalf("CleanupCompletedExports: %v", err)
		}

		stats, err := repo.GetExportQueueStats(ctx)
		if err != nil {
			t.Fatalf("GetExportQueueStats: %v", err)
		}
		if stats.Completed != 0 || stats.Pending != 0 {
			t.Errorf("stats = %+v, want an empty queue", stats)
		}
	})
}
