package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"gestionale/internal/services"
	"gestionale/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "gestionale.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	movements := services.NewMovementService(repo, nil, nil)
	statusSync := services.NewStatusSyncService(repo, nil, nil)

	s := NewServer("127.0.0.1:0", "default", movements, statusSync, repo)
	ts := httptest.NewServer(s.Server.Handler)
	t.Cleanup(func() {
		ts.Close()
		s.Shutdown(context.Background())
	})
	return s, ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	var decoded map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode response %q: %v", raw, err)
		}
	}
	return resp, decoded
}

func createTestInvoice(t *testing.T, baseURL, number string, overrides map[string]any) string {
	t.Helper()

	body := map[string]any{
		"direction":          "outgoing",
		"typeCode":           "TD01",
		"number":             number,
		"year":               2025,
		"totalAmount":        "1200.00",
		"totalTaxAmount":     "216.39",
		"totalTaxableAmount": "983.61",
		"issueDate":          "2025-01-15",
		"status":             "sent",
		"customerId":         "cust-1",
		"xmlContent":         "<FatturaElettronica/>",
	}
	for k, v := range overrides {
		body[k] = v
	}

	resp, decoded := doJSON(t, http.MethodPost, baseURL+"/api/invoices", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create invoice status = %d, body = %v", resp.StatusCode, decoded)
	}
	id, _ := decoded["id"].(string)
	if id == "" {
		t.Fatal("create invoice returned no id")
	}
	return id
}

func TestCreateInvoiceEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	id := createTestInvoice(t, ts.URL, "42", nil)

	resp, decoded := doJSON(t, http.MethodGet, ts.URL+"/api/invoices/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get invoice status = %d", resp.StatusCode)
	}
	if decoded["invoiceNumber"] != "42/2025" {
		t.Errorf("invoiceNumber = %v, want 42/2025", decoded["invoiceNumber"])
	}
	if decoded["totalAmount"] != "1200.00" {
		t.Errorf("totalAmount = %v, want 1200.00", decoded["totalAmount"])
	}
	if decoded["status"] != "sent" {
		t.Errorf("status = %v, want sent", decoded["status"])
	}

	t.Run("unknown invoice is 404", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/invoices/missing", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("invalid direction is rejected", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/invoices", map[string]any{
			"direction":   "sideways",
			"typeCode":    "TD01",
			"number":      "43",
			"year":        2025,
			"totalAmount": "100",
			"issueDate":   "2025-01-15",
		})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestCreateMovementEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	id := createTestInvoice(t, ts.URL, "42", nil)

	resp, decoded := doJSON(t, http.MethodPost, ts.URL+"/api/invoices/"+id+"/create-movement",
		map[string]any{"coreId": "core-1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create movement status = %d, body = %v", resp.StatusCode, decoded)
	}

	movementID, _ := decoded["movementId"].(string)
	if movementID == "" {
		t.Fatal("response has no movementId")
	}
	mapping, _ := decoded["mapping"].(map[string]any)
	if mapping == nil {
		t.Fatal("response has no mapping")
	}
	if mapping["movementType"] != "income" {
		t.Errorf("mapping.movementType = %v, want income", mapping["movementType"])
	}
	if mapping["amount"] != "1200.00" {
		t.Errorf("mapping.amount = %v, want 1200.00", mapping["amount"])
	}
	if mapping["isNegativeAmount"] != false {
		t.Errorf("mapping.isNegativeAmount = %v, want false", mapping["isNegativeAmount"])
	}
	if movement, _ := decoded["movement"].(map[string]any); movement["amount"] != "1200.00" {
		t.Errorf("movement.amount = %v, want 1200.00", movement["amount"])
	}

	t.Run("duplicate create is a conflict", func(t *testing.T) {
		resp, decoded := doJSON(t, http.MethodPost, ts.URL+"/api/invoices/"+id+"/create-movement",
			map[string]any{"coreId": "core-1"})
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("status = %d, want 409", resp.StatusCode)
		}
		if decoded["existingMovementId"] != movementID {
			t.Errorf("existingMovementId = %v, want %s", decoded["existingMovementId"], movementID)
		}
		if hint, _ := decoded["hint"].(string); !strings.Contains(hint, "forceCreate") {
			t.Errorf("hint = %v, want a forceCreate hint", decoded["hint"])
		}
	})

	t.Run("force create succeeds", func(t *testing.T) {
		resp, decoded := doJSON(t, http.MethodPost, ts.URL+"/api/invoices/"+id+"/create-movement",
			map[string]any{"coreId": "core-1", "forceCreate": true})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, body = %v", resp.StatusCode, decoded)
		}
		if decoded["movementId"] == movementID {
			t.Error("forced create reused the existing movement id")
		}
	})

	t.Run("missing coreId is rejected", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/invoices/"+id+"/create-movement",
			map[string]any{})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("excluded type is unprocessable", func(t *testing.T) {
		excludedID := createTestInvoice(t, ts.URL, "90", map[string]any{"typeCode": "TD20"})
		resp, decoded := doJSON(t, http.MethodPost, ts.URL+"/api/invoices/"+excludedID+"/create-movement",
			map[string]any{"coreId": "core-1"})
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", resp.StatusCode)
		}
		if decoded["error"] != "excluded_type" {
			t.Errorf("error = %v, want excluded_type", decoded["error"])
		}
	})

	t.Run("cancelled invoice lists violations", func(t *testing.T) {
		cancelledID := createTestInvoice(t, ts.URL, "91", map[string]any{"status": "cancelled"})
		resp, decoded := doJSON(t, http.MethodPost, ts.URL+"/api/invoices/"+cancelledID+"/create-movement",
			map[string]any{"coreId": "core-1"})
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", resp.StatusCode)
		}
		if decoded["error"] != "invoice_not_eligible" {
			t.Errorf("error = %v, want invoice_not_eligible", decoded["error"])
		}
		if violations, _ := decoded["violations"].([]any); len(violations) == 0 {
			t.Error("expected at least one violation in the response")
		}
	})
}

func TestStatusSyncEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	id := createTestInvoice(t, ts.URL, "42", nil)
	resp, created := doJSON(t, http.MethodPost, ts.URL+"/api/invoices/"+id+"/create-movement",
		map[string]any{"coreId": "core-1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create movement status = %d", resp.StatusCode)
	}
	movementID := created["movementId"].(string)

	resp, decoded := doJSON(t, http.MethodPut, ts.URL+"/api/invoices/"+id+"/status",
		map[string]any{"status": "paid", "paymentDate": "2025-02-01"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, body = %v", resp.StatusCode, decoded)
	}
	if decoded["status"] != "paid" {
		t.Errorf("invoice status = %v, want paid", decoded["status"])
	}

	resp, decoded = doJSON(t, http.MethodPost, ts.URL+"/api/invoices/"+id+"/sync-status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status = %d, body = %v", resp.StatusCode, decoded)
	}
	if decoded["movementId"] != movementID {
		t.Errorf("movementId = %v, want %s", decoded["movementId"], movementID)
	}
	if decoded["applied"] != true {
		t.Error("first sync should apply the patch")
	}
	if decoded["statusId"] != "st-saldato" {
		t.Errorf("statusId = %v, want st-saldato", decoded["statusId"])
	}

	t.Run("second sync is a no-op", func(t *testing.T) {
		_, decoded := doJSON(t, http.MethodPost, ts.URL+"/api/invoices/"+id+"/sync-status", nil)
		if decoded["applied"] != false {
			t.Error("re-sync of an unchanged invoice must not apply anything")
		}
	})

	t.Run("movement reflects the sync", func(t *testing.T) {
		_, decoded := doJSON(t, http.MethodGet, ts.URL+"/api/movements/"+movementID, nil)
		if decoded["statusId"] != "st-saldato" {
			t.Errorf("statusId = %v, want st-saldato", decoded["statusId"])
		}
		if decoded["isVerified"] != true {
			t.Error("movement should be verified after the paid sync")
		}
	})

	t.Run("unlinked invoice is 404", func(t *testing.T) {
		unlinked := createTestInvoice(t, ts.URL, "77", nil)
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/invoices/"+unlinked+"/sync-status", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})
}

func TestListMovementsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	id := createTestInvoice(t, ts.URL, "42", nil)
	if resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/invoices/"+id+"/create-movement",
		map[string]any{"coreId": "core-1"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("create movement status = %d", resp.StatusCode)
	}

	// Flow date is the issue date (no payment terms): January 2025.
	resp, decoded := doJSON(t, http.MethodGet, ts.URL+"/api/movements?year=2025&month=1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if decoded["count"] != float64(1) {
		t.Errorf("count = %v, want 1", decoded["count"])
	}

	t.Run("empty month", func(t *testing.T) {
		_, decoded := doJSON(t, http.MethodGet, ts.URL+"/api/movements?year=2025&month=6", nil)
		if decoded["count"] != float64(0) {
			t.Errorf("count = %v, want 0", decoded["count"])
		}
	})

	t.Run("invalid month", func(t *testing.T) {
		resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/movements?year=2025&month=13", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("second read hits the cache", func(t *testing.T) {
		s, ts := newTestServerWithMovement(t)
		doJSON(t, http.MethodGet, ts.URL+"/api/movements?year=2025&month=1", nil)
		doJSON(t, http.MethodGet, ts.URL+"/api/movements?year=2025&month=1", nil)
		if hits := atomic.LoadInt64(&s.appMetrics.cacheHits); hits == 0 {
			t.Error("expected the repeated month listing to hit the cache")
		}
	})
}

// newTestServerWithMovement starts a server seeded with one generated movement.
func newTestServerWithMovement(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s, ts := newTestServer(t)
	id := createTestInvoice(t, ts.URL, "42", nil)
	if resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/invoices/"+id+"/create-movement",
		map[string]any{"coreId": "core-1"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("create movement status = %d", resp.StatusCode)
	}
	return s, ts
}

func TestCashflowEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	// One income and one expense in different months.
	income := createTestInvoice(t, ts.URL, "42", nil)
	expense := createTestInvoice(t, ts.URL, "7", map[string]any{
		"direction":   "incoming",
		"totalAmount": "400.00",
		"issueDate":   "2025-03-10",
		"customerId":  "",
		"supplierId":  "supp-1",
	})
	for _, id := range []string{income, expense} {
		if resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/invoices/"+id+"/create-movement",
			map[string]any{"coreId": "core-1"}); resp.StatusCode != http.StatusOK {
			t.Fatalf("create movement status = %d, body = %v", resp.StatusCode, body)
		}
	}

	resp, decoded := doJSON(t, http.MethodGet, ts.URL+"/api/dashboard/cashflow?year=2025", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cashflow status = %d", resp.StatusCode)
	}
	if decoded["totalIncome"] != "1200.00" {
		t.Errorf("totalIncome = %v, want 1200.00", decoded["totalIncome"])
	}
	if decoded["totalExpense"] != "400.00" {
		t.Errorf("totalExpense = %v, want 400.00", decoded["totalExpense"])
	}
	if decoded["totalNet"] != "800.00" {
		t.Errorf("totalNet = %v, want 800.00", decoded["totalNet"])
	}
	months, _ := decoded["months"].([]any)
	if len(months) != 12 {
		t.Fatalf("months = %d, want 12", len(months))
	}
	january := months[0].(map[string]any)
	if january["income"] != "1200.00" {
		t.Errorf("january income = %v, want 1200.00", january["income"])
	}
	march := months[2].(map[string]any)
	if march["expense"] != "400.00" {
		t.Errorf("march expense = %v, want 400.00", march["expense"])
	}
}

func TestHealthEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	resp, decoded := doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}
	if decoded["status"] != "ok" {
		t.Errorf("healthz status field = %v, want ok", decoded["status"])
	}

	resp, decoded = doJSON(t, http.MethodGet, ts.URL+"/readyz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz status = %d, want 200", resp.StatusCode)
	}
	if decoded["status"] != "ready" {
		t.Errorf("readyz status field = %v, want ready", decoded["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServerWithMovement(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	body := string(raw)

	for _, want := range []string{
		"movements_created_total 1",
		"http_requests_total",
		"cache_entries{type=\"cashflow\"}",
		"uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRateLimiting(t *testing.T) {
	_, ts := newTestServer(t)

	id := createTestInvoice(t, ts.URL, "42", nil)

	var limited bool
	for i := 0; i < 70; i++ {
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/invoices/"+id+"/sync-status", nil)
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			if resp.Header.Get("Retry-After") != "60" {
				t.Errorf("Retry-After = %q, want 60", resp.Header.Get("Retry-After"))
			}
			break
		}
	}
	if !limited {
		t.Error("expected a 429 after exceeding the per-minute request budget")
	}
}

func TestParseMonthParams(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantYear  int
		wantMonth int
	}{
		{"explicit year and month", "year=2024&month=7", 2024, 7},
		{"month only keeps current year", "month=3", 0, 3},
		{"garbage falls back to now", "year=abc&month=xyz", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("parse query: %v", err)
			}
			got := ParseMonthParams(values)
			if tt.wantYear != 0 && got.Year != tt.wantYear {
				t.Errorf("Year = %d, want %d", got.Year, tt.wantYear)
			}
			if tt.wantMonth != 0 && got.Month != tt.wantMonth {
				t.Errorf("Month = %d, want %d", got.Month, tt.wantMonth)
			}
			if got.Month < 1 || got.Month > 12 {
				t.Errorf("Month = %d out of range", got.Month)
			}
		})
	}
}
