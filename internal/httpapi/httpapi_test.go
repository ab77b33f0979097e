package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"puntoventa/backend/internal/cache"
	"puntoventa/backend/internal/service"
	"puntoventa/backend/internal/store/memory"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin-secreto")
	t.Setenv("SEED_CASHIER_PASSWORD", "cajero-secreto")

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopCatalogCache{}, time.Minute)
	auth := NewAuthManager(testSecret, time.Hour, repo)
	return New(svc, auth, "http://127.0.0.1:3000").Handler()
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func loginAs(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()
	recorder := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, recorder.Code, recorder.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func TestHealthz(t *testing.T) {
	handler := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestRequestsWithoutTokenRejected(t *testing.T) {
	handler := newTestHandler(t)

	recorder := doJSON(t, handler, http.MethodGet, "/api/v1/products", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestLoginGrantsAccess(t *testing.T) {
	handler := newTestHandler(t)
	token := loginAs(t, handler, "cajero", "cajero-secreto")

	recorder := doJSON(t, handler, http.MethodGet, "/api/v1/products", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", recorder.Code, recorder.Body.String())
	}
	var resp struct {
		Products []struct {
			SKU string `json:"sku"`
		} `json:"products"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode products: %v", err)
	}
	if len(resp.Products) == 0 {
		t.Fatalf("expected seeded products, got none")
	}
}

func TestCashierForbiddenFromStockEndpoints(t *testing.T) {
	handler := newTestHandler(t)
	token := loginAs(t, handler, "cajero", "cajero-secreto")

	recorder := doJSON(t, handler, http.MethodPost, "/api/v1/stock/receive", token, map[string]any{
		"product_id": "prod-agua",
		"qty":        10,
	})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body %s", recorder.Code, recorder.Body.String())
	}
}

func TestSaleOverStockReturnsConflictWithCode(t *testing.T) {
	handler := newTestHandler(t)
	token := loginAs(t, handler, "cajero", "cajero-secreto")

	recorder := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"payment_method": "cash",
		"lines": []map[string]any{
			{"product_id": "prod-agua", "qty": 100, "unit_price_cents": 90000},
		},
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body %s", recorder.Code, recorder.Body.String())
	}
	var resp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != "insufficient_stock" {
		t.Fatalf("expected insufficient_stock code, got %q", resp.Code)
	}
}

func TestSaleAndCancelRoundTrip(t *testing.T) {
	handler := newTestHandler(t)
	token := loginAs(t, handler, "cajero", "cajero-secreto")

	if rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/open", token, map[string]any{
		"opening_cents": 500000,
	}); rec.Code != http.StatusCreated {
		t.Fatalf("open session: status %d body %s", rec.Code, rec.Body.String())
	}

	saleRec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"payment_method": "cash",
		"lines": []map[string]any{
			{"product_id": "prod-agua", "qty": 2, "unit_price_cents": 90000},
		},
	})
	if saleRec.Code != http.StatusCreated {
		t.Fatalf("commit sale: status %d body %s", saleRec.Code, saleRec.Body.String())
	}
	var committed struct {
		Sale struct {
			ID         string `json:"id"`
			TotalCents int64  `json:"total_cents"`
		} `json:"sale"`
	}
	if err := json.Unmarshal(saleRec.Body.Bytes(), &committed); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if committed.Sale.TotalCents != 180000 {
		t.Fatalf("expected total 180000, got %d", committed.Sale.TotalCents)
	}

	cancelRec := doJSON(t, handler, http.MethodPost, "/api/v1/sales/"+committed.Sale.ID+"/cancel", token, map[string]any{
		"reason": "cliente se arrepintio",
	})
	if cancelRec.Code != http.StatusOK {
		t.Fatalf("cancel sale: status %d body %s", cancelRec.Code, cancelRec.Body.String())
	}
	var cancelled struct {
		Sale struct {
			Status string `json:"status"`
		} `json:"sale"`
	}
	if err := json.Unmarshal(cancelRec.Body.Bytes(), &cancelled); err != nil {
		t.Fatalf("decode cancelled sale: %v", err)
	}
	if cancelled.Sale.Status != "cancelled" {
		t.Fatalf("expected cancelled status, got %s", cancelled.Sale.Status)
	}
}

func TestAuditLogsAdminOnly(t *testing.T) {
	handler := newTestHandler(t)

	cashierToken := loginAs(t, handler, "cajero", "cajero-secreto")
	if rec := doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs", cashierToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	adminToken := loginAs(t, handler, "admin", "admin-secreto")
	if rec := doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs", adminToken, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestLoginRateLimited(t *testing.T) {
	handler := newTestHandler(t)

	for i := 0; i < 5; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"username": "cajero",
			"password": "equivocada",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rec.Code)
		}
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "cajero",
		"password": "equivocada",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the limit, got %d", rec.Code)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "cajero",
		"password": "cajero-secreto",
		"extra":    "sorpresa",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}
