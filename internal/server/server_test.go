package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"

	"finserv-backend/internal/auth"
	"finserv-backend/internal/config"
	"finserv-backend/internal/store"
)

func newTestServer(t *testing.T) (*fiber.App, *store.MemDB) {
	t.Helper()
	db := store.NewMemDB()
	cfg := config.Config{
		Pagination: config.PaginationConfig{Limit: 10, MaxLimit: 500},
		Storage:    config.StorageConfig{Path: t.TempDir()},
		JWTSecret:  "test-secret",
	}
	return New(cfg, db), db
}

func request(t *testing.T, app *fiber.App, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, path, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

// registerAndLogin creates an account through the API and returns its access
// token.
func registerAndLogin(t *testing.T, app *fiber.App, mobile, role string) string {
	t.Helper()
	resp, body := request(t, app, "POST", "/api/auth/register", "", map[string]any{
		"name": "User " + mobile, "mobile": mobile, "password": "s3cret", "role": role,
	})
	if resp.StatusCode != 201 {
		t.Fatalf("register: %d %v", resp.StatusCode, body)
	}
	resp, body = request(t, app, "POST", "/api/auth/login", "", map[string]any{
		"mobile": mobile, "password": "s3cret",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("login: %d %v", resp.StatusCode, body)
	}
	data, _ := body["data"].(map[string]any)
	tokens, _ := data["tokens"].(map[string]any)
	token, _ := tokens["access_token"].(string)
	return token
}

// seedAdmin inserts an admin directly; admins cannot self-register.
func seedAdmin(t *testing.T, app *fiber.App, db *store.MemDB) string {
	t.Helper()
	hash, err := auth.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := db.Collection("users").Insert(context.Background(), store.Record{
		"name": "Root", "mobile": "9000000000", "password": hash, "role": "admin", "isBlocked": false,
	}); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	_, body := request(t, app, "POST", "/api/auth/login", "", map[string]any{
		"mobile": "9000000000", "password": "s3cret",
	})
	data, _ := body["data"].(map[string]any)
	tokens, _ := data["tokens"].(map[string]any)
	token, _ := tokens["access_token"].(string)
	return token
}

func TestHealth(t *testing.T) {
	app, _ := newTestServer(t)
	resp, body := request(t, app, "GET", "/health", "", nil)
	if resp.StatusCode != 200 || body["status"] != "ok" {
		t.Fatalf("unexpected health response: %d %v", resp.StatusCode, body)
	}
}

func TestRoleGates(t *testing.T) {
	app, _ := newTestServer(t)
	customer := registerAndLogin(t, app, "9100000001", "customer")

	if resp, _ := request(t, app, "GET", "/api/customer/loans", "", nil); resp.StatusCode != 401 {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if resp, _ := request(t, app, "GET", "/api/agent/loans", customer, nil); resp.StatusCode != 403 {
		t.Fatalf("expected 403 for customer on agent surface, got %d", resp.StatusCode)
	}
	if resp, _ := request(t, app, "GET", "/api/admin/stats", customer, nil); resp.StatusCode != 403 {
		t.Fatalf("expected 403 for customer on admin surface, got %d", resp.StatusCode)
	}
}

func TestLoanLifecycleAcrossRoles(t *testing.T) {
	app, db := newTestServer(t)
	agentToken := registerAndLogin(t, app, "9100000002", "agent")
	customerToken := registerAndLogin(t, app, "9100000003", "customer")

	// Customer applies; an agent is assigned and the history is seeded.
	resp, body := request(t, app, "POST", "/api/customer/loans", customerToken, map[string]any{
		"amount": 50000, "tenure": 12, "purpose": "bike",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("create loan: %d %v", resp.StatusCode, body)
	}
	data, _ := body["data"].(map[string]any)
	loanID, _ := data["id"].(string)
	if agent, _ := data["agent"].(string); agent == "" {
		t.Fatalf("expected agent assigned, got %v", data["agent"])
	}

	// Rules gate creation.
	resp, _ = request(t, app, "POST", "/api/customer/loans", customerToken, map[string]any{"tenure": 12})
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400 without amount, got %d", resp.StatusCode)
	}

	// Customer cannot act while the application is pending.
	resp, _ = request(t, app, "PUT", "/api/customer/loans/"+loanID, customerToken, map[string]any{
		"documents": map[string]any{"pan": "file-1"},
	})
	if resp.StatusCode != 403 {
		t.Fatalf("expected 403 in pending, got %d", resp.StatusCode)
	}

	// Agent requests documents.
	resp, body = request(t, app, "PUT", "/api/agent/loans/"+loanID, agentToken, map[string]any{
		"state":            "missingDocuments",
		"missingDocuments": []any{map[string]any{"name": "PAN"}},
		"remark":           "please upload your PAN card",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("agent update: %d %v", resp.StatusCode, body)
	}

	// Now the customer may submit documents.
	resp, _ = request(t, app, "PUT", "/api/customer/loans/"+loanID, customerToken, map[string]any{
		"documents": map[string]any{"pan": "file-1"},
	})
	if resp.StatusCode != 200 {
		t.Fatalf("customer update: %d", resp.StatusCode)
	}

	// Agent accepts.
	resp, _ = request(t, app, "PUT", "/api/agent/loans/"+loanID, agentToken, map[string]any{
		"state": "accepted", "remark": "verified",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("accept: %d", resp.StatusCode)
	}

	// Customer sees their notifications.
	resp, body = request(t, app, "GET", "/api/customer/notifications", customerToken, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("notifications: %d", resp.StatusCode)
	}
	if body["count"].(float64) < 2 {
		t.Fatalf("expected at least 2 notifications, got %v", body["count"])
	}

	// Admin sees the accepted application in the stats.
	adminToken := seedAdmin(t, app, db)
	resp, body = request(t, app, "GET", "/api/admin/stats?type=loan", adminToken, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("stats: %d %v", resp.StatusCode, body)
	}
	stats, _ := body["data"].(map[string]any)
	if stats["accepted"].(float64) != 1 {
		t.Fatalf("expected 1 accepted, got %v", stats["accepted"])
	}
}

func TestCustomerScopingAcrossUsers(t *testing.T) {
	app, _ := newTestServer(t)
	registerAndLogin(t, app, "9100000004", "agent")
	alice := registerAndLogin(t, app, "9100000005", "customer")
	bob := registerAndLogin(t, app, "9100000006", "customer")

	resp, body := request(t, app, "POST", "/api/customer/loans", alice, map[string]any{"amount": 50000})
	if resp.StatusCode != 201 {
		t.Fatalf("create: %d %v", resp.StatusCode, body)
	}

	_, body = request(t, app, "GET", "/api/customer/loans", bob, nil)
	if body["count"].(float64) != 0 {
		t.Fatalf("expected bob to see no loans, got %v", body["count"])
	}
	_, body = request(t, app, "GET", "/api/customer/loans", alice, nil)
	if body["count"].(float64) != 1 {
		t.Fatalf("expected alice to see her loan, got %v", body["count"])
	}
}

func TestCreateWithoutAgentsIs503(t *testing.T) {
	app, _ := newTestServer(t)
	customer := registerAndLogin(t, app, "9100000007", "customer")

	resp, body := request(t, app, "POST", "/api/customer/loans", customer, map[string]any{"amount": 50000})
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503 with empty agent pool, got %d %v", resp.StatusCode, body)
	}
}

func TestBlockedUserLockedOut(t *testing.T) {
	app, db := newTestServer(t)
	registerAndLogin(t, app, "9100000008", "agent")
	customer := registerAndLogin(t, app, "9100000009", "customer")
	adminToken := seedAdmin(t, app, db)

	users, err := db.Collection("users").Find(context.Background(), store.Filter{"mobile": "9100000009"}, store.FindOptions{Limit: 1})
	if err != nil || len(users) == 0 {
		t.Fatalf("lookup user: %v", err)
	}
	id, _ := users[0]["id"].(string)

	req, _ := http.NewRequest("PUT", "/api/admin/users/"+id+"/block", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := app.Test(req, -1)
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("block: %v %d", err, resp.StatusCode)
	}

	// The still-valid token no longer grants access.
	resp, _ = request(t, app, "GET", "/api/customer/loans", customer, nil)
	if resp.StatusCode != 403 {
		t.Fatalf("expected 403 for blocked customer, got %d", resp.StatusCode)
	}
}

func TestProductListFiltersAndTypeExpansion(t *testing.T) {
	app, db := newTestServer(t)
	agentToken := registerAndLogin(t, app, "9100000012", "agent")
	customerToken := registerAndLogin(t, app, "9100000013", "customer")

	category, err := db.Collection("categories").Insert(context.Background(), store.Record{
		"name": "Personal Loan",
	})
	if err != nil {
		t.Fatalf("seed category: %v", err)
	}
	categoryID, _ := category["id"].(string)

	resp, body := request(t, app, "POST", "/api/customer/loans", customerToken, map[string]any{
		"amount": 50000, "loanType": categoryID,
	})
	if resp.StatusCode != 201 {
		t.Fatalf("create: %d %v", resp.StatusCode, body)
	}
	data, _ := body["data"].(map[string]any)
	loanID, _ := data["id"].(string)

	resp, body = request(t, app, "POST", "/api/customer/loans", customerToken, map[string]any{"amount": 60000})
	if resp.StatusCode != 201 {
		t.Fatalf("create second: %d %v", resp.StatusCode, body)
	}

	// Customers filter their applications by loan type.
	_, body = request(t, app, "GET", "/api/customer/loans?loanType="+categoryID, customerToken, nil)
	if body["count"].(float64) != 1 {
		t.Fatalf("expected 1 loan of type %s, got %v", categoryID, body["count"])
	}
	listed, _ := body["data"].([]any)
	first, _ := listed[0].(map[string]any)
	expanded, _ := first["loanType"].(map[string]any)
	if expanded == nil || expanded["name"] != "Personal Loan" {
		t.Fatalf("expected loanType expanded to the category, got %v", first["loanType"])
	}

	// Agents filter their book by current state.
	resp, _ = request(t, app, "PUT", "/api/agent/loans/"+loanID, agentToken, map[string]any{"state": "accepted"})
	if resp.StatusCode != 200 {
		t.Fatalf("accept: %d", resp.StatusCode)
	}

	_, body = request(t, app, "GET", "/api/agent/loans", agentToken, nil)
	if body["count"].(float64) != 2 {
		t.Fatalf("expected 2 loans in the book, got %v", body["count"])
	}
	_, body = request(t, app, "GET", "/api/agent/loans?status.state=accepted", agentToken, nil)
	if body["count"].(float64) != 1 {
		t.Fatalf("expected 1 accepted loan, got %v", body["count"])
	}
	_, body = request(t, app, "GET", "/api/agent/loans?loanType="+categoryID, agentToken, nil)
	if body["count"].(float64) != 1 {
		t.Fatalf("expected 1 loan of type %s in the book, got %v", categoryID, body["count"])
	}
}

func TestUnexpectedErrorsAreInternal(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: errorHandler})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	resp, body := request(t, app, "GET", "/boom", "", nil)
	if resp.StatusCode != 500 {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	errObj, _ := body["error"].(map[string]any)
	if errObj["code"] != "INTERNAL" {
		t.Fatalf("expected INTERNAL code, got %v", errObj["code"])
	}
}

func TestInsuranceUsesNarrowLifecycle(t *testing.T) {
	app, _ := newTestServer(t)
	agentToken := registerAndLogin(t, app, "9100000010", "agent")
	customerToken := registerAndLogin(t, app, "9100000011", "customer")

	resp, body := request(t, app, "POST", "/api/customer/insurances", customerToken, map[string]any{
		"policyType": "term", "coverage": 1000000,
	})
	if resp.StatusCode != 201 {
		t.Fatalf("create insurance: %d %v", resp.StatusCode, body)
	}
	data, _ := body["data"].(map[string]any)
	id, _ := data["id"].(string)

	resp, _ = request(t, app, "PUT", "/api/agent/insurances/"+id, agentToken, map[string]any{"state": "disbursed"})
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400 for loan-only state on insurance, got %d", resp.StatusCode)
	}
	resp, _ = request(t, app, "PUT", "/api/agent/insurances/"+id, agentToken, map[string]any{"state": "accepted"})
	if resp.StatusCode != 200 {
		t.Fatalf("expected accepted allowed, got %d", resp.StatusCode)
	}
}
