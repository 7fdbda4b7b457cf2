package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireTokenRejectsMissingToken(t *testing.T) {
	handler := RequireToken("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestRequireTokenRejectsWrongToken(t *testing.T) {
	handler := RequireToken("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestRequireTokenAcceptsMatchingToken(t *testing.T) {
	handler := RequireToken("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestRequireTokenEmptyTokenDisablesCheck(t *testing.T) {
	handler := RequireToken("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestRequireTokenStoresOperator(t *testing.T) {
	var operator string
	var found bool

	handler := RequireToken("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator, found = GetOperatorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/breakers/1/resolve", nil)
	req.Header.Set("X-Operator", "alice")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if !found {
		t.Fatalf("expected operator in context")
	}
	if operator != "alice" {
		t.Fatalf("expected operator alice, got %q", operator)
	}
}

func TestGetOperatorFromContextMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	if _, ok := GetOperatorFromContext(req.Context()); ok {
		t.Fatalf("expected no operator on a bare context")
	}
}
