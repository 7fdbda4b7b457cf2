package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"tradeengine/src/auth"
	"tradeengine/src/model"
	"tradeengine/src/repository"
)

type mockBreakerSearcher struct {
	states      []model.CircuitBreakerState
	err         error
	opts        repository.BreakerSearchOptions
	calledCount int
}

func (m *mockBreakerSearcher) Search(ctx context.Context, opts repository.BreakerSearchOptions) ([]model.CircuitBreakerState, error) {
	m.calledCount++
	m.opts = opts
	return m.states, m.err
}

type mockBreakerResolver struct {
	err         error
	breakerID   uint
	operator    string
	calledCount int
}

func (m *mockBreakerResolver) ResolveByOperator(ctx context.Context, breakerID uint, operator string) error {
	m.calledCount++
	m.breakerID = breakerID
	m.operator = operator
	return m.err
}

func resolveRouter(resolver breakerResolver) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/breakers/{id}/resolve", ResolveBreakerHandler(resolver))
	return r
}

func TestSearchBreakersHandler_Success(t *testing.T) {
	states := []model.CircuitBreakerState{{ID: 1, AccountID: 3, Status: model.BreakerStatusActive}}
	mockRepo := &mockBreakerSearcher{states: states}
	handler := SearchBreakersHandler(mockRepo)

	req := httptest.NewRequest(http.MethodGet, "/breakers?accountId=3&status=active", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	if mockRepo.opts.AccountID != 3 || mockRepo.opts.Status != "active" {
		t.Fatalf("expected filters to pass through, got %+v", mockRepo.opts)
	}
}

func TestSearchBreakersHandler_RepoError(t *testing.T) {
	handler := SearchBreakersHandler(&mockBreakerSearcher{err: assert.AnError})

	req := httptest.NewRequest(http.MethodGet, "/breakers", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}

func TestResolveBreakerHandler_OperatorFromPayload(t *testing.T) {
	resolver := &mockBreakerResolver{}
	router := resolveRouter(resolver)

	req := httptest.NewRequest(http.MethodPost, "/breakers/12/resolve", strings.NewReader(`{"operator":"alice"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if resolver.breakerID != 12 {
		t.Fatalf("expected breaker ID 12, got %d", resolver.breakerID)
	}

	if resolver.operator != "alice" {
		t.Fatalf("expected operator alice, got %q", resolver.operator)
	}
}

func TestResolveBreakerHandler_OperatorFromContext(t *testing.T) {
	resolver := &mockBreakerResolver{}
	router := resolveRouter(resolver)

	req := httptest.NewRequest(http.MethodPost, "/breakers/12/resolve", nil)
	req = req.WithContext(auth.WithOperator(req.Context(), "bob"))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if resolver.operator != "bob" {
		t.Fatalf("expected operator bob, got %q", resolver.operator)
	}
}

func TestResolveBreakerHandler_MissingOperator(t *testing.T) {
	resolver := &mockBreakerResolver{}
	router := resolveRouter(resolver)

	req := httptest.NewRequest(http.MethodPost, "/breakers/12/resolve", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	if resolver.calledCount != 0 {
		t.Fatalf("expected resolver not to be called")
	}
}

func TestResolveBreakerHandler_InvalidID(t *testing.T) {
	router := resolveRouter(&mockBreakerResolver{})

	req := httptest.NewRequest(http.MethodPost, "/breakers/abc/resolve", strings.NewReader(`{"operator":"alice"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestResolveBreakerHandler_NotFound(t *testing.T) {
	resolver := &mockBreakerResolver{err: fmt.Errorf("circuit breaker 99: %w", repository.ErrBreakerNotFound)}
	router := resolveRouter(resolver)

	req := httptest.NewRequest(http.MethodPost, "/breakers/99/resolve", strings.NewReader(`{"operator":"alice"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestResolveBreakerHandler_AlreadyResolved(t *testing.T) {
	resolver := &mockBreakerResolver{err: repository.ErrBreakerAlreadyResolved}
	router := resolveRouter(resolver)

	req := httptest.NewRequest(http.MethodPost, "/breakers/12/resolve", strings.NewReader(`{"operator":"alice"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestResolveBreakerHandler_ResolverError(t *testing.T) {
	resolver := &mockBreakerResolver{err: assert.AnError}
	router := resolveRouter(resolver)

	req := httptest.NewRequest(http.MethodPost, "/breakers/12/resolve", strings.NewReader(`{"operator":"alice"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}
