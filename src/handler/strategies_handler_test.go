package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"tradeengine/src/model"
	"tradeengine/src/repository"
)

type mockStrategyLister struct {
	strategies  []model.Strategy
	err         error
	opts        repository.StrategySearchOptions
	calledCount int
}

func (m *mockStrategyLister) List(ctx context.Context, opts repository.StrategySearchOptions) ([]model.Strategy, error) {
	m.calledCount++
	m.opts = opts
	return m.strategies, m.err
}

type mockStrategyStore struct {
	strategy   *model.Strategy
	findErr    error
	setErr     error
	setID      uint
	setStatus  string
	setCalled  int
	findCalled int
}

func (m *mockStrategyStore) FindByID(ctx context.Context, id uint) (*model.Strategy, error) {
	m.findCalled++
	return m.strategy, m.findErr
}

func (m *mockStrategyStore) SetStatus(ctx context.Context, id uint, status string) error {
	m.setCalled++
	m.setID = id
	m.setStatus = status
	return m.setErr
}

type mockBreakerGuard struct {
	active bool
	err    error
}

func (m *mockBreakerGuard) IsActive(ctx context.Context, accountID, strategyID uint) (bool, error) {
	return m.active, m.err
}

func strategyRouter(store *mockStrategyStore, guard *mockBreakerGuard) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/strategies/{id}/start", StartStrategyHandler(store, guard))
	r.Post("/strategies/{id}/stop", StopStrategyHandler(store))
	return r
}

func TestListStrategiesHandler_Success(t *testing.T) {
	strategies := []model.Strategy{{ID: 7, Symbol: "BTCUSDT", Status: model.StrategyStatusRunning}}
	mockRepo := &mockStrategyLister{strategies: strategies}
	handler := ListStrategiesHandler(mockRepo)

	req := httptest.NewRequest(http.MethodGet, "/strategies?accountId=1&status=running", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	if mockRepo.opts.AccountID != 1 || mockRepo.opts.Status != "running" {
		t.Fatalf("expected filters to pass through, got %+v", mockRepo.opts)
	}

	if rr.Body.String() == "" {
		t.Fatalf("expected response body to be set")
	}
}

func TestListStrategiesHandler_RepoError(t *testing.T) {
	handler := ListStrategiesHandler(&mockStrategyLister{err: assert.AnError})

	req := httptest.NewRequest(http.MethodGet, "/strategies", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}

func TestStartStrategyHandler_StartsStoppedStrategy(t *testing.T) {
	store := &mockStrategyStore{strategy: &model.Strategy{ID: 7, AccountID: 1, Status: model.StrategyStatusStopped}}
	router := strategyRouter(store, &mockBreakerGuard{})

	req := httptest.NewRequest(http.MethodPost, "/strategies/7/start", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if store.setCalled != 1 {
		t.Fatalf("expected one status write, got %d", store.setCalled)
	}

	if store.setID != 7 || store.setStatus != model.StrategyStatusRunning {
		t.Fatalf("expected strategy 7 set to running, got %d/%s", store.setID, store.setStatus)
	}
}

func TestStartStrategyHandler_AlreadyRunningIsNoop(t *testing.T) {
	store := &mockStrategyStore{strategy: &model.Strategy{ID: 7, AccountID: 1, Status: model.StrategyStatusRunning}}
	router := strategyRouter(store, &mockBreakerGuard{})

	req := httptest.NewRequest(http.MethodPost, "/strategies/7/start", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	if store.setCalled != 0 {
		t.Fatalf("expected no status write, got %d", store.setCalled)
	}
}

func TestStartStrategyHandler_BreakerActive(t *testing.T) {
	store := &mockStrategyStore{strategy: &model.Strategy{ID: 7, AccountID: 1, Status: model.StrategyStatusStopped}}
	router := strategyRouter(store, &mockBreakerGuard{active: true})

	req := httptest.NewRequest(http.MethodPost, "/strategies/7/start", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	if store.setCalled != 0 {
		t.Fatalf("expected no status write while breaker active")
	}
}

func TestStartStrategyHandler_NotFound(t *testing.T) {
	router := strategyRouter(&mockStrategyStore{}, &mockBreakerGuard{})

	req := httptest.NewRequest(http.MethodPost, "/strategies/99/start", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestStartStrategyHandler_InvalidID(t *testing.T) {
	router := strategyRouter(&mockStrategyStore{}, &mockBreakerGuard{})

	req := httptest.NewRequest(http.MethodPost, "/strategies/abc/start", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestStopStrategyHandler_StopsRunningStrategy(t *testing.T) {
	store := &mockStrategyStore{strategy: &model.Strategy{ID: 7, AccountID: 1, Status: model.StrategyStatusRunning}}
	router := strategyRouter(store, &mockBreakerGuard{})

	req := httptest.NewRequest(http.MethodPost, "/strategies/7/stop", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	if store.setStatus != model.StrategyStatusStopped {
		t.Fatalf("expected strategy set to stopped, got %q", store.setStatus)
	}
}

func TestStopStrategyHandler_NotFound(t *testing.T) {
	router := strategyRouter(&mockStrategyStore{}, &mockBreakerGuard{})

	req := httptest.NewRequest(http.MethodPost, "/strategies/99/stop", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
