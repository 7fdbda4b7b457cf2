package repository

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"tradeengine/src/model"
)

// newTestDB opens a named in-memory SQLite database (one per test, so state
// never leaks across tests through the shared cache) and migrates the given
// models.
func newTestDB(t *testing.T, models ...interface{}) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open in memory db: %v", err)
	}

	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to automigrate: %v", err)
	}

	return db
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	return gdb, mock
}

func ptrTime(val time.Time) *time.Time {
	return &val
}

func ptrUint(val uint) *uint {
	return &val
}

func dec(val string) decimal.Decimal {
	return decimal.RequireFromString(val)
}

func seedFill(t *testing.T, db *gorm.DB, fill model.Fill) model.Fill {
	t.Helper()
	if err := db.Create(&fill).Error; err != nil {
		t.Fatalf("failed to seed fill %s: %v", fill.ExchangeOrderID, err)
	}
	return fill
}

func entryFill(strategyID uint, orderID string, filledAt time.Time, price, qty string) model.Fill {
	return model.Fill{
		AccountID:        1,
		StrategyID:       strategyID,
		Symbol:           "BTCUSDT",
		ExchangeOrderID:  orderID,
		Side:             model.SideBuy,
		PositionSide:     model.PositionSideLong,
		OrderType:        "MARKET",
		AvgPrice:         dec(price),
		OrigQuantity:     dec(qty),
		ExecutedQuantity: dec(qty),
		Fee:              dec("0.02"),
		FeeAsset:         "USDT",
		Leverage:         5,
		MarginMode:       "cross",
		Status:           model.FillStatusFilled,
		FilledAt:         ptrTime(filledAt),
	}
}

func TestFillRepositoryCreateWritesAuditEvent(t *testing.T) {
	db := newTestDB(t, &model.Fill{}, &model.FillEvent{})
	repo := (&FillRepository{}).WithDB(db)

	fill := entryFill(2, "900001", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), "50000", "0.1")

	if err := repo.Create(context.Background(), &fill); err != nil {
		t.Fatalf("expected create to succeed, got %v", err)
	}
	if fill.ID == 0 {
		t.Fatalf("expected fill ID to be assigned")
	}

	var events []model.FillEvent
	if err := db.Where("fill_id = ?", fill.ID).Find(&events).Error; err != nil {
		t.Fatalf("failed to load fill events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	if events[0].Event != model.FillEventCreated {
		t.Fatalf("expected %q event, got %q", model.FillEventCreated, events[0].Event)
	}
	if events[0].StrategyID == nil || *events[0].StrategyID != 2 {
		t.Fatalf("expected audit event to carry strategy id 2, got %+v", events[0].StrategyID)
	}
}

func TestFillRepositoryUpdateAppendsEvent(t *testing.T) {
	db := newTestDB(t, &model.Fill{}, &model.FillEvent{})
	repo := (&FillRepository{}).WithDB(db)
	ctx := context.Background()

	fill := entryFill(2, "900002", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), "50000", "0.2")
	fill.Status = model.FillStatusPartiallyFilled
	fill.ExecutedQuantity = dec("0.1")

	if err := repo.Create(ctx, &fill); err != nil {
		t.Fatalf("expected create to succeed, got %v", err)
	}

	fill.Status = model.FillStatusFilled
	fill.ExecutedQuantity = dec("0.2")

	if err := repo.Update(ctx, &fill, model.FillEventStatusChange, "order fully filled"); err != nil {
		t.Fatalf("expected update to succeed, got %v", err)
	}

	reloaded, err := repo.FindByID(ctx, fill.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("expected to reload fill, got %+v err=%v", reloaded, err)
	}
	if reloaded.Status != model.FillStatusFilled {
		t.Fatalf("expected status FILLED, got %s", reloaded.Status)
	}
	if !reloaded.ExecutedQuantity.Equal(dec("0.2")) {
		t.Fatalf("expected executed quantity 0.2, got %s", reloaded.ExecutedQuantity)
	}

	var count int64
	if err := db.Model(&model.FillEvent{}).Where("fill_id = ?", fill.ID).Count(&count).Error; err != nil {
		t.Fatalf("failed to count events: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 audit events after update, got %d", count)
	}
}

func TestFillRepositoryFindByIdentifiers(t *testing.T) {
	db := newTestDB(t, &model.Fill{}, &model.FillEvent{})
	repo := (&FillRepository{}).WithDB(db)
	ctx := context.Background()

	fill := entryFill(2, "900003", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), "50000", "0.1")
	fill.ClientOrderID = "te-11aa22bb"
	seedFill(t, db, fill)

	byExchange, err := repo.FindByExchangeOrderID(ctx, 1, "BTCUSDT", "900003")
	if err != nil || byExchange == nil {
		t.Fatalf("expected fill by exchange order id, got %+v err=%v", byExchange, err)
	}

	byClient, err := repo.FindByClientOrderID(ctx, 1, "te-11aa22bb")
	if err != nil || byClient == nil {
		t.Fatalf("expected fill by client order id, got %+v err=%v", byClient, err)
	}
	if byClient.ID != byExchange.ID {
		t.Fatalf("identifier lookups disagree: %d vs %d", byClient.ID, byExchange.ID)
	}

	missing, err := repo.FindByExchangeOrderID(ctx, 1, "BTCUSDT", "does-not-exist")
	if err != nil {
		t.Fatalf("expected no error for missing fill, got %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing fill, got %+v", missing)
	}
}

func TestFillRepositoryFindOpenEntriesFIFO(t *testing.T) {
	db := newTestDB(t, &model.Fill{}, &model.FillEvent{})
	repo := (&FillRepository{}).WithDB(db)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Second entry chronologically, created first: ordering must follow
	// filled_at, not insertion order.
	newer := seedFill(t, db, entryFill(2, "1001", base.Add(10*time.Minute), "50500", "0.2"))
	oldest := seedFill(t, db, entryFill(2, "1000", base, "50000", "0.1"))

	partial := entryFill(2, "1002", base.Add(20*time.Minute), "50800", "0.3")
	partial.Status = model.FillStatusPartiallyFilled
	partial.ExecutedQuantity = dec("0.05")
	partial = seedFill(t, db, partial)

	exitSide := entryFill(2, "1003", base.Add(5*time.Minute), "50900", "0.1")
	exitSide.Side = model.SideSell
	seedFill(t, db, exitSide)

	canceled := entryFill(2, "1004", base.Add(6*time.Minute), "50000", "0.1")
	canceled.Status = model.FillStatusCanceled
	canceled.ExecutedQuantity = decimal.Zero
	seedFill(t, db, canceled)

	otherStrategy := entryFill(9, "1005", base.Add(1*time.Minute), "50000", "0.1")
	seedFill(t, db, otherStrategy)

	otherSymbol := entryFill(2, "1006", base.Add(2*time.Minute), "3000", "1")
	otherSymbol.Symbol = "ETHUSDT"
	seedFill(t, db, otherSymbol)

	shortSide := entryFill(2, "1007", base.Add(3*time.Minute), "50000", "0.1")
	shortSide.PositionSide = model.PositionSideShort
	seedFill(t, db, shortSide)

	candidates, err := repo.FindOpenEntriesForUpdate(ctx, 2, "BTCUSDT", model.PositionSideLong)
	if err != nil {
		t.Fatalf("expected candidates, got error %v", err)
	}

	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d: %+v", len(candidates), candidates)
	}

	wantOrder := []uint{oldest.ID, newer.ID, partial.ID}
	for i, want := range wantOrder {
		if candidates[i].ID != want {
			t.Fatalf("candidate %d: expected fill %d, got %d", i, want, candidates[i].ID)
		}
	}
}

func TestFillRepositorySearch(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &FillRepository{db: mockDB}

	fillRows := func(ids ...uint) *sqlmock.Rows {
		rows := sqlmock.NewRows([]string{"id", "account_id", "symbol", "status"})
		for _, id := range ids {
			rows.AddRow(id, 7, "BTCUSDT", "FILLED")
		}
		return rows
	}

	t.Run("filters by account", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "fills" WHERE account_id = $1 ORDER BY id DESC`)).
			WithArgs(uint(7)).
			WillReturnRows(fillRows(3, 2, 1))

		results, err := repo.Search(context.Background(), FillSearchOptions{AccountID: 7})
		if err != nil {
			t.Fatalf("unexpected error searching fills: %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("expected 3 fills, got %d", len(results))
		}
	})

	t.Run("filters by strategy, symbol and status", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "fills" WHERE account_id = $1 AND strategy_id = $2 AND symbol = $3 AND status = $4 ORDER BY id DESC`)).
			WithArgs(uint(7), uint(2), "BTCUSDT", "FILLED").
			WillReturnRows(fillRows(5))

		opts := FillSearchOptions{
			AccountID:  7,
			StrategyID: ptrUint(2),
			Symbol:     "BTCUSDT",
			Status:     model.FillStatusFilled,
		}

		results, err := repo.Search(context.Background(), opts)
		if err != nil {
			t.Fatalf("unexpected error searching fills: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("expected 1 fill, got %d", len(results))
		}
	})

	t.Run("applies pagination", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "fills" WHERE account_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3`)).
			WithArgs(uint(7), 2, 4).
			WillReturnRows(fillRows(9, 8))

		results, err := repo.Search(context.Background(), FillSearchOptions{AccountID: 7, Limit: 2, Offset: 4})
		if err != nil {
			t.Fatalf("unexpected error searching fills: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("expected 2 fills, got %d", len(results))
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}
