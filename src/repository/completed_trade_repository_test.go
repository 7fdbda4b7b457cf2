package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradeengine/src/model"
)

func testTrade(closeID string, strategyID uint, exitTime time.Time, qty, pnl string, entryFillID, exitFillID uint) model.CompletedTrade {
	return model.CompletedTrade{
		CloseEventID: closeID,
		AccountID:    1,
		StrategyID:   strategyID,
		Symbol:       "BTCUSDT",
		PositionSide: model.PositionSideLong,
		Quantity:     dec(qty),
		EntryPrice:   dec("50000"),
		ExitPrice:    dec("51000"),
		EntryTime:    exitTime.Add(-time.Hour),
		ExitTime:     exitTime,
		RealizedPnL:  dec(pnl),
		FeePaid:      dec("0.04"),
		FundingFee:   dec("0"),
		Leverage:     5,
		MarginMode:   "cross",
		Orders: []model.CompletedTradeOrder{
			{FillID: entryFillID, Role: model.TradeRoleEntry, Quantity: dec(qty)},
			{FillID: exitFillID, Role: model.TradeRoleExit, Quantity: dec(qty)},
		},
	}
}

func TestCompletedTradeRepositoryCreateWithOrders(t *testing.T) {
	db := newTestDB(t, &model.CompletedTrade{}, &model.CompletedTradeOrder{})
	repo := (&CompletedTradeRepository{}).WithDB(db)
	ctx := context.Background()

	exitTime := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	trade := testTrade("close-abc", 2, exitTime, "0.1", "99.9596", 11, 12)

	if err := repo.CreateWithOrders(ctx, &trade); err != nil {
		t.Fatalf("expected create to succeed, got %v", err)
	}
	if trade.ID == 0 {
		t.Fatalf("expected trade ID to be assigned")
	}

	found, err := repo.FindByCloseEventID(ctx, "close-abc")
	if err != nil || found == nil {
		t.Fatalf("expected to find trade by close event id, got %+v err=%v", found, err)
	}
	if len(found.Orders) != 2 {
		t.Fatalf("expected 2 allocation rows preloaded, got %d", len(found.Orders))
	}
	if !found.RealizedPnL.Equal(dec("99.9596")) {
		t.Fatalf("expected pnl 99.9596, got %s", found.RealizedPnL)
	}
}

func TestCompletedTradeRepositoryDuplicateCloseEvent(t *testing.T) {
	db := newTestDB(t, &model.CompletedTrade{}, &model.CompletedTradeOrder{})
	repo := (&CompletedTradeRepository{}).WithDB(db)
	ctx := context.Background()

	exitTime := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	first := testTrade("close-dup", 2, exitTime, "0.1", "10", 11, 12)
	if err := repo.CreateWithOrders(ctx, &first); err != nil {
		t.Fatalf("expected first create to succeed, got %v", err)
	}

	second := testTrade("close-dup", 2, exitTime, "0.1", "10", 11, 12)
	err := repo.CreateWithOrders(ctx, &second)
	if !errors.Is(err, ErrDuplicateCloseEvent) {
		t.Fatalf("expected ErrDuplicateCloseEvent, got %v", err)
	}

	var count int64
	if err := db.Model(&model.CompletedTrade{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count trades: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 trade after duplicate insert, got %d", count)
	}
}

func TestCompletedTradeRepositoryAllocationMismatchRollsBack(t *testing.T) {
	db := newTestDB(t, &model.CompletedTrade{}, &model.CompletedTradeOrder{})
	repo := (&CompletedTradeRepository{}).WithDB(db)
	ctx := context.Background()

	exitTime := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	trade := testTrade("close-bad", 2, exitTime, "0.1", "10", 11, 12)
	// Break the entry leg so sums no longer match the trade quantity.
	trade.Orders[0].Quantity = dec("0.05")

	err := repo.CreateWithOrders(ctx, &trade)
	if !errors.Is(err, ErrAllocationMismatch) {
		t.Fatalf("expected ErrAllocationMismatch, got %v", err)
	}

	var trades, orders int64
	if err := db.Model(&model.CompletedTrade{}).Count(&trades).Error; err != nil {
		t.Fatalf("failed to count trades: %v", err)
	}
	if err := db.Model(&model.CompletedTradeOrder{}).Count(&orders).Error; err != nil {
		t.Fatalf("failed to count allocation rows: %v", err)
	}
	if trades != 0 || orders != 0 {
		t.Fatalf("expected rollback to leave no rows, got %d trades and %d orders", trades, orders)
	}
}

func TestCompletedTradeRepositoryAllocatedQuantities(t *testing.T) {
	db := newTestDB(t, &model.CompletedTrade{}, &model.CompletedTradeOrder{})
	repo := (&CompletedTradeRepository{}).WithDB(db)
	ctx := context.Background()

	exitTime := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	// Two trades consuming the same entry fill 11 with different exits.
	first := testTrade("close-q1", 2, exitTime, "0.04", "5", 11, 12)
	second := testTrade("close-q2", 2, exitTime.Add(time.Hour), "0.05", "6", 11, 13)

	for _, trade := range []*model.CompletedTrade{&first, &second} {
		if err := repo.CreateWithOrders(ctx, trade); err != nil {
			t.Fatalf("failed to seed trade %s: %v", trade.CloseEventID, err)
		}
	}

	allocated, err := repo.AllocatedQuantities(ctx, []uint{11, 99}, model.TradeRoleEntry)
	if err != nil {
		t.Fatalf("expected allocation sums, got error %v", err)
	}

	if got := allocated[11]; !got.Equal(dec("0.09")) {
		t.Fatalf("expected 0.09 allocated against fill 11, got %s", got)
	}
	if _, ok := allocated[99]; ok {
		t.Fatalf("expected no allocation entry for untouched fill 99")
	}

	// Exit-role sums must not leak into entry-role lookups.
	exits, err := repo.AllocatedQuantities(ctx, []uint{12}, model.TradeRoleExit)
	if err != nil {
		t.Fatalf("expected exit sums, got error %v", err)
	}
	if got := exits[12]; !got.Equal(dec("0.04")) {
		t.Fatalf("expected 0.04 allocated against exit fill 12, got %s", got)
	}
}

func TestCompletedTradeRepositoryRealizedPnLSince(t *testing.T) {
	db := newTestDB(t, &model.CompletedTrade{}, &model.CompletedTradeOrder{})
	repo := (&CompletedTradeRepository{}).WithDB(db)
	ctx := context.Background()

	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	trades := []model.CompletedTrade{
		testTrade("close-p1", 2, base.Add(-2*time.Hour), "0.1", "10", 11, 12),
		testTrade("close-p2", 2, base.Add(time.Hour), "0.1", "-5", 13, 14),
		testTrade("close-p3", 3, base.Add(2*time.Hour), "0.1", "7", 15, 16),
	}
	for i := range trades {
		if err := repo.CreateWithOrders(ctx, &trades[i]); err != nil {
			t.Fatalf("failed to seed trade %s: %v", trades[i].CloseEventID, err)
		}
	}

	accountTotal, err := repo.RealizedPnLSince(ctx, 1, nil, base)
	if err != nil {
		t.Fatalf("expected account total, got error %v", err)
	}
	if !accountTotal.Equal(dec("2")) {
		t.Fatalf("expected account pnl 2 since boundary, got %s", accountTotal)
	}

	strategyTotal, err := repo.RealizedPnLSince(ctx, 1, ptrUint(2), base)
	if err != nil {
		t.Fatalf("expected strategy total, got error %v", err)
	}
	if !strategyTotal.Equal(dec("-5")) {
		t.Fatalf("expected strategy pnl -5 since boundary, got %s", strategyTotal)
	}

	empty, err := repo.RealizedPnLSince(ctx, 1, nil, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("expected empty total, got error %v", err)
	}
	if !empty.IsZero() {
		t.Fatalf("expected zero pnl for future boundary, got %s", empty)
	}
}

func TestCompletedTradeRepositoryLastTradesAndSeries(t *testing.T) {
	db := newTestDB(t, &model.CompletedTrade{}, &model.CompletedTradeOrder{})
	repo := (&CompletedTradeRepository{}).WithDB(db)
	ctx := context.Background()

	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	older := testTrade("close-s1", 2, base, "0.1", "10", 11, 12)
	newer := testTrade("close-s2", 2, base.Add(time.Hour), "0.1", "-4", 13, 14)
	newer.FundingFee = dec("-1")

	for _, trade := range []*model.CompletedTrade{&older, &newer} {
		if err := repo.CreateWithOrders(ctx, trade); err != nil {
			t.Fatalf("failed to seed trade %s: %v", trade.CloseEventID, err)
		}
	}

	last, err := repo.LastTrades(ctx, 1, nil, 10)
	if err != nil {
		t.Fatalf("expected recent trades, got error %v", err)
	}
	if len(last) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(last))
	}
	if last[0].CloseEventID != "close-s2" || last[1].CloseEventID != "close-s1" {
		t.Fatalf("trades not returned newest first: %+v", last)
	}

	series, err := repo.RealizedSeries(ctx, 1)
	if err != nil {
		t.Fatalf("expected realized series, got error %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("expected 2 series points, got %d", len(series))
	}
	if !series[0].Realized.Equal(dec("10")) {
		t.Fatalf("expected first point 10, got %s", series[0].Realized)
	}
	// Funding folds into the balance impact: -4 + -1.
	if !series[1].Realized.Equal(dec("-5")) {
		t.Fatalf("expected second point -5, got %s", series[1].Realized)
	}
}
