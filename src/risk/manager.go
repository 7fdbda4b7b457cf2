package risk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/cache"
	"tradeengine/src/metrics"
	"tradeengine/src/model"
	"tradeengine/src/repository"
	"tradeengine/src/utils"
)

// TradeLedger is the slice of the completed-trade repository the limit
// checks read.
type TradeLedger interface {
	RealizedPnLSince(ctx context.Context, accountID uint, strategyID *uint, since time.Time) (decimal.Decimal, error)
	RealizedSeries(ctx context.Context, accountID uint) ([]repository.PnLPoint, error)
}

// ExposureSource reports the account's current open notional exposure. The
// engine implements it on top of the exchange connector's position snapshot.
type ExposureSource interface {
	OpenExposure(ctx context.Context, account *model.Account) (decimal.Decimal, error)
}

// OrderCheck describes one intended order for the pre-trade gate.
type OrderCheck struct {
	Account  *model.Account
	Strategy *model.Strategy
	Symbol   string
	Side     string
	// Quantity is the intended base-asset size; Price is the reference
	// price used to compute notional exposure.
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	ReduceOnly bool
}

// Reservation is exposure headroom claimed by an order that passed the gate
// but has not yet been confirmed filled or failed. Reserved notional counts
// against the exposure limit for concurrent checks on the same account.
type Reservation struct {
	ID         string
	AccountID  uint
	StrategyID uint
	Symbol     string
	Quantity   decimal.Decimal
	Notional   decimal.Decimal
	// Reduced marks a reservation whose quantity was shrunk by auto-reduce.
	Reduced   bool
	CreatedAt time.Time
}

type accountState struct {
	mu           sync.Mutex
	reserved     decimal.Decimal
	reservations map[string]*Reservation
}

// ---------------------------------------------------

// Manager runs the ordered pre-trade limit checks and tracks in-flight
// exposure reservations per account.
//
// All database and exchange reads happen before the per-account lock is
// taken; under the lock the checks are pure arithmetic against the
// pre-fetched snapshot plus the reserved counter. Two concurrent checks on
// the same account therefore serialize, and the second one sees the first
// one's reservation.
type Manager struct {
	trades   TradeLedger
	exposure ExposureSource
	peaks    cache.TTLStore
	cfg      Config

	mu     sync.Mutex
	states map[uint]*accountState

	now func() time.Time
}

func NewManager(trades TradeLedger, exposure ExposureSource, peaks cache.TTLStore, cfg Config) *Manager {
	return &Manager{
		trades:   trades,
		exposure: exposure,
		peaks:    peaks,
		cfg:      cfg,
		states:   make(map[uint]*accountState),
		now:      time.Now,
	}
}

func (m *Manager) state(accountID uint) *accountState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[accountID]
	if !ok {
		st = &accountState{reservations: make(map[string]*Reservation)}
		m.states[accountID] = st
	}
	return st
}

// snapshot holds the pre-fetched inputs for one gate evaluation. Only the
// fields whose limit is set get populated.
type snapshot struct {
	baseExposure decimal.Decimal
	dailyLoss    decimal.Decimal
	weeklyLoss   decimal.Decimal
	drawdownPct  decimal.Decimal
}

// CheckOrderAllowed gates one intended order against the merged limits,
// in order: exposure, daily loss, weekly loss, drawdown. On success it
// returns a Reservation the caller must later settle with ConfirmExposure
// or ReleaseReservation. A rejection is a *LimitExceededError; any other
// error is infrastructure failure and the order must not proceed.
//
// Reduce-only orders pass by construction: they can only shrink exposure,
// and their realized PnL is not known until the close is matched.
func (m *Manager) CheckOrderAllowed(ctx context.Context, req OrderCheck) (*Reservation, error) {
	if req.Account == nil {
		return nil, errors.New("risk check requires an account")
	}

	st := m.state(req.Account.ID)

	if req.ReduceOnly {
		st.mu.Lock()
		defer st.mu.Unlock()
		return m.addReservationLocked(st, req, req.Quantity, decimal.Zero, false), nil
	}

	limits := MergeLimits(req.Account, req.Strategy)
	notional := req.Quantity.Mul(req.Price)

	snap, err := m.fetchSnapshot(ctx, req, limits)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	m.sweepExpiredLocked(st)

	// 1. Exposure, the only check auto-reduce can rescue.
	if limits.MaxExposure.Valid {
		post := snap.baseExposure.Add(st.reserved).Add(notional)
		if limits.MaxExposure.Exceeds(post) {
			reduced := m.autoReducedQuantity(limits, snap.baseExposure, st.reserved, req.Price)
			if limits.AutoReduce && reduced.IsPositive() {
				res := m.addReservationLocked(st, req, reduced, reduced.Mul(req.Price), true)
				logger.WithFields(map[string]interface{}{
					"account":   req.Account.ID,
					"symbol":    req.Symbol,
					"requested": req.Quantity.String(),
					"reduced":   reduced.String(),
				}).Info("Order auto-reduced to fit exposure limit")
				return res, nil
			}
			m.reject(req, CheckExposure, limits.MaxExposure, post, reduced)
			return nil, &LimitExceededError{
				Check:     CheckExposure,
				Scope:     limits.MaxExposure.Source,
				Limit:     limits.MaxExposure.Value,
				Observed:  post,
				Suggested: reduced,
			}
		}
	}

	// 2. Daily realized loss.
	if limits.MaxDailyLoss.Exceeds(snap.dailyLoss) {
		m.reject(req, CheckDailyLoss, limits.MaxDailyLoss, snap.dailyLoss, decimal.Zero)
		return nil, &LimitExceededError{
			Check:    CheckDailyLoss,
			Scope:    limits.MaxDailyLoss.Source,
			Limit:    limits.MaxDailyLoss.Value,
			Observed: snap.dailyLoss,
		}
	}

	// 3. Weekly realized loss.
	if limits.MaxWeeklyLoss.Exceeds(snap.weeklyLoss) {
		m.reject(req, CheckWeeklyLoss, limits.MaxWeeklyLoss, snap.weeklyLoss, decimal.Zero)
		return nil, &LimitExceededError{
			Check:    CheckWeeklyLoss,
			Scope:    limits.MaxWeeklyLoss.Source,
			Limit:    limits.MaxWeeklyLoss.Value,
			Observed: snap.weeklyLoss,
		}
	}

	// 4. Drawdown from peak balance.
	if limits.MaxDrawdownPct.Exceeds(snap.drawdownPct) {
		m.reject(req, CheckDrawdown, limits.MaxDrawdownPct, snap.drawdownPct, decimal.Zero)
		return nil, &LimitExceededError{
			Check:    CheckDrawdown,
			Scope:    limits.MaxDrawdownPct.Source,
			Limit:    limits.MaxDrawdownPct.Value,
			Observed: snap.drawdownPct,
		}
	}

	return m.addReservationLocked(st, req, req.Quantity, notional, false), nil
}

// fetchSnapshot runs the I/O every set limit needs, outside any lock.
func (m *Manager) fetchSnapshot(ctx context.Context, req OrderCheck, limits Limits) (snapshot, error) {
	var snap snapshot
	account := req.Account

	if limits.MaxExposure.Valid {
		base, err := m.exposure.OpenExposure(ctx, account)
		if err != nil {
			return snap, fmt.Errorf("fetching open exposure: %w", err)
		}
		snap.baseExposure = base
	}

	loc := utils.LoadLocation(account.ResetTimezone)
	now := m.now()

	if limits.MaxDailyLoss.Valid {
		since := utils.DailyResetBoundary(now, account.DailyResetHour, loc)
		loss, err := m.realizedLoss(ctx, req, limits.MaxDailyLoss, since)
		if err != nil {
			return snap, fmt.Errorf("fetching daily realized pnl: %w", err)
		}
		snap.dailyLoss = loss
	}

	if limits.MaxWeeklyLoss.Valid {
		since := utils.WeeklyResetBoundary(now, time.Weekday(account.WeeklyResetWeekday), account.DailyResetHour, loc)
		loss, err := m.realizedLoss(ctx, req, limits.MaxWeeklyLoss, since)
		if err != nil {
			return snap, fmt.Errorf("fetching weekly realized pnl: %w", err)
		}
		snap.weeklyLoss = loss
	}

	if limits.MaxDrawdownPct.Valid {
		dd, err := m.drawdownPct(ctx, account)
		if err != nil {
			return snap, fmt.Errorf("computing drawdown: %w", err)
		}
		snap.drawdownPct = dd
	}

	return snap, nil
}

// realizedLoss returns the realized loss since the boundary as a positive
// number. A strategy-sourced bound measures the strategy's own PnL, an
// account-sourced one measures the whole account.
func (m *Manager) realizedLoss(ctx context.Context, req OrderCheck, bound Bound, since time.Time) (decimal.Decimal, error) {
	var strategyID *uint
	if bound.Source == ScopeStrategy && req.Strategy != nil {
		strategyID = &req.Strategy.ID
	}
	pnl, err := m.trades.RealizedPnLSince(ctx, req.Account.ID, strategyID, since)
	if err != nil {
		return decimal.Zero, err
	}
	return pnl.Neg(), nil
}

// drawdownPct computes (peak - current) / peak * 100. The peak is the
// highest equity the account ever reached, reconstructed from starting
// balance plus the realized trade series and memoized for a few minutes.
func (m *Manager) drawdownPct(ctx context.Context, account *model.Account) (decimal.Decimal, error) {
	peak, err := m.peakBalance(ctx, account)
	if err != nil {
		return decimal.Zero, err
	}

	total, err := m.trades.RealizedPnLSince(ctx, account.ID, nil, time.Time{})
	if err != nil {
		return decimal.Zero, err
	}
	current := account.StartingBalance.Add(total)

	// A fresh high renders the cached peak stale; the live balance wins.
	if current.GreaterThan(peak) {
		peak = current
	}
	if !peak.IsPositive() {
		return decimal.Zero, nil
	}
	return peak.Sub(current).Div(peak).Mul(decimal.NewFromInt(100)), nil
}

func (m *Manager) peakBalance(ctx context.Context, account *model.Account) (decimal.Decimal, error) {
	key := fmt.Sprintf("risk:peak:%d", account.ID)
	if cached, ok, err := m.peaks.Get(ctx, key); err == nil && ok {
		if peak, perr := decimal.NewFromString(cached); perr == nil {
			return peak, nil
		}
	}

	series, err := m.trades.RealizedSeries(ctx, account.ID)
	if err != nil {
		return decimal.Zero, err
	}
	equity := account.StartingBalance
	peak := equity
	for _, point := range series {
		equity = equity.Add(point.Realized)
		if equity.GreaterThan(peak) {
			peak = equity
		}
	}

	if err := m.peaks.Set(ctx, key, peak.String(), m.cfg.PeakCacheTTL()); err != nil {
		logger.WithError(err).Warn("Caching drawdown peak failed")
	}
	return peak, nil
}

// InvalidatePeak drops the memoized peak so the next drawdown check
// recomputes it. Called after every completed trade.
func (m *Manager) InvalidatePeak(ctx context.Context, accountID uint) {
	if err := m.peaks.Delete(ctx, fmt.Sprintf("risk:peak:%d", accountID)); err != nil {
		logger.WithError(err).Warn("Invalidating drawdown peak failed")
	}
}

// autoReducedQuantity returns the largest order size that still fits under
// the exposure limit, truncated to the configured precision. Zero means no
// positive size fits.
func (m *Manager) autoReducedQuantity(limits Limits, base, reserved, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	headroom := limits.MaxExposure.Value.Sub(base).Sub(reserved)
	if !headroom.IsPositive() {
		return decimal.Zero
	}
	reduced := headroom.Div(price).RoundDown(m.cfg.QuantityPrecision)
	if !reduced.IsPositive() {
		return decimal.Zero
	}
	return reduced
}

// ---------------------------------------------------

func (m *Manager) addReservationLocked(st *accountState, req OrderCheck, qty, notional decimal.Decimal, reduced bool) *Reservation {
	res := &Reservation{
		ID:        uuid.NewString(),
		AccountID: req.Account.ID,
		Symbol:    req.Symbol,
		Quantity:  qty,
		Notional:  notional,
		Reduced:   reduced,
		CreatedAt: m.now(),
	}
	if req.Strategy != nil {
		res.StrategyID = req.Strategy.ID
	}
	st.reserved = st.reserved.Add(notional)
	st.reservations[res.ID] = res
	m.publishReservedGauge(req.Account.ID, st.reserved)
	return res
}

// ConfirmExposure settles a reservation whose order reached the exchange:
// the notional is now real open exposure reported by the position snapshot,
// so the reservation stops counting.
func (m *Manager) ConfirmExposure(reservationID string, accountID uint) {
	m.settle(reservationID, accountID, "confirmed")
}

// ReleaseReservation returns the headroom of an order that failed or was
// canceled before filling.
func (m *Manager) ReleaseReservation(reservationID string, accountID uint) {
	m.settle(reservationID, accountID, "released")
}

func (m *Manager) settle(reservationID string, accountID uint, outcome string) {
	st := m.state(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()

	res, ok := st.reservations[reservationID]
	if !ok {
		return
	}
	delete(st.reservations, reservationID)
	st.reserved = st.reserved.Sub(res.Notional)
	m.publishReservedGauge(accountID, st.reserved)
	logger.WithFields(map[string]interface{}{
		"account":     accountID,
		"reservation": reservationID,
		"notional":    res.Notional.String(),
	}).Debug("Exposure reservation " + outcome)
}

// ReservedExposure returns the notional currently reserved for the account.
func (m *Manager) ReservedExposure(accountID uint) decimal.Decimal {
	st := m.state(accountID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.reserved
}

// sweepExpiredLocked reclaims reservations the engine never settled, so a
// crashed order flow cannot pin headroom forever.
func (m *Manager) sweepExpiredLocked(st *accountState) {
	cutoff := m.now().Add(-m.cfg.ReservationTTL())
	for id, res := range st.reservations {
		if res.CreatedAt.After(cutoff) {
			continue
		}
		delete(st.reservations, id)
		st.reserved = st.reserved.Sub(res.Notional)
		m.publishReservedGauge(res.AccountID, st.reserved)
		logger.WithFields(map[string]interface{}{
			"account":     res.AccountID,
			"reservation": id,
			"age":         m.now().Sub(res.CreatedAt).String(),
		}).Warn("Reclaimed expired exposure reservation")
	}
}

func (m *Manager) reject(req OrderCheck, check string, bound Bound, observed, suggested decimal.Decimal) {
	metrics.RiskRejections.WithLabelValues(check, bound.Source).Inc()
	fields := map[string]interface{}{
		"account":  req.Account.ID,
		"symbol":   req.Symbol,
		"check":    check,
		"scope":    bound.Source,
		"limit":    bound.Value.String(),
		"observed": observed.String(),
	}
	if req.Strategy != nil {
		fields["strategy"] = req.Strategy.ID
	}
	if suggested.IsPositive() {
		fields["suggested"] = suggested.String()
	}
	logger.WithFields(fields).Warn("Order rejected by risk limit")
}

func (m *Manager) publishReservedGauge(accountID uint, reserved decimal.Decimal) {
	metrics.ExposureReserved.WithLabelValues(strconv.FormatUint(uint64(accountID), 10)).Set(reserved.InexactFloat64())
}
