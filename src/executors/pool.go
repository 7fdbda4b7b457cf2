package executors

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradeengine/src/connectors"
	"tradeengine/src/model"
	"tradeengine/src/security"
)

// ConnectorFactory builds a venue connector from one account's decrypted
// credentials. Swapped for a stub in tests.
type ConnectorFactory func(account *model.Account, apiKey, apiSecret string) connectors.Connector

// BinanceFactory is the production factory.
func BinanceFactory(account *model.Account, apiKey, apiSecret string) connectors.Connector {
	return connectors.NewBinanceConnector(apiKey, apiSecret, account.Testnet)
}

// ConnectorPool hands out one venue connector per account, built lazily from
// the account's encrypted credentials. Decrypted keys live only inside the
// connector.
type ConnectorPool struct {
	factory   ConnectorFactory
	masterKey *[security.KeySize]byte

	mu    sync.Mutex
	conns map[uint]connectors.Connector
}

func NewConnectorPool(factory ConnectorFactory, masterKey *[security.KeySize]byte) *ConnectorPool {
	return &ConnectorPool{
		factory:   factory,
		masterKey: masterKey,
		conns:     make(map[uint]connectors.Connector),
	}
}

// For returns the connector for account, building it on first use.
func (p *ConnectorPool) For(account *model.Account) (connectors.Connector, error) {
	if account == nil {
		return nil, fmt.Errorf("connector pool: nil account")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[account.ID]; ok {
		return conn, nil
	}

	if account.APIKeyEnc == "" || account.APISecretEnc == "" {
		return nil, fmt.Errorf("account %d has no API credentials set", account.ID)
	}

	apiKey, err := security.DecryptString(account.APIKeyEnc, p.masterKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt API key for account %d: %w", account.ID, err)
	}
	apiSecret, err := security.DecryptString(account.APISecretEnc, p.masterKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt API secret for account %d: %w", account.ID, err)
	}

	conn := p.factory(account, apiKey, apiSecret)
	p.conns[account.ID] = conn

	logger.WithFields(map[string]interface{}{
		"component": "ConnectorPool",
		"account":   account.ID,
		"exchange":  account.Exchange,
	}).Info("Venue connector ready")

	return conn, nil
}

// Drop discards the cached connector, forcing a rebuild on next use. Called
// after credential rotation.
func (p *ConnectorPool) Drop(accountID uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, accountID)
}

// VenueExposure implements risk.ExposureSource by summing the notional of
// every open position on the account.
type VenueExposure struct {
	pool *ConnectorPool
}

func NewVenueExposure(pool *ConnectorPool) *VenueExposure {
	return &VenueExposure{pool: pool}
}

func (v *VenueExposure) OpenExposure(ctx context.Context, account *model.Account) (decimal.Decimal, error) {
	conn, err := v.pool.For(account)
	if err != nil {
		return decimal.Zero, err
	}

	positions, err := conn.ListOpenPositions(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for i := range positions {
		total = total.Add(positions[i].Notional())
	}
	return total, nil
}
