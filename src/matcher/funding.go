package matcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradeengine/src/connectors"
)

// FundingSource is the slice of the exchange connector the matcher needs:
// signed funding payments for a symbol over a window.
type FundingSource interface {
	GetFundingFees(ctx context.Context, symbol string, start, end time.Time) ([]connectors.FundingEntry, error)
}

// sumFunding collapses funding payments into one signed income figure
// (negative: the position paid funding).
func sumFunding(entries []connectors.FundingEntry) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range entries {
		total = total.Add(entry.Amount)
	}
	return total
}
