package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
)

const centPlaces = 2

// FeeSchedule is the platform's cut and the provider's processing charge.
type FeeSchedule struct {
	PlatformRate    decimal.Decimal
	ProcessingRate  decimal.Decimal
	ProcessingFixed decimal.Decimal
}

// DefaultFeeSchedule is 5% platform plus 2.9% + 0.30 processing.
var DefaultFeeSchedule = FeeSchedule{
	PlatformRate:    decimal.RequireFromString("0.05"),
	ProcessingRate:  decimal.RequireFromString("0.029"),
	ProcessingFixed: decimal.RequireFromString("0.30"),
}

// FeeScheduleFromConfig reads the configured rates.
func FeeScheduleFromConfig(cfg config.SettlementConfig) FeeSchedule {
	return FeeSchedule{
		PlatformRate:    cfg.PlatformFeeRate,
		ProcessingRate:  cfg.ProcessingFeeRate,
		ProcessingFixed: cfg.ProcessingFeeFixed,
	}
}

// Split is one seller's gross/fee/net breakdown, all in cents precision.
type Split struct {
	Gross         decimal.Decimal
	PlatformFee   decimal.Decimal
	ProcessingFee decimal.Decimal
	Net           decimal.Decimal
}

// Compute rounds each fee half-up to the cent and derives net from the rounded
// values, so gross == platform + processing + net holds exactly.
func (f FeeSchedule) Compute(gross decimal.Decimal) Split {
	gross = gross.Round(centPlaces)
	platform := gross.Mul(f.PlatformRate).Round(centPlaces)
	processing := gross.Mul(f.ProcessingRate).Add(f.ProcessingFixed).Round(centPlaces)
	return Split{
		Gross:         gross,
		PlatformFee:   platform,
		ProcessingFee: processing,
		Net:           gross.Sub(platform).Sub(processing),
	}
}
