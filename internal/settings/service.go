// Package settings serves the ambient tax configuration: FODEC, timbre
// fiscal, the default VAT rate and the default currency. The configuration
// lives in a single database row and falls back to environment defaults
// until that row is first written.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-billing/internal/money"
	"github.com/noah-isme/backend-billing/internal/store"
	"github.com/noah-isme/backend-billing/internal/tax"
)

// Service resolves and updates the ambient tax configuration.
type Service struct {
	Q                *store.Queries
	Fallback         tax.Config
	FallbackCurrency money.Currency
}

// Current returns the active tax configuration and default currency. It
// implements the TaxSource interfaces of the pricing and invoice packages.
func (s *Service) Current(ctx context.Context) (tax.Config, money.Currency, error) {
	row, err := s.Q.GetTaxSettings(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.Fallback, s.FallbackCurrency, nil
		}
		return tax.Config{}, "", fmt.Errorf("load tax settings: %w", err)
	}
	return tax.Config{
		Fodec:         tax.Fodec{Enabled: row.FodecEnabled, RateBps: row.FodecRateBps},
		Timbre:        tax.Timbre{Enabled: row.TimbreEnabled, AmountCents: row.TimbreAmountCents},
		DefaultVATBps: row.DefaultVATBps,
	}, money.Currency(row.DefaultCurrency), nil
}

// UpdateInput is the full replacement for the settings row.
type UpdateInput struct {
	FodecEnabled      bool
	FodecRateBps      int64
	TimbreEnabled     bool
	TimbreAmountCents int64
	DefaultVATBps     int64
	DefaultCurrency   string
}

// Update validates and persists the configuration. Changing the settings
// never touches stored invoices; only subsequent computations see the new
// values.
func (s *Service) Update(ctx context.Context, in UpdateInput) (store.TaxSettings, error) {
	currency := money.Currency(strings.ToUpper(strings.TrimSpace(in.DefaultCurrency)))
	if !currency.Valid() {
		return store.TaxSettings{}, fmt.Errorf("%w: %q", money.ErrUnknownCurrency, in.DefaultCurrency)
	}
	if in.FodecRateBps < 0 || in.DefaultVATBps < 0 || in.TimbreAmountCents < 0 {
		return store.TaxSettings{}, errors.New("settings: rates and amounts must be non-negative")
	}
	return s.Q.UpsertTaxSettings(ctx, store.UpsertTaxSettingsParams{
		FodecEnabled:      in.FodecEnabled,
		FodecRateBps:      in.FodecRateBps,
		TimbreEnabled:     in.TimbreEnabled,
		TimbreAmountCents: in.TimbreAmountCents,
		DefaultVATBps:     in.DefaultVATBps,
		DefaultCurrency:   string(currency),
	})
}
