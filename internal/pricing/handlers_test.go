package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-billing/internal/money"
	"github.com/noah-isme/backend-billing/internal/obs"
	"github.com/noah-isme/backend-billing/internal/tax"
)

type staticTaxes struct {
	cfg      tax.Config
	currency money.Currency
}

func (s staticTaxes) Current(context.Context) (tax.Config, money.Currency, error) {
	return s.cfg, s.currency, nil
}

func newQuoteServer(t *testing.T, cfg tax.Config) *httptest.Server {
	t.Helper()
	obs.MustRegisterDomainMetrics("billing_test", prometheus.NewRegistry())
	h := &Handler{
		Taxes:    staticTaxes{cfg: cfg, currency: money.TND},
		Validate: validator.New(),
	}
	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postQuote(t *testing.T, srv *httptest.Server, body string) (*http.Response, quoteResponse) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/v1/quotes/compute", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	var out quoteResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestQuoteComputeMultiRateDocument(t *testing.T) {
	srv := newQuoteServer(t, tax.Config{DefaultVATBps: 1900})

	resp, out := postQuote(t, srv, `{
		"currency": "TND",
		"lines": [
			{"qty": 2, "unit_price": "100.000", "vat_bps": 2000},
			{"qty": 1, "unit_price": "47.500", "vat_bps": 1000}
		],
		"global_discount_bps": 500
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.EqualValues(t, 247500, out.SubtotalHT)
	require.EqualValues(t, 12375, out.GlobalDiscount)
	require.EqualValues(t, 44750, out.TotalVAT)
	require.EqualValues(t, 279875, out.TotalTTC)
	require.Equal(t, "279.875", out.TotalTTCText)
	require.Len(t, out.VATEntries, 2)
	require.EqualValues(t, 2000, out.VATEntries[0].RateBps)
	require.EqualValues(t, 40000, out.VATEntries[0].Amount)
	require.EqualValues(t, 1000, out.VATEntries[1].RateBps)
	require.EqualValues(t, 4750, out.VATEntries[1].Amount)
}

func TestQuoteComputeAppliesFodecAndStamp(t *testing.T) {
	srv := newQuoteServer(t, tax.Config{
		Fodec:         tax.Fodec{Enabled: true, RateBps: 100},
		Timbre:        tax.Timbre{Enabled: true, AmountCents: 1000},
		DefaultVATBps: 1900,
	})

	resp, out := postQuote(t, srv, `{
		"lines": [{"qty": 1, "unit_price": "100.000", "vat_bps": 1900}]
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1000, out.FodecAmount)
	require.EqualValues(t, 1000, out.StampAmount)
	require.EqualValues(t, 100000+1000+19000+1000, out.TotalTTC)
}

func TestQuoteComputeFlagOverridesDisableExtras(t *testing.T) {
	srv := newQuoteServer(t, tax.Config{
		Fodec:         tax.Fodec{Enabled: true, RateBps: 100},
		Timbre:        tax.Timbre{Enabled: true, AmountCents: 1000},
		DefaultVATBps: 1900,
	})

	resp, out := postQuote(t, srv, `{
		"lines": [{"qty": 1, "unit_price": "100.000", "vat_bps": 1900}],
		"apply_fodec": false,
		"apply_timbre": false
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 0, out.FodecAmount)
	require.EqualValues(t, 0, out.StampAmount)
	require.EqualValues(t, 119000, out.TotalTTC)
}

func TestQuoteComputeRejectsBadInput(t *testing.T) {
	srv := newQuoteServer(t, tax.Config{DefaultVATBps: 1900})

	resp, _ := postQuote(t, srv, `{"lines": []}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postQuote(t, srv, `{"lines": [{"qty": 1, "unit_price": "not-a-number"}]}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postQuote(t, srv, `{"lines": [{"qty": -1, "unit_price": "10.000"}]}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuoteComputeDefaultsVATRate(t *testing.T) {
	srv := newQuoteServer(t, tax.Config{DefaultVATBps: 1900})

	resp, out := postQuote(t, srv, `{
		"lines": [{"qty": 1, "unit_price": "100.000"}]
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, out.VATEntries, 1)
	require.EqualValues(t, 1900, out.VATEntries[0].RateBps)
	require.EqualValues(t, 19000, out.TotalVAT)
}
