package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-billing/internal/common"
	"github.com/noah-isme/backend-billing/internal/money"
	"github.com/noah-isme/backend-billing/internal/obs"
	"github.com/noah-isme/backend-billing/internal/tax"
)

// TaxSource resolves the ambient tax configuration for a computation.
type TaxSource interface {
	Current(ctx context.Context) (tax.Config, money.Currency, error)
}

// Handler exposes the stateless quote computation endpoint. Nothing is
// persisted; the same inputs always produce the same totals.
type Handler struct {
	Taxes    TaxSource
	Validate *validator.Validate
}

// Routes mounts the quote endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/quotes/compute", h.compute)
}

type quoteLineRequest struct {
	Qty         float64 `json:"qty" validate:"min=0"`
	UnitPrice   string  `json:"unit_price" validate:"required"`
	VATBps      *int64  `json:"vat_bps" validate:"omitempty,min=0"`
	DiscountBps *int64  `json:"discount_bps" validate:"omitempty,min=0,max=10000"`
}

type quoteRequest struct {
	Currency          string             `json:"currency" validate:"omitempty,len=3"`
	Lines             []quoteLineRequest `json:"lines" validate:"required,min=1,dive"`
	GlobalDiscountBps *int64             `json:"global_discount_bps" validate:"omitempty,min=0,max=10000"`
	Adjustment        string             `json:"adjustment"`
	ApplyFodec        *bool              `json:"apply_fodec"`
	ApplyTimbre       *bool              `json:"apply_timbre"`
}

type quoteLineResponse struct {
	TotalHT  int64 `json:"total_ht"`
	TotalVAT int64 `json:"total_vat"`
	TotalTTC int64 `json:"total_ttc"`
	VATBps   int64 `json:"vat_bps"`
}

type quoteVATEntry struct {
	RateBps int64 `json:"rate_bps"`
	Amount  int64 `json:"amount"`
}

type quoteResponse struct {
	Currency       string              `json:"currency"`
	Lines          []quoteLineResponse `json:"lines"`
	SubtotalHT     int64               `json:"subtotal_ht"`
	GlobalDiscount int64               `json:"global_discount"`
	FodecAmount    int64               `json:"fodec_amount"`
	StampAmount    int64               `json:"stamp_amount"`
	VATEntries     []quoteVATEntry     `json:"vat_entries"`
	TotalVAT       int64               `json:"total_vat"`
	TotalTTC       int64               `json:"total_ttc"`
	TotalTTCText   string              `json:"total_ttc_text"`
}

func (h *Handler) compute(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid json body", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "validation failed", err.Error())
		return
	}

	cfg, currency, err := h.Taxes.Current(r.Context())
	if err != nil {
		common.RenderError(w, err)
		return
	}
	if req.Currency != "" {
		currency = money.Currency(strings.ToUpper(req.Currency))
	}
	if !currency.Valid() {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidAmount, "unsupported currency", nil)
		return
	}

	lines := make([]LineTotals, 0, len(req.Lines))
	lineResponses := make([]quoteLineResponse, 0, len(req.Lines))
	for i, raw := range req.Lines {
		unitPrice, err := money.ParseAmount(raw.UnitPrice, currency)
		if err != nil {
			renderComputeError(w, err, i+1)
			return
		}
		vatBps := cfg.DefaultVATBps
		if raw.VATBps != nil {
			vatBps = *raw.VATBps
		}
		lt, err := ComputeLine(Line{
			Qty:         raw.Qty,
			UnitPrice:   unitPrice,
			VATBps:      vatBps,
			DiscountBps: raw.DiscountBps,
		})
		if err != nil {
			renderComputeError(w, err, i+1)
			return
		}
		lines = append(lines, lt)
		lineResponses = append(lineResponses, quoteLineResponse{
			TotalHT:  lt.TotalHT,
			TotalVAT: lt.TotalVAT,
			TotalTTC: lt.TotalTTC,
			VATBps:   lt.VATBps,
		})
	}

	var adjustment Money
	if req.Adjustment != "" {
		adjustment, err = money.ParseAmount(req.Adjustment, currency)
		if err != nil {
			renderComputeError(w, err, 0)
			return
		}
	}

	totals, err := ComputeDocument(Document{
		Lines:             lines,
		GlobalDiscountBps: req.GlobalDiscountBps,
		Adjustment:        adjustment,
		Tax:               cfg,
		Flags:             tax.Flags{ApplyFodec: req.ApplyFodec, ApplyTimbre: req.ApplyTimbre},
	})
	if err != nil {
		renderComputeError(w, err, 0)
		return
	}
	obs.DocumentsComputedTotal.WithLabelValues("quote", "ok").Inc()

	entries := make([]quoteVATEntry, 0, len(totals.VATEntries))
	for _, e := range totals.VATEntries {
		entries = append(entries, quoteVATEntry{RateBps: e.RateBps, Amount: e.Amount})
	}
	text, _ := money.FormatAmount(totals.TotalTTC, currency)
	common.JSON(w, http.StatusOK, quoteResponse{
		Currency:       string(currency),
		Lines:          lineResponses,
		SubtotalHT:     totals.SubtotalHT,
		GlobalDiscount: totals.GlobalDiscount,
		FodecAmount:    totals.FodecAmount,
		StampAmount:    totals.StampAmount,
		VATEntries:     entries,
		TotalVAT:       totals.TotalVAT,
		TotalTTC:       totals.TotalTTC,
		TotalTTCText:   text,
	})
}

func renderComputeError(w http.ResponseWriter, err error, line int) {
	obs.DocumentsComputedTotal.WithLabelValues("quote", "error").Inc()
	var details any
	if line > 0 {
		details = map[string]int{"line": line}
	}
	switch {
	case errors.Is(err, ErrInvalidLine):
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidLineInput, err.Error(), details)
	case errors.Is(err, ErrInvalidDocument):
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidDocumentInput, err.Error(), details)
	case errors.Is(err, money.ErrInvalidAmount), errors.Is(err, money.ErrUnknownCurrency):
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidAmount, err.Error(), details)
	default:
		common.RenderError(w, err)
	}
}
