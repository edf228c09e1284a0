package settings

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-billing/internal/common"
	"github.com/noah-isme/backend-billing/internal/money"
)

// Handler exposes the tax settings endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// Routes mounts the settings endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/settings/taxes", h.get)
	r.Put("/settings/taxes", h.update)
}

type settingsResponse struct {
	FodecEnabled      bool   `json:"fodec_enabled"`
	FodecRateBps      int64  `json:"fodec_rate_bps"`
	TimbreEnabled     bool   `json:"timbre_enabled"`
	TimbreAmountCents int64  `json:"timbre_amount_cents"`
	DefaultVATBps     int64  `json:"default_vat_bps"`
	DefaultCurrency   string `json:"default_currency"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	cfg, currency, err := h.Svc.Current(r.Context())
	if err != nil {
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, settingsResponse{
		FodecEnabled:      cfg.Fodec.Enabled,
		FodecRateBps:      cfg.Fodec.RateBps,
		TimbreEnabled:     cfg.Timbre.Enabled,
		TimbreAmountCents: cfg.Timbre.AmountCents,
		DefaultVATBps:     cfg.DefaultVATBps,
		DefaultCurrency:   string(currency),
	})
}

type updateRequest struct {
	FodecEnabled      bool   `json:"fodec_enabled"`
	FodecRateBps      int64  `json:"fodec_rate_bps" validate:"min=0"`
	TimbreEnabled     bool   `json:"timbre_enabled"`
	TimbreAmountCents int64  `json:"timbre_amount_cents" validate:"min=0"`
	DefaultVATBps     int64  `json:"default_vat_bps" validate:"min=0"`
	DefaultCurrency   string `json:"default_currency" validate:"required,len=3"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid json body", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "validation failed", err.Error())
		return
	}

	row, err := h.Svc.Update(r.Context(), UpdateInput{
		FodecEnabled:      req.FodecEnabled,
		FodecRateBps:      req.FodecRateBps,
		TimbreEnabled:     req.TimbreEnabled,
		TimbreAmountCents: req.TimbreAmountCents,
		DefaultVATBps:     req.DefaultVATBps,
		DefaultCurrency:   req.DefaultCurrency,
	})
	if err != nil {
		if errors.Is(err, money.ErrUnknownCurrency) {
			common.JSONError(w, http.StatusBadRequest, common.CodeInvalidAmount, err.Error(), nil)
			return
		}
		common.RenderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, settingsResponse{
		FodecEnabled:      row.FodecEnabled,
		FodecRateBps:      row.FodecRateBps,
		TimbreEnabled:     row.TimbreEnabled,
		TimbreAmountCents: row.TimbreAmountCents,
		DefaultVATBps:     row.DefaultVATBps,
		DefaultCurrency:   row.DefaultCurrency,
	})
}
