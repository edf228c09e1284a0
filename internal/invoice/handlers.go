package invoice

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-billing/internal/common"
	"github.com/noah-isme/backend-billing/internal/money"
	"github.com/noah-isme/backend-billing/internal/pricing"
	"github.com/noah-isme/backend-billing/internal/store"
	"github.com/noah-isme/backend-billing/internal/tax"
)

// Handler exposes the invoice lifecycle over HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// Routes mounts the invoice endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/invoices", h.create)
	r.Get("/invoices/{invoiceID}", h.get)
	r.Post("/invoices/{invoiceID}/send", h.send)
	r.Post("/invoices/{invoiceID}/cancel", h.cancel)
	r.Post("/invoices/{invoiceID}/payments", h.recordPayment)
	r.Delete("/invoices/{invoiceID}/payments/{paymentID}", h.deletePayment)
}

type lineRequest struct {
	Description string  `json:"description" validate:"required,max=512"`
	Qty         float64 `json:"qty" validate:"min=0"`
	UnitPrice   string  `json:"unit_price" validate:"required"`
	VATBps      *int64  `json:"vat_bps" validate:"omitempty,min=0"`
	DiscountBps *int64  `json:"discount_bps" validate:"omitempty,min=0,max=10000"`
}

type createRequest struct {
	Currency          string        `json:"currency" validate:"omitempty,len=3"`
	Lines             []lineRequest `json:"lines" validate:"required,min=1,dive"`
	GlobalDiscountBps *int64        `json:"global_discount_bps" validate:"omitempty,min=0,max=10000"`
	Adjustment        string        `json:"adjustment"`
	ApplyFodec        *bool         `json:"apply_fodec"`
	ApplyTimbre       *bool         `json:"apply_timbre"`
	DueDate           *time.Time    `json:"due_date"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid json body", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "validation failed", err.Error())
		return
	}

	currency, err := h.resolveCurrency(r, req.Currency)
	if err != nil {
		renderDomainError(w, err)
		return
	}

	in := CreateInput{
		Currency:          string(currency),
		GlobalDiscountBps: req.GlobalDiscountBps,
		Flags:             tax.Flags{ApplyFodec: req.ApplyFodec, ApplyTimbre: req.ApplyTimbre},
		DueDate:           req.DueDate,
	}
	if req.Adjustment != "" {
		adj, err := money.ParseAmount(req.Adjustment, currency)
		if err != nil {
			renderDomainError(w, err)
			return
		}
		in.Adjustment = adj
	}
	for _, ln := range req.Lines {
		unitPrice, err := money.ParseAmount(ln.UnitPrice, currency)
		if err != nil {
			renderDomainError(w, err)
			return
		}
		in.Lines = append(in.Lines, LineInput{
			Description: ln.Description,
			Qty:         ln.Qty,
			UnitPrice:   unitPrice,
			VATBps:      ln.VATBps,
			DiscountBps: ln.DiscountBps,
		})
	}

	detail, err := h.Svc.Create(r.Context(), in)
	if err != nil {
		renderDomainError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, renderDetail(detail))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := store.ToUUID(chi.URLParam(r, "invoiceID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid invoice id", nil)
		return
	}
	detail, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		renderDomainError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, renderDetail(detail))
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	id, err := store.ToUUID(chi.URLParam(r, "invoiceID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid invoice id", nil)
		return
	}
	inv, err := h.Svc.Send(r.Context(), id)
	if err != nil {
		renderDomainError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"invoice": renderInvoice(inv)})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := store.ToUUID(chi.URLParam(r, "invoiceID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid invoice id", nil)
		return
	}
	inv, err := h.Svc.Cancel(r.Context(), id)
	if err != nil {
		renderDomainError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"invoice": renderInvoice(inv)})
}

type paymentRequest struct {
	Amount string     `json:"amount" validate:"required"`
	PaidAt *time.Time `json:"paid_at"`
	Method string     `json:"method" validate:"omitempty,max=64"`
	Note   string     `json:"note" validate:"omitempty,max=512"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := store.ToUUID(chi.URLParam(r, "invoiceID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid invoice id", nil)
		return
	}
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid json body", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "validation failed", err.Error())
		return
	}

	detail, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		renderDomainError(w, err)
		return
	}
	amount, err := money.ParseAmount(req.Amount, money.Currency(detail.Invoice.Currency))
	if err != nil {
		renderDomainError(w, err)
		return
	}

	res, err := h.Svc.RecordPayment(r.Context(), id, PaymentInput{
		Amount: amount,
		PaidAt: req.PaidAt,
		Method: req.Method,
		Note:   req.Note,
	})
	if err != nil {
		renderDomainError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, renderPaymentResult(res))
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := store.ToUUID(chi.URLParam(r, "invoiceID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid invoice id", nil)
		return
	}
	paymentID, err := store.ToUUID(chi.URLParam(r, "paymentID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "invalid payment id", nil)
		return
	}
	res, err := h.Svc.DeletePayment(r.Context(), invoiceID, paymentID)
	if err != nil {
		renderDomainError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, renderPaymentResult(res))
}

func (h *Handler) resolveCurrency(r *http.Request, requested string) (money.Currency, error) {
	if requested != "" {
		return money.Currency(requested), nil
	}
	_, currency, err := h.Svc.Taxes.Current(r.Context())
	return currency, err
}

// renderDomainError maps domain sentinel errors to the canonical HTTP error
// envelope.
func renderDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvoiceNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "invoice not found", nil)
	case errors.Is(err, ErrPaymentNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "payment not found", nil)
	case errors.Is(err, ErrInvalidState):
		common.JSONError(w, http.StatusConflict, common.CodeConflict, err.Error(), nil)
	case errors.Is(err, ErrOverpayment):
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeOverpaymentRejected, err.Error(), nil)
	case errors.Is(err, pricing.ErrInvalidLine):
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidLineInput, err.Error(), nil)
	case errors.Is(err, pricing.ErrInvalidDocument):
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidDocumentInput, err.Error(), nil)
	case errors.Is(err, money.ErrInvalidAmount), errors.Is(err, money.ErrUnknownCurrency):
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidAmount, err.Error(), nil)
	default:
		common.RenderError(w, err)
	}
}

type vatEntryResponse struct {
	RateBps int64 `json:"rate_bps"`
	Amount  int64 `json:"amount"`
}

type invoiceResponse struct {
	ID             string             `json:"id"`
	Number         string             `json:"number"`
	Currency       string             `json:"currency"`
	Status         string             `json:"status"`
	SubtotalHT     int64              `json:"subtotal_ht"`
	GlobalDiscount int64              `json:"global_discount"`
	FodecAmount    int64              `json:"fodec_amount"`
	StampAmount    int64              `json:"stamp_amount"`
	TotalVAT       int64              `json:"total_vat"`
	TotalTTC       int64              `json:"total_ttc"`
	TotalTTCText   string             `json:"total_ttc_text,omitempty"`
	VATEntries     []vatEntryResponse `json:"vat_entries"`
	DueDate        *time.Time         `json:"due_date,omitempty"`
	IssuedAt       *time.Time         `json:"issued_at,omitempty"`
	CreatedAt      *time.Time         `json:"created_at,omitempty"`
	UpdatedAt      *time.Time         `json:"updated_at,omitempty"`
}

type lineResponse struct {
	ID          string  `json:"id"`
	Position    int32   `json:"position"`
	Description string  `json:"description"`
	Qty         float64 `json:"qty"`
	UnitPrice   int64   `json:"unit_price"`
	VATBps      int64   `json:"vat_bps"`
	DiscountBps *int64  `json:"discount_bps,omitempty"`
	TotalHT     int64   `json:"total_ht"`
	TotalVAT    int64   `json:"total_vat"`
	TotalTTC    int64   `json:"total_ttc"`
}

type paymentResponse struct {
	ID        string     `json:"id"`
	Amount    int64      `json:"amount"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
	Method    string     `json:"method,omitempty"`
	Note      string     `json:"note,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

func renderInvoice(inv store.Invoice) invoiceResponse {
	var entries []vatEntryResponse
	_ = json.Unmarshal(inv.VATEntries, &entries)

	text, _ := money.FormatAmount(inv.TotalTTC, money.Currency(inv.Currency))
	return invoiceResponse{
		ID:             store.UUIDString(inv.ID),
		Number:         inv.Number,
		Currency:       inv.Currency,
		Status:         inv.Status,
		SubtotalHT:     inv.SubtotalHT,
		GlobalDiscount: inv.GlobalDiscount,
		FodecAmount:    inv.FodecAmount,
		StampAmount:    inv.StampAmount,
		TotalVAT:       inv.TotalVAT,
		TotalTTC:       inv.TotalTTC,
		TotalTTCText:   text,
		VATEntries:     entries,
		DueDate:        store.TimePtr(inv.DueDate),
		IssuedAt:       store.TimePtr(inv.IssuedAt),
		CreatedAt:      store.TimePtr(inv.CreatedAt),
		UpdatedAt:      store.TimePtr(inv.UpdatedAt),
	}
}

func renderDetail(d Detail) map[string]any {
	lines := make([]lineResponse, 0, len(d.Lines))
	for _, ln := range d.Lines {
		var discount *int64
		if ln.DiscountBps.Valid {
			v := ln.DiscountBps.Int64
			discount = &v
		}
		lines = append(lines, lineResponse{
			ID:          store.UUIDString(ln.ID),
			Position:    ln.Position,
			Description: ln.Description,
			Qty:         ln.Qty,
			UnitPrice:   ln.UnitPrice,
			VATBps:      ln.VATBps,
			DiscountBps: discount,
			TotalHT:     ln.TotalHT,
			TotalVAT:    ln.TotalVAT,
			TotalTTC:    ln.TotalTTC,
		})
	}
	payments := make([]paymentResponse, 0, len(d.Payments))
	for _, p := range d.Payments {
		payments = append(payments, paymentResponse{
			ID:        store.UUIDString(p.ID),
			Amount:    p.Amount,
			PaidAt:    store.TimePtr(p.PaidAt),
			Method:    p.Method.String,
			Note:      p.Note.String,
			CreatedAt: store.TimePtr(p.CreatedAt),
		})
	}
	return map[string]any{
		"invoice":     renderInvoice(d.Invoice),
		"lines":       lines,
		"payments":    payments,
		"amount_paid": int64(d.AmountPaid),
	}
}

func renderPaymentResult(res PaymentResult) map[string]any {
	out := map[string]any{
		"invoice":     renderInvoice(res.Invoice),
		"amount_paid": int64(res.AmountPaid),
	}
	if res.Payment.ID.Valid {
		out["payment"] = paymentResponse{
			ID:        store.UUIDString(res.Payment.ID),
			Amount:    res.Payment.Amount,
			PaidAt:    store.TimePtr(res.Payment.PaidAt),
			Method:    res.Payment.Method.String,
			Note:      res.Payment.Note.String,
			CreatedAt: store.TimePtr(res.Payment.CreatedAt),
		}
	}
	return out
}
