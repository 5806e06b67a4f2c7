package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/qpay-checkout/internal/domain/apperr"
	"github.com/xenking/qpay-checkout/internal/domain/payment"
	"github.com/xenking/qpay-checkout/internal/qpay"
)

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	pr, err := h.payments.CreateInvoice(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusCreated, func(e *jx.Encoder) { encodePayment(e, pr) })
}

func (h *Handler) checkPayment(w http.ResponseWriter, r *http.Request) {
	out, err := h.payments.Check(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, func(e *jx.Encoder) { encodeOutcome(e, out) })
}

func (h *Handler) paymentInfo(w http.ResponseWriter, r *http.Request) {
	pr, err := h.payments.Info(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, func(e *jx.Encoder) { encodePayment(e, pr) })
}

func (h *Handler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	out, err := h.payments.Cancel(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, func(e *jx.Encoder) { encodeOutcome(e, out) })
}

// callback acknowledges every gateway delivery with 200 so the gateway
// never retries. Failures are only logged.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	body, err := readBody(r)
	if err != nil {
		lg.Error("Reading callback body", zap.Error(err))
		writeMessage(w, http.StatusOK, false, "unreadable body")
		return
	}

	out, err := h.payments.HandleCallback(ctx, body, qpay.SignatureFrom(r.Header))
	if err != nil {
		fields := []zap.Field{zap.Error(err), zap.Int("body_bytes", len(body))}
		if out.InvoiceID != "" {
			fields = append(fields, zap.String("invoice_id", out.InvoiceID))
		}
		lg.Error("Callback processing failed", fields...)
		writeMessage(w, http.StatusOK, false, apperr.Message(err))
		return
	}

	switch {
	case out.AlreadyPaid:
		writeMessage(w, http.StatusOK, true, "Payment already processed")
	case out.Applied && out.Request != nil && out.Request.Status == payment.StatusPaid:
		writeMessage(w, http.StatusOK, true, "Payment confirmed")
	default:
		writeMessage(w, http.StatusOK, true, "Webhook processed")
	}
}
