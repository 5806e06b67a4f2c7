package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/qpay-checkout/internal/domain/auth"
)

// requireScope rejects requests whose API key is missing, unknown or lacks
// scope.
func (h *Handler) requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key, err := h.auth.Authenticate(ctx, r.Header.Get(APIKeyHeader), scope)
			switch {
			case errors.Is(err, auth.ErrUnauthorized):
				writeStatus(w, http.StatusUnauthorized, "unauthorized")
				return
			case errors.Is(err, auth.ErrForbidden):
				writeStatus(w, http.StatusForbidden, "forbidden")
				return
			case err != nil:
				writeError(ctx, w, err)
				return
			}
			ctx = zctx.With(ctx, zap.String("api_key", key.Name))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var status string
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		var err error
		status, err = d.Str()
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	o, err := h.orders.UpdateStatus(ctx, chi.URLParam(r, "id"), status)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	zctx.From(ctx).Info("Order status updated",
		zap.String("order_id", o.ID),
		zap.String("status", string(o.Status)),
	)
	writeData(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}
