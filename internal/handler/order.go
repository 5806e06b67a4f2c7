package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/qpay-checkout/internal/domain/order"
	"github.com/xenking/qpay-checkout/internal/domain/sale"
)

func decodeItems(d *jx.Decoder) ([]order.Item, error) {
	var items []order.Item
	err := d.Arr(func(d *jx.Decoder) error {
		var it order.Item
		err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "productId":
				it.ProductID, err = d.Str()
			case "quantity":
				it.Quantity, err = d.Int()
			default:
				err = d.Skip()
			}
			return err
		})
		items = append(items, it)
		return err
	})
	return items, err
}

func decodeContact(d *jx.Decoder) (order.Contact, error) {
	var c order.Contact
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "name":
			c.Name, err = optStr(d)
		case "address":
			c.Address, err = optStr(d)
		case "phone":
			c.Phone, err = optStr(d)
		case "email":
			c.Email, err = optStr(d)
		case "notes":
			c.Notes, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return c, err
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req order.CheckoutRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			req.Items, err = decodeItems(d)
		case "contact":
			req.Contact, err = decodeContact(d)
		case "promoCode":
			req.PromoCode, err = optStr(d)
		case "userId":
			var id string
			if id, err = optStr(d); err == nil && id != "" {
				req.UserID = &id
			}
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	res, err := h.orders.Checkout(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeData(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, res.Order) })
			e.Field("payment", func(e *jx.Encoder) { encodePayment(e, res.Payment) })
		})
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) ordersByPhone(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByPhone(r.Context(), chi.URLParam(r, "phone"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range orders {
				encodeOrder(e, &orders[i])
			}
		})
	})
}

func (h *Handler) salePrice(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.orders.SalePrices(r.Context(), []string{chi.URLParam(r, "id")})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeData(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, quotes[0]) })
}

func (h *Handler) salePrices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var ids []string
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "productIds" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			id, err := d.Str()
			ids = append(ids, id)
			return err
		})
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	var quotes []sale.Quote
	if len(ids) > 0 {
		if quotes, err = h.orders.SalePrices(ctx, ids); err != nil {
			writeError(ctx, w, err)
			return
		}
	}
	writeData(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, q := range quotes {
				encodeQuote(e, q)
			}
		})
	})
}

func (h *Handler) validatePromo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		code  string
		items []order.Item
	)
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = optStr(d)
		case "items":
			items, err = decodeItems(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	res, err := h.orders.PreviewPromo(ctx, code, items)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeData(w, http.StatusOK, func(e *jx.Encoder) { encodePromoResult(e, res) })
}
