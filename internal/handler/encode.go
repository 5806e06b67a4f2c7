package handler

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/qpay-checkout/internal/domain/order"
	"github.com/xenking/qpay-checkout/internal/domain/payment"
	"github.com/xenking/qpay-checkout/internal/domain/promo"
	"github.com/xenking/qpay-checkout/internal/domain/sale"
)

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func optString(e *jx.Encoder, s *string) {
	if s == nil {
		e.Null()
		return
	}
	e.Str(*s)
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("userId", func(e *jx.Encoder) { optString(e, o.UserID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("contact", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("name", func(e *jx.Encoder) { e.Str(o.Contact.Name) })
				e.Field("address", func(e *jx.Encoder) { e.Str(o.Contact.Address) })
				e.Field("phone", func(e *jx.Encoder) { e.Str(o.Contact.Phone) })
				e.Field("email", func(e *jx.Encoder) { e.Str(o.Contact.Email) })
				e.Field("notes", func(e *jx.Encoder) { e.Str(o.Contact.Notes) })
			})
		})
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, li := range o.Items {
					encodeLineItem(e, li)
				}
			})
		})
		e.Field("subtotal", func(e *jx.Encoder) { money(e, o.Subtotal) })
		e.Field("saleDiscount", func(e *jx.Encoder) { money(e, o.SaleDiscount) })
		e.Field("promoDiscount", func(e *jx.Encoder) { money(e, o.PromoDiscount) })
		e.Field("promoCode", func(e *jx.Encoder) { e.Str(o.PromoCodeUsed) })
		e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
		e.Field("vat", func(e *jx.Encoder) { money(e, o.VAT) })
		if !o.CreatedAt.IsZero() {
			e.Field("createdAt", func(e *jx.Encoder) { timestamp(e, o.CreatedAt) })
		}
	})
}

func encodeLineItem(e *jx.Encoder, li order.LineItem) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("productId", func(e *jx.Encoder) { e.Str(li.ProductID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(li.Name) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(li.Quantity) })
		e.Field("originalPrice", func(e *jx.Encoder) { money(e, li.OriginalPrice) })
		e.Field("price", func(e *jx.Encoder) { money(e, li.Price) })
		e.Field("saleDiscount", func(e *jx.Encoder) { money(e, li.SaleDiscount) })
		e.Field("saleId", func(e *jx.Encoder) { optString(e, li.SaleID) })
		e.Field("total", func(e *jx.Encoder) { money(e, li.Total()) })
	})
}

func encodePayment(e *jx.Encoder, r *payment.Request) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(r.ID) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(r.OrderID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(r.Code) })
		e.Field("amount", func(e *jx.Encoder) { money(e, r.Amount) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(r.Status)) })
		e.Field("paymentType", func(e *jx.Encoder) { e.Str(r.PaymentType) })
		e.Field("paidDate", func(e *jx.Encoder) {
			if r.PaidAt == nil {
				e.Null()
				return
			}
			timestamp(e, *r.PaidAt)
		})
		if inv := r.Invoice; r.HasInvoice() {
			e.Field("invoice", func(e *jx.Encoder) { encodeInvoice(e, inv) })
		}
	})
}

func encodeInvoice(e *jx.Encoder, inv *payment.Invoice) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("invoiceId", func(e *jx.Encoder) { e.Str(inv.ID) })
		e.Field("qrText", func(e *jx.Encoder) { e.Str(inv.QRText) })
		e.Field("qrImage", func(e *jx.Encoder) { e.Str(inv.QRImage) })
		e.Field("shortUrl", func(e *jx.Encoder) { e.Str(inv.ShortURL) })
		e.Field("urls", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range inv.URLs {
					e.Obj(func(e *jx.Encoder) {
						e.Field("name", func(e *jx.Encoder) { e.Str(l.Name) })
						e.Field("description", func(e *jx.Encoder) { e.Str(l.Description) })
						e.Field("logo", func(e *jx.Encoder) { e.Str(l.Logo) })
						e.Field("link", func(e *jx.Encoder) { e.Str(l.Link) })
					})
				}
			})
		})
	})
}

func encodeOutcome(e *jx.Encoder, out payment.Outcome) {
	e.Obj(func(e *jx.Encoder) {
		paid := out.Request != nil && out.Request.Status == payment.StatusPaid
		e.Field("paid", func(e *jx.Encoder) { e.Bool(paid) })
		e.Field("applied", func(e *jx.Encoder) { e.Bool(out.Applied) })
		e.Field("alreadyPaid", func(e *jx.Encoder) { e.Bool(out.AlreadyPaid) })
		e.Field("paidAmount", func(e *jx.Encoder) { money(e, out.PaidAmount) })
		if out.Request != nil {
			e.Field("payment", func(e *jx.Encoder) { encodePayment(e, out.Request) })
		}
	})
}

func encodeQuote(e *jx.Encoder, q sale.Quote) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("productId", func(e *jx.Encoder) { e.Str(q.ProductID) })
		e.Field("originalPrice", func(e *jx.Encoder) { money(e, q.OriginalPrice) })
		e.Field("finalPrice", func(e *jx.Encoder) { money(e, q.FinalPrice) })
		e.Field("discount", func(e *jx.Encoder) { money(e, q.Discount) })
		e.Field("hasSale", func(e *jx.Encoder) { e.Bool(q.Sale != nil) })
		if s := q.Sale; s != nil {
			e.Field("sale", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Str(s.ID) })
					e.Field("title", func(e *jx.Encoder) { e.Str(s.Title) })
					e.Field("badgeText", func(e *jx.Encoder) { e.Str(s.BadgeText) })
					e.Field("discountType", func(e *jx.Encoder) { e.Str(string(s.Discount.Type)) })
					e.Field("discountValue", func(e *jx.Encoder) { money(e, s.Discount.Value) })
				})
			})
		}
	})
}

func encodePromoResult(e *jx.Encoder, res *promo.Result) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("valid", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("code", func(e *jx.Encoder) { e.Str(res.Code.Code) })
		e.Field("description", func(e *jx.Encoder) { e.Str(res.Code.Description) })
		e.Field("discountType", func(e *jx.Encoder) { e.Str(string(res.Code.Discount.Type)) })
		e.Field("discountValue", func(e *jx.Encoder) { money(e, res.Code.Discount.Value) })
		e.Field("applicableAmount", func(e *jx.Encoder) { money(e, res.ApplicableAmount) })
		e.Field("discount", func(e *jx.Encoder) { money(e, res.Discount) })
	})
}
