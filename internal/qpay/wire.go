package qpay

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

type tokenResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

func (t *tokenResponse) decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "access_token":
			return decodeStr(d, &t.AccessToken)
		case "refresh_token":
			return decodeStr(d, &t.RefreshToken)
		case "expires_in":
			v, err := decodeDecimal(d)
			if err != nil {
				return errors.Wrap(err, "expires_in")
			}
			t.ExpiresIn = v.IntPart()
			return nil
		default:
			return d.Skip()
		}
	})
}

func refreshBody(refreshToken string) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("refresh_token", func(e *jx.Encoder) { e.Str(refreshToken) })
	})
	return e.Bytes()
}

// InvoiceRequest describes an invoice to create.
type InvoiceRequest struct {
	SenderInvoiceNo string
	ReceiverCode    string
	Description     string
	Amount          decimal.Decimal
	CallbackURL     string
}

func (r InvoiceRequest) encode(invoiceCode string) []byte {
	receiver := r.ReceiverCode
	if receiver == "" {
		receiver = "terminal"
	}
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("invoice_code", func(e *jx.Encoder) { e.Str(invoiceCode) })
		e.Field("sender_invoice_no", func(e *jx.Encoder) { e.Str(r.SenderInvoiceNo) })
		e.Field("invoice_receiver_code", func(e *jx.Encoder) { e.Str(receiver) })
		e.Field("invoice_description", func(e *jx.Encoder) { e.Str(r.Description) })
		e.Field("amount", func(e *jx.Encoder) { e.Num(jx.Num(r.Amount.StringFixed(2))) })
		e.Field("callback_url", func(e *jx.Encoder) { e.Str(r.CallbackURL) })
	})
	return e.Bytes()
}

// DeepLink is a bank application link for an invoice.
type DeepLink struct {
	Name        string
	Description string
	Logo        string
	Link        string
}

// Invoice is a created gateway invoice.
type Invoice struct {
	InvoiceID string
	QRText    string
	QRImage   string
	ShortURL  string
	URLs      []DeepLink
}

func (i *Invoice) decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "invoice_id":
			return decodeStr(d, &i.InvoiceID)
		case "qr_text":
			return decodeStr(d, &i.QRText)
		case "qr_image":
			return decodeStr(d, &i.QRImage)
		case "qPay_shortUrl", "qpay_shorturl":
			return decodeStr(d, &i.ShortURL)
		case "urls":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Arr(func(d *jx.Decoder) error {
				var l DeepLink
				if err := l.decode(d); err != nil {
					return err
				}
				i.URLs = append(i.URLs, l)
				return nil
			})
		default:
			return d.Skip()
		}
	})
}

func (l *DeepLink) decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "name":
			return decodeStr(d, &l.Name)
		case "description":
			return decodeStr(d, &l.Description)
		case "logo":
			return decodeStr(d, &l.Logo)
		case "link":
			return decodeStr(d, &l.Link)
		default:
			return d.Skip()
		}
	})
}

func checkBody(invoiceID string) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("object_type", func(e *jx.Encoder) { e.Str("INVOICE") })
		e.Field("object_id", func(e *jx.Encoder) { e.Str(invoiceID) })
		e.Field("offset", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("page_number", func(e *jx.Encoder) { e.Int(1) })
				e.Field("page_limit", func(e *jx.Encoder) { e.Int(100) })
			})
		})
	})
	return e.Bytes()
}

// PaymentCheck is the result of a payment status query.
type PaymentCheck struct {
	Count      int64
	PaidAmount decimal.Decimal
	// Rows holds the raw payment rows as returned by the gateway.
	Rows []jx.Raw
}

// Paid reports whether at least amount has been paid.
func (p *PaymentCheck) Paid(amount decimal.Decimal) bool {
	return p.Count > 0 && p.PaidAmount.GreaterThanOrEqual(amount)
}

// FirstRow returns the first payment row or nil.
func (p *PaymentCheck) FirstRow() []byte {
	if len(p.Rows) == 0 {
		return nil
	}
	return p.Rows[0]
}

func (p *PaymentCheck) decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "count":
			v, err := decodeDecimal(d)
			if err != nil {
				return errors.Wrap(err, "count")
			}
			p.Count = v.IntPart()
			return nil
		case "paid_amount":
			v, err := decodeDecimal(d)
			if err != nil {
				return errors.Wrap(err, "paid_amount")
			}
			p.PaidAmount = v
			return nil
		case "rows":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Arr(func(d *jx.Decoder) error {
				raw, err := d.Raw()
				if err != nil {
					return err
				}
				p.Rows = append(p.Rows, append(jx.Raw(nil), raw...))
				return nil
			})
		default:
			return d.Skip()
		}
	})
}

// Callback is the body QPay posts to the merchant callback URL.
type Callback struct {
	InvoiceID     string
	PaymentID     string
	Amount        decimal.NullDecimal
	PaymentStatus string
}

// IsPaid reports whether the callback announces a successful payment.
func (c Callback) IsPaid() bool {
	return c.PaymentStatus == "PAID" || c.PaymentStatus == "paid"
}

// IsFailed reports whether the callback announces a failed or cancelled
// payment.
func (c Callback) IsFailed() bool {
	switch c.PaymentStatus {
	case "FAILED", "failed", "CANCELLED", "cancelled":
		return true
	default:
		return false
	}
}

// ParseCallback decodes a callback body.
func ParseCallback(body []byte) (Callback, error) {
	var c Callback
	err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "invoice_id":
			return decodeStr(d, &c.InvoiceID)
		case "payment_id":
			return decodeStr(d, &c.PaymentID)
		case "payment_status":
			return decodeStr(d, &c.PaymentStatus)
		case "amount":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := decodeDecimal(d)
			if err != nil {
				return errors.Wrap(err, "amount")
			}
			c.Amount = decimal.NewNullDecimal(v)
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Callback{}, errors.Wrap(err, "decode callback")
	}
	return c, nil
}

// decodeStr reads a string, number or null into dst. QPay is loose about
// id types, so numeric ids are kept in their textual form.
func decodeStr(d *jx.Decoder, dst *string) error {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return err
		}
		*dst = s
		return nil
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return err
		}
		*dst = n.String()
		return nil
	case jx.Null:
		return d.Null()
	default:
		return errors.Errorf("unexpected %s", d.Next())
	}
}

// decodeDecimal reads a number or numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Null:
		return decimal.Zero, d.Null()
	default:
		return decimal.Zero, errors.Errorf("unexpected %s", d.Next())
	}
}
