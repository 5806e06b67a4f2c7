//go:build integration

package integration

import (
	"net/http"
	"regexp"
	"testing"
)

var paymentCodePattern = regexp.MustCompile(`^PD-\d{6}-\d{7}$`)

var testContact = contactRequest{
	Name:    "Bat-Erdene",
	Address: "Peace Avenue 12, Ulaanbaatar",
	Phone:   "99112233",
	Email:   "bat@example.mn",
}

func checkout(t *testing.T, req checkoutRequest) checkoutResponse {
	t.Helper()

	resp := doPost(t, "/api/checkout", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	return decodeJSON[envelope[checkoutResponse]](t, resp).Data
}

func TestCheckout_SalesAndPromo(t *testing.T) {
	res := checkout(t, checkoutRequest{
		Items: []itemRequest{
			{ProductID: "rc-buggy-1", Quantity: 1},
			{ProductID: "battery-3s", Quantity: 2},
		},
		Contact:   testContact,
		PromoCode: "welcome10",
	})

	o := res.Order
	if o.Status != "Awaiting Payment" {
		t.Errorf("status: got %q", o.Status)
	}
	if o.Subtotal != 709000 {
		t.Errorf("subtotal: got %v, want 709000", o.Subtotal)
	}
	if o.SaleDiscount != 87500 {
		t.Errorf("sale discount: got %v, want 87500", o.SaleDiscount)
	}
	if o.PromoDiscount != 62150 {
		t.Errorf("promo discount: got %v, want 62150", o.PromoDiscount)
	}
	if o.Total != 559350 {
		t.Errorf("total: got %v, want 559350", o.Total)
	}
	if o.PromoCode != "WELCOME10" {
		t.Errorf("promo code: got %q", o.PromoCode)
	}

	p := res.Payment
	if p.Status != "Pending" || p.Amount != o.Total || p.OrderID != o.ID {
		t.Errorf("payment: got %+v", p)
	}
	if !paymentCodePattern.MatchString(p.Code) {
		t.Errorf("payment code %q does not look like PD-YYMMDD-NNNNNNN", p.Code)
	}
}

func TestCheckout_Validation(t *testing.T) {
	tests := []struct {
		name       string
		req        checkoutRequest
		wantStatus int
	}{
		{
			name:       "empty items",
			req:        checkoutRequest{Contact: testContact},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing contact",
			req: checkoutRequest{
				Items: []itemRequest{{ProductID: "tyres-offroad", Quantity: 1}},
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unknown product",
			req: checkoutRequest{
				Items:   []itemRequest{{ProductID: "does-not-exist", Quantity: 1}},
				Contact: testContact,
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "zero quantity",
			req: checkoutRequest{
				Items:   []itemRequest{{ProductID: "tyres-offroad", Quantity: 0}},
				Contact: testContact,
			},
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doPost(t, "/api/checkout", tt.req)
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			body := decodeJSON[envelope[any]](t, resp)
			if body.Success || body.Message == "" {
				t.Errorf("error envelope: got %+v", body)
			}
		})
	}
}

func TestOrdersByPhone(t *testing.T) {
	contact := testContact
	contact.Phone = "88001122"
	created := checkout(t, checkoutRequest{
		Items:   []itemRequest{{ProductID: "tyres-offroad", Quantity: 1}},
		Contact: contact,
	})

	resp := doGet(t, "/api/orders/contact/"+contact.Phone)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	orders := decodeJSON[envelope[[]orderResponse]](t, resp).Data
	if len(orders) == 0 || orders[0].ID != created.Order.ID {
		t.Fatalf("expected newest order %s first, got %+v", created.Order.ID, orders)
	}
}

func TestCallback_UnknownInvoiceIsAcknowledged(t *testing.T) {
	resp := doPost(t, "/api/qpay/callback", map[string]any{
		"invoice_id":     "no-such-invoice",
		"payment_status": "PAID",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeJSON[callbackResponse](t, resp)
	if body.Success {
		t.Error("expected success=false for an unknown invoice")
	}
}

func TestAdmin_RequiresKey(t *testing.T) {
	resp := doJSON(t, http.MethodPost, "/api/admin/orders/1/cancel", nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, "/api/admin/orders/1/cancel", nil, "wrong-key")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an unknown key, got %d", resp.StatusCode)
	}
}

func TestAdmin_ConfirmMarksPaymentPaid(t *testing.T) {
	created := checkout(t, checkoutRequest{
		Items:   []itemRequest{{ProductID: "kit-beginner", Quantity: 1}},
		Contact: testContact,
	})
	id := created.Order.ID

	resp := doJSON(t, http.MethodPut, "/api/admin/orders/"+id+"/status",
		map[string]string{"status": "Processing"}, testAdminKey)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := decodeJSON[envelope[orderResponse]](t, resp).Data.Status; got != "Processing" {
		t.Fatalf("order status: got %q", got)
	}

	info := doGet(t, "/api/qpay/order/"+id)
	defer info.Body.Close()
	if info.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", info.StatusCode)
	}
	p := decodeJSON[envelope[paymentResponse]](t, info).Data
	if p.Status != "Paid" || p.PaymentType != "admin_confirmed" {
		t.Errorf("payment: got status=%q type=%q", p.Status, p.PaymentType)
	}
}

func TestAdmin_CancelOrder(t *testing.T) {
	created := checkout(t, checkoutRequest{
		Items:   []itemRequest{{ProductID: "tyres-offroad", Quantity: 2}},
		Contact: testContact,
	})
	id := created.Order.ID

	for range 2 {
		resp := doJSON(t, http.MethodPost, "/api/admin/orders/"+id+"/cancel", nil, testAdminKey)
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		got := decodeJSON[envelope[orderResponse]](t, resp).Data.Status
		resp.Body.Close()
		if got != "Cancelled" {
			t.Fatalf("order status: got %q", got)
		}
	}

	resp := doGet(t, "/api/orders/"+id)
	defer resp.Body.Close()
	if got := decodeJSON[envelope[orderResponse]](t, resp).Data.Status; got != "Cancelled" {
		t.Errorf("persisted status: got %q", got)
	}
}
