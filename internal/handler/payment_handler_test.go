package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/docquery/internal/billing"
	"github.com/hitoshi/docquery/internal/middleware"
	"github.com/hitoshi/docquery/internal/model"
)

type mockBillingService struct {
	createCheckoutFn func(ctx context.Context, user *model.User, plan string) (string, error)
	handleWebhookFn  func(ctx context.Context, payload []byte, signature string) error
	downgradeFn      func(ctx context.Context, user *model.User) error
}

func (m *mockBillingService) CreateCheckout(ctx context.Context, user *model.User, plan string) (string, error) {
	return m.createCheckoutFn(ctx, user, plan)
}

func (m *mockBillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	return m.handleWebhookFn(ctx, payload, signature)
}

func (m *mockBillingService) Downgrade(ctx context.Context, user *model.User) error {
	return m.downgradeFn(ctx, user)
}

func authedRequest(method, path, body string, user *model.User) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	return req.WithContext(middleware.ContextWithUser(req.Context(), user))
}

func TestPaymentHandler_CreateCheckoutSession_ReturnsRedirectURL(t *testing.T) {
	var gotPlan string
	h := NewPaymentHandler(&mockBillingService{
		createCheckoutFn: func(ctx context.Context, user *model.User, plan string) (string, error) {
			gotPlan = plan
			return "https://checkout.stripe.com/c/pay/cs_1", nil
		},
	})

	w := httptest.NewRecorder()
	h.CreateCheckoutSession(w, authedRequest(http.MethodPost, "/api/payment/create-checkout-session", `{"plan":"premiumPlus"}`,
		&model.User{ID: "u", Email: "a@b.com"}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotPlan != "premiumPlus" {
		t.Errorf("plan = %q", gotPlan)
	}
	var body checkoutResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.RedirectURL != "https://checkout.stripe.com/c/pay/cs_1" || body.URL != body.RedirectURL {
		t.Errorf("body = %+v", body)
	}
}

func TestPaymentHandler_CreateCheckoutSession_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid plan", model.NewInvalidPlanError("gold"), http.StatusBadRequest, model.ErrCodeInvalidPlan},
		{"stripe down", model.NewBillingUnavailableError(), http.StatusBadGateway, model.ErrCodeBillingUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPaymentHandler(&mockBillingService{
				createCheckoutFn: func(ctx context.Context, user *model.User, plan string) (string, error) {
					return "", tt.err
				},
			})
			w := httptest.NewRecorder()
			h.CreateCheckoutSession(w, authedRequest(http.MethodPost, "/api/payment/create-checkout-session", `{"plan":"gold"}`, &model.User{ID: "u"}))
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if body := decodeError(t, w); body.Code != tt.code {
				t.Errorf("code = %q, want %q", body.Code, tt.code)
			}
		})
	}
}

func TestPaymentHandler_Webhook_PassesRawBodyAndSignature(t *testing.T) {
	const raw = `{"id":"evt_1",  "type":"checkout.session.completed"}`
	var gotPayload, gotSig string
	h := NewPaymentHandler(&mockBillingService{
		handleWebhookFn: func(ctx context.Context, payload []byte, signature string) error {
			gotPayload, gotSig = string(payload), signature
			return nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", strings.NewReader(raw))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	w := httptest.NewRecorder()
	h.Webhook(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotPayload != raw {
		t.Errorf("payload was modified: %q", gotPayload)
	}
	if gotSig != "t=1,v1=abc" {
		t.Errorf("signature = %q", gotSig)
	}
	if strings.TrimSpace(w.Body.String()) != `{"received":true}` {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestPaymentHandler_Webhook_InvalidSignature_Returns400(t *testing.T) {
	h := NewPaymentHandler(&mockBillingService{
		handleWebhookFn: func(ctx context.Context, payload []byte, signature string) error {
			return model.NewInvalidSignatureError("no signatures found")
		},
	})

	w := httptest.NewRecorder()
	h.Webhook(w, httptest.NewRequest(http.MethodPost, "/api/payment/webhook", strings.NewReader("{}")))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeInvalidSignature {
		t.Errorf("code = %q", body.Code)
	}
}

func TestPaymentHandler_Webhook_ProcessingFailure_Returns500(t *testing.T) {
	h := NewPaymentHandler(&mockBillingService{
		handleWebhookFn: func(ctx context.Context, payload []byte, signature string) error {
			return errors.New("tx aborted")
		},
	})

	w := httptest.NewRecorder()
	h.Webhook(w, httptest.NewRequest(http.MethodPost, "/api/payment/webhook", strings.NewReader("{}")))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestPaymentHandler_MyPlan(t *testing.T) {
	h := NewPaymentHandler(&mockBillingService{})

	tests := []struct {
		plan model.Plan
		want string
	}{
		{model.PlanPremium, "premium"},
		{"", "free"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		h.MyPlan(w, authedRequest(http.MethodGet, "/api/payment/my-plan", "", &model.User{ID: "u", Email: "a@b.com", Plan: tt.plan}))

		var body planResponse
		json.NewDecoder(w.Body).Decode(&body)
		if body.Email != "a@b.com" || string(body.Plan) != tt.want {
			t.Errorf("plan %q: body = %+v, want plan %q", tt.plan, body, tt.want)
		}
	}
}

func TestPaymentHandler_Downgrade_ReturnsMessage(t *testing.T) {
	called := false
	h := NewPaymentHandler(&mockBillingService{
		downgradeFn: func(ctx context.Context, user *model.User) error {
			called = true
			return nil
		},
	})

	w := httptest.NewRecorder()
	h.Downgrade(w, authedRequest(http.MethodPost, "/api/payment/downgrade", "", &model.User{ID: "u", Plan: model.PlanPremium}))

	if w.Code != http.StatusOK || !called {
		t.Fatalf("status = %d, called = %v", w.Code, called)
	}
	var body messageResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.Message != billing.DowngradeMessage {
		t.Errorf("message = %q", body.Message)
	}
}
