package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/hitoshi/docquery/internal/billing"
	"github.com/hitoshi/docquery/internal/middleware"
	"github.com/hitoshi/docquery/internal/model"
)

// stripeSignatureHeader はWebhookの署名が格納されるヘッダー名。
const stripeSignatureHeader = "Stripe-Signature"

// BillingServiceInterface は決済ハンドラーが必要とするサービスインターフェース。
type BillingServiceInterface interface {
	CreateCheckout(ctx context.Context, user *model.User, plan string) (string, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	Downgrade(ctx context.Context, user *model.User) error
}

// PaymentHandler は決済関連のHTTPハンドラー。
type PaymentHandler struct {
	service BillingServiceInterface
}

// NewPaymentHandler はPaymentHandlerを生成する。
func NewPaymentHandler(service BillingServiceInterface) *PaymentHandler {
	return &PaymentHandler{service: service}
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

// checkoutResponse は決済ページのURL。
// 旧クライアントはurl、新クライアントはredirectUrlを参照するため両方返す。
type checkoutResponse struct {
	RedirectURL string `json:"redirectUrl"`
	URL         string `json:"url"`
}

type planResponse struct {
	Email string     `json:"email"`
	Plan  model.Plan `json:"plan"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type webhookResponse struct {
	Received bool `json:"received"`
}

// CreateCheckoutSession は有料プランの決済ページを作成する。
// POST /api/payment/create-checkout-session
func (h *PaymentHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	var req checkoutRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	url, err := h.service.CreateCheckout(r.Context(), user, req.Plan)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, checkoutResponse{RedirectURL: url, URL: url})
}

// Webhook は決済サービスからの署名付きイベントを処理する。
// 署名検証に生のボディが必要なため、JSONとしてはデコードしない。
// POST /api/payment/webhook
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidRequestError(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)))
			return
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("failed to read body"))
		return
	}

	if err := h.service.HandleWebhook(r.Context(), payload, r.Header.Get(stripeSignatureHeader)); err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, webhookResponse{Received: true})
}

// MyPlan は認証済みユーザーの現在のプランを返す。
// GET /api/payment/my-plan
func (h *PaymentHandler) MyPlan(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	plan := user.Plan
	if plan == "" {
		plan = model.PlanFree
	}
	middleware.WriteJSON(w, http.StatusOK, planResponse{Email: user.Email, Plan: plan})
}

// Downgrade は認証済みユーザーをfreeプランに戻す。
// POST /api/payment/downgrade
func (h *PaymentHandler) Downgrade(w http.ResponseWriter, r *http.Request) {
	user := currentUser(w, r)
	if user == nil {
		return
	}

	if err := h.service.Downgrade(r.Context(), user); err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: billing.DowngradeMessage})
}
