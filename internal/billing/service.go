// Package billing はStripe Checkoutによるプラン購入と、決済完了Webhookによるプラン変更を提供する。
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/docquery/internal/metrics"
	"github.com/hitoshi/docquery/internal/model"
	"github.com/hitoshi/docquery/internal/repository"
)

// EventTypeCheckoutSessionCompleted はプラン変更の契機となるイベント種別。
const EventTypeCheckoutSessionCompleted = "checkout.session.completed"

// DowngradeMessage はfreeプランに戻したときの応答メッセージ。
const DowngradeMessage = "Your account has been downgraded to Free plan."

// Product はチェックアウトで販売するプランの商品情報。
type Product struct {
	Name     string
	Amount   int64 // 最小通貨単位
	Currency string
}

// Catalog はプラン別の商品情報。IsPaidな全プランを含む。
var Catalog = map[model.Plan]Product{
	model.PlanPremium:     {Name: "DocQueryAI Premium Plan", Amount: 99900, Currency: "inr"},
	model.PlanPremiumPlus: {Name: "DocQueryAI Premium Plus Plan", Amount: 199900, Currency: "inr"},
}

// CheckoutRequest は決済ページ作成に必要な情報。
type CheckoutRequest struct {
	UserID     string
	Email      string
	Plan       model.Plan
	Product    Product
	SuccessURL string
	CancelURL  string
}

// CheckoutCreator は決済ページを作成し、リダイレクト先URLを返す。
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
}

// Event は署名検証済みのWebhookイベント。
// Typeがcheckout.session.completedの場合のみCheckoutが設定される。
type Event struct {
	ID       string
	Type     string
	Checkout *CompletedCheckout
}

// CompletedCheckout は完了したチェックアウトのメタデータ。
type CompletedCheckout struct {
	UserID     string
	Plan       string
	CustomerID string
}

// EventVerifier はWebhookの署名を検証し、イベントを復元する。
type EventVerifier interface {
	VerifyEvent(payload []byte, signature string) (*Event, error)
}

// PlanUpdater はユーザーのプランを変更する。
type PlanUpdater interface {
	UpdatePlan(ctx context.Context, id string, plan model.Plan) error
}

// Service は決済に関するビジネスロジックを提供する。
type Service struct {
	checkout    CheckoutCreator
	verifier    EventVerifier
	users       PlanUpdater
	events      repository.WebhookEventRepository
	frontendURL string
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	checkout CheckoutCreator,
	verifier EventVerifier,
	users PlanUpdater,
	events repository.WebhookEventRepository,
	frontendURL string,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		checkout:    checkout,
		verifier:    verifier,
		users:       users,
		events:      events,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		metrics:     mc,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateCheckout は指定プランの決済ページを作成し、リダイレクト先URLを返す。
// planはpremiumまたはpremiumPlusのみ受け付ける。
func (s *Service) CreateCheckout(ctx context.Context, user *model.User, plan string) (string, error) {
	p := model.Plan(plan)
	if !p.IsPaid() {
		s.metrics.RecordCheckout("invalid", "rejected")
		return "", model.NewInvalidPlanError(plan)
	}
	product := Catalog[p]

	url, err := s.checkout.CreateCheckoutSession(ctx, CheckoutRequest{
		UserID:     user.ID,
		Email:      user.Email,
		Plan:       p,
		Product:    product,
		SuccessURL: s.frontendURL + "/payment-success",
		CancelURL:  s.frontendURL + "/payment-cancel",
	})
	if err != nil {
		s.metrics.RecordCheckout(plan, "failed")
		s.logger.Error("failed to create checkout session",
			slog.String("user_id", user.ID),
			slog.String("plan", plan),
			slog.String("error", err.Error()),
		)
		return "", model.NewBillingUnavailableError()
	}

	s.metrics.RecordCheckout(plan, "created")
	s.logger.Info("checkout session created",
		slog.String("user_id", user.ID),
		slog.String("plan", plan),
	)
	return url, nil
}

// HandleWebhook は署名を検証し、決済完了イベントであればプランを変更する。
// 署名が不正な場合は何も変更せずInvalidSignatureErrorを返す。
// 対象ユーザーが存在しない場合や処理済みイベントの再配信は正常終了とする。
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.verifier.VerifyEvent(payload, signature)
	if err != nil {
		s.metrics.RecordWebhook("invalid_signature")
		s.logger.Warn("webhook signature verification failed", slog.String("error", err.Error()))
		return model.NewInvalidSignatureError(err.Error())
	}

	if event.Type != EventTypeCheckoutSessionCompleted || event.Checkout == nil {
		s.metrics.RecordWebhook("ignored")
		s.logger.Debug("ignoring webhook event",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type),
		)
		return nil
	}

	plan := model.PlanPremium
	if event.Checkout.Plan == string(model.PlanPremiumPlus) {
		plan = model.PlanPremiumPlus
	}

	completion := repository.CheckoutCompletion{
		Event: model.WebhookEvent{
			EventID:     event.ID,
			EventType:   event.Type,
			ProcessedAt: s.now(),
		},
		UserID:           event.Checkout.UserID,
		Plan:             plan,
		StripeCustomerID: event.Checkout.CustomerID,
	}

	// UUIDでないIDはDBに問い合わせずユーザー不在として扱う
	if _, err := uuid.Parse(completion.UserID); err != nil {
		completion.UserID = uuid.Nil.String()
	}

	outcome, err := s.events.ApplyCheckoutCompleted(ctx, completion)
	if err != nil {
		s.metrics.RecordWebhook("error")
		return fmt.Errorf("failed to apply checkout completion: %w", err)
	}

	s.metrics.RecordWebhook(outcome.String())
	attrs := []any{
		slog.String("event_id", event.ID),
		slog.String("user_id", event.Checkout.UserID),
		slog.String("plan", string(plan)),
		slog.String("outcome", outcome.String()),
	}
	switch outcome {
	case repository.CheckoutUserMissing:
		s.logger.Error("user not found for completed checkout", attrs...)
	case repository.CheckoutDuplicate:
		s.logger.Info("duplicate webhook delivery ignored", attrs...)
	default:
		s.logger.Info("plan upgraded", attrs...)
	}
	return nil
}

// Downgrade はユーザーのプランをfreeに戻す。元のプランは問わない。
func (s *Service) Downgrade(ctx context.Context, user *model.User) error {
	if err := s.users.UpdatePlan(ctx, user.ID, model.PlanFree); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.NewUserNotFoundError()
		}
		return fmt.Errorf("failed to downgrade plan: %w", err)
	}
	s.logger.Info("plan downgraded",
		slog.String("user_id", user.ID),
		slog.String("previous_plan", string(user.Plan)),
	)
	user.Plan = model.PlanFree
	return nil
}
