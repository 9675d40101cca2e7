package billing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeGateway はstripe-goを使ったCheckoutCreatorとEventVerifierの実装。
type StripeGateway struct {
	sc            *stripe.Client
	webhookSecret string
}

// NewStripeGateway はStripeGatewayを生成する。
// backendsがnilの場合はStripe本番APIを使う。
func NewStripeGateway(secretKey, webhookSecret string, backends *stripe.Backends) *StripeGateway {
	var opts []stripe.ClientOption
	if backends != nil {
		opts = append(opts, stripe.WithBackends(backends))
	}
	return &StripeGateway{sc: stripe.NewClient(secretKey, opts...), webhookSecret: webhookSecret}
}

// CreateCheckoutSession は1商品の支払いモードでCheckout Sessionを作成し、そのURLを返す。
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	params := &stripe.CheckoutSessionCreateParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card", "upi"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail:      stripe.String(req.Email),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripe.String(req.Product.Currency),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Product.Name),
					},
					UnitAmount: stripe.Int64(req.Product.Amount),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.AddMetadata("userId", req.UserID)
	params.AddMetadata("plan", string(req.Plan))

	sess, err := g.sc.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess.URL, nil
}

// VerifyEvent はStripe-Signatureヘッダーを検証し、イベントを復元する。
// APIバージョンの不一致は許容する。
func (g *StripeGateway) VerifyEvent(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return nil, err
	}

	event := &Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Type != stripe.EventTypeCheckoutSessionCompleted {
		return event, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode checkout session: %w", err)
	}

	completed := &CompletedCheckout{
		UserID: sess.Metadata["userId"],
		Plan:   sess.Metadata["plan"],
	}
	if sess.Customer != nil {
		completed.CustomerID = sess.Customer.ID
	}
	event.Checkout = completed
	return event, nil
}

var (
	_ CheckoutCreator = (*StripeGateway)(nil)
	_ EventVerifier   = (*StripeGateway)(nil)
)
