package payment

import (
	"context"
	"fmt"
	"os"

	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
)

// Verifier checks a client-supplied payment proof against the external
// payment authorization service. The client charges the customer before
// calling commit; the service only verifies the proof, it never charges.
type Verifier interface {
	Verify(ctx context.Context, paymentIntentID string) (models.PaymentResult, error)
}

// InitStripe initializes the Stripe API with the secret key.
func InitStripe() {
	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
}

// StripeVerifier resolves a PaymentIntent id and accepts it only when the
// intent has succeeded.
type StripeVerifier struct {
	Logger *logger.Logger
}

func NewStripeVerifier(log *logger.Logger) *StripeVerifier {
	return &StripeVerifier{Logger: log}
}

func (v *StripeVerifier) Verify(ctx context.Context, paymentIntentID string) (models.PaymentResult, error) {
	if paymentIntentID == "" {
		return models.PaymentResult{Detail: "payment intent id is required"}, nil
	}

	intent, err := paymentintent.Get(paymentIntentID, nil)
	if err != nil {
		if v.Logger != nil {
			v.Logger.Error("PAYMENT", fmt.Sprintf("failed to retrieve payment intent %s: %v", paymentIntentID, err))
		}
		return models.PaymentResult{}, fmt.Errorf("payment verification failed: %w", err)
	}

	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		if v.Logger != nil {
			v.Logger.Warn("PAYMENT", fmt.Sprintf("payment intent %s has status %s, not succeeded", intent.ID, intent.Status))
		}
		return models.PaymentResult{
			Reference: intent.ID,
			Detail:    fmt.Sprintf("payment intent status is %s", intent.Status),
		}, nil
	}

	return models.PaymentResult{Succeeded: true, Reference: intent.ID}, nil
}
