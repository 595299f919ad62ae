// Package funds moves money between the platform and users' external
// accounts. Every call is a best-effort side effect of a ledger operation.
package funds

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/transfer"
)

// Provider pays funds out to a destination account and charges a stored
// payment source. Both return the provider's reference.
type Provider interface {
	Payout(ctx context.Context, destination string, amount decimal.Decimal) (string, error)
	Charge(ctx context.Context, source string, amount decimal.Decimal) (string, error)
}

// IntentResult is what the client needs to confirm a payment.
type IntentResult struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// IntentCreator creates client-confirmed payment intents for deposits and
// token purchases.
type IntentCreator interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (*IntentResult, error)
}

var ErrNotConfigured = errors.New("funds provider not configured")

// Stripe implements Provider and IntentCreator with the Stripe Go SDK.
// Payouts are Connect transfers to an account id; charges confirm an
// off-session PaymentIntent against a payment method id.
type Stripe struct {
	SecretKey string
	Currency  string
}

func (s *Stripe) currency() string {
	if s.Currency == "" {
		return string(stripe.CurrencyUSD)
	}
	return strings.ToLower(s.Currency)
}

func (s *Stripe) Payout(ctx context.Context, destination string, amount decimal.Decimal) (string, error) {
	if s.SecretKey == "" {
		return "", ErrNotConfigured
	}
	if destination == "" {
		return "", fmt.Errorf("payout destination is required")
	}
	stripe.Key = s.SecretKey
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(ToCents(amount)),
		Currency:    stripe.String(s.currency()),
		Destination: stripe.String(destination),
	}
	params.Context = ctx
	tr, err := transfer.New(params)
	if err != nil {
		return "", err
	}
	return tr.ID, nil
}

func (s *Stripe) Charge(ctx context.Context, source string, amount decimal.Decimal) (string, error) {
	if s.SecretKey == "" {
		return "", ErrNotConfigured
	}
	customer, method := splitSource(source)
	if method == "" {
		return "", fmt.Errorf("payment source is required")
	}
	stripe.Key = s.SecretKey
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(ToCents(amount)),
		Currency:      stripe.String(s.currency()),
		PaymentMethod: stripe.String(method),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	if customer != "" {
		params.Customer = stripe.String(customer)
	}
	params.Context = ctx
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return pi.ID, fmt.Errorf("charge %s not settled: %s", pi.ID, pi.Status)
	}
	return pi.ID, nil
}

func (s *Stripe) CreateIntent(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (*IntentResult, error) {
	if s.SecretKey == "" {
		return nil, ErrNotConfigured
	}
	stripe.Key = s.SecretKey
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(ToCents(amount)),
		Currency: stripe.String(s.currency()),
		Metadata: metadata,
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, err
	}
	return &IntentResult{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// ToCents rounds a currency amount to the smallest unit.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromCents is the inverse of ToCents.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// splitSource accepts "pm_x" or "cus_y:pm_x".
func splitSource(source string) (customer, method string) {
	source = strings.TrimSpace(source)
	if i := strings.Index(source, ":"); i >= 0 {
		return source[:i], source[i+1:]
	}
	return "", source
}
