package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	stripecustomer "github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/customersession"
	"github.com/stripe/stripe-go/v84/invoice"
	"github.com/stripe/stripe-go/v84/setupintent"
)

// VAT is charged at the Irish reduced rate and is included in the ride price.
const (
	vatPercent     = 13.5
	vatDescription = "VAT - Reduced Rate"
)

// Gateway is the slice of the Stripe API the service needs.
type Gateway interface {
	CreateCustomer(ctx context.Context, userID, email string) (string, error)
	CustomerSession(ctx context.Context, customerID string) (string, error)
	SetupIntent(ctx context.Context, customerID string) (string, error)
	DefaultPaymentMethod(ctx context.Context, customerID string) (string, bool, error)
	ChargeRide(ctx context.Context, customerID string, line InvoiceLine) (string, error)
}

type InvoiceLine struct {
	Description string
	AmountCents int64
	RideID      string
}

// VATIncluded returns the tax portion of an amount which already includes VAT.
func VATIncluded(amount int64) int64 {
	return int64(float64(amount)*vatPercent/(100+vatPercent) + 0.5)
}

// StripeGateway calls the Stripe API with the process-wide key in stripe.Key.
type StripeGateway struct{}

func NewStripeGateway(key string) StripeGateway {
	stripe.Key = key
	return StripeGateway{}
}

func (StripeGateway) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripe.CustomerParams{
		Metadata: map[string]string{
			"user_id": userID,
		},
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.Context = ctx
	c, err := stripecustomer.New(params)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (StripeGateway) CustomerSession(ctx context.Context, customerID string) (string, error) {
	params := &stripe.CustomerSessionParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	params.AddExtra("components[customer_sheet][enabled]", "true")
	params.AddExtra("components[customer_sheet][features][payment_method_remove]", "enabled")
	cs, err := customersession.New(params)
	if err != nil {
		return "", err
	}
	return cs.ClientSecret, nil
}

func (StripeGateway) SetupIntent(ctx context.Context, customerID string) (string, error) {
	params := &stripe.SetupIntentParams{
		Customer: stripe.String(customerID),
		AutomaticPaymentMethods: &stripe.SetupIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	si, err := setupintent.New(params)
	if err != nil {
		return "", err
	}
	return si.ClientSecret, nil
}

func (StripeGateway) DefaultPaymentMethod(ctx context.Context, customerID string) (string, bool, error) {
	params := &stripe.CustomerListPaymentMethodsParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	result := stripecustomer.ListPaymentMethods(params)
	if result.Next() {
		return result.PaymentMethod().ID, true, nil
	}
	if err := result.Err(); err != nil {
		return "", false, err
	}
	return "", false, nil
}

// ChargeRide creates, finalizes and pays a one-line invoice.
func (StripeGateway) ChargeRide(ctx context.Context, customerID string, line InvoiceLine) (string, error) {
	inParams := &stripe.InvoiceParams{
		Customer: stripe.String(customerID),
		Metadata: map[string]string{"ride_id": line.RideID},
	}
	inParams.Context = ctx
	in, err := invoice.New(inParams)
	if err != nil {
		return "", fmt.Errorf("failed to create invoice: %w", err)
	}

	tax := VATIncluded(line.AmountCents)
	ilParams := &stripe.InvoiceAddLinesParams{
		Lines: []*stripe.InvoiceAddLinesLineParams{
			{
				Amount:      stripe.Int64(line.AmountCents),
				Description: stripe.String(line.Description),
				TaxAmounts: []*stripe.InvoiceAddLinesLineTaxAmountParams{
					{
						Amount:        stripe.Int64(tax),
						TaxableAmount: stripe.Int64(line.AmountCents - tax),
						TaxRateData: &stripe.InvoiceAddLinesLineTaxAmountTaxRateDataParams{
							Percentage:  stripe.Float64(vatPercent),
							Description: stripe.String(vatDescription),
							DisplayName: stripe.String(fmt.Sprintf("%s (%.1f%%)", vatDescription, vatPercent)),
							Inclusive:   stripe.Bool(true),
						},
					},
				},
			},
		},
	}
	ilParams.Context = ctx
	if _, err := invoice.AddLines(in.ID, ilParams); err != nil {
		return in.ID, fmt.Errorf("failed to add lines to invoice: %w", err)
	}

	finParams := &stripe.InvoiceFinalizeInvoiceParams{}
	finParams.Context = ctx
	if _, err := invoice.FinalizeInvoice(in.ID, finParams); err != nil {
		return in.ID, fmt.Errorf("failed to finalize invoice: %w", err)
	}
	payParams := &stripe.InvoicePayParams{}
	payParams.Context = ctx
	if _, err := invoice.Pay(in.ID, payParams); err != nil {
		return in.ID, fmt.Errorf("failed to pay invoice: %w", err)
	}
	return in.ID, nil
}
