// Package billing charges riders through Stripe. Payments are optional: the
// server only builds a Service when a Stripe key is configured.
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/semanticallynull/cycleshare-backend/internal/apperr"
	"github.com/semanticallynull/cycleshare-backend/ride"
	"github.com/semanticallynull/cycleshare-backend/user"
)

var (
	ErrNoPaymentMethod = apperr.New(apperr.InvalidState, "a payment method is required")
	ErrNoCustomer      = apperr.New(apperr.InvalidState, "no payment profile; create a session first")
)

type Users interface {
	GetUser(ctx context.Context, id uuid.UUID) (user.User, error)
	AddStripeID(ctx context.Context, id uuid.UUID, stripeID string) error
}

type Session struct {
	CustomerID   string `json:"customerId"`
	ClientSecret string `json:"clientSecret"`
}

type Service struct {
	users  Users
	gw     Gateway
	logger *slog.Logger
	wg     sync.WaitGroup
}

var _ ride.Publisher = (*Service)(nil)

func NewService(users Users, gw Gateway, logger *slog.Logger) *Service {
	return &Service{
		users:  users,
		gw:     gw,
		logger: logger,
	}
}

// EnsureCustomer returns the user's Stripe customer id, creating the
// customer on first use.
func (s *Service) EnsureCustomer(ctx context.Context, userID uuid.UUID) (string, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.StripeID.Valid {
		return u.StripeID.String, nil
	}
	id, err := s.gw.CreateCustomer(ctx, u.ID.String(), u.Email.String)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe customer: %w", err)
	}
	if err := s.users.AddStripeID(ctx, u.ID, id); err != nil {
		return "", fmt.Errorf("failed to save stripe customer id: %w", err)
	}
	return id, nil
}

func (s *Service) CustomerSession(ctx context.Context, userID uuid.UUID) (Session, error) {
	customerID, err := s.EnsureCustomer(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	secret, err := s.gw.CustomerSession(ctx, customerID)
	if err != nil {
		return Session{}, fmt.Errorf("failed to create customer session: %w", err)
	}
	return Session{CustomerID: customerID, ClientSecret: secret}, nil
}

func (s *Service) customerID(ctx context.Context, userID uuid.UUID) (string, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if !u.StripeID.Valid {
		return "", ErrNoCustomer
	}
	return u.StripeID.String, nil
}

func (s *Service) SetupIntent(ctx context.Context, userID uuid.UUID) (string, error) {
	customerID, err := s.customerID(ctx, userID)
	if err != nil {
		return "", err
	}
	secret, err := s.gw.SetupIntent(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("failed to create setup intent: %w", err)
	}
	return secret, nil
}

func (s *Service) PaymentMethod(ctx context.Context, userID uuid.UUID) (string, error) {
	customerID, err := s.customerID(ctx, userID)
	if err != nil {
		return "", err
	}
	pm, ok, err := s.gw.DefaultPaymentMethod(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve payment method: %w", err)
	}
	if !ok {
		return "", ErrNoPaymentMethod
	}
	return pm, nil
}

// Publish invoices completed rides in the background. Riders without a
// Stripe customer and free rides are skipped.
func (s *Service) Publish(ctx context.Context, e ride.Event) error {
	if e.Type != ride.EventCompleted || e.CostCents <= 0 {
		return nil
	}
	u, err := s.users.GetUser(ctx, e.UserID)
	if err != nil {
		return err
	}
	if !u.StripeID.Valid {
		return nil
	}

	line := InvoiceLine{
		Description: fmt.Sprintf("Ride %s - %d minutes", e.CycleCode, e.DurationMinutes),
		AmountCents: e.CostCents,
		RideID:      e.RideID.String(),
	}
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		id, err := s.gw.ChargeRide(ctx, u.StripeID.String, line)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to invoice ride", "rideId", e.RideID, "invoice", id, "error", err)
			return
		}
		s.logger.InfoContext(ctx, "ride invoiced", "rideId", e.RideID, "invoice", id, "amount", e.CostCents)
	}()
	return nil
}

// Wait blocks until in-flight invoices have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
