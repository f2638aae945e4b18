package service

import (
	"context"
	"fmt"

	"github.com/debtflow/ledger-service/internal/domain"
	"go.uber.org/zap"
)

// NotificationService observes committed ledger state and drives the
// reminder side of the back office. Delivery transport (email, SMS,
// WhatsApp) lives elsewhere; this consumer only decides what to say.
type NotificationService struct {
	logger *zap.Logger
}

func NewNotificationService(logger *zap.Logger) *NotificationService {
	return &NotificationService{
		logger: logger,
	}
}

// HandlePaymentAllocated acknowledges a payment against its installments.
func (s *NotificationService) HandlePaymentAllocated(ctx context.Context, event domain.DomainEvent) error {
	allocated, ok := event.(*domain.PaymentAllocatedEvent)
	if !ok {
		return fmt.Errorf("invalid event type")
	}

	payload := allocated.Payload

	s.logger.Info("handling payment allocated event",
		zap.String("event_id", event.GetEventID()),
		zap.String("customer_id", payload.CustomerID),
		zap.String("debt_id", payload.DebtID),
		zap.Int("allocations", len(payload.Allocations)),
	)

	message := fmt.Sprintf("Payment applied. Remaining balance: %s", payload.DebtBalance)
	if payload.UnappliedAmount.IsPositive() {
		message = fmt.Sprintf("%s. Unapplied credit on file: %s", message, payload.UnappliedAmount)
	}

	s.logger.Info("payment receipt queued",
		zap.String("customer_id", payload.CustomerID),
		zap.String("message", message),
	)

	return nil
}

// HandlePaymentReversed notifies the customer that a payment was undone.
func (s *NotificationService) HandlePaymentReversed(ctx context.Context, event domain.DomainEvent) error {
	reversed, ok := event.(*domain.PaymentReversedEvent)
	if !ok {
		return fmt.Errorf("invalid event type")
	}

	payload := reversed.Payload

	s.logger.Info("handling payment reversed event",
		zap.String("event_id", event.GetEventID()),
		zap.String("customer_id", payload.CustomerID),
		zap.String("payment_id", payload.PaymentID),
		zap.String("reason", payload.Reason),
	)

	s.logger.Info("reversal notice queued",
		zap.String("customer_id", payload.CustomerID),
		zap.String("message", fmt.Sprintf("Payment %s was reversed: %s", payload.PaymentID, payload.Reason)),
	)

	return nil
}

// HandleDebtSettled congratulates the customer on clearing a debt.
func (s *NotificationService) HandleDebtSettled(ctx context.Context, event domain.DomainEvent) error {
	settled, ok := event.(*domain.DebtSettledEvent)
	if !ok {
		return fmt.Errorf("invalid event type")
	}

	payload := settled.Payload

	s.logger.Info("debt settled notice queued",
		zap.String("customer_id", payload.CustomerID),
		zap.String("debt_id", payload.DebtID),
		zap.String("message", fmt.Sprintf("Debt %s is fully settled. Original amount: %s", payload.DebtID, payload.OriginalAmount)),
	)

	return nil
}
