package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypePaymentRecorded  = "payment.recorded"
	EventTypePaymentAllocated = "payment.allocated"
	EventTypePaymentReversed  = "payment.reversed"
	EventTypeDebtSettled      = "debt.settled"
)

// DomainEvent represents a domain event
type DomainEvent interface {
	GetEventID() string
	GetEventType() string
	GetAggregateID() string
	GetOccurredAt() time.Time
	GetPayload() interface{}
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	AggregateID string    `json:"aggregate_id"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (e BaseEvent) GetEventID() string       { return e.EventID }
func (e BaseEvent) GetEventType() string     { return e.EventType }
func (e BaseEvent) GetAggregateID() string   { return e.AggregateID }
func (e BaseEvent) GetOccurredAt() time.Time { return e.OccurredAt }

func newBaseEvent(eventType, aggregateID string) BaseEvent {
	return BaseEvent{
		EventID:     uuid.New().String(),
		EventType:   eventType,
		AggregateID: aggregateID,
		OccurredAt:  time.Now().UTC(),
	}
}

// PaymentRecordedEvent - money arrived and the ledger accepted it
type PaymentRecordedEvent struct {
	BaseEvent
	Payload PaymentRecordedPayload `json:"payload"`
}

func (e PaymentRecordedEvent) GetPayload() interface{} { return e.Payload }

type PaymentRecordedPayload struct {
	PaymentID     string    `json:"payment_id"`
	CustomerID    string    `json:"customer_id"`
	DebtID        *string   `json:"debt_id,omitempty"`
	Amount        Money     `json:"amount"`
	Method        string    `json:"method"`
	ProviderTxnID string    `json:"provider_txn_id"`
	ReceivedAt    time.Time `json:"received_at"`
}

func NewPaymentRecordedEvent(payment *Payment) *PaymentRecordedEvent {
	return &PaymentRecordedEvent{
		BaseEvent: newBaseEvent(EventTypePaymentRecorded, payment.ID),
		Payload: PaymentRecordedPayload{
			PaymentID:     payment.ID,
			CustomerID:    payment.CustomerID,
			DebtID:        payment.DebtID,
			Amount:        payment.Amount,
			Method:        payment.Method,
			ProviderTxnID: payment.ProviderTxnID,
			ReceivedAt:    payment.ReceivedAt,
		},
	}
}

// PaymentAllocatedEvent - a payment was distributed across installments
type PaymentAllocatedEvent struct {
	BaseEvent
	Payload PaymentAllocatedPayload `json:"payload"`
}

func (e PaymentAllocatedEvent) GetPayload() interface{} { return e.Payload }

type AllocationLine struct {
	AllocationID  string `json:"allocation_id"`
	InstallmentID string `json:"installment_id"`
	Amount        Money  `json:"amount"`
}

type PaymentAllocatedPayload struct {
	PaymentID       string           `json:"payment_id"`
	CustomerID      string           `json:"customer_id"`
	DebtID          string           `json:"debt_id"`
	Allocations     []AllocationLine `json:"allocations"`
	UnappliedAmount Money            `json:"unapplied_amount"`
	DebtBalance     Money            `json:"debt_balance"`
	DebtSettled     bool             `json:"debt_settled"`
}

func NewPaymentAllocatedEvent(payment *Payment, debt *Debt, allocations []*PaymentAllocation, unapplied Money) *PaymentAllocatedEvent {
	lines := make([]AllocationLine, len(allocations))
	for i, a := range allocations {
		lines[i] = AllocationLine{AllocationID: a.ID, InstallmentID: a.InstallmentID, Amount: a.Amount}
	}
	return &PaymentAllocatedEvent{
		BaseEvent: newBaseEvent(EventTypePaymentAllocated, payment.ID),
		Payload: PaymentAllocatedPayload{
			PaymentID:       payment.ID,
			CustomerID:      payment.CustomerID,
			DebtID:          debt.ID,
			Allocations:     lines,
			UnappliedAmount: unapplied,
			DebtBalance:     debt.CurrentBalance,
			DebtSettled:     debt.IsSettled(),
		},
	}
}

// PaymentReversedEvent - a payment and all its allocations were undone
type PaymentReversedEvent struct {
	BaseEvent
	Payload PaymentReversedPayload `json:"payload"`
}

func (e PaymentReversedEvent) GetPayload() interface{} { return e.Payload }

type PaymentReversedPayload struct {
	PaymentID   string           `json:"payment_id"`
	CustomerID  string           `json:"customer_id"`
	Reason      string           `json:"reason"`
	Allocations []AllocationLine `json:"reversed_allocations"`
	DebtID      *string          `json:"debt_id,omitempty"`
	DebtBalance *Money           `json:"debt_balance,omitempty"`
}

func NewPaymentReversedEvent(payment *Payment, debt *Debt, reason string, allocations []*PaymentAllocation) *PaymentReversedEvent {
	lines := make([]AllocationLine, len(allocations))
	for i, a := range allocations {
		lines[i] = AllocationLine{AllocationID: a.ID, InstallmentID: a.InstallmentID, Amount: a.Amount}
	}
	payload := PaymentReversedPayload{
		PaymentID:   payment.ID,
		CustomerID:  payment.CustomerID,
		Reason:      reason,
		Allocations: lines,
	}
	if debt != nil {
		payload.DebtID = &debt.ID
		payload.DebtBalance = &debt.CurrentBalance
	}
	return &PaymentReversedEvent{
		BaseEvent: newBaseEvent(EventTypePaymentReversed, payment.ID),
		Payload:   payload,
	}
}

// DebtSettledEvent - a debt's balance reached zero
type DebtSettledEvent struct {
	BaseEvent
	Payload DebtSettledPayload `json:"payload"`
}

func (e DebtSettledEvent) GetPayload() interface{} { return e.Payload }

type DebtSettledPayload struct {
	DebtID         string `json:"debt_id"`
	CustomerID     string `json:"customer_id"`
	OriginalAmount Money  `json:"original_amount"`
}

func NewDebtSettledEvent(debt *Debt) *DebtSettledEvent {
	return &DebtSettledEvent{
		BaseEvent: newBaseEvent(EventTypeDebtSettled, debt.ID),
		Payload: DebtSettledPayload{
			DebtID:         debt.ID,
			CustomerID:     debt.CustomerID,
			OriginalAmount: debt.OriginalAmount,
		},
	}
}

// EventPublisher interface
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// EventSubscriber interface
type EventSubscriber interface {
	Subscribe(ctx context.Context, eventType string, handler EventHandler) error
}

// EventHandler processes events
type EventHandler func(ctx context.Context, event DomainEvent) error
