package dto

import (
	"errors"
	"time"

	"github.com/debtflow/ledger-service/internal/domain"
)

type RecordPaymentRequest struct {
	CustomerID    string  `json:"customer_id"`
	DebtID        *string `json:"debt_id,omitempty"`
	Amount        string  `json:"amount"`
	Currency      string  `json:"currency"`
	Method        string  `json:"method"`
	ProviderTxnID string  `json:"provider_txn_id"`
	ReceivedAt    string  `json:"received_at"`
}

func (r *RecordPaymentRequest) Validate() error {
	if r.CustomerID == "" {
		return errors.New("customer_id is required")
	}
	if r.Amount == "" {
		return errors.New("amount is required")
	}
	if r.Currency == "" {
		return errors.New("currency is required")
	}
	if r.Method == "" {
		return errors.New("method is required")
	}
	if r.ProviderTxnID == "" {
		return errors.New("provider_txn_id is required")
	}
	if r.ReceivedAt == "" {
		return errors.New("received_at is required")
	}

	if _, err := time.Parse(time.RFC3339, r.ReceivedAt); err != nil {
		return errors.New("received_at must be an RFC3339 timestamp")
	}

	return nil
}

// GetAmount parses the decimal amount string into minor units. Parsing is
// exact; amounts with sub-cent precision are rejected here, before the
// record ever reaches the ledger.
func (r *RecordPaymentRequest) GetAmount() (domain.Money, error) {
	return domain.ParseMoney(r.Amount, r.Currency)
}

func (r *RecordPaymentRequest) GetReceivedAt() (time.Time, error) {
	return time.Parse(time.RFC3339, r.ReceivedAt)
}

type AllocateRequest struct {
	TargetInstallmentIDs []string `json:"target_installment_ids,omitempty"`
}

type ReverseRequest struct {
	Reason string `json:"reason"`
}

func (r *ReverseRequest) Validate() error {
	if r.Reason == "" {
		return errors.New("reason is required")
	}
	return nil
}

type PaymentResponse struct {
	ID            string  `json:"id"`
	CustomerID    string  `json:"customer_id"`
	DebtID        *string `json:"debt_id,omitempty"`
	Amount        string  `json:"amount"`
	Currency      string  `json:"currency"`
	Method        string  `json:"method"`
	ProviderTxnID string  `json:"provider_txn_id"`
	Status        string  `json:"status"`
	ReceivedAt    string  `json:"received_at"`
	Duplicate     bool    `json:"duplicate,omitempty"`
}

func NewPaymentResponse(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:            p.ID,
		CustomerID:    p.CustomerID,
		DebtID:        p.DebtID,
		Amount:        p.Amount.DecimalString(),
		Currency:      p.Amount.Currency,
		Method:        p.Method,
		ProviderTxnID: p.ProviderTxnID,
		Status:        string(p.Status),
		ReceivedAt:    p.ReceivedAt.Format(time.RFC3339),
	}
}

type AllocationResponse struct {
	ID             string  `json:"id"`
	PaymentID      string  `json:"payment_id"`
	InstallmentID  string  `json:"installment_id"`
	Amount         string  `json:"amount"`
	Currency       string  `json:"currency"`
	Reversed       bool    `json:"reversed"`
	ReversalReason string  `json:"reversal_reason,omitempty"`
	ReversedAt     *string `json:"reversed_at,omitempty"`
}

func NewAllocationResponse(a *domain.PaymentAllocation) AllocationResponse {
	resp := AllocationResponse{
		ID:             a.ID,
		PaymentID:      a.PaymentID,
		InstallmentID:  a.InstallmentID,
		Amount:         a.Amount.DecimalString(),
		Currency:       a.Amount.Currency,
		Reversed:       a.Reversed,
		ReversalReason: a.ReversalReason,
	}
	if a.ReversedAt != nil {
		at := a.ReversedAt.Format(time.RFC3339)
		resp.ReversedAt = &at
	}
	return resp
}

func NewAllocationResponses(allocations []*domain.PaymentAllocation) []AllocationResponse {
	out := make([]AllocationResponse, len(allocations))
	for i, a := range allocations {
		out[i] = NewAllocationResponse(a)
	}
	return out
}

type AllocateResponse struct {
	PaymentID       string               `json:"payment_id"`
	DebtID          string               `json:"debt_id"`
	Allocations     []AllocationResponse `json:"allocations"`
	UnappliedAmount string               `json:"unapplied_amount"`
	DebtBalance     string               `json:"debt_balance"`
	DebtSettled     bool                 `json:"debt_settled"`
}

type ReverseResponse struct {
	Payment             PaymentResponse      `json:"payment"`
	ReversedAllocations []AllocationResponse `json:"reversed_allocations"`
	DebtID              *string              `json:"debt_id,omitempty"`
	DebtBalance         *string              `json:"debt_balance,omitempty"`
}

type PaymentDetailsResponse struct {
	Payment         PaymentResponse      `json:"payment"`
	Allocations     []AllocationResponse `json:"allocations"`
	AllocatedAmount string               `json:"allocated_amount"`
	UnappliedAmount string               `json:"unapplied_amount"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
