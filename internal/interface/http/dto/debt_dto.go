package dto

import (
	"errors"
	"fmt"
	"time"

	"github.com/debtflow/ledger-service/internal/domain"
)

type InstallmentInput struct {
	SequenceNo int    `json:"sequence_no"`
	Amount     string `json:"amount"`
	DueDate    string `json:"due_date"`
}

type RegisterDebtRequest struct {
	CustomerID   string             `json:"customer_id"`
	Currency     string             `json:"currency"`
	Installments []InstallmentInput `json:"installments"`
}

func (r *RegisterDebtRequest) Validate() error {
	if r.CustomerID == "" {
		return errors.New("customer_id is required")
	}
	if r.Currency == "" {
		return errors.New("currency is required")
	}
	if len(r.Installments) == 0 {
		return errors.New("at least one installment is required")
	}

	for i, inst := range r.Installments {
		if inst.Amount == "" {
			return fmt.Errorf("installments[%d].amount is required", i)
		}
		if _, err := time.Parse(time.RFC3339, inst.DueDate); err != nil {
			return fmt.Errorf("installments[%d].due_date must be an RFC3339 timestamp", i)
		}
	}

	return nil
}

// GetSchedule converts the raw installment inputs into a validated schedule.
func (r *RegisterDebtRequest) GetSchedule() ([]domain.InstallmentSpec, error) {
	schedule := make([]domain.InstallmentSpec, len(r.Installments))
	for i, inst := range r.Installments {
		amount, err := domain.ParseMoney(inst.Amount, r.Currency)
		if err != nil {
			return nil, fmt.Errorf("installments[%d]: %w", i, err)
		}
		dueDate, err := time.Parse(time.RFC3339, inst.DueDate)
		if err != nil {
			return nil, fmt.Errorf("installments[%d]: %w", i, err)
		}
		schedule[i] = domain.InstallmentSpec{
			SequenceNo: inst.SequenceNo,
			Amount:     amount,
			DueDate:    dueDate,
		}
	}
	return schedule, nil
}

type InstallmentResponse struct {
	ID             string `json:"id"`
	DebtID         string `json:"debt_id"`
	SequenceNo     int    `json:"sequence_no"`
	OriginalAmount string `json:"original_amount"`
	AmountDue      string `json:"amount_due"`
	AmountPaid     string `json:"amount_paid"`
	Currency       string `json:"currency"`
	DueDate        string `json:"due_date"`
	Status         string `json:"status"`
}

func NewInstallmentResponse(i *domain.Installment) InstallmentResponse {
	return InstallmentResponse{
		ID:             i.ID,
		DebtID:         i.DebtID,
		SequenceNo:     i.SequenceNo,
		OriginalAmount: i.OriginalAmount.DecimalString(),
		AmountDue:      i.AmountDue.DecimalString(),
		AmountPaid:     i.AmountPaid.DecimalString(),
		Currency:       i.OriginalAmount.Currency,
		DueDate:        i.DueDate.Format(time.RFC3339),
		Status:         string(i.Status),
	}
}

type DebtResponse struct {
	ID             string `json:"id"`
	CustomerID     string `json:"customer_id"`
	OriginalAmount string `json:"original_amount"`
	CurrentBalance string `json:"current_balance"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

func NewDebtResponse(d *domain.Debt) DebtResponse {
	return DebtResponse{
		ID:             d.ID,
		CustomerID:     d.CustomerID,
		OriginalAmount: d.OriginalAmount.DecimalString(),
		CurrentBalance: d.CurrentBalance.DecimalString(),
		Currency:       d.CurrentBalance.Currency,
		Status:         string(d.Status),
		CreatedAt:      d.CreatedAt.Format(time.RFC3339),
	}
}
