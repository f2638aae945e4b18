package persistence

import (
	"time"

	"github.com/debtflow/ledger-service/internal/domain"
)

// DebtModel represents the database schema for debts
type DebtModel struct {
	ID                  string `gorm:"primaryKey;type:varchar(50)"`
	CustomerID          string `gorm:"type:varchar(50);not null;index"`
	OriginalAmountMinor int64  `gorm:"not null"`
	CurrentBalanceMinor int64  `gorm:"not null"`
	Currency            string `gorm:"type:char(3);not null"`
	Status              string `gorm:"type:varchar(20);not null;index"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (DebtModel) TableName() string {
	return "debts"
}

func (m *DebtModel) ToDomain() *domain.Debt {
	return &domain.Debt{
		ID:             m.ID,
		CustomerID:     m.CustomerID,
		OriginalAmount: domain.Money{Amount: m.OriginalAmountMinor, Currency: m.Currency},
		CurrentBalance: domain.Money{Amount: m.CurrentBalanceMinor, Currency: m.Currency},
		Status:         domain.DebtStatus(m.Status),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func DebtModelFromDomain(debt *domain.Debt) *DebtModel {
	return &DebtModel{
		ID:                  debt.ID,
		CustomerID:          debt.CustomerID,
		OriginalAmountMinor: debt.OriginalAmount.Amount,
		CurrentBalanceMinor: debt.CurrentBalance.Amount,
		Currency:            debt.OriginalAmount.Currency,
		Status:              string(debt.Status),
		CreatedAt:           debt.CreatedAt,
	}
}

// InstallmentModel represents the database schema for installments
type InstallmentModel struct {
	ID                  string    `gorm:"primaryKey;type:varchar(50)"`
	DebtID              string    `gorm:"type:varchar(50);not null;index:idx_installments_debt"`
	SequenceNo          int       `gorm:"not null"`
	OriginalAmountMinor int64     `gorm:"not null"`
	AmountDueMinor      int64     `gorm:"not null"`
	AmountPaidMinor     int64     `gorm:"not null;default:0"`
	Currency            string    `gorm:"type:char(3);not null"`
	DueDate             time.Time `gorm:"not null;index"`
	Status              string    `gorm:"type:varchar(20);not null;index"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (InstallmentModel) TableName() string {
	return "installments"
}

func (m *InstallmentModel) ToDomain() *domain.Installment {
	return &domain.Installment{
		ID:             m.ID,
		DebtID:         m.DebtID,
		SequenceNo:     m.SequenceNo,
		OriginalAmount: domain.Money{Amount: m.OriginalAmountMinor, Currency: m.Currency},
		AmountDue:      domain.Money{Amount: m.AmountDueMinor, Currency: m.Currency},
		AmountPaid:     domain.Money{Amount: m.AmountPaidMinor, Currency: m.Currency},
		DueDate:        m.DueDate,
		Status:         domain.InstallmentStatus(m.Status),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func InstallmentModelFromDomain(inst *domain.Installment) *InstallmentModel {
	return &InstallmentModel{
		ID:                  inst.ID,
		DebtID:              inst.DebtID,
		SequenceNo:          inst.SequenceNo,
		OriginalAmountMinor: inst.OriginalAmount.Amount,
		AmountDueMinor:      inst.AmountDue.Amount,
		AmountPaidMinor:     inst.AmountPaid.Amount,
		Currency:            inst.OriginalAmount.Currency,
		DueDate:             inst.DueDate,
		Status:              string(inst.Status),
		CreatedAt:           inst.CreatedAt,
	}
}

// PaymentModel represents the database schema for payments. The unique index
// on provider_txn_id is the authoritative idempotency guard: two concurrent
// webhook deliveries of the same transaction cannot both insert.
type PaymentModel struct {
	ID            string    `gorm:"primaryKey;type:varchar(50)"`
	CustomerID    string    `gorm:"type:varchar(50);not null;index"`
	DebtID        *string   `gorm:"type:varchar(50);index"`
	AmountMinor   int64     `gorm:"not null"`
	Currency      string    `gorm:"type:char(3);not null"`
	Method        string    `gorm:"type:varchar(30)"`
	ProviderTxnID string    `gorm:"type:varchar(100);uniqueIndex;not null"`
	Status        string    `gorm:"type:varchar(20);not null;index"`
	ReceivedAt    time.Time `gorm:"not null;index"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (PaymentModel) TableName() string {
	return "payments"
}

func (m *PaymentModel) ToDomain() *domain.Payment {
	return &domain.Payment{
		ID:            m.ID,
		CustomerID:    m.CustomerID,
		DebtID:        m.DebtID,
		Amount:        domain.Money{Amount: m.AmountMinor, Currency: m.Currency},
		Method:        m.Method,
		ProviderTxnID: m.ProviderTxnID,
		Status:        domain.PaymentStatus(m.Status),
		ReceivedAt:    m.ReceivedAt,
		CreatedAt:     m.CreatedAt,
	}
}

func PaymentModelFromDomain(payment *domain.Payment) *PaymentModel {
	return &PaymentModel{
		ID:            payment.ID,
		CustomerID:    payment.CustomerID,
		DebtID:        payment.DebtID,
		AmountMinor:   payment.Amount.Amount,
		Currency:      payment.Amount.Currency,
		Method:        payment.Method,
		ProviderTxnID: payment.ProviderTxnID,
		Status:        string(payment.Status),
		ReceivedAt:    payment.ReceivedAt,
		CreatedAt:     payment.CreatedAt,
	}
}

// AllocationModel represents the database schema for payment allocations.
// Rows are never deleted; a reversal sets the reversed flag and keeps the
// row for audit.
type AllocationModel struct {
	ID             string    `gorm:"primaryKey;type:varchar(50)"`
	PaymentID      string    `gorm:"type:varchar(50);not null;index"`
	InstallmentID  string    `gorm:"type:varchar(50);not null;index"`
	AmountMinor    int64     `gorm:"not null"`
	Currency       string    `gorm:"type:char(3);not null"`
	Reversed       bool      `gorm:"not null;default:false;index"`
	ReversalReason string    `gorm:"type:varchar(255)"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	ReversedAt     *time.Time
}

func (AllocationModel) TableName() string {
	return "payment_allocations"
}

func (m *AllocationModel) ToDomain() *domain.PaymentAllocation {
	return &domain.PaymentAllocation{
		ID:             m.ID,
		PaymentID:      m.PaymentID,
		InstallmentID:  m.InstallmentID,
		Amount:         domain.Money{Amount: m.AmountMinor, Currency: m.Currency},
		Reversed:       m.Reversed,
		ReversalReason: m.ReversalReason,
		CreatedAt:      m.CreatedAt,
		ReversedAt:     m.ReversedAt,
	}
}

func AllocationModelFromDomain(a *domain.PaymentAllocation) *AllocationModel {
	return &AllocationModel{
		ID:             a.ID,
		PaymentID:      a.PaymentID,
		InstallmentID:  a.InstallmentID,
		AmountMinor:    a.Amount.Amount,
		Currency:       a.Amount.Currency,
		Reversed:       a.Reversed,
		ReversalReason: a.ReversalReason,
		CreatedAt:      a.CreatedAt,
		ReversedAt:     a.ReversedAt,
	}
}
