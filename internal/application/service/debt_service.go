package service

import (
	"context"
	"fmt"
	"time"

	"github.com/debtflow/ledger-service/internal/domain"
	"go.uber.org/zap"
)

// DebtService is the bootstrap surface: debt registration and the read side
// of the debt aggregate. It carries no allocation logic; once a debt exists
// only the ledger mutates its monetary state.
type DebtService struct {
	debts  domain.DebtRepository
	logger *zap.Logger
}

func NewDebtService(debts domain.DebtRepository, logger *zap.Logger) *DebtService {
	return &DebtService{
		debts:  debts,
		logger: logger,
	}
}

type InstallmentInput struct {
	SequenceNo int
	Amount     domain.Money
	DueDate    time.Time
}

type RegisterDebtRequest struct {
	CustomerID   string
	Currency     string
	Installments []InstallmentInput
}

type RegisterDebtResult struct {
	Debt         *domain.Debt
	Installments []*domain.Installment
}

func (s *DebtService) RegisterDebt(ctx context.Context, req RegisterDebtRequest) (*RegisterDebtResult, error) {
	specs := make([]domain.InstallmentSpec, len(req.Installments))
	for i, in := range req.Installments {
		specs[i] = domain.InstallmentSpec{
			SequenceNo: in.SequenceNo,
			Amount:     in.Amount,
			DueDate:    in.DueDate,
		}
	}

	debt, installments, err := domain.NewDebt(req.CustomerID, req.Currency, specs)
	if err != nil {
		s.logger.Warn("rejected debt registration",
			zap.Error(err),
			zap.String("customer_id", req.CustomerID),
		)
		return nil, err
	}

	if err := s.debts.Create(ctx, debt, installments); err != nil {
		return nil, fmt.Errorf("failed to register debt: %w", err)
	}

	s.logger.Info("debt registered",
		zap.String("debt_id", debt.ID),
		zap.String("customer_id", debt.CustomerID),
		zap.String("original_amount", debt.OriginalAmount.String()),
		zap.Int("installments", len(installments)),
	)

	return &RegisterDebtResult{Debt: debt, Installments: installments}, nil
}

func (s *DebtService) GetDebt(ctx context.Context, debtID string) (*domain.Debt, error) {
	return s.debts.FindByID(ctx, debtID)
}
