package handler

import (
	"github.com/debtflow/ledger-service/internal/application/service"
	"github.com/debtflow/ledger-service/internal/domain"
	sqlrepository "github.com/debtflow/ledger-service/internal/infrastructure/repository/mysql"
	"go.uber.org/zap"
)

type Handlers struct {
	Payment *PaymentHandler
	Debt    *DebtHandler
}

func NewHandlers(
	repos *sqlrepository.Repositories,
	coordinator domain.TxCoordinator,
	eventPublisher domain.EventPublisher,
	logger *zap.Logger,
	order domain.AllocationOrder,
) *Handlers {
	ledgerService := service.NewLedgerService(repos.Payment, repos.Debt, repos.Allocation, coordinator, eventPublisher, logger, order)
	debtService := service.NewDebtService(repos.Debt, logger)

	return &Handlers{
		Payment: NewPaymentHandler(ledgerService, logger),
		Debt:    NewDebtHandler(debtService, ledgerService, logger),
	}
}
