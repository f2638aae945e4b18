package handler

import (
	"encoding/json"
	"net/http"

	"github.com/debtflow/ledger-service/internal/application/service"
	"github.com/debtflow/ledger-service/internal/domain"
	"github.com/debtflow/ledger-service/internal/interface/http/dto"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type DebtHandler struct {
	debtService   *service.DebtService
	ledgerService *service.LedgerService
	logger        *zap.Logger
}

func NewDebtHandler(debtService *service.DebtService, ledgerService *service.LedgerService, logger *zap.Logger) *DebtHandler {
	return &DebtHandler{
		debtService:   debtService,
		ledgerService: ledgerService,
		logger:        logger,
	}
}

// RegisterDebt creates a debt with its installment schedule.
func (h *DebtHandler) RegisterDebt(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterDebtRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "validation failed", err)
		return
	}

	schedule, err := req.GetSchedule()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid installment schedule", err)
		return
	}

	installments := make([]service.InstallmentInput, len(schedule))
	for i, spec := range schedule {
		installments[i] = service.InstallmentInput{
			SequenceNo: spec.SequenceNo,
			Amount:     spec.Amount,
			DueDate:    spec.DueDate,
		}
	}

	result, err := h.debtService.RegisterDebt(r.Context(), service.RegisterDebtRequest{
		CustomerID:   req.CustomerID,
		Currency:     req.Currency,
		Installments: installments,
	})
	if err != nil {
		h.logger.Error("failed to register debt",
			zap.Error(err),
			zap.String("customer_id", req.CustomerID),
		)
		respondDomainError(w, "failed to register debt", err)
		return
	}

	views := make([]dto.InstallmentResponse, len(result.Installments))
	for i, inst := range result.Installments {
		views[i] = dto.NewInstallmentResponse(inst)
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"debt":         dto.NewDebtResponse(result.Debt),
		"installments": views,
	})
}

// GetDebt returns a debt's current balance and status.
func (h *DebtHandler) GetDebt(w http.ResponseWriter, r *http.Request) {
	debtID := chi.URLParam(r, "debt_id")
	if debtID == "" {
		respondError(w, http.StatusBadRequest, "debt_id is required", nil)
		return
	}

	debt, err := h.debtService.GetDebt(r.Context(), debtID)
	if err != nil {
		respondDomainError(w, "failed to get debt", err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewDebtResponse(debt))
}

// GetInstallments lists a debt's installments in allocation order. The
// outstanding_only query flag narrows the list to installments that can
// still receive money.
func (h *DebtHandler) GetInstallments(w http.ResponseWriter, r *http.Request) {
	debtID := chi.URLParam(r, "debt_id")
	if debtID == "" {
		respondError(w, http.StatusBadRequest, "debt_id is required", nil)
		return
	}

	filter := domain.InstallmentFilter{
		OutstandingOnly: r.URL.Query().Get("outstanding_only") == "true",
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Statuses = []domain.InstallmentStatus{domain.InstallmentStatus(status)}
	}

	installments, err := h.ledgerService.ListInstallments(r.Context(), debtID, filter)
	if err != nil {
		respondDomainError(w, "failed to list installments", err)
		return
	}

	response := make([]dto.InstallmentResponse, len(installments))
	for i, inst := range installments {
		response[i] = dto.NewInstallmentResponse(inst)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"debt_id":      debtID,
		"installments": response,
	})
}
