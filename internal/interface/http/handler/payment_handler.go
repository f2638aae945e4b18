package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/debtflow/ledger-service/internal/application/service"
	"github.com/debtflow/ledger-service/internal/domain"
	"github.com/debtflow/ledger-service/internal/interface/http/dto"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	ledgerService *service.LedgerService
	logger        *zap.Logger
}

func NewPaymentHandler(ledgerService *service.LedgerService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		ledgerService: ledgerService,
		logger:        logger,
	}
}

// RecordPayment handles incoming payment notifications from providers.
// Replayed deliveries of the same provider_txn_id return the original
// payment with 200 instead of creating a second record.
func (h *PaymentHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req dto.RecordPaymentRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "validation failed", err)
		return
	}

	amount, err := req.GetAmount()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}

	receivedAt, err := req.GetReceivedAt()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid received_at", err)
		return
	}

	result, err := h.ledgerService.RecordPayment(r.Context(), service.RecordPaymentRequest{
		CustomerID:    req.CustomerID,
		DebtID:        req.DebtID,
		Amount:        amount,
		Method:        req.Method,
		ProviderTxnID: req.ProviderTxnID,
		ReceivedAt:    receivedAt,
	})
	if err != nil {
		h.logger.Error("failed to record payment",
			zap.Error(err),
			zap.String("customer_id", req.CustomerID),
			zap.String("provider_txn_id", req.ProviderTxnID),
		)
		respondDomainError(w, "failed to record payment", err)
		return
	}

	response := dto.NewPaymentResponse(result.Payment)
	response.Duplicate = result.Duplicate

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, response)
}

// Allocate distributes a recorded payment across the installments of its
// debt.
func (h *PaymentHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "payment_id")
	if paymentID == "" {
		respondError(w, http.StatusBadRequest, "payment_id is required", nil)
		return
	}

	var req dto.AllocateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	result, err := h.ledgerService.Allocate(r.Context(), service.AllocateRequest{
		PaymentID:            paymentID,
		TargetInstallmentIDs: req.TargetInstallmentIDs,
	})
	if err != nil {
		h.logger.Error("failed to allocate payment",
			zap.Error(err),
			zap.String("payment_id", paymentID),
		)
		respondDomainError(w, "failed to allocate payment", err)
		return
	}

	respondJSON(w, http.StatusOK, dto.AllocateResponse{
		PaymentID:       paymentID,
		DebtID:          result.DebtID,
		Allocations:     dto.NewAllocationResponses(result.Allocations),
		UnappliedAmount: result.UnappliedAmount.DecimalString(),
		DebtBalance:     result.DebtBalance.DecimalString(),
		DebtSettled:     result.DebtSettled,
	})
}

// Reverse undoes a payment and its allocations.
func (h *PaymentHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "payment_id")
	if paymentID == "" {
		respondError(w, http.StatusBadRequest, "payment_id is required", nil)
		return
	}

	var req dto.ReverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "validation failed", err)
		return
	}

	result, err := h.ledgerService.Reverse(r.Context(), service.ReverseRequest{
		PaymentID: paymentID,
		Reason:    req.Reason,
	})
	if err != nil {
		h.logger.Error("failed to reverse payment",
			zap.Error(err),
			zap.String("payment_id", paymentID),
		)
		respondDomainError(w, "failed to reverse payment", err)
		return
	}

	response := dto.ReverseResponse{
		Payment:             dto.NewPaymentResponse(result.Payment),
		ReversedAllocations: dto.NewAllocationResponses(result.ReversedAllocations),
		DebtID:              result.DebtID,
	}
	if result.DebtBalance != nil {
		balance := result.DebtBalance.DecimalString()
		response.DebtBalance = &balance
	}

	respondJSON(w, http.StatusOK, response)
}

// GetPayment returns a payment with its allocations and remaining
// unapplied credit.
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "payment_id")
	if paymentID == "" {
		respondError(w, http.StatusBadRequest, "payment_id is required", nil)
		return
	}

	details, err := h.ledgerService.GetPayment(r.Context(), paymentID)
	if err != nil {
		respondDomainError(w, "failed to get payment", err)
		return
	}

	respondJSON(w, http.StatusOK, dto.PaymentDetailsResponse{
		Payment:         dto.NewPaymentResponse(details.Payment),
		Allocations:     dto.NewAllocationResponses(details.Allocations),
		AllocatedAmount: details.AllocatedAmount.DecimalString(),
		UnappliedAmount: details.UnappliedAmount.DecimalString(),
	})
}

// GetCustomerPayments lists a customer's payments, newest first.
func (h *PaymentHandler) GetCustomerPayments(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customer_id")
	if customerID == "" {
		respondError(w, http.StatusBadRequest, "customer_id is required", nil)
		return
	}

	page := 1
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	pageSize := 20
	if ps, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && ps > 0 {
		pageSize = ps
	}

	result, err := h.ledgerService.ListCustomerPayments(r.Context(), customerID, page, pageSize)
	if err != nil {
		h.logger.Error("failed to list customer payments",
			zap.Error(err),
			zap.String("customer_id", customerID),
		)
		respondDomainError(w, "failed to list customer payments", err)
		return
	}

	payments := make([]dto.PaymentResponse, len(result.Payments))
	for i, p := range result.Payments {
		payments[i] = dto.NewPaymentResponse(p)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"customer_id": customerID,
		"payments":    payments,
		"pagination": map[string]interface{}{
			"page":        result.Page,
			"page_size":   result.PageSize,
			"total_count": result.TotalCount,
			"total_pages": result.TotalPages,
		},
	})
}

// HealthCheck handles health check endpoint
func (h *PaymentHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := dto.ErrorResponse{
		Error: message,
	}
	if err != nil {
		response.Message = err.Error()
	}
	respondJSON(w, status, response)
}

// respondDomainError maps ledger errors onto HTTP statuses. Anything not in
// the table is a 500.
func respondDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, domain.ErrPaymentNotFound),
		errors.Is(err, domain.ErrDebtNotFound),
		errors.Is(err, domain.ErrInstallmentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidCurrency),
		errors.Is(err, domain.ErrInvalidCustomerID),
		errors.Is(err, domain.ErrInvalidTransactionRef),
		errors.Is(err, domain.ErrCurrencyMismatch),
		errors.Is(err, domain.ErrInsufficientAmount),
		errors.Is(err, domain.ErrNoAllocationTarget),
		errors.Is(err, domain.ErrMixedDebtTargets):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrAlreadyAllocated),
		errors.Is(err, domain.ErrAlreadyReversed),
		errors.Is(err, domain.ErrPaymentReversed),
		errors.Is(err, domain.ErrDuplicateTransaction):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrConcurrencyConflict):
		status = http.StatusServiceUnavailable
	}

	respondError(w, status, message, err)
}
