package router

import (
	"time"

	"github.com/debtflow/ledger-service/internal/interface/http/handler"
	"github.com/debtflow/ledger-service/internal/interface/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func NewRouter(handlers *handler.Handlers, logger *zap.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(chimiddleware.Compress(5))
	r.Use(chimiddleware.Timeout(30 * time.Second))

	// Routes
	r.Get("/health", handlers.Payment.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/debts", handlers.Debt.RegisterDebt)
		r.Get("/debts/{debt_id}", handlers.Debt.GetDebt)
		r.Get("/debts/{debt_id}/installments", handlers.Debt.GetInstallments)

		r.Post("/payments", handlers.Payment.RecordPayment)
		r.Get("/payments/{payment_id}", handlers.Payment.GetPayment)
		r.Post("/payments/{payment_id}/allocations", handlers.Payment.Allocate)
		r.Post("/payments/{payment_id}/reversal", handlers.Payment.Reverse)

		r.Get("/customers/{customer_id}/payments", handlers.Payment.GetCustomerPayments)
	})

	return r
}
