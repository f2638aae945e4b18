package sqlrepository

import (
	"errors"
	"strings"

	"github.com/debtflow/ledger-service/internal/domain"
	"github.com/go-redis/redis/v8"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const mysqlDuplicateEntry = 1062

type Repositories struct {
	Payment    domain.PaymentRepository
	Debt       domain.DebtRepository
	Allocation domain.AllocationRepository
}

func NewRepositories(db *gorm.DB, redisClient *redis.Client, logger *zap.Logger) *Repositories {
	return &Repositories{
		Payment:    NewPaymentRepository(db, redisClient, logger),
		Debt:       NewDebtRepository(db, redisClient, logger),
		Allocation: NewAllocationRepository(db, logger),
	}
}

func isDuplicateError(err error) bool {
	if err == nil {
		return false
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntry
	}

	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "Duplicate entry") ||
		strings.Contains(err.Error(), "UNIQUE constraint")
}
