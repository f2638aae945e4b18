package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// Seeds a handful of open debts with monthly installment schedules so the
// API has something to allocate against during local development.
func main() {
	mysqlUser := getEnv("MYSQL_USER", "debtflow")
	mysqlPassword := getEnv("MYSQL_PASSWORD", "debtflow123")
	mysqlHost := getEnv("MYSQL_HOST", "localhost:3306")
	mysqlDatabase := getEnv("MYSQL_DATABASE", "debtflow")

	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true",
		mysqlUser, mysqlPassword, mysqlHost, mysqlDatabase)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to MySQL: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping MySQL: %v\nDSN: %s:%s@tcp(%s)/%s",
			err, mysqlUser, "***", mysqlHost, mysqlDatabase)
	}

	fmt.Println("Connected to MySQL successfully")

	debts := []struct {
		customerID   string
		installments []int64 // minor units, one per month
	}{
		{"CUST00001", []int64{10000, 5000}},         // 100.00 + 50.00
		{"CUST00002", []int64{25000, 25000, 25000}}, // 3 x 250.00
		{"CUST00003", []int64{120000}},              // single 1,200.00
	}

	debtQuery := `
		INSERT INTO debts (id, customer_id, original_amount_minor, current_balance_minor,
		                   currency, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	installmentQuery := `
		INSERT INTO installments (id, debt_id, sequence_no, original_amount_minor,
		                          amount_due_minor, amount_paid_minor, currency,
		                          due_date, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	firstDueDate := now.AddDate(0, 0, -30) // first installment already overdue

	for _, d := range debts {
		debtID := uuid.New().String()

		var total int64
		for _, amount := range d.installments {
			total += amount
		}

		if _, err := db.Exec(debtQuery,
			debtID, d.customerID, total, total, "USD", "OPEN", now, now,
		); err != nil {
			log.Fatalf("Failed to seed debt for %s: %v", d.customerID, err)
		}

		for i, amount := range d.installments {
			dueDate := firstDueDate.AddDate(0, i, 0)
			status := "DUE"
			if dueDate.Before(now) {
				status = "OVERDUE"
			}

			if _, err := db.Exec(installmentQuery,
				uuid.New().String(), debtID, i+1, amount, amount, 0, "USD",
				dueDate, status, now, now,
			); err != nil {
				log.Fatalf("Failed to seed installment %d for %s: %v", i+1, d.customerID, err)
			}
		}

		fmt.Printf("Seeded debt %s for %s (%d installments, total %d minor units)\n",
			debtID, d.customerID, len(d.installments), total)
	}

	fmt.Println("\nSeed completed successfully!")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
