package services

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/models"
	"github.com/greenharvest/harvest-api/internal/store"
)

// ExpenseInput is the writable part of an expense
type ExpenseInput struct {
	Category    string
	Amount      decimal.Decimal
	Date        time.Time
	Description string
}

func (in ExpenseInput) validate(op string) error {
	if strings.TrimSpace(in.Category) == "" {
		return apperr.Invalid(op, "Category is required")
	}
	if in.Amount.IsNegative() {
		return apperr.Invalid(op, "Amount must be zero or greater")
	}
	return nil
}

func (in ExpenseInput) apply(e *models.Expense) {
	e.Category = strings.TrimSpace(in.Category)
	e.Amount = in.Amount
	e.Date = in.Date
	if e.Date.IsZero() {
		e.Date = time.Now().UTC()
	}
	e.Description = in.Description
}

// ExpenseService handles a farmer's expense book
type ExpenseService struct {
	store store.Store
}

// NewExpenseService creates a new expense service
func NewExpenseService(st store.Store) *ExpenseService {
	return &ExpenseService{store: st}
}

// Add records an expense for farmerID
func (s *ExpenseService) Add(ctx context.Context, farmerID int64, in ExpenseInput) (*models.Expense, error) {
	if err := in.validate("expenses.Add"); err != nil {
		return nil, err
	}
	e := &models.Expense{FarmerID: farmerID}
	in.apply(e)
	if err := s.store.Expenses().Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// List returns the farmer's expenses, most recent first
func (s *ExpenseService) List(ctx context.Context, farmerID int64) ([]models.Expense, error) {
	expenses, err := s.store.Expenses().ListByFarmer(ctx, farmerID)
	if expenses == nil && err == nil {
		expenses = []models.Expense{}
	}
	return expenses, err
}

func ownedExpense(ctx context.Context, tx store.Tx, op string, farmerID, id int64) (*models.Expense, error) {
	e, err := tx.Expenses().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.FarmerID != farmerID {
		return nil, apperr.NotFound(op, "Expense not found")
	}
	return e, nil
}

// Update replaces an expense owned by farmerID
func (s *ExpenseService) Update(ctx context.Context, farmerID, id int64, in ExpenseInput) (*models.Expense, error) {
	if err := in.validate("expenses.Update"); err != nil {
		return nil, err
	}
	var out *models.Expense
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		e, err := ownedExpense(ctx, tx, "expenses.Update", farmerID, id)
		if err != nil {
			return err
		}
		in.apply(e)
		if err := tx.Expenses().Update(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

// Delete removes an expense owned by farmerID
func (s *ExpenseService) Delete(ctx context.Context, farmerID, id int64) error {
	return s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := ownedExpense(ctx, tx, "expenses.Delete", farmerID, id); err != nil {
			return err
		}
		return tx.Expenses().Delete(ctx, id)
	})
}
