package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/models"
)

const expenseColumns = "id, farmer_id, category, amount, date, description, created_at, updated_at"

type expenseRepo struct {
	conn
}

func (r *expenseRepo) Create(ctx context.Context, e *models.Expense) error {
	query := "INSERT INTO expenses (farmer_id, category, amount, date, description) VALUES (?, ?, ?, ?, ?)"
	res, err := r.exec(ctx, "INSERT", "expenses", query, e.FarmerID, e.Category, e.Amount, e.Date, e.Description)
	if err != nil {
		return classify("expenses.Create", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get expense ID: %w", err)
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	return nil
}

func (r *expenseRepo) Get(ctx context.Context, id int64) (*models.Expense, error) {
	query := "SELECT " + expenseColumns + " FROM expenses WHERE id = ?" + r.forUpdate()
	var e models.Expense
	err := r.queryRow(ctx, "expenses", query, []any{id},
		&e.ID, &e.FarmerID, &e.Category, &e.Amount, &e.Date, &e.Description, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("expenses.Get", "Expense not found")
	}
	if err != nil {
		return nil, classify("expenses.Get", err)
	}
	return &e, nil
}

func (r *expenseRepo) ListByFarmer(ctx context.Context, farmerID int64) ([]models.Expense, error) {
	query := "SELECT " + expenseColumns + " FROM expenses WHERE farmer_id = ? ORDER BY date DESC, id DESC"
	rows, err := r.query(ctx, "expenses", query, farmerID)
	if err != nil {
		return nil, classify("expenses.ListByFarmer", err)
	}
	defer rows.Close()

	expenses := []models.Expense{}
	for rows.Next() {
		var e models.Expense
		if err := rows.Scan(&e.ID, &e.FarmerID, &e.Category, &e.Amount, &e.Date, &e.Description, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func (r *expenseRepo) Update(ctx context.Context, e *models.Expense) error {
	query := "UPDATE expenses SET category = ?, amount = ?, date = ?, description = ? WHERE id = ?"
	res, err := r.exec(ctx, "UPDATE", "expenses", query, e.Category, e.Amount, e.Date, e.Description, e.ID)
	if err != nil {
		return classify("expenses.Update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, e.ID); err != nil {
			return err
		}
	}
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *expenseRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.exec(ctx, "DELETE", "expenses", "DELETE FROM expenses WHERE id = ?", id)
	if err != nil {
		return classify("expenses.Delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("expenses.Delete", "Expense not found")
	}
	return nil
}

const userColumns = "id, name, email, password_hash, role, location, created_at"

type userRepo struct {
	conn
}

func (r *userRepo) Create(ctx context.Context, u *models.User) error {
	query := "INSERT INTO users (name, email, password_hash, role, location) VALUES (?, ?, ?, ?, ?)"
	res, err := r.exec(ctx, "INSERT", "users", query, u.Name, u.Email, u.PasswordHash, u.Role, u.Location)
	if err != nil {
		err = classify("users.Create", err)
		if apperr.IsConflict(err) {
			return apperr.Conflict("users.Create", "User already exists")
		}
		return err
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get user ID: %w", err)
	}
	u.CreatedAt = time.Now().UTC()
	return nil
}

func (r *userRepo) one(ctx context.Context, op, where string, arg any) (*models.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE " + where
	var u models.User
	err := r.queryRow(ctx, "users", query, []any{arg},
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.Location, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(op, "User not found")
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return &u, nil
}

func (r *userRepo) Get(ctx context.Context, id int64) (*models.User, error) {
	return r.one(ctx, "users.Get", "id = ?", id)
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.one(ctx, "users.GetByEmail", "email = ?", email)
}

func (r *userRepo) AddToken(ctx context.Context, userID int64, tokenID string, expiresAt time.Time) error {
	query := "INSERT INTO user_tokens (token_id, user_id, expires_at) VALUES (?, ?, ?)"
	if _, err := r.exec(ctx, "INSERT", "user_tokens", query, tokenID, userID, expiresAt); err != nil {
		return classify("users.AddToken", err)
	}
	return nil
}

func (r *userRepo) HasToken(ctx context.Context, userID int64, tokenID string) (bool, error) {
	var exists bool
	query := "SELECT EXISTS(SELECT 1 FROM user_tokens WHERE token_id = ? AND user_id = ? AND expires_at > ?)"
	if err := r.queryRow(ctx, "user_tokens", query, []any{tokenID, userID, time.Now().UTC()}, &exists); err != nil {
		return false, classify("users.HasToken", err)
	}
	return exists, nil
}

func (r *userRepo) RemoveToken(ctx context.Context, userID int64, tokenID string) error {
	query := "DELETE FROM user_tokens WHERE token_id = ? AND user_id = ?"
	if _, err := r.exec(ctx, "DELETE", "user_tokens", query, tokenID, userID); err != nil {
		return classify("users.RemoveToken", err)
	}
	return nil
}
