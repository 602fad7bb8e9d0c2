package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/models"
)

type expenseRepo struct {
	run runner
}

func (r *expenseRepo) Create(ctx context.Context, e *models.Expense) error {
	return r.run(ctx, func(st *state) error {
		now := time.Now().UTC()
		e.ID = st.nextID("expenses")
		e.CreatedAt, e.UpdatedAt = now, now
		st.expenses[e.ID] = *e
		return nil
	})
}

func (r *expenseRepo) Get(ctx context.Context, id int64) (*models.Expense, error) {
	var out models.Expense
	err := r.run(ctx, func(st *state) error {
		e, ok := st.expenses[id]
		if !ok {
			return apperr.NotFound("expenses.Get", "Expense not found")
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *expenseRepo) ListByFarmer(ctx context.Context, farmerID int64) ([]models.Expense, error) {
	var out []models.Expense
	err := r.run(ctx, func(st *state) error {
		for _, e := range st.expenses {
			if e.FarmerID == farmerID {
				out = append(out, e)
			}
		}
		slices.SortFunc(out, func(a, b models.Expense) int {
			if c := b.Date.Compare(a.Date); c != 0 {
				return c
			}
			return cmp.Compare(b.ID, a.ID)
		})
		return nil
	})
	return out, err
}

func (r *expenseRepo) Update(ctx context.Context, e *models.Expense) error {
	return r.run(ctx, func(st *state) error {
		existing, ok := st.expenses[e.ID]
		if !ok {
			return apperr.NotFound("expenses.Update", "Expense not found")
		}
		e.CreatedAt = existing.CreatedAt
		e.UpdatedAt = time.Now().UTC()
		st.expenses[e.ID] = *e
		return nil
	})
}

func (r *expenseRepo) Delete(ctx context.Context, id int64) error {
	return r.run(ctx, func(st *state) error {
		if _, ok := st.expenses[id]; !ok {
			return apperr.NotFound("expenses.Delete", "Expense not found")
		}
		delete(st.expenses, id)
		return nil
	})
}

type userRepo struct {
	run runner
}

func (r *userRepo) Create(ctx context.Context, u *models.User) error {
	return r.run(ctx, func(st *state) error {
		for _, existing := range st.users {
			if strings.EqualFold(existing.Email, u.Email) {
				return apperr.Conflict("users.Create", "User already exists")
			}
		}
		u.ID = st.nextID("users")
		u.CreatedAt = time.Now().UTC()
		st.users[u.ID] = *u
		return nil
	})
}

func (r *userRepo) Get(ctx context.Context, id int64) (*models.User, error) {
	var out models.User
	err := r.run(ctx, func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return apperr.NotFound("users.Get", "User not found")
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var out models.User
	err := r.run(ctx, func(st *state) error {
		for _, u := range st.users {
			if strings.EqualFold(u.Email, email) {
				out = u
				return nil
			}
		}
		return apperr.NotFound("users.GetByEmail", "User not found")
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *userRepo) AddToken(ctx context.Context, userID int64, tokenID string, expiresAt time.Time) error {
	return r.run(ctx, func(st *state) error {
		if _, ok := st.users[userID]; !ok {
			return apperr.NotFound("users.AddToken", "User not found")
		}
		st.tokens[tokenID] = tokenEntry{userID: userID, expiresAt: expiresAt}
		return nil
	})
}

func (r *userRepo) HasToken(ctx context.Context, userID int64, tokenID string) (bool, error) {
	var found bool
	err := r.run(ctx, func(st *state) error {
		entry, ok := st.tokens[tokenID]
		found = ok && entry.userID == userID && time.Now().Before(entry.expiresAt)
		return nil
	})
	return found, err
}

func (r *userRepo) RemoveToken(ctx context.Context, userID int64, tokenID string) error {
	return r.run(ctx, func(st *state) error {
		if entry, ok := st.tokens[tokenID]; ok && entry.userID == userID {
			delete(st.tokens, tokenID)
		}
		return nil
	})
}
