package account

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var ErrAccountNotFound = errors.New("account not found")

// Account is a paying customer: the tenant that owns instances and
// subscriptions. Each account belongs to exactly one portal user.
type Account struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	CompanyName string    `json:"company_name"`
	Phone       string    `json:"phone,omitempty"`
	Address     string    `json:"address,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository defines persistence for tenant accounts.
type Repository interface {
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByUser(ctx context.Context, userID string) (*Account, error)
	List(ctx context.Context) ([]*Account, error)
	Count(ctx context.Context) (int, error)
}
