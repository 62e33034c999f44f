package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/marketplace-auth/internal/model"
	"github.com/iliyamo/marketplace-auth/internal/utils"
)

type AccountRepo struct{ DB *sql.DB }

func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{DB: db} }

const accountColumns = "id,email,password_hash,user_type,is_active,created_at,updated_at"

// NormalizeEmail lower-cases and trims an address the way accounts store it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates the account together with its role profile in one
// transaction.  A provider registering as owner with a business name also
// creates the business and is attached to it.
func (r *AccountRepo) Register(ctx context.Context, reg model.Registration, cost int) (model.Account, error) {
	hash, err := utils.HashPassword(reg.Password, cost)
	if err != nil {
		return model.Account{}, err
	}
	acc := model.Account{
		ID:           uuid.NewString(),
		Email:        NormalizeEmail(reg.Email),
		PasswordHash: hash,
		UserType:     reg.UserType,
		IsActive:     true,
	}

	err = withTx(ctx, r.DB, func(tx *sql.Tx) error {
		if err := insertAccount(ctx, tx, acc); err != nil {
			return err
		}
		switch reg.UserType {
		case model.UserTypeCustomer:
			return insertCustomer(ctx, tx, &model.Customer{
				ID:        uuid.NewString(),
				UserID:    acc.ID,
				Email:     acc.Email,
				FirstName: reg.FirstName,
				LastName:  reg.LastName,
				Phone:     reg.Phone,
			})
		case model.UserTypeProvider:
			p := &model.Provider{
				ID:                 uuid.NewString(),
				UserID:             acc.ID,
				Email:              acc.Email,
				FirstName:          reg.FirstName,
				LastName:           reg.LastName,
				Phone:              reg.Phone,
				Role:               reg.Role,
				VerificationStatus: "pending",
				IsActive:           true,
			}
			if !p.Role.Valid() {
				p.Role = model.RoleProvider
			}
			if p.Role == model.RoleOwner && strings.TrimSpace(reg.BusinessName) != "" {
				b, err := insertBusiness(ctx, tx, strings.TrimSpace(reg.BusinessName), acc.ID)
				if err != nil {
					return err
				}
				p.BusinessID = &b.ID
			}
			return insertProvider(ctx, tx, p)
		}
		return ErrConflict
	})
	if err != nil {
		return model.Account{}, err
	}
	return r.GetByID(ctx, acc.ID)
}

// FindOrCreateFederated returns the account for a verified federated
// email, creating a password-less account of userType when none exists.
// No profile is created; the account owner completes it later.
func (r *AccountRepo) FindOrCreateFederated(ctx context.Context, email string, userType model.UserType) (model.Account, bool, error) {
	acc, err := r.GetByEmail(ctx, email)
	if err == nil {
		return acc, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.Account{}, false, err
	}
	if !userType.Valid() {
		userType = model.UserTypeCustomer
	}
	acc = model.Account{
		ID:       uuid.NewString(),
		Email:    NormalizeEmail(email),
		UserType: userType,
		IsActive: true,
	}
	if err := insertAccount(ctx, r.DB, acc); err != nil {
		if errors.Is(err, ErrEmailExists) {
			// lost a race with a concurrent first sign-in
			acc, err = r.GetByEmail(ctx, email)
			return acc, false, err
		}
		return model.Account{}, false, err
	}
	acc, err = r.GetByID(ctx, acc.ID)
	return acc, err == nil, err
}

// GetByEmail fetches an account by normalized email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (model.Account, error) {
	return scanAccount(r.DB.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE email=? LIMIT 1", NormalizeEmail(email)))
}

// GetByID fetches an account by id.
func (r *AccountRepo) GetByID(ctx context.Context, id string) (model.Account, error) {
	return scanAccount(r.DB.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id=? LIMIT 1", id))
}

func insertAccount(ctx context.Context, q queryer, acc model.Account) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO accounts (id, email, password_hash, user_type, is_active) VALUES (?,?,?,?,?)",
		acc.ID, acc.Email, acc.PasswordHash, string(acc.UserType), acc.IsActive)
	if isDuplicate(err) {
		return ErrEmailExists
	}
	return err
}

func scanAccount(row *sql.Row) (model.Account, error) {
	var (
		a  model.Account
		ut string
	)
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &ut, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Account{}, notFound(err)
	}
	a.UserType = model.UserType(ut)
	return a, nil
}
