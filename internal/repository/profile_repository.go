package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/marketplace-auth/internal/model"
)

// ProfileRepo reads and edits the customer and provider profiles attached
// to accounts.  Provider reads embed the business and its locations.
type ProfileRepo struct {
	DB         *sql.DB
	Businesses *BusinessRepo
}

func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{DB: db, Businesses: NewBusinessRepo(db)}
}

const customerColumns = "id,user_id,email,first_name,last_name,phone,image_url"

const providerColumns = "id,user_id,email,first_name,last_name,phone,image_url,role,business_id,verification_status,is_active"

// GetCustomer returns the customer profile of userID or ErrNotFound.
func (r *ProfileRepo) GetCustomer(ctx context.Context, userID string) (*model.Customer, error) {
	var c model.Customer
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+customerColumns+" FROM customers WHERE user_id=? LIMIT 1", userID).
		Scan(&c.ID, &c.UserID, &c.Email, &c.FirstName, &c.LastName, &c.Phone, &c.ImageURL)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// GetProvider returns the provider profile of userID or ErrNotFound.
func (r *ProfileRepo) GetProvider(ctx context.Context, userID string) (*model.Provider, error) {
	var (
		p          model.Provider
		role       string
		businessID sql.NullString
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+providerColumns+" FROM providers WHERE user_id=? LIMIT 1", userID).
		Scan(&p.ID, &p.UserID, &p.Email, &p.FirstName, &p.LastName, &p.Phone, &p.ImageURL,
			&role, &businessID, &p.VerificationStatus, &p.IsActive)
	if err != nil {
		return nil, notFound(err)
	}
	p.Role = model.ProviderRole(role)
	if !businessID.Valid {
		return &p, nil
	}

	p.BusinessID = &businessID.String
	b, err := r.Businesses.Get(ctx, businessID.String)
	switch {
	case err == nil:
		p.Business = &b
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	if p.BusinessLocations, err = r.Businesses.Locations(ctx, businessID.String); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateCustomer applies upd and returns the full profile.
func (r *ProfileRepo) UpdateCustomer(ctx context.Context, userID string, upd model.ProfileUpdate) (*model.Customer, error) {
	if err := r.update(ctx, "customers", userID, upd); err != nil {
		return nil, err
	}
	return r.GetCustomer(ctx, userID)
}

// UpdateProvider applies upd and returns the full profile.
func (r *ProfileRepo) UpdateProvider(ctx context.Context, userID string, upd model.ProfileUpdate) (*model.Provider, error) {
	if err := r.update(ctx, "providers", userID, upd); err != nil {
		return nil, err
	}
	return r.GetProvider(ctx, userID)
}

// update builds the SET clause from the non-nil fields of upd; table is
// one of the two profile tables and never user input.
func (r *ProfileRepo) update(ctx context.Context, table, userID string, upd model.ProfileUpdate) error {
	var (
		sets []string
		args []any
	)
	add := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+"=?")
			args = append(args, strings.TrimSpace(*v))
		}
	}
	add("first_name", upd.FirstName)
	add("last_name", upd.LastName)
	add("phone", upd.Phone)
	add("image_url", upd.ImageURL)

	if len(sets) == 0 {
		var exists int
		err := r.DB.QueryRowContext(ctx,
			"SELECT 1 FROM "+table+" WHERE user_id=? LIMIT 1", userID).Scan(&exists)
		return notFound(err)
	}
	args = append(args, userID)
	res, err := r.DB.ExecContext(ctx,
		"UPDATE "+table+" SET "+strings.Join(sets, ",")+" WHERE user_id=?", args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// MySQL reports 0 for an update that changed nothing, so confirm
		// the row exists before calling it missing.
		var exists int
		return notFound(r.DB.QueryRowContext(ctx,
			"SELECT 1 FROM "+table+" WHERE user_id=? LIMIT 1", userID).Scan(&exists))
	}
	return nil
}

func insertCustomer(ctx context.Context, q queryer, c *model.Customer) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO customers ("+customerColumns+") VALUES (?,?,?,?,?,?,?)",
		c.ID, c.UserID, c.Email, c.FirstName, c.LastName, c.Phone, c.ImageURL)
	if isDuplicate(err) {
		return ErrConflict
	}
	return err
}

func insertProvider(ctx context.Context, q queryer, p *model.Provider) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO providers ("+providerColumns+") VALUES (?,?,?,?,?,?,?,?,?,?,?)",
		p.ID, p.UserID, p.Email, p.FirstName, p.LastName, p.Phone, p.ImageURL,
		string(p.Role), p.BusinessID, p.VerificationStatus, p.IsActive)
	if isDuplicate(err) {
		return ErrConflict
	}
	return err
}
