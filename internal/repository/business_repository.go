package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/iliyamo/marketplace-auth/internal/model"
)

// BusinessRepo reads businesses and their locations.
type BusinessRepo struct{ DB *sql.DB }

func NewBusinessRepo(db *sql.DB) *BusinessRepo { return &BusinessRepo{DB: db} }

// Get returns the business with id or ErrNotFound.
func (r *BusinessRepo) Get(ctx context.Context, id string) (model.Business, error) {
	var b model.Business
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,name,owner_user_id,is_active,created_at FROM businesses WHERE id=? LIMIT 1", id).
		Scan(&b.ID, &b.Name, &b.OwnerUserID, &b.IsActive, &b.CreatedAt)
	if err != nil {
		return model.Business{}, notFound(err)
	}
	return b, nil
}

// Locations lists the locations of a business, primary first.
func (r *BusinessRepo) Locations(ctx context.Context, businessID string) ([]model.BusinessLocation, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,business_id,name,address,city,is_primary
		   FROM business_locations WHERE business_id=?
		  ORDER BY is_primary DESC, name`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BusinessLocation
	for rows.Next() {
		var l model.BusinessLocation
		if err := rows.Scan(&l.ID, &l.BusinessID, &l.Name, &l.Address, &l.City, &l.IsPrimary); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// insertBusiness creates a business owned by ownerUserID together with a
// primary location carrying the same name.
func insertBusiness(ctx context.Context, q queryer, name, ownerUserID string) (model.Business, error) {
	b := model.Business{ID: uuid.NewString(), Name: name, OwnerUserID: ownerUserID, IsActive: true}
	if _, err := q.ExecContext(ctx,
		"INSERT INTO businesses (id,name,owner_user_id,is_active) VALUES (?,?,?,?)",
		b.ID, b.Name, b.OwnerUserID, b.IsActive); err != nil {
		return model.Business{}, err
	}
	if _, err := q.ExecContext(ctx,
		"INSERT INTO business_locations (id,business_id,name,is_primary) VALUES (?,?,?,1)",
		uuid.NewString(), b.ID, name); err != nil {
		return model.Business{}, err
	}
	return b, nil
}
