package model

import "time"

// Business is the company a provider works for.  OwnerUserID references
// the account that registered it.
type Business struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OwnerUserID string    `json:"owner_user_id"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// BusinessLocation is one physical location of a business.
type BusinessLocation struct {
	ID         string `json:"id"`
	BusinessID string `json:"business_id"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	IsPrimary  bool   `json:"is_primary"`
}
