package model

// UserType tags which application profile an account is provisioned as.
// The zero value means "no user type" (nobody is signed in).
type UserType string

const (
	UserTypeCustomer UserType = "customer"
	UserTypeProvider UserType = "provider"
)

// Valid reports whether t is one of the known user types.
func (t UserType) Valid() bool {
	return t == UserTypeCustomer || t == UserTypeProvider
}

// Identity is the resolved, authenticated profile of one user.  The
// gateway-assigned user id (GetUserID) is distinct from the profile id
// (GetID).  Implementations must tolerate nil receivers.
type Identity interface {
	GetID() string
	GetUserID() string
	GetEmail() string
	DisplayName() string
	Type() UserType
}

// Customer is the customer variant of Identity.
type Customer struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
}

func (c *Customer) GetID() string {
	if c == nil {
		return ""
	}
	return c.ID
}

func (c *Customer) GetUserID() string {
	if c == nil {
		return ""
	}
	return c.UserID
}

func (c *Customer) GetEmail() string {
	if c == nil {
		return ""
	}
	return c.Email
}

func (c *Customer) DisplayName() string {
	if c == nil {
		return ""
	}
	return joinName(c.FirstName, c.LastName, c.Email)
}

func (c *Customer) Type() UserType { return UserTypeCustomer }

// ProviderRole is the capability level of a provider inside a business.
type ProviderRole string

const (
	RoleOwner      ProviderRole = "owner"
	RoleDispatcher ProviderRole = "dispatcher"
	RoleProvider   ProviderRole = "provider"
)

func (r ProviderRole) rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleDispatcher:
		return 2
	case RoleProvider:
		return 1
	}
	return 0
}

// Valid reports whether r is a known role.
func (r ProviderRole) Valid() bool { return r.rank() > 0 }

// Includes reports whether r grants at least the capabilities of other:
// owner includes dispatcher, dispatcher includes provider.
func (r ProviderRole) Includes(other ProviderRole) bool {
	return r.rank() > 0 && r.rank() >= other.rank() && other.rank() > 0
}

// Provider is the provider variant of Identity.  Business and
// BusinessLocations are denormalized read-only copies refreshed together
// with the profile.
type Provider struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"user_id"`
	Email              string             `json:"email"`
	FirstName          string             `json:"first_name"`
	LastName           string             `json:"last_name"`
	Phone              string             `json:"phone,omitempty"`
	ImageURL           string             `json:"image_url,omitempty"`
	Role               ProviderRole       `json:"role"`
	BusinessID         *string            `json:"business_id"`
	VerificationStatus string             `json:"verification_status"`
	IsActive           bool               `json:"is_active"`
	Business           *Business          `json:"business,omitempty"`
	BusinessLocations  []BusinessLocation `json:"business_locations,omitempty"`
}

func (p *Provider) GetID() string {
	if p == nil {
		return ""
	}
	return p.ID
}

func (p *Provider) GetUserID() string {
	if p == nil {
		return ""
	}
	return p.UserID
}

func (p *Provider) GetEmail() string {
	if p == nil {
		return ""
	}
	return p.Email
}

func (p *Provider) DisplayName() string {
	if p == nil {
		return ""
	}
	return joinName(p.FirstName, p.LastName, p.Email)
}

func (p *Provider) Type() UserType { return UserTypeProvider }

// HasRole reports whether the provider's role includes r.  A nil provider
// has no role.
func (p *Provider) HasRole(r ProviderRole) bool {
	if p == nil {
		return false
	}
	return p.Role.Includes(r)
}

func joinName(first, last, fallback string) string {
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	case last != "":
		return last
	}
	return fallback
}
