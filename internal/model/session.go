package model

import "time"

// Session is the bearer credential issued by the gateway together with
// the user it authenticates.  ExpiresAt is only interpreted by the
// gateway client; everything above it treats the token as opaque.
type Session struct {
	UserID       string    `json:"user_id"`
	UserType     UserType  `json:"user_type,omitempty"`
	Email        string    `json:"email,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Credentials are the inputs of a password sign-in.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// OAuthCredentials carry an ID token obtained from a federated identity
// provider (Google, Keycloak, ...).
type OAuthCredentials struct {
	Provider string   `json:"provider"`
	IDToken  string   `json:"id_token"`
	UserType UserType `json:"user_type,omitempty"`
}

// Registration is the payload of a sign-up.  Role and BusinessName only
// apply to providers; an owner registration creates the business.
type Registration struct {
	Email        string       `json:"email"`
	Password     string       `json:"password"`
	UserType     UserType     `json:"user_type"`
	FirstName    string       `json:"first_name"`
	LastName     string       `json:"last_name"`
	Phone        string       `json:"phone,omitempty"`
	Role         ProviderRole `json:"role,omitempty"`
	BusinessName string       `json:"business_name,omitempty"`
}

// ProfileUpdate lists the editable profile fields.  Nil fields are left
// untouched by the gateway; the caller always receives the full profile
// back.
type ProfileUpdate struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	ImageURL  *string `json:"image_url,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Phone == nil && u.ImageURL == nil
}
