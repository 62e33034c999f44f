package handler

import (
    "context"
    "errors"
    "fmt"

    "github.com/coreos/go-oidc/v3/oidc"
)

// FederatedIdentity is what a verified ID token asserts about its holder.
type FederatedIdentity struct {
    Subject       string
    Email         string
    EmailVerified bool
}

// IDTokenVerifier verifies a raw ID token from a federated identity
// provider.
type IDTokenVerifier interface {
    Verify(ctx context.Context, rawIDToken string) (FederatedIdentity, error)
}

// OIDCVerifier verifies ID tokens with go-oidc.
type OIDCVerifier struct {
    v *oidc.IDTokenVerifier
}

// NewOIDCVerifier wraps a configured go-oidc verifier.
func NewOIDCVerifier(v *oidc.IDTokenVerifier) *OIDCVerifier { return &OIDCVerifier{v: v} }

// DiscoverOIDC fetches the issuer's discovery document and returns a
// verifier accepting tokens issued for clientID.
func DiscoverOIDC(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
    p, err := oidc.NewProvider(ctx, issuer)
    if err != nil {
        return nil, fmt.Errorf("oidc discovery: %w", err)
    }
    return NewOIDCVerifier(p.Verifier(&oidc.Config{ClientID: clientID})), nil
}

var errNoEmail = errors.New("id token carries no email")

func (o *OIDCVerifier) Verify(ctx context.Context, raw string) (FederatedIdentity, error) {
    tok, err := o.v.Verify(ctx, raw)
    if err != nil {
        return FederatedIdentity{}, err
    }
    var claims struct {
        Email         string `json:"email"`
        EmailVerified *bool  `json:"email_verified"`
    }
    if err := tok.Claims(&claims); err != nil {
        return FederatedIdentity{}, err
    }
    if claims.Email == "" {
        return FederatedIdentity{}, errNoEmail
    }
    // providers that omit email_verified only hand out verified addresses
    verified := claims.EmailVerified == nil || *claims.EmailVerified
    return FederatedIdentity{Subject: tok.Subject, Email: claims.Email, EmailVerified: verified}, nil
}
