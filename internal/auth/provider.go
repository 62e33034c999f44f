package auth

import "github.com/iliyamo/marketplace-auth/internal/model"

// CustomerContext resolves customer identities.
type CustomerContext = Context[*model.Customer]

// NewCustomerContext returns an unstarted customer context.
func NewCustomerContext(deps Deps) *CustomerContext {
	return NewContext[*model.Customer](model.UserTypeCustomer, deps)
}

// ProviderContext resolves provider identities and exposes the role
// checks of the provider dashboard.  The checks read the current identity
// on every call.
type ProviderContext struct {
	*Context[*model.Provider]
}

// NewProviderContext returns an unstarted provider context.
func NewProviderContext(deps Deps) *ProviderContext {
	return &ProviderContext{Context: NewContext[*model.Provider](model.UserTypeProvider, deps)}
}

func (p *ProviderContext) hasRole(r model.ProviderRole) bool {
	id, ok := p.Identity()
	return ok && id.HasRole(r)
}

func (p *ProviderContext) IsOwner() bool      { return p.hasRole(model.RoleOwner) }
func (p *ProviderContext) IsDispatcher() bool { return p.hasRole(model.RoleDispatcher) }
func (p *ProviderContext) IsProvider() bool   { return p.hasRole(model.RoleProvider) }
