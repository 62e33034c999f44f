package auth

import (
	"context"
	"sync"

	"github.com/iliyamo/marketplace-auth/internal/model"
)

// View is the façade's derived state.  UserType is empty when nobody is
// signed in.
type View struct {
	UserType        model.UserType
	Loading         bool
	IsAuthenticated bool
}

// Facade merges the customer and provider contexts into one view.  It
// performs no I/O of its own.  When both contexts are authenticated the
// customer wins.
type Facade struct {
	customer *CustomerContext
	provider *ProviderContext

	mu      sync.Mutex
	fns     map[int]func(View)
	nextID  int
	last    View
	hasLast bool
	unsubs  []func()
}

// NewFacade composes two contexts.  Neither is started.
func NewFacade(customer *CustomerContext, provider *ProviderContext) *Facade {
	f := &Facade{customer: customer, provider: provider, fns: make(map[int]func(View))}
	f.unsubs = append(f.unsubs,
		customer.Subscribe(func(Snapshot[*model.Customer]) { f.changed() }),
		provider.Subscribe(func(Snapshot[*model.Provider]) { f.changed() }),
	)
	return f
}

// Compose builds both role contexts over shared deps.  The outbound
// credential is shared between them when deps.Credential is set.
func Compose(deps Deps) *Facade {
	return NewFacade(NewCustomerContext(deps), NewProviderContext(deps))
}

func (f *Facade) Customer() *CustomerContext { return f.customer }
func (f *Facade) Provider() *ProviderContext { return f.provider }

// View derives the current state from both contexts.
func (f *Facade) View() View {
	c, p := f.customer.Snapshot(), f.provider.Snapshot()
	v := View{Loading: c.Loading || p.Loading}
	switch {
	case c.Authenticated:
		v.UserType = model.UserTypeCustomer
	case p.Authenticated:
		v.UserType = model.UserTypeProvider
	}
	v.IsAuthenticated = c.Authenticated || p.Authenticated
	return v
}

func (f *Facade) UserType() model.UserType { return f.View().UserType }
func (f *Facade) Loading() bool            { return f.View().Loading }
func (f *Facade) IsAuthenticated() bool    { return f.View().IsAuthenticated }

// SignOut signs out of whichever context is authenticated, the customer
// first.  It is a no-op when neither is.
func (f *Facade) SignOut(ctx context.Context) {
	switch {
	case f.customer.IsAuthenticated():
		f.customer.SignOut(ctx)
	case f.provider.IsAuthenticated():
		f.provider.SignOut(ctx)
	}
}

// Subscribe registers fn to receive the view whenever it changes.
func (f *Facade) Subscribe(fn func(View)) (unsubscribe func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.fns[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.fns, id)
		f.mu.Unlock()
	}
}

func (f *Facade) changed() {
	v := f.View()
	f.mu.Lock()
	if f.hasLast && f.last == v {
		f.mu.Unlock()
		return
	}
	f.last, f.hasLast = v, true
	fns := make([]func(View), 0, len(f.fns))
	for _, fn := range f.fns {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// Start runs the mount-time resolution of both contexts concurrently and
// returns when both have settled.
func (f *Facade) Start(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); f.customer.Start(ctx) }()
	go func() { defer wg.Done(); f.provider.Start(ctx) }()
	wg.Wait()
}

// Close tears both contexts down.
func (f *Facade) Close() {
	for _, u := range f.unsubs {
		u()
	}
	f.customer.Close()
	f.provider.Close()
}
