package ddns

import (
	"context"
	"errors"
	"net/netip"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrUnknownResolver = errors.New("unknown resolver")
	ErrNoAddress       = errors.New("no address resolved")
)

// Resolver reports the current address of the host for one or both families.
//
// Families declares what the resolver can ever answer for.
// The chain never asks a resolver whose families are all already resolved.
// Resolve may return one family, both, or neither; an error means the resolver contributed nothing.
type Resolver interface {
	Families() FamilySet
	Resolve(context.Context) (Addresses, error)
}

// Provider pushes one record's new address to a DNS hosting provider.
type Provider interface {
	Update(ctx context.Context, record Record, addrs Addresses) error
}

// ResolverFunc adapts a function returning a list of addresses to the Resolver interface.
// The first valid address of each family in fs is used.
func ResolverFunc(fs FamilySet, fn func(context.Context) ([]netip.Addr, error)) Resolver {
	return resolverFunc{families: fs, fn: fn}
}

type resolverFunc struct {
	families FamilySet
	fn       func(context.Context) ([]netip.Addr, error)
}

func (r resolverFunc) Families() FamilySet { return r.families }

func (r resolverFunc) Resolve(ctx context.Context) (Addresses, error) {
	addrs, err := r.fn(ctx)
	if err != nil {
		return Addresses{}, err
	}
	return FromList(addrs).Only(r.families), nil
}

// ProviderFunc is an adapter to allow the use of ordinary functions as providers.
type ProviderFunc func(ctx context.Context, record Record, addrs Addresses) error

func (f ProviderFunc) Update(ctx context.Context, record Record, addrs Addresses) error {
	return f(ctx, record, addrs)
}
