package ddns

import (
	"context"
	"fmt"
	"net/netip"
)

// FromString constructs a resolver that always answers with the given addresses.
// At most one address per family is kept.
func FromString(addr ...string) (Resolver, error) {
	var addrs []netip.Addr
	for _, s := range addr {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("unable to parse IP: %w", err)
		}
		addrs = append(addrs, a)
	}
	found := FromList(addrs)
	if found.Set().Empty() {
		return nil, fmt.Errorf("%w: no addresses given", ErrNoAddress)
	}
	return staticResolver(found), nil
}

type staticResolverConfig struct {
	IPv4 string `json:"ipv4"`
	IPv6 string `json:"ipv6"`
}

func staticResolverFromConfig(_ context.Context, cfg PluginConfig, _ PluginEnv) (Resolver, error) {
	var c staticResolverConfig
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	var addrs []string
	for _, s := range []string{c.IPv4, c.IPv6} {
		if s != "" {
			addrs = append(addrs, s)
		}
	}
	return FromString(addrs...)
}

type staticResolver Addresses

func (s staticResolver) Families() FamilySet { return Addresses(s).Set() }

func (s staticResolver) Resolve(context.Context) (Addresses, error) {
	return Addresses(s), nil
}
