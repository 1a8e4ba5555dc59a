package ddns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// InterfaceResolver constructs a resolver that returns the IP addresses reported by the given interfaces.
// If no interfaces are provided then all interfaces will be used.
// Loopback and link-local addresses are always skipped; the first remaining address of each family wins.
func InterfaceResolver(iface ...string) Resolver {
	return interfaceResolver{ifaces: iface, families: BothFamilies}
}

type interfaceResolverConfig struct {
	Interfaces []string `json:"interfaces"`
	Families   []int    `json:"families"`
}

func interfaceResolverFromConfig(_ context.Context, cfg PluginConfig, _ PluginEnv) (Resolver, error) {
	var c interfaceResolverConfig
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	fs, err := parseFamilies(c.Families)
	if err != nil {
		return nil, err
	}
	return interfaceResolver{ifaces: c.Interfaces, families: fs}, nil
}

type interfaceResolver struct {
	ifaces   []string
	families FamilySet
}

func (r interfaceResolver) Families() FamilySet { return r.families }

func (r interfaceResolver) Resolve(ctx context.Context) (Addresses, error) {
	var (
		addrs []netip.Addr
		err   error
	)
	if len(r.ifaces) == 0 {
		addrs, err = localAddrs()
	} else {
		addrs, err = interfaceAddrs(r.ifaces)
	}
	found := FromList(addrs).Only(r.families)
	if found.Set().Empty() {
		if err != nil {
			return Addresses{}, err
		}
		return Addresses{}, fmt.Errorf("%w: no usable interface addresses", ErrNoAddress)
	}
	// partial parse errors are tolerated once something usable was found
	return found, nil
}

// InterfaceAddrs returns the usable addresses of the named interfaces, or of every interface when none are named.
func InterfaceAddrs(iface ...string) ([]netip.Addr, error) {
	if len(iface) == 0 {
		return localAddrs()
	}
	return interfaceAddrs(iface)
}

func interfaceAddrs(ifaces []string) (addrs []netip.Addr, err error) {
	var errs []error
	for _, ifs := range ifaces {
		iface, err := net.InterfaceByName(ifs)
		if err != nil {
			errs = append(errs, fmt.Errorf("error getting interface %s by name: %w", ifs, err))
			continue
		}
		a, err := iface.Addrs()
		if err != nil {
			errs = append(errs, fmt.Errorf("error looking up addresses for interface %s: %w", ifs, err))
			continue
		}
		got, parseErr := usableAddrs(a)
		if parseErr != nil {
			errs = append(errs, fmt.Errorf("interface %s: %w", ifs, parseErr))
		}
		addrs = append(addrs, got...)
	}
	return addrs, errors.Join(errs...)
}

func localAddrs() ([]netip.Addr, error) {
	adds, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("error getting addresses for interface: %w", err)
	}
	return usableAddrs(adds)
}

func usableAddrs(adds []net.Addr) (addrs []netip.Addr, err error) {
	// addr: ip+net:192.168.86.253/24
	// addr: ip+net:fd64:9f44:fc30:0:b951:8b16:2812:a227/64
	// addr: ip+net:fe80::2cc9:801b:3551:9a43/64
	var parseErrors []error
	for _, addr := range adds {
		ip, err := netip.ParsePrefix(addr.String())
		if err != nil {
			parseErrors = append(parseErrors, fmt.Errorf("error parsing local ip %s: %s", addr.String(), err))
			continue
		}
		a := ip.Addr()
		if a.IsLoopback() || a.IsLinkLocalUnicast() || a.IsUnspecified() {
			continue
		}
		addrs = append(addrs, a)
	}
	return addrs, errors.Join(parseErrors...)
}
