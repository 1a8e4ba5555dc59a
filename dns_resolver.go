package ddns

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// Defaults for DNSResolver: OpenDNS answers queries for this name with the address the query came from.
const (
	DefaultDNSName    = "myip.opendns.com."
	DefaultDNSServer4 = "208.67.222.222:53"
	DefaultDNSServer6 = "[2620:119:35::35]:53"
)

// DNSResolver constructs a resolver which asks a DNS server for an A or AAAA record
// that reflects the address of the client, such as myip.opendns.com.
//
// The A query goes to server4 and the AAAA query to server6.
// An empty server disables that family.
func DNSResolver(name, server4, server6 string) Resolver {
	return &dnsResolver{
		name:    dns.Fqdn(name),
		servers: map[Family]string{IPv4: server4, IPv6: server6},
		client:  &dns.Client{Net: "udp", Timeout: 5 * time.Second},
	}
}

type dnsResolverConfig struct {
	Name     string `json:"name"`
	Server4  string `json:"server4"`
	Server6  string `json:"server6"`
	Families []int  `json:"families"`
	Net      string `json:"net"`
}

func dnsResolverFromConfig(_ context.Context, cfg PluginConfig, _ PluginEnv) (Resolver, error) {
	c := dnsResolverConfig{Name: DefaultDNSName, Server4: DefaultDNSServer4, Server6: DefaultDNSServer6}
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	fs, err := parseFamilies(c.Families)
	if err != nil {
		return nil, err
	}
	if !fs.Has(IPv4) {
		c.Server4 = ""
	}
	if !fs.Has(IPv6) {
		c.Server6 = ""
	}
	r := DNSResolver(c.Name, c.Server4, c.Server6).(*dnsResolver)
	if c.Net != "" {
		r.client.Net = c.Net
	}
	if r.Families().Empty() {
		return nil, errors.New("no DNS servers configured")
	}
	return r, nil
}

type dnsResolver struct {
	name    string
	servers map[Family]string
	client  *dns.Client
}

func (r *dnsResolver) Families() FamilySet {
	var fs FamilySet
	for _, f := range Families {
		if r.servers[f] != "" {
			fs = fs.With(f)
		}
	}
	return fs
}

// Resolve queries each configured family. It fails only when no family could be resolved.
func (r *dnsResolver) Resolve(ctx context.Context) (Addresses, error) {
	var out Addresses
	var errs []error
	for _, f := range r.Families().List() {
		a, err := r.query(ctx, f)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s query to %s: %w", f.RecordType(), r.servers[f], err))
			continue
		}
		out = out.With(f, a)
	}
	if out.Set().Empty() {
		return Addresses{}, errors.Join(errs...)
	}
	return out, nil
}

func (r *dnsResolver) query(ctx context.Context, f Family) (netip.Addr, error) {
	qtype := dns.TypeA
	if f == IPv6 {
		qtype = dns.TypeAAAA
	}
	m := new(dns.Msg)
	m.SetQuestion(r.name, qtype)

	resp, _, err := r.client.ExchangeContext(ctx, m, r.servers[f])
	if err != nil {
		return netip.Addr{}, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return netip.Addr{}, fmt.Errorf("server answered %s", dns.RcodeToString[resp.Rcode])
	}
	for _, rr := range resp.Answer {
		var ip []byte
		switch v := rr.(type) {
		case *dns.A:
			ip = v.A
		case *dns.AAAA:
			ip = v.AAAA
		default:
			continue
		}
		a, ok := netip.AddrFromSlice(ip)
		if ok && f.Matches(a) {
			return a.Unmap(), nil
		}
	}
	return netip.Addr{}, fmt.Errorf("%w: no %s record in answer", ErrNoAddress, f.RecordType())
}
