package ddns

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"
)

// WebResolver constructs a resolver which uses external web services to look up a "public" IP address.
//
// Each serviceURL must speak http and return status "200 OK",
// with a valid IPv4 or IPv6 address as the first line of the response body.
// All other responses are considered an error.
//
// If only one serviceURL is given,
// then the resolver will simply return the response.
// If multiple are given,
// then the resolver will request from up to three of them and only return successfully if the first two non-error responses agreed on the IP.
// This approach is taken due to the sensitive nature of having control over DNS records.
//
// The resolver declares both families, since the answer depends on how the connection was made.
// Use WebResolverFor to pin the connection, and the declared family, to IPv4 or IPv6.
//
// The recommended approach is to run your own service over https.
func WebResolver(serviceURL ...string) (Resolver, error) {
	return newWebResolver(0, serviceURL)
}

// WebResolverFor is WebResolver restricted to one family:
// requests are dialed over tcp4 or tcp6 and only that family is declared.
func WebResolverFor(f Family, serviceURL ...string) (Resolver, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("invalid family %d", int(f))
	}
	return newWebResolver(f, serviceURL)
}

func newWebResolver(f Family, serviceURL []string) (*webResolver, error) {
	if len(serviceURL) == 0 {
		return nil, errors.New("no external IP lookup services were provided")
	}
	var URLs []*url.URL
	for _, u := range serviceURL {
		pu, err := url.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("error parsing URL: %w", err)
		}
		URLs = append(URLs, pu)
	}
	return &webResolver{family: f, serviceURLs: URLs}, nil
}

type webResolverConfig struct {
	URLs   []string `json:"urls"`
	Family int      `json:"family"`
}

func webResolverFromConfig(_ context.Context, cfg PluginConfig, _ PluginEnv) (Resolver, error) {
	var c webResolverConfig
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	f := Family(c.Family)
	if c.Family != 0 && !f.Valid() {
		return nil, fmt.Errorf("invalid family %d", c.Family)
	}
	return newWebResolver(f, c.URLs)
}

type webResolver struct {
	family      Family // zero when not pinned
	httpClient  *http.Client
	serviceURLs []*url.URL
}

func (wr *webResolver) SetHTTPClient(c *http.Client) { wr.httpClient = c }

// Families implements ddns.Resolver.
func (wr *webResolver) Families() FamilySet {
	if wr.family.Valid() {
		return SetOf(wr.family)
	}
	return BothFamilies
}

// Resolve implements ddns.Resolver.
func (wr *webResolver) Resolve(ctx context.Context) (Addresses, error) {
	// IP lookup calls out to three of the public IP resolver urls.
	// It only returns a nil error if the first two non-error responses had matching IPs.
	// This approach has a number of benefits:
	// - faster responses
	// - less likely to be affected by service downtime
	// - safer from wrong results in the event of accidental caching
	// - safer from a single compromised service returning malicious results (assuming all supplied resolvers are https)
	//
	// todo: round-robin or randomize resolver selection. right now it's just using the first three.
	if wr.serviceURLs == nil {
		return Addresses{}, errors.New("no external IP lookup services were provided")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		addr netip.Addr
		err  error
	}

	resolvercount := len(wr.serviceURLs)
	useCount := 3
	if resolvercount < useCount {
		useCount = resolvercount
	}
	needed := 2
	if useCount == 1 {
		needed = 1
	}

	results := make(chan result, useCount)
	httpclient := wr.client()

	var wg sync.WaitGroup
	wg.Add(useCount)
	for i := 0; i < useCount; i++ {
		u := wr.serviceURLs[i]
		go func() {
			defer wg.Done()
			r := result{}
			r.addr, r.err = wr.lookup(ctx, httpclient, u)
			results <- r
		}()
	}
	go func() { wg.Wait(); close(results) }()

	resultCount := 0
	var errs []error
	var ip netip.Addr
	for r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		resultCount++ // don't increase the result count for errors
		if !ip.IsValid() {
			ip = r.addr
			if needed == 1 {
				break
			}
			continue
		}
		if ip == r.addr {
			break
		}
		return Addresses{}, errors.New("IP resolvers did not agree on our IP")
	}
	if resultCount < needed {
		return Addresses{}, fmt.Errorf("not enough resolvers responded without errors: %w", errors.Join(errs...))
	}

	return FromList([]netip.Addr{ip}).Only(wr.Families()), nil
}

func (wr *webResolver) client() *http.Client {
	base := wr.httpClient
	if base == nil {
		base = http.DefaultClient
	}
	if !wr.family.Valid() {
		return base
	}
	network := "tcp4"
	if wr.family == IPv6 {
		network = "tcp6"
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = func(ctx context.Context, _, addr string) (net.Conn, error) {
		return dialer.DialContext(ctx, network, addr)
	}
	c := *base
	c.Transport = transport
	return &c
}

func (wr *webResolver) lookup(ctx context.Context, httpclient *http.Client, url *url.URL) (netip.Addr, error) {
	// 15 seconds is an eternity for the size of the request we're making,
	// but this ensures that all calls to resolve will eventually complete even if the user supplied context.TODO or context.Background
	// using http.DefaultClient (with no timeout).
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url.String(), nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := httpclient.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("http request returned %s", resp.Status)
	}

	scanner := bufio.NewReader(resp.Body)
	ipstring, _ := scanner.ReadString('\n')
	ip, err := netip.ParseAddr(strings.TrimSpace(ipstring))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing IP address from response body: %w", err)
	}
	return ip.Unmap(), nil
}
