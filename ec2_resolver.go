package ddns

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// instance metadata paths, relative to /latest/meta-data/
const (
	ec2PublicIPv4Path = "public-ipv4"
	ec2IPv6Path       = "ipv6"
)

type metadataClient interface {
	GetMetadata(ctx context.Context, params *imds.GetMetadataInput, optFns ...func(*imds.Options)) (*imds.GetMetadataOutput, error)
}

// EC2Resolver constructs a resolver that reads the instance's public IPv4 and IPv6 addresses
// from the EC2 instance metadata service.
func EC2Resolver(client *imds.Client) Resolver {
	if client == nil {
		client = imds.New(imds.Options{})
	}
	return &ec2Resolver{client: client, families: BothFamilies}
}

type ec2ResolverConfig struct {
	Endpoint string `json:"endpoint"`
	Families []int  `json:"families"`
}

func ec2ResolverFromConfig(_ context.Context, cfg PluginConfig, env PluginEnv) (Resolver, error) {
	var c ec2ResolverConfig
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	fs, err := parseFamilies(c.Families)
	if err != nil {
		return nil, err
	}
	opts := imds.Options{Endpoint: c.Endpoint}
	if env.HTTPClient != nil {
		opts.HTTPClient = env.HTTPClient
	}
	return &ec2Resolver{client: imds.New(opts), families: fs}, nil
}

type ec2Resolver struct {
	client   metadataClient
	families FamilySet
}

func (r *ec2Resolver) Families() FamilySet { return r.families }

func (r *ec2Resolver) Resolve(ctx context.Context) (Addresses, error) {
	var out Addresses
	var errs []error
	for _, f := range r.families.List() {
		path := ec2PublicIPv4Path
		if f == IPv6 {
			path = ec2IPv6Path
		}
		a, err := r.get(ctx, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("error reading %s from instance metadata: %w", path, err))
			continue
		}
		if !f.Matches(a) {
			errs = append(errs, fmt.Errorf("instance metadata %s is not an %s address: %s", path, f, a))
			continue
		}
		out = out.With(f, a)
	}
	if out.Set().Empty() {
		return Addresses{}, errors.Join(errs...)
	}
	return out, nil
}

func (r *ec2Resolver) get(ctx context.Context, path string) (netip.Addr, error) {
	resp, err := r.client.GetMetadata(ctx, &imds.GetMetadataInput{Path: path})
	if err != nil {
		return netip.Addr{}, err
	}
	defer resp.Content.Close()
	return parseMetadataAddr(resp.Content)
}

// parseMetadataAddr reads the first line of a metadata document as an address.
func parseMetadataAddr(r io.Reader) (netip.Addr, error) {
	raw, err := io.ReadAll(io.LimitReader(r, 1024))
	if err != nil {
		return netip.Addr{}, err
	}
	line, _, _ := strings.Cut(string(raw), "\n")
	a, err := netip.ParseAddr(strings.TrimSpace(line))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing IP address from metadata: %w", err)
	}
	return a.Unmap(), nil
}
