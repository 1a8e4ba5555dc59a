package ddns

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sync"

	"github.com/cloudflare/cloudflare-go"
	"go.uber.org/zap"
)

// NewCloudflare constructs a provider that manages records through the Cloudflare API,
// authenticating with an API token that can edit the zones involved.
func NewCloudflare(token string, opts ...cloudflare.Option) (Provider, error) {
	return newCloudflareProvider(token, opts...)
}

func newCloudflareProvider(token string, opts ...cloudflare.Option) (cf *cloudflareProvider, err error) {
	if token == "" {
		return nil, errors.New("cloudflare API token cannot be empty")
	}
	cf = new(cloudflareProvider)
	cf.api, err = cloudflare.NewWithAPIToken(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	cf.logger = zap.NewNop()
	cf.comment = "managed by ddns"
	cf.zones = make(map[string]string)
	return cf, nil
}

type cloudflareConfig struct {
	Token     string `json:"token"`
	TokenFile string `json:"tokenFile"`
	Comment   string `json:"comment"`
	Proxied   *bool  `json:"proxied"`
	BaseURL   string `json:"baseURL"`
}

// CloudflareTokenEnv is read when the plugin settings hold neither a token nor a token file.
const CloudflareTokenEnv = "CLOUDFLARE_API_TOKEN"

func cloudflareProviderFromConfig(_ context.Context, cfg PluginConfig, env PluginEnv) (Provider, error) {
	var c cloudflareConfig
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	token := c.Token
	if token == "" && c.TokenFile != "" {
		t, err := ReadTokenFile(c.TokenFile)
		if err != nil {
			return nil, err
		}
		token = t
	}
	if token == "" {
		token = os.Getenv(CloudflareTokenEnv)
	}

	var opts []cloudflare.Option
	if env.HTTPClient != nil {
		opts = append(opts, cloudflare.HTTPClient(env.HTTPClient))
	}
	if c.BaseURL != "" {
		opts = append(opts, cloudflare.BaseURL(c.BaseURL))
	}
	cf, err := newCloudflareProvider(token, opts...)
	if err != nil {
		return nil, err
	}
	if c.Comment != "" {
		cf.comment = c.Comment
	}
	cf.proxied = c.Proxied
	return cf, nil
}

// cloudflareProvider implements ddns.Provider.
//
// It should be constructed using NewCloudflare.
type cloudflareProvider struct {
	api     *cloudflare.API
	logger  *zap.Logger
	comment string // optional comment to attach to each new DNS entry
	proxied *bool

	mu    sync.Mutex
	zones map[string]string // record name -> zone id
}

func (cf *cloudflareProvider) SetLogger(logger *zap.Logger) { cf.logger = logger }

// Update makes the record's address the only one of its type for that name.
// Existing records with the address are kept, all others of the type are deleted.
func (cf *cloudflareProvider) Update(ctx context.Context, record Record, addrs Addresses) error {
	if cf.api == nil {
		return errors.New("ddns.cloudflareProvider.Update: provider should be constructed with ddns.NewCloudflare")
	}
	addr := addrs.Get(record.Family)
	if !addr.IsValid() {
		return fmt.Errorf("%w for %s", ErrNoAddress, record.Family)
	}
	domain := record.FQDN()

	zid, err := cf.getZoneIDFromDomain(ctx, domain)
	if err != nil {
		return fmt.Errorf("unable to get zone ID for %s: %w", domain, err)
	}
	cf.logger.Debug("got zone ID", zap.String("zone", zid))

	rtype := record.Family.RecordType()
	records, _, err := cf.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zid), cloudflare.ListDNSRecordsParams{
		Type: rtype,
		Name: domain,
	})
	if err != nil {
		return fmt.Errorf("error listing %s records for %s: %w", rtype, domain, err)
	}
	cf.logger.Debug("found existing records", zap.Int("count", len(records)))

	found := false
	for _, r := range records {
		a, err := netip.ParseAddr(r.Content)
		if err == nil && a.Unmap() == addr && !found {
			cf.logger.Debug("existing record already has the address", zap.String("id", r.ID), zap.Stringer("address", addr))
			found = true
			continue
		}

		cf.logger.Debug("deleting DNS record", zap.String("id", r.ID), zap.String("content", r.Content))
		if err := cf.api.DeleteDNSRecord(ctx, cloudflare.ZoneIdentifier(zid), r.ID); err != nil {
			return fmt.Errorf("unable to delete DNS record %s: %w", r.ID, err)
		}
	}
	if found {
		return nil
	}

	created, err := cf.api.CreateDNSRecord(ctx, cloudflare.ZoneIdentifier(zid), cloudflare.CreateDNSRecordParams{
		Type:    rtype,
		Name:    domain,
		Content: addr.String(),
		ZoneID:  zid,
		TTL:     cloudflareTTL(record.TTL),
		Proxied: cf.proxied,
		Comment: cf.comment,
	})
	if err != nil {
		return fmt.Errorf("error creating DNS record: %w", err)
	}
	cf.logger.Debug("successfully added record", zap.String("id", created.ID))
	return nil
}

// cloudflareTTL maps a record TTL to one Cloudflare accepts: 1 means automatic and the minimum is 60.
func cloudflareTTL(ttl int) int {
	switch {
	case ttl <= 1:
		return 1
	case ttl < 60:
		return 60
	}
	return ttl
}

func (cf *cloudflareProvider) getZoneIDFromDomain(ctx context.Context, domain string) (zid string, err error) {
	cf.mu.Lock()
	zid, ok := cf.zones[domain]
	cf.mu.Unlock()
	if ok {
		return zid, nil
	}

	zones, err := cf.api.ListZones(ctx)
	if err != nil {
		return "", fmt.Errorf("error listing zones: %w", err)
	}
	var candidates []zoneRef
	for _, z := range zones {
		candidates = append(candidates, zoneRef{ID: z.ID, Name: z.Name})
	}
	zid, ok = matchZone(domain, candidates)
	if !ok {
		return "", fmt.Errorf("unable to find a zone matching \"%s\"", domain)
	}

	cf.mu.Lock()
	cf.zones[domain] = zid
	cf.mu.Unlock()
	return zid, nil
}
