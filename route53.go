package ddns

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"go.uber.org/zap"
)

// route53DefaultTTL is used for records that do not set a TTL.
const route53DefaultTTL = 300

type route53API interface {
	ListHostedZones(ctx context.Context, params *route53.ListHostedZonesInput, optFns ...func(*route53.Options)) (*route53.ListHostedZonesOutput, error)
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
	GetChange(ctx context.Context, params *route53.GetChangeInput, optFns ...func(*route53.Options)) (*route53.GetChangeOutput, error)
}

// NewRoute53 constructs a provider that upserts records in Amazon Route 53.
// An empty hostedZoneID makes the provider pick the hosted zone with the longest matching name.
func NewRoute53(client *route53.Client, hostedZoneID string) Provider {
	return &route53Provider{
		client:       client,
		hostedZoneID: hostedZoneID,
		logger:       zap.NewNop(),
		zones:        make(map[string]string),
		pollEvery:    5 * time.Second,
	}
}

type route53Config struct {
	Region       string `json:"region"`
	Profile      string `json:"profile"`
	HostedZoneID string `json:"hostedZoneId"`
	Wait         bool   `json:"wait"`
}

func route53ProviderFromConfig(ctx context.Context, cfg PluginConfig, env PluginEnv) (Provider, error) {
	c := route53Config{Region: "us-east-1"}
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
	if c.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(c.Profile))
	}
	if env.HTTPClient != nil {
		loadOpts = append(loadOpts, config.WithHTTPClient(env.HTTPClient))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS configuration: %w", err)
	}
	p := NewRoute53(route53.NewFromConfig(awsCfg), c.HostedZoneID).(*route53Provider)
	p.wait = c.Wait
	return p, nil
}

type route53Provider struct {
	client       route53API
	hostedZoneID string
	wait         bool
	pollEvery    time.Duration
	logger       *zap.Logger

	mu    sync.Mutex
	zones map[string]string // record name -> hosted zone id
}

func (p *route53Provider) SetLogger(logger *zap.Logger) { p.logger = logger }

// Update upserts the record set for the record's name and type with the single resolved address.
func (p *route53Provider) Update(ctx context.Context, record Record, addrs Addresses) error {
	addr := addrs.Get(record.Family)
	if !addr.IsValid() {
		return fmt.Errorf("%w for %s", ErrNoAddress, record.Family)
	}
	name := record.FQDN()

	zoneID, err := p.getHostedZoneID(ctx, name)
	if err != nil {
		return err
	}

	rrType := types.RRTypeA
	if record.Family == IPv6 {
		rrType = types.RRTypeAaaa
	}
	ttl := int64(record.TTL)
	if ttl <= 0 {
		ttl = route53DefaultTTL
	}

	resp, err := p.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch: &types.ChangeBatch{
			Comment: aws.String("managed by ddns"),
			Changes: []types.Change{{
				Action: types.ChangeActionUpsert,
				ResourceRecordSet: &types.ResourceRecordSet{
					Name:            aws.String(name),
					Type:            rrType,
					TTL:             aws.Int64(ttl),
					ResourceRecords: []types.ResourceRecord{{Value: aws.String(addr.String())}},
				},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to change resource record sets: %w", err)
	}
	if !p.wait || resp.ChangeInfo == nil || resp.ChangeInfo.Id == nil {
		return nil
	}
	return p.waitForChange(ctx, *resp.ChangeInfo.Id)
}

func (p *route53Provider) waitForChange(ctx context.Context, changeID string) error {
	for {
		change, err := p.client.GetChange(ctx, &route53.GetChangeInput{Id: aws.String(changeID)})
		if err != nil {
			return fmt.Errorf("failed to get change status: %w", err)
		}
		if change.ChangeInfo != nil && change.ChangeInfo.Status == types.ChangeStatusInsync {
			return nil
		}
		p.logger.Debug("waiting for dns records to be in sync", zap.String("change", changeID))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollEvery):
		}
	}
}

func (p *route53Provider) getHostedZoneID(ctx context.Context, name string) (string, error) {
	if p.hostedZoneID != "" {
		return p.hostedZoneID, nil
	}
	p.mu.Lock()
	id, ok := p.zones[name]
	p.mu.Unlock()
	if ok {
		return id, nil
	}

	out, err := p.client.ListHostedZones(ctx, &route53.ListHostedZonesInput{})
	if err != nil {
		return "", fmt.Errorf("failed to list hosted zones: %w", err)
	}
	var candidates []zoneRef
	for _, z := range out.HostedZones {
		if z.Id == nil || z.Name == nil {
			continue
		}
		if z.Config != nil && z.Config.PrivateZone {
			continue
		}
		candidates = append(candidates, zoneRef{ID: *z.Id, Name: *z.Name})
	}
	id, ok = matchZone(name, candidates)
	if !ok {
		return "", errors.New("hosted zone not found for " + name)
	}

	p.mu.Lock()
	p.zones[name] = id
	p.mu.Unlock()
	return id, nil
}
