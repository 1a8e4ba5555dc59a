package ddns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Registry maps plugin ids to resolver and provider handles.
//
// It is filled once at startup; lookups by id afterwards never load code.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		resolvers: make(map[string]Resolver),
		providers: make(map[string]Provider),
	}
}

func (r *Registry) RegisterResolver(id string, res Resolver) error {
	if id == "" || res == nil {
		return fmt.Errorf("ddns.Registry.RegisterResolver: id and resolver are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.resolvers[id]; found {
		return fmt.Errorf("resolver %q is already registered", id)
	}
	r.resolvers[id] = res
	return nil
}

func (r *Registry) RegisterProvider(id string, p Provider) error {
	if id == "" || p == nil {
		return fmt.Errorf("ddns.Registry.RegisterProvider: id and provider are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.providers[id]; found {
		return fmt.Errorf("provider %q is already registered", id)
	}
	r.providers[id] = p
	return nil
}

func (r *Registry) Resolver(id string) (Resolver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resolvers[id]
	return res, ok
}

func (r *Registry) Provider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ResolverIDs returns the registered resolver ids, sorted.
func (r *Registry) ResolverIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.resolvers))
	for id := range r.resolvers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ProviderIDs returns the registered provider ids, sorted.
func (r *Registry) ProviderIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PluginConfig is the free-form settings object stored for one plugin id.
type PluginConfig map[string]any

// Kind returns the plugin kind named by the "kind" key, or id when there is none.
func (c PluginConfig) Kind(id string) string {
	if k, ok := c["kind"].(string); ok && k != "" {
		return k
	}
	return id
}

// Decode copies the settings into the struct pointed to by v using its json tags.
func (c PluginConfig) Decode(v any) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("error encoding plugin settings: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("error decoding plugin settings: %w", err)
	}
	return nil
}

// PluginEnv carries the shared dependencies handed to plugin factories.
type PluginEnv struct {
	Logger     *zap.Logger
	HTTPClient *http.Client
}

func (e PluginEnv) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

type (
	ResolverFactory func(ctx context.Context, cfg PluginConfig, env PluginEnv) (Resolver, error)
	ProviderFactory func(ctx context.Context, cfg PluginConfig, env PluginEnv) (Provider, error)
)

// ResolverKinds lists the built-in resolver plugins by kind.
var ResolverKinds = map[string]ResolverFactory{
	"web":       webResolverFromConfig,
	"interface": interfaceResolverFromConfig,
	"static":    staticResolverFromConfig,
	"dns":       dnsResolverFromConfig,
	"ec2":       ec2ResolverFromConfig,
}

// ProviderKinds lists the built-in provider plugins by kind.
var ProviderKinds = map[string]ProviderFactory{
	"cloudflare": cloudflareProviderFromConfig,
	"route53":    route53ProviderFromConfig,
}

// BuildRegistry constructs every resolver and provider id named in resolverIDs and providerIDs
// from its settings in plugins.
//
// Ids whose kind is not built in are skipped with a warning; records and priority lists naming them
// fail at run time as unknown plugins. Construction errors are joined into the returned error,
// but the registry always holds every plugin that could be built.
func BuildRegistry(ctx context.Context, resolverIDs, providerIDs []string, plugins map[string]PluginConfig, env PluginEnv) (*Registry, error) {
	logger := env.logger()
	reg := NewRegistry()
	var errs []error

	for _, id := range dedupe(resolverIDs) {
		cfg := plugins[id]
		kind := cfg.Kind(id)
		factory, ok := ResolverKinds[kind]
		if !ok {
			logger.Warn("no built-in resolver of this kind", zap.String("resolver", id), zap.String("kind", kind))
			continue
		}
		res, err := factory(ctx, cfg, env)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolver %q: %w", id, err))
			continue
		}
		configure(res, id, env)
		if err := reg.RegisterResolver(id, res); err != nil {
			errs = append(errs, err)
		}
	}

	for _, id := range dedupe(providerIDs) {
		cfg := plugins[id]
		kind := cfg.Kind(id)
		factory, ok := ProviderKinds[kind]
		if !ok {
			logger.Warn("no built-in provider of this kind", zap.String("provider", id), zap.String("kind", kind))
			continue
		}
		p, err := factory(ctx, cfg, env)
		if err != nil {
			errs = append(errs, fmt.Errorf("provider %q: %w", id, err))
			continue
		}
		configure(p, id, env)
		if err := reg.RegisterProvider(id, p); err != nil {
			errs = append(errs, err)
		}
	}

	return reg, errors.Join(errs...)
}

// configure hands the shared logger and HTTP client to plugins that accept them.
func configure(plugin any, id string, env PluginEnv) {
	if l, ok := plugin.(interface{ SetLogger(*zap.Logger) }); ok {
		l.SetLogger(env.logger().With(zap.String("plugin", id)))
	}
	if c, ok := plugin.(interface{ SetHTTPClient(*http.Client) }); ok && env.HTTPClient != nil {
		c.SetHTTPClient(env.HTTPClient)
	}
}

func dedupe(ids []string) []string {
	return lo.Uniq(lo.Without(ids, ""))
}
