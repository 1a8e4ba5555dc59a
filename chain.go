package ddns

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Attempt is the outcome of consulting one resolver during a resolution.
type Attempt struct {
	Resolver string
	// Skipped is set when the resolver could not supply any family that was still missing.
	Skipped bool
	// Accepted holds the addresses this resolver contributed to the result.
	Accepted Addresses
	Err      error
}

// Resolution is the result of running the chain once.
type Resolution struct {
	Addresses
	Needed   FamilySet
	Attempts []Attempt
}

// Missing returns the needed families that no resolver answered.
func (r Resolution) Missing() FamilySet {
	return r.Needed &^ r.Set()
}

// Chain queries resolvers in priority order until every needed family has an address.
type Chain struct {
	registry *Registry
	logger   *zap.Logger
}

func NewChain(registry *Registry, logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{registry: registry, logger: logger}
}

// Resolve asks the resolvers named by ids, in order, for the families in need.
//
// The first answer for a family wins; later resolvers never overwrite it.
// A resolver is skipped when it cannot supply any family that is still missing,
// and the scan stops as soon as nothing is missing.
// Failing or unknown resolvers are logged and contribute nothing.
// The result never contains a family outside need.
func (c *Chain) Resolve(ctx context.Context, need FamilySet, ids []string) Resolution {
	res := Resolution{Needed: need.Intersect(BothFamilies)}

	for _, id := range ids {
		missing := res.Missing()
		if missing.Empty() {
			break
		}
		if err := ctx.Err(); err != nil {
			c.logger.Warn("resolution interrupted", zap.Error(err))
			break
		}

		r, ok := c.registry.Resolver(id)
		if !ok {
			err := fmt.Errorf("%w: %s", ErrUnknownResolver, id)
			c.logger.Warn("unable to load resolver", zap.String("resolver", id), zap.Error(err))
			resolverFailures.WithLabelValues(id).Inc()
			res.Attempts = append(res.Attempts, Attempt{Resolver: id, Err: err})
			continue
		}

		useful := r.Families().Intersect(missing)
		if useful.Empty() {
			c.logger.Debug("skipping resolver", zap.String("resolver", id), zap.Stringer("missing", missing))
			res.Attempts = append(res.Attempts, Attempt{Resolver: id, Skipped: true})
			continue
		}

		c.logger.Info("getting IP", zap.String("resolver", id), zap.Stringer("families", useful))
		got, err := r.Resolve(ctx)
		if err != nil {
			c.logger.Warn("unable to resolve ip using resolver", zap.String("resolver", id), zap.Error(err))
			resolverFailures.WithLabelValues(id).Inc()
			res.Attempts = append(res.Attempts, Attempt{Resolver: id, Err: err})
			continue
		}
		if extra := got.Set() &^ r.Families(); !extra.Empty() {
			c.logger.Warn("resolver answered for undeclared families", zap.String("resolver", id), zap.Stringer("families", extra))
		}

		accepted := got.Only(useful)
		for _, f := range accepted.Set().List() {
			res.Addresses = res.With(f, accepted.Get(f))
		}
		c.logger.Debug("resolver answered", zap.String("resolver", id), zap.Stringer("accepted", accepted))
		res.Attempts = append(res.Attempts, Attempt{Resolver: id, Accepted: accepted})
	}

	for _, f := range res.Missing().List() {
		c.logger.Warn("unable to resolve the public address", zap.Stringer("family", f))
		unresolvedFamilies.WithLabelValues(f.String()).Inc()
	}
	return res
}
