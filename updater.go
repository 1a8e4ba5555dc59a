package ddns

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// DefaultPollInterval is used when the record source does not configure one.
const DefaultPollInterval = 300000 * time.Millisecond

var ErrStopped = errors.New("updater is stopped")

// RecordSource is the read side of the record store.
type RecordSource interface {
	EnabledRecords() []Record
	ResolverPriority() []string
	PollInterval() time.Duration
}

// State is the operating state of an Updater.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateDispatching
	StateScheduled
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateDispatching:
		return "dispatching"
	case StateScheduled:
		return "scheduled"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type knownState int

const (
	addrUnknown    knownState = iota // no cycle has run yet
	addrUnresolved                   // the latest resolution had no answer
	addrResolved
)

type lastKnown struct {
	state knownState
	addr  netip.Addr
}

// Dispatch is the outcome of handing one record to its provider.
type Dispatch struct {
	Record Record
	Err    error
}

func (d Dispatch) OK() bool { return d.Err == nil }

// Report describes one update cycle.
type Report struct {
	ID         string
	Started    time.Time
	Finished   time.Time
	Resolution Resolution
	// Changed holds the families whose resolved address differs from the previous cycle.
	Changed    FamilySet
	Dispatches []Dispatch
}

// Failures returns the dispatches that returned an error.
func (r *Report) Failures() []Dispatch {
	return lo.Filter(r.Dispatches, func(d Dispatch, _ int) bool { return !d.OK() })
}

// Updater runs update cycles: resolve the host's addresses, then push every changed record to its provider.
//
// It should be constructed using New.
type Updater struct {
	source    RecordSource
	registry  *Registry
	logger    *zap.Logger
	recurring bool

	// cycleMu is held for the whole of a cycle, so at most one runs at a time.
	cycleMu sync.Mutex
	last    map[Family]lastKnown

	mu         sync.Mutex
	state      State
	timer      *time.Timer
	ctx        context.Context
	started    bool
	stopped    bool
	lastReport *Report
	done       chan struct{}
	doneOnce   sync.Once
}

type Option func(*Updater) error

// WithLogger sets the logger used for cycle events. A nil logger discards them.
func WithLogger(logger *zap.Logger) Option {
	return func(u *Updater) error {
		if logger == nil {
			logger = zap.NewNop()
		}
		u.logger = logger
		return nil
	}
}

// Recurring makes Start reschedule a new cycle after each one completes,
// waiting the source's poll interval in between.
// Without it, Start runs exactly one cycle and the updater stops.
func Recurring() Option {
	return func(u *Updater) error {
		u.recurring = true
		return nil
	}
}

func New(source RecordSource, registry *Registry, options ...Option) (*Updater, error) {
	if source == nil {
		return nil, fmt.Errorf("ddns.New: record source cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("ddns.New: registry cannot be nil")
	}
	u := &Updater{
		source:   source,
		registry: registry,
		logger:   zap.NewNop(),
		last:     map[Family]lastKnown{IPv4: {}, IPv6: {}},
		done:     make(chan struct{}),
	}
	for i, opt := range options {
		if err := opt(u); err != nil {
			return nil, fmt.Errorf("ddns.New: option %d returned an error: %s", i, err)
		}
	}
	return u, nil
}

// State returns the current operating state.
func (u *Updater) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// LastReport returns the report of the most recent completed cycle, or nil.
func (u *Updater) LastReport() *Report {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastReport
}

// Done is closed once the updater has stopped.
func (u *Updater) Done() <-chan struct{} {
	return u.done
}

// RunOnce runs a single cycle now, waiting for any cycle already in flight to finish first.
//
// Resolver and provider failures are recorded in the report and never returned as an error;
// the only error is ctx's when it is already done.
func (u *Updater) RunOnce(ctx context.Context) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u.cycleMu.Lock()
	defer u.cycleMu.Unlock()
	return u.cycle(ctx), nil
}

// RunRecord resolves the family of record and dispatches only that record, regardless of
// whether the address changed. The record does not need to be enabled or stored.
// Last-known addresses are left untouched.
func (u *Updater) RunRecord(ctx context.Context, record Record) (*Report, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}
	u.cycleMu.Lock()
	defer u.cycleMu.Unlock()

	report := &Report{ID: uuid.NewString(), Started: time.Now()}
	logger := u.logger.With(zap.String("cycle", report.ID), zap.Stringer("record", record))

	report.Resolution = NewChain(u.registry, logger).Resolve(ctx, SetOf(record.Family), u.source.ResolverPriority())
	report.Finished = time.Now()
	if !report.Resolution.Has(record.Family) {
		return report, fmt.Errorf("%w for %s", ErrNoAddress, record.Family)
	}
	report.Changed = SetOf(record.Family)

	d := u.dispatch(ctx, logger, record, report.Resolution.Addresses)
	report.Dispatches = []Dispatch{d}
	report.Finished = time.Now()
	return report, d.Err
}

func (u *Updater) cycle(ctx context.Context) *Report {
	report := &Report{ID: uuid.NewString(), Started: time.Now()}
	logger := u.logger.With(zap.String("cycle", report.ID))

	records := lo.Filter(u.source.EnabledRecords(), func(r Record, _ int) bool { return r.Enabled })
	need := neededFamilies(records)
	logger.Info("update cycle started", zap.Int("records", len(records)), zap.Stringer("need", need))

	u.setState(StateResolving)
	report.Resolution = NewChain(u.registry, logger).Resolve(ctx, need, u.source.ResolverPriority())
	report.Changed = u.diff(logger, report.Resolution.Addresses)

	u.setState(StateDispatching)
	for _, r := range records {
		if !report.Changed.Has(r.Family) {
			continue
		}
		report.Dispatches = append(report.Dispatches, u.dispatch(ctx, logger, r, report.Resolution.Addresses))
	}
	report.Finished = time.Now()

	logger.Info("update cycle finished",
		zap.Stringer("addresses", report.Resolution.Addresses),
		zap.Stringer("changed", report.Changed),
		zap.Int("dispatched", len(report.Dispatches)),
		zap.Int("failed", len(report.Failures())),
		zap.Duration("took", report.Finished.Sub(report.Started)),
	)
	cycleCount.Inc()
	lastCycleTimestamp.Set(float64(report.Finished.Unix()))

	u.mu.Lock()
	u.lastReport = report
	switch {
	case u.stopped:
	case u.timer != nil:
		u.state = StateScheduled
	default:
		u.state = StateIdle
	}
	u.mu.Unlock()
	return report
}

// diff compares addrs with the previous cycle's addresses and replaces them.
// A family counts as changed only when it now has an address that differs from the last known one;
// a family without an answer becomes unresolved, so its next answer is always dispatched.
func (u *Updater) diff(logger *zap.Logger, addrs Addresses) FamilySet {
	var changed FamilySet
	for _, f := range Families {
		now := addrs.Get(f)
		prev := u.last[f]
		if !now.IsValid() {
			u.last[f] = lastKnown{state: addrUnresolved}
			continue
		}
		if prev.state != addrResolved || prev.addr != now {
			changed = changed.With(f)
			logger.Debug("address changed", zap.Stringer("family", f), zap.Stringer("from", prev), zap.Stringer("to", now))
		}
		u.last[f] = lastKnown{state: addrResolved, addr: now}
	}
	return changed
}

func (k lastKnown) String() string {
	switch k.state {
	case addrUnknown:
		return "unknown"
	case addrUnresolved:
		return "unresolved"
	}
	return k.addr.String()
}

func (u *Updater) dispatch(ctx context.Context, logger *zap.Logger, record Record, addrs Addresses) (d Dispatch) {
	d.Record = record
	logger = logger.With(zap.String("provider", record.Provider), zap.String("record", record.Name), zap.Stringer("family", record.Family))

	p, ok := u.registry.Provider(record.Provider)
	if !ok {
		d.Err = fmt.Errorf("%w: %s", ErrUnknownProvider, record.Provider)
		logger.Error("unable to update DNS", zap.Error(d.Err))
		dispatchCount.WithLabelValues(record.Provider, "unknown_provider").Inc()
		return d
	}

	// a panicking plugin is reported like any other failed record
	defer func() {
		if v := recover(); v != nil {
			d.Err = fmt.Errorf("provider %s panicked: %v", record.Provider, v)
			logger.Error("unable to update DNS", zap.Error(d.Err))
			dispatchCount.WithLabelValues(record.Provider, "error").Inc()
		}
	}()

	if err := p.Update(ctx, record, addrs); err != nil {
		d.Err = err
		logger.Error("unable to update DNS", zap.Error(err))
		dispatchCount.WithLabelValues(record.Provider, "error").Inc()
		return d
	}
	logger.Info("record updated", zap.Stringer("address", addrs.Get(record.Family)))
	dispatchCount.WithLabelValues(record.Provider, "ok").Inc()
	return d
}

func neededFamilies(records []Record) FamilySet {
	return lo.Reduce(records, func(need FamilySet, r Record, _ int) FamilySet {
		return need.With(r.Family)
	}, NoFamilies)
}

// Start begins running cycles in the background, the first one immediately.
//
// In recurring mode the next cycle is scheduled only after the previous one has finished,
// so slow cycles never overlap. Otherwise the updater stops after its one cycle.
// Cancelling ctx stops the updater as Stop does. Cycles run with ctx's values but not its
// cancellation, so calls already in progress are never interrupted.
func (u *Updater) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped {
		return ErrStopped
	}
	if u.started {
		return fmt.Errorf("ddns.Updater.Start: already started")
	}
	u.started = true
	u.ctx = context.WithoutCancel(ctx)
	context.AfterFunc(ctx, u.Stop)
	go u.tick()
	return nil
}

func (u *Updater) tick() {
	u.cycleMu.Lock()
	u.mu.Lock()
	if u.stopped {
		u.mu.Unlock()
		u.cycleMu.Unlock()
		return
	}
	u.timer = nil
	ctx := u.ctx
	u.mu.Unlock()

	u.cycle(ctx)
	u.cycleMu.Unlock()

	if !u.recurring {
		u.Stop()
		return
	}
	u.schedule()
}

func (u *Updater) schedule() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped {
		return
	}
	interval := u.source.PollInterval()
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	u.timer = time.AfterFunc(interval, u.tick)
	u.state = StateScheduled
	u.logger.Debug("next update scheduled", zap.Duration("in", interval))
}

// Stop cancels any pending cycle and waits for a cycle already in flight to finish.
// In-flight resolver and provider calls are not interrupted.
// RunOnce and RunRecord keep working after Stop.
func (u *Updater) Stop() {
	u.mu.Lock()
	u.stopped = true
	if u.timer != nil {
		u.timer.Stop()
		u.timer = nil
	}
	u.mu.Unlock()

	u.cycleMu.Lock()
	u.mu.Lock()
	u.state = StateStopped
	u.mu.Unlock()
	u.cycleMu.Unlock()

	u.doneOnce.Do(func() {
		u.logger.Info("updater stopped")
		close(u.done)
	})
}

func (u *Updater) setState(s State) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.stopped {
		u.state = s
	}
}
