package ddns_test

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Travis-Britz/ddns/v2"
)

type update struct {
	Record ddns.Record
	Addr   netip.Addr
}

// recordingProvider remembers every update it was handed.
type recordingProvider struct {
	mu      sync.Mutex
	updates []update
	fail    func(ddns.Record) error
}

func (p *recordingProvider) Update(_ context.Context, record ddns.Record, addrs ddns.Addresses) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, update{Record: record, Addr: addrs.Get(record.Family)})
	if p.fail != nil {
		return p.fail(record)
	}
	return nil
}

func (p *recordingProvider) Updates() []update {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]update(nil), p.updates...)
}

// staticSource is a RecordSource with fixed contents.
type staticSource struct {
	records   []ddns.Record
	resolvers []string
	interval  time.Duration
}

func (s staticSource) EnabledRecords() []ddns.Record {
	var out []ddns.Record
	for _, r := range s.records {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}
func (s staticSource) ResolverPriority() []string  { return s.resolvers }
func (s staticSource) PollInterval() time.Duration { return s.interval }

// switchResolver answers with whatever was set last.
type switchResolver struct {
	mu    sync.Mutex
	addrs ddns.Addresses
	err   error
	calls int
}

func (r *switchResolver) Families() ddns.FamilySet { return ddns.BothFamilies }

func (r *switchResolver) Resolve(context.Context) (ddns.Addresses, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.addrs, r.err
}

func (r *switchResolver) set(a ddns.Addresses, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addrs, r.err = a, err
}

func (r *switchResolver) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func hostRecord(provider, name string, f ddns.Family) ddns.Record {
	return ddns.Record{Provider: provider, Name: name, Family: f, TTL: 300, Enabled: true}
}

func TestUpdaterDispatchesOnlyChanges(t *testing.T) {
	res := &switchResolver{addrs: addrs("5.6.7.8", "")}
	provA := &recordingProvider{}
	reg := registryWith(t, map[string]ddns.Resolver{"r": res}, map[string]ddns.Provider{"provA": provA})
	src := staticSource{records: []ddns.Record{hostRecord("provA", "host.example.com", ddns.IPv4)}, resolvers: []string{"r"}}

	u, err := ddns.New(src, reg, ddns.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	report, err := u.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ddns.SetOf(ddns.IPv4), report.Changed)
	require.Len(t, provA.Updates(), 1)
	assert.Equal(t, netip.MustParseAddr("5.6.7.8"), provA.Updates()[0].Addr)

	report, err = u.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Changed.Empty())
	assert.Empty(t, report.Dispatches)
	assert.Len(t, provA.Updates(), 1, "an unchanged address is not dispatched again")

	res.set(addrs("5.6.7.9", ""), nil)
	_, err = u.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, provA.Updates(), 2)
	assert.Equal(t, netip.MustParseAddr("5.6.7.9"), provA.Updates()[1].Addr)
	assert.NotNil(t, u.LastReport())
}

func TestUpdaterResolutionGapForcesDispatch(t *testing.T) {
	res := &switchResolver{addrs: addrs("5.6.7.8", "")}
	prov := &recordingProvider{}
	reg := registryWith(t, map[string]ddns.Resolver{"r": res}, map[string]ddns.Provider{"p": prov})
	src := staticSource{records: []ddns.Record{hostRecord("p", "host.example.com", ddns.IPv4)}, resolvers: []string{"r"}}
	u, err := ddns.New(src, reg)
	require.NoError(t, err)

	_, err = u.RunOnce(context.Background())
	require.NoError(t, err)

	res.set(ddns.Addresses{}, errors.New("offline"))
	report, err := u.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ddns.SetOf(ddns.IPv4), report.Resolution.Missing())
	assert.Empty(t, report.Dispatches, "nothing is dispatched without an address")

	res.set(addrs("5.6.7.8", ""), nil)
	report, err = u.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Dispatches, 1, "the first answer after a gap is dispatched even when it is the same")
	assert.Len(t, prov.Updates(), 2)
}

func TestUpdaterIsolatesFailures(t *testing.T) {
	res := &switchResolver{addrs: addrs("1.2.3.4", "2001:db8::1")}
	prov := &recordingProvider{fail: func(r ddns.Record) error {
		if r.Name == "two.example.com" {
			return errors.New("rejected")
		}
		return nil
	}}
	panicky := ddns.ProviderFunc(func(context.Context, ddns.Record, ddns.Addresses) error {
		panic("boom")
	})
	reg := registryWith(t, map[string]ddns.Resolver{"r": res}, map[string]ddns.Provider{"p": prov, "panicky": panicky})
	src := staticSource{
		records: []ddns.Record{
			hostRecord("p", "one.example.com", ddns.IPv4),
			hostRecord("p", "two.example.com", ddns.IPv4),
			hostRecord("panicky", "boom.example.com", ddns.IPv4),
			hostRecord("nope", "lost.example.com", ddns.IPv6),
			hostRecord("p", "three.example.com", ddns.IPv6),
		},
		resolvers: []string{"r"},
	}
	u, err := ddns.New(src, reg)
	require.NoError(t, err)

	report, err := u.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Dispatches, 5)

	names := []string{}
	for _, up := range prov.Updates() {
		names = append(names, up.Record.Name)
	}
	assert.Equal(t, []string{"one.example.com", "two.example.com", "three.example.com"}, names)

	failures := report.Failures()
	require.Len(t, failures, 3)
	assert.Equal(t, "two.example.com", failures[0].Record.Name)
	assert.EqualError(t, failures[0].Err, "rejected")
	assert.ErrorContains(t, failures[1].Err, "panicked")
	assert.ErrorIs(t, failures[2].Err, ddns.ErrUnknownProvider)
}

func TestUpdaterIgnoresDisabledRecords(t *testing.T) {
	res := &switchResolver{addrs: addrs("1.2.3.4", "2001:db8::1")}
	prov := &recordingProvider{}
	reg := registryWith(t, map[string]ddns.Resolver{"r": res}, map[string]ddns.Provider{"p": prov})
	disabled := hostRecord("p", "off.example.com", ddns.IPv6)
	disabled.Enabled = false
	src := staticSource{records: []ddns.Record{hostRecord("p", "on.example.com", ddns.IPv4), disabled}, resolvers: []string{"r"}}
	u, err := ddns.New(src, reg)
	require.NoError(t, err)

	report, err := u.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ddns.SetOf(ddns.IPv4), report.Resolution.Needed)
	assert.False(t, report.Resolution.Has(ddns.IPv6), "families only needed by disabled records are not resolved")
	require.Len(t, prov.Updates(), 1)
	assert.Equal(t, "on.example.com", prov.Updates()[0].Record.Name)
}

func TestUpdaterNoRecords(t *testing.T) {
	res := &switchResolver{addrs: addrs("1.2.3.4", "")}
	reg := registryWith(t, map[string]ddns.Resolver{"r": res}, nil)
	u, err := ddns.New(staticSource{resolvers: []string{"r"}}, reg)
	require.NoError(t, err)

	report, err := u.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Dispatches)
	assert.Equal(t, 0, res.Calls())
}

func TestUpdaterRunOnceCancelled(t *testing.T) {
	u, err := ddns.New(staticSource{}, ddns.NewRegistry())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = u.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUpdaterRunRecord(t *testing.T) {
	res := &switchResolver{addrs: addrs("1.2.3.4", "")}
	prov := &recordingProvider{}
	reg := registryWith(t, map[string]ddns.Resolver{"r": res}, map[string]ddns.Provider{"p": prov})
	rec := hostRecord("p", "host.example.com", ddns.IPv4)
	u, err := ddns.New(staticSource{records: []ddns.Record{rec}, resolvers: []string{"r"}}, reg)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		report, err := u.RunRecord(context.Background(), rec)
		require.NoError(t, err)
		assert.Len(t, report.Dispatches, 1)
	}
	assert.Len(t, prov.Updates(), 2, "explicit runs always dispatch")

	// last-known addresses were not touched, so a normal cycle still dispatches
	report, err := u.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Dispatches, 1)

	_, err = u.RunRecord(context.Background(), hostRecord("p", "host.example.com", ddns.IPv6))
	assert.ErrorIs(t, err, ddns.ErrNoAddress)

	_, err = u.RunRecord(context.Background(), ddns.Record{Provider: "p", Name: "bad", Family: ddns.IPv4})
	assert.ErrorIs(t, err, ddns.ErrInvalidRecord)
}

func TestUpdaterSingleShotStops(t *testing.T) {
	res := &switchResolver{addrs: addrs("1.2.3.4", "")}
	prov := &recordingProvider{}
	reg := registryWith(t, map[string]ddns.Resolver{"r": res}, map[string]ddns.Provider{"p": prov})
	src := staticSource{records: []ddns.Record{hostRecord("p", "host.example.com", ddns.IPv4)}, resolvers: []string{"r"}}
	u, err := ddns.New(src, reg)
	require.NoError(t, err)

	require.NoError(t, u.Start(context.Background()))
	select {
	case <-u.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("updater did not stop after its single cycle")
	}
	assert.Equal(t, ddns.StateStopped, u.State())
	assert.Len(t, prov.Updates(), 1)
	assert.ErrorIs(t, u.Start(context.Background()), ddns.ErrStopped)
}

func TestUpdaterRecurring(t *testing.T) {
	res := &switchResolver{addrs: addrs("1.2.3.4", "")}
	prov := &recordingProvider{}
	reg := registryWith(t, map[string]ddns.Resolver{"r": res}, map[string]ddns.Provider{"p": prov})
	src := staticSource{
		records:   []ddns.Record{hostRecord("p", "host.example.com", ddns.IPv4)},
		resolvers: []string{"r"},
		interval:  10 * time.Millisecond,
	}
	u, err := ddns.New(src, reg, ddns.Recurring(), ddns.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	require.NoError(t, u.Start(context.Background()))
	assert.Error(t, u.Start(context.Background()), "starting twice fails")
	require.Eventually(t, func() bool { return res.Calls() >= 3 }, 5*time.Second, 5*time.Millisecond)

	u.Stop()
	<-u.Done()
	assert.Equal(t, ddns.StateStopped, u.State())
	calls := res.Calls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, res.Calls(), "no cycle runs after Stop returns")
	assert.Len(t, prov.Updates(), 1, "only the first cycle saw a change")
}

func TestUpdaterStopsWithContext(t *testing.T) {
	res := &switchResolver{addrs: addrs("1.2.3.4", "")}
	reg := registryWith(t, map[string]ddns.Resolver{"r": res}, nil)
	src := staticSource{resolvers: []string{"r"}, interval: time.Hour}
	u, err := ddns.New(src, reg, ddns.Recurring())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, u.Start(ctx))
	cancel()
	select {
	case <-u.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("updater did not stop when its context was cancelled")
	}
}

// gateProvider holds every update until release is closed and remembers
// the context error each update saw when it was let through.
type gateProvider struct {
	entered chan struct{}
	release chan struct{}

	mu   sync.Mutex
	errs []error
}

func newGateProvider() *gateProvider {
	return &gateProvider{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (p *gateProvider) Update(ctx context.Context, _ ddns.Record, _ ddns.Addresses) error {
	select {
	case p.entered <- struct{}{}:
	default:
	}
	<-p.release
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, ctx.Err())
	return ctx.Err()
}

func (p *gateProvider) Errs() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.errs...)
}

func startGated(ctx context.Context, t *testing.T) (*ddns.Updater, *switchResolver, *gateProvider) {
	t.Helper()
	res := &switchResolver{addrs: addrs("1.2.3.4", "")}
	prov := newGateProvider()
	reg := registryWith(t, map[string]ddns.Resolver{"r": res}, map[string]ddns.Provider{"p": prov})
	src := staticSource{
		records:   []ddns.Record{hostRecord("p", "host.example.com", ddns.IPv4)},
		resolvers: []string{"r"},
		interval:  10 * time.Millisecond,
	}
	u, err := ddns.New(src, reg, ddns.Recurring(), ddns.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, u.Start(ctx))

	select {
	case <-prov.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle never reached the provider")
	}
	return u, res, prov
}

func assertStillRunning(t *testing.T, u *ddns.Updater) {
	t.Helper()
	select {
	case <-u.Done():
		t.Fatal("updater reported done while a provider call was in flight")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUpdaterStopWaitsForInFlightCycle(t *testing.T) {
	u, res, prov := startGated(context.Background(), t)

	stopped := make(chan struct{})
	go func() {
		u.Stop()
		close(stopped)
	}()
	assertStillRunning(t, u)

	close(prov.release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the provider call finished")
	}
	<-u.Done()

	assert.Equal(t, []error{nil}, prov.Errs(), "the in-flight update runs to completion")
	assert.Equal(t, ddns.StateStopped, u.State())
	calls := res.Calls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, res.Calls(), "no cycle runs after Stop returns")
}

func TestUpdaterCancelDoesNotInterruptCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	u, res, prov := startGated(ctx, t)

	cancel()
	assertStillRunning(t, u)

	close(prov.release)
	select {
	case <-u.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("updater did not stop once the in-flight cycle finished")
	}

	assert.Equal(t, []error{nil}, prov.Errs(), "cancelling the start context leaves the in-flight update alone")
	require.NotNil(t, u.LastReport())
	assert.Empty(t, u.LastReport().Failures())
	calls := res.Calls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, res.Calls())
}

// slowResolver takes a while to answer and tracks how many calls overlap.
type slowResolver struct {
	active, peak, calls atomic.Int32
}

func (r *slowResolver) Families() ddns.FamilySet { return ddns.BothFamilies }

func (r *slowResolver) Resolve(context.Context) (ddns.Addresses, error) {
	n := r.active.Add(1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	r.active.Add(-1)
	r.calls.Add(1)
	return addrs("1.2.3.4", ""), nil
}

func TestUpdaterCyclesNeverOverlap(t *testing.T) {
	res := &slowResolver{}
	reg := registryWith(t, map[string]ddns.Resolver{"r": res}, map[string]ddns.Provider{"p": &recordingProvider{}})
	src := staticSource{
		records:   []ddns.Record{hostRecord("p", "host.example.com", ddns.IPv4)},
		resolvers: []string{"r"},
		interval:  time.Millisecond,
	}
	u, err := ddns.New(src, reg, ddns.Recurring())
	require.NoError(t, err)
	require.NoError(t, u.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				_, err := u.RunOnce(context.Background())
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.Eventually(t, func() bool { return res.calls.Load() >= 12 }, 5*time.Second, 5*time.Millisecond)
	u.Stop()

	assert.Equal(t, int32(1), res.peak.Load(), "scheduled and on-demand cycles run one at a time")
}

func TestUpdaterRunOnceKeepsSchedule(t *testing.T) {
	res := &switchResolver{addrs: addrs("1.2.3.4", "")}
	reg := registryWith(t, map[string]ddns.Resolver{"r": res}, map[string]ddns.Provider{"p": &recordingProvider{}})
	src := staticSource{
		records:   []ddns.Record{hostRecord("p", "host.example.com", ddns.IPv4)},
		resolvers: []string{"r"},
		interval:  time.Hour,
	}
	u, err := ddns.New(src, reg, ddns.Recurring())
	require.NoError(t, err)
	require.NoError(t, u.Start(context.Background()))
	t.Cleanup(u.Stop)
	require.Eventually(t, func() bool { return u.State() == ddns.StateScheduled }, 5*time.Second, 5*time.Millisecond)

	_, err = u.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ddns.StateScheduled, u.State(), "the pending timer still fires after an on-demand run")
	assert.Equal(t, 2, res.Calls())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := ddns.New(nil, ddns.NewRegistry())
	assert.Error(t, err)
	_, err = ddns.New(staticSource{}, nil)
	assert.Error(t, err)
}
