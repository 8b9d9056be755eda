package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/tailnet-monitor/internal/tailscale"
)

type pollerFixture struct {
	poller *Poller
	lister *fakeLister
	sink   *recordingSink
	avail  *fakeAvailability
	clock  *fakeClock
}

func newPollerFixture(t *testing.T, settings PollSettings) *pollerFixture {
	t.Helper()

	f := &pollerFixture{
		lister: &fakeLister{},
		sink:   &recordingSink{},
		avail:  newFakeAvailability(),
		clock:  newFakeClock(),
	}
	p, err := NewPoller(Options{
		EntityID:     "home",
		Strategy:     NewInventoryStrategy(InventoryConfig{Lister: f.lister, Settings: settings}),
		Sink:         f.sink,
		Availability: f.avail,
		Settings:     settings,
		Clock:        f.clock,
	})
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	t.Cleanup(p.Stop)
	f.poller = p
	return f
}

func TestNewPoller_InvalidOptions(t *testing.T) {
	_, err := NewPoller(Options{})
	if !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("NewPoller() error = %v, want ErrInvalidOptions", err)
	}
}

func TestPoller_FailureEscalation(t *testing.T) {
	f := newPollerFixture(t, PollSettings{})
	ctx := context.Background()
	f.lister.fail(tailscale.ErrServer)

	for i := 1; i <= 2; i++ {
		if err := f.poller.PollNow(ctx); !errors.Is(err, tailscale.ErrServer) {
			t.Fatalf("poll %d error = %v", i, err)
		}
		if !f.avail.isAvailable("home") {
			t.Fatalf("entity unavailable after %d failures", i)
		}
	}

	//nolint:errcheck // Failure is the point
	f.poller.PollNow(ctx)
	if f.avail.isAvailable("home") {
		t.Fatal("entity still available after 3 failures")
	}
	if f.avail.reasons["home"] != UnavailableReason {
		t.Errorf("reason = %q, want %q", f.avail.reasons["home"], UnavailableReason)
	}

	// Further failures do not repeat the transition.
	//nolint:errcheck // Failure is the point
	f.poller.PollNow(ctx)
	if f.avail.setUnavail != 1 {
		t.Errorf("SetUnavailable called %d times, want 1", f.avail.setUnavail)
	}

	f.lister.set(device("n1", "laptop", f.clock.Now(), 0))
	if err := f.poller.PollNow(ctx); err != nil {
		t.Fatalf("PollNow() error = %v", err)
	}
	if !f.avail.isAvailable("home") {
		t.Error("entity not available again after success")
	}
	if snap := f.poller.Snapshot(); snap.ConsecutiveErrors != 0 || !snap.Available {
		t.Errorf("snapshot = %+v, want counter reset and available", snap)
	}
}

func TestPoller_SuccessResetsCounter(t *testing.T) {
	f := newPollerFixture(t, PollSettings{})
	ctx := context.Background()

	steps := []bool{false, false, true, false, false}
	for i, ok := range steps {
		if ok {
			f.lister.set()
		} else {
			f.lister.fail(tailscale.ErrTransport)
		}
		//nolint:errcheck // Outcome checked via availability
		f.poller.PollNow(ctx)
		if !f.avail.isAvailable("home") {
			t.Fatalf("step %d: entity unavailable", i)
		}
	}

	if got := f.poller.Snapshot().ConsecutiveErrors; got != 2 {
		t.Errorf("ConsecutiveErrors = %d, want 2", got)
	}
	if f.avail.setUnavail != 0 {
		t.Errorf("SetUnavailable called %d times, want 0", f.avail.setUnavail)
	}
}

func TestPoller_FirstPollOnlyCompletesOnSuccess(t *testing.T) {
	f := newPollerFixture(t, PollSettings{})
	ctx := context.Background()

	f.lister.fail(tailscale.ErrTransport)
	//nolint:errcheck // Failure is the point
	f.poller.PollNow(ctx)
	if f.poller.Snapshot().FirstPollDone {
		t.Fatal("first poll marked done after a failure")
	}

	f.lister.set(device("n1", "laptop", f.clock.Now(), 0), device("n2", "nas", f.clock.Now(), 0))
	if err := f.poller.PollNow(ctx); err != nil {
		t.Fatalf("PollNow() error = %v", err)
	}
	if events := f.sink.take(); len(events) != 0 {
		t.Fatalf("first successful poll emitted %v", kinds(events))
	}

	f.lister.set(device("n1", "laptop", f.clock.Now(), 0), device("n2", "nas", f.clock.Now(), 0), device("n3", "new", f.clock.Now(), 0))
	if err := f.poller.PollNow(ctx); err != nil {
		t.Fatalf("PollNow() error = %v", err)
	}
	if events := f.sink.take(); len(events) != 1 || events[0].NodeID != "n3" {
		t.Errorf("emitted %+v, want one join for n3", events)
	}
}

func TestPoller_SinkErrorDoesNotAbortCycle(t *testing.T) {
	f := newPollerFixture(t, PollSettings{})
	ctx := context.Background()
	f.sink.failNodes = map[string]bool{"n2": true}

	f.lister.set(device("n1", "laptop", f.clock.Now(), 0))
	if err := f.poller.PollNow(ctx); err != nil {
		t.Fatalf("PollNow() error = %v", err)
	}

	f.lister.set(
		device("n1", "laptop", f.clock.Now(), 0),
		device("n2", "broken", f.clock.Now(), 0),
		device("n3", "fine", f.clock.Now(), 0),
	)
	if err := f.poller.PollNow(ctx); err != nil {
		t.Fatalf("PollNow() error = %v, want nil despite sink failure", err)
	}

	if f.sink.calls != 2 {
		t.Errorf("sink called %d times, want 2", f.sink.calls)
	}
	events := f.sink.take()
	if len(events) != 1 || events[0].NodeID != "n3" {
		t.Errorf("delivered %+v, want the n3 join", events)
	}
	if !f.avail.isAvailable("home") {
		t.Error("sink failure affected availability")
	}
}

// blockingLister blocks inside ListDevices until released.
type blockingLister struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingLister) ListDevices(context.Context) ([]tailscale.DeviceRecord, error) {
	b.entered <- struct{}{}
	<-b.release
	return nil, nil
}

func TestPoller_OverlappingPollSkipped(t *testing.T) {
	lister := &blockingLister{entered: make(chan struct{}, 1), release: make(chan struct{})}
	p, err := NewPoller(Options{
		EntityID:     "home",
		Strategy:     NewInventoryStrategy(InventoryConfig{Lister: lister}),
		Sink:         &recordingSink{},
		Availability: newFakeAvailability(),
	})
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}

	first := make(chan error, 1)
	go func() { first <- p.PollNow(context.Background()) }()

	select {
	case <-lister.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first poll never reached the fetch")
	}

	if err := p.PollNow(context.Background()); !errors.Is(err, ErrPollInProgress) {
		t.Errorf("concurrent PollNow() error = %v, want ErrPollInProgress", err)
	}

	close(lister.release)
	if err := <-first; err != nil {
		t.Errorf("first PollNow() error = %v", err)
	}

	// The guard is released once the cycle finishes.
	go func() { <-lister.entered }()
	if err := p.PollNow(context.Background()); err != nil {
		t.Errorf("PollNow() after completion error = %v", err)
	}
}

func TestPoller_StartStop(t *testing.T) {
	f := newPollerFixture(t, PollSettings{Interval: 10 * time.Millisecond})
	f.lister.set(device("n1", "laptop", f.clock.Now(), 0))

	if err := f.poller.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := f.lister.callCount(); got < 1 {
		t.Fatalf("Start() did not poll immediately (calls = %d)", got)
	}
	if !f.poller.Snapshot().FirstPollDone {
		t.Error("immediate poll did not complete the first poll")
	}
	if f.poller.State() != StatePolling {
		t.Errorf("State() = %v, want polling", f.poller.State())
	}
	if err := f.poller.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.lister.callCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("ticker did not poll (calls = %d)", f.lister.callCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.poller.Stop()
	stoppedAt := f.lister.callCount()
	time.Sleep(50 * time.Millisecond)

	if got := f.lister.callCount(); got != stoppedAt {
		t.Errorf("polled %d more times after Stop", got-stoppedAt)
	}
	if f.poller.State() != StateTerminated {
		t.Errorf("State() = %v, want terminated", f.poller.State())
	}
	if err := f.poller.PollNow(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("PollNow() after Stop error = %v, want ErrStopped", err)
	}
	if err := f.poller.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start() after Stop error = %v, want ErrStopped", err)
	}

	// Idempotent.
	f.poller.Stop()
}

func TestPoller_StartWithFailingFetch(t *testing.T) {
	f := newPollerFixture(t, PollSettings{Interval: time.Hour})
	f.lister.fail(tailscale.ErrAuth)

	if err := f.poller.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v, want nil even when the first poll fails", err)
	}
	snap := f.poller.Snapshot()
	if snap.ConsecutiveErrors != 1 || snap.FirstPollDone {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestPoller_OnConfigChanged(t *testing.T) {
	f := newPollerFixture(t, PollSettings{Interval: time.Hour})
	if err := f.poller.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	before := f.lister.callCount()

	f.poller.OnConfigChanged(PollSettings{Interval: 10 * time.Millisecond, MaxConsecutiveErrors: 1})

	if got := f.poller.Snapshot().Interval; got != 10*time.Millisecond {
		t.Errorf("Interval = %v, want 10ms", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.lister.callCount() <= before {
		if time.Now().After(deadline) {
			t.Fatal("new interval never took effect")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// MaxConsecutiveErrors=1 makes a single failure degrade the entity.
	f.poller.Stop()
	p2 := newPollerFixture(t, PollSettings{})
	p2.poller.OnConfigChanged(PollSettings{MaxConsecutiveErrors: 1})
	p2.lister.fail(tailscale.ErrServer)
	//nolint:errcheck // Failure is the point
	p2.poller.PollNow(context.Background())
	if p2.avail.isAvailable("home") {
		t.Error("entity available after one failure with MaxConsecutiveErrors=1")
	}
}

func TestPoller_Snapshot(t *testing.T) {
	f := newPollerFixture(t, PollSettings{})
	f.lister.set(device("n2", "nas", f.clock.Now(), time.Hour), device("n1", "laptop", f.clock.Now(), 0))

	if err := f.poller.PollNow(context.Background()); err != nil {
		t.Fatalf("PollNow() error = %v", err)
	}

	snap := f.poller.Snapshot()
	if snap.EntityID != "home" || snap.Kind != KindTailnet {
		t.Errorf("snapshot identity = %q/%q", snap.EntityID, snap.Kind)
	}
	if snap.State != StateInitializing {
		t.Errorf("State = %v, want initializing before Start", snap.State)
	}
	if snap.Polls != 1 || snap.Failures != 0 {
		t.Errorf("Polls/Failures = %d/%d", snap.Polls, snap.Failures)
	}
	if !snap.LastSuccess.Equal(baseTime) {
		t.Errorf("LastSuccess = %v, want %v", snap.LastSuccess, baseTime)
	}
	if len(snap.Devices) != 2 || snap.Devices[0].NodeID != "n1" || !snap.Devices[0].Online || snap.Devices[1].Online {
		t.Errorf("Devices = %+v", snap.Devices)
	}

	// Snapshot is a copy.
	snap.Devices[0].Addresses = append(snap.Devices[0].Addresses, "mutated")
	if again := f.poller.Snapshot(); len(again.Devices[0].Addresses) != 0 {
		t.Error("mutating a snapshot changed poller state")
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateInitializing: "initializing",
		StatePolling:      "polling",
		StateTerminated:   "terminated",
		State(9):          "state(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

// gatedGetter blocks inside GetDevice until released or ctx is cancelled.
type gatedGetter struct {
	entered  chan struct{}
	release  chan struct{}
	honorCtx bool
}

func (g *gatedGetter) GetDevice(ctx context.Context, nodeID string) (*tailscale.DeviceRecord, error) {
	g.entered <- struct{}{}
	if g.honorCtx {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		<-g.release
	}
	online := true
	return &tailscale.DeviceRecord{NodeID: nodeID, Hostname: "laptop", Online: &online}, nil
}

func newGatedPoller(t *testing.T, g *gatedGetter, avail *fakeAvailability) *Poller {
	t.Helper()
	p, err := NewPoller(Options{
		EntityID: "laptop",
		Strategy: NewSingleDeviceStrategy(SingleDeviceConfig{
			Getter:       g,
			NodeID:       "n1",
			Capabilities: avail,
		}),
		Sink:         &recordingSink{},
		Availability: avail,
	})
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	return p
}

func TestPoller_StopAbortsInFlightPollNow(t *testing.T) {
	g := &gatedGetter{entered: make(chan struct{}, 1), release: make(chan struct{}), honorCtx: true}
	avail := newFakeAvailability()
	p := newGatedPoller(t, g, avail)

	result := make(chan error, 1)
	go func() { result <- p.PollNow(context.Background()) }()
	select {
	case <-g.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh never reached the fetch")
	}

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not abort the in-flight fetch")
	}

	if err := <-result; !errors.Is(err, ErrStopped) {
		t.Errorf("PollNow() error = %v, want ErrStopped", err)
	}
	close(g.release)
	if v := avail.capValue("laptop", CapabilityOnOff); v != nil {
		t.Errorf("onoff = %v after Stop, want unset", v)
	}
}

func TestPoller_StopWaitsForRunningCycle(t *testing.T) {
	g := &gatedGetter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	avail := newFakeAvailability()
	p := newGatedPoller(t, g, avail)

	result := make(chan error, 1)
	go func() { result <- p.PollNow(context.Background()) }()
	<-g.entered

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop() returned while a cycle was still fetching")
	case <-time.After(50 * time.Millisecond):
	}

	close(g.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return after the fetch finished")
	}
	if err := <-result; !errors.Is(err, ErrStopped) {
		t.Errorf("PollNow() error = %v, want ErrStopped", err)
	}

	// Whatever the cycle wrote happened before Stop returned.
	before := avail.capValue("laptop", CapabilityOnOff)
	time.Sleep(20 * time.Millisecond)
	if after := avail.capValue("laptop", CapabilityOnOff); after != before {
		t.Errorf("onoff changed after Stop: %v -> %v", before, after)
	}
}

func TestPoller_OnConfigChangedAfterStop(t *testing.T) {
	f := newPollerFixture(t, PollSettings{Interval: time.Hour})
	if err := f.poller.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.poller.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			f.poller.OnConfigChanged(PollSettings{Interval: time.Duration(i+1) * time.Minute})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConfigChanged blocked after Stop")
	}
}

func TestPoller_OnConfigChangedConcurrent(t *testing.T) {
	f := newPollerFixture(t, PollSettings{Interval: time.Hour})

	// Not started, so nothing drains the reset channel.
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			f.poller.OnConfigChanged(PollSettings{Interval: time.Duration(i+2) * time.Minute})
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 8; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("concurrent OnConfigChanged blocked")
		}
	}
}
