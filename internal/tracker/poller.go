package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a Poller.
type State int

// Poller states.
const (
	StateInitializing State = iota
	StatePolling
	StateTerminated
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StatePolling:
		return "polling"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Availability receives the entity's availability transitions.
type Availability interface {
	SetAvailable(entityID string)
	SetUnavailable(entityID, reason string)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Logger is the logging interface used by the tracker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Poller.
type Options struct {
	// EntityID identifies the tracked entity in events and availability.
	EntityID string

	// Strategy fetches and diffs. Required.
	Strategy Strategy

	// Sink receives detected events. Required.
	Sink Sink

	// Availability receives available/unavailable transitions. Required.
	Availability Availability

	// Settings are the initial tunables; zero fields take defaults.
	Settings PollSettings

	// Clock defaults to the system clock.
	Clock Clock

	// Logger defaults to a no-op logger.
	Logger Logger
}

// Snapshot is a point-in-time copy of a poller's state.
type Snapshot struct {
	EntityID          string        `json:"entity_id"`
	Kind              Kind          `json:"kind"`
	State             State         `json:"state"`
	Available         bool          `json:"available"`
	FirstPollDone     bool          `json:"first_poll_done"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	Polls             uint64        `json:"polls"`
	Failures          uint64        `json:"failures"`
	LastPoll          time.Time     `json:"last_poll,omitempty"`
	LastSuccess       time.Time     `json:"last_success,omitempty"`
	LastError         string        `json:"last_error,omitempty"`
	Interval          time.Duration `json:"interval_ns"`
	Devices           []DeviceState `json:"devices"`
}

// Poller runs the poll cycle for one tracked entity.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Poller struct {
	entityID     string
	strategy     Strategy
	sink         Sink
	availability Availability
	clock        Clock
	logger       Logger

	mu                sync.Mutex
	settings          PollSettings
	state             State
	firstPoll         bool
	unavailable       bool
	consecutiveErrors int
	polls             uint64
	failures          uint64
	lastPoll          time.Time
	lastSuccess       time.Time
	lastError         string

	inFlight atomic.Bool

	// Shutdown coordination (stopOnce prevents double-close panics).
	// wg counts the timer loop and every running cycle; stopCtx aborts
	// fetches started through PollNow.
	cancel   context.CancelFunc
	stopCtx  context.Context
	stopAll  context.CancelFunc
	reset    chan time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPoller creates a poller in the Initializing state.
func NewPoller(opts Options) (*Poller, error) {
	var errs []error
	if opts.EntityID == "" {
		errs = append(errs, errors.New("entity ID is required"))
	}
	if opts.Strategy == nil {
		errs = append(errs, errors.New("strategy is required"))
	}
	if opts.Sink == nil {
		errs = append(errs, errors.New("sink is required"))
	}
	if opts.Availability == nil {
		errs = append(errs, errors.New("availability is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, errors.Join(errs...))
	}

	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	stopCtx, stopAll := context.WithCancel(context.Background())

	return &Poller{
		entityID:     opts.EntityID,
		strategy:     opts.Strategy,
		sink:         opts.Sink,
		availability: opts.Availability,
		clock:        clock,
		logger:       logger,
		settings:     opts.Settings.withDefaults(),
		state:        StateInitializing,
		firstPoll:    true,
		stopCtx:      stopCtx,
		stopAll:      stopAll,
		reset:        make(chan time.Duration, 1),
		done:         make(chan struct{}),
	}, nil
}

// EntityID returns the tracked entity's ID.
func (p *Poller) EntityID() string {
	return p.entityID
}

// Start runs one poll immediately and then polls at the configured
// interval until Stop is called or ctx is cancelled.
//
// A failure of the immediate poll is counted like any other and does not
// prevent the loop from starting.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case StatePolling:
		p.mu.Unlock()
		return ErrAlreadyStarted
	case StateTerminated:
		p.mu.Unlock()
		return ErrStopped
	}
	p.state = StatePolling
	interval := p.settings.Interval
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	p.logger.Info("poller started", "entity_id", p.entityID, "kind", string(p.strategy.Kind()), "interval", interval.String())

	//nolint:errcheck // Outcome is recorded and logged by runCycle
	p.runCycle(loopCtx)

	go p.loop(loopCtx, interval)
	return nil
}

// Stop cancels the timer, aborts any in-flight fetch and waits for the
// loop and every running cycle (timer or PollNow) to exit. Nothing the
// poller writes to its sink, availability or capability stores happens
// after Stop returns. Safe to call multiple times.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.state = StateTerminated
		cancel := p.cancel
		p.mu.Unlock()

		close(p.done)
		if cancel != nil {
			cancel()
		}
		p.stopAll()
		p.wg.Wait()

		p.logger.Info("poller stopped", "entity_id", p.entityID)
	})
}

// PollNow runs one cycle immediately.
// It returns ErrPollInProgress if a cycle is already running.
func (p *Poller) PollNow(ctx context.Context) error {
	return p.runCycle(ctx)
}

// OnConfigChanged applies new settings. A changed interval takes effect
// on the running timer immediately.
func (p *Poller) OnConfigChanged(settings PollSettings) {
	settings = settings.withDefaults()

	p.mu.Lock()
	if p.state == StateTerminated {
		p.mu.Unlock()
		return
	}
	if settings.Interval != p.settings.Interval {
		// Keep only the latest pending interval. The loop only receives,
		// so under mu the buffer is empty after the drain.
		select {
		case <-p.reset:
		default:
		}
		select {
		case p.reset <- settings.Interval:
		default:
		}
	}
	p.settings = settings
	p.mu.Unlock()

	p.strategy.Reconfigure(settings)
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Snapshot returns a copy of the poller's counters and known devices.
func (p *Poller) Snapshot() Snapshot {
	devices := p.strategy.Devices()

	p.mu.Lock()
	defer p.mu.Unlock()

	return Snapshot{
		EntityID:          p.entityID,
		Kind:              p.strategy.Kind(),
		State:             p.state,
		Available:         !p.unavailable,
		FirstPollDone:     !p.firstPoll,
		ConsecutiveErrors: p.consecutiveErrors,
		Polls:             p.polls,
		Failures:          p.failures,
		LastPoll:          p.lastPoll,
		LastSuccess:       p.lastSuccess,
		LastError:         p.lastError,
		Interval:          p.settings.Interval,
		Devices:           devices,
	}
}

// loop runs timer-driven cycles.
func (p *Poller) loop(ctx context.Context, interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case d := <-p.reset:
			ticker.Reset(d)
			p.logger.Debug("poll interval changed", "entity_id", p.entityID, "interval", d.String())
		case <-ticker.C:
			//nolint:errcheck // Outcome is recorded and logged by runCycle
			p.runCycle(ctx)
		}
	}
}

// runCycle performs fetch, diff and emit for one cycle.
func (p *Poller) runCycle(ctx context.Context) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.logger.Debug("poll skipped, previous cycle still running", "entity_id", p.entityID)
		return ErrPollInProgress
	}
	defer p.inFlight.Store(false)

	p.mu.Lock()
	if p.state == StateTerminated {
		p.mu.Unlock()
		return ErrStopped
	}
	// Registered under mu so Stop, which flips the state under mu before
	// waiting, either sees this cycle or prevents it.
	p.wg.Add(1)
	first := p.firstPoll
	p.mu.Unlock()
	defer p.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unhook := context.AfterFunc(p.stopCtx, cancel)
	defer unhook()

	now := p.clock.Now()
	events, err := p.strategy.Poll(ctx, Cycle{EntityID: p.entityID, Now: now, First: first})

	if p.State() == StateTerminated {
		// Stopped while the fetch was in flight; drop the result.
		return ErrStopped
	}

	if err != nil {
		p.recordFailure(now, err)
		return err
	}

	p.recordSuccess(now, len(events))
	p.emit(ctx, events)
	return nil
}

func (p *Poller) recordFailure(now time.Time, err error) {
	p.mu.Lock()
	p.polls++
	p.failures++
	p.consecutiveErrors++
	p.lastPoll = now
	p.lastError = err.Error()
	count := p.consecutiveErrors
	limit := p.settings.MaxConsecutiveErrors
	markUnavailable := count >= limit && !p.unavailable
	if markUnavailable {
		p.unavailable = true
	}
	p.mu.Unlock()

	if markUnavailable {
		p.logger.Error("entity unavailable after consecutive poll failures",
			"entity_id", p.entityID, "consecutive_errors", count, "error", err)
		p.availability.SetUnavailable(p.entityID, UnavailableReason)
		return
	}
	p.logger.Warn("poll failed", "entity_id", p.entityID, "consecutive_errors", count, "max", limit, "error", err)
}

func (p *Poller) recordSuccess(now time.Time, events int) {
	p.mu.Lock()
	p.polls++
	p.consecutiveErrors = 0
	p.lastPoll = now
	p.lastSuccess = now
	p.lastError = ""
	p.firstPoll = false
	recovered := p.unavailable
	p.unavailable = false
	p.mu.Unlock()

	if recovered {
		p.logger.Info("entity available again", "entity_id", p.entityID)
		p.availability.SetAvailable(p.entityID)
	}
	p.logger.Debug("poll complete", "entity_id", p.entityID, "events", events)
}

// emit hands each event to the sink; errors are logged per event.
func (p *Poller) emit(ctx context.Context, events []Event) {
	for _, ev := range events {
		if err := p.sink.Notify(ctx, ev); err != nil {
			p.logger.Error("failed to deliver event",
				"entity_id", p.entityID, "kind", string(ev.Kind), "node_id", ev.NodeID, "error", err)
		}
	}
}
