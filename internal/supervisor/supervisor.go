package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/tailnet-monitor/internal/entity"
	"github.com/nerrad567/tailnet-monitor/internal/infrastructure/mqtt"
	"github.com/nerrad567/tailnet-monitor/internal/tailscale"
	"github.com/nerrad567/tailnet-monitor/internal/tracker"
)

// refreshTimeout bounds a poll triggered by an MQTT refresh command.
const refreshTimeout = 30 * time.Second

// Lifecycle is the part of *tracker.Poller the supervisor drives.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop()
	OnConfigChanged(settings tracker.PollSettings)
	PollNow(ctx context.Context) error
	Snapshot() tracker.Snapshot
}

// TailscaleClient is everything the supervisor and the HTTP API need from
// an entity's Tailscale client. *tailscale.Client satisfies it.
type TailscaleClient interface {
	ListDevices(ctx context.Context) ([]tailscale.DeviceRecord, error)
	GetDevice(ctx context.Context, nodeID string) (*tailscale.DeviceRecord, error)
	DeleteDevice(ctx context.Context, nodeID string) error
	GetDeviceRoutes(ctx context.Context, nodeID string) (*tailscale.Routes, error)
	ListUsers(ctx context.Context) ([]tailscale.User, error)
}

// ClientFactory builds a Tailscale client for an entity's credentials.
type ClientFactory func(creds tailscale.Credentials) TailscaleClient

// StateStore receives availability and capability values and forgets
// removed entities. *entity.Registry satisfies it.
type StateStore interface {
	tracker.Availability
	tracker.CapabilityStore
	Forget(entityID string)
}

// Subscriber is the part of the MQTT client used for refresh commands.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Logger defines the logging interface used by the supervisor and its pollers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config configures a Supervisor.
type Config struct {
	Repository entity.Repository
	State      StateStore
	Sink       tracker.Sink

	// Settings apply to every poller.
	Settings tracker.PollSettings

	// NewClient defaults to tailscale.NewClient with ClientConfig.
	NewClient    ClientFactory
	ClientConfig tailscale.ClientConfig

	// Clock is passed to every poller. Optional.
	Clock tracker.Clock

	Logger Logger
}

type managed struct {
	entity entity.Entity
	client TailscaleClient
	poller Lifecycle
}

// Supervisor runs one poller per entity. All methods are thread-safe.
type Supervisor struct {
	repo      entity.Repository
	state     StateStore
	sink      tracker.Sink
	newClient ClientFactory
	clock     tracker.Clock
	logger    Logger

	mu       sync.RWMutex
	settings tracker.PollSettings
	entities map[string]*managed
}

// New creates a supervisor with no running pollers.
func New(cfg Config) (*Supervisor, error) {
	var errs []error
	if cfg.Repository == nil {
		errs = append(errs, errors.New("repository is required"))
	}
	if cfg.State == nil {
		errs = append(errs, errors.New("state store is required"))
	}
	if cfg.Sink == nil {
		errs = append(errs, errors.New("sink is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	s := &Supervisor{
		repo:      cfg.Repository,
		state:     cfg.State,
		sink:      cfg.Sink,
		newClient: cfg.NewClient,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		settings:  cfg.Settings,
		entities:  make(map[string]*managed),
	}
	if s.newClient == nil {
		clientCfg := cfg.ClientConfig
		s.newClient = func(creds tailscale.Credentials) TailscaleClient {
			return tailscale.NewClient(creds, clientCfg)
		}
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	return s, nil
}

// Load starts a poller for every stored entity. An entity that fails to
// start is logged and skipped; the joined errors are returned.
func (s *Supervisor) Load(ctx context.Context) error {
	entities, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}

	var errs []error
	for i := range entities {
		if err := s.Add(ctx, &entities[i]); err != nil {
			s.logger.Error("failed to start entity", "entity_id", entities[i].ID, "error", err)
			errs = append(errs, fmt.Errorf("entity %s: %w", entities[i].ID, err))
		}
	}

	s.logger.Info("entities loaded", "count", len(entities), "failed", len(errs))
	return errors.Join(errs...)
}

// Add starts polling e. The entity must already be stored.
//
// The poller outlives ctx: it runs until Remove or StopAll.
func (s *Supervisor) Add(ctx context.Context, e *entity.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.entities[e.ID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyManaged, e.ID)
	}
	client := s.newClient(e.Credentials())
	poller, err := s.buildPoller(e, client)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	m := &managed{entity: *e, client: client, poller: poller}
	s.entities[e.ID] = m
	s.mu.Unlock()

	// Start runs the first poll synchronously; keep it outside the lock.
	if err := poller.Start(context.WithoutCancel(ctx)); err != nil {
		s.mu.Lock()
		if s.entities[e.ID] == m {
			delete(s.entities, e.ID)
		}
		s.mu.Unlock()
		return fmt.Errorf("starting poller: %w", err)
	}
	return nil
}

// buildPoller creates the strategy for e's kind and wraps it in a poller.
// Caller holds s.mu.
func (s *Supervisor) buildPoller(e *entity.Entity, client TailscaleClient) (Lifecycle, error) {
	var strategy tracker.Strategy
	switch e.Kind {
	case tracker.KindTailnet:
		strategy = tracker.NewInventoryStrategy(tracker.InventoryConfig{
			Lister:   client,
			Settings: s.settings,
		})
	case tracker.KindDevice:
		strategy = tracker.NewSingleDeviceStrategy(tracker.SingleDeviceConfig{
			Getter:       client,
			NodeID:       e.NodeID,
			Capabilities: s.state,
			Settings:     s.settings,
		})
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", entity.ErrInvalidEntity, e.Kind)
	}

	poller, err := tracker.NewPoller(tracker.Options{
		EntityID:     e.ID,
		Strategy:     strategy,
		Sink:         s.sink,
		Availability: s.state,
		Settings:     s.settings,
		Clock:        s.clock,
		Logger:       s.logger,
	})
	if err != nil {
		return nil, err
	}
	return poller, nil
}

// Remove stops the entity's poller, forgets its runtime state and deletes
// it from the repository. It returns entity.ErrEntityNotFound if the
// entity is neither running nor stored.
func (s *Supervisor) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	m, running := s.entities[id]
	delete(s.entities, id)
	s.mu.Unlock()

	if running {
		m.poller.Stop()
		s.state.Forget(id)
	}

	err := s.repo.Delete(ctx, id)
	if errors.Is(err, entity.ErrEntityNotFound) && running {
		err = nil
	}
	if err != nil {
		return err
	}

	s.logger.Info("entity removed", "entity_id", id)
	return nil
}

// Rename changes the stored and in-memory display name.
func (s *Supervisor) Rename(ctx context.Context, id, name string) (*entity.Entity, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Name = name
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if m, ok := s.entities[id]; ok {
		m.entity.Name = e.Name
		m.entity.UpdatedAt = e.UpdatedAt
	}
	s.mu.Unlock()
	return e, nil
}

// Refresh runs one poll now. It returns tracker.ErrPollInProgress when a
// poll is already running for the entity.
func (s *Supervisor) Refresh(ctx context.Context, id string) error {
	m, err := s.get(id)
	if err != nil {
		return err
	}
	return m.poller.PollNow(ctx)
}

// Snapshot returns the entity's poll snapshot.
func (s *Supervisor) Snapshot(id string) (tracker.Snapshot, error) {
	m, err := s.get(id)
	if err != nil {
		return tracker.Snapshot{}, err
	}
	return m.poller.Snapshot(), nil
}

// Entity returns a copy of a managed entity.
func (s *Supervisor) Entity(id string) (*entity.Entity, error) {
	m, err := s.get(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return m.entity.Copy(), nil
}

// Entities returns copies of every managed entity, sorted by ID.
func (s *Supervisor) Entities() []entity.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.Entity, 0, len(s.entities))
	for _, m := range s.entities {
		out = append(out, m.entity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Client returns the Tailscale client of a managed entity.
func (s *Supervisor) Client(id string) (TailscaleClient, error) {
	m, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return m.client, nil
}

// Reconfigure applies new poll settings to every running poller and to
// pollers started later.
func (s *Supervisor) Reconfigure(settings tracker.PollSettings) {
	s.mu.Lock()
	s.settings = settings
	pollers := make([]Lifecycle, 0, len(s.entities))
	for _, m := range s.entities {
		pollers = append(pollers, m.poller)
	}
	s.mu.Unlock()

	for _, p := range pollers {
		p.OnConfigChanged(settings)
	}
}

// StopAll stops every poller. Stored entities are kept.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	all := s.entities
	s.entities = make(map[string]*managed)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range all {
		wg.Add(1)
		go func(p Lifecycle) {
			defer wg.Done()
			p.Stop()
		}(m.poller)
	}
	wg.Wait()
	s.logger.Info("all pollers stopped", "count", len(all))
}

// SubscribeRefresh listens for tailnetmon/command/{entity}/refresh.
func (s *Supervisor) SubscribeRefresh(sub Subscriber, qos byte) error {
	topic := mqtt.Topics{}.AllRefreshCommands()
	if err := sub.Subscribe(topic, qos, s.handleRefreshCommand); err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	s.logger.Info("listening for refresh commands", "topic", topic)
	return nil
}

func (s *Supervisor) handleRefreshCommand(topic string, _ []byte) error {
	id, ok := mqtt.Topics{}.ParseRefreshCommand(topic)
	if !ok {
		return fmt.Errorf("unexpected refresh topic %q", topic)
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	err := s.Refresh(ctx, id)
	switch {
	case err == nil:
		s.logger.Debug("refresh command handled", "entity_id", id)
		return nil
	case errors.Is(err, tracker.ErrPollInProgress):
		s.logger.Debug("refresh skipped, poll in progress", "entity_id", id)
		return nil
	default:
		return fmt.Errorf("refreshing %s: %w", id, err)
	}
}

func (s *Supervisor) get(id string) (*managed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotManaged, id)
	}
	return m, nil
}
