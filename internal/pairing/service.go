package pairing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/tailnet-monitor/internal/entity"
	"github.com/nerrad567/tailnet-monitor/internal/tailscale"
	"github.com/nerrad567/tailnet-monitor/internal/tracker"
)

// API is the part of the Tailscale client used during pairing.
type API interface {
	Validate(ctx context.Context) bool
	ListDevices(ctx context.Context) ([]tailscale.DeviceRecord, error)
	GetDevice(ctx context.Context, nodeID string) (*tailscale.DeviceRecord, error)
}

// ClientFactory builds an API client for a set of credentials.
type ClientFactory func(creds tailscale.Credentials) API

// Logger is the logging interface used by the Service.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Config configures a Service.
type Config struct {
	// Repository stores paired entities. Required.
	Repository entity.Repository

	// NewClient defaults to tailscale.NewClient with ClientConfig.
	NewClient ClientFactory

	// ClientConfig is used by the default NewClient.
	ClientConfig tailscale.ClientConfig

	// OnPaired runs after the entity is stored. If it fails the entity is
	// deleted again and Pair returns the error.
	OnPaired func(ctx context.Context, e *entity.Entity) error

	Logger Logger
}

// Request describes the entity to create.
type Request struct {
	// ID defaults to a slug of the tailnet (tailnet kind) or node ID.
	ID string `json:"id,omitempty"`

	Kind      tracker.Kind `json:"kind"`
	Name      string       `json:"name,omitempty"`
	TailnetID string       `json:"tailnet_id"`
	APIKey    string       `json:"api_key"`

	// NodeID is required for the device kind.
	NodeID string `json:"node_id,omitempty"`
}

// Credentials returns the request's Tailscale credentials.
func (r Request) Credentials() tailscale.Credentials {
	return tailscale.Credentials{TailnetID: r.TailnetID, APIKey: r.APIKey}
}

// Candidate is something the user can pair.
type Candidate struct {
	ID       string       `json:"id"`
	Kind     tracker.Kind `json:"kind"`
	Name     string       `json:"name"`
	NodeID   string       `json:"node_id,omitempty"`
	Hostname string       `json:"hostname,omitempty"`
	IPv4     string       `json:"ipv4,omitempty"`
	IPv6     string       `json:"ipv6,omitempty"`
}

// Service runs the pairing flow.
type Service struct {
	repo      entity.Repository
	newClient ClientFactory
	onPaired  func(ctx context.Context, e *entity.Entity) error
	logger    Logger
}

// NewService creates a pairing service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("%w: repository is required", ErrInvalidRequest)
	}

	s := &Service{
		repo:      cfg.Repository,
		newClient: cfg.NewClient,
		onPaired:  cfg.OnPaired,
		logger:    cfg.Logger,
	}
	if s.newClient == nil {
		clientCfg := cfg.ClientConfig
		s.newClient = func(creds tailscale.Credentials) API {
			return tailscale.NewClient(creds, clientCfg)
		}
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	return s, nil
}

// Validate checks the credentials against the live API.
func (s *Service) Validate(ctx context.Context, creds tailscale.Credentials) error {
	if !creds.Valid() {
		return fmt.Errorf("%w: tailnet and api key are required", ErrValidation)
	}
	if !s.newClient(creds).Validate(ctx) {
		s.logger.Warn("pairing credentials rejected", "tailnet", creds.TailnetID)
		return fmt.Errorf("%w: %s", ErrValidation, creds)
	}
	return nil
}

// ListCandidates returns what can be paired for kind. A tailnet has one
// candidate, the tailnet itself; the device kind lists every device.
func (s *Service) ListCandidates(ctx context.Context, creds tailscale.Credentials, kind tracker.Kind) ([]Candidate, error) {
	switch kind {
	case tracker.KindTailnet:
		if err := s.Validate(ctx, creds); err != nil {
			return nil, err
		}
		return []Candidate{{
			ID:   tailnetEntityID(creds.TailnetID),
			Kind: tracker.KindTailnet,
			Name: tailnetName(creds.TailnetID),
		}}, nil

	case tracker.KindDevice:
		if !creds.Valid() {
			return nil, fmt.Errorf("%w: tailnet and api key are required", ErrValidation)
		}
		devices, err := s.newClient(creds).ListDevices(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		candidates := make([]Candidate, 0, len(devices))
		for _, d := range devices {
			candidates = append(candidates, deviceCandidate(d))
		}
		return candidates, nil

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, kind)
	}
}

// Pair validates the credentials, stores the entity and runs OnPaired.
func (s *Service) Pair(ctx context.Context, req Request) (*entity.Entity, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	}
	if req.Kind == tracker.KindDevice && req.NodeID == "" {
		return nil, fmt.Errorf("%w: node_id is required for a device", ErrInvalidRequest)
	}

	creds := req.Credentials()
	if err := s.Validate(ctx, creds); err != nil {
		return nil, err
	}

	e := &entity.Entity{
		ID:        req.ID,
		Kind:      req.Kind,
		Name:      req.Name,
		TailnetID: req.TailnetID,
		NodeID:    req.NodeID,
		APIKey:    req.APIKey,
	}

	if e.Kind == tracker.KindDevice {
		d, err := s.newClient(creds).GetDevice(ctx, req.NodeID)
		if err != nil {
			return nil, fmt.Errorf("looking up device %s: %w", req.NodeID, err)
		}
		if e.Name == "" {
			e.Name = d.DisplayName()
		}
		if e.ID == "" {
			e.ID = slugOrUUID(req.NodeID)
		}
	} else {
		if e.Name == "" {
			e.Name = tailnetName(req.TailnetID)
		}
		if e.ID == "" {
			e.ID = tailnetEntityID(req.TailnetID)
		}
	}

	if err := s.repo.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("storing entity: %w", err)
	}

	if s.onPaired != nil {
		if err := s.onPaired(ctx, e); err != nil {
			if delErr := s.repo.Delete(ctx, e.ID); delErr != nil && !errors.Is(delErr, entity.ErrEntityNotFound) {
				s.logger.Warn("rolling back paired entity failed", "entity_id", e.ID, "error", delErr)
			}
			return nil, fmt.Errorf("starting entity %s: %w", e.ID, err)
		}
	}

	s.logger.Info("entity paired", "entity_id", e.ID, "kind", string(e.Kind), "tailnet", e.TailnetID)
	return e, nil
}

func tailnetName(tailnetID string) string {
	return "Tailnet: " + tailnetID
}

func tailnetEntityID(tailnetID string) string {
	return slugOrUUID("tailnet_" + tailnetID)
}

func deviceCandidate(d tailscale.DeviceRecord) Candidate {
	c := Candidate{
		ID:       slugOrUUID(d.Key()),
		Kind:     tracker.KindDevice,
		Name:     d.DisplayName(),
		NodeID:   d.Key(),
		Hostname: d.Hostname,
	}
	for _, addr := range d.Addresses {
		switch {
		case c.IPv4 == "" && strings.Contains(addr, "."):
			c.IPv4 = addr
		case c.IPv6 == "" && strings.Contains(addr, ":"):
			c.IPv6 = addr
		}
	}
	return c
}

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9_-]+`)
	slugValid   = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
)

// slugOrUUID lower-cases s and replaces anything outside [a-z0-9_-] with
// '-'. A result that is still not a valid entity ID becomes a UUID.
func slugOrUUID(s string) string {
	slug := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if slugValid.MatchString(slug) {
		return slug
	}
	return uuid.NewString()
}
