// Tailnet Monitor
//
// tailnetmon polls the Tailscale API for one or more tailnets, tracks the
// online state of every device and publishes transitions (device joined,
// left, online, offline, reconnected) to MQTT, InfluxDB and WebSocket
// clients.
//
// Usage:
//
//	tailnetmon                        run the service
//	tailnetmon token <subject> [role] print an API bearer token
//	tailnetmon migrate status|up|down [n]
//	                                  inspect or move the database schema
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	_ "github.com/nerrad567/tailnet-monitor/migrations"

	"github.com/nerrad567/tailnet-monitor/internal/api"
	"github.com/nerrad567/tailnet-monitor/internal/audit"
	"github.com/nerrad567/tailnet-monitor/internal/auth"
	"github.com/nerrad567/tailnet-monitor/internal/entity"
	"github.com/nerrad567/tailnet-monitor/internal/infrastructure/config"
	"github.com/nerrad567/tailnet-monitor/internal/infrastructure/database"
	"github.com/nerrad567/tailnet-monitor/internal/infrastructure/influxdb"
	"github.com/nerrad567/tailnet-monitor/internal/infrastructure/logging"
	"github.com/nerrad567/tailnet-monitor/internal/infrastructure/mqtt"
	"github.com/nerrad567/tailnet-monitor/internal/notify"
	"github.com/nerrad567/tailnet-monitor/internal/pairing"
	"github.com/nerrad567/tailnet-monitor/internal/supervisor"
	"github.com/nerrad567/tailnet-monitor/internal/tailscale"
	"github.com/nerrad567/tailnet-monitor/internal/tracker"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Stdout, os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err := runMigrate(ctx, os.Stdout, os.Args[2:])
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup wiring reads top to bottom
	log := logging.Default()
	log.Info("starting tailnet monitor",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.OpenMigrated(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", cfg.Database.Path)

	repo := entity.NewSQLiteRepository(db.DB)
	if seedErr := seedEntities(ctx, repo, cfg.Entities, log); seedErr != nil {
		return fmt.Errorf("seeding entities: %w", seedErr)
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	pruneAuditLog(ctx, auditRepo, cfg.Database.AuditRetentionDays, time.Now(), log)

	registry := entity.NewRegistry()
	registry.SetLogger(log.With("component", "registry"))

	hub := api.NewHub(cfg.WebSocket, log.With("component", "websocket"))
	go hub.Run(ctx)

	sinks := notify.Multi{
		notify.NewLogSink(log.With("component", "events")),
		notify.NewHubSink(hub),
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, log.With("component", "mqtt"))
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		registry.SetPublisher(mqttClient)
		sinks = append(sinks, notify.NewMQTTSink(mqttClient))
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		sinks = append(sinks, notify.NewInfluxSink(influxClient))
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	clientCfg := tailscale.ClientConfig{
		BaseURL: cfg.Tailscale.BaseURL,
		Timeout: cfg.Tailscale.RequestTimeout,
	}

	sup, err := supervisor.New(supervisor.Config{
		Repository:   repo,
		State:        registry,
		Sink:         sinks,
		Settings:     pollSettings(cfg.Poller),
		ClientConfig: clientCfg,
		Logger:       log.With("component", "supervisor"),
	})
	if err != nil {
		return fmt.Errorf("creating supervisor: %w", err)
	}
	defer sup.StopAll()

	if loadErr := sup.Load(ctx); loadErr != nil {
		// Entities that failed to start are logged; the rest keep running.
		log.Warn("some entities failed to start", "error", loadErr)
	}
	log.Info("pollers started", "entities", len(sup.Entities()))

	if mqttClient != nil {
		if subErr := sup.SubscribeRefresh(mqttClient, mqttClient.QoS()); subErr != nil {
			return fmt.Errorf("subscribing to refresh commands: %w", subErr)
		}
	}

	pairer, err := pairing.NewService(pairing.Config{
		Repository: repo,
		NewClient: func(creds tailscale.Credentials) pairing.API {
			return tailscale.NewClient(creds, clientCfg)
		},
		OnPaired: sup.Add,
		Logger:   log.With("component", "pairing"),
	})
	if err != nil {
		return fmt.Errorf("creating pairing service: %w", err)
	}

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Entities: sup,
		State:    registry,
		Pairing:  pairer,
		DB:       db.DB,
		Audit:    auditRepo,
		Hub:      hub,
		Version:  version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if influxClient != nil {
		deps.EventLog = influxClient
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	go watchReload(ctx, configPath, sup, log)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API server, pollers, InfluxDB, MQTT, database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TAILNETMON_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TAILNETMON_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// pollSettings converts the poller config section.
func pollSettings(cfg config.PollerConfig) tracker.PollSettings {
	return tracker.PollSettings{
		Interval:              cfg.Interval,
		MaxConsecutiveErrors:  cfg.MaxConsecutiveErrors,
		OnlineThreshold:       cfg.OnlineThreshold,
		ReconnectThreshold:    cfg.ReconnectThreshold,
		EvictAfterMissedPolls: cfg.EvictAfterMissedPolls,
	}
}

// seedEntities creates config-declared entities that are not stored yet.
// Existing entities are left alone so renames made through the API stick.
func seedEntities(ctx context.Context, repo entity.Repository, seeds []config.EntitySeed, log *logging.Logger) error {
	for _, seed := range seeds {
		_, err := repo.GetByID(ctx, seed.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, entity.ErrEntityNotFound) {
			return fmt.Errorf("looking up %s: %w", seed.ID, err)
		}

		apiKey := seed.APIKey()
		if apiKey == "" {
			log.Warn("skipping entity seed without API key",
				"entity_id", seed.ID,
				"api_key_env", seed.APIKeyEnv,
			)
			continue
		}

		name := seed.Name
		if name == "" {
			name = seed.ID
		}
		e := &entity.Entity{
			ID:        seed.ID,
			Kind:      tracker.Kind(seed.Kind),
			Name:      name,
			TailnetID: seed.TailnetID,
			NodeID:    seed.NodeID,
			APIKey:    apiKey,
		}
		if err := repo.Create(ctx, e); err != nil {
			return fmt.Errorf("creating %s: %w", seed.ID, err)
		}
		log.Info("entity seeded from config", "entity_id", e.ID, "kind", e.Kind, "key", logging.Redact(apiKey))
	}
	return nil
}

// watchReload re-reads the poller section on SIGHUP and applies it to every
// running poller.
func watchReload(ctx context.Context, configPath string, sup *supervisor.Supervisor, log *logging.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.Load(configPath)
			if err != nil {
				log.Error("config reload failed", "path", configPath, "error", err)
				continue
			}
			sup.Reconfigure(pollSettings(cfg.Poller))
			log.Info("poller settings reloaded",
				"interval", cfg.Poller.Interval,
				"max_consecutive_errors", cfg.Poller.MaxConsecutiveErrors,
			)
		}
	}
}

// pruneAuditLog drops audit entries older than the retention window.
// A failure is logged and startup continues.
func pruneAuditLog(ctx context.Context, repo audit.Repository, retentionDays int, now time.Time, log *logging.Logger) {
	if retentionDays <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -retentionDays)
	n, err := repo.Prune(ctx, cutoff)
	if err != nil {
		log.Warn("pruning audit log failed", "error", err)
		return
	}
	if n > 0 {
		log.Info("audit log pruned", "removed", n, "before", cutoff.Format(time.RFC3339))
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// runToken prints a signed bearer token for the HTTP API.
//
//	tailnetmon token <subject> [role]
func runToken(out io.Writer, args []string) error {
	if len(args) < 1 || args[0] == "" {
		return errors.New("usage: tailnetmon token <subject> [viewer|admin]")
	}
	role := auth.RoleViewer
	if len(args) > 1 {
		role = auth.Role(args[1])
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ttl := auth.DefaultTokenTTL
	if cfg.Security.JWT.AccessTokenTTL > 0 {
		ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	}

	token, err := auth.GenerateToken(args[0], role, cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}

const migrateUsage = "usage: tailnetmon migrate status|up|down [steps]"

// runMigrate drives the schema without starting the service.
//
//	tailnetmon migrate status      list versions and whether each is applied
//	tailnetmon migrate up          apply pending versions
//	tailnetmon migrate down [n]    revert the newest n versions (default 1)
func runMigrate(ctx context.Context, out io.Writer, args []string) error {
	if len(args) < 1 {
		return errors.New(migrateUsage)
	}

	steps := 1
	switch {
	case args[0] == "down" && len(args) == 2:
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid steps %q: %s", args[1], migrateUsage)
		}
		steps = n
	case len(args) != 1:
		return errors.New(migrateUsage)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // Read-mostly CLI path

	switch args[0] {
	case "status":
		status, err := db.MigrationStatus(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tNAME\tSTATE\tAPPLIED AT")
		for _, s := range status {
			state, at := "pending", "-"
			if s.Applied {
				state, at = "applied", s.AppliedAt.Format(time.RFC3339)
			}
			if s.Orphaned {
				state = "unknown"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Version, s.Name, state, at)
		}
		return tw.Flush()

	case "up":
		n, err := db.Migrate(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "applied %d migration(s)\n", n)
		return nil

	case "down":
		reverted, err := db.Rollback(ctx, steps)
		for _, v := range reverted {
			fmt.Fprintf(out, "reverted %s\n", v)
		}
		if err != nil {
			return err
		}
		if len(reverted) == 0 {
			fmt.Fprintln(out, "nothing to revert")
		}
		return nil

	default:
		return errors.New(migrateUsage)
	}
}
