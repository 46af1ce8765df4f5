// Wagerline Core - device admission and session control for the betting platform.
//
// This is the main entry point. It loads configuration, migrates the store,
// wires the admission engine, request workflow and session handling, and
// serves the HTTP API until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	_ "github.com/wagerline/wagerline-core/migrations"

	"github.com/wagerline/wagerline-core/internal/admission"
	"github.com/wagerline/wagerline-core/internal/api"
	"github.com/wagerline/wagerline-core/internal/auth"
	"github.com/wagerline/wagerline-core/internal/devicerequest"
	"github.com/wagerline/wagerline-core/internal/infrastructure/config"
	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
	"github.com/wagerline/wagerline-core/internal/infrastructure/ephemeral"
	"github.com/wagerline/wagerline-core/internal/infrastructure/influxdb"
	"github.com/wagerline/wagerline-core/internal/infrastructure/logging"
	"github.com/wagerline/wagerline-core/internal/infrastructure/mqtt"
	"github.com/wagerline/wagerline-core/internal/session"
	"github.com/wagerline/wagerline-core/internal/tier"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// options are the command-line switches.
type options struct {
	configPath  string
	migrateDown bool
	showVersion bool
}

func main() {
	opts := parseFlags(os.Args[1:])
	if opts.showVersion {
		fmt.Printf("wagerline %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) options {
	fsFlags := flag.NewFlagSet("wagerline", flag.ExitOnError)
	var opts options
	fsFlags.StringVar(&opts.configPath, "config", "", "path to config.yaml (default $WAGERLINE_CONFIG or "+defaultConfigPath+")")
	fsFlags.BoolVar(&opts.migrateDown, "migrate-down", false, "roll back the most recent migration and exit")
	fsFlags.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	_ = fsFlags.Parse(args) //nolint:errcheck // ExitOnError exits on failure
	return opts
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context, opts options) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting Wagerline Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// A .env file is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("could not load .env file", "error", err)
	}

	configPath := getConfigPath(opts)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version).With("service_id", cfg.Service.ID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(database.Config{
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
	log.Info("database connected", "path", cfg.Database.Path)

	if opts.migrateDown {
		if downErr := db.MigrateDown(ctx); downErr != nil {
			return fmt.Errorf("rolling back migration: %w", downErr)
		}
		log.Info("rolled back most recent migration")
		return nil
	}

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	accounts := auth.NewAccountRepository(db)
	if _, seedErr := auth.SeedAdmin(ctx, accounts, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin account: %w", seedErr)
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled, domain events stay in-process")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	tickets, err := ephemeral.New(cfg.Ephemeral, cfg.Redis)
	if err != nil {
		return fmt.Errorf("opening ticket store: %w", err)
	}
	defer func() {
		if closeErr := tickets.Close(); closeErr != nil {
			log.Error("error closing ticket store", "error", closeErr)
		}
	}()
	if mem, ok := tickets.(*ephemeral.MemoryStore); ok {
		go mem.Run(ctx, cfg.Ephemeral.SweepEvery())
	}
	log.Info("ticket store ready", "backend", cfg.Ephemeral.Backend)

	limits := tier.Limits{
		Premium:     cfg.Admission.PremiumMaxDevices,
		PremiumPlus: cfg.Admission.PremiumPlusMaxDevices,
	}
	storeTimeout := cfg.Admission.StoreTimeout()

	issuer := session.NewIssuer(cfg.Security.JWT.Secret, cfg.Session.TTL())

	sweepLog := log.With("component", "session_sweep")
	sweeper := &session.Sweeper{
		Repo:      session.NewSQLiteRepository(db.DB),
		Interval:  time.Hour,
		Retention: 24 * time.Hour,
		OnSweep: func(n int64, err error) {
			if err != nil {
				sweepLog.Warn("expired session sweep failed", "error", err)
				return
			}
			if n > 0 {
				sweepLog.Info("expired sessions deleted", "count", n)
			}
		},
	}
	go sweeper.Run(ctx)

	engine := admission.NewEngine(db.DB, admission.Config{
		Limits:         limits,
		ApprovalWindow: cfg.Admission.ApprovalWindow(),
		StoreTimeout:   storeTimeout,
	}, issuer)
	engine.SetLogger(log.With("component", "admission"))

	workflow := devicerequest.NewWorkflow(db.DB, limits, storeTimeout)
	workflow.SetLogger(log.With("component", "devicerequest"))

	deps := api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Security:     cfg.Security,
		TicketTTL:    cfg.Ephemeral.TicketTTLDuration(),
		StoreTimeout: storeTimeout,
		Limits:       limits,
		Logger:       log,
		DB:           db,
		Engine:       engine,
		Workflow:     workflow,
		Issuer:       issuer,
		Logout:       session.NewHandler(db.DB, limits, storeTimeout),
		Tickets:      tickets,
		Version:      version,
	}
	// Interfaces only get the clients that exist, so a nil pointer never
	// hides behind a non-nil interface.
	if mqttClient != nil {
		engine.SetPublisher(mqttClient)
		deps.MQTT = mqttClient
	}
	if influxClient != nil {
		engine.SetMetrics(influxClient)
		deps.Metrics = influxClient
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, InfluxDB, MQTT, ticket store, database.

	log.Info("Wagerline Core stopped")
	return nil
}

// getConfigPath returns the configuration file path: the -config flag,
// then WAGERLINE_CONFIG, then the default.
func getConfigPath(opts options) string {
	if opts.configPath != "" {
		return opts.configPath
	}
	if path := os.Getenv("WAGERLINE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheckTimeout bounds the startup health probes.
const healthCheckTimeout = 5 * time.Second

// healthCheck verifies infrastructure connections. mqttClient and
// influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

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
