// Device Server - control and notification server for a single device
//
// This is the main entry point of the device server. It loads the device
// description, connects to the MQTT broker, serves discovery and control
// requests for the device's streams and options, and announces the device
// over MQTT and mDNS until it receives a shutdown signal.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/gray-logic-devserver/migrations"

	"github.com/nerrad567/gray-logic-devserver/internal/broadcast"
	"github.com/nerrad567/gray-logic-devserver/internal/control"
	"github.com/nerrad567/gray-logic-devserver/internal/description"
	"github.com/nerrad567/gray-logic-devserver/internal/flexible"
	"github.com/nerrad567/gray-logic-devserver/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-devserver/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-devserver/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-devserver/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-devserver/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-devserver/internal/journal"
	"github.com/nerrad567/gray-logic-devserver/internal/server"
	"github.com/nerrad567/gray-logic-devserver/internal/telemetry"
	"github.com/nerrad567/gray-logic-devserver/internal/transport"
	"github.com/nerrad567/gray-logic-devserver/internal/transport/mqttbus"
)

// Build metadata, stamped with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when DEVSERVER_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// metricsPrefix namespaces the dispatcher metrics.
	metricsPrefix = "devserver"

	metricsShutdownTimeout = 5 * time.Second
	metricsReadTimeout     = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "deviceserver: %v\n", err)
		os.Exit(1)
	}
}

// run serves the configured device until ctx is cancelled, then withdraws
// the announcement and closes everything it opened in reverse order.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting device server",
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

	log = logging.New(cfg.Logging, version).Device(cfg.Device.TopicRoot)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	desc, err := description.Load(cfg.Device.DescriptionFile)
	if err != nil {
		return fmt.Errorf("loading device description: %w", err)
	}
	streams, deviceOptions, extrinsics := desc.Build()
	log.Info("device description loaded",
		"path", cfg.Device.DescriptionFile,
		"streams", len(streams),
		"device_options", len(deviceOptions),
	)

	var (
		observers        []control.OptionObserver
		requestObservers []server.RequestObserver
	)

	// Open the option journal (optional)
	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.Open(database.FromConfig(cfg.Database))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		applied, migrateErr := db.Migrate(ctx)
		if migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		schemaVersion, versionErr := db.SchemaVersion(ctx)
		if versionErr != nil {
			return fmt.Errorf("reading schema version: %w", versionErr)
		}
		log.Info("database ready", "path", db.Path(), "schema_version", schemaVersion, "migrations_applied", applied)

		j := journal.New(journal.NewSQLiteRepository(db.DB, cfg.Device.TopicRoot))
		j.SetLogger(log.Component("journal"))

		restored, restoreErr := j.Restore(ctx, deviceOptions, streams)
		if restoreErr != nil {
			return fmt.Errorf("restoring option values: %w", restoreErr)
		}
		if retention := cfg.GetJournalRetention(); retention > 0 {
			pruned, pruneErr := j.Repository().Prune(ctx, time.Now().Add(-retention))
			if pruneErr != nil {
				log.Warn("pruning option history failed", "error", pruneErr)
			} else if pruned > 0 {
				log.Info("pruned option history", "entries", pruned, "retention", retention)
			}
		}

		observers = append(observers, j)
		log.Info("option journal ready", "restored", restored)
	} else {
		log.Info("option journal disabled")
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(ctx, cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Telemetry is optional.
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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
		recorder := telemetry.NewRecorder(influxClient, cfg.Device.TopicRoot)
		observers = append(observers, recorder)
		requestObservers = append(requestObservers, recorder)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	format, err := flexible.ParseFormat(cfg.Notification.Format)
	if err != nil {
		return fmt.Errorf("notification format: %w", err)
	}
	participant := mqttbus.New(mqttClient,
		mqttbus.WithFormat(format),
		mqttbus.WithSettings(transport.Settings(cfg.Device.Settings)),
		mqttbus.WithLogger(log.Component("mqttbus")),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	dispatcherOpts := []control.DispatcherOption{
		control.WithWorkers(cfg.Control.Workers),
		control.WithQueueSize(cfg.Control.QueueSize),
	}
	if cfg.Metrics.Enabled {
		dispatcherOpts = append(dispatcherOpts, control.WithMetrics(reg, metricsPrefix))
	}

	var announcer atomic.Pointer[broadcast.MQTT]
	srv, err := server.New(participant, cfg.Device.TopicRoot,
		server.WithLogger(log.Component("server")),
		server.WithOptionObservers(observers...),
		server.WithDispatcherOptions(dispatcherOpts...),
		server.WithRequestObservers(requestObservers...),
		server.WithBroadcasterFactory(newBroadcasterFactory(cfg, mqttClient, &announcer, log)),
	)
	if err != nil {
		return fmt.Errorf("creating device server: %w", err)
	}
	defer func() {
		log.Info("closing device server")
		if closeErr := srv.Close(cfg.GetStopTimeout()); closeErr != nil {
			log.Error("error closing device server", "error", closeErr)
		}
	}()

	if err := srv.Init(streams, deviceOptions, extrinsics); err != nil {
		return fmt.Errorf("initialising device server: %w", err)
	}
	log.Info("device server initialised",
		"topic_root", srv.TopicRoot(),
		"guid", srv.GUID(),
	)

	// The device-info topic is retained, but a broker restart may lose it.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		if a := announcer.Load(); a != nil {
			if announceErr := a.Announce(); announceErr != nil {
				log.Warn("re-announcing device info", "error", announceErr)
			}
		}
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if err := srv.Broadcast(deviceInfo(cfg)); err != nil {
		return fmt.Errorf("broadcasting device: %w", err)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics, reg, log)
		})
	}

	log.Info("device server running", "topic_root", srv.TopicRoot())
	<-gctx.Done()

	log.Info("shutting down")

	disconnectCtx, cancel := context.WithTimeout(context.Background(), cfg.GetStopTimeout())
	if err := srv.BroadcastDisconnect(disconnectCtx); err != nil {
		log.Warn("withdrawing device announcement", "error", err)
	}
	cancel()

	if err := g.Wait(); err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}

	// Deferred closes follow: device server, InfluxDB, MQTT, then the
	// journal database.
	log.Info("device server stopped")
	return nil
}

// getConfigPath returns $DEVSERVER_CONFIG, or configs/config.yaml.
func getConfigPath() string {
	if path := os.Getenv("DEVSERVER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// deviceInfo builds the announced device identity from configuration.
func deviceInfo(cfg *config.Config) broadcast.DeviceInfo {
	name := cfg.Device.Name
	if name == "" {
		name = cfg.Device.TopicRoot
	}
	return broadcast.DeviceInfo{
		Name:        name,
		TopicRoot:   cfg.Device.TopicRoot,
		Serial:      cfg.Device.Serial,
		ProductLine: cfg.Device.ProductLine,
	}
}

// newBroadcasterFactory combines the enabled broadcasters into one.
//
// The MQTT broadcaster is stored in announcer so reconnects can re-publish
// the retained device info.
func newBroadcasterFactory(cfg *config.Config, pub broadcast.Publisher, announcer *atomic.Pointer[broadcast.MQTT], log *logging.Logger) server.BroadcasterFactory {
	return func(info broadcast.DeviceInfo, onAck func()) (broadcast.Broadcaster, error) {
		var factories []broadcast.Factory

		if cfg.Broadcast.MQTT.Enabled {
			topic := mqtt.Topics{Namespace: cfg.MQTT.Namespace}.DeviceInfo(info.TopicRoot)
			factories = append(factories, func(info broadcast.DeviceInfo, onAck func()) (broadcast.Broadcaster, error) {
				b, err := broadcast.NewMQTT(pub, topic, info, onAck,
					broadcast.WithMQTTLogger(log.Component("broadcast")),
					broadcast.WithQoS(byte(cfg.MQTT.QoS)), //nolint:gosec // qos validated to 0-2
				)
				if err != nil {
					return nil, err
				}
				announcer.Store(b)
				return b, nil
			})
		}

		if cfg.Broadcast.MDNS.Enabled {
			mdnsCfg := broadcast.MDNSConfig{
				Service:   cfg.Broadcast.MDNS.Service,
				Port:      cfg.Broadcast.MDNS.Port,
				Interface: cfg.Broadcast.MDNS.Interface,
				TTL:       cfg.GetMDNSTTL(),
			}
			factories = append(factories, func(info broadcast.DeviceInfo, onAck func()) (broadcast.Broadcaster, error) {
				b, err := broadcast.NewMDNS(mdnsCfg, info, onAck)
				if err != nil {
					return nil, err
				}
				return b, nil
			})
		}

		m, err := broadcast.NewMulti(info, onAck, factories...)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

// serveMetrics exposes the Prometheus registry until ctx is cancelled.
func serveMetrics(ctx context.Context, cfg config.MetricsConfig, reg *prometheus.Registry, log *logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics server listening", "addr", cfg.Listen, "path", cfg.Path)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// healthCheck checks every backend the device server opened; db and
// influxClient are nil when their feature is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("journal database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
